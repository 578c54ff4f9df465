// Package wire implements the minimal HTTP/1.1 surface the server speaks:
// reading a request line, validating its parts, and writing hand-built
// responses onto a connection that is closed exactly once.
package wire

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	// MethodLimit is the number of method bytes kept; the rest is dropped.
	MethodLimit = 100
	// URILimit is the number of URI bytes kept; the rest is dropped.
	URILimit = 4096
)

// RequestLine holds the two parts of a request line the server cares about.
type RequestLine struct {
	Method string
	URI    string
}

// ReadRequestLine reads "METHOD URI ..." up to the end of the line. Bytes past
// MethodLimit or URILimit are discarded rather than rejected, and everything
// after the URI (protocol version) is skipped. Headers are never read.
//
// It returns io.EOF only when the peer sent nothing at all. A line cut short
// by EOF is returned as far as it got.
func ReadRequestLine(r *bufio.Reader) (RequestLine, error) {
	var line RequestLine

	method, stop, n, err := readField(r, MethodLimit)
	if err != nil {
		if errors.Is(err, io.EOF) && n > 0 {
			line.Method = method
			return line, nil
		}
		return line, err
	}
	line.Method = method
	if stop == '\n' {
		return line, nil
	}

	uri, stop, _, err := readField(r, URILimit)
	line.URI = uri
	if err != nil {
		if errors.Is(err, io.EOF) {
			return line, nil
		}
		return line, err
	}
	if stop == '\n' {
		return line, nil
	}

	if _, err := r.ReadSlice('\n'); err != nil {
		// Discard anything up to the line end, in pieces if the buffer fills.
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return line, err
		}
	}
	return line, nil
}

// readField reads until a space or newline, keeping at most limit bytes.
// It returns the kept text, the byte that stopped it, and the total number of
// bytes consumed.
func readField(r *bufio.Reader, limit int) (string, byte, int, error) {
	var sb strings.Builder
	n := 0
	for {
		c, err := r.ReadByte()
		if err != nil {
			return strings.TrimSuffix(sb.String(), "\r"), 0, n, err
		}
		n++
		if c == ' ' || c == '\n' {
			return strings.TrimSuffix(sb.String(), "\r"), c, n, nil
		}
		if sb.Len() < limit {
			sb.WriteByte(c)
		}
	}
}

// NormalizeURI strips leading slashes and substitutes index for an empty
// result.
func NormalizeURI(uri, index string) string {
	uri = strings.TrimLeft(uri, "/")
	if uri == "" {
		return index
	}
	return uri
}

// StripQuery returns the part of uri before the first '?'.
func StripQuery(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

// ValidateMethod reports whether method is a non-empty run of A-Z.
func ValidateMethod(method string) bool {
	if method == "" {
		return false
	}
	for i := 0; i < len(method); i++ {
		if method[i] < 'A' || method[i] > 'Z' {
			return false
		}
	}
	return true
}

func isURIChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

// ValidateURI reports whether uri names a resource: segments of
// [a-zA-Z0-9_-] joined by single slashes, then either a '.' and a non-empty
// extension of the same class or a '?'. Anything after '?' is accepted.
// Leading slashes are ignored.
func ValidateURI(uri string) bool {
	uri = strings.TrimLeft(uri, "/")
	var prev byte
	for i := 0; i < len(uri); i++ {
		c := uri[i]
		switch {
		case isURIChar(c):
		case c == '/':
			if prev == '/' {
				return false
			}
		case c == '?':
			return isURIChar(prev)
		case c == '.':
			if !isURIChar(prev) {
				return false
			}
			return validExtension(uri[i+1:])
		default:
			return false
		}
		prev = c
	}
	return false
}

func validExtension(s string) bool {
	n := 0
	for ; n < len(s); n++ {
		if s[n] == '?' {
			break
		}
		if !isURIChar(s[n]) {
			return false
		}
	}
	return n > 0
}
