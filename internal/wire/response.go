package wire

import (
	"fmt"
	"io"
	"strconv"
)

// Status is an HTTP status code with the reason phrase the server sends.
type Status int

const (
	StatusOK                 Status = 200
	StatusNotFound           Status = 404
	StatusTeapot             Status = 418
	StatusError              Status = 500
	StatusNotImplemented     Status = 501
	StatusServiceUnavailable Status = 503
)

// Text returns the reason phrase written on the status line.
func (s Status) Text() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "Resource Not Found"
	case StatusTeapot:
		return "I'm a teapot"
	case StatusError, StatusNotImplemented:
		return "ERROR"
	case StatusServiceUnavailable:
		return "Service Unavailable"
	}
	return "Unknown"
}

func (s Status) String() string {
	return strconv.Itoa(int(s)) + " " + s.Text()
}

// Header renders the status line and the two headers the server emits,
// terminated by the blank line.
func Header(status Status, contentType string, length int64) string {
	return fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-type: %s\r\nContent-Length: %d\r\n\r\n",
		int(status), status.Text(), contentType, length)
}

// WriteHeader writes only the header block; the caller streams the body.
func WriteHeader(w io.Writer, status Status, contentType string, length int64) error {
	_, err := io.WriteString(w, Header(status, contentType, length))
	return err
}

// WriteResponse writes a complete response with a small in-memory body in a
// single write.
func WriteResponse(w io.Writer, status Status, contentType, body string) error {
	_, err := io.WriteString(w, Header(status, contentType, int64(len(body)))+body)
	return err
}
