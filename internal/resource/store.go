// Package resource resolves resource names against a read-only file tree.
//
// A Store answers four questions about a name: how big it is, what content
// type it carries, what its bytes are (streamed), and what its text is
// (materialized). It never caches; every call goes back to the file system.
package resource

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Executable is the content type reported for script-backed resources.
const Executable = "execute"

// DefaultContentType is used for unknown extensions.
const DefaultContentType = "text/plain"

const chunkSize = 4096

var contentTypes = map[string]string{
	"html":   "text/html",
	"htm":    "text/html",
	"css":    "text/css",
	"js":     "application/javascript",
	"json":   "application/json",
	"svg":    "image/svg+xml",
	"ico":    "image/x-icon",
	"png":    "image/png",
	"jpg":    "image/jpeg",
	"jpeg":   "image/jpeg",
	"gif":    "image/gif",
	"txt":    "text/plain",
	"server": Executable,
}

// Store is safe for concurrent use.
type Store struct {
	fsys   fs.FS
	logger zerolog.Logger
}

// New returns a Store rooted at the directory root.
func New(root string, logger zerolog.Logger) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("resource root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("resource root %q is not a directory", root)
	}
	return NewFS(os.DirFS(root), logger), nil
}

// NewFS returns a Store over an arbitrary file system.
func NewFS(fsys fs.FS, logger zerolog.Logger) *Store {
	return &Store{
		fsys:   fsys,
		logger: logger.With().Str("component", "resource").Logger(),
	}
}

// FS exposes the underlying file system.
func (s *Store) FS() fs.FS { return s.fsys }

// Size returns the byte size of a regular file, or -1 if the name is invalid,
// missing or not a regular file.
func (s *Store) Size(name string) int64 {
	if !fs.ValidPath(name) {
		return -1
	}
	info, err := fs.Stat(s.fsys, name)
	if err != nil || !info.Mode().IsRegular() {
		return -1
	}
	return info.Size()
}

// ContentType maps the extension of name (ignoring any query) to a content
// type. The match is case-sensitive. Names ending in ".server" map to
// Executable.
func (s *Store) ContentType(name string) string {
	return ContentType(name)
}

// ContentType is the package-level form of Store.ContentType.
func ContentType(name string) string {
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return DefaultContentType
	}
	if ct, ok := contentTypes[name[i+1:]]; ok {
		return ct
	}
	return DefaultContentType
}

// WriteTo streams the resource to w in fixed-size chunks.
func (s *Store) WriteTo(name string, w io.Writer) error {
	if !fs.ValidPath(name) {
		return fmt.Errorf("open %s: %w", name, fs.ErrInvalid)
	}
	f, err := s.fsys.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write %s: %w", name, werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read %s: %w", name, rerr)
		}
	}
}

// ReadAll returns the whole content of the resource, or "" if it cannot be
// read. Failures are logged.
func (s *Store) ReadAll(name string) string {
	if !fs.ValidPath(name) {
		s.logger.Error().Str("resource", name).Msg("invalid resource name")
		return ""
	}
	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		s.logger.Error().Err(err).Str("resource", name).Msg("failed to read resource")
		return ""
	}
	return string(data)
}
