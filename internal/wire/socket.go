package wire

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSocketClosed is returned by operations on a Socket after Close.
var ErrSocketClosed = errors.New("socket closed")

// Socket is a client connection that can be closed at most once. Whichever
// side finishes the response closes it; later closes are harmless and report
// ErrSocketClosed.
type Socket struct {
	conn    net.Conn
	closed  atomic.Bool
	written atomic.Int64
	once    sync.Once
	err     error
}

// NewSocket takes ownership of conn.
func NewSocket(conn net.Conn) *Socket {
	return &Socket{conn: conn}
}

// Conn returns the underlying connection.
func (s *Socket) Conn() net.Conn { return s.conn }

// RemoteAddr returns the peer address, or "" when unknown.
func (s *Socket) RemoteAddr() string {
	if a := s.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Closed reports whether Close has been called.
func (s *Socket) Closed() bool { return s.closed.Load() }

func (s *Socket) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrSocketClosed
	}
	return s.conn.Read(p)
}

func (s *Socket) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrSocketClosed
	}
	n, err := s.conn.Write(p)
	s.written.Add(int64(n))
	return n, err
}

// Written reports how many bytes have been written to the connection.
func (s *Socket) Written() int64 { return s.written.Load() }

// WriteString writes str and returns the number of bytes written.
func (s *Socket) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// SetReadDeadline forwards to the connection. A zero t clears the deadline.
func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close closes the connection the first time it is called.
func (s *Socket) Close() error {
	first := false
	s.once.Do(func() {
		first = true
		s.closed.Store(true)
		s.err = s.conn.Close()
	})
	if !first {
		return ErrSocketClosed
	}
	return s.err
}
