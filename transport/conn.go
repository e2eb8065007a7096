package transport

import (
	"errors"
	"net"
	"time"
)

// ErrHalfCloseUnsupported indicates the connection cannot shut down its
// write side, which a store needs to mark the end of its payload.
var ErrHalfCloseUnsupported = errors.New("connection does not support half-close")

// closeWriter is implemented by *net.TCPConn and *net.UnixConn.
type closeWriter interface {
	CloseWrite() error
}

// IdleConn is a net.Conn whose every Read and Write must make progress
// within the idle timeout. A stalled peer fails the operation with a
// timeout error instead of holding the connection forever.
type IdleConn struct {
	net.Conn
	timeout time.Duration
}

// WithIdleTimeout wraps conn so each Read and Write gets a fresh deadline
// of timeout. A zero timeout returns conn unchanged.
func WithIdleTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &IdleConn{Conn: conn, timeout: timeout}
}

func (c *IdleConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *IdleConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// CloseWrite shuts down the write side of the wrapped connection.
func (c *IdleConn) CloseWrite() error {
	return CloseWrite(c.Conn)
}

// CloseWrite shuts down the write side of conn so the peer reads end of
// stream while conn can still receive.
func CloseWrite(conn net.Conn) error {
	if cw, ok := conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return newOpError("close-write", conn.RemoteAddr().String(), ErrHalfCloseUnsupported)
}
