package server

import (
	"net"
	"sync"
	"time"

	"github.com/JYehhh/tessenger/pkg/protocol"
)

// SafeConn serializes writes to a client connection. A session's own replies
// and pushes from other sessions share one socket; without the lock the JSON
// lines could interleave mid-envelope.
type SafeConn struct {
	conn         net.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeMu sync.Mutex
	closed  bool
}

// NewSafeConn wraps conn with write serialization and a per-write deadline.
func NewSafeConn(conn net.Conn, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{conn: conn, writeTimeout: writeTimeout}
}

// WriteResponse writes one envelope under the write lock, bounded by the
// write deadline. A slow or dead peer surfaces as a timeout error rather
// than stalling the sender.
func (c *SafeConn) WriteResponse(resp *protocol.Response) error {
	buf, err := resp.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err = c.conn.Write(buf)
	return err
}

// Close closes the underlying connection. Safe to call more than once.
func (c *SafeConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *SafeConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
