package tlschannel

import (
	"errors"
	"net"
	"time"
)

// NonBlockingConn adapts a net.Conn with a read/write deadline into the
// ErrWouldBlock convention Channel expects from its transports, the same
// role the teacher's own Transport interface plays over an Azure HTTP
// client: callers there get ErrNoData on an empty poll, callers here get
// ErrWouldBlock on a deadline-exceeded read or write.
//
// A zero-value NonBlockingConn with Conn set behaves as a blocking
// passthrough; set PollTimeout to opt into non-blocking semantics.
type NonBlockingConn struct {
	Conn net.Conn

	// PollTimeout, when nonzero, is applied as a read/write deadline before
	// every operation so a stalled peer surfaces as ErrWouldBlock instead of
	// blocking the calling goroutine indefinitely.
	PollTimeout time.Duration
}

// NewNonBlockingConn wraps conn so its Read/Write map deadline timeouts to
// ErrWouldBlock, suitable for passing to NewChannelConn.
func NewNonBlockingConn(conn net.Conn, pollTimeout time.Duration) *NonBlockingConn {
	return &NonBlockingConn{Conn: conn, PollTimeout: pollTimeout}
}

func (c *NonBlockingConn) Read(p []byte) (int, error) {
	if c.PollTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.PollTimeout))
	}
	n, err := c.Conn.Read(p)
	if err != nil && isTimeout(err) {
		return n, ErrWouldBlock
	}
	return n, err
}

func (c *NonBlockingConn) Write(p []byte) (int, error) {
	if c.PollTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.PollTimeout))
	}
	n, err := c.Conn.Write(p)
	if err != nil && isTimeout(err) {
		return n, ErrWouldBlock
	}
	return n, err
}

// Close implements io.Closer so Channel.Close can reach the underlying
// net.Conn.
func (c *NonBlockingConn) Close() error { return c.Conn.Close() }

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
