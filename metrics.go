package tlschannel

import "sync/atomic"

// Metrics tracks per-Channel statistics. Channel calls the Increment*
// methods; a collector reads them back via the Get* methods. The shape
// mirrors the teacher repository's own Metrics interface, generalized from
// storage-transaction counters to wrap/unwrap/handshake counters.
type Metrics interface {
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)
	IncrementHandshake()
	IncrementRenegotiation()
	IncrementCloseNotify()

	GetBytesSent() int64
	GetBytesReceived() int64
	GetHandshakeCount() int64
	GetRenegotiationCount() int64
	GetCloseNotifyCount() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	bytesSent          int64
	bytesReceived      int64
	handshakes         int64
	renegotiations     int64
	closeNotifications int64
}

// NewDefaultMetrics creates a DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementBytesSent(n int64)     { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }
func (m *DefaultMetrics) IncrementHandshake()            { atomic.AddInt64(&m.handshakes, 1) }
func (m *DefaultMetrics) IncrementRenegotiation()         { atomic.AddInt64(&m.renegotiations, 1) }
func (m *DefaultMetrics) IncrementCloseNotify()           { atomic.AddInt64(&m.closeNotifications, 1) }

func (m *DefaultMetrics) GetBytesSent() int64          { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64      { return atomic.LoadInt64(&m.bytesReceived) }
func (m *DefaultMetrics) GetHandshakeCount() int64     { return atomic.LoadInt64(&m.handshakes) }
func (m *DefaultMetrics) GetRenegotiationCount() int64 { return atomic.LoadInt64(&m.renegotiations) }
func (m *DefaultMetrics) GetCloseNotifyCount() int64   { return atomic.LoadInt64(&m.closeNotifications) }

// nopMetrics discards everything; it is the Channel default so callers who
// don't care about metrics pay no bookkeeping cost beyond a nil-checked
// interface call.
type nopMetrics struct{}

// NewNopMetrics returns a Metrics implementation that discards all counts.
func NewNopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) IncrementBytesSent(int64)     {}
func (nopMetrics) IncrementBytesReceived(int64) {}
func (nopMetrics) IncrementHandshake()          {}
func (nopMetrics) IncrementRenegotiation()       {}
func (nopMetrics) IncrementCloseNotify()        {}
func (nopMetrics) GetBytesSent() int64          { return 0 }
func (nopMetrics) GetBytesReceived() int64      { return 0 }
func (nopMetrics) GetHandshakeCount() int64     { return 0 }
func (nopMetrics) GetRenegotiationCount() int64 { return 0 }
func (nopMetrics) GetCloseNotifyCount() int64   { return 0 }
