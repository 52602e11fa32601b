package tlschannel

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// DefaultConnectTimeout is the maximum duration a dial waits for the TCP
	// handshake (not the Noise handshake) to complete.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultIdleTimeout is the read/write deadline Dial applies to the
	// connection via NonBlockingConn when a caller asks for non-blocking
	// semantics but doesn't specify one.
	DefaultIdleTimeout = 5 * time.Minute
)

// DialOption configures Dial, generalized from the teacher's own
// functional-options Config — the Azure-specific endpoint/prefix/SAS knobs
// are gone (there's no storage bootstrap phase here), but the shape and the
// zero-value-yields-defaults contract are unchanged.
type DialOption func(*DialConfig)

// DialConfig holds the settings Dial uses to establish a raw TCP connection
// before wrapping it in a Channel.
type DialConfig struct {
	ctx     context.Context
	cancel  context.CancelFunc
	metrics Metrics

	connectTimeout time.Duration
	idleTimeout    time.Duration
	nonBlocking    bool
}

func defaultDialConfig() *DialConfig {
	ctx, cancel := context.WithCancel(context.Background())
	return &DialConfig{
		ctx:            ctx,
		cancel:         cancel,
		metrics:        NewDefaultMetrics(),
		connectTimeout: DefaultConnectTimeout,
		idleTimeout:    DefaultIdleTimeout,
	}
}

// ApplyDialOptions builds a runtime DialConfig by applying opts on top of
// defaults.
func ApplyDialOptions(opts []DialOption) *DialConfig {
	cfg := defaultDialConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithConnectTimeout sets the maximum duration Dial waits for the TCP
// three-way handshake. Zero or negative values are ignored and leave
// DefaultConnectTimeout in place.
func WithConnectTimeout(d time.Duration) DialOption {
	return func(c *DialConfig) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithIdleTimeout sets the deadline applied to the dialed connection between
// reads, via NonBlockingConn. Takes effect only when WithNonBlocking is also
// set; zero or negative values are ignored and leave DefaultIdleTimeout in
// place.
func WithIdleTimeout(d time.Duration) DialOption {
	return func(c *DialConfig) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithNonBlocking wraps the dialed connection in a NonBlockingConn using the
// configured idle timeout, so Channel.Read/Write observe ErrWouldBlock
// instead of blocking indefinitely on a stalled peer.
func WithNonBlocking(enabled bool) DialOption {
	return func(c *DialConfig) { c.nonBlocking = enabled }
}

// WithDialContext sets the base context Dial uses for cancellation.
func WithDialContext(ctx context.Context) DialOption {
	return func(c *DialConfig) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}

// WithDialMetrics sets the Metrics instance the Channel built by Dial is
// constructed with.
func WithDialMetrics(m Metrics) DialOption {
	return func(c *DialConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Dial opens a TCP connection to addr, bounded by the configured connect
// timeout and context, and wraps it in a Channel built from engine and
// inboundEncryptedBuf. It is cmd/tlschannel-echo's on-ramp to the adapter,
// grounded in the teacher's own functional-options Dial helpers in
// aznet.go/options.go.
func Dial(addr string, engine Engine, inboundEncryptedBuf []byte, opts ...DialOption) (*Channel, error) {
	cfg := ApplyDialOptions(opts)
	defer cfg.cancel()

	d := net.Dialer{Timeout: cfg.connectTimeout}
	conn, err := d.DialContext(cfg.ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: dial %s: %w", addr, err)
	}

	var rw io.ReadWriter = conn
	if cfg.nonBlocking {
		rw = NewNonBlockingConn(conn, cfg.idleTimeout)
	}

	ch, err := NewChannel(rw, rw, engine, inboundEncryptedBuf, WithMetrics(cfg.metrics))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ch, nil
}
