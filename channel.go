// Package tlschannel wraps a raw bidirectional byte transport and an
// externally supplied cryptographic Engine into a single byte-channel
// interface that transparently encrypts outgoing data and decrypts incoming
// data, driving the engine's handshake, renegotiation and half-close
// protocol along the way. The engine owns every cryptographic decision
// (cipher suites, certificate or key validation, key exchange); this
// package only orchestrates the engine against the transport.
package tlschannel

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Channel is a non-blocking-aware encrypted byte channel built on top of an
// Engine and a pair of raw transport halves. A single net.Conn (or any
// io.ReadWriter) may serve as both halves via NewChannelConn; independent
// halves may be supplied via NewChannel.
//
// Channel is safe for concurrent use: a reader and a writer may proceed in
// parallel, while concurrent Read calls are serialized by readLock and
// concurrent Write calls by writeLock.
type Channel struct {
	readTransport  io.Reader
	writeTransport io.Writer
	engine         Engine

	// inboundEncrypted is the caller-supplied scratch buffer ciphertext is
	// read into; it must have capacity >= MaxRecordSize (§6).
	inboundEncrypted *nioBuffer
	// inboundPlain holds plaintext the engine has produced but the caller
	// has not yet drained via Read.
	inboundPlain *nioBuffer
	// outboundEncrypted holds a single wrapped record awaiting a full
	// flush to the write transport.
	outboundEncrypted *nioBuffer

	sessionCallback func(Session)
	metrics         Metrics
	logger          *zap.Logger

	// Lock hierarchy: initLock -> readLock -> writeLock. The handshake
	// loop holds both readLock and writeLock; readers upgrade by
	// acquiring writeLock while already holding readLock when a
	// peer-initiated (re)negotiation is discovered mid-read.
	initLock  sync.Mutex
	readLock  sync.Mutex
	writeLock sync.Mutex

	initialHandshaked atomic.Bool
	invalid           atomic.Bool
	tlsClosePending   atomic.Bool
	closed            atomic.Bool
}

// ChannelOption configures optional, ambient behavior of a Channel:
// metrics, logging, the session-established callback. The cryptographic
// and transport wiring itself is not optional and is passed directly to
// NewChannel/NewChannelConn.
type ChannelOption func(*Channel)

// WithSessionCallback registers a callback invoked exactly once, after the
// initial handshake completes, with the engine's session descriptor.
func WithSessionCallback(cb func(Session)) ChannelOption {
	return func(c *Channel) { c.sessionCallback = cb }
}

// WithMetrics injects a Metrics sink; nil is ignored.
func WithMetrics(m Metrics) ChannelOption {
	return func(c *Channel) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger injects a structured logger; nil is ignored.
func WithLogger(l *zap.Logger) ChannelOption {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewChannel builds a Channel over independent read and write transport
// halves. inboundEncryptedBuf is adopted as the scratch space ciphertext is
// read into and must have capacity >= MaxRecordSize.
func NewChannel(readTransport io.Reader, writeTransport io.Writer, engine Engine, inboundEncryptedBuf []byte, opts ...ChannelOption) (*Channel, error) {
	if readTransport == nil || writeTransport == nil {
		return nil, errors.New("tlschannel: readTransport and writeTransport must not be nil")
	}
	if engine == nil {
		return nil, errors.New("tlschannel: engine must not be nil")
	}
	if len(inboundEncryptedBuf) < MaxRecordSize {
		return nil, ErrBufferTooSmall
	}

	c := &Channel{
		readTransport:     readTransport,
		writeTransport:    writeTransport,
		engine:            engine,
		inboundEncrypted:  wrapNioBuffer(inboundEncryptedBuf),
		inboundPlain:      newNioBuffer(MaxDataSize),
		outboundEncrypted: newNioBuffer(MaxRecordSize),
		metrics:           NewNopMetrics(),
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewChannelConn is the common-case convenience constructor where a single
// io.ReadWriter (typically a net.Conn) serves as both transport halves.
func NewChannelConn(conn io.ReadWriter, engine Engine, inboundEncryptedBuf []byte, opts ...ChannelOption) (*Channel, error) {
	return NewChannel(conn, conn, engine, inboundEncryptedBuf, opts...)
}

// Read drains any buffered plaintext into dst, driving the engine and
// transport as needed to produce more. It returns 0 if dst has no
// remaining capacity, and io.EOF on a clean end of stream (transport
// end-of-stream or a received close-notify with no buffered plaintext
// remaining).
func (c *Channel) Read(dst []byte) (int, error) {
	if dst == nil {
		return 0, ErrNilBuffer
	}
	if len(dst) == 0 {
		return 0, nil
	}
	if c.invalid.Load() {
		return 0, io.EOF
	}
	if err := c.doInitialHandshake(); err != nil {
		return 0, err
	}

	c.readLock.Lock()
	defer c.readLock.Unlock()

	for {
		if c.invalid.Load() {
			return 0, io.EOF
		}

		if c.inboundPlain.pos > 0 {
			c.inboundPlain.flip()
			n := c.inboundPlain.get(dst)
			c.inboundPlain.compact()
			if n > 0 {
				return n, nil
			}
		}

		if c.tlsClosePending.Load() {
			c.writeLock.Lock()
			_ = c.closeLocked()
			c.writeLock.Unlock()
			return 0, io.EOF
		}

		switch c.engine.HandshakeStatus() {
		case NeedWrap, NeedUnwrap:
			c.writeLock.Lock()
			err := c.handshakeLoop(false)
			c.writeLock.Unlock()
			if err != nil {
				return 0, err
			}
			continue
		}

		if err := c.unwrapLoop(NotHandshaking); err != nil {
			if errors.Is(err, errInternalEOF) {
				c.invalid.Store(true)
				return 0, io.EOF
			}
			return 0, err
		}

		if c.inboundPlain.pos > 0 {
			continue
		}
		if !handshakeStatusMatches(c.engine.HandshakeStatus(), NotHandshaking) {
			continue
		}

		if err := c.fillInbound(); err != nil {
			if errors.Is(err, io.EOF) {
				c.invalid.Store(true)
				return 0, io.EOF
			}
			return 0, err
		}
	}
}

// Write encrypts and sends src. Against a blocking transport it returns
// len(src) or a fatal error. Against a non-blocking transport it returns
// the number of bytes consumed before the transport stalled, or fails with
// ErrNeedsWrite if zero bytes could be consumed.
func (c *Channel) Write(src []byte) (int, error) {
	if src == nil {
		return 0, ErrNilBuffer
	}
	if len(src) == 0 {
		return 0, nil
	}
	if c.invalid.Load() {
		return 0, ErrClosed
	}
	if err := c.doInitialHandshake(); err != nil {
		return 0, err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if c.invalid.Load() {
		return 0, ErrClosed
	}

	return c.writeLoop(wrapNioBuffer(src))
}

// DoHandshake drives the initial handshake if it has not already run. It is
// idempotent: a second call is a no-op.
func (c *Channel) DoHandshake() error {
	return c.doInitialHandshake()
}

// Renegotiate forces a new active handshake, first driving the initial
// handshake if it has not yet run.
func (c *Channel) Renegotiate() error {
	if err := c.doInitialHandshake(); err != nil {
		return err
	}

	c.readLock.Lock()
	defer c.readLock.Unlock()
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if c.invalid.Load() {
		return ErrClosed
	}
	if c.metrics != nil {
		c.metrics.IncrementRenegotiation()
	}
	return c.handshakeLoop(true)
}

// DoPassiveHandshake drives a handshake initiated by the peer to
// completion (or to the point where plaintext has accumulated and the
// caller should switch to Read). Like doInitialHandshake, it is idempotent
// and marks the channel as having completed its initial handshake on
// success, so a later Read/Write does not redundantly start an active
// handshake of its own.
func (c *Channel) DoPassiveHandshake() error {
	if c.initialHandshaked.Load() {
		return nil
	}
	c.initLock.Lock()
	defer c.initLock.Unlock()
	if c.initialHandshaked.Load() {
		return nil
	}
	if c.invalid.Load() {
		return ErrClosed
	}

	c.readLock.Lock()
	c.writeLock.Lock()
	err := c.handshakeLoop(false)
	c.writeLock.Unlock()
	c.readLock.Unlock()
	if err != nil {
		return err
	}

	if c.sessionCallback != nil {
		c.sessionCallback(c.engine.Session())
	}
	c.initialHandshaked.Store(true)
	return nil
}

// Close is idempotent: it attempts a best-effort close-notify, then closes
// both transport halves, swallowing any errors from either step.
func (c *Channel) Close() error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.closeLocked()
}

// closeLocked assumes the write lock is already held.
func (c *Channel) closeLocked() error {
	if !c.invalid.Swap(true) {
		if err := c.engine.CloseOutbound(); err == nil {
			if c.engine.HandshakeStatus() == NeedWrap {
				_, wrapErr := c.engine.Wrap(emptyBuffer, c.outboundEncrypted)
				if wrapErr == nil {
					_ = c.flushOutbound()
				}
			}
		}
	}

	if closer, ok := c.readTransport.(io.Closer); ok {
		_ = closer.Close()
	}
	if wc, ok := c.writeTransport.(io.Closer); ok {
		var rc io.Closer
		if v, ok := c.readTransport.(io.Closer); ok {
			rc = v
		}
		if rc == nil || wc != rc {
			_ = wc.Close()
		}
	}
	c.closed.Store(true)
	return nil
}

// IsOpen reports whether Close has run yet. It does not reflect transport-
// level asynchronous teardown the adapter cannot observe.
func (c *Channel) IsOpen() bool {
	return !c.closed.Load()
}

// Session returns the engine's current session descriptor.
func (c *Channel) Session() Session {
	return c.engine.Session()
}

func (c *Channel) doInitialHandshake() error {
	if c.initialHandshaked.Load() {
		return nil
	}
	c.initLock.Lock()
	defer c.initLock.Unlock()
	if c.initialHandshaked.Load() {
		return nil
	}
	if c.invalid.Load() {
		return ErrClosed
	}

	c.readLock.Lock()
	c.writeLock.Lock()
	err := c.handshakeLoop(true)
	c.writeLock.Unlock()
	c.readLock.Unlock()
	if err != nil {
		return err
	}

	if c.sessionCallback != nil {
		c.sessionCallback(c.engine.Session())
	}
	c.initialHandshaked.Store(true)
	return nil
}
