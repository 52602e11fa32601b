package tlschannel

import (
	"errors"
	"fmt"

	"github.com/flynn/noise"
)

// noiseTagSize is the AES-GCM authentication tag Noise appends to every
// sealed message.
const noiseTagSize = 16

// defaultNoiseCipherSuite mirrors the teacher's package-level cipher suite:
// curve25519 key agreement, AES-GCM AEAD, SHA-256 hashing. It's immutable
// and safe to share across every NoiseEngine.
var defaultNoiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

var (
	// ErrNoiseInitFailed reports that the underlying Noise handshake state
	// could not be constructed.
	ErrNoiseInitFailed = errors.New("tlschannel: noise handshake initialization failed")
	// ErrUnexpectedRecordType reports a record whose type tag doesn't match
	// what the engine's current handshake phase expects.
	ErrUnexpectedRecordType = errors.New("tlschannel: unexpected record type")
)

// NoiseSession is the Session value a NoiseEngine hands back once its
// handshake finishes: the handshake hash a caller can use to bind the
// channel to an out-of-band identity check, same purpose as a TLS
// session's peer certificate but Noise has no certificates to offer.
type NoiseSession struct {
	HandshakeHash []byte
	Initiator     bool
}

// NoiseEngine is the concrete Engine built on the Noise Protocol Framework,
// grounded in the teacher's own crypto.go Noise wrapper — generalized here
// from a fixed client/server pair of helper constructors into the
// Wrap/Unwrap/HandshakeStatus shape the Engine interface requires, and with
// record typing (frame.go) added so handshake and data records can be told
// apart on an otherwise opaque ciphertext stream.
type NoiseEngine struct {
	initiator bool

	hs    *noise.HandshakeState
	tx    *noise.CipherState
	rx    *noise.CipherState
	state HandshakeStatus

	closeOutboundRequested bool
	closeSent              bool
	closeReceived          bool

	session *NoiseSession

	// pendingRecordType/pendingRecordLen hold a header peeked from an Unwrap
	// source once its whole record is buffered, so a retry after a
	// buffer-overflow doesn't re-parse it.
	havePending       bool
	pendingRecordType byte
	pendingRecordLen  int
}

// NewNoiseEngine constructs a NoiseEngine. initiator selects the NN pattern
// role (client vs server); both sides must agree on it out of band, same
// requirement the teacher's NewNoiseClient/NewNoiseServer pair impose.
func NewNoiseEngine(initiator bool) (*NoiseEngine, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: defaultNoiseCipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoiseInitFailed, err)
	}

	// A responder is always ready to receive the NN pattern's first message
	// without an explicit BeginHandshake call, so a server's first Read (or
	// DoPassiveHandshake) drives the handshake purely from the mid-loop
	// NeedWrap/NeedUnwrap detection. An initiator instead starts idle and
	// waits for BeginHandshake (DoHandshake/Renegotiate), since it must
	// decide when to speak first.
	state := NotHandshaking
	if !initiator {
		state = NeedUnwrap
	}
	return &NoiseEngine{
		initiator: initiator,
		hs:        hs,
		state:     state,
	}, nil
}

// BeginHandshake implements Engine. The initiator starts need-wrap (it owns
// message 1 of the NN pattern); the responder starts need-unwrap. Called
// again after a handshake has already finished, it re-arms a fresh Noise
// handshake state in the same role. On the initiator this starts a
// renegotiation (Channel.Renegotiate); on the responder it only re-arms and
// waits for the initiator's next message 1, since the NN pattern gives the
// responder no first message to send.
func (e *NoiseEngine) BeginHandshake() error {
	if e.tx != nil {
		if err := e.rearm(); err != nil {
			return err
		}
	}
	if e.initiator {
		e.state = NeedWrap
	} else {
		e.state = NeedUnwrap
	}
	return nil
}

// rearm replaces a finished handshake state with a fresh one in the same
// role, discarding the current session and cipher states. Used both when a
// caller actively renegotiates (BeginHandshake) and when the responder
// observes an unsolicited post-handshake handshake record from the peer
// (unwrapHandshake).
func (e *NoiseEngine) rearm() error {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: defaultNoiseCipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   e.initiator,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoiseInitFailed, err)
	}
	e.hs = hs
	e.tx, e.rx = nil, nil
	e.session = nil
	return nil
}

// HandshakeStatus implements Engine. A pending, not-yet-sent close-notify is
// reported as NeedWrap regardless of the underlying handshake machine's own
// state, per Engine's contract that HandshakeStatus report NeedWrap exactly
// once after CloseOutbound so the adapter drains a close record via Wrap;
// Wrap itself (not e.state) is what actually routes that call to
// wrapCloseNotify, so this never causes Wrap to emit another handshake
// message in its place.
func (e *NoiseEngine) HandshakeStatus() HandshakeStatus {
	if e.closeOutboundRequested && !e.closeSent {
		return NeedWrap
	}
	return e.state
}

// DelegatedTask implements Engine. NoiseEngine never offloads work to a
// delegated task — curve25519/AES-GCM/SHA-256 operations are cheap enough
// to run inline — so this always returns nil.
func (e *NoiseEngine) DelegatedTask() Task { return nil }

// Session implements Engine.
func (e *NoiseEngine) Session() Session {
	if e.session == nil {
		return nil
	}
	return e.session
}

// CloseOutbound implements Engine: arms close-notify so the next Wrap call
// emits a close record instead of (or ahead of) application data. It leaves
// the underlying handshake machine's own state untouched — HandshakeStatus
// reports the pending close independently of e.state (see HandshakeStatus),
// so this never mistakes a completed or in-progress handshake for one that
// needs another handshake message.
func (e *NoiseEngine) CloseOutbound() error {
	e.closeOutboundRequested = true
	return nil
}

// Wrap implements Engine. A pending close-notify is checked first,
// independently of e.state, so CloseOutbound always routes here regardless
// of whether the handshake machine itself is mid-handshake, finished, or
// idle.
func (e *NoiseEngine) Wrap(src, dst *nioBuffer) (Result, error) {
	if e.closeOutboundRequested && !e.closeSent {
		return e.wrapCloseNotify(dst)
	}

	switch e.state {
	case NeedWrap:
		return e.wrapHandshake(dst)
	case NotHandshaking, Finished:
		return e.wrapData(src, dst)
	default:
		return Result{}, invariantErrorf("noise engine: wrap called in handshake status %v", e.state)
	}
}

func (e *NoiseEngine) wrapHandshake(dst *nioBuffer) (Result, error) {
	msg, tx, rx, err := e.hs.WriteMessage(nil, nil)
	if err != nil {
		return Result{}, fmt.Errorf("noise handshake write: %w", err)
	}

	if dst.free() < recordHeaderSize+len(msg) {
		return Result{Status: StatusBufferOverflow, HandshakeStatus: e.state}, nil
	}
	putRecordHeader(dst, noiseRecordHandshake, len(msg))
	dst.put(msg)

	if tx != nil && rx != nil {
		e.finishHandshake(tx, rx)
	} else if e.initiator {
		e.state = NeedUnwrap
	} else {
		e.state = NeedWrap
	}

	return Result{Status: StatusOK, HandshakeStatus: e.state, BytesProduced: recordHeaderSize + len(msg)}, nil
}

func (e *NoiseEngine) wrapData(src, dst *nioBuffer) (Result, error) {
	if e.tx == nil {
		return Result{}, invariantErrorf("noise engine: wrap data before handshake completed")
	}

	plaintext := src.bytes()
	if len(plaintext) == 0 {
		return Result{Status: StatusOK, HandshakeStatus: e.state}, nil
	}

	overhead := recordHeaderSize + noiseTagSize
	room := dst.free() - overhead
	if room <= 0 {
		return Result{Status: StatusBufferOverflow, HandshakeStatus: e.state}, nil
	}
	if room > MaxDataSize {
		room = MaxDataSize
	}
	if room < len(plaintext) {
		plaintext = plaintext[:room]
	}

	sealed, err := e.tx.Encrypt(nil, nil, plaintext)
	if err != nil {
		return Result{}, fmt.Errorf("noise seal: %w", err)
	}

	putRecordHeader(dst, noiseRecordData, len(sealed))
	dst.put(sealed)
	src.pos += len(plaintext)

	return Result{
		Status:          StatusOK,
		HandshakeStatus: e.state,
		BytesConsumed:   len(plaintext),
		BytesProduced:   recordHeaderSize + len(sealed),
	}, nil
}

func (e *NoiseEngine) wrapCloseNotify(dst *nioBuffer) (Result, error) {
	if dst.free() < recordHeaderSize {
		return Result{Status: StatusBufferOverflow, HandshakeStatus: e.state}, nil
	}
	putRecordHeader(dst, noiseRecordClose, 0)
	e.closeSent = true
	if e.closeReceived {
		e.state = NotHandshaking
		return Result{Status: StatusClosed, HandshakeStatus: e.state, BytesProduced: recordHeaderSize}, nil
	}
	e.state = NotHandshaking
	return Result{Status: StatusOK, HandshakeStatus: e.state, BytesProduced: recordHeaderSize}, nil
}

// Unwrap implements Engine.
func (e *NoiseEngine) Unwrap(src, dst *nioBuffer) (Result, error) {
	hdr, ok := e.peekHeader(src)
	if !ok {
		return Result{Status: StatusBufferUnderflow, HandshakeStatus: e.state}, nil
	}

	switch hdr.recordType {
	case noiseRecordHandshake:
		return e.unwrapHandshake(src, hdr)
	case noiseRecordData:
		return e.unwrapData(src, dst, hdr)
	case noiseRecordClose:
		return e.unwrapCloseNotify(src, hdr)
	default:
		return Result{}, fmt.Errorf("%w: %#x", ErrUnexpectedRecordType, hdr.recordType)
	}
}

// peekHeader returns the header at src's current position, consuming
// nothing. It reports false (underflow) until the whole record is buffered,
// and caches nothing in that case; once the record is complete the header is
// cached so a buffer-overflow retry doesn't re-decode it.
func (e *NoiseEngine) peekHeader(src *nioBuffer) (recordHeader, bool) {
	if e.havePending {
		return recordHeader{recordType: e.pendingRecordType, length: e.pendingRecordLen}, true
	}
	hdr, ok := peekRecordHeader(src)
	if !ok {
		return recordHeader{}, false
	}
	if src.remaining() < recordHeaderSize+hdr.length {
		return recordHeader{}, false
	}
	e.havePending = true
	e.pendingRecordType = hdr.recordType
	e.pendingRecordLen = hdr.length
	return hdr, true
}

func (e *NoiseEngine) consumeHeader(src *nioBuffer, hdr recordHeader) []byte {
	src.pos += recordHeaderSize
	payload := src.buf[src.pos : src.pos+hdr.length]
	src.pos += hdr.length
	e.havePending = false
	return payload
}

func (e *NoiseEngine) unwrapHandshake(src *nioBuffer, hdr recordHeader) (Result, error) {
	if e.state != NeedUnwrap && e.state != NotHandshaking && e.state != Finished {
		return Result{}, invariantErrorf("noise engine: unexpected handshake record in status %v", e.state)
	}
	if e.tx != nil {
		// A fresh handshake record arrived after completion. Only the
		// original responder can legally observe this: the NN pattern
		// always has the initiator send message 1, so a completed
		// initiator never expects an unsolicited handshake record.
		if e.initiator {
			return Result{}, invariantErrorf("noise engine: initiator received unsolicited handshake record")
		}
		if err := e.rearm(); err != nil {
			return Result{}, err
		}
	}

	payload := e.consumeHeader(src, hdr)
	_, tx, rx, err := e.hs.ReadMessage(nil, payload)
	if err != nil {
		return Result{}, fmt.Errorf("noise handshake read: %w", err)
	}

	if tx != nil && rx != nil {
		e.finishHandshake(tx, rx)
	} else {
		// Either side, after consuming a message that didn't complete the
		// handshake, owns the next message in the NN alternation.
		e.state = NeedWrap
	}

	return Result{Status: StatusOK, HandshakeStatus: e.state, BytesConsumed: recordHeaderSize + hdr.length}, nil
}

func (e *NoiseEngine) unwrapData(src, dst *nioBuffer, hdr recordHeader) (Result, error) {
	if e.rx == nil {
		return Result{}, invariantErrorf("noise engine: data record before handshake completed")
	}
	if dst.free() < hdr.length-noiseTagSize {
		return Result{Status: StatusBufferOverflow, HandshakeStatus: e.state}, nil
	}

	payload := e.consumeHeader(src, hdr)
	plaintext, err := e.rx.Decrypt(nil, nil, payload)
	if err != nil {
		return Result{}, fmt.Errorf("noise unseal: %w", err)
	}
	dst.put(plaintext)

	return Result{
		Status:          StatusOK,
		HandshakeStatus: e.state,
		BytesConsumed:   recordHeaderSize + hdr.length,
		BytesProduced:   len(plaintext),
	}, nil
}

func (e *NoiseEngine) unwrapCloseNotify(src *nioBuffer, hdr recordHeader) (Result, error) {
	e.consumeHeader(src, hdr)
	e.closeReceived = true
	e.state = NotHandshaking
	return Result{Status: StatusClosed, HandshakeStatus: e.state, BytesConsumed: recordHeaderSize}, nil
}

func (e *NoiseEngine) finishHandshake(tx, rx *noise.CipherState) {
	if e.initiator {
		e.tx, e.rx = tx, rx
	} else {
		e.tx, e.rx = rx, tx
	}
	e.state = Finished
	e.session = &NoiseSession{
		HandshakeHash: e.hs.ChannelBinding(),
		Initiator:     e.initiator,
	}
}

func invariantErrorf(format string, args ...any) error {
	return fmt.Errorf("tlschannel: "+format, args...)
}
