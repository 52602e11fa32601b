package tlschannel

import "errors"

// fakeEngine is a minimal, scripted Engine used to exercise handshake-loop
// branches (NeedTask in particular) that the real NoiseEngine never takes,
// since curve25519/AES-GCM never need an asynchronous delegated task. It
// passes plaintext straight through with no header, and uses single-byte
// records (0xAA handshake, 0xFF close-notify) so tests can verify wiring
// without any real cryptography, the same spirit as the
// teacher's own table-driven fakes for its Driver/Transport interfaces.
type fakeEngine struct {
	status          HandshakeStatus
	taskRuns        int
	taskErr         error
	pendingTasks    int
	handshakeWraps  int
	handshakeReads  int
	closeRequested  bool
	closeDelivered  bool
	sessionVal      Session
	failNextWrap    error
	failNextUnwrap  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{status: NotHandshaking}
}

func (e *fakeEngine) BeginHandshake() error {
	e.status = NeedTask
	e.pendingTasks = 1
	return nil
}

func (e *fakeEngine) HandshakeStatus() HandshakeStatus { return e.status }

func (e *fakeEngine) DelegatedTask() Task {
	if e.pendingTasks == 0 {
		return nil
	}
	return TaskFunc(func() error {
		e.taskRuns++
		e.pendingTasks--
		if e.taskErr != nil {
			return e.taskErr
		}
		if e.pendingTasks == 0 {
			e.status = NeedWrap
		}
		return nil
	})
}

func (e *fakeEngine) Session() Session { return e.sessionVal }

func (e *fakeEngine) CloseOutbound() error {
	e.closeRequested = true
	e.status = NeedWrap
	return nil
}

func (e *fakeEngine) Wrap(src, dst *nioBuffer) (Result, error) {
	if e.failNextWrap != nil {
		err := e.failNextWrap
		e.failNextWrap = nil
		return Result{}, err
	}

	if e.status == NeedTask {
		return Result{}, errors.New("fakeEngine: wrap called while need_task pending")
	}

	if e.closeRequested {
		e.closeRequested = false
		dst.put([]byte{0xFF})
		e.status = NotHandshaking
		if e.closeDelivered {
			return Result{Status: StatusClosed, HandshakeStatus: e.status, BytesProduced: 1}, nil
		}
		return Result{Status: StatusOK, HandshakeStatus: e.status, BytesProduced: 1}, nil
	}

	if e.handshakeWraps == 0 && e.status == NeedWrap {
		e.handshakeWraps++
		dst.put([]byte{0xAA})
		e.status = Finished
		e.sessionVal = "fake-session"
		return Result{Status: StatusOK, HandshakeStatus: e.status, BytesProduced: 1}, nil
	}

	n := dst.put(src.bytes())
	src.pos += n
	return Result{Status: StatusOK, HandshakeStatus: e.status, BytesConsumed: n, BytesProduced: n}, nil
}

func (e *fakeEngine) Unwrap(src, dst *nioBuffer) (Result, error) {
	if e.failNextUnwrap != nil {
		err := e.failNextUnwrap
		e.failNextUnwrap = nil
		return Result{}, err
	}

	if !src.hasRemaining() {
		return Result{Status: StatusBufferUnderflow, HandshakeStatus: e.status}, nil
	}

	tag := src.buf[src.pos]
	switch tag {
	case 0xAA:
		src.pos++
		e.handshakeReads++
		e.status = Finished
		return Result{Status: StatusOK, HandshakeStatus: e.status, BytesConsumed: 1}, nil
	case 0xFF:
		src.pos++
		e.closeDelivered = true
		e.status = NotHandshaking
		return Result{Status: StatusClosed, HandshakeStatus: e.status, BytesConsumed: 1}, nil
	default:
		n := dst.put(src.bytes())
		src.pos += n
		return Result{Status: StatusOK, HandshakeStatus: e.status, BytesConsumed: n, BytesProduced: n}, nil
	}
}
