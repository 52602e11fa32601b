package tlschannel

import (
	"errors"
	"testing"
)

func TestWrapHandshakeErrPassesThroughWouldBlockSentinels(t *testing.T) {
	if err := wrapHandshakeErr(ErrNeedsRead); !errors.Is(err, ErrNeedsRead) {
		t.Fatalf("expected ErrNeedsRead to pass through unwrapped, got %v", err)
	}
	if err := wrapHandshakeErr(ErrNeedsWrite); !errors.Is(err, ErrNeedsWrite) {
		t.Fatalf("expected ErrNeedsWrite to pass through unwrapped, got %v", err)
	}
}

func TestWrapHandshakeErrChainsOtherCauses(t *testing.T) {
	cause := errors.New("boom")
	err := wrapHandshakeErr(cause)

	var he *HandshakeError
	if !errors.As(err, &he) {
		t.Fatalf("expected a *HandshakeError, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the original cause through Unwrap")
	}
}

func TestWrapHandshakeErrNil(t *testing.T) {
	if err := wrapHandshakeErr(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestTLSProtocolErrorUnwraps(t *testing.T) {
	cause := errors.New("decrypt failed")
	err := &TLSProtocolError{Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find cause through Unwrap")
	}
}

func TestInvariantViolationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected invariantViolation to panic")
		}
	}()
	invariantViolation("impossible status %d", 42)
}
