package tlschannel

import "errors"

// errInternalEOF signals a clean close-notify with no accumulated
// plaintext. On the steady-state read path Read translates it to io.EOF;
// inside the handshake loop it is wrapped in a HandshakeError like any other
// cause.
var errInternalEOF = errors.New("tlschannel: clean end of stream")

// handshakeStatusMatches reports whether observed still matches the loop
// condition h the caller is driving toward. Finished is a one-time status an
// engine may report exactly when a handshake completes; for every looping
// purpose in this package it is equivalent to NotHandshaking (see
// engine.go's HandshakeStatus doc), so a caller looping on h ==
// NotHandshaking must not see Finished as a divergence.
func handshakeStatusMatches(observed, h HandshakeStatus) bool {
	if h == NotHandshaking && observed == Finished {
		return true
	}
	return observed == h
}

// unwrapLoop drives the engine's Unwrap against buffered ciphertext until
// either the engine reports a non-ok status or its handshake status
// diverges from h (§4.2). It is called both from the steady-state read
// path (h = NotHandshaking) and from the handshake loop (h = NeedUnwrap).
func (c *Channel) unwrapLoop(h HandshakeStatus) error {
	c.inboundEncrypted.flip()
	defer c.inboundEncrypted.compact()

	for {
		res, err := c.engine.Unwrap(c.inboundEncrypted, c.inboundPlain)
		if err != nil {
			c.invalid.Store(true)
			return &TLSProtocolError{Cause: err}
		}

		if err := c.runDelegatedTasks(); err != nil {
			return err
		}

		switch res.Status {
		case StatusBufferOverflow:
			if c.inboundPlain.pos == 0 {
				invariantViolation("unwrap reported buffer_overflow with no plaintext produced")
			}
			return nil

		case StatusClosed:
			c.tlsClosePending.Store(true)
			if c.metrics != nil {
				c.metrics.IncrementCloseNotify()
			}
			if c.inboundPlain.pos == 0 {
				return errInternalEOF
			}
			return nil

		case StatusOK, StatusBufferUnderflow:
			// fall through to the divergence/underflow checks below

		default:
			invariantViolation("unwrap returned unknown status %v", res.Status)
		}

		if !handshakeStatusMatches(c.engine.HandshakeStatus(), h) {
			return nil
		}
		if res.Status == StatusBufferUnderflow {
			// Not enough ciphertext buffered to make further progress;
			// the caller must pull more bytes from the transport.
			return nil
		}
		// status == ok and handshake status still matches h: the engine
		// may have more complete records buffered, so loop again.
	}
}
