package tlschannel

import "errors"

// flushOutbound drains any buffered wrapped record to the write transport.
// On a non-blocking transport that cannot fully drain it, it compacts the
// remainder back into outboundEncrypted and returns ErrNeedsWrite.
func (c *Channel) flushOutbound() error {
	if c.outboundEncrypted.pos == 0 {
		return nil
	}

	c.outboundEncrypted.flip()
	defer c.outboundEncrypted.compact()

	for c.outboundEncrypted.hasRemaining() {
		n, err := c.writeTransport.Write(c.outboundEncrypted.bytes())
		if n > 0 {
			c.outboundEncrypted.pos += n
			if c.metrics != nil {
				c.metrics.IncrementBytesSent(int64(n))
			}
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return ErrNeedsWrite
			}
			c.invalid.Store(true)
			return err
		}
		if n == 0 {
			return ErrNeedsWrite
		}
	}
	return nil
}

// writeLoop implements the §4.3 write-path driver: drain any pending
// ciphertext, then repeatedly wrap src into outboundEncrypted and flush it,
// until src is exhausted or the transport stalls.
func (c *Channel) writeLoop(src *nioBuffer) (int, error) {
	total := 0
	for {
		if c.outboundEncrypted.pos > 0 {
			if err := c.flushOutbound(); err != nil {
				if errors.Is(err, ErrNeedsWrite) {
					if total > 0 {
						return total, nil
					}
					return total, ErrNeedsWrite
				}
				return total, err
			}
		}

		if !src.hasRemaining() {
			return total, nil
		}

		res, err := c.engine.Wrap(src, c.outboundEncrypted)
		if err != nil {
			c.invalid.Store(true)
			return total, &TLSProtocolError{Cause: err}
		}

		switch res.Status {
		case StatusOK:
			total += res.BytesConsumed
		case StatusClosed:
			c.invalid.Store(true)
			return total, ErrClosed
		default:
			invariantViolation("steady-state wrap returned unexpected status %v", res.Status)
		}

		if c.engine.HandshakeStatus() == NeedTask {
			invariantViolation("engine produced a delegated task during steady-state wrap")
		}
	}
}

// fillInbound pulls more ciphertext from the read transport into
// inboundEncrypted (which is in write mode at rest).
func (c *Channel) fillInbound() error {
	if c.inboundEncrypted.free() == 0 {
		invariantViolation("inbound encrypted buffer is full but the engine made no progress")
	}

	n, err := c.readTransport.Read(c.inboundEncrypted.buf[c.inboundEncrypted.pos:c.inboundEncrypted.limit])
	if n > 0 {
		c.inboundEncrypted.pos += n
		if c.metrics != nil {
			c.metrics.IncrementBytesReceived(int64(n))
		}
	}
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return ErrNeedsRead
		}
		c.invalid.Store(true)
		return err
	}
	if n == 0 {
		return ErrNeedsRead
	}
	return nil
}
