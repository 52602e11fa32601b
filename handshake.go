package tlschannel

// handshakeLoop is invoked with both readLock and writeLock already held.
// It drives the engine through its need-wrap/need-unwrap/need-task cycle
// until it reports not-handshaking or finished, or until plaintext has
// accumulated mid-handshake and the caller (the read path) should take
// over draining it.
func (c *Channel) handshakeLoop(active bool) error {
	if err := c.flushOutbound(); err != nil {
		return wrapHandshakeErr(err)
	}

	if active {
		if err := c.engine.BeginHandshake(); err != nil {
			return wrapHandshakeErr(err)
		}
		if c.logger != nil {
			c.logger.Debug("tlschannel: handshake started")
		}
		if c.metrics != nil {
			c.metrics.IncrementHandshake()
		}
	}

	for {
		switch c.engine.HandshakeStatus() {
		case NeedWrap:
			if err := c.handshakeWrapStep(); err != nil {
				return err
			}

		case NeedUnwrap:
			done, err := c.handshakeUnwrapStep()
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case NeedTask:
			if err := c.runDelegatedTasks(); err != nil {
				return wrapHandshakeErr(err)
			}

		case NotHandshaking, Finished:
			if c.logger != nil {
				c.logger.Debug("tlschannel: handshake finished")
			}
			return nil

		default:
			invariantViolation("unknown handshake status %v", c.engine.HandshakeStatus())
		}
	}
}

// handshakeWrapStep implements §4.5 item 3a: produce and flush exactly one
// handshake record.
func (c *Channel) handshakeWrapStep() error {
	if c.outboundEncrypted.pos != 0 {
		invariantViolation("outbound buffer not drained before handshake wrap")
	}

	res, err := c.engine.Wrap(emptyBuffer, c.outboundEncrypted)
	if err != nil {
		c.invalid.Store(true)
		return wrapHandshakeErr(&TLSProtocolError{Cause: err})
	}

	switch res.Status {
	case StatusOK:
	case StatusClosed:
		c.invalid.Store(true)
		return wrapHandshakeErr(ErrClosed)
	default:
		invariantViolation("handshake wrap returned unexpected status %v", res.Status)
	}

	if err := c.runDelegatedTasks(); err != nil {
		return wrapHandshakeErr(err)
	}

	if err := c.flushOutbound(); err != nil {
		return wrapHandshakeErr(err)
	}
	return nil
}

// handshakeUnwrapStep implements §4.5 item 3b. The bool return reports
// whether the caller should stop driving the handshake because plaintext
// accumulated mid-handshake (rare, but legal — e.g. 0-RTT-style payloads
// riding a renegotiation).
func (c *Channel) handshakeUnwrapStep() (bool, error) {
	if c.inboundPlain.pos != 0 {
		invariantViolation("inbound plain buffer not empty before handshake unwrap")
	}

	for {
		if err := c.unwrapLoop(NeedUnwrap); err != nil {
			return false, wrapHandshakeErr(err)
		}
		if c.inboundPlain.pos > 0 {
			return true, nil
		}
		if c.engine.HandshakeStatus() != NeedUnwrap {
			return false, nil
		}
		if err := c.fillInbound(); err != nil {
			return false, wrapHandshakeErr(err)
		}
	}
}

func (c *Channel) runDelegatedTasks() error {
	for c.engine.HandshakeStatus() == NeedTask {
		task := c.engine.DelegatedTask()
		if task == nil {
			invariantViolation("engine reported need_task with no delegated task available")
		}
		if err := task.Run(); err != nil {
			c.invalid.Store(true)
			return &TLSProtocolError{Cause: err}
		}
	}
	return nil
}
