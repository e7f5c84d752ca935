package peer

// ErrorKind is a closed taxonomy of reasons a PeerSession can fail or be
// retried. It is recorded on terminal outcomes and used by the Scheduler to
// decide whether to retry, and with what adjustment (backoff, extended
// timeout, fallback protocol version).
type ErrorKind string

const (
	ErrConnectRefused   ErrorKind = "connect-refused"
	ErrConnectTimeout   ErrorKind = "connect-timeout"
	ErrReadTimeout      ErrorKind = "read-timeout"
	ErrBadMagic         ErrorKind = "bad-magic"
	ErrBadChecksum      ErrorKind = "bad-checksum"
	ErrOversizePayload  ErrorKind = "oversize-payload"
	ErrHandshakeTimeout ErrorKind = "handshake-timeout"
	ErrBelowMinimumVer  ErrorKind = "below-minimum-version"
	ErrCancelled        ErrorKind = "cancelled"
	ErrSink             ErrorKind = "sink-error"
)

// Retryable reports whether the Scheduler should re-enqueue the endpoint
// after this kind of failure, subject to the remaining retry budget.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrConnectRefused, ErrConnectTimeout, ErrReadTimeout, ErrHandshakeTimeout:
		return true
	default:
		return false
	}
}

// Timeout reports whether this kind reflects the peer simply not answering
// in time, as opposed to an active refusal or a protocol violation. A
// retry following a timeout gets the extended timeout rather than the base
// one, since a slow-to-respond peer is the one case that budget is meant
// to rescue.
func (k ErrorKind) Timeout() bool {
	switch k {
	case ErrConnectTimeout, ErrReadTimeout, ErrHandshakeTimeout:
		return true
	default:
		return false
	}
}
