package wire

import "errors"

// Parse errors, localized to the codec. The codec never performs I/O and
// never blocks; these are the only failures it can produce.
var (
	ErrShortHeader     = errors.New("wire: short header")
	ErrBadMagic        = errors.New("wire: bad magic")
	ErrOversizePayload = errors.New("wire: oversize payload")
	ErrShortPayload    = errors.New("wire: short payload")
	ErrBadChecksum     = errors.New("wire: bad checksum")
)

// MaxPayloadSize bounds a single message payload. This is a hard cap,
// independent of chain profile, that defends against adversarial peers
// claiming an enormous length field.
const MaxPayloadSize = 2 * 1024 * 1024

// HeaderSize is the fixed-size frame header: magic(4) + command(12) +
// length(4) + checksum(4).
const HeaderSize = 24
