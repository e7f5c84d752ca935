package wire

import (
	"strings"

	bio "github.com/RaxTzu/AtlasP2P/pkg/io"
)

// relayMinVersion is the protocol version at and above which the trailing
// relay byte is part of the wire format. Below it, the field is simply
// absent, and parsers must tolerate that.
const relayMinVersion = 70001

// maxUserAgentLen bounds the user_agent length field; a longer claim is a
// malformed/adversarial peer.
const maxUserAgentLen = 256

// VersionPayload is the body of the "version" message.
type VersionPayload struct {
	ProtocolVersion uint32
	Services        uint64
	Timestamp       int64
	AddrRecv        NetAddr
	AddrFrom        NetAddr
	Nonce           uint64
	UserAgent       string
	UserAgentRaw    []byte
	StartHeight     int32
	Relay           bool
}

// EncodeBinary implements io.Serializable. The encoder always emits
// relay=true, matching the reference implementation's behavior of never
// omitting it on the way out even though the field is conditional on the
// way in.
func (v *VersionPayload) EncodeBinary(w *bio.BinWriter) {
	w.WriteLE(v.ProtocolVersion)
	w.WriteLE(v.Services)
	w.WriteLE(v.Timestamp)
	EncodeVersionAddr(w, v.AddrRecv)
	EncodeVersionAddr(w, v.AddrFrom)
	w.WriteLE(v.Nonce)
	ua := v.UserAgentRaw
	if ua == nil {
		ua = []byte(v.UserAgent)
	}
	w.WriteVarBytes(ua)
	w.WriteLE(v.StartHeight)
	w.WriteLE(true)
}

// DecodeBinary implements io.Serializable. The trailing relay byte is
// optional; its absence (the reader reaching EOF right after start_height)
// is treated as relay=true, not an error.
func (v *VersionPayload) DecodeBinary(r *bio.BinReader) {
	r.ReadLE(&v.ProtocolVersion)
	r.ReadLE(&v.Services)
	r.ReadLE(&v.Timestamp)
	v.AddrRecv = DecodeVersionAddr(r)
	v.AddrFrom = DecodeVersionAddr(r)
	r.ReadLE(&v.Nonce)

	uaLen := r.ReadVarUint()
	if r.Err != nil {
		return
	}
	if uaLen > maxUserAgentLen {
		r.Err = ErrOversizePayload
		return
	}
	raw := make([]byte, uaLen)
	r.ReadBytes(raw)
	if r.Err != nil {
		return
	}
	v.UserAgentRaw = raw
	v.UserAgent = strings.ToValidUTF8(string(raw), "�")

	r.ReadLE(&v.StartHeight)
	if r.Err != nil {
		return
	}

	// The relay byte is optional on older protocol versions; its absence
	// is not a parse error, just the end of the payload.
	v.Relay = true
	var relay byte
	r.ReadLE(&relay)
	if r.Err == nil {
		v.Relay = relay != 0
	} else {
		r.Err = nil
	}
}
