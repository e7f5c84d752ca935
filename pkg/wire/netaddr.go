package wire

import (
	"fmt"
	"net"

	bio "github.com/RaxTzu/AtlasP2P/pkg/io"
)

// NetAddr is an Endpoint plus the services bitmask and, in addr-payload
// context, the timestamp the sender advertised for it. Timestamp is nil in
// version-payload context, where the field is absent on the wire.
type NetAddr struct {
	Endpoint  Endpoint
	Services  uint64
	Timestamp *uint32
}

// ipTo16 renders ip as the 16-byte form the wire protocol expects: native
// IPv6 bytes, or an IPv4 address under the ::ffff:0:0/96 prefix.
func ipTo16(ip string) ([16]byte, error) {
	var out [16]byte
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return out, fmt.Errorf("wire: invalid IP %q", ip)
	}
	if v4 := parsed.To4(); v4 != nil {
		copy(out[10:12], []byte{0xff, 0xff})
		copy(out[12:16], v4)
		return out, nil
	}
	copy(out[:], parsed.To16())
	return out, nil
}

// ipFrom16 recovers a canonical textual IP from the wire's 16-byte form,
// collapsing the ::ffff:0:0/96 prefix down to plain IPv4.
func ipFrom16(b [16]byte) string {
	if b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 0 && b[4] == 0 &&
		b[5] == 0 && b[6] == 0 && b[7] == 0 && b[8] == 0 && b[9] == 0 &&
		b[10] == 0xff && b[11] == 0xff {
		return net.IP(b[12:16]).String()
	}
	return net.IP(b[:]).String()
}

// encodeNetAddr writes the common services+ip+port portion shared by both
// the version and addr encodings (port is big-endian per the wire format).
func encodeNetAddr(w *bio.BinWriter, n NetAddr) {
	w.WriteLE(n.Services)
	ip, err := ipTo16(n.Endpoint.IP)
	if err != nil && w.Err == nil {
		w.Err = err
		return
	}
	w.WriteBE(ip)
	w.WriteBE(n.Endpoint.Port)
}

func decodeNetAddr(r *bio.BinReader) NetAddr {
	var n NetAddr
	r.ReadLE(&n.Services)
	var ip [16]byte
	r.ReadBE(&ip)
	r.ReadBE(&n.Endpoint.Port)
	if r.Err == nil {
		n.Endpoint.IP = ipFrom16(ip)
	}
	return n
}

// EncodeVersionAddr writes the 26-byte addr_recv/addr_from form (no
// timestamp).
func EncodeVersionAddr(w *bio.BinWriter, n NetAddr) {
	encodeNetAddr(w, n)
}

// DecodeVersionAddr reads the 26-byte addr_recv/addr_from form.
func DecodeVersionAddr(r *bio.BinReader) NetAddr {
	return decodeNetAddr(r)
}

// EncodeAddrEntry writes the 30-byte addr-payload form: a 4-byte
// little-endian timestamp prefix followed by the common NetAddr body.
func EncodeAddrEntry(w *bio.BinWriter, n NetAddr) {
	var ts uint32
	if n.Timestamp != nil {
		ts = *n.Timestamp
	}
	w.WriteLE(ts)
	encodeNetAddr(w, n)
}

// DecodeAddrEntry reads the 30-byte addr-payload form.
func DecodeAddrEntry(r *bio.BinReader) NetAddr {
	var ts uint32
	r.ReadLE(&ts)
	n := decodeNetAddr(r)
	n.Timestamp = &ts
	return n
}
