package wire

import (
	bio "github.com/RaxTzu/AtlasP2P/pkg/io"
)

// maxAddrEntries bounds the number of entries accepted in a single addr
// payload; a peer claiming more is treated as malformed rather than
// trusted at face value.
const maxAddrEntries = 1000

// VerackPayload is the (empty) body of the "verack" message.
type VerackPayload struct{}

func (p *VerackPayload) EncodeBinary(w *bio.BinWriter) {}
func (p *VerackPayload) DecodeBinary(r *bio.BinReader) {}

// GetAddrPayload is the (empty) body of the "getaddr" message.
type GetAddrPayload struct{}

func (p *GetAddrPayload) EncodeBinary(w *bio.BinWriter) {}
func (p *GetAddrPayload) DecodeBinary(r *bio.BinReader) {}

// PingPayload carries a nonce that the receiver must echo back in a pong.
type PingPayload struct {
	Nonce uint64
}

func (p *PingPayload) EncodeBinary(w *bio.BinWriter) { w.WriteLE(p.Nonce) }
func (p *PingPayload) DecodeBinary(r *bio.BinReader) { r.ReadLE(&p.Nonce) }

// PongPayload echoes the nonce from the ping it answers.
type PongPayload struct {
	Nonce uint64
}

func (p *PongPayload) EncodeBinary(w *bio.BinWriter) { w.WriteLE(p.Nonce) }
func (p *PongPayload) DecodeBinary(r *bio.BinReader) { r.ReadLE(&p.Nonce) }

// AddrPayload is the body of the "addr" message: a varint count followed by
// that many 30-byte addr entries.
type AddrPayload struct {
	Addrs []NetAddr
}

func (p *AddrPayload) EncodeBinary(w *bio.BinWriter) {
	if len(p.Addrs) > maxAddrEntries {
		w.Err = ErrOversizePayload
		return
	}
	w.WriteVarUint(uint64(len(p.Addrs)))
	for _, a := range p.Addrs {
		EncodeAddrEntry(w, a)
		if w.Err != nil {
			return
		}
	}
}

func (p *AddrPayload) DecodeBinary(r *bio.BinReader) {
	count := r.ReadVarUint()
	if r.Err != nil {
		return
	}
	if count > maxAddrEntries {
		r.Err = ErrOversizePayload
		return
	}
	p.Addrs = make([]NetAddr, 0, count)
	for i := uint64(0); i < count; i++ {
		p.Addrs = append(p.Addrs, DecodeAddrEntry(r))
		if r.Err != nil {
			return
		}
	}
}

// EncodePayload serializes any Serializable payload to bytes using a fresh
// buffer, returning the error the writer accumulated, if any.
func EncodePayload(s bio.Serializable) ([]byte, error) {
	bw := bio.NewBufBinWriter()
	s.EncodeBinary(bw.BinWriter)
	if bw.Err != nil {
		return nil, bw.Err
	}
	return bw.Bytes(), nil
}

// DecodePayload deserializes buf into s, returning the reader's accumulated
// error, if any.
func DecodePayload(buf []byte, s bio.Serializable) error {
	r := bio.NewBinReaderFromBuf(buf)
	s.DecodeBinary(r)
	return r.Err
}
