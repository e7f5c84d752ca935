package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
)

// Command names. Anything else is tolerated by Parse (returned verbatim
// with its raw payload) but has no typed decoder in this package.
const (
	CmdVersion = "version"
	CmdVerack  = "verack"
	CmdGetAddr = "getaddr"
	CmdAddr    = "addr"
	CmdPing    = "ping"
	CmdPong    = "pong"
)

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

func checksum(payload []byte) [4]byte {
	sum := doubleSHA256(payload)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// commandBytes renders a command string into its fixed 12-byte, zero-padded
// ASCII field.
func commandBytes(cmd string) [12]byte {
	var out [12]byte
	copy(out[:], cmd)
	return out
}

func commandString(b [12]byte) string {
	n := bytes.IndexByte(b[:], 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// Frame builds a complete wire message: 4-byte magic, 12-byte zero-padded
// command, 4-byte little-endian payload length, 4-byte checksum (first four
// bytes of double-SHA256 over the payload), then the payload itself.
func Frame(magic [4]byte, command string, payload []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, magic[:]...)
	cmd := commandBytes(command)
	out = append(out, cmd[:]...)

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
	out = append(out, length[:]...)

	sum := checksum(payload)
	out = append(out, sum[:]...)
	out = append(out, payload...)
	return out
}

// Parse reads one complete frame off the front of data, returning the
// command, its payload, and the unconsumed remainder. It never blocks and
// never performs I/O: if data doesn't yet hold a complete frame, it returns
// ErrShortHeader/ErrShortPayload and the caller should read more and retry.
func Parse(data []byte, magic [4]byte) (command string, payload []byte, remainder []byte, err error) {
	if len(data) < HeaderSize {
		return "", nil, data, ErrShortHeader
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return "", nil, data, ErrBadMagic
	}

	var cmdBuf [12]byte
	copy(cmdBuf[:], data[4:16])
	command = commandString(cmdBuf)

	length := binary.LittleEndian.Uint32(data[16:20])
	if length > MaxPayloadSize {
		return "", nil, data, ErrOversizePayload
	}

	var wantSum [4]byte
	copy(wantSum[:], data[20:24])

	total := HeaderSize + int(length)
	if len(data) < total {
		return "", nil, data, ErrShortPayload
	}
	payload = data[HeaderSize:total]

	gotSum := checksum(payload)
	if gotSum != wantSum {
		return "", nil, data, ErrBadChecksum
	}

	return command, payload, data[total:], nil
}
