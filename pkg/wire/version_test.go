package wire

import (
	"testing"

	bio "github.com/RaxTzu/AtlasP2P/pkg/io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVersionPayload() *VersionPayload {
	return &VersionPayload{
		ProtocolVersion: 70015,
		Services:        1,
		Timestamp:       1700000000,
		AddrRecv:        NetAddr{Endpoint: Endpoint{IP: "203.0.113.1", Port: 8333}},
		AddrFrom:        NetAddr{Endpoint: Endpoint{IP: "203.0.113.2", Port: 8333}},
		Nonce:           0x1122334455667788,
		UserAgent:       "/atlas:1.0.0/",
		StartHeight:     800000,
		Relay:           true,
	}
}

func TestVersionPayloadRoundTrip(t *testing.T) {
	want := newVersionPayload()
	buf, err := EncodePayload(want)
	require.NoError(t, err)

	var got VersionPayload
	require.NoError(t, DecodePayload(buf, &got))

	assert.Equal(t, want.ProtocolVersion, got.ProtocolVersion)
	assert.Equal(t, want.Services, got.Services)
	assert.Equal(t, want.Timestamp, got.Timestamp)
	assert.Equal(t, want.AddrRecv.Endpoint, got.AddrRecv.Endpoint)
	assert.Equal(t, want.AddrFrom.Endpoint, got.AddrFrom.Endpoint)
	assert.Equal(t, want.Nonce, got.Nonce)
	assert.Equal(t, want.UserAgent, got.UserAgent)
	assert.Equal(t, want.StartHeight, got.StartHeight)
	assert.True(t, got.Relay)
}

func TestVersionPayloadToleratesMissingRelayByte(t *testing.T) {
	want := newVersionPayload()
	buf, err := EncodePayload(want)
	require.NoError(t, err)
	// Drop the trailing relay byte to simulate an old-protocol peer.
	truncated := buf[:len(buf)-1]

	var got VersionPayload
	require.NoError(t, DecodePayload(truncated, &got))
	assert.True(t, got.Relay)
}

func TestVersionPayloadRejectsOversizeUserAgent(t *testing.T) {
	bw := bio.NewBufBinWriter()
	bw.WriteLE(uint32(70015))
	bw.WriteLE(uint64(1))
	bw.WriteLE(int64(1700000000))
	EncodeVersionAddr(bw.BinWriter, NetAddr{Endpoint: Endpoint{IP: "203.0.113.1", Port: 8333}})
	EncodeVersionAddr(bw.BinWriter, NetAddr{Endpoint: Endpoint{IP: "203.0.113.2", Port: 8333}})
	bw.WriteLE(uint64(1))
	bw.WriteVarBytes(make([]byte, maxUserAgentLen+1))
	require.NoError(t, bw.Err)

	var got VersionPayload
	err := DecodePayload(bw.Bytes(), &got)
	assert.ErrorIs(t, err, ErrOversizePayload)
}

func TestVersionPayloadSanitizesInvalidUTF8(t *testing.T) {
	want := newVersionPayload()
	want.UserAgent = ""
	want.UserAgentRaw = []byte{0x2f, 0xff, 0xfe, 0x2f}

	bw := bio.NewBufBinWriter()
	want.EncodeBinary(bw.BinWriter)
	require.NoError(t, bw.Err)

	var got VersionPayload
	require.NoError(t, DecodePayload(bw.Bytes(), &got))
	assert.Equal(t, want.UserAgentRaw, got.UserAgentRaw)
	assert.NotContains(t, got.UserAgent, string([]byte{0xff}))
}
