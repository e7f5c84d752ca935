package peer

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaxTzu/AtlasP2P/pkg/chain"
	"github.com/RaxTzu/AtlasP2P/pkg/wire"
)

// pipeDialer hands back one end of an in-memory net.Pipe and runs fn against
// the other end in a goroutine, standing in for a loopback fake peer.
type pipeDialer struct {
	fn func(conn net.Conn)
}

func (d pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	client, server := net.Pipe()
	go d.fn(server)
	return client, nil
}

func mustCompile(t *testing.T, p *chain.Profile) *chain.Profile {
	t.Helper()
	require.NoError(t, p.Compile())
	return p
}

func readFrameFromConn(t *testing.T, conn net.Conn, magic [4]byte) (string, []byte) {
	t.Helper()
	header := make([]byte, wire.HeaderSize)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)
	length := binary.LittleEndian.Uint32(header[16:20])
	body := make([]byte, length)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	cmd, payload, _, err := wire.Parse(append(header, body...), magic)
	require.NoError(t, err)
	return cmd, payload
}

func writeFrameToConn(t *testing.T, conn net.Conn, magic [4]byte, cmd string, payload wire.Serializable) {
	t.Helper()
	buf, err := wire.EncodePayload(payload)
	require.NoError(t, err)
	_, err = conn.Write(wire.Frame(magic, cmd, buf))
	require.NoError(t, err)
}

func baseConfig(p *chain.Profile, dialer Dialer) Config {
	return Config{
		Profile:        p,
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		GetAddrDelay:   0,
		Nonce:          1,
		StartHeight:    0,
		UserAgent:      "/atlas:1.0.0/",
		Dialer:         dialer,
	}
}

func TestSessionHappyPathReachableWithLearnedAddrs(t *testing.T) {
	p := mustCompile(t, &chain.Profile{
		P2PPort: 8333, ProtocolVersion: 70015, MinimumVersion: 70001,
		MagicBytesHex: "f9beb4d9", SeedNodes: []string{"x:1"},
		UserAgentPatterns: []string{`/Satoshi:([0-9.]+)/`},
	})
	magic := p.Magic()
	ts := uint32(time.Now().Unix())

	dialer := pipeDialer{fn: func(conn net.Conn) {
		defer conn.Close()
		cmd, _ := readFrameFromConn(t, conn, magic)
		require.Equal(t, wire.CmdVersion, cmd)

		writeFrameToConn(t, conn, magic, wire.CmdVersion, &wire.VersionPayload{
			ProtocolVersion: 70015,
			Services:        1,
			Timestamp:       time.Now().Unix(),
			AddrRecv:        wire.NetAddr{Endpoint: wire.Endpoint{IP: "1.2.3.4", Port: 8333}},
			AddrFrom:        wire.NetAddr{Endpoint: wire.Endpoint{IP: "5.6.7.8", Port: 8333}},
			Nonce:           42,
			UserAgent:       "/Satoshi:25.0.0/",
			StartHeight:     800000,
		})

		cmd, _ = readFrameFromConn(t, conn, magic)
		require.Equal(t, wire.CmdVerack, cmd)

		writeFrameToConn(t, conn, magic, wire.CmdVerack, &wire.VerackPayload{})

		cmd, _ = readFrameFromConn(t, conn, magic)
		require.Equal(t, wire.CmdGetAddr, cmd)

		writeFrameToConn(t, conn, magic, wire.CmdAddr, &wire.AddrPayload{Addrs: []wire.NetAddr{
			{Endpoint: wire.Endpoint{IP: "203.0.113.1", Port: 8333}, Timestamp: &ts},
			{Endpoint: wire.Endpoint{IP: "203.0.113.2", Port: 8333}, Timestamp: &ts},
			{Endpoint: wire.Endpoint{IP: "203.0.113.3", Port: 8333}, Timestamp: &ts},
		}})
	}}

	endpoint := wire.Endpoint{IP: "127.0.0.1", Port: 8333}
	s := NewSession(baseConfig(p, dialer), endpoint, 1)
	out := s.Run(context.Background())

	assert.Equal(t, Reachable, out.Classification)
	require.NotNil(t, out.VersionPayload)
	assert.Equal(t, "25.0.0", p.UserAgentVersion(out.VersionPayload.UserAgent))
	assert.Len(t, out.Learned, 3)
}

func TestSessionBadMagicIsUnreachableNoRetry(t *testing.T) {
	p := mustCompile(t, &chain.Profile{
		P2PPort: 8333, ProtocolVersion: 70015, MinimumVersion: 70001,
		MagicBytesHex: "f9beb4d9", SeedNodes: []string{"x:1"},
	})
	magic := p.Magic()
	badMagic := [4]byte{0, 0, 0, 0}

	dialer := pipeDialer{fn: func(conn net.Conn) {
		defer conn.Close()
		readFrameFromConn(t, conn, magic)
		writeFrameToConn(t, conn, badMagic, wire.CmdVersion, &wire.VersionPayload{
			ProtocolVersion: 70015,
			AddrRecv:        wire.NetAddr{Endpoint: wire.Endpoint{IP: "1.2.3.4", Port: 8333}},
			AddrFrom:        wire.NetAddr{Endpoint: wire.Endpoint{IP: "5.6.7.8", Port: 8333}},
		})
	}}

	endpoint := wire.Endpoint{IP: "127.0.0.1", Port: 8333}
	s := NewSession(baseConfig(p, dialer), endpoint, 1)
	out := s.Run(context.Background())

	assert.Equal(t, Unreachable, out.Classification)
	assert.Equal(t, ErrBadMagic, out.ErrorKind)
	assert.False(t, out.ErrorKind.Retryable())
}

func TestSessionStalePeerBelowMinimumVersion(t *testing.T) {
	p := mustCompile(t, &chain.Profile{
		P2PPort: 8333, ProtocolVersion: 70015, MinimumVersion: 70015,
		MagicBytesHex: "f9beb4d9", SeedNodes: []string{"x:1"},
	})
	magic := p.Magic()

	dialer := pipeDialer{fn: func(conn net.Conn) {
		defer conn.Close()
		readFrameFromConn(t, conn, magic)
		writeFrameToConn(t, conn, magic, wire.CmdVersion, &wire.VersionPayload{
			ProtocolVersion: 60000,
			AddrRecv:        wire.NetAddr{Endpoint: wire.Endpoint{IP: "1.2.3.4", Port: 8333}},
			AddrFrom:        wire.NetAddr{Endpoint: wire.Endpoint{IP: "5.6.7.8", Port: 8333}},
		})
		readFrameFromConn(t, conn, magic)
		writeFrameToConn(t, conn, magic, wire.CmdVerack, &wire.VerackPayload{})
		readFrameFromConn(t, conn, magic) // getaddr; never answered
	}}

	endpoint := wire.Endpoint{IP: "127.0.0.1", Port: 8333}
	cfg := baseConfig(p, dialer)
	cfg.ReadTimeout = 200 * time.Millisecond
	s := NewSession(cfg, endpoint, 1)
	out := s.Run(context.Background())

	assert.Equal(t, Stale, out.Classification)
	require.NotNil(t, out.VersionPayload)
	assert.Equal(t, uint32(60000), out.VersionPayload.ProtocolVersion)
}

func TestSessionConnectRefusedIsUnreachable(t *testing.T) {
	p := mustCompile(t, &chain.Profile{
		P2PPort: 8333, ProtocolVersion: 70015, MinimumVersion: 70001,
		MagicBytesHex: "f9beb4d9", SeedNodes: []string{"x:1"},
	})
	failDialer := refusingDialer{}

	endpoint := wire.Endpoint{IP: "127.0.0.1", Port: 1}
	s := NewSession(baseConfig(p, failDialer), endpoint, 1)
	out := s.Run(context.Background())

	assert.Equal(t, Unreachable, out.Classification)
	assert.Equal(t, ErrConnectRefused, out.ErrorKind)
}

type refusingDialer struct{}

func (refusingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, &net.OpError{Op: "dial", Net: network, Err: errConnRefused{}}
}

type errConnRefused struct{}

func (errConnRefused) Error() string { return "connection refused" }
