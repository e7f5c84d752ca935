// Package peer drives a single probe against one candidate endpoint: dial,
// handshake, solicit addresses, classify. A Session owns exactly one TCP
// connection and is not reused across attempts.
package peer

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/RaxTzu/AtlasP2P/pkg/chain"
	"github.com/RaxTzu/AtlasP2P/pkg/wire"
)

// maxLearnedAddrs is the per-session cap on addr entries accumulated before
// the active phase is cut short and the session moves to closing.
const maxLearnedAddrs = 1000

// Dialer abstracts net.Dialer so tests can substitute a fake network.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config parameterizes a Session. ReadTimeout is the budget applied to the
// handshake phase and, separately, to the active/addr-soliciting phase;
// callers pass ExtendedTimeout here instead when the Scheduler marks the
// probe extended (the candidate was previously classified reachable, or
// this attempt is a retry after a timeout-class failure).
type Config struct {
	Profile         *chain.Profile
	ProtocolVersion uint32 // overrides Profile.ProtocolVersion for fallback attempts; 0 means "use the profile's"
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	GetAddrDelay    time.Duration
	Nonce           uint64
	StartHeight     int32
	UserAgent       string
	OurServices     uint64
	Dialer          Dialer
	Logger          *zap.Logger
}

// Session drives one probe to completion.
type Session struct {
	cfg      Config
	endpoint wire.Endpoint
	attempt  int
}

// NewSession builds a Session for one attempt against endpoint. attempt is
// 1-based and is echoed back on the resulting outcome for retry accounting.
func NewSession(cfg Config, endpoint wire.Endpoint, attempt int) *Session {
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Session{cfg: cfg, endpoint: endpoint, attempt: attempt}
}

func (s *Session) protocolVersion() uint32 {
	if s.cfg.ProtocolVersion != 0 {
		return s.cfg.ProtocolVersion
	}
	return s.cfg.Profile.ProtocolVersion
}

func (s *Session) failed(kind ErrorKind) SessionOutcome {
	return SessionOutcome{
		Endpoint:       s.endpoint,
		Classification: Unreachable,
		ErrorKind:      kind,
		Attempt:        s.attempt,
	}
}

// Run dials, performs the handshake, solicits addresses and returns the
// outcome. It never panics on a misbehaving peer: every protocol violation
// is translated into a classification and an ErrorKind.
func (s *Session) Run(ctx context.Context) SessionOutcome {
	log := s.cfg.Logger.With(zap.String("endpoint", s.endpoint.String()), zap.Int("attempt", s.attempt))

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	conn, err := s.cfg.Dialer.DialContext(dialCtx, "tcp", s.endpoint.String())
	cancel()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return s.failed(ErrConnectTimeout)
		}
		if ctx.Err() != nil {
			return SessionOutcome{Endpoint: s.endpoint, Classification: Unreachable, ErrorKind: ErrCancelled, Attempt: s.attempt}
		}
		log.Debug("connect failed", zap.Error(err))
		return s.failed(ErrConnectRefused)
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	start := time.Now()
	outcome, ok := s.handshake(ctx, conn, log)
	if !ok {
		return outcome
	}
	outcome.RTT = time.Since(start)

	s.solicitAddrs(ctx, conn, log, &outcome)
	if outcome.Classification == Unreachable {
		return outcome
	}

	if outcome.VersionPayload.ProtocolVersion < s.cfg.Profile.MinimumVersion {
		outcome.Classification = Stale
	} else {
		outcome.Classification = Reachable
	}
	return outcome
}

// handshake drives dialing -> awaiting_version -> awaiting_verack -> active.
// The second return value is false if the handshake failed outright (the
// returned SessionOutcome is already a complete terminal result).
func (s *Session) handshake(ctx context.Context, conn net.Conn, log *zap.Logger) (SessionOutcome, bool) {
	magic := s.cfg.Profile.Magic()

	ourVersion := &wire.VersionPayload{
		ProtocolVersion: s.protocolVersion(),
		Services:        s.cfg.OurServices,
		Timestamp:       time.Now().Unix(),
		AddrRecv:        wire.NetAddr{Endpoint: s.endpoint},
		AddrFrom:        wire.NetAddr{Endpoint: wire.Endpoint{IP: "0.0.0.0", Port: 0}},
		Nonce:           s.cfg.Nonce,
		UserAgent:       s.cfg.UserAgent,
		StartHeight:     s.cfg.StartHeight,
		Relay:           true,
	}
	if err := s.writeMessage(conn, magic, wire.CmdVersion, ourVersion); err != nil {
		// A peer that accepts the connection but never reads leaves the
		// write waiting out its deadline: that is the peer not answering
		// in time, not a refusal.
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return s.failed(ErrHandshakeTimeout), false
		}
		return s.failed(ErrConnectRefused), false
	}

	var gotVersion, gotVerack bool
	var theirVersion wire.VersionPayload

	for !gotVersion || !gotVerack {
		cmd, payload, kind, err := s.readFrame(conn, magic, s.cfg.ReadTimeout)
		if err != nil {
			if kind == ErrReadTimeout {
				kind = ErrHandshakeTimeout
			}
			return s.failed(kind), false
		}

		switch cmd {
		case wire.CmdVersion:
			if err := wire.DecodePayload(payload, &theirVersion); err != nil {
				return s.failed(ErrBadMagic), false
			}
			gotVersion = true
			if err := s.writeMessage(conn, magic, wire.CmdVerack, &wire.VerackPayload{}); err != nil {
				return s.failed(ErrConnectRefused), false
			}
		case wire.CmdVerack:
			// A verack that arrives before version is remembered; the loop
			// still requires version before treating the handshake as
			// complete.
			gotVerack = true
		case wire.CmdPing:
			var ping wire.PingPayload
			if err := wire.DecodePayload(payload, &ping); err == nil {
				_ = s.writeMessage(conn, magic, wire.CmdPong, &wire.PongPayload{Nonce: ping.Nonce})
			}
		default:
			log.Debug("ignoring message before handshake complete", zap.String("command", cmd))
		}
	}

	return SessionOutcome{
		Endpoint:       s.endpoint,
		VersionPayload: &theirVersion,
		Attempt:        s.attempt,
	}, true
}

// solicitAddrs waits getaddr_delay_ms, sends getaddr, and collects addr
// entries until the cap is hit or the active-phase budget elapses. A read
// timeout here is a normal end of the active phase, not a failure: the
// handshake already succeeded and the peer is reachable regardless of
// whether it ever answers getaddr.
func (s *Session) solicitAddrs(ctx context.Context, conn net.Conn, log *zap.Logger, outcome *SessionOutcome) {
	magic := s.cfg.Profile.Magic()

	select {
	case <-time.After(s.cfg.GetAddrDelay):
	case <-ctx.Done():
		outcome.ErrorKind = ErrCancelled
		outcome.Classification = Unreachable
		return
	}

	if err := s.writeMessage(conn, magic, wire.CmdGetAddr, &wire.GetAddrPayload{}); err != nil {
		return
	}

	deadline := time.Now().Add(s.cfg.ReadTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		cmd, payload, kind, err := s.readFrame(conn, magic, remaining)
		if err != nil {
			if kind == ErrReadTimeout {
				return
			}
			outcome.ErrorKind = kind
			outcome.Classification = Unreachable
			return
		}

		switch cmd {
		case wire.CmdAddr:
			var addr wire.AddrPayload
			if err := wire.DecodePayload(payload, &addr); err != nil {
				outcome.ErrorKind = ErrBadMagic
				outcome.Classification = Unreachable
				return
			}
			outcome.Learned = append(outcome.Learned, addr.Addrs...)
			if len(outcome.Learned) >= maxLearnedAddrs {
				return
			}
		case wire.CmdPing:
			var ping wire.PingPayload
			if err := wire.DecodePayload(payload, &ping); err == nil {
				_ = s.writeMessage(conn, magic, wire.CmdPong, &wire.PongPayload{Nonce: ping.Nonce})
			}
		default:
			log.Debug("ignoring message during active phase", zap.String("command", cmd))
		}
	}
}

func (s *Session) writeMessage(conn net.Conn, magic [4]byte, command string, payload wire.Serializable) error {
	buf, err := wire.EncodePayload(payload)
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}
	frame := wire.Frame(magic, command, buf)
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	_, err = conn.Write(frame)
	return err
}

// readFrame reads exactly one frame off conn, honoring timeout as a read
// deadline, and classifies any failure.
func (s *Session) readFrame(conn net.Conn, magic [4]byte, timeout time.Duration) (command string, payload []byte, kind ErrorKind, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", nil, ErrReadTimeout, err
	}

	header := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return "", nil, ErrReadTimeout, err
	}

	length := binary.LittleEndian.Uint32(header[16:20])
	if length > wire.MaxPayloadSize {
		return "", nil, ErrOversizePayload, wire.ErrOversizePayload
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return "", nil, ErrReadTimeout, err
	}

	buf := append(header, body...)
	cmd, pl, _, perr := wire.Parse(buf, magic)
	if perr != nil {
		switch perr {
		case wire.ErrBadMagic:
			return "", nil, ErrBadMagic, perr
		case wire.ErrBadChecksum:
			return "", nil, ErrBadChecksum, perr
		case wire.ErrOversizePayload:
			return "", nil, ErrOversizePayload, perr
		default:
			return "", nil, ErrBadMagic, perr
		}
	}
	return cmd, pl, "", nil
}
