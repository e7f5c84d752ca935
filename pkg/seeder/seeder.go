// Package seeder produces the initial candidate set for a pass: DNS seed
// resolution plus the chain's static seed node list.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/RaxTzu/AtlasP2P/pkg/chain"
	"github.com/RaxTzu/AtlasP2P/pkg/wire"
)

// ErrNoSeeds is returned when resolution and the static list together
// produce zero candidates; the caller should fail the pass fast.
var ErrNoSeeds = errors.New("seeder: no seeds produced any candidates")

// Resolver abstracts net.Resolver so tests can fake DNS.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Seeder resolves a ChainProfile's dns_seeds and appends its static
// seed_nodes list.
type Seeder struct {
	Resolver Resolver
	Logger   *zap.Logger
}

// New builds a Seeder using net.DefaultResolver.
func New(logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{Resolver: net.DefaultResolver, Logger: logger}
}

// Seed resolves every DNS seed (both A and AAAA records) to endpoints on
// the chain's default P2P port, appends the static seed_nodes list
// verbatim, and returns the union. Individual DNS failures are logged but
// not fatal; only a wholly empty result is an error.
func (s *Seeder) Seed(ctx context.Context, profile *chain.Profile) ([]wire.Endpoint, error) {
	var out []wire.Endpoint

	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, host := range profile.DNSSeeds {
		addrs, err := s.Resolver.LookupIPAddr(ctx, host)
		if err != nil {
			logger.Warn("dns seed resolution failed", zap.String("host", host), zap.Error(err))
			continue
		}
		for _, a := range addrs {
			ep, err := wire.NewEndpoint(a.IP.String(), profile.P2PPort)
			if err != nil {
				continue
			}
			out = append(out, ep)
		}
	}

	for _, raw := range profile.SeedNodes {
		ep, err := parseHostPort(raw)
		if err != nil {
			logger.Warn("invalid static seed node", zap.String("raw", raw), zap.Error(err))
			continue
		}
		out = append(out, ep)
	}

	if len(out) == 0 {
		return nil, ErrNoSeeds
	}
	return out, nil
}

func parseHostPort(raw string) (wire.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return wire.Endpoint{}, fmt.Errorf("seeder: %q is not host:port: %w", raw, err)
	}
	port, err := strconv.ParseUint(strings.TrimSpace(portStr), 10, 16)
	if err != nil {
		return wire.Endpoint{}, fmt.Errorf("seeder: invalid port in %q: %w", raw, err)
	}
	return wire.NewEndpoint(host, uint16(port))
}
