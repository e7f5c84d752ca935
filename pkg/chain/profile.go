// Package chain holds the per-network constants (magic bytes, default
// port, protocol version ladder) that let the same crawl engine speak to
// any Bitcoin-derived fork.
package chain

import (
	"encoding/hex"
	"fmt"
	"regexp"
)

// Profile is the set of constants that distinguish one Bitcoin-derived
// network from another. Nothing in the wire frame format itself varies
// across chains; only these values do.
type Profile struct {
	// Name is the human-readable chain name, e.g. "Bitcoin".
	Name string `yaml:"name"`
	// Ticker is the short symbol, e.g. "BTC".
	Ticker string `yaml:"ticker"`
	// P2PPort is the default port to dial when a seed doesn't carry one.
	P2PPort uint16 `yaml:"p2pPort"`
	// RPCPort is informational only; the crawler never calls it.
	RPCPort uint16 `yaml:"rpcPort"`
	// ProtocolVersion is advertised first on every handshake.
	ProtocolVersion uint32 `yaml:"protocolVersion"`
	// FallbackProtocolVersions are tried, in order, after a handshake
	// timeout, for peers that reject unknown higher versions.
	FallbackProtocolVersions []uint32 `yaml:"fallbackProtocolVersions"`
	// MinimumVersion below which a reachable peer is flagged stale.
	MinimumVersion uint32 `yaml:"minimumVersion"`
	// MagicBytesHex is the 4-byte network magic, hex-encoded (8 chars).
	MagicBytesHex string `yaml:"magicBytes"`
	// DNSSeeds are hostnames resolved for both A and AAAA records.
	DNSSeeds []string `yaml:"dnsSeeds"`
	// SeedNodes are static "ip:port" peers appended verbatim.
	SeedNodes []string `yaml:"seedNodes"`
	// UserAgentPatterns are regexes with a single capture group used to
	// pull a version string out of the peer's user_agent. Per an open
	// question in the source material, only the first pattern is applied.
	UserAgentPatterns []string `yaml:"userAgentPatterns"`

	magic        [4]byte
	userAgentExp *regexp.Regexp
}

// Magic returns the 4-byte network magic.
func (p *Profile) Magic() [4]byte {
	return p.magic
}

// UserAgentVersion extracts a version string from a peer's user_agent using
// the first configured pattern, e.g. "/Satoshi:25.0.0/" -> "25.0.0". Returns
// "" if no pattern is configured or none match.
func (p *Profile) UserAgentVersion(userAgent string) string {
	if p.userAgentExp == nil {
		return ""
	}
	m := p.userAgentExp.FindStringSubmatch(userAgent)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Compile validates and derives the unexported fields (magic bytes, the
// compiled user-agent regex). Call it once after loading a Profile from
// YAML/env, before handing it to any other component.
func (p *Profile) Compile() error {
	raw, err := hex.DecodeString(p.MagicBytesHex)
	if err != nil {
		return fmt.Errorf("magicBytes %q is not valid hex: %w", p.MagicBytesHex, err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("magicBytes must be exactly 4 bytes (8 hex chars), got %d bytes", len(raw))
	}
	copy(p.magic[:], raw)

	if p.P2PPort == 0 {
		return fmt.Errorf("p2pPort must be nonzero")
	}
	if p.ProtocolVersion == 0 {
		return fmt.Errorf("protocolVersion must be nonzero")
	}
	if len(p.DNSSeeds) == 0 && len(p.SeedNodes) == 0 {
		return fmt.Errorf("no seed sources configured: need at least one of dnsSeeds or seedNodes")
	}

	if len(p.UserAgentPatterns) > 0 {
		exp, err := regexp.Compile(p.UserAgentPatterns[0])
		if err != nil {
			return fmt.Errorf("userAgentPatterns[0] %q does not compile: %w", p.UserAgentPatterns[0], err)
		}
		p.userAgentExp = exp
	}

	return nil
}
