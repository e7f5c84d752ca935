package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUsesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().MaxConcurrentConnections, cfg.MaxConcurrentConnections)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxConcurrentConnections: 42\nmaxRetries: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.MaxConcurrentConnections)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, Defaults().ScanIntervalMinutes, cfg.ScanIntervalMinutes)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxRetries: 5\n"), 0o644))

	t.Setenv("CRAWLER_MAX_RETRIES", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestValidateRejectsOutOfRangeMaxRetries(t *testing.T) {
	cfg := Defaults()
	cfg.MaxRetries = 11
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSubUnityBackoff(t *testing.T) {
	cfg := Defaults()
	cfg.RetryBackoffMultiplier = 0.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsExtendedTimeoutBelowConnectionTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.ConnectionTimeoutSeconds = 30
	cfg.ExtendedTimeoutSeconds = 10
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsExtendedTimeoutEqualToConnectionTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.ConnectionTimeoutSeconds = 10
	cfg.ExtendedTimeoutSeconds = 10
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveInitialRetryDelay(t *testing.T) {
	cfg := Defaults()
	cfg.InitialRetryDelaySeconds = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadProfileCompilesChainProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bitcoin.yaml")
	doc := `
name: Bitcoin
ticker: BTC
p2pPort: 8333
protocolVersion: 70015
minimumVersion: 70001
magicBytes: f9beb4d9
dnsSeeds:
  - seed.bitcoin.sipa.be
userAgentPatterns:
  - /Satoshi:([0-9.]+)/
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin", profile.Name)
	assert.Equal(t, "25.0.0", profile.UserAgentVersion("/Satoshi:25.0.0/"))
}
