// Package config loads the crawler's operational settings with precedence
// env > file > defaults, and the per-chain Profile from its own YAML
// document.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/RaxTzu/AtlasP2P/pkg/chain"
)

// Crawler holds every tunable on the configuration surface.
type Crawler struct {
	ScanIntervalMinutes      int     `yaml:"scanIntervalMinutes"`
	MaxConcurrentConnections int     `yaml:"maxConcurrentConnections"`
	ConnectionTimeoutSeconds int     `yaml:"connectionTimeoutSeconds"`
	ExtendedTimeoutSeconds   int     `yaml:"extendedTimeoutSeconds"`
	MaxRetries               int     `yaml:"maxRetries"`
	InitialRetryDelaySeconds float64 `yaml:"initialRetryDelaySeconds"`
	RetryBackoffMultiplier   float64 `yaml:"retryBackoffMultiplier"`
	FallbackProtocolVersions []int   `yaml:"fallbackProtocolVersions"`
	RequireVersionForSave    bool    `yaml:"requireVersionForSave"`
	PruneAfterHours          int     `yaml:"pruneAfterHours"`
	GetAddrDelayMS           int     `yaml:"getaddrDelayMs"`

	DatabasePath    string `yaml:"databasePath"`
	GeoIPDBPath     string `yaml:"geoipDbPath"`
	AlertWebhookURL string `yaml:"alertWebhookUrl"`
	AlertAPIKey     string `yaml:"alertApiKey"`
}

// Defaults returns the built-in fallback values, used when neither a file
// nor an environment variable supplies a setting.
func Defaults() Crawler {
	return Crawler{
		ScanIntervalMinutes:      60,
		MaxConcurrentConnections: 100,
		ConnectionTimeoutSeconds: 10,
		ExtendedTimeoutSeconds:   30,
		MaxRetries:               3,
		InitialRetryDelaySeconds: 1,
		RetryBackoffMultiplier:   2,
		RequireVersionForSave:    true,
		PruneAfterHours:          24,
		GetAddrDelayMS:           1000,
		DatabasePath:             "./data/crawler.db",
	}
}

// Load builds the merged Crawler configuration: start from Defaults(),
// overlay a YAML file at path (if it exists), then overlay recognized
// environment variables. A missing file is not an error; a malformed one
// is.
func Load(path string) (Crawler, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Crawler{}, fmt.Errorf("config: reading %q: %w", path, err)
			}
		} else {
			var fromFile Crawler
			if err := yaml.Unmarshal(raw, &fromFile); err != nil {
				return Crawler{}, fmt.Errorf("config: parsing %q: %w", path, err)
			}
			cfg = mergeNonZero(cfg, fromFile)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Crawler{}, err
	}
	return cfg, nil
}

// mergeNonZero overlays every non-zero-valued field of overlay onto base.
// YAML documents are expected to specify the options they care about and
// leave the rest absent (and thus zero), so this has the effect of a
// partial overlay without reflection.
func mergeNonZero(base, overlay Crawler) Crawler {
	if overlay.ScanIntervalMinutes != 0 {
		base.ScanIntervalMinutes = overlay.ScanIntervalMinutes
	}
	if overlay.MaxConcurrentConnections != 0 {
		base.MaxConcurrentConnections = overlay.MaxConcurrentConnections
	}
	if overlay.ConnectionTimeoutSeconds != 0 {
		base.ConnectionTimeoutSeconds = overlay.ConnectionTimeoutSeconds
	}
	if overlay.ExtendedTimeoutSeconds != 0 {
		base.ExtendedTimeoutSeconds = overlay.ExtendedTimeoutSeconds
	}
	if overlay.MaxRetries != 0 {
		base.MaxRetries = overlay.MaxRetries
	}
	if overlay.InitialRetryDelaySeconds != 0 {
		base.InitialRetryDelaySeconds = overlay.InitialRetryDelaySeconds
	}
	if overlay.RetryBackoffMultiplier != 0 {
		base.RetryBackoffMultiplier = overlay.RetryBackoffMultiplier
	}
	if len(overlay.FallbackProtocolVersions) > 0 {
		base.FallbackProtocolVersions = overlay.FallbackProtocolVersions
	}
	base.RequireVersionForSave = overlay.RequireVersionForSave || base.RequireVersionForSave
	if overlay.PruneAfterHours != 0 {
		base.PruneAfterHours = overlay.PruneAfterHours
	}
	if overlay.GetAddrDelayMS != 0 {
		base.GetAddrDelayMS = overlay.GetAddrDelayMS
	}
	if overlay.DatabasePath != "" {
		base.DatabasePath = overlay.DatabasePath
	}
	if overlay.GeoIPDBPath != "" {
		base.GeoIPDBPath = overlay.GeoIPDBPath
	}
	if overlay.AlertWebhookURL != "" {
		base.AlertWebhookURL = overlay.AlertWebhookURL
	}
	if overlay.AlertAPIKey != "" {
		base.AlertAPIKey = overlay.AlertAPIKey
	}
	return base
}

func applyEnvOverrides(cfg *Crawler) {
	if v, ok := envInt("CRAWLER_SCAN_INTERVAL_MINUTES"); ok {
		cfg.ScanIntervalMinutes = v
	}
	if v, ok := envInt("CRAWLER_MAX_CONCURRENT_CONNECTIONS"); ok {
		cfg.MaxConcurrentConnections = v
	}
	if v, ok := envInt("CRAWLER_CONNECTION_TIMEOUT_SECONDS"); ok {
		cfg.ConnectionTimeoutSeconds = v
	}
	if v, ok := envInt("CRAWLER_EXTENDED_TIMEOUT_SECONDS"); ok {
		cfg.ExtendedTimeoutSeconds = v
	}
	if v, ok := envInt("CRAWLER_MAX_RETRIES"); ok {
		cfg.MaxRetries = v
	}
	if v, ok := envFloat("CRAWLER_INITIAL_RETRY_DELAY_SECONDS"); ok {
		cfg.InitialRetryDelaySeconds = v
	}
	if v, ok := envFloat("CRAWLER_RETRY_BACKOFF_MULTIPLIER"); ok {
		cfg.RetryBackoffMultiplier = v
	}
	if v, ok := os.LookupEnv("CRAWLER_FALLBACK_PROTOCOL_VERSIONS"); ok && v != "" {
		var versions []int
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err == nil {
				versions = append(versions, n)
			}
		}
		if len(versions) > 0 {
			cfg.FallbackProtocolVersions = versions
		}
	}
	if v, ok := os.LookupEnv("CRAWLER_REQUIRE_VERSION_FOR_SAVE"); ok {
		cfg.RequireVersionForSave = v == "true" || v == "1"
	}
	if v, ok := envInt("CRAWLER_PRUNE_AFTER_HOURS"); ok {
		cfg.PruneAfterHours = v
	}
	if v, ok := envInt("CRAWLER_GETADDR_DELAY_MS"); ok {
		cfg.GetAddrDelayMS = v
	}
	if v, ok := os.LookupEnv("CRAWLER_DATABASE_PATH"); ok && v != "" {
		cfg.DatabasePath = v
	}
	if v, ok := os.LookupEnv("CRAWLER_GEOIP_DB_PATH"); ok && v != "" {
		cfg.GeoIPDBPath = v
	}
	if v, ok := os.LookupEnv("CRAWLER_ALERT_WEBHOOK_URL"); ok && v != "" {
		cfg.AlertWebhookURL = v
	}
	if v, ok := os.LookupEnv("CRAWLER_ALERT_API_KEY"); ok && v != "" {
		cfg.AlertAPIKey = v
	}
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Validate enforces the configuration surface's documented bounds.
func (c Crawler) Validate() error {
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("config: maxRetries must be between 0 and 10, got %d", c.MaxRetries)
	}
	if c.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("config: retryBackoffMultiplier must be >= 1, got %f", c.RetryBackoffMultiplier)
	}
	if c.MaxConcurrentConnections <= 0 {
		return fmt.Errorf("config: maxConcurrentConnections must be positive, got %d", c.MaxConcurrentConnections)
	}
	if c.ConnectionTimeoutSeconds <= 0 {
		return fmt.Errorf("config: connectionTimeoutSeconds must be positive, got %d", c.ConnectionTimeoutSeconds)
	}
	if c.ExtendedTimeoutSeconds < c.ConnectionTimeoutSeconds {
		return fmt.Errorf("config: extendedTimeoutSeconds (%d) must be >= connectionTimeoutSeconds (%d)", c.ExtendedTimeoutSeconds, c.ConnectionTimeoutSeconds)
	}
	if c.InitialRetryDelaySeconds <= 0 {
		return fmt.Errorf("config: initialRetryDelaySeconds must be positive, got %f", c.InitialRetryDelaySeconds)
	}
	return nil
}

// LoadProfile loads a ChainProfile from its own YAML document and compiles
// it.
func LoadProfile(path string) (*chain.Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading chain profile %q: %w", path, err)
	}
	var p chain.Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("config: parsing chain profile %q: %w", path, err)
	}
	if err := p.Compile(); err != nil {
		return nil, fmt.Errorf("config: invalid chain profile %q: %w", path, err)
	}
	return &p, nil
}
