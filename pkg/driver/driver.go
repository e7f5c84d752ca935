// Package driver wires the crawl engine's components (Seeder, AddressBook,
// Scheduler) to the external Sinks (persistence, GeoIP, alert webhook) and
// runs either a single pass or a continuous loop.
package driver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/RaxTzu/AtlasP2P/pkg/addrbook"
	"github.com/RaxTzu/AtlasP2P/pkg/alert"
	"github.com/RaxTzu/AtlasP2P/pkg/chain"
	"github.com/RaxTzu/AtlasP2P/pkg/config"
	"github.com/RaxTzu/AtlasP2P/pkg/geoip"
	"github.com/RaxTzu/AtlasP2P/pkg/metrics"
	"github.com/RaxTzu/AtlasP2P/pkg/peer"
	"github.com/RaxTzu/AtlasP2P/pkg/scheduler"
	"github.com/RaxTzu/AtlasP2P/pkg/seeder"
	"github.com/RaxTzu/AtlasP2P/pkg/store"
	"github.com/RaxTzu/AtlasP2P/pkg/wire"
)

// Driver owns everything needed to run crawl passes against one chain.
type Driver struct {
	Profile  *chain.Profile
	Config   config.Crawler
	Seeder   *seeder.Seeder
	Repo     store.NodeRepository
	GeoIP    geoip.Lookuper
	Notifier *alert.Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// Dialer overrides the network dialer every PeerSession uses; nil
	// means the real network. Tests substitute a fake.
	Dialer peer.Dialer

	nonceSeed uint64

	// reachableSince remembers every endpoint classified Reachable in a
	// prior RunPass on this Driver, since a fresh Book is built each
	// pass and would otherwise forget it. RunPass is not safe to call
	// concurrently on the same Driver, same as nonceSeed above.
	reachableSince map[wire.Endpoint]bool
}

// New builds a Driver from its components. Any of Repo, GeoIP, Notifier,
// Metrics may be left at their zero value/nil; RunPass tolerates absent
// sinks.
func New(profile *chain.Profile, cfg config.Crawler, s *seeder.Seeder, repo store.NodeRepository, geo geoip.Lookuper, notifier *alert.Notifier, m *metrics.Metrics, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if geo == nil {
		geo = geoip.NullLookuper{}
	}
	return &Driver{Profile: profile, Config: cfg, Seeder: s, Repo: repo, GeoIP: geo, Notifier: notifier, Metrics: m, Logger: logger, reachableSince: make(map[wire.Endpoint]bool)}
}

// PassSummary is what RunPass returns for the caller (CLI, tests) to
// inspect or log.
type PassSummary struct {
	scheduler.Result
	NodesUpserted int
}

// RunPass executes exactly one crawl pass: seed, drain, persist, alert.
func (d *Driver) RunPass(ctx context.Context) (PassSummary, error) {
	book := addrbook.New("")
	if d.reachableSince != nil {
		known := make([]wire.Endpoint, 0, len(d.reachableSince))
		for e := range d.reachableSince {
			known = append(known, e)
		}
		book.SeedKnownReachable(known)
	}

	endpoints, err := d.Seeder.Seed(ctx, d.Profile)
	if err != nil {
		return PassSummary{}, err
	}
	for _, e := range endpoints {
		book.Admit(e, addrbook.SourceSeed)
	}

	sessionCfg := peer.Config{
		Profile:      d.Profile,
		GetAddrDelay: time.Duration(d.Config.GetAddrDelayMS) * time.Millisecond,
		Nonce:        d.nonce(),
		UserAgent:    "/atlascrawler:1.0.0/",
		Dialer:       d.Dialer,
	}

	factory := func(cand *addrbook.Candidate, attempt int, extended bool) scheduler.Runner {
		cfg := sessionCfg
		cfg.ConnectTimeout = time.Duration(d.Config.ConnectionTimeoutSeconds) * time.Second
		cfg.ReadTimeout = time.Duration(d.Config.ConnectionTimeoutSeconds) * time.Second
		if extended {
			cfg.ReadTimeout = time.Duration(d.Config.ExtendedTimeoutSeconds) * time.Second
		}
		if cand.LastErrorKind == peer.ErrHandshakeTimeout && len(d.Profile.FallbackProtocolVersions) > 0 {
			// The first retry after a handshake timeout is attempt 2 and
			// takes the first fallback version.
			idx := (attempt - 2) % len(d.Profile.FallbackProtocolVersions)
			cfg.ProtocolVersion = uint32(d.Profile.FallbackProtocolVersions[idx])
		}
		return peer.NewSession(cfg, cand.Endpoint, attempt)
	}

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent:  d.Config.MaxConcurrentConnections,
		SettleInterval: 2 * time.Second,
		ReportConfig: addrbook.ReportConfig{
			MaxRetries:             d.Config.MaxRetries,
			InitialRetryDelay:      time.Duration(d.Config.InitialRetryDelaySeconds * float64(time.Second)),
			RetryBackoffMultiplier: d.Config.RetryBackoffMultiplier,
			Jitter:                 scheduler.JitteredBackoff,
		},
	}, book, factory, d.Metrics, d.Logger)

	result := sched.Run(ctx)

	snapshot := book.Snapshot()
	d.rememberReachable(snapshot)

	upserted := d.persist(snapshot, book.Admissions())

	summary := PassSummary{Result: result, NodesUpserted: upserted}

	if d.Notifier != nil {
		d.Notifier.Notify(ctx, 10)
	}

	return summary, nil
}

// rememberReachable records every endpoint classified Reachable this pass
// so the next RunPass can seed its fresh Book with that history.
func (d *Driver) rememberReachable(snapshot []addrbook.Candidate) {
	if d.reachableSince == nil {
		d.reachableSince = make(map[wire.Endpoint]bool)
	}
	for _, cand := range snapshot {
		if cand.Classification == peer.Reachable {
			d.reachableSince[cand.Endpoint] = true
		}
	}
}

func (d *Driver) persist(snapshot []addrbook.Candidate, admissions int64) int {
	if d.Repo == nil {
		return 0
	}
	n := 0
	for _, cand := range snapshot {
		if d.Config.RequireVersionForSave && cand.VersionPayload == nil {
			continue
		}
		rec := store.NodeRecord{
			IP:             cand.Endpoint.IP,
			Port:           cand.Endpoint.Port,
			Chain:          d.Profile.Ticker,
			Classification: string(cand.Classification),
			Services:       cand.Services,
		}
		if cand.VersionPayload != nil {
			rec.ProtocolVersion = cand.VersionPayload.ProtocolVersion
			rec.UserAgent = cand.VersionPayload.UserAgent
			rec.StartHeight = cand.VersionPayload.StartHeight
		}
		geo := d.GeoIP.Lookup(cand.Endpoint.IP)
		rec.Country = geo.CountryCode
		rec.ASNOrg = geo.ASNOrg

		nodeID, err := d.Repo.UpsertNode(rec)
		if err != nil {
			d.Logger.Warn("upsert_node failed", zap.Error(err), zap.String("endpoint", cand.Endpoint.String()))
			continue
		}
		n++

		online := cand.Classification == peer.Reachable || cand.Classification == peer.Stale
		if err := d.Repo.AppendSnapshot(nodeID, online, nil, nil); err != nil {
			d.Logger.Warn("append_snapshot failed", zap.Error(err))
		}
	}

	if _, err := d.Repo.SaveNetworkSnapshot(d.Profile.Ticker, int(admissions), n); err != nil {
		d.Logger.Warn("save_network_snapshot failed", zap.Error(err))
	}
	if d.Config.PruneAfterHours > 0 {
		if _, err := d.Repo.PruneStale(d.Profile.Ticker, d.Config.PruneAfterHours); err != nil {
			d.Logger.Warn("prune_stale failed", zap.Error(err))
		}
	}
	return n
}

func (d *Driver) nonce() uint64 {
	d.nonceSeed++
	return uint64(time.Now().UnixNano()) ^ d.nonceSeed
}

// RunContinuous runs RunPass once immediately, then every
// ScanIntervalMinutes, until ctx is cancelled. An error from the first pass
// (no seeds produced a candidate) is returned at once; errors from later
// passes are logged and the loop goes on.
func (d *Driver) RunContinuous(ctx context.Context) error {
	interval := time.Duration(d.Config.ScanIntervalMinutes) * time.Minute
	for first := true; ; first = false {
		summary, err := d.RunPass(ctx)
		if err != nil {
			if first {
				return err
			}
			d.Logger.Error("pass failed", zap.Error(err))
		} else {
			d.Logger.Info("pass complete",
				zap.Int64("reachable", summary.Reachable),
				zap.Int64("unreachable", summary.Unreachable),
				zap.Int64("stale", summary.Stale),
				zap.Duration("duration", summary.Duration))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
