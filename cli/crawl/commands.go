// Package crawl wires the urfave/cli commands that drive the crawl engine
// from the command line: a single "once" pass and a "continuous" loop.
package crawl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/RaxTzu/AtlasP2P/pkg/alert"
	"github.com/RaxTzu/AtlasP2P/pkg/config"
	"github.com/RaxTzu/AtlasP2P/pkg/driver"
	"github.com/RaxTzu/AtlasP2P/pkg/geoip"
	"github.com/RaxTzu/AtlasP2P/pkg/metrics"
	"github.com/RaxTzu/AtlasP2P/pkg/seeder"
	"github.com/RaxTzu/AtlasP2P/pkg/store"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config, c",
		Usage: "Path to the crawler configuration YAML file",
		Value: "config.yml",
	}
	chainFlag = cli.StringFlag{
		Name:     "chain",
		Usage:    "Path to the chain profile YAML file (magic bytes, seeds, protocol version)",
		Required: true,
	}
)

// NewCommands returns the "crawl" command and its subcommands.
func NewCommands() []cli.Command {
	return []cli.Command{{
		Name:  "crawl",
		Usage: "discover and classify peers on a Bitcoin-derived P2P network",
		Subcommands: []cli.Command{
			{
				Name:   "once",
				Usage:  "run a single crawl pass and exit",
				Action: runOnce,
				Flags:  []cli.Flag{configFlag, chainFlag},
			},
			{
				Name:   "continuous",
				Usage:  "run crawl passes on a loop until interrupted",
				Action: runContinuous,
				Flags:  []cli.Flag{configFlag, chainFlag},
			},
		},
	}}
}

// exit codes: 0 clean, 1 fatal configuration error, 2 no seeds produced any
// candidate on the first pass.
func buildDriver(ctx *cli.Context) (*driver.Driver, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("crawl: building logger: %w", err)
	}

	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	profile, err := config.LoadProfile(ctx.String("chain"))
	if err != nil {
		return nil, err
	}

	var repo store.NodeRepository
	if cfg.DatabasePath != "" {
		repo, err = store.NewLevelDBStore(context.Background(), cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("crawl: opening store at %q: %w", cfg.DatabasePath, err)
		}
	} else {
		repo = store.NewMemoryStore()
	}

	var geoLookup geoip.Lookuper = geoip.NullLookuper{}
	if cfg.GeoIPDBPath != "" {
		cached, err := geoip.NewCachingLookuper(geoip.NullLookuper{})
		if err != nil {
			return nil, fmt.Errorf("crawl: building geoip cache: %w", err)
		}
		geoLookup = cached
	}

	var notifier *alert.Notifier
	if cfg.AlertWebhookURL != "" {
		notifier = alert.NewNotifier(cfg.AlertWebhookURL, cfg.AlertAPIKey, logger)
	}

	m := metrics.NewMetrics()

	return driver.New(profile, cfg, seeder.New(logger), repo, geoLookup, notifier, m, logger), nil
}

func runOnce(ctx *cli.Context) error {
	d, err := buildDriver(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	summary, err := d.RunPass(context.Background())
	if err != nil {
		return cli.NewExitError(err, 2)
	}

	d.Logger.Info("pass complete",
		zap.Int64("reachable", summary.Reachable),
		zap.Int64("unreachable", summary.Unreachable),
		zap.Int64("stale", summary.Stale))
	return nil
}

func runContinuous(ctx *cli.Context) error {
	d, err := buildDriver(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.RunContinuous(sigCtx); err != nil && sigCtx.Err() == nil {
		return cli.NewExitError(err, 2)
	}
	return nil
}
