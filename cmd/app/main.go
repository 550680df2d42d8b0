package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hearth-labs/ember/internal/config"
	"github.com/hearth-labs/ember/internal/notifications"
	"github.com/hearth-labs/ember/internal/purge"
	"github.com/hearth-labs/ember/internal/runlog"
	"github.com/hearth-labs/ember/internal/sitemap"
	"github.com/hearth-labs/ember/internal/util"
	"github.com/hearth-labs/ember/internal/warmer"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	cfg, err := config.FromEnv()
	if err != nil {
		// A malformed configuration is the only non-zero exit path
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg)

	// Initialise Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			AttachStacktrace: true,
			Debug:            cfg.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", cfg.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	run(context.Background(), cfg)
}

// run executes one warming run across all configured targets and always
// exits cleanly: per-URL and per-domain failures are recorded in the run
// log, never escalated.
func run(ctx context.Context, cfg *config.Config) {
	runLog := runlog.New(cfg.LogSinkURL)

	log.Info().
		Str("run_id", runLog.RunID()).
		Str("sheet_name", runLog.SheetName()).
		Int("targets", len(cfg.Targets)).
		Int("batch_size", cfg.BatchSize).
		Msg("Starting warming run")

	// The purge client is shared by all targets; nil means purge disabled
	var purger warmer.Purger
	if client := purge.NewClient(cfg.CloudflareZoneID, cfg.CloudflareAPIToken); client != nil {
		purger = client
	}

	// Finalise and flush exactly once, even if a domain panics out of its
	// goroutine via the errgroup
	defer func() {
		runLog.Finalise()

		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		runLog.Flush(flushCtx)

		notifications.SendRunSummary(flushCtx, cfg.SlackWebhookURL, runLog)

		log.Info().
			Str("run_id", runLog.RunID()).
			Int("rows", len(runLog.Rows())).
			Msg("Warming run complete")
	}()

	// All targets run concurrently; warmDomain never returns an error, so
	// one domain cannot cancel its siblings
	var g errgroup.Group
	for _, target := range cfg.Targets {
		g.Go(func() error {
			warmDomain(ctx, cfg, target, purger, runLog)
			return nil
		})
	}
	g.Wait()
}

// warmDomain runs Discovery and the batch scheduler for one target and
// appends the per-domain discovery summary row.
func warmDomain(ctx context.Context, cfg *config.Config, target config.Target, purger warmer.Purger, runLog *runlog.RunLog) {
	discoverer := sitemap.New(target, cfg.SitemapTimeout)
	urls := discoverer.Discover(ctx)

	runLog.Append(runlog.Row{
		RegionTag:    target.Region,
		URL:          target.BaseURL,
		OriginStatus: warmer.StatusUnknown,
		EdgeStatus:   warmer.StatusUnknown,
		EdgePOP:      warmer.StatusUnknown,
		Message:      fmt.Sprintf("discovered %d URLs for %s", len(urls), util.NormaliseDomain(target.BaseURL)),
	})

	fetcher := warmer.NewFetcher(cfg, target)
	warmer.New(cfg, target, fetcher, purger, runLog).Warm(ctx, urls)
}

// setupLogging configures the logging system
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "ember").
			Logger()
	}
}
