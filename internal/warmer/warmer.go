// Package warmer drives the warming pipeline for one domain target:
// batched concurrent fetches with bounded retry, response classification
// and the purge decision, with outcomes appended to the run log.
package warmer

import (
	"context"
	"sync"
	"time"

	"github.com/hearth-labs/ember/internal/config"
	"github.com/hearth-labs/ember/internal/purge"
	"github.com/hearth-labs/ember/internal/runlog"
	"github.com/hearth-labs/ember/internal/util"
	"github.com/rs/zerolog/log"
)

// FetchClient performs one warming fetch.
type FetchClient interface {
	Fetch(ctx context.Context, targetURL string) (*FetchOutcome, error)
}

// Purger invalidates a CDN's cached copy of one URL.
type Purger interface {
	PurgeURL(ctx context.Context, targetURL string) error
}

// Warmer schedules the warm of one target's discovered URL set.
type Warmer struct {
	cfg     *config.Config
	target  config.Target
	fetcher FetchClient
	purger  Purger // nil when purge credentials are not configured
	runLog  *runlog.RunLog
}

// New builds a Warmer for one target. purger may be nil; purge calls are
// then skipped silently.
func New(cfg *config.Config, target config.Target, fetcher FetchClient, purger Purger, runLog *runlog.RunLog) *Warmer {
	return &Warmer{
		cfg:     cfg,
		target:  target,
		fetcher: fetcher,
		purger:  purger,
		runLog:  runLog,
	}
}

// Warm processes the URL set in consecutive fixed-size batches, preserving
// the original order across batches. URLs within a batch run concurrently
// and the batch is joined before the next one starts; an inter-batch delay
// throttles outbound request rate. A URL failure never aborts its batch.
func (w *Warmer) Warm(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}

	batchSize := w.cfg.BatchSize
	domain := util.NormaliseDomain(w.target.BaseURL)

	log.Info().
		Str("region", w.target.Region).
		Str("domain", domain).
		Int("url_count", len(urls)).
		Int("batch_size", batchSize).
		Msg("Starting warm")

	for start := 0; start < len(urls); start += batchSize {
		end := start + batchSize
		if end > len(urls) {
			end = len(urls)
		}

		var wg sync.WaitGroup
		for _, u := range urls[start:end] {
			wg.Add(1)
			go func(targetURL string) {
				defer wg.Done()
				w.warmOne(ctx, targetURL)
			}(u)
		}
		wg.Wait()

		if end < len(urls) {
			select {
			case <-time.After(w.cfg.BatchDelay):
			case <-ctx.Done():
				log.Warn().
					Str("region", w.target.Region).
					Int("warmed", end).
					Int("url_count", len(urls)).
					Msg("Warm cancelled between batches")
				return
			}
		}
	}

	log.Info().
		Str("region", w.target.Region).
		Str("domain", domain).
		Int("url_count", len(urls)).
		Msg("Warm complete")
}

// warmOne fetches a single URL, classifies the response and applies the
// purge decision. Failures become failure rows; they never propagate.
func (w *Warmer) warmOne(ctx context.Context, targetURL string) {
	start := time.Now()

	outcome, err := w.fetcher.Fetch(ctx, targetURL)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		statusCode := 0
		if outcome != nil {
			statusCode = outcome.StatusCode
		}
		w.runLog.Append(runlog.Row{
			RegionTag:    w.target.Region,
			URL:          targetURL,
			StatusCode:   statusCode,
			OriginStatus: StatusUnknown,
			EdgeStatus:   StatusUnknown,
			EdgePOP:      StatusUnknown,
			LatencyMS:    latency,
			Failed:       true,
			Message:      err.Error(),
		})
		return
	}

	cls := Classify(outcome.Headers, w.cfg.Headers, w.target.Region)

	log.Debug().
		Str("url", targetURL).
		Int("status", outcome.StatusCode).
		Str("origin_cache_status", cls.OriginStatus).
		Str("edge_cache_status", cls.EdgeStatus).
		Str("edge_pop", cls.EdgePOP).
		Int64("latency_ms", latency).
		Msg("URL warmed")

	w.runLog.Append(runlog.Row{
		RegionTag:    cls.RegionTag,
		URL:          targetURL,
		StatusCode:   outcome.StatusCode,
		OriginStatus: cls.OriginStatus,
		EdgeStatus:   cls.EdgeStatus,
		EdgePOP:      cls.EdgePOP,
		LatencyMS:    latency,
		Message:      "",
	})

	if purge.ShouldPurge(cls.EdgeStatus) {
		if w.purger == nil {
			log.Debug().Str("url", targetURL).Msg("Purge needed but purging is disabled")
			return
		}
		// Purge failures are handled inside the client; the outcome row
		// for this URL is already appended and stays untouched.
		_ = w.purger.PurgeURL(ctx, targetURL)
	}
}
