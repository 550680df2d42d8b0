package warmer

import (
	"context"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/hearth-labs/ember/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Fetcher performs warming GETs for one target under that target's
// transport configuration.
type Fetcher struct {
	cfg     *config.Config
	target  config.Target
	colly   *colly.Collector
	limiter *rate.Limiter
}

// NewFetcher builds a Fetcher for a target: per-target user agent, optional
// proxy, browser-like headers and a timeout-bounded HTTP client.
func NewFetcher(cfg *config.Config, target config.Target) *Fetcher {
	c := colly.NewCollector(
		colly.UserAgent(target.UserAgent),
		colly.MaxDepth(1),
		colly.AllowURLRevisit(),
	)

	c.SetClient(&http.Client{
		Timeout: cfg.FetchTimeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 25,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     120 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableCompression:  true,
			ForceAttemptHTTP2:   true,
		},
	})

	if target.ProxyURL != "" {
		if err := c.SetProxy(target.ProxyURL); err != nil {
			log.Warn().
				Err(err).
				Str("region", target.Region).
				Str("proxy_url", target.ProxyURL).
				Msg("Invalid proxy URL, fetching directly")
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	return &Fetcher{
		cfg:     cfg,
		target:  target,
		colly:   c,
		limiter: limiter,
	}
}

// Fetch performs a warming GET with bounded retry. Only transient network
// failures are retried, with a fixed backoff, up to cfg.MaxRetries attempts;
// exhaustion returns the last transient error. Non-2xx HTTP statuses are
// successes at this level: the response arrived, so status and headers are
// captured and no retry happens.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*FetchOutcome, error) {
	var lastErr error

	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return &FetchOutcome{URL: targetURL, Attempts: attempt, Error: err.Error()}, err
			}
		}

		outcome, err := f.visit(ctx, targetURL)
		if err == nil {
			outcome.Attempts = attempt
			return outcome, nil
		}
		lastErr = err

		if classifyError(err) != errTransient {
			log.Debug().
				Err(err).
				Str("url", targetURL).
				Msg("Permanent fetch error, not retrying")
			return &FetchOutcome{URL: targetURL, Attempts: attempt, Error: err.Error()}, err
		}

		log.Warn().
			Err(err).
			Str("url", targetURL).
			Int("attempt", attempt).
			Int("max_retries", f.cfg.MaxRetries).
			Msg("Transient fetch error")

		if attempt < f.cfg.MaxRetries {
			select {
			case <-time.After(f.cfg.RetryDelay):
			case <-ctx.Done():
				return &FetchOutcome{URL: targetURL, Attempts: attempt, Error: ctx.Err().Error()}, ctx.Err()
			}
		}
	}

	return &FetchOutcome{URL: targetURL, Attempts: f.cfg.MaxRetries, Error: lastErr.Error()}, lastErr
}

// visit performs a single GET via a collector clone. Returns an error only
// for transport-level failures; HTTP error statuses produce an outcome.
func (f *Fetcher) visit(ctx context.Context, targetURL string) (*FetchOutcome, error) {
	start := time.Now()
	res := &FetchOutcome{URL: targetURL}

	clone := f.colly.Clone()

	clone.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	clone.OnResponse(func(r *colly.Response) {
		res.ResponseTime = time.Since(start).Milliseconds()
		res.StatusCode = r.StatusCode
		if r.Headers != nil {
			res.Headers = r.Headers.Clone()
		}
	})

	clone.OnError(func(r *colly.Response, err error) {
		res.ResponseTime = time.Since(start).Milliseconds()
		if r != nil && r.StatusCode > 0 {
			// A response arrived; the error is HTTP-level, not transport
			res.StatusCode = r.StatusCode
			if r.Headers != nil {
				res.Headers = r.Headers.Clone()
			}
		}
	})

	done := make(chan error, 1)
	go func() {
		if err := clone.Visit(targetURL); err != nil {
			done <- err
			return
		}
		clone.Wait()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil && res.StatusCode == 0 {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.Headers == nil {
		res.Headers = http.Header{}
	}

	return res, nil
}
