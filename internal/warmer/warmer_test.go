package warmer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hearth-labs/ember/internal/config"
	"github.com/hearth-labs/ember/internal/runlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher serves canned outcomes keyed by URL.
type stubFetcher struct {
	mu       sync.Mutex
	outcomes map[string]*FetchOutcome
	errs     map[string]error
	calls    []string
}

func (s *stubFetcher) Fetch(ctx context.Context, targetURL string) (*FetchOutcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, targetURL)
	s.mu.Unlock()

	if err, ok := s.errs[targetURL]; ok {
		return &FetchOutcome{URL: targetURL, Attempts: 1, Error: err.Error()}, err
	}
	if outcome, ok := s.outcomes[targetURL]; ok {
		return outcome, nil
	}
	return &FetchOutcome{URL: targetURL, StatusCode: http.StatusOK, Headers: http.Header{}, Attempts: 1}, nil
}

// stubPurger records purge calls.
type stubPurger struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubPurger) PurgeURL(ctx context.Context, targetURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, targetURL)
	return nil
}

func (s *stubPurger) purged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func warmerConfig() *config.Config {
	return &config.Config{
		BatchSize:  1,
		BatchDelay: time.Millisecond,
		MaxRetries: 3,
		Headers: config.CacheHeaders{
			Origin:   "X-Cache",
			Edge:     "CF-Cache-Status",
			Ray:      "CF-Ray",
			Platform: "X-Served-By",
		},
	}
}

func warmerTarget() config.Target {
	return config.Target{Region: "id", BaseURL: "https://example.test", UserAgent: "EmberTest/1.0"}
}

func outcomeWithEdgeStatus(url, status string) *FetchOutcome {
	headers := http.Header{}
	if status != "" {
		headers.Set("CF-Cache-Status", status)
	}
	return &FetchOutcome{URL: url, StatusCode: http.StatusOK, Headers: headers, Attempts: 1}
}

func TestWarmEndToEndScenario(t *testing.T) {
	// Spec scenario: two same-host URLs warmed with batchSize=1, one MISS
	// (purged) and one HIT (not purged)
	urls := []string{"https://example.test/a", "https://example.test/b"}

	fetcher := &stubFetcher{outcomes: map[string]*FetchOutcome{
		"https://example.test/a": outcomeWithEdgeStatus("https://example.test/a", "MISS"),
		"https://example.test/b": outcomeWithEdgeStatus("https://example.test/b", "HIT"),
	}}
	purger := &stubPurger{}
	runLog := runlog.New("")

	w := New(warmerConfig(), warmerTarget(), fetcher, purger, runLog)
	w.Warm(context.Background(), urls)

	rows := runLog.Rows()
	require.Len(t, rows, 2)

	// batchSize=1 keeps rows in original order
	assert.Equal(t, "https://example.test/a", rows[0].URL)
	assert.Equal(t, "MISS", rows[0].EdgeStatus)
	assert.False(t, rows[0].Failed)
	assert.Equal(t, "https://example.test/b", rows[1].URL)
	assert.Equal(t, "HIT", rows[1].EdgeStatus)

	assert.Equal(t, []string{"https://example.test/a"}, purger.purged())

	for _, row := range rows {
		assert.Equal(t, runLog.RunID(), row.RunID)
		assert.Equal(t, runLog.Started(), row.RunStarted)
	}
}

func TestWarmPurgePolicy(t *testing.T) {
	tests := []struct {
		name        string
		edgeStatus  string
		expectPurge bool
	}{
		{name: "miss_purges", edgeStatus: "MISS", expectPurge: true},
		{name: "expired_purges", edgeStatus: "EXPIRED", expectPurge: true},
		{name: "absent_status_purges", edgeStatus: "", expectPurge: true},
		{name: "hit_upper_skips", edgeStatus: "HIT", expectPurge: false},
		{name: "hit_lower_skips", edgeStatus: "hit", expectPurge: false},
		{name: "hit_mixed_skips", edgeStatus: "Hit", expectPurge: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "https://example.test/page"
			fetcher := &stubFetcher{outcomes: map[string]*FetchOutcome{
				url: outcomeWithEdgeStatus(url, tt.edgeStatus),
			}}
			purger := &stubPurger{}

			w := New(warmerConfig(), warmerTarget(), fetcher, purger, runlog.New(""))
			w.Warm(context.Background(), []string{url})

			if tt.expectPurge {
				assert.Equal(t, []string{url}, purger.purged())
			} else {
				assert.Empty(t, purger.purged())
			}
		})
	}
}

func TestWarmBatchIsolation(t *testing.T) {
	urls := []string{
		"https://example.test/ok1",
		"https://example.test/fails",
		"https://example.test/ok2",
	}

	fetcher := &stubFetcher{
		outcomes: map[string]*FetchOutcome{
			"https://example.test/ok1": outcomeWithEdgeStatus("https://example.test/ok1", "HIT"),
			"https://example.test/ok2": outcomeWithEdgeStatus("https://example.test/ok2", "HIT"),
		},
		errs: map[string]error{
			"https://example.test/fails": errors.New("connection reset by peer"),
		},
	}

	cfg := warmerConfig()
	cfg.BatchSize = 3 // single batch, all concurrent

	runLog := runlog.New("")
	w := New(cfg, warmerTarget(), fetcher, nil, runLog)
	w.Warm(context.Background(), urls)

	rows := runLog.Rows()
	require.Len(t, rows, 3, "one URL failing never blocks the rest of the batch")

	var failed, succeeded int
	for _, row := range rows {
		if row.Failed {
			failed++
			assert.Equal(t, "https://example.test/fails", row.URL)
			assert.Equal(t, "connection reset by peer", row.Message)
			assert.Equal(t, StatusUnknown, row.EdgeStatus)
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, succeeded)
}

func TestWarmFailureSkipsClassificationAndPurge(t *testing.T) {
	url := "https://example.test/down"
	fetcher := &stubFetcher{errs: map[string]error{url: errors.New("i/o timeout")}}
	purger := &stubPurger{}

	runLog := runlog.New("")
	w := New(warmerConfig(), warmerTarget(), fetcher, purger, runLog)
	w.Warm(context.Background(), []string{url})

	rows := runLog.Rows()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Failed)
	assert.Equal(t, "id", rows[0].RegionTag, "failure rows keep the configured region")
	assert.Empty(t, purger.purged(), "no purge on failed warm")
}

func TestWarmBatchingRespectsBatchSize(t *testing.T) {
	var urls []string
	for _, p := range []string{"/a", "/b", "/c", "/d", "/e"} {
		urls = append(urls, "https://example.test"+p)
	}

	fetcher := &stubFetcher{}
	cfg := warmerConfig()
	cfg.BatchSize = 2
	cfg.BatchDelay = 30 * time.Millisecond

	start := time.Now()
	runLog := runlog.New("")
	w := New(cfg, warmerTarget(), fetcher, nil, runLog)
	w.Warm(context.Background(), urls)

	// ceil(5/2) = 3 batches, 2 inter-batch delays
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Len(t, runLog.Rows(), 5)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Len(t, fetcher.calls, 5)
	// Batches preserve original order: /e is issued last
	assert.Equal(t, "https://example.test/e", fetcher.calls[4])
}

func TestWarmNilPurgerSkipsSilently(t *testing.T) {
	url := "https://example.test/cold"
	fetcher := &stubFetcher{outcomes: map[string]*FetchOutcome{
		url: outcomeWithEdgeStatus(url, "MISS"),
	}}

	runLog := runlog.New("")
	w := New(warmerConfig(), warmerTarget(), fetcher, nil, runLog)

	assert.NotPanics(t, func() {
		w.Warm(context.Background(), []string{url})
	})
	require.Len(t, runLog.Rows(), 1)
	assert.False(t, runLog.Rows()[0].Failed)
}

func TestWarmEmptyURLSet(t *testing.T) {
	fetcher := &stubFetcher{}
	runLog := runlog.New("")

	w := New(warmerConfig(), warmerTarget(), fetcher, nil, runLog)
	w.Warm(context.Background(), nil)

	assert.Empty(t, runLog.Rows())
	assert.Empty(t, fetcher.calls)
}
