// Package runlog accumulates the outcome rows of one warming run and
// flushes them once, as a single batch, to the remote log sink.
package runlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Row is one outcome appended to the run log. RunID, RunStarted and
// RunFinished are owned by the RunLog: the first two are stamped on append,
// the finish timestamp is backfilled uniformly at finalisation.
type Row struct {
	RunID        string    `json:"run_id"`
	RunStarted   time.Time `json:"run_started"`
	RunFinished  time.Time `json:"run_finished"`
	RegionTag    string    `json:"region"`
	URL          string    `json:"url"`
	StatusCode   int       `json:"status"`
	OriginStatus string    `json:"origin_cache_status"`
	EdgeStatus   string    `json:"edge_cache_status"`
	EdgePOP      string    `json:"edge_pop"`
	LatencyMS    int64     `json:"latency_ms"`
	Failed       bool      `json:"failed"`
	Message      string    `json:"message"`
}

// Columns is the ordered column list the sink receives. Row serialisation
// follows this order; the two are kept adjacent so the column set cannot
// drift from the row fields.
var Columns = []string{
	"run_id",
	"run_started",
	"run_finished",
	"region",
	"url",
	"status",
	"origin_cache_status",
	"edge_cache_status",
	"edge_pop",
	"latency_ms",
	"failed",
	"message",
}

func rowValues(r Row) []any {
	return []any{
		r.RunID,
		r.RunStarted.Format(time.RFC3339),
		r.RunFinished.Format(time.RFC3339),
		r.RegionTag,
		r.URL,
		r.StatusCode,
		r.OriginStatus,
		r.EdgeStatus,
		r.EdgePOP,
		r.LatencyMS,
		r.Failed,
		r.Message,
	}
}

// Run grouping names use a fixed UTC+7 offset so the sheet name is
// deterministic regardless of host timezone.
var sheetZone = time.FixedZone("UTC+7", 7*60*60)

// RunLog owns the run context: one run id, one start timestamp, one
// run-scoped sheet name, a finish timestamp set exactly once, and the
// ordered row sequence. Appends are safe from concurrent domain goroutines.
type RunLog struct {
	mu        sync.Mutex
	runID     string
	started   time.Time
	finished  time.Time
	sheetName string
	rows      []Row

	sinkURL  string
	client   *http.Client
	finalise sync.Once
	flush    sync.Once
}

// New creates the run context for one process invocation. An empty sinkURL
// disables remote logging without failing the run.
func New(sinkURL string) *RunLog {
	started := time.Now().UTC()
	return &RunLog{
		runID:     uuid.New().String(),
		started:   started,
		sheetName: "Warm " + started.In(sheetZone).Format("02 Jan 2006 15:04"),
		sinkURL:   sinkURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// RunID returns the run identifier shared by every row.
func (l *RunLog) RunID() string { return l.runID }

// SheetName returns the run-scoped log grouping name.
func (l *RunLog) SheetName() string { return l.sheetName }

// Started returns the run start timestamp.
func (l *RunLog) Started() time.Time { return l.started }

// Finished returns the finish timestamp, zero until finalisation.
func (l *RunLog) Finished() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished
}

// Append stamps the row with the run id and start timestamp and adds it to
// the run's row sequence. Rows arrive in fetch-completion order.
func (l *RunLog) Append(row Row) {
	row.RunID = l.runID
	row.RunStarted = l.started

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, row)
}

// Rows returns a copy of the accumulated rows.
func (l *RunLog) Rows() []Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Row, len(l.rows))
	copy(out, l.rows)
	return out
}

// Finalise sets the run finish timestamp and backfills it into every row.
// Safe to call more than once; only the first call takes effect. Must
// happen after all appends from all domains.
func (l *RunLog) Finalise() {
	l.finalise.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.finished = time.Now().UTC()
		for i := range l.rows {
			l.rows[i].RunFinished = l.finished
		}
	})
}

type sinkPayload struct {
	SheetName string   `json:"sheetName"`
	Headers   []string `json:"headers"`
	Rows      [][]any  `json:"rows"`
}

// Flush delivers the whole run to the sink in one POST. It runs at most
// once per RunLog; sink absence or failure is a warning, never a run
// failure, and the flush is not retried.
func (l *RunLog) Flush(ctx context.Context) {
	l.flush.Do(func() {
		if l.sinkURL == "" {
			log.Warn().Msg("Log sink not configured, run log not delivered")
			return
		}

		rows := l.Rows()
		payload := sinkPayload{
			SheetName: l.sheetName,
			Headers:   Columns,
			Rows:      make([][]any, 0, len(rows)),
		}
		for _, row := range rows {
			payload.Rows = append(payload.Rows, rowValues(row))
		}

		body, err := json.Marshal(payload)
		if err != nil {
			l.warn(err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.sinkURL, bytes.NewReader(body))
		if err != nil {
			l.warn(err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			l.warn(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			l.warn(fmt.Errorf("log sink replied %d", resp.StatusCode))
			return
		}

		log.Info().
			Str("run_id", l.runID).
			Str("sheet_name", l.sheetName).
			Int("rows", len(rows)).
			Msg("Run log flushed to sink")
	})
}

func (l *RunLog) warn(err error) {
	sentry.CaptureException(err)
	log.Warn().
		Err(err).
		Str("run_id", l.runID).
		Msg("Failed to deliver run log to sink")
}
