// Package notifications posts an optional run summary to Slack.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/hearth-labs/ember/internal/runlog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// SendRunSummary posts a one-message summary of the finished run to a Slack
// webhook. Failures are warnings; the run outcome is unaffected.
func SendRunSummary(ctx context.Context, webhookURL string, runLog *runlog.RunLog) {
	if webhookURL == "" {
		return
	}

	rows := runLog.Rows()
	var failed int
	regions := make(map[string]struct{})
	for _, row := range rows {
		if row.Failed {
			failed++
		}
		regions[row.RegionTag] = struct{}{}
	}

	duration := runLog.Finished().Sub(runLog.Started()).Round(time.Second)
	text := fmt.Sprintf(
		"Cache warming complete: %d rows across %d regions in %s, %d failed (run %s)",
		len(rows), len(regions), duration, failed, runLog.RunID(),
	)

	msg := &slack.WebhookMessage{Text: text}
	if err := slack.PostWebhookContext(ctx, webhookURL, msg); err != nil {
		log.Warn().
			Err(err).
			Str("run_id", runLog.RunID()).
			Msg("Failed to post Slack run summary")
		return
	}

	log.Info().Str("run_id", runLog.RunID()).Msg("Slack run summary posted")
}
