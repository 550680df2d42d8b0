// Package purge decides when a warmed URL still needs a CDN purge and
// performs the purge call against the Cloudflare zone API.
package purge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// ShouldPurge reports whether a warmed URL needs an explicit purge. Anything
// but a case-insensitive HIT purges, including the unknown sentinel: the
// policy favours freshness over purge-call minimisation, so a cold first
// crawl always purges once.
func ShouldPurge(edgeStatus string) bool {
	return !strings.EqualFold(strings.TrimSpace(edgeStatus), "HIT")
}

const defaultAPIBase = "https://api.cloudflare.com/client/v4"

// Client calls the Cloudflare cache purge API for one zone.
type Client struct {
	APIBase  string
	ZoneID   string
	APIToken string
	HTTP     *http.Client
}

// NewClient builds a purge client. Returns nil when credentials are not
// configured; a nil client is the degraded no-purge mode, not an error.
func NewClient(zoneID, apiToken string) *Client {
	if zoneID == "" || apiToken == "" {
		log.Warn().Msg("Cloudflare credentials not configured, purging disabled")
		return nil
	}

	return &Client{
		APIBase:  defaultAPIBase,
		ZoneID:   zoneID,
		APIToken: apiToken,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

type purgeRequest struct {
	Files []string `json:"files"`
}

type purgeResponse struct {
	Success bool `json:"success"`
}

// PurgeURL invalidates the CDN's cached copy of one URL. Failures are
// logged as warnings and captured in Sentry; they are never retried and
// never affect the warming outcome that triggered them.
func (c *Client) PurgeURL(ctx context.Context, targetURL string) error {
	body, err := json.Marshal(purgeRequest{Files: []string{targetURL}})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/zones/%s/purge_cache", c.APIBase, c.ZoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.warn(err, targetURL)
		return err
	}
	defer resp.Body.Close()

	var parsed purgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		err = fmt.Errorf("decode purge response: %w", err)
		c.warn(err, targetURL)
		return err
	}

	if !parsed.Success {
		err = fmt.Errorf("purge API reported failure: status %d", resp.StatusCode)
		c.warn(err, targetURL)
		return err
	}

	log.Debug().Str("url", targetURL).Msg("Purged CDN cache for URL")
	return nil
}

func (c *Client) warn(err error, targetURL string) {
	sentry.CaptureException(err)
	log.Warn().
		Err(err).
		Str("url", targetURL).
		Msg("Cache purge failed")
}
