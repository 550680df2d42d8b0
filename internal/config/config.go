package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Target identifies one region's site to warm, with its transport settings.
// Immutable for the lifetime of a run.
type Target struct {
	Region    string // Region code, used as the fallback region tag
	BaseURL   string // Site base URL whose sitemap is crawled
	UserAgent string // User agent sent with every request for this target
	ProxyURL  string // Optional outbound proxy
}

// CacheHeaders names the response headers the classifier reads.
// Defaults cover Cloudflare in front of an origin cache; deployments
// behind other stacks override via environment.
type CacheHeaders struct {
	Origin   string // Origin/edge-layer cache status (e.g. X-Cache)
	Edge     string // CDN cache status (e.g. CF-Cache-Status)
	Ray      string // CDN ray/trace id, region code in the last dash segment
	Platform string // Reverse-proxy id, POP in the first double-colon segment
}

// Config holds the full run configuration, built once at startup from the
// environment and passed by reference. No component reads the environment
// after this point.
type Config struct {
	Targets []Target

	UserAgent       string        // Default user agent when a target has none
	BatchSize       int           // URLs fetched concurrently per batch
	BatchDelay      time.Duration // Delay between consecutive batches
	MaxRetries      int           // Fetch attempts for transient failures
	RetryDelay      time.Duration // Fixed backoff between attempts
	RateLimit       int           // Max outbound requests per second per target
	SitemapTimeout  time.Duration // Timeout for sitemap fetches
	FetchTimeout    time.Duration // Timeout for warming fetches
	Headers         CacheHeaders

	CloudflareZoneID   string // Purge API zone; purging disabled when empty
	CloudflareAPIToken string // Purge API bearer token

	LogSinkURL      string // Run log sink; remote logging disabled when empty
	SlackWebhookURL string // Run summary webhook; disabled when empty

	Env       string // Environment (development/production)
	LogLevel  string // Log level (debug, info, warn, error)
	SentryDSN string // Sentry DSN for error tracking
}

const defaultUserAgent = "Ember/1.0 (+https://github.com/hearth-labs/ember)"

// FromEnv builds the run configuration from environment variables.
// Only missing regions or base URLs are fatal; every other knob is
// optional and degrades gracefully.
func FromEnv() (*Config, error) {
	cfg := &Config{
		UserAgent:      getEnvWithDefault("USER_AGENT", defaultUserAgent),
		BatchSize:      getEnvInt("BATCH_SIZE", 1),
		BatchDelay:     time.Duration(getEnvInt("BATCH_DELAY_MS", 2000)) * time.Millisecond,
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryDelay:     2 * time.Second,
		RateLimit:      getEnvInt("RATE_LIMIT", 5),
		SitemapTimeout: time.Duration(getEnvInt("SITEMAP_TIMEOUT_SECONDS", 15)) * time.Second,
		FetchTimeout:   time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		Headers: CacheHeaders{
			Origin:   getEnvWithDefault("CACHE_HEADER_ORIGIN", "X-Cache"),
			Edge:     getEnvWithDefault("CACHE_HEADER_EDGE", "CF-Cache-Status"),
			Ray:      getEnvWithDefault("CACHE_HEADER_RAY", "CF-Ray"),
			Platform: getEnvWithDefault("CACHE_HEADER_PLATFORM", "X-Served-By"),
		},
		CloudflareZoneID:   os.Getenv("CF_ZONE_ID"),
		CloudflareAPIToken: os.Getenv("CF_API_TOKEN"),
		LogSinkURL:         os.Getenv("LOG_SINK_URL"),
		SlackWebhookURL:    os.Getenv("SLACK_WEBHOOK_URL"),
		Env:                getEnvWithDefault("APP_ENV", "development"),
		LogLevel:           getEnvWithDefault("LOG_LEVEL", "info"),
		SentryDSN:          os.Getenv("SENTRY_DSN"),
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	regions := strings.Split(os.Getenv("WARM_REGIONS"), ",")
	for _, region := range regions {
		region = strings.TrimSpace(region)
		if region == "" {
			continue
		}

		key := strings.ToUpper(strings.ReplaceAll(region, "-", "_"))
		baseURL := os.Getenv("BASE_URL_" + key)
		if baseURL == "" {
			return nil, fmt.Errorf("region %q listed in WARM_REGIONS but BASE_URL_%s is not set", region, key)
		}

		cfg.Targets = append(cfg.Targets, Target{
			Region:    region,
			BaseURL:   strings.TrimSuffix(baseURL, "/"),
			UserAgent: getEnvWithDefault("USER_AGENT_"+key, cfg.UserAgent),
			ProxyURL:  os.Getenv("PROXY_URL_" + key),
		})
	}

	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no warm targets configured: set WARM_REGIONS and BASE_URL_<REGION>")
	}

	return cfg, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns a default value if not set or invalid
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result int
	if _, err := fmt.Sscanf(value, "%d", &result); err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}

	return result
}
