package warmer

import (
	"net/http"
	"strings"

	"github.com/hearth-labs/ember/internal/config"
)

// Classify maps raw response headers into a Classification. Pure function:
// no I/O, no failure mode. fallbackRegion is the target's configured region
// code, used as the region tag when the CDN did not report an edge location.
func Classify(headers http.Header, names config.CacheHeaders, fallbackRegion string) Classification {
	cls := Classification{
		OriginStatus: headerOrUnknown(headers, names.Origin),
		EdgeStatus:   headerOrUnknown(headers, names.Edge),
		EdgePOP:      parsePOP(headers.Get(names.Platform)),
		EdgeRegion:   parseRayRegion(headers.Get(names.Ray)),
	}

	cls.RegionTag = cls.EdgeRegion
	if cls.RegionTag == StatusUnknown {
		cls.RegionTag = fallbackRegion
	}

	return cls
}

func headerOrUnknown(headers http.Header, name string) string {
	if v := strings.TrimSpace(headers.Get(name)); v != "" {
		return v
	}
	return StatusUnknown
}

// parseRayRegion extracts the trailing edge/region code from a CDN ray id,
// e.g. "8f1a2b3c4d5e6f70-SIN" -> "SIN".
func parseRayRegion(ray string) string {
	ray = strings.TrimSpace(ray)
	if ray == "" || !strings.Contains(ray, "-") {
		return StatusUnknown
	}

	segments := strings.Split(ray, "-")
	region := strings.TrimSpace(segments[len(segments)-1])
	if region == "" {
		return StatusUnknown
	}
	return region
}

// parsePOP extracts the leading point-of-presence code from a platform
// identifier, e.g. "sin1::cache-sin1930023" -> "sin1".
func parsePOP(platform string) string {
	platform = strings.TrimSpace(platform)
	if platform == "" {
		return StatusUnknown
	}

	pop := strings.TrimSpace(strings.SplitN(platform, "::", 2)[0])
	if pop == "" {
		return StatusUnknown
	}
	return pop
}
