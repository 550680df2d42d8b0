package warmer

import "net/http"

// StatusUnknown is the sentinel for any cache field a response did not report.
const StatusUnknown = "unknown"

// FetchOutcome is the result of one warming attempt for one URL.
type FetchOutcome struct {
	URL          string      `json:"url"`
	StatusCode   int         `json:"status_code"`
	ResponseTime int64       `json:"response_time"`
	Headers      http.Header `json:"-"`
	Attempts     int         `json:"attempts"`
	Error        string      `json:"error,omitempty"`
}

// Classification is the normalised cache-status record derived from a
// response's headers. Every field is populated; missing headers yield the
// StatusUnknown sentinel rather than an empty string.
type Classification struct {
	OriginStatus string `json:"origin_cache_status"`
	EdgeStatus   string `json:"edge_cache_status"`
	EdgePOP      string `json:"edge_pop_id"`
	EdgeRegion   string `json:"edge_region"`
	RegionTag    string `json:"region_tag"`
}
