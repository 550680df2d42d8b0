package util

import (
	"net/url"
	"strings"
)

// NormaliseDomain removes http/https prefix and www. from domain
func NormaliseDomain(domain string) string {
	// Remove http:// or https:// prefix if present
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")

	// Remove www. prefix if present
	domain = strings.TrimPrefix(domain, "www.")

	// Remove trailing slash if present
	domain = strings.TrimSuffix(domain, "/")

	return domain
}

// NormaliseURL trims whitespace and validates that a URL is absolute.
// Returns "" for anything that cannot be fetched.
func NormaliseURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	return parsed.String()
}

// HostOf extracts the lowercased host of a URL with any leading www.
// stripped. Returns "" when the URL cannot be parsed.
func HostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ""
	}

	host := strings.ToLower(parsed.Host)
	return strings.TrimPrefix(host, "www.")
}

// SameHost reports whether two URLs share a host, ignoring a leading www.
// on either side. URLs that fail to parse never match.
func SameHost(a, b string) bool {
	hostA := HostOf(a)
	hostB := HostOf(b)
	return hostA != "" && hostA == hostB
}
