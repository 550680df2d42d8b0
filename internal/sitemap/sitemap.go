// Package sitemap discovers a domain's published URL inventory from its
// sitemap, handling both the sitemap-index and flat urlset shapes.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hearth-labs/ember/internal/config"
	"github.com/hearth-labs/ember/internal/util"
	"github.com/rs/zerolog/log"
)

// SitemapIndex is the <sitemapindex> document shape, listing child sitemaps.
type SitemapIndex struct {
	XMLName  xml.Name  `xml:"sitemapindex"`
	Sitemaps []Sitemap `xml:"sitemap"`
}

type Sitemap struct {
	Loc string `xml:"loc"`
}

// URLSet is the flat <urlset> document shape, listing page URLs directly.
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []URL    `xml:"url"`
}

type URL struct {
	Loc string `xml:"loc"`
}

// Discoverer fetches and parses sitemaps for one target.
type Discoverer struct {
	client *http.Client
	target config.Target
}

// New creates a Discoverer using the target's transport settings.
func New(target config.Target, timeout time.Duration) *Discoverer {
	transport := &http.Transport{}
	if target.ProxyURL != "" {
		if proxyURL, err := url.Parse(target.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			log.Warn().Err(err).Str("proxy_url", target.ProxyURL).Msg("Invalid proxy URL, fetching sitemaps directly")
		}
	}

	return &Discoverer{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		target: target,
	}
}

// Discover produces the target's discovered URL set: absolute URLs from its
// sitemap(s), deduplicated and filtered to the target's own host. Failures
// contribute zero URLs and never abort the run.
func (d *Discoverer) Discover(ctx context.Context) []string {
	target := d.target
	entryPoints := []string{
		target.BaseURL + "/sitemap_index.xml",
		target.BaseURL + "/sitemap.xml",
	}

	var urls []string
	for _, entryPoint := range entryPoints {
		parsed, err := d.parseSitemap(ctx, entryPoint, 0)
		if err != nil {
			log.Warn().
				Err(err).
				Str("region", target.Region).
				Str("sitemap_url", entryPoint).
				Msg("Failed to fetch or parse sitemap, skipping")
			continue
		}
		if len(parsed) > 0 {
			urls = parsed
			break
		}
	}

	// Deduplicate and reject third-party loc entries
	seen := make(map[string]bool)
	var filtered []string
	for _, raw := range urls {
		u := util.NormaliseURL(raw)
		if u == "" {
			log.Debug().Str("invalid_url", raw).Msg("Skipping invalid URL from sitemap")
			continue
		}
		if !util.SameHost(u, target.BaseURL) {
			log.Debug().Str("url", u).Str("base_url", target.BaseURL).Msg("Skipping cross-host URL from sitemap")
			continue
		}
		if !seen[u] {
			seen[u] = true
			filtered = append(filtered, u)
		}
	}

	log.Info().
		Str("region", target.Region).
		Str("domain", util.NormaliseDomain(target.BaseURL)).
		Int("url_count", len(filtered)).
		Msg("Sitemap discovery complete")

	return filtered
}

// maxSitemapDepth bounds child sitemap recursion so a sitemap index that
// references itself cannot loop.
const maxSitemapDepth = 3

func (d *Discoverer) parseSitemap(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	if depth > maxSitemapDepth {
		return nil, fmt.Errorf("sitemap nesting exceeds depth %d", maxSitemapDepth)
	}

	body, err := d.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	// Try the index shape first; an unmarshal error here just means the
	// document root was not <sitemapindex>, so fall back to the flat urlset
	var index SitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil {
		var urls []string
		for _, child := range index.Sitemaps {
			childURL := util.NormaliseURL(child.Loc)
			if childURL == "" {
				log.Warn().Str("url", child.Loc).Msg("Invalid child sitemap URL, skipping")
				continue
			}

			childURLs, err := d.parseSitemap(ctx, childURL, depth+1)
			if err != nil {
				log.Warn().Err(err).Str("url", childURL).Msg("Failed to parse child sitemap")
				continue
			}
			urls = append(urls, childURLs...)
		}
		return urls, nil
	}

	var set URLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}

	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		urls = append(urls, u.Loc)
	}

	log.Debug().
		Str("sitemap_url", sitemapURL).
		Int("url_count", len(urls)).
		Msg("Extracted URLs from sitemap")

	return urls, nil
}

func (d *Discoverer) fetch(ctx context.Context, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.target.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch sitemap: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
