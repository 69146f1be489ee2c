// Package search implements ports.SearchProvider backends: Tavily for web
// search, DuckDuckGo HTML as a keyless fallback, and the Bilibili search API
// for platform-pinned video lookups. Chain and Cached compose them.
package search

import (
	"net/url"
	"strings"
)

// SplitSite pulls a leading or embedded "site:<domain>" operator out of
// query. Providers without native operator support pass the domain as a
// filter instead.
func SplitSite(query string) (site, rest string) {
	fields := strings.Fields(query)
	kept := fields[:0:0]
	for _, f := range fields {
		if site == "" && strings.HasPrefix(strings.ToLower(f), "site:") {
			site = strings.ToLower(strings.TrimSpace(f[len("site:"):]))
			continue
		}
		kept = append(kept, f)
	}
	return site, strings.Join(kept, " ")
}

// HostMatches reports whether rawURL is on site or one of its subdomains.
func HostMatches(rawURL, site string) bool {
	if site == "" {
		return true
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	site = strings.TrimPrefix(strings.ToLower(site), "www.")
	return host == site || strings.HasSuffix(host, "."+site)
}

// filterSite drops results outside site. Some backends treat site: as a
// ranking hint rather than a filter.
func filterSite(results []Result, site string) []Result {
	if site == "" {
		return results
	}
	out := results[:0]
	for _, r := range results {
		if HostMatches(r.URL, site) {
			out = append(out, r)
		}
	}
	return out
}

func clampResults(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
