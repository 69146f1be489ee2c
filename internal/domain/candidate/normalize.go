package candidate

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are dropped before hashing. Prefix entries end with "*".
var trackingParams = []string{
	"utm_*", "share_*", "spm_id_from", "vd_source", "fbclid", "gclid", "si",
	"feature", "from", "seid", "igshid", "ref", "ref_src", "timestamp",
	"unique_k", "bbid", "ts",
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	for _, p := range trackingParams {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
			continue
		}
		if key == p {
			return true
		}
	}
	return false
}

var hostAliases = map[string]string{
	"bilibili.com":      "www.bilibili.com",
	"m.bilibili.com":    "www.bilibili.com",
	"youtube.com":       "www.youtube.com",
	"m.youtube.com":     "www.youtube.com",
	"music.youtube.com": "www.youtube.com",
}

// NormalizeURL returns the dedup key form of raw. It is idempotent:
// NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		fallback, _, _ := strings.Cut(raw, "#")
		return strings.TrimSuffix(strings.ToLower(fallback), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.Host = stripDefaultPort(u.Scheme, u.Host)

	if u.Host == "youtu.be" {
		id := strings.Trim(u.Path, "/")
		if id != "" {
			q := u.Query()
			q.Set("v", id)
			u.Host = "www.youtube.com"
			u.Path = "/watch"
			u.RawQuery = q.Encode()
		}
	}
	if alias, ok := hostAliases[u.Host]; ok {
		u.Host = alias
	}

	q := u.Query()
	keys := make([]string, 0, len(q))
	for key := range q {
		if isTrackingParam(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		values := q[key]
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	u.ForceQuery = false

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

func stripDefaultPort(scheme, host string) string {
	switch {
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	}
	return host
}

// ID returns the stable candidate id for (kind, url): a kind prefix plus the
// first 16 hex characters of sha1 over the normalized url.
func ID(kind Kind, rawURL string) string {
	sum := sha1.Sum([]byte(NormalizeURL(rawURL)))
	return kind.prefix() + hex.EncodeToString(sum[:])[:16]
}
