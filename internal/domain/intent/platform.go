package intent

import (
	"net/url"
	"regexp"
	"strings"
)

// Platform identifiers.
const (
	PlatformBilibili    = "bilibili"
	PlatformYouTube     = "youtube"
	PlatformDouyin      = "douyin"
	PlatformXiaohongshu = "xiaohongshu"
	PlatformXigua       = "xigua"
	PlatformKuaishou    = "kuaishou"
	PlatformVimeo       = "vimeo"
	PlatformTikTok      = "tiktok"
	PlatformPexels      = "pexels"
	PlatformPixabay     = "pixabay"
)

var hostPlatforms = []struct {
	suffix   string
	platform string
}{
	{"bilibili.com", PlatformBilibili},
	{"b23.tv", PlatformBilibili},
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"douyin.com", PlatformDouyin},
	{"iesdouyin.com", PlatformDouyin},
	{"xiaohongshu.com", PlatformXiaohongshu},
	{"xhslink.com", PlatformXiaohongshu},
	{"ixigua.com", PlatformXigua},
	{"kuaishou.com", PlatformKuaishou},
	{"vimeo.com", PlatformVimeo},
	{"tiktok.com", PlatformTikTok},
	{"pexels.com", PlatformPexels},
	{"pixabay.com", PlatformPixabay},
}

var domesticPlatforms = map[string]bool{
	PlatformBilibili: true, PlatformDouyin: true, PlatformXiaohongshu: true,
	PlatformXigua: true, PlatformKuaishou: true,
}

// IsDomestic reports whether platform is a mainland-China platform.
func IsDomestic(platform string) bool {
	return domesticPlatforms[platform]
}

// PlatformOf maps a url to a known platform id, or "" for the open web.
func PlatformOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, hp := range hostPlatforms {
		if host == hp.suffix || strings.HasSuffix(host, "."+hp.suffix) {
			return hp.platform
		}
	}
	return ""
}

var videoPathPatterns = map[string]*regexp.Regexp{
	PlatformBilibili:    regexp.MustCompile(`^/(video/(BV[0-9A-Za-z]{10}|av\d+)|bangumi/play/(ep|ss)\d+)`),
	PlatformYouTube:     regexp.MustCompile(`^/(watch|shorts/|live/|embed/|[\w-]{11}$)`),
	PlatformDouyin:      regexp.MustCompile(`^/(video/\d+|share/video/\d+|note/\d+)`),
	PlatformXiaohongshu: regexp.MustCompile(`^/(explore/[0-9a-f]+|discovery/item/[0-9a-f]+)`),
	PlatformXigua:       regexp.MustCompile(`^/\d+`),
	PlatformKuaishou:    regexp.MustCompile(`^/short-video/`),
	PlatformVimeo:       regexp.MustCompile(`^/\d+`),
	PlatformTikTok:      regexp.MustCompile(`/video/\d+`),
	PlatformPexels:      regexp.MustCompile(`^/(\w{2}-\w{2}/)?video/`),
	PlatformPixabay:     regexp.MustCompile(`^/videos/`),
}

// shortLinkHosts redirect to a single post, so any non-empty path is taken
// as a video.
var shortLinkHosts = map[string]bool{
	"b23.tv":       true,
	"youtu.be":     true,
	"v.douyin.com": true,
	"xhslink.com":  true,
}

// IsVideoURL reports whether rawURL points at a playable video page.
func IsVideoURL(rawURL string) bool {
	platform := PlatformOf(rawURL)
	pattern, ok := videoPathPatterns[platform]
	if !ok {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	path := u.EscapedPath()
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if shortLinkHosts[host] {
		return strings.Trim(path, "/") != ""
	}
	return pattern.MatchString(path)
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'\x{3000}-\x{303F}\x{FF00}-\x{FFEF}]+`)

// ExtractURLs returns the distinct http(s) urls in text, in order of
// appearance, with trailing punctuation removed.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?)]}>'\"")
		if len(m) <= len("https://") {
			continue
		}
		key := strings.ToLower(strings.TrimSuffix(m, "/"))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// StripURLs removes every url from text.
func StripURLs(text string) string {
	return strings.TrimSpace(urlPattern.ReplaceAllString(text, " "))
}
