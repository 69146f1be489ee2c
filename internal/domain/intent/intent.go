// Package intent classifies a creative request into the asset type the user
// wants, infers advisory constraints, and ranks candidates against it.
package intent

import (
	"regexp"
	"strings"
)

// AssetType is the inferred kind of asset requested.
type AssetType string

const (
	AssetVideo AssetType = "video"
	AssetAudio AssetType = "audio"
	AssetImage AssetType = "image"
	AssetWeb   AssetType = "web"
)

// Preference is a domestic-vs-external platform leaning.
type Preference string

const (
	PreferNone     Preference = ""
	PreferDomestic Preference = "domestic"
	PreferExternal Preference = "external"
)

// License terms the user may ask for. These are requests, never verified.
const (
	LicenseRoyaltyFree   = "royalty-free"
	LicenseCommercialUse = "commercial-use"
	LicenseCC0           = "cc0"
	LicenseAttribution   = "attribution-required"
	LicenseNonCommercial = "non-commercial"
)

// SearchIntent is derived per pass from the raw text and query history.
type SearchIntent struct {
	Primary    AssetType  `json:"primary"`
	Video      bool       `json:"video"`
	Audio      bool       `json:"audio"`
	Image      bool       `json:"image"`
	Web        bool       `json:"web"`
	MultiAsset bool       `json:"multi_asset"`
	Licenses   []string   `json:"licenses,omitempty"`
	Platforms  []string   `json:"platforms,omitempty"`
	Preference Preference `json:"preference,omitempty"`
}

var (
	explicitVideoPattern = regexp.MustCompile(`(?i)(bilibili|哔哩|b站|youtube|油管|抖音|douyin|tiktok|vimeo|西瓜视频|快手|小红书|\bBV[0-9A-Za-z]{10}\b|\bav\d{5,}\b|youtu\.be/|watch\?v=)`)
	videoPattern         = regexp.MustCompile(`(?i)(视频|片段|镜头|空镜|画面|混剪|影像|footage|video|clip|b-roll|broll|vlog|shots?\b|stock footage)`)
	audioPattern         = regexp.MustCompile(`(?i)(音乐|配乐|背景音|bgm|音效|配音|旁白|人声|歌曲|\bmusic\b|\baudio\b|sound ?effects?|\bsfx\b|voice-?over|narration|soundtrack)`)
	imagePattern         = regexp.MustCompile(`(?i)(图片|照片|插画|壁纸|海报|配图|\bimages?\b|\bphotos?\b|pictures?|illustrations?|wallpapers?)`)
	webPattern           = regexp.MustCompile(`(?i)(教程|文章|网站|资料|博客|新闻|tutorials?|articles?|guides?|websites?|docs?\b|blog)`)
)

var licensePatterns = []struct {
	term    string
	pattern *regexp.Regexp
}{
	{LicenseRoyaltyFree, regexp.MustCompile(`(?i)(免版税|无版权|版权免费|免费素材|royalty[- ]?free|copyright[- ]?free|no copyright)`)},
	{LicenseCommercialUse, regexp.MustCompile(`(?i)(可商用|能商用|商用|commercial[- ]use|for commercial)`)},
	{LicenseCC0, regexp.MustCompile(`(?i)(cc0|公共领域|public domain)`)},
	{LicenseAttribution, regexp.MustCompile(`(?i)(署名|注明出处|attribution|cc[- ]by\b)`)},
	{LicenseNonCommercial, nonCommercialPattern},
}

var nonCommercialPattern = regexp.MustCompile(`(?i)(非商用|非商业|non-?commercial)`)

var (
	domesticPattern = regexp.MustCompile(`(?i)(国内|大陆|中文|b站|bilibili|哔哩|抖音|douyin|小红书|西瓜|快手)`)
	externalPattern = regexp.MustCompile(`(?i)(国外|海外|外网|外国|英文|international|youtube|油管|vimeo|pexels|pixabay|tiktok)`)
)

var platformPatterns = []struct {
	platform string
	pattern  *regexp.Regexp
}{
	{PlatformBilibili, regexp.MustCompile(`(?i)(bilibili|哔哩|b站|\bBV[0-9A-Za-z]{10}\b)`)},
	{PlatformYouTube, regexp.MustCompile(`(?i)(youtube|油管|youtu\.be)`)},
	{PlatformDouyin, regexp.MustCompile(`(?i)(抖音|douyin)`)},
	{PlatformXiaohongshu, regexp.MustCompile(`(?i)(小红书|xiaohongshu)`)},
	{PlatformVimeo, regexp.MustCompile(`(?i)vimeo`)},
	{PlatformTikTok, regexp.MustCompile(`(?i)tiktok`)},
	{PlatformPexels, regexp.MustCompile(`(?i)pexels`)},
	{PlatformPixabay, regexp.MustCompile(`(?i)pixabay`)},
}

// Detect classifies text, plus any queries already issued this turn.
// Explicit video signals override audio and image signals for the primary
// type; a request naming both video and audio is MultiAsset.
func Detect(text string, queries []string) SearchIntent {
	haystack := text
	if len(queries) > 0 {
		haystack += "\n" + strings.Join(queries, "\n")
	}

	explicit := explicitVideoPattern.MatchString(haystack)
	in := SearchIntent{
		Video: explicit || videoPattern.MatchString(haystack),
		Audio: audioPattern.MatchString(haystack),
		Image: imagePattern.MatchString(haystack),
		Web:   webPattern.MatchString(haystack),
	}

	switch {
	case explicit:
		in.Primary = AssetVideo
	case in.Audio && !in.Video:
		in.Primary = AssetAudio
	case in.Image && !in.Video:
		in.Primary = AssetImage
	case in.Video:
		in.Primary = AssetVideo
	case in.Web:
		in.Primary = AssetWeb
	default:
		in.Primary = AssetVideo
	}
	in.MultiAsset = in.Video && in.Audio

	// "非商用" contains "商用", so commercial use is matched with the
	// non-commercial phrases blanked out.
	withoutNonCommercial := nonCommercialPattern.ReplaceAllString(haystack, " ")
	for _, lp := range licensePatterns {
		source := haystack
		if lp.term == LicenseCommercialUse {
			source = withoutNonCommercial
		}
		if lp.pattern.MatchString(source) {
			in.Licenses = append(in.Licenses, lp.term)
		}
	}

	for _, pp := range platformPatterns {
		if pp.pattern.MatchString(text) {
			in.Platforms = append(in.Platforms, pp.platform)
		}
	}

	domestic := domesticPattern.MatchString(text)
	external := externalPattern.MatchString(text)
	switch {
	case domestic && !external:
		in.Preference = PreferDomestic
	case external && !domestic:
		in.Preference = PreferExternal
	}
	return in
}

// HasLicense reports whether term was requested.
func (in SearchIntent) HasLicense(term string) bool {
	for _, l := range in.Licenses {
		if l == term {
			return true
		}
	}
	return false
}

// LicenseQueryTerms returns search keywords that steer toward the requested
// license terms.
func (in SearchIntent) LicenseQueryTerms() string {
	var terms []string
	for _, l := range in.Licenses {
		switch l {
		case LicenseRoyaltyFree:
			terms = append(terms, "royalty free")
		case LicenseCommercialUse:
			terms = append(terms, "free for commercial use")
		case LicenseCC0:
			terms = append(terms, "CC0")
		case LicenseAttribution:
			terms = append(terms, "creative commons")
		}
	}
	return strings.Join(terms, " ")
}

// Summary is a one-line description for prompts and traces.
func (in SearchIntent) Summary() string {
	parts := []string{"primary=" + string(in.Primary)}
	if in.MultiAsset {
		parts = append(parts, "multi_asset")
	}
	if len(in.Licenses) > 0 {
		parts = append(parts, "licenses="+strings.Join(in.Licenses, ","))
	}
	if len(in.Platforms) > 0 {
		parts = append(parts, "platforms="+strings.Join(in.Platforms, ","))
	}
	if in.Preference != PreferNone {
		parts = append(parts, "prefer="+string(in.Preference))
	}
	return strings.Join(parts, " ")
}
