package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcer/internal/domain/candidate"
)

func TestDetectPrimaryType(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		primary AssetType
		multi   bool
	}{
		{name: "plain video", text: "找一些城市夜景的视频", primary: AssetVideo},
		{name: "audio only", text: "需要一段轻快的背景音乐 bgm", primary: AssetAudio},
		{name: "image only", text: "find some wallpapers of mountains", primary: AssetImage},
		{name: "explicit platform beats audio", text: "B站上那种配乐很燃的 bgm 合集", primary: AssetVideo, multi: true},
		{name: "bv id beats image", text: "BV1xx411c7mD 里面的图片", primary: AssetVideo},
		{name: "video and voice-over", text: "footage like this creator's videos, plus a cheap voice-over and BGM source", primary: AssetVideo, multi: true},
		{name: "web", text: "剪辑调色教程", primary: AssetWeb},
		{name: "default", text: "赛博朋克", primary: AssetVideo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Detect(tt.text, nil)
			assert.Equal(t, tt.primary, in.Primary)
			assert.Equal(t, tt.multi, in.MultiAsset)
		})
	}
}

func TestDetectConstraints(t *testing.T) {
	in := Detect("国外的可商用 royalty-free 海浪空镜，CC0 最好", nil)
	assert.Equal(t, PreferExternal, in.Preference)
	assert.True(t, in.HasLicense(LicenseRoyaltyFree))
	assert.True(t, in.HasLicense(LicenseCommercialUse))
	assert.True(t, in.HasLicense(LicenseCC0))
	assert.Contains(t, in.LicenseQueryTerms(), "CC0")

	nc := Detect("非商用也可以的抖音素材", nil)
	assert.True(t, nc.HasLicense(LicenseNonCommercial))
	assert.False(t, nc.HasLicense(LicenseCommercialUse))
	assert.Equal(t, PreferDomestic, nc.Preference)
	assert.Equal(t, []string{PlatformDouyin}, nc.Platforms)

	mixed := Detect("b站和youtube都要", nil)
	assert.Equal(t, PreferNone, mixed.Preference)
	assert.ElementsMatch(t, []string{PlatformBilibili, PlatformYouTube}, mixed.Platforms)
}

func TestDetectUsesQueries(t *testing.T) {
	in := Detect("同样风格的", []string{"lofi music"})
	assert.Equal(t, AssetAudio, in.Primary)
}

func TestPlatformAndVideoURL(t *testing.T) {
	assert.Equal(t, PlatformBilibili, PlatformOf("https://www.bilibili.com/video/BV1xx411c7mD"))
	assert.Equal(t, PlatformYouTube, PlatformOf("https://youtu.be/abc"))
	assert.Equal(t, "", PlatformOf("https://example.com/bilibili.com"))

	assert.True(t, IsVideoURL("https://www.bilibili.com/video/BV1xx411c7mD"))
	assert.True(t, IsVideoURL("https://b23.tv/AbCd12"))
	assert.True(t, IsVideoURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.True(t, IsVideoURL("https://youtu.be/dQw4w9WgXcQ"))
	assert.True(t, IsVideoURL("https://vimeo.com/123456"))
	assert.False(t, IsVideoURL("https://www.youtube.com/results?search_query=x"))
	assert.False(t, IsVideoURL("https://example.com/video/1"))
}

func TestIsVideoURLRejectsProfileAndSearchPages(t *testing.T) {
	videos := []string{
		"https://m.bilibili.com/video/BV1xx411c7mD?p=2",
		"https://www.bilibili.com/video/av170001",
		"https://www.bilibili.com/bangumi/play/ep12345",
		"https://www.douyin.com/video/7234567890123456789",
		"https://v.douyin.com/iRNBho6u/",
		"https://www.iesdouyin.com/share/video/7234567890123456789/",
		"https://www.xiaohongshu.com/explore/64a1b2c3d4e5f60718293a4b",
	}
	for _, u := range videos {
		assert.True(t, IsVideoURL(u), u)
	}
	pages := []string{
		"https://space.bilibili.com/12345",
		"https://search.bilibili.com/all?keyword=x",
		"https://www.bilibili.com/anime",
		"https://www.bilibili.com/video/",
		"https://www.douyin.com/user/",
		"https://www.douyin.com/user/MS4wLjABAAAA",
		"https://www.douyin.com/discover",
		"https://www.xiaohongshu.com/user/profile/5f0",
		"https://b23.tv/",
	}
	for _, u := range pages {
		assert.False(t, IsVideoURL(u), u)
	}
}

func TestExtractURLs(t *testing.T) {
	text := "参考这个 https://www.bilibili.com/video/BV1xx411c7mD/，还有 https://youtu.be/abc). 以及 https://www.bilibili.com/video/BV1xx411c7mD"
	got := ExtractURLs(text)
	require.Len(t, got, 2)
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx411c7mD/", got[0])
	assert.Equal(t, "https://youtu.be/abc", got[1])
	assert.Equal(t, "参考这个", StripURLs("参考这个 https://a.com/x"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"城市", "市夜", "夜景"}, Tokenize("城市夜景"))
	assert.Equal(t, []string{"cyberpunk", "neon", "4k"}, Tokenize("Find me cyberpunk NEON videos 4k"))
	assert.Equal(t, []string{"猫"}, Tokenize("猫"))
	assert.Equal(t, []string{"cat", "猫"}, FocusTokens("cat 猫 https://example.com/cat"))
}

func TestRankDropsZeroAndKeepsDiscoveryOrderOnTies(t *testing.T) {
	items := []candidate.Candidate{
		{ID: "l_1", URL: "https://example.com/a", Title: "ocean waves"},
		{ID: "l_2", URL: "https://example.com/b", Title: "unrelated"},
		{ID: "l_3", URL: "https://example.com/c", Title: "ocean sunset waves"},
		{ID: "l_4", URL: "https://example.com/d", Title: "sunset"},
		{ID: "l_5", URL: "https://example.com/e", Title: "ocean waves again"},
	}
	ranked := Rank(items, []string{"ocean", "waves"}, []string{"sunset"}, SearchIntent{})
	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"l_3", "l_1", "l_5", "l_4"}, ids)
	assert.Equal(t, 7.0, ranked[0].Relevance)
}

func TestPlatformBoost(t *testing.T) {
	bili := candidate.Candidate{URL: "https://www.bilibili.com/video/BV1", Title: "cat"}
	yt := candidate.Candidate{URL: "https://www.youtube.com/watch?v=1", Title: "cat"}
	domestic := SearchIntent{Preference: PreferDomestic}

	assert.Equal(t, 5.0, Score(bili, []string{"cat"}, nil, domestic))
	assert.Equal(t, 2.0, Score(yt, []string{"cat"}, nil, domestic))
	assert.Equal(t, 5.0, Score(yt, []string{"cat"}, nil, SearchIntent{Platforms: []string{PlatformYouTube}}))
	assert.Equal(t, -1.0, Score(yt, []string{"dog"}, nil, domestic))
}

func TestPreferNovel(t *testing.T) {
	items := []candidate.Candidate{
		{URL: "https://a.com/1"}, {URL: "https://a.com/2"}, {URL: "https://a.com/3"},
	}
	seen := SeenSet([]string{"https://a.com/1/", "https://a.com/3#x"})
	got := PreferNovel(items, seen, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "https://a.com/2", got[0].URL)
	assert.Equal(t, "https://a.com/1", got[1].URL)
	assert.Len(t, PreferNovel(items, seen, 5), 3)
	assert.Nil(t, PreferNovel(items, seen, 0))
}
