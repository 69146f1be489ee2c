package candidate

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.bilibili.com/video/BV1xx411c7mD/?spm_id_from=333.1007&vd_source=abc#reply", "https://www.bilibili.com/video/BV1xx411c7mD"},
		{"https://m.bilibili.com/video/BV1xx411c7mD", "https://www.bilibili.com/video/BV1xx411c7mD"},
		{"https://youtu.be/dQw4w9WgXcQ?si=track", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"HTTPS://WWW.YouTube.com/watch?v=dQw4w9WgXcQ&feature=share", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"https://example.com/a?b=2&a=1&utm_source=x", "https://example.com/a?a=1&b=2"},
		{"https://example.com/", "https://example.com"},
		{"  not a url/#frag ", "not a url"},
		{"http://m.bilibili.com:80/video/BV1?p=1", "http://www.bilibili.com/video/BV1?p=1"},
		{"https://youtu.be:443/dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"https://example.com:8443/x", "https://example.com:8443/x"},
	}
	for _, tt := range tests {
		got := NormalizeURL(tt.in)
		assert.Equal(t, tt.want, got, "NormalizeURL(%q)", tt.in)
		assert.Equal(t, got, NormalizeURL(got), "idempotent for %q", tt.in)
	}
}

func TestNormalizeURLStripsDefaultPortBeforeAliasing(t *testing.T) {
	once := NormalizeURL("http://m.bilibili.com:80/video/BV1?p=1")
	assert.Equal(t, "http://www.bilibili.com/video/BV1?p=1", once)
	assert.Equal(t, once, NormalizeURL(once))
	assert.Equal(t, ID(KindVideo, "http://m.bilibili.com:80/video/BV1?p=1"), ID(KindVideo, "http://bilibili.com/video/BV1?p=1"))
}

func TestDigestFlagsSeenAndCutsURLByRunes(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("视", 300)
	items := []Candidate{
		{ID: "v_a", Kind: KindVideo, URL: "https://m.bilibili.com/video/BV1xx411c7mD", Title: "shown before"},
		{ID: "l_b", Kind: KindLink, URL: long, Title: "long"},
	}
	seen := map[string]bool{NormalizeURL("https://www.bilibili.com/video/BV1xx411c7mD/"): true}

	lines := strings.Split(Digest(items, 10, seen), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, true, first["seen"])
	assert.NotContains(t, second, "seen")

	u := second["url"].(string)
	assert.True(t, utf8.ValidString(u))
	assert.Equal(t, digestURLRunes, utf8.RuneCountInString(u))
	assert.Equal(t, "(none yet)", Digest(nil, 10, nil))
}

func TestIDIsKindPrefixedAndStable(t *testing.T) {
	a := ID(KindVideo, "https://www.bilibili.com/video/BV1xx411c7mD/")
	b := ID(KindVideo, "https://m.bilibili.com/video/BV1xx411c7mD?vd_source=1")
	require.Equal(t, a, b)
	assert.Len(t, a, 2+16)
	assert.Equal(t, "v_", a[:2])
	assert.NotEqual(t, a, ID(KindLink, "https://www.bilibili.com/video/BV1xx411c7mD"))

	kind, ok := KindOfID(a)
	assert.True(t, ok)
	assert.Equal(t, KindVideo, kind)
}

func TestRegistryMergesLastWriterWins(t *testing.T) {
	r := NewRegistry()
	first, created := r.Upsert(Candidate{Kind: KindVideo, URL: "https://youtu.be/abc", Title: "Old", Snippet: "keep"})
	require.True(t, created)

	merged, created := r.Upsert(Candidate{Kind: KindVideo, URL: "https://www.youtube.com/watch?v=abc&si=x", Title: "New"})
	require.False(t, created)
	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, "New", merged.Title)
	assert.Equal(t, "keep", merged.Snippet)
	assert.Equal(t, 1, r.Len())

	_, created = r.Upsert(Candidate{Kind: KindLink, URL: "https://youtu.be/abc"})
	assert.True(t, created, "same url under a different kind is a distinct candidate")
	assert.Equal(t, 1, r.Count(KindVideo))
	assert.Equal(t, 1, r.Count(KindLink))
}

func TestRegistryIgnoresEmptyURL(t *testing.T) {
	r := NewRegistry()
	_, created := r.Upsert(Candidate{Kind: KindVideo, Title: "no url"})
	assert.False(t, created)
	assert.Zero(t, r.Len())
}

func TestRegistryConcurrentUpsertsAreMonotonic(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Upsert(Candidate{Kind: KindLink, URL: fmt.Sprintf("https://example.com/%d", i%20), Title: fmt.Sprintf("w%d", w)})
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())

	prev := r.Len()
	for i := 0; i < 30; i++ {
		r.Upsert(Candidate{Kind: KindLink, URL: fmt.Sprintf("https://example.com/%d", i)})
		require.GreaterOrEqual(t, r.Len(), prev)
		prev = r.Len()
	}
	for i, c := range r.All() {
		assert.Equal(t, i, c.Order)
	}
}

func TestRegistryHydrateKeepsID(t *testing.T) {
	r := NewRegistry()
	c, _ := r.Upsert(Candidate{Kind: KindVideo, URL: "https://b23.tv/xyz"})
	require.True(t, c.NeedsHydration())
	require.True(t, r.Hydrate(c.ID, Candidate{URL: "https://www.bilibili.com/video/BV1", Title: "Resolved", DurationSeconds: 61}))
	got, _ := r.Get(c.ID)
	assert.Equal(t, "https://b23.tv/xyz", got.URL)
	assert.True(t, got.Resolved)
	assert.False(t, got.NeedsHydration())
	assert.False(t, r.Hydrate("v_missing", Candidate{}))
}

func TestDedupeIsIdempotent(t *testing.T) {
	items := []Candidate{
		{Kind: KindVideo, URL: "https://youtu.be/a", Title: "A"},
		{Kind: KindLink, URL: "https://example.com/x"},
		{Kind: KindVideo, URL: "https://www.youtube.com/watch?v=a", Snippet: "snip"},
	}
	once := Dedupe(items)
	require.Len(t, once, 2)
	assert.Equal(t, "A", once[0].Title)
	assert.Equal(t, "snip", once[0].Snippet)
	assert.Equal(t, once, Dedupe(once))
}

func TestBlocksRoundTripThroughChatData(t *testing.T) {
	blocks := BuildBlocks(
		[]Candidate{{ID: "v_1", URL: "https://www.bilibili.com/video/BV1"}},
		[]Candidate{{ID: "l_1", URL: "https://example.com", Title: "Example"}},
	)
	require.Len(t, blocks, 2)
	assert.Equal(t, "https://www.bilibili.com/video/BV1", blocks[0].Videos[0].Title, "missing title falls back to url")

	decoded := BlocksFromData(map[string]any{"blocks": []any{
		map[string]any{"type": "links", "links": []any{map[string]any{"id": "l_1", "url": "https://example.com"}}},
	}})
	assert.Equal(t, []string{"https://example.com"}, URLs(decoded))
	assert.Equal(t, URLs(blocks), URLs(BlocksFromData(BlocksData(blocks))))
	assert.Empty(t, BuildBlocks(nil, nil))
}
