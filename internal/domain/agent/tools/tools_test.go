package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcer/internal/domain/agent/consent"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/ports/mocks"
	"sourcer/internal/domain/candidate"
)

func newEnv(consented bool) (*Env, *mocks.MockSearchProvider, *mocks.MockSearchProvider, *mocks.MockResolver) {
	video := &mocks.MockSearchProvider{NameValue: "bilibili"}
	web := &mocks.MockSearchProvider{NameValue: "tavily"}
	resolver := &mocks.MockResolver{}
	env := &Env{
		ProjectID:   "p1",
		Gate:        consent.NewGate(&mocks.MockConsentStore{Consented: consented}, nil),
		Registry:    candidate.NewRegistry(),
		VideoSearch: video,
		WebSearch:   web,
		Resolver:    resolver,
		VideoSites:  []string{"bilibili.com", "youtube.com", "vimeo.com"},
	}
	return env, video, web, resolver
}

func TestToolsFailClosedWithoutConsent(t *testing.T) {
	env, video, web, resolver := newEnv(false)
	reg := NewDefaultRegistry(env)
	calls := []ports.ToolCall{
		{ID: "1", Name: NameSearchBilibili, Arguments: map[string]any{"query": "猫"}},
		{ID: "2", Name: NameSearchVideoSites, Arguments: map[string]any{"query": "cat"}},
		{ID: "3", Name: NameSearchWeb, Arguments: map[string]any{"query": "cat"}},
		{ID: "4", Name: NameResolveURL, Arguments: map[string]any{"url": "https://youtu.be/abc"}},
	}
	results := reg.Batch(context.Background(), calls)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.NeedsConsent(), "call %s", r.CallID)
		assert.ErrorIs(t, r.Error, consent.ErrConsentRequired)
	}
	assert.True(t, AnyNeedsConsent(results))
	assert.Zero(t, video.Calls()+web.Calls()+resolver.Calls())
	assert.Zero(t, env.Registry.Len())
}

func TestSearchBilibiliKeepsPlatformVideos(t *testing.T) {
	env, video, _, _ := newEnv(true)
	video.SearchFunc = func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		assert.Equal(t, "bilibili", req.ProviderHint)
		assert.Equal(t, 3, req.NumResults)
		return []ports.SearchResult{
			{Title: "猫猫合集", URL: "https://www.bilibili.com/video/BV1aa411c7mD", Snippet: "可爱"},
			{Title: "space page", URL: "https://space.bilibili.com/123/"},
			{Title: "elsewhere", URL: "https://example.com/cat"},
			{Title: "dup", URL: "https://m.bilibili.com/video/BV1aa411c7mD?spm_id_from=1"},
		}, nil
	}
	res, err := NewSearchBilibili(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{"query": "猫", "num_results": 3.0}})
	require.NoError(t, err)
	require.NoError(t, res.Error)
	ids := res.Metadata[ports.MetaCandidateIDs].([]string)
	require.Len(t, ids, 1)
	assert.Equal(t, 1, env.Registry.Count(candidate.KindVideo))
	got, _ := env.Registry.Get(ids[0])
	assert.Equal(t, "dup", got.Title, "re-discovery merges last writer wins")
	assert.Contains(t, res.Content, ids[0])
}

func TestSearchBilibiliFallsBackToSitePinnedWeb(t *testing.T) {
	env, _, web, _ := newEnv(true)
	env.VideoSearch = nil
	web.SearchFunc = func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		assert.True(t, strings.HasPrefix(req.Query, "site:bilibili.com "))
		return []ports.SearchResult{{Title: "x", URL: "https://www.bilibili.com/video/BV1bb411c7mD"}}, nil
	}
	res, _ := NewSearchBilibili(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{"query": "x"}})
	require.NoError(t, res.Error)
	assert.Equal(t, 1, env.Registry.Len())

	env.WebSearch = nil
	res, _ = NewSearchBilibili(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{"query": "x"}})
	assert.Error(t, res.Error)
}

func TestSearchBilibiliRetriesWebWhenVideoProviderComesUpEmpty(t *testing.T) {
	for name, videoErr := range map[string]error{"empty": nil, "failing": errors.New("upstream 502")} {
		t.Run(name, func(t *testing.T) {
			env, video, web, _ := newEnv(true)
			video.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
				return nil, videoErr
			}
			web.SearchFunc = func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
				assert.Equal(t, "site:bilibili.com 夜景", req.Query)
				return []ports.SearchResult{{Title: "夜景延时", URL: "https://www.bilibili.com/video/BV1cc411c7mD"}}, nil
			}
			res, err := NewSearchBilibili(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{"query": "夜景"}})
			require.NoError(t, err)
			require.NoError(t, res.Error)
			ids := res.Metadata[ports.MetaCandidateIDs].([]string)
			require.Len(t, ids, 1)
			got, _ := env.Registry.Get(ids[0])
			assert.Equal(t, "夜景延时", got.Title)
			assert.Equal(t, "tavily", res.Metadata[ports.MetaProvider])
			assert.Equal(t, 1, video.Calls())
			assert.Equal(t, 1, web.Calls())
		})
	}
}

func TestSearchBilibiliStopsOnConsentDenialFromProvider(t *testing.T) {
	env, video, web, _ := newEnv(true)
	video.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		return nil, consent.ErrConsentRequired
	}
	res, _ := NewSearchBilibili(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{"query": "x"}})
	assert.True(t, res.NeedsConsent())
	assert.Zero(t, web.Calls())
}

func TestSearchVideoSitesFansOutPerSite(t *testing.T) {
	env, _, web, _ := newEnv(true)
	web.SearchFunc = func(_ context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
		switch {
		case strings.HasPrefix(req.Query, "site:youtube.com "):
			return []ports.SearchResult{
				{Title: "yt1", URL: "https://www.youtube.com/watch?v=aaaaaaaaaaa"},
				{Title: "yt2", URL: "https://www.youtube.com/watch?v=bbbbbbbbbbb"},
				{Title: "offsite", URL: "https://example.com/x"},
			}, nil
		case strings.HasPrefix(req.Query, "site:vimeo.com "):
			return []ports.SearchResult{{Title: "vm", URL: "https://vimeo.com/12345"}}, nil
		}
		return nil, fmt.Errorf("unexpected query %q", req.Query)
	}
	res, err := NewSearchVideoSites(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{
		"query": "ocean", "num_results": 3.0, "sites": []any{"https://www.youtube.com", "vimeo.com", "evil.com"},
	}})
	require.NoError(t, err)
	require.NoError(t, res.Error)
	assert.Equal(t, 2, web.Calls())

	ids := res.Metadata[ports.MetaCandidateIDs].([]string)
	require.Len(t, ids, 3)
	first, _ := env.Registry.Get(ids[0])
	second, _ := env.Registry.Get(ids[1])
	assert.Equal(t, "yt1", first.Title)
	assert.Equal(t, "vm", second.Title, "results interleave across sites")
	assert.Equal(t, 3, env.Registry.Count(candidate.KindVideo))
}

func TestSearchVideoSitesRejectsUnknownSites(t *testing.T) {
	env, _, web, _ := newEnv(true)
	res, _ := NewSearchVideoSites(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{"query": "x", "sites": []any{"evil.com"}}})
	assert.Error(t, res.Error)
	assert.Zero(t, web.Calls())
}

func TestSearchWebErrorIsShaped(t *testing.T) {
	env, _, web, _ := newEnv(true)
	web.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		return nil, errors.New("HTTP 503 upstream")
	}
	res, err := NewSearchWeb(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{"query": "bgm"}})
	require.NoError(t, err)
	assert.Error(t, res.Error)
	assert.False(t, res.NeedsConsent())
	assert.NotContains(t, res.Content, "503 upstream")
}

func TestResolveURLHydratesExistingCandidate(t *testing.T) {
	env, _, _, resolver := newEnv(true)
	c, _ := env.Registry.Upsert(candidate.Candidate{Kind: candidate.KindVideo, URL: "https://www.bilibili.com/video/BV1cc411c7mD"})
	resolver.ResolveFunc = func(_ context.Context, url, _ string) (*ports.ResolvedMedia, error) {
		return &ports.ResolvedMedia{Title: "真实标题", DurationSeconds: 95, Thumbnail: "https://i0.hdslb.com/x.jpg", Extractor: "bilibili", CanonicalURL: url}, nil
	}
	res, _ := NewResolveURL(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{"url": c.ID}})
	require.NoError(t, res.Error)
	got, _ := env.Registry.Get(c.ID)
	assert.Equal(t, "真实标题", got.Title)
	assert.True(t, got.Resolved)
	assert.Equal(t, []string{"https://www.bilibili.com/video/BV1cc411c7mD"}, resolver.URLs)
	assert.Equal(t, 1, env.Registry.Len())

	res, _ = NewResolveURL(env).Execute(context.Background(), ports.ToolCall{ID: "d", Arguments: map[string]any{"url": "v_ffffffffffffffff"}})
	assert.Error(t, res.Error)
}

func TestResolveURLRegistersUnknownURL(t *testing.T) {
	env, _, _, _ := newEnv(true)
	res, _ := NewResolveURL(env).Execute(context.Background(), ports.ToolCall{ID: "c", Arguments: map[string]any{"url": "https://example.com/page"}})
	require.NoError(t, res.Error)
	assert.Equal(t, 1, env.Registry.Count(candidate.KindLink))
}

func TestBatchCapsIsolatesAndPreservesOrder(t *testing.T) {
	reg := NewRegistry(nil)
	var running, peak atomic.Int32
	_ = reg.Register(&mocks.MockToolExecutor{Name: "slow", ExecuteFunc: func(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return &ports.ToolResult{Content: "ok " + call.ID}, nil
	}})
	_ = reg.Register(&mocks.MockToolExecutor{Name: "boom", ExecuteFunc: func(context.Context, ports.ToolCall) (*ports.ToolResult, error) {
		panic("kaboom")
	}})

	var (
		mu       sync.Mutex
		statuses []string
	)
	reg.WithObserver(func(_ string, status string, _ time.Duration) {
		mu.Lock()
		statuses = append(statuses, status)
		mu.Unlock()
	})

	calls := []ports.ToolCall{{ID: "0", Name: "boom"}, {ID: "1", Name: "missing"}}
	for i := 2; i < 9; i++ {
		calls = append(calls, ports.ToolCall{ID: fmt.Sprint(i), Name: "slow"})
	}
	results := reg.Batch(context.Background(), calls)
	require.Len(t, results, 9)
	for i, r := range results {
		assert.Equal(t, fmt.Sprint(i), r.CallID)
	}
	assert.Error(t, results[0].Error)
	assert.Error(t, results[1].Error)
	assert.Equal(t, "ok 2", results[2].Content)
	assert.NoError(t, results[5].Error)
	assert.Error(t, results[6].Error, "seventh call is over the cap")
	assert.Error(t, results[8].Error)
	assert.LessOrEqual(t, peak.Load(), int32(6))
	assert.Len(t, statuses, 9)
}

func TestDefinitionsSorted(t *testing.T) {
	env, _, _, _ := newEnv(true)
	defs := NewDefaultRegistry(env).Definitions()
	require.Len(t, defs, 4)
	assert.Equal(t, NameResolveURL, defs[0].Name)
	assert.Equal(t, NameSearchWeb, defs[3].Name)
}
