package toolagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcer/internal/domain/agent/consent"
	"sourcer/internal/domain/agent/plan"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/ports/mocks"
	"sourcer/internal/domain/agent/present"
	"sourcer/internal/domain/agent/tools"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
)

type handler func(req ports.CompletionRequest) (*ports.CompletionResponse, error)

func scriptedLLM(handlers map[Node]handler) *mocks.MockLLMClient {
	return &mocks.MockLLMClient{
		ToolCalling: true,
		CompleteFunc: func(_ context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			node, _ := req.Metadata["node"].(string)
			for n, h := range handlers {
				if n.String() == node {
					return h(req)
				}
			}
			return &ports.CompletionResponse{}, nil
		},
	}
}

func requestsFor(llm *mocks.MockLLMClient, node Node) []ports.CompletionRequest {
	var out []ports.CompletionRequest
	for _, req := range llm.Requests {
		if req.Metadata["node"] == node.String() {
			out = append(out, req)
		}
	}
	return out
}

type fixture struct {
	env      *tools.Env
	video    *mocks.MockSearchProvider
	web      *mocks.MockSearchProvider
	resolver *mocks.MockResolver
}

func newFixture(consented bool) *fixture {
	f := &fixture{
		video:    &mocks.MockSearchProvider{NameValue: "bilibili"},
		web:      &mocks.MockSearchProvider{NameValue: "tavily"},
		resolver: &mocks.MockResolver{},
	}
	f.env = &tools.Env{
		ProjectID:   "p1",
		Gate:        consent.NewGate(&mocks.MockConsentStore{Consented: consented}, nil),
		Registry:    candidate.NewRegistry(),
		VideoSearch: f.video,
		WebSearch:   f.web,
		Resolver:    f.resolver,
		VideoSites:  []string{"bilibili.com", "youtube.com"},
	}
	return f
}

func toolCall(id, name, query string) ports.ToolCall {
	return ports.ToolCall{ID: id, Name: name, Arguments: map[string]any{"query": query}}
}

func nodes(res *Result) []string {
	out := make([]string, 0, len(res.Trace))
	for _, s := range res.Trace {
		out = append(out, s.Node)
	}
	return out
}

func bili(n int) string {
	return fmt.Sprintf("https://www.bilibili.com/video/BV1%09dA", n)
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(true)
	f.video.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		return []ports.SearchResult{
			{Title: "海边日落 延时", URL: bili(1)},
			{Title: "日落海浪", URL: bili(2)},
		}, nil
	}
	f.web.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		return []ports.SearchResult{
			{Title: "Sunset stock footage", URL: "https://www.pexels.com/search/videos/sunset/"},
			{Title: "Free sunset clips", URL: "https://pixabay.com/videos/search/sunset/"},
		}, nil
	}
	v1 := candidate.ID(candidate.KindVideo, bili(1))
	l1 := candidate.ID(candidate.KindLink, "https://www.pexels.com/search/videos/sunset/")

	llm := scriptedLLM(map[Node]handler{
		NodeThink: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: `{"intent":"video","search_queries":["海边日落"]}`}, nil
		},
		NodeDo: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{ToolCalls: []ports.ToolCall{
				toolCall("c1", tools.NameSearchBilibili, "海边日落"),
				toolCall("c2", tools.NameSearchWeb, "sunset stock footage royalty free"),
			}}, nil
		},
		NodeReview: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: "够了"}, nil
		},
		NodeFinalize: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: fmt.Sprintf(
				`{"select":{"videos":["%s","v_ffffffffffffffff"],"links":["%s"]},"scorecard":[{"id":"%s","score":8,"tags":["sunset"],"reason":"matches"}],"reply":"挑了一个视频和一个素材库。"}`,
				v1, l1, v1)}, nil
		},
	})

	engine := NewEngine(llm, nil, Config{}, nil)
	res := engine.Run(context.Background(), Input{ProjectID: "p1", Text: "找一些海边日落的视频，要免版税的", ThinkEnabled: true}, f.env)

	assert.Equal(t, []string{"init", "think", "do", "tools", "review", "hydrate", "finalize"}, nodes(res))
	require.Len(t, res.Videos, 1)
	require.Len(t, res.Links, 1)
	assert.Equal(t, v1, res.Videos[0].ID)
	require.NotNil(t, res.Videos[0].Score)
	assert.Equal(t, 8.0, *res.Videos[0].Score)
	assert.True(t, res.Videos[0].Resolved)
	assert.Equal(t, "挑了一个视频和一个素材库。", res.Reply)
	assert.Equal(t, 1, res.Passes)
	assert.False(t, res.FallbackSelection)
	assert.Equal(t, 2, f.resolver.Calls())
	assert.Len(t, res.Candidates, 4)
	require.NotNil(t, res.Plan)
	assert.False(t, res.Plan.Heuristic)
}

func TestRunTerminatesWhenModelNeverStops(t *testing.T) {
	f := newFixture(true)
	var n atomic.Int32
	f.web.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		i := n.Add(1)
		return []ports.SearchResult{{Title: "page", URL: fmt.Sprintf("https://example.com/page/%d", i)}}, nil
	}
	always := func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
		return &ports.CompletionResponse{ToolCalls: []ports.ToolCall{toolCall("", tools.NameSearchWeb, "more")}}, nil
	}
	llm := scriptedLLM(map[Node]handler{NodeDo: always, NodeReview: always})

	res := NewEngine(llm, nil, Config{MaxPasses: 5}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: "need pages"}, f.env)

	assert.Equal(t, 5, f.web.Calls())
	assert.Equal(t, 5, res.Passes)
	reviews := requestsFor(llm, NodeReview)
	require.Len(t, reviews, 5)
	for _, r := range reviews[:4] {
		assert.Equal(t, ports.ToolChoiceAuto, r.ToolChoice)
	}
	assert.Equal(t, ports.ToolChoiceNone, reviews[4].ToolChoice)
	assert.True(t, res.FallbackSelection)
	assert.Len(t, res.Links, 4)
	assert.Equal(t, "done", NodeDone.String())
	assert.Equal(t, "finalize", res.Trace[len(res.Trace)-1].Node)
}

func TestRunStopsOnConsentSignal(t *testing.T) {
	f := newFixture(false)
	llm := scriptedLLM(map[Node]handler{
		NodeDo: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{ToolCalls: []ports.ToolCall{
				toolCall("a", tools.NameSearchWeb, "x"),
				toolCall("b", tools.NameSearchBilibili, "x"),
			}}, nil
		},
	})
	res := NewEngine(llm, nil, Config{}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: "search cats"}, f.env)

	assert.True(t, res.NeedsConsent)
	assert.Equal(t, consent.Reply(""), res.Reply)
	assert.Zero(t, f.web.Calls()+f.video.Calls()+f.resolver.Calls())
	assert.Equal(t, "tools", res.Trace[len(res.Trace)-1].Node)
	assert.Empty(t, requestsFor(llm, NodeReview))
}

func TestFinalizeDropsUnknownIDsAndFallsBack(t *testing.T) {
	f := newFixture(true)
	f.video.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		var out []ports.SearchResult
		for i := 1; i <= 5; i++ {
			out = append(out, ports.SearchResult{Title: fmt.Sprintf("clip %d", i), URL: bili(i), Thumbnail: "https://i0.hdslb.com/t.jpg", DurationSeconds: 60})
		}
		return out, nil
	}
	f.web.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		var out []ports.SearchResult
		for i := 1; i <= 6; i++ {
			out = append(out, ports.SearchResult{Title: fmt.Sprintf("page %d", i), URL: fmt.Sprintf("https://example.com/%d", i)})
		}
		return out, nil
	}
	llm := scriptedLLM(map[Node]handler{
		NodeDo: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{ToolCalls: []ports.ToolCall{
				{ID: "a", Name: tools.NameSearchBilibili, Arguments: map[string]any{"query": "clip", "num_results": 10.0}},
				{ID: "b", Name: tools.NameSearchWeb, Arguments: map[string]any{"query": "page", "num_results": 10.0}},
			}}, nil
		},
		NodeFinalize: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: `{"select":{"videos":["v_0000000000000000"],"links":["l_1234","v_not_a_link"]},"reply":"ignored"}`}, nil
		},
	})
	seen := intent.SeenSet([]string{bili(1)})
	res := NewEngine(llm, nil, Config{}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: "clip", SeenURLs: seen}, f.env)

	assert.True(t, res.FallbackSelection)
	require.Len(t, res.Videos, 3)
	require.Len(t, res.Links, 4)
	assert.Equal(t, candidate.ID(candidate.KindVideo, bili(2)), res.Videos[0].ID, "recently shown video is deprioritized")
	assert.Equal(t, candidate.ID(candidate.KindLink, "https://example.com/1"), res.Links[0].ID)
	assert.NotEqual(t, "ignored", res.Reply)
	assert.Equal(t, 11, f.env.Registry.Len())
	assert.Zero(t, f.resolver.Calls())
}

func TestRunReportsLLMUnavailable(t *testing.T) {
	f := newFixture(true)
	llm := &mocks.MockLLMClient{ToolCalling: true, CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	res := NewEngine(llm, nil, Config{}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: "猫咪视频", ThinkEnabled: true}, f.env)

	assert.True(t, res.LLMUnavailable)
	assert.Equal(t, []string{"init", "think", "do"}, nodes(res))
	assert.Zero(t, f.web.Calls()+f.video.Calls())
	require.NotNil(t, res.Plan)
	assert.True(t, res.Plan.Heuristic)
}

func TestThinkFailureInjectsHeuristicPlan(t *testing.T) {
	f := newFixture(true)
	var doMessages []ports.Message
	llm := scriptedLLM(map[Node]handler{
		NodeThink: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: "I think you want cats."}, nil
		},
		NodeDo: func(req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			doMessages = req.Messages
			return &ports.CompletionResponse{Content: "你好！想找什么素材？"}, nil
		},
	})
	res := NewEngine(llm, nil, Config{}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: "帮我找猫咪视频", ThinkEnabled: true}, f.env)

	var planNote string
	for _, m := range doMessages {
		if m.Source == ports.MessageSourcePlanNote {
			planNote = m.Content
		}
	}
	assert.Contains(t, planNote, "keyword heuristic")
	assert.False(t, res.LLMUnavailable)
	assert.Equal(t, "你好！想找什么素材？", res.Reply)
	assert.Empty(t, res.Videos)
}

func TestThinkSkippedWhenDisabled(t *testing.T) {
	f := newFixture(true)
	llm := scriptedLLM(nil)
	res := NewEngine(llm, nil, Config{}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: "hi"}, f.env)
	assert.Empty(t, requestsFor(llm, NodeThink))
	assert.Nil(t, res.Plan)
	assert.Equal(t, "disabled for project", res.Trace[1].Note)
}

func TestReviewDigestCarriesFeedbackMemory(t *testing.T) {
	f := newFixture(true)
	f.web.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		return []ports.SearchResult{{Title: "t", URL: "https://example.com/a"}}, nil
	}
	var reviewNote string
	llm := scriptedLLM(map[Node]handler{
		NodeDo: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{ToolCalls: []ports.ToolCall{toolCall("a", tools.NameSearchWeb, "x")}}, nil
		},
		NodeReview: func(req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			last := req.Messages[len(req.Messages)-1]
			if last.Source == ports.MessageSourceReviewNote {
				reviewNote = last.Content
			}
			return &ports.CompletionResponse{}, nil
		},
	})
	feedback := &mocks.MockFeedbackMemory{Text: "liked: bilibili.com (3)"}
	NewEngine(llm, feedback, Config{}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: "x"}, f.env)

	assert.Contains(t, reviewNote, "liked: bilibili.com (3)")
	assert.True(t, strings.Contains(reviewNote, candidate.ID(candidate.KindLink, "https://example.com/a")))
}

func TestEmptySearchesOfferManualLinks(t *testing.T) {
	f := newFixture(true)
	llm := scriptedLLM(map[Node]handler{
		NodeDo: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{ToolCalls: []ports.ToolCall{
				toolCall("a", tools.NameSearchBilibili, "城市夜景"),
				toolCall("b", tools.NameSearchWeb, "city night timelapse"),
			}}, nil
		},
		NodeReview: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: "没有结果"}, nil
		},
	})
	text := "帮我找城市夜景延时视频"
	res := NewEngine(llm, nil, Config{}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: text}, f.env)

	assert.Positive(t, f.video.Calls())
	assert.Positive(t, f.web.Calls())
	query := plan.Core(text)
	assert.Equal(t, present.NoProvider(query, ""), res.Reply)
	require.Len(t, res.Links, len(present.ManualSearchLinks(query)))
	for _, l := range res.Links {
		assert.Equal(t, "manual", l.Source)
	}
	assert.Empty(t, res.Videos)
}

func TestFinalizePutsPreviouslyShownLast(t *testing.T) {
	f := newFixture(true)
	f.video.SearchFunc = func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		return []ports.SearchResult{
			{Title: "夜景 1", URL: bili(1), Thumbnail: "https://i0.hdslb.com/t.jpg", DurationSeconds: 60},
			{Title: "夜景 2", URL: bili(2), Thumbnail: "https://i0.hdslb.com/t.jpg", DurationSeconds: 60},
		}, nil
	}
	v1 := candidate.ID(candidate.KindVideo, bili(1))
	v2 := candidate.ID(candidate.KindVideo, bili(2))
	var finalizeInput string
	llm := scriptedLLM(map[Node]handler{
		NodeDo: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{ToolCalls: []ports.ToolCall{toolCall("a", tools.NameSearchBilibili, "夜景")}}, nil
		},
		NodeReview: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: "ok"}, nil
		},
		NodeFinalize: func(req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			finalizeInput = req.Messages[len(req.Messages)-1].Content
			return &ports.CompletionResponse{Content: fmt.Sprintf(`{"select":{"videos":["%s","%s"]},"reply":"两个视频"}`, v1, v2)}, nil
		},
	})
	seen := intent.SeenSet([]string{bili(1)})
	res := NewEngine(llm, nil, Config{}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: "夜景视频", SeenURLs: seen}, f.env)

	require.Len(t, res.Videos, 2)
	assert.Equal(t, v2, res.Videos[0].ID)
	assert.Equal(t, v1, res.Videos[1].ID)
	assert.False(t, res.FallbackSelection)

	for _, line := range strings.Split(finalizeInput, "\n") {
		switch {
		case strings.Contains(line, v1):
			assert.Contains(t, line, `"seen":true`)
		case strings.Contains(line, v2):
			assert.NotContains(t, line, `"seen"`)
		}
	}
}

func TestToolTimeoutReachesToolsAndHydrate(t *testing.T) {
	f := newFixture(true)
	var searchBudget atomic.Int64
	f.video.SearchFunc = func(ctx context.Context, _ ports.SearchRequest) ([]ports.SearchResult, error) {
		if dl, ok := ctx.Deadline(); ok {
			searchBudget.Store(int64(time.Until(dl)))
		}
		return []ports.SearchResult{{Title: "夜景", URL: bili(1)}}, nil
	}
	var hydrateDeadline atomic.Bool
	f.resolver.ResolveFunc = func(ctx context.Context, url, _ string) (*ports.ResolvedMedia, error) {
		_, ok := ctx.Deadline()
		hydrateDeadline.Store(ok)
		return &ports.ResolvedMedia{Title: "夜景", Extractor: "bilibili", CanonicalURL: url}, nil
	}
	llm := scriptedLLM(map[Node]handler{
		NodeDo: func(ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{ToolCalls: []ports.ToolCall{toolCall("a", tools.NameSearchBilibili, "夜景")}}, nil
		},
	})
	NewEngine(llm, nil, Config{ToolTimeout: time.Hour}, nil).Run(context.Background(), Input{ProjectID: "p1", Text: "夜景视频"}, f.env)

	assert.Greater(t, time.Duration(searchBudget.Load()), tools.DefaultCallTimeout, "tool calls use the configured timeout")
	assert.True(t, hydrateDeadline.Load(), "hydrate runs under the tool timeout")
}
