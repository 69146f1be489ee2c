package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/ports/mocks"
	"sourcer/internal/domain/candidate"
)

type recordedTurn struct {
	strategy, outcome string
	passes            int
}

type fakeMetrics struct {
	mu    sync.Mutex
	turns []recordedTurn
	tools int
}

func (f *fakeMetrics) ObserveTurn(strategy, outcome string, passes int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, recordedTurn{strategy, outcome, passes})
}

func (f *fakeMetrics) ObserveToolCall(string, string, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools++
}

type harness struct {
	deps    Deps
	chat    *mocks.MockChatLog
	video   *mocks.MockSearchProvider
	web     *mocks.MockSearchProvider
	sink    *mocks.MockArtifactSink
	metrics *fakeMetrics
}

func newHarness(consented bool, llm ports.LLMClient) *harness {
	h := &harness{
		chat:    &mocks.MockChatLog{},
		video:   &mocks.MockSearchProvider{NameValue: "bilibili"},
		web:     &mocks.MockSearchProvider{NameValue: "tavily"},
		sink:    &mocks.MockArtifactSink{},
		metrics: &fakeMetrics{},
	}
	h.deps = Deps{
		LLM:         llm,
		Consent:     &mocks.MockConsentStore{Consented: consented},
		ChatLog:     h.chat,
		Artifacts:   h.sink,
		VideoSearch: h.video,
		WebSearch:   h.web,
	}
	return h
}

func (h *harness) controller(cfg Config) *Controller {
	n := 0
	return NewController(h.deps, cfg, WithMetrics(h.metrics), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("turn-%d", n)
	}))
}

func (h *harness) assistantMessages() []ports.ChatMessage {
	var out []ports.ChatMessage
	for _, m := range h.chat.Messages("p1", "c1") {
		if m.Role == ports.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func bilibiliResults(n int) func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
	return func(context.Context, ports.SearchRequest) ([]ports.SearchResult, error) {
		out := make([]ports.SearchResult, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, ports.SearchResult{
				Title: fmt.Sprintf("城市夜景延时 %d", i),
				URL:   fmt.Sprintf("https://www.bilibili.com/video/BV1xx411c7m%d", i),
			})
		}
		return out, nil
	}
}

func TestConsentPreCheckStopsBeforeAnyCall(t *testing.T) {
	llm := &mocks.MockLLMClient{ToolCalling: true}
	h := newHarness(false, llm)
	res := h.controller(Config{}).RunTurn(context.Background(), Input{ProjectID: "p1", ChatID: "c1", Text: "帮我找一些城市夜景延时视频"})

	assert.True(t, res.NeedsConsent)
	assert.Equal(t, StrategyNone, res.Strategy)
	assert.Empty(t, res.Blocks)
	assert.Zero(t, llm.Calls())
	assert.Zero(t, h.video.Calls()+h.web.Calls())

	msgs := h.assistantMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, res.Reply, msgs[0].Content)
	assert.Equal(t, true, msgs[0].Data["needs_consent"])
	require.Len(t, h.metrics.turns, 1)
	assert.Equal(t, OutcomeNeedsConsent, h.metrics.turns[0].outcome)
}

func TestPlainChatDoesNotAskForConsent(t *testing.T) {
	llm := &mocks.MockLLMClient{CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
		return &ports.CompletionResponse{Content: `{"reply":"你好！想找什么素材？","should_search":false}`}, nil
	}}
	h := newHarness(false, llm)
	res := h.controller(Config{}).RunTurn(context.Background(), Input{ProjectID: "p1", ChatID: "c1", Text: "你好"})

	assert.False(t, res.NeedsConsent)
	assert.Equal(t, StrategyHeuristic, res.Strategy)
	assert.Equal(t, "你好！想找什么素材？", res.Reply)
	assert.Len(t, h.assistantMessages(), 1)
}

func TestHeuristicTurnSkipsVideosShownBefore(t *testing.T) {
	h := newHarness(true, nil)
	h.deps.WebSearch = nil
	h.video.SearchFunc = bilibiliResults(5)
	shown := candidate.BuildBlocks([]candidate.Candidate{{
		ID: "v_old", Kind: candidate.KindVideo, URL: "https://www.bilibili.com/video/BV1xx411c7m0", Title: "old",
	}}, nil)
	h.chat.Seed("p1", "c1", ports.RoleUser, "找城市夜景", nil)
	h.chat.Seed("p1", "c1", ports.RoleAssistant, "这些可以参考", candidate.BlocksData(shown))

	res := h.controller(Config{}).RunTurn(context.Background(), Input{ProjectID: "p1", ChatID: "c1", Text: "帮我找一些城市夜景延时视频", PersistUserMessage: true})

	assert.Equal(t, StrategyHeuristic, res.Strategy)
	require.NotEmpty(t, res.Blocks)
	require.Equal(t, candidate.BlockVideos, res.Blocks[0].Type)
	require.Len(t, res.Blocks[0].Videos, 3)
	for _, v := range res.Blocks[0].Videos {
		assert.NotEqual(t, "https://www.bilibili.com/video/BV1xx411c7m0", v.URL)
	}

	msgs := h.chat.Messages("p1", "c1")
	require.Len(t, msgs, 4)
	assert.Equal(t, ports.RoleUser, msgs[2].Role)
	assert.Equal(t, ports.RoleAssistant, msgs[3].Role)
	assert.Equal(t, res.MessageID, msgs[3].ID)
	assert.Len(t, candidate.BlocksFromData(msgs[3].Data), len(res.Blocks))
}

func TestToolAgentOutageFallsBackToHeuristic(t *testing.T) {
	llm := &mocks.MockLLMClient{
		ToolCalling: true,
		CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	h := newHarness(true, llm)
	h.video.SearchFunc = bilibiliResults(4)
	res := h.controller(Config{}).RunTurn(context.Background(), Input{ProjectID: "p1", ChatID: "c1", Text: "帮我找一些城市夜景延时视频"})

	assert.Equal(t, StrategyHeuristic, res.Strategy)
	assert.NotEmpty(t, res.Reply)
	assert.NotEmpty(t, res.Blocks)
	assert.Len(t, h.assistantMessages(), 1)
	require.Len(t, h.metrics.turns, 1)
	assert.Equal(t, OutcomeDegraded, h.metrics.turns[0].outcome)
}

func TestPastedURLIsPresentedWithoutSearchOnToolCallingBackend(t *testing.T) {
	llm := &mocks.MockLLMClient{ToolCalling: true}
	h := newHarness(true, llm)
	resolver := &mocks.MockResolver{}
	h.deps.Resolver = resolver
	ref := "https://www.bilibili.com/video/BV1xx411c7mD"
	res := h.controller(Config{}).RunTurn(context.Background(), Input{ProjectID: "p1", ChatID: "c1", Text: "看看这个 " + ref})

	assert.Equal(t, StrategyDirect, res.Strategy)
	assert.Zero(t, h.video.Calls()+h.web.Calls())
	assert.Zero(t, llm.Calls())
	assert.Equal(t, []string{ref}, resolver.URLs)
	require.Len(t, res.Blocks, 1)
	require.Len(t, res.Blocks[0].Videos, 1)
	assert.Equal(t, ref, res.Blocks[0].Videos[0].URL)
	assert.Len(t, h.assistantMessages(), 1)
}

func TestSeveralPastedURLsAskToPickOnToolCallingBackend(t *testing.T) {
	llm := &mocks.MockLLMClient{ToolCalling: true}
	h := newHarness(true, llm)
	urls := []string{"https://www.bilibili.com/video/BV1xx411c7mD", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}
	res := h.controller(Config{}).RunTurn(context.Background(), Input{
		ProjectID: "p1", ChatID: "c1", Lang: "en",
		Text: "find more like " + urls[0] + " and " + urls[1],
	})

	assert.Equal(t, StrategyDirect, res.Strategy)
	assert.Zero(t, h.video.Calls()+h.web.Calls())
	assert.Zero(t, llm.Calls())
	assert.Contains(t, res.Reply, "Which one")
	for _, u := range urls {
		assert.Contains(t, res.Reply, u)
	}
	require.Len(t, res.Blocks, 1)
	assert.Len(t, res.Blocks[0].Links, 2)
}

func TestPanicIsRecoveredIntoReply(t *testing.T) {
	llm := &mocks.MockLLMClient{CompleteFunc: func(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
		panic("boom")
	}}
	h := newHarness(true, llm)
	var res Result
	require.NotPanics(t, func() {
		res = h.controller(Config{}).RunTurn(context.Background(), Input{ProjectID: "p1", ChatID: "c1", Text: "你好"})
	})

	assert.NotEmpty(t, res.Reply)
	assert.NotContains(t, res.Reply, "boom")
	assert.Len(t, h.assistantMessages(), 1)
	require.Len(t, h.metrics.turns, 1)
	assert.Equal(t, OutcomePanic, h.metrics.turns[0].outcome)
}

func TestSnapshotIsBestEffort(t *testing.T) {
	h := newHarness(false, nil)
	res := h.controller(Config{DebugSnapshots: true}).RunTurn(context.Background(), Input{ProjectID: "p1", ChatID: "c1", Text: "找城市夜景视频"})

	require.Len(t, h.sink.Artifacts, 1)
	art := h.sink.Artifacts[0]
	assert.Equal(t, ArtifactKindTrace, art.Kind)
	assert.Equal(t, "agent_traces/c1/turn-1.json", art.Path)
	assert.Contains(t, art.Content, `"needs_consent": true`)

	h2 := newHarness(false, nil)
	h2.sink.Err = errors.New("disk full")
	res2 := h2.controller(Config{DebugSnapshots: true}).RunTurn(context.Background(), Input{ProjectID: "p1", ChatID: "c1", Text: "找城市夜景视频"})
	assert.Equal(t, res.Reply, res2.Reply)
}

func TestFailingChatLogStillReplies(t *testing.T) {
	h := newHarness(false, nil)
	h.chat.ListErr = errors.New("db locked")
	h.chat.CreateErr = errors.New("db locked")
	res := h.controller(Config{}).RunTurn(context.Background(), Input{ProjectID: "p1", ChatID: "c1", Text: "找城市夜景视频"})

	assert.True(t, res.NeedsConsent)
	assert.NotEmpty(t, res.Reply)
	assert.Empty(t, res.MessageID)
}

func TestHistoryIsWindowedAndTokenBounded(t *testing.T) {
	h := newHarness(true, nil)
	for i := 0; i < 20; i++ {
		role := ports.RoleUser
		if i%2 == 1 {
			role = ports.RoleAssistant
		}
		h.chat.Seed("p1", "c1", role, fmt.Sprintf("message %d", i), nil)
	}
	h.chat.Seed("p1", "c1", ports.RoleTool, "tool output", nil)

	c := h.controller(Config{HistoryWindow: 12})
	hist := c.loadHistory(context.Background(), Input{ProjectID: "p1", ChatID: "c1"})
	require.Len(t, hist.messages, 12)
	assert.Equal(t, "message 8", hist.messages[0].Content)
	assert.Equal(t, "message 19", hist.messages[11].Content)

	long := strings.Repeat("城市夜景延时摄影素材 ", 400)
	h.chat.Seed("p1", "c1", ports.RoleUser, long, nil)
	c = h.controller(Config{HistoryWindow: 12, HistoryTokenBudget: 50})
	hist = c.loadHistory(context.Background(), Input{ProjectID: "p1", ChatID: "c1"})
	require.Len(t, hist.messages, 1)
	assert.Equal(t, long, hist.messages[0].Content)
}

func TestWouldReachNetwork(t *testing.T) {
	assert.False(t, wouldReachNetwork("你好", nil))
	assert.False(t, wouldReachNetwork("thanks!", nil))
	assert.True(t, wouldReachNetwork("城市夜景视频", nil))
	assert.True(t, wouldReachNetwork("看看这个", []string{"https://youtu.be/abc"}))
	assert.True(t, wouldReachNetwork("search for rain sounds", nil))
}
