package turn

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"sourcer/internal/domain/agent/agenttrace"
	"sourcer/internal/domain/agent/budget"
	"sourcer/internal/domain/agent/consent"
	"sourcer/internal/domain/agent/heuristic"
	"sourcer/internal/domain/agent/plan"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/present"
	"sourcer/internal/domain/agent/toolagent"
	"sourcer/internal/domain/agent/tools"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
	"sourcer/internal/shared/logging"
)

// Controller runs turns. It holds no per-turn state and is safe for
// concurrent use across chats.
type Controller struct {
	deps    Deps
	cfg     Config
	logger  logging.Logger
	metrics Metrics
	clock   func() time.Time
	newID   func() string
}

// NewController creates a controller.
func NewController(deps Deps, cfg Config, opts ...Option) *Controller {
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = budget.MaxToolAgentPasses
	}
	if cfg.HeuristicPasses <= 0 {
		cfg.HeuristicPasses = budget.MaxHeuristicPasses
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.HistoryTokenBudget <= 0 {
		cfg.HistoryTokenBudget = defaultHistoryTokens
	}
	c := &Controller{
		deps:    deps,
		cfg:     cfg,
		logger:  logging.NewComponentLogger("turn"),
		metrics: nopMetrics{},
		clock:   time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// outcome is what an engine run hands back to RunTurn.
type outcome struct {
	reply        string
	videos       []candidate.Candidate
	links        []candidate.Candidate
	needsConsent bool
	strategy     Strategy
	passes       int
	degraded     bool

	plan       any
	trace      []agenttrace.Step
	candidates []candidate.Candidate
}

// RunTurn handles one user message and always produces a reply. Exactly one
// assistant message is appended to the chat log.
func (c *Controller) RunTurn(ctx context.Context, in Input) (res Result) {
	started := c.clock()
	turnID := c.newID()
	if in.Lang == "" {
		in.Lang = present.DetectLang(in.Text)
	}
	lang := in.Lang

	ctx, span := agenttrace.Start(ctx, agenttrace.SpanTurn,
		attribute.String(agenttrace.AttrProjectID, in.ProjectID),
		attribute.String(agenttrace.AttrChatID, in.ChatID),
	)
	defer span.End()

	var out outcome
	persisted := false
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("turn %s panicked: %v\n%s", turnID, rec, debug.Stack())
			agenttrace.Mark(span, fmt.Errorf("panic: %v", rec))
			if persisted {
				return
			}
			out = outcome{reply: present.Failure(lang), strategy: out.strategy, degraded: true}
			res = c.finish(ctx, in, turnID, out)
			c.metrics.ObserveTurn(string(res.Strategy), OutcomePanic, res.Passes, c.clock().Sub(started))
		}
	}()

	hist := c.loadHistory(ctx, in)
	if in.PersistUserMessage && c.deps.ChatLog != nil {
		if _, err := c.deps.ChatLog.CreateMessage(ctx, in.ProjectID, in.ChatID, ports.NewChatMessage{Role: ports.RoleUser, Content: in.Text}); err != nil {
			c.logger.Warn("turn %s: persist user message failed: %v", turnID, err)
		}
	}

	out = c.execute(ctx, in, lang, hist)
	res = c.finish(ctx, in, turnID, out)
	persisted = true
	c.snapshot(ctx, in, turnID, out)

	span.SetAttributes(attribute.String(agenttrace.AttrStrategy, string(res.Strategy)))
	agenttrace.Mark(span, nil)
	c.metrics.ObserveTurn(string(res.Strategy), outcomeLabel(out), res.Passes, c.clock().Sub(started))
	c.logger.Info("turn %s done: strategy=%s passes=%d videos=%d links=%d consent=%t in %s",
		turnID, res.Strategy, res.Passes, len(out.videos), len(out.links), res.NeedsConsent, c.clock().Sub(started))
	return res
}

func outcomeLabel(out outcome) string {
	switch {
	case out.needsConsent:
		return OutcomeNeedsConsent
	case out.degraded:
		return OutcomeDegraded
	default:
		return OutcomeOK
	}
}

func (c *Controller) execute(ctx context.Context, in Input, lang string, hist history) outcome {
	urls := intent.ExtractURLs(in.Text)
	gate := consent.NewGate(c.deps.Consent, c.logger)

	if wouldReachNetwork(in.Text, urls) {
		if err := gate.Require(ctx, in.ProjectID); err != nil {
			return outcome{reply: consent.Reply(lang), needsConsent: true, strategy: StrategyNone}
		}
	}

	if heuristic.DirectOnly(in.Text, urls) {
		if out, ok := c.runDirect(ctx, in, lang, urls, hist, gate); ok {
			return out
		}
	}

	if ports.SupportsToolCalling(c.deps.LLM) {
		out := c.runToolAgent(ctx, in, lang, urls, hist, gate)
		if !out.degraded {
			return out
		}
		c.logger.Warn("tool agent could not reach the model, falling back to heuristic")
		out = c.runHeuristic(ctx, in, lang, urls, hist, gate)
		out.degraded = true
		return out
	}
	return c.runHeuristic(ctx, in, lang, urls, hist, gate)
}

// wouldReachNetwork reports whether a turn can issue a search or resolve.
// Plain chat without urls, asset words or a search verb never does.
func wouldReachNetwork(text string, urls []string) bool {
	if len(urls) > 0 || plan.AsksToSearch(text) {
		return true
	}
	in := intent.Detect(text, nil)
	return in.Video || in.Audio || in.Image || in.Web
}

func (c *Controller) env(projectID string, gate *consent.Gate) *tools.Env {
	env := &tools.Env{
		ProjectID:   projectID,
		Gate:        gate,
		Registry:    candidate.NewRegistry(),
		VideoSites:  c.cfg.VideoSites,
		CookiesHint: c.cfg.CookiesHint,
		Logger:      c.logger,
	}
	if c.deps.VideoSearch != nil {
		env.VideoSearch = consent.NewGatedSearch(gate, projectID, c.deps.VideoSearch)
	}
	if c.deps.WebSearch != nil {
		env.WebSearch = consent.NewGatedSearch(gate, projectID, c.deps.WebSearch)
	}
	if c.deps.Resolver != nil {
		env.Resolver = consent.NewGatedResolver(gate, projectID, c.deps.Resolver)
	}
	return env
}

func (c *Controller) thinkEnabled(ctx context.Context, projectID string) bool {
	if c.deps.Settings == nil {
		return c.cfg.ThinkEnabled
	}
	s, err := c.deps.Settings.GetSettings(ctx, projectID)
	if err != nil {
		c.logger.Debug("settings lookup for %s failed, using default: %v", projectID, err)
		return c.cfg.ThinkEnabled
	}
	return s.ThinkEnabled
}

func (c *Controller) runToolAgent(ctx context.Context, in Input, lang string, urls []string, hist history, gate *consent.Gate) outcome {
	engine := toolagent.NewEngine(c.deps.LLM, c.deps.Feedback, toolagent.Config{
		MaxPasses:   c.cfg.MaxPasses,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		LLMTimeout:  c.cfg.LLMTimeout,
		ToolTimeout: c.cfg.ToolTimeout,
	}, c.logger).WithToolObserver(c.metrics.ObserveToolCall)

	r := engine.Run(ctx, toolagent.Input{
		ProjectID:    in.ProjectID,
		ChatID:       in.ChatID,
		Text:         in.Text,
		Lang:         lang,
		URLs:         urls,
		History:      hist.messages,
		SeenURLs:     hist.seen,
		ThinkEnabled: c.thinkEnabled(ctx, in.ProjectID),
	}, c.env(in.ProjectID, gate))

	out := outcome{
		reply:        r.Reply,
		videos:       r.Videos,
		links:        r.Links,
		needsConsent: r.NeedsConsent,
		strategy:     StrategyToolAgent,
		passes:       r.Passes,
		degraded:     r.LLMUnavailable,
		trace:        r.Trace,
		candidates:   r.Candidates,
	}
	if r.Plan != nil {
		out.plan = r.Plan
	}
	return out
}

func (c *Controller) heuristicEngine() *heuristic.Engine {
	return heuristic.NewEngine(c.deps.LLM, heuristic.Config{
		MaxPasses:   c.cfg.HeuristicPasses,
		Temperature: c.cfg.Temperature,
		LLMTimeout:  c.cfg.LLMTimeout,
		ToolTimeout: c.cfg.ToolTimeout,
	}, c.logger)
}

func heuristicInput(in Input, lang string, urls []string, hist history) heuristic.Input {
	return heuristic.Input{
		ProjectID: in.ProjectID,
		ChatID:    in.ChatID,
		Text:      in.Text,
		Lang:      lang,
		URLs:      urls,
		History:   hist.messages,
		SeenURLs:  hist.seen,
	}
}

func heuristicOutcome(r *heuristic.Result, strategy Strategy) outcome {
	return outcome{
		reply:        r.Reply,
		videos:       r.Videos,
		links:        r.Links,
		needsConsent: r.NeedsConsent,
		strategy:     strategy,
		passes:       r.Passes,
		plan:         r.Plan,
		trace:        r.Trace,
		candidates:   r.Candidates,
	}
}

// runDirect answers turns made of pasted urls without searching, whichever
// engine the backend would otherwise get.
func (c *Controller) runDirect(ctx context.Context, in Input, lang string, urls []string, hist history, gate *consent.Gate) (outcome, bool) {
	r, ok := c.heuristicEngine().RunDirect(ctx, heuristicInput(in, lang, urls, hist), c.env(in.ProjectID, gate))
	if !ok {
		return outcome{}, false
	}
	return heuristicOutcome(r, StrategyDirect), true
}

func (c *Controller) runHeuristic(ctx context.Context, in Input, lang string, urls []string, hist history, gate *consent.Gate) outcome {
	r := c.heuristicEngine().Run(ctx, heuristicInput(in, lang, urls, hist), c.env(in.ProjectID, gate))
	return heuristicOutcome(r, StrategyHeuristic)
}

// finish persists the single assistant message of the turn.
func (c *Controller) finish(ctx context.Context, in Input, turnID string, out outcome) Result {
	reply := strings.TrimSpace(out.reply)
	if reply == "" {
		reply = present.Empty(in.Lang)
	}
	blocks := candidate.BuildBlocks(out.videos, out.links)
	if out.needsConsent {
		blocks = nil
	}
	strategy := out.strategy
	if strategy == "" {
		strategy = StrategyNone
	}
	res := Result{
		TurnID:       turnID,
		Reply:        reply,
		Blocks:       blocks,
		NeedsConsent: out.needsConsent,
		Strategy:     strategy,
		Passes:       out.passes,
	}

	if c.deps.ChatLog == nil {
		return res
	}
	data := candidate.BlocksData(blocks)
	data["turn_id"] = turnID
	data["strategy"] = string(strategy)
	if out.needsConsent {
		data["needs_consent"] = true
	}
	msg, err := c.deps.ChatLog.CreateMessage(ctx, in.ProjectID, in.ChatID, ports.NewChatMessage{
		Role:    ports.RoleAssistant,
		Content: reply,
		Data:    data,
	})
	if err != nil {
		c.logger.Error("turn %s: persist assistant message failed: %v", turnID, err)
		return res
	}
	res.MessageID = msg.ID
	return res
}
