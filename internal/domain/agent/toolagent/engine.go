package toolagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"sourcer/internal/domain/agent/agenttrace"
	"sourcer/internal/domain/agent/budget"
	"sourcer/internal/domain/agent/consent"
	"sourcer/internal/domain/agent/plan"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/tools"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
	"sourcer/internal/shared/logging"
)

var errNoLLM = errors.New("no llm client configured")

// Engine runs tool-agent turns. It is stateless across turns; every Run
// threads its own state through the nodes.
type Engine struct {
	llm          ports.LLMClient
	feedback     ports.FeedbackMemory
	cfg          Config
	logger       logging.Logger
	toolObserver tools.CallObserver
	clock        func() time.Time
}

// NewEngine creates an engine. feedback may be nil.
func NewEngine(llm ports.LLMClient, feedback ports.FeedbackMemory, cfg Config, logger logging.Logger) *Engine {
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = budget.MaxToolAgentPasses
	}
	return &Engine{
		llm:      llm,
		feedback: feedback,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		clock:    time.Now,
	}
}

// WithToolObserver reports every tool call to obs.
func (e *Engine) WithToolObserver(obs tools.CallObserver) *Engine {
	e.toolObserver = obs
	return e
}

// state is the per-run state threaded through the nodes.
type state struct {
	e        *Engine
	in       Input
	env      *tools.Env
	registry *tools.Registry
	passes   *budget.PassCounter

	intent    intent.SearchIntent
	primary   []string
	queries   []string
	messages  []ports.Message
	pending   []ports.ToolCall
	plan      *plan.Plan
	feedback  *string
	lastReply string

	thinkRan       bool
	thinkLLMFailed bool
	doLLMFailed    bool
	toolCalls      int
	searchCalls    int
	toolSucceeded  bool

	result Result
}

// Run executes one turn. It always returns a result; failures degrade inside
// the nodes and are recorded in the trace.
func (e *Engine) Run(ctx context.Context, in Input, env *tools.Env) *Result {
	registry := tools.NewDefaultRegistry(env).WithTimeout(e.cfg.ToolTimeout)
	if e.toolObserver != nil {
		registry.WithObserver(e.toolObserver)
	}
	st := &state{
		e:        e,
		in:       in,
		env:      env,
		registry: registry,
		passes:   budget.NewPassCounter(e.cfg.MaxPasses),
	}

	// INIT, THINK, DO, then at most two nodes per pass plus one spare DO/REVIEW
	// that lands on TOOLS after the cap, then HYDRATE and FINALIZE.
	maxSteps := 3 + 2*(e.cfg.MaxPasses+1) + 2
	node := NodeInit
	for steps := 0; node != NodeDone; steps++ {
		if steps >= maxSteps && node != NodeFinalize {
			e.logger.Warn("tool agent step guard hit at %s, forcing finalize", node)
			node = NodeFinalize
		}
		node = st.step(ctx, node)
	}

	st.result.Passes = st.passes.Count()
	st.result.Plan = st.plan
	st.result.Candidates = env.Registry.All()
	return &st.result
}

func (st *state) step(ctx context.Context, node Node) Node {
	started := st.e.clock()
	pass := st.passes.Count()
	ctx, span := agenttrace.Start(ctx, agenttrace.SpanNode,
		attribute.String(agenttrace.AttrNode, node.String()),
		attribute.Int(agenttrace.AttrPass, pass),
	)
	defer span.End()

	var (
		next Node
		note string
		err  error
	)
	switch node {
	case NodeInit:
		next, note = st.init()
	case NodeThink:
		next, note, err = st.think(ctx)
	case NodeDo:
		next, note, err = st.do(ctx)
	case NodeTools:
		next, note = st.runTools(ctx)
	case NodeReview:
		next, note, err = st.review(ctx)
	case NodeHydrate:
		next, note = st.hydrate(ctx)
	case NodeFinalize:
		next, note, err = st.finalize(ctx)
	default:
		next = NodeDone
	}
	agenttrace.Mark(span, err)

	entry := agenttrace.Step{Node: node.String(), Pass: st.passes.Count(), Note: note, DurationMs: st.e.clock().Sub(started).Milliseconds()}
	if err != nil {
		entry.Error = err.Error()
		st.e.logger.Warn("node %s degraded: %v", node, err)
	}
	st.result.Trace = append(st.result.Trace, entry)
	return next
}

func (st *state) complete(ctx context.Context, node Node, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if st.e.llm == nil {
		return nil, errNoLLM
	}
	if req.Temperature == 0 {
		req.Temperature = st.e.cfg.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = st.e.cfg.MaxTokens
	}
	req.Metadata = map[string]any{"node": node.String(), "project_id": st.in.ProjectID, "chat_id": st.in.ChatID}

	ctx, span := agenttrace.Start(ctx, agenttrace.SpanLLM,
		attribute.String(agenttrace.AttrNode, node.String()),
		attribute.String(agenttrace.AttrModel, st.e.llm.Model()),
	)
	defer span.End()
	if st.e.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.e.cfg.LLMTimeout)
		defer cancel()
	}
	resp, err := st.e.llm.Complete(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("empty completion response")
	}
	agenttrace.Mark(span, err)
	return resp, err
}

func (st *state) init() (Node, string) {
	st.intent = intent.Detect(st.in.Text, nil)
	st.primary = intent.FocusTokens(st.in.Text)
	st.messages = append(st.messages, ports.Message{
		Role:    ports.RoleSystem,
		Content: systemPrompt(st.intent, st.in.URLs),
		Source:  ports.MessageSourceSystemPrompt,
	})
	for _, m := range st.in.History {
		m.Source = ports.MessageSourceUserHistory
		m.ToolCalls = nil
		st.messages = append(st.messages, m)
	}
	st.messages = append(st.messages, ports.Message{
		Role:    ports.RoleUser,
		Content: st.in.Text,
		Source:  ports.MessageSourceUserInput,
	})
	return NodeThink, st.intent.Summary()
}

func (st *state) think(ctx context.Context) (Node, string, error) {
	if !st.in.ThinkEnabled {
		return NodeDo, "disabled for project", nil
	}
	st.thinkRan = true
	resp, err := st.complete(ctx, NodeThink, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: thinkPrompt, Source: ports.MessageSourceSystemPrompt},
			{Role: ports.RoleUser, Content: st.in.Text, Source: ports.MessageSourceUserInput},
		},
		ToolChoice: ports.ToolChoiceNone,
		JSONMode:   true,
	})
	var p plan.Plan
	if err != nil {
		st.thinkLLMFailed = true
	} else {
		p, err = plan.Parse(resp.Content)
	}
	note := "model plan"
	if err != nil {
		p = plan.Fallback(st.in.Text, st.intent)
		note = "heuristic plan"
	}
	st.plan = &p
	st.messages = append(st.messages, ports.Message{
		Role:    ports.RoleSystem,
		Content: p.Note(),
		Source:  ports.MessageSourcePlanNote,
	})
	return NodeDo, note, err
}

func (st *state) do(ctx context.Context) (Node, string, error) {
	resp, err := st.complete(ctx, NodeDo, ports.CompletionRequest{
		Messages:   st.messages,
		Tools:      st.registry.Definitions(),
		ToolChoice: ports.ToolChoiceAuto,
	})
	if err != nil {
		st.doLLMFailed = true
		if st.env.Registry.Len() == 0 && (st.thinkLLMFailed || !st.thinkRan) {
			st.result.LLMUnavailable = true
			return NodeDone, "model unreachable", err
		}
		return NodeHydrate, "skipping to hydrate", err
	}
	next := st.absorb(resp, NodeReview)
	return next, fmt.Sprintf("%d tool call(s)", len(st.pending)), nil
}

// absorb records the model turn and routes to TOOLS when it asked for tools.
func (st *state) absorb(resp *ports.CompletionResponse, otherwise Node) Node {
	if len(resp.ToolCalls) == 0 {
		if content := strings.TrimSpace(resp.Content); content != "" {
			st.lastReply = content
			st.messages = append(st.messages, ports.Message{Role: ports.RoleAssistant, Content: content})
		}
		return otherwise
	}
	calls := make([]ports.ToolCall, len(resp.ToolCalls))
	for i, call := range resp.ToolCalls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", st.passes.Count()+1, i)
		}
		calls[i] = call
	}
	st.pending = calls
	st.messages = append(st.messages, ports.Message{Role: ports.RoleAssistant, Content: resp.Content, ToolCalls: calls})
	return NodeTools
}

func (st *state) runTools(ctx context.Context) (Node, string) {
	calls := st.pending
	st.pending = nil
	if !st.passes.TryAdvance() {
		for _, call := range calls {
			st.appendToolMessage(call.ID, "Skipped: the search budget for this turn is used up.")
		}
		return NodeHydrate, "pass budget exhausted"
	}

	results := st.registry.Batch(ctx, calls)
	failed := 0
	for i, res := range results {
		st.appendToolMessage(calls[i].ID, res.Content)
		if res.Error != nil {
			failed++
		} else {
			st.toolSucceeded = true
		}
		if tools.IsSearch(calls[i].Name) {
			st.searchCalls++
		}
		if q, ok := calls[i].Arguments["query"].(string); ok && strings.TrimSpace(q) != "" {
			st.queries = append(st.queries, q)
		}
	}
	st.toolCalls += len(calls)
	note := fmt.Sprintf("%d call(s), %d failed, %d candidate(s)", len(calls), failed, st.env.Registry.Len())
	if tools.AnyNeedsConsent(results) {
		st.result.NeedsConsent = true
		st.result.Reply = consent.Reply(st.in.Lang)
		return NodeDone, "consent required"
	}
	return NodeReview, note
}

func (st *state) appendToolMessage(callID, content string) {
	st.messages = append(st.messages, ports.Message{
		Role:       ports.RoleTool,
		Content:    content,
		ToolCallID: callID,
		Source:     ports.MessageSourceToolResult,
	})
}

func (st *state) review(ctx context.Context) (Node, string, error) {
	exhausted := st.passes.Exhausted()
	ordered := intent.RelevanceOrder(st.env.Registry.All(), st.primary, intent.QueryTokens(st.queries), st.currentIntent())
	st.messages = append(st.messages, ports.Message{
		Role:    ports.RoleSystem,
		Content: reviewNote(st.passes.Count(), st.passes.Max(), exhausted, candidate.Digest(ordered, budget.MaxDigestCandidates, st.in.SeenURLs), st.feedbackSummary(ctx)),
		Source:  ports.MessageSourceReviewNote,
	})

	choice := ports.ToolChoiceAuto
	if exhausted {
		choice = ports.ToolChoiceNone
	}
	resp, err := st.complete(ctx, NodeReview, ports.CompletionRequest{
		Messages:   st.messages,
		Tools:      st.registry.Definitions(),
		ToolChoice: choice,
	})
	if err != nil {
		return NodeHydrate, "review unavailable", err
	}
	if exhausted && len(resp.ToolCalls) > 0 {
		st.e.logger.Debug("review asked for %d tool call(s) after the cap, ignoring", len(resp.ToolCalls))
		resp = &ports.CompletionResponse{Content: resp.Content}
	}
	next := st.absorb(resp, NodeHydrate)
	if next == NodeTools {
		return next, "more tools", nil
	}
	return next, "enough", nil
}

// currentIntent re-derives the intent with the queries issued so far.
func (st *state) currentIntent() intent.SearchIntent {
	if len(st.queries) == 0 {
		return st.intent
	}
	return intent.Detect(st.in.Text, st.queries)
}

func (st *state) feedbackSummary(ctx context.Context) string {
	if st.feedback != nil {
		return *st.feedback
	}
	summary := ""
	if st.e.feedback != nil {
		s, err := st.e.feedback.Summary(ctx)
		if err != nil {
			st.e.logger.Debug("feedback memory unavailable: %v", err)
		} else {
			summary = strings.TrimSpace(s)
		}
	}
	st.feedback = &summary
	return summary
}
