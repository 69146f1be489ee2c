package heuristic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"sourcer/internal/domain/agent/agenttrace"
	"sourcer/internal/domain/agent/budget"
	"sourcer/internal/domain/agent/consent"
	"sourcer/internal/domain/agent/plan"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/present"
	"sourcer/internal/domain/agent/tools"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonextract"
	"sourcer/internal/shared/logging"
)

const (
	defaultNumResults = 8
	maxPlanQueries    = 4
	historyLines      = 6
	historyLineRunes  = 200
	resolveFanout     = 3
)

var errNoLLM = errors.New("no llm client configured")

// Engine runs heuristic turns. llm may be nil or a native-only backend.
type Engine struct {
	llm    ports.LLMClient
	cfg    Config
	logger logging.Logger
	clock  func() time.Time
}

// NewEngine creates an engine.
func NewEngine(llm ports.LLMClient, cfg Config, logger logging.Logger) *Engine {
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = budget.MaxHeuristicPasses
	}
	if cfg.NumResults <= 0 {
		cfg.NumResults = defaultNumResults
	}
	return &Engine{llm: llm, cfg: cfg, logger: logging.OrNop(logger), clock: time.Now}
}

type run struct {
	e      *Engine
	in     Input
	env    *tools.Env
	passes *budget.PassCounter

	intent    intent.SearchIntent
	primary   []string
	fallback  plan.Plan
	queries   []string
	tried     []string
	planReply string
	searched  bool
	finished  bool

	res Result
}

// Run executes one turn and always returns a result.
func (e *Engine) Run(ctx context.Context, in Input, env *tools.Env) *Result {
	r := &run{e: e, in: in, env: env, passes: budget.NewPassCounter(e.cfg.MaxPasses)}

	r.step(ctx, "plan", r.plan)
	r.step(ctx, "resolve_urls", r.resolveDirect)
	if !r.finished && !r.res.ShouldSearch {
		r.finishWithoutSearch()
	}
	for !r.finished && r.passes.TryAdvance() {
		r.step(ctx, "search", r.searchPass)
		if r.finished {
			break
		}
		var refine bool
		r.step(ctx, "review_refine", func(ctx context.Context) (string, error) {
			var note string
			var err error
			refine, note, err = r.reviewRefine(ctx)
			return note, err
		})
		if !refine {
			break
		}
	}
	if !r.finished {
		r.step(ctx, "review", r.review)
	}

	r.res.Passes = r.passes.Count()
	r.res.Candidates = env.Registry.All()
	return &r.res
}

// DirectOnly reports whether the pasted urls alone decide the turn: several
// urls, or one url with no request to search around it.
func DirectOnly(text string, urls []string) bool {
	return len(urls) > 1 || (len(urls) == 1 && !plan.AsksToSearch(text))
}

// RunDirect runs only the RESOLVE-DIRECT-URLS step, without asking the model
// for a plan. ok is false when the turn needs the full loop.
func (e *Engine) RunDirect(ctx context.Context, in Input, env *tools.Env) (res *Result, ok bool) {
	if !DirectOnly(in.Text, in.URLs) {
		return nil, false
	}
	r := &run{e: e, in: in, env: env, passes: budget.NewPassCounter(e.cfg.MaxPasses)}
	r.intent = intent.Detect(in.Text, nil)
	r.primary = intent.FocusTokens(in.Text)
	r.fallback = plan.Fallback(in.Text, r.intent)
	r.res.Plan = r.fallback

	r.step(ctx, "resolve_urls", r.resolveDirect)
	if !r.finished {
		return nil, false
	}
	r.res.Candidates = env.Registry.All()
	return &r.res, true
}

func (r *run) step(ctx context.Context, name string, fn func(context.Context) (string, error)) {
	started := r.e.clock()
	spanName := agenttrace.SpanNode
	if name == "search" {
		spanName = agenttrace.SpanHeuristic
	}
	ctx, span := agenttrace.Start(ctx, spanName,
		attribute.String(agenttrace.AttrNode, name),
		attribute.Int(agenttrace.AttrPass, r.passes.Count()),
	)
	defer span.End()

	note, err := fn(ctx)
	agenttrace.Mark(span, err)
	entry := agenttrace.Step{Node: name, Pass: r.passes.Count(), Note: note, DurationMs: r.e.clock().Sub(started).Milliseconds()}
	if err != nil {
		entry.Error = err.Error()
		r.e.logger.Warn("heuristic %s degraded: %v", name, err)
	}
	r.res.Trace = append(r.res.Trace, entry)
}

func (r *run) complete(ctx context.Context, node, system, user string) (map[string]any, error) {
	if r.e.llm == nil {
		return nil, errNoLLM
	}
	ctx, span := agenttrace.Start(ctx, agenttrace.SpanLLM,
		attribute.String(agenttrace.AttrNode, node),
		attribute.String(agenttrace.AttrModel, r.e.llm.Model()),
	)
	defer span.End()
	if r.e.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.e.cfg.LLMTimeout)
		defer cancel()
	}
	resp, err := r.e.llm.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: system, Source: ports.MessageSourceSystemPrompt},
			{Role: ports.RoleUser, Content: user, Source: ports.MessageSourceUserInput},
		},
		Temperature: r.e.cfg.Temperature,
		JSONMode:    true,
		Metadata:    map[string]any{"node": node, "project_id": r.in.ProjectID},
	})
	if err == nil && resp == nil {
		err = errors.New("empty completion response")
	}
	var obj map[string]any
	if err == nil {
		obj, err = jsonextract.ExtractObject(resp.Content)
		if err != nil {
			err = fmt.Errorf("%w: %v", sharederrors.ErrMalformedOutput, err)
		}
	}
	agenttrace.Mark(span, err)
	return obj, err
}

func (r *run) historyLines() []string {
	hist := r.in.History
	if len(hist) > historyLines {
		hist = hist[len(hist)-historyLines:]
	}
	out := make([]string, 0, len(hist))
	for _, m := range hist {
		out = append(out, m.Role+": "+candidate.Clip(m.Content, historyLineRunes))
	}
	return out
}

// plan asks the model for a plan and falls back to the keyword plan.
func (r *run) plan(ctx context.Context) (string, error) {
	r.intent = intent.Detect(r.in.Text, nil)
	r.primary = intent.FocusTokens(r.in.Text)
	r.fallback = plan.Fallback(r.in.Text, r.intent)

	obj, err := r.complete(ctx, "plan", planPrompt, planInput(r.in.Text, r.intent, r.historyLines()))
	var mp modelPlan
	if err == nil {
		mp = modelPlan{
			Reply:         jsonextract.String(obj, "reply"),
			PromptDraft:   jsonextract.String(obj, "prompt_draft"),
			SearchQueries: jsonextract.StringSlice(obj, "search_queries"),
		}
		mp.ShouldSearch = jsonextract.Bool(obj, "should_search", len(mp.SearchQueries) > 0)
		if mp.Reply == "" && len(mp.SearchQueries) == 0 && !mp.ShouldSearch {
			err = fmt.Errorf("%w: plan has no reply and no queries", sharederrors.ErrMalformedOutput)
		}
	}
	if err != nil {
		r.res.Plan = r.fallback
		r.queries = r.fallback.SearchQueries
		r.res.ShouldSearch = len(r.queries) > 0
		return "keyword plan", err
	}

	r.planReply = mp.Reply
	r.res.PromptDraft = mp.PromptDraft
	r.queries = mp.SearchQueries
	if len(r.queries) == 0 && mp.ShouldSearch {
		r.queries = r.fallback.SearchQueries
	}
	if len(r.queries) > maxPlanQueries {
		r.queries = r.queries[:maxPlanQueries]
	}
	r.res.ShouldSearch = mp.ShouldSearch && len(r.queries) > 0
	r.res.Plan = plan.Plan{
		Intent:        string(r.intent.Primary),
		Preference:    string(r.intent.Preference),
		Assumptions:   r.fallback.Assumptions,
		SearchQueries: r.queries,
	}
	return fmt.Sprintf("model plan, %d queries", len(r.queries)), nil
}

// resolveDirect handles pasted urls. One url is a reference that is resolved
// and presented; several urls make the user pick before anything runs.
func (r *run) resolveDirect(ctx context.Context) (string, error) {
	urls := r.in.URLs
	lang := r.in.Lang
	switch {
	case len(urls) == 0:
		return "no urls", nil
	case len(urls) > 1:
		r.res.ShouldSearch = false
		for _, u := range urls {
			c, _ := r.env.Registry.Upsert(candidate.Candidate{Kind: candidate.KindLink, URL: u, Title: u, Source: "user"})
			r.res.Links = append(r.res.Links, c)
		}
		r.res.Reply = present.PickReference(urls, lang)
		r.finished = true
		return fmt.Sprintf("%d urls, asking user to pick", len(urls)), nil
	}

	if err := r.env.Gate.Require(ctx, r.in.ProjectID); err != nil {
		r.needConsent()
		return "consent required", nil
	}
	ref, err := r.resolveReference(ctx, urls[0])

	if !plan.AsksToSearch(r.in.Text) {
		r.res.ShouldSearch = false
		r.present([]candidate.Candidate{ref})
		r.res.Reply = present.Reference(ref, lang)
		r.finished = true
		return "reference only", err
	}
	if len(r.queries) == 0 {
		r.queries = r.fallback.SearchQueries
	}
	r.res.ShouldSearch = len(r.queries) > 0
	return "reference plus search", err
}

func (r *run) resolveReference(ctx context.Context, rawURL string) (candidate.Candidate, error) {
	var err error
	if r.env.Resolver != nil {
		var c candidate.Candidate
		if c, err = tools.HydrateWithin(ctx, r.env, rawURL, r.e.cfg.ToolTimeout); err == nil {
			return c, nil
		}
	} else {
		err = sharederrors.ErrNoProvider
	}
	kind := candidate.KindLink
	if intent.IsVideoURL(rawURL) {
		kind = candidate.KindVideo
	}
	c, _ := r.env.Registry.Upsert(candidate.Candidate{Kind: kind, URL: rawURL, Source: "user"})
	return c, fmt.Errorf("resolve reference: %w", err)
}

func (r *run) present(items []candidate.Candidate) {
	for _, c := range items {
		if c.Kind == candidate.KindVideo {
			r.res.Videos = append(r.res.Videos, c)
		} else {
			r.res.Links = append(r.res.Links, c)
		}
	}
}

func (r *run) needConsent() {
	r.res.NeedsConsent = true
	r.res.Reply = consent.Reply(r.in.Lang)
	r.finished = true
}

func (r *run) finishWithoutSearch() {
	r.finished = true
	if r.planReply != "" {
		r.res.Reply = r.planReply
		return
	}
	r.res.Reply = present.Empty(r.in.Lang)
}

// searchPass runs the query rounds of one pass, then resolves the best few
// videos that still lack metadata.
func (r *run) searchPass(ctx context.Context) (string, error) {
	if err := r.env.Gate.Require(ctx, r.in.ProjectID); err != nil {
		r.needConsent()
		return "consent required", nil
	}
	r.searched = true
	rounds := buildRounds(r.queries, r.intent, r.env)
	failures, found := 0, 0
	var lastErr error
	for _, rd := range rounds {
		results, err := r.search(ctx, rd)
		r.res.SearchCalls++
		r.tried = append(r.tried, rd.query)
		if err != nil {
			if errors.Is(err, consent.ErrConsentRequired) {
				r.needConsent()
				return "consent revoked", nil
			}
			failures++
			lastErr = err
			r.e.logger.Debug("round %s %q failed: %v", rd.name, rd.query, err)
			continue
		}
		for _, res := range results {
			if strings.TrimSpace(res.URL) == "" {
				continue
			}
			if _, created := r.env.Registry.Upsert(candidate.Candidate{
				Kind:            rd.kindFor(res.URL),
				URL:             res.URL,
				Title:           strings.TrimSpace(res.Title),
				Snippet:         strings.TrimSpace(res.Snippet),
				Thumbnail:       res.Thumbnail,
				DurationSeconds: res.DurationSeconds,
				Source:          res.Source,
			}); created {
				found++
			}
		}
	}

	resolved := r.resolveTop(ctx)
	note := fmt.Sprintf("%d round(s), %d failed, %d new, %d resolved", len(rounds), failures, found, resolved)
	if failures == len(rounds) && lastErr != nil {
		return note, lastErr
	}
	return note, nil
}

func (r *run) search(ctx context.Context, rd round) ([]ports.SearchResult, error) {
	if d := r.e.cfg.ToolTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return rd.provider.Search(ctx, ports.SearchRequest{Query: rd.query, NumResults: r.e.cfg.NumResults, ProviderHint: rd.hint})
}

func (r *run) resolveTop(ctx context.Context) int {
	if r.env.Resolver == nil {
		return 0
	}
	in := intent.Detect(r.in.Text, r.tried)
	var targets []string
	for _, c := range intent.RelevanceOrder(r.env.Registry.List(candidate.KindVideo), r.primary, intent.QueryTokens(r.tried), in) {
		if len(targets) >= budget.MaxResolvePerPass {
			break
		}
		if c.NeedsHydration() {
			targets = append(targets, c.ID)
		}
	}
	errs := make([]error, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveFanout)
	for i, id := range targets {
		g.Go(func() error {
			_, errs[i] = tools.HydrateWithin(gctx, r.env, id, r.e.cfg.ToolTimeout)
			return nil
		})
	}
	_ = g.Wait()
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	return ok
}

// reviewRefine decides whether another pass runs. The local early stop
// preempts the model.
func (r *run) reviewRefine(ctx context.Context) (bool, string, error) {
	videos, links := r.env.Registry.Count(candidate.KindVideo), r.env.Registry.Count(candidate.KindLink)
	if budget.EnoughCandidates(videos, links) {
		return false, "enough candidates", nil
	}
	if r.passes.Exhausted() {
		return false, "pass cap reached", nil
	}

	digest := candidate.Digest(r.env.Registry.All(), budget.MaxDigestCandidates, r.in.SeenURLs)
	obj, err := r.complete(ctx, "refine", refinePrompt, refineInput(r.in.Text, r.tried, digest))
	if err != nil {
		next := r.untried(r.fallback.SearchQueries)
		if videos+links == 0 && len(next) > 0 {
			r.queries = next
			return true, "local refine", err
		}
		return false, "stop", err
	}
	next := r.untried(jsonextract.StringSlice(obj, "queries"))
	if !jsonextract.Bool(obj, "refine", false) || len(next) == 0 {
		return false, "model stop", nil
	}
	if len(next) > maxPlanQueries {
		next = next[:maxPlanQueries]
	}
	r.queries = next
	return true, fmt.Sprintf("refine with %d queries", len(next)), nil
}

func (r *run) untried(queries []string) []string {
	tried := make(map[string]bool, len(r.tried))
	for _, q := range r.tried {
		tried[strings.ToLower(strings.TrimSpace(q))] = true
	}
	for _, q := range r.queries {
		tried[strings.ToLower(strings.TrimSpace(q))] = true
	}
	var out []string
	for _, q := range queries {
		key := strings.ToLower(strings.TrimSpace(q))
		if key == "" || tried[key] {
			continue
		}
		tried[key] = true
		out = append(out, strings.TrimSpace(q))
	}
	return out
}

// review ranks, applies history-aware dedup, and composes the reply.
func (r *run) review(ctx context.Context) (string, error) {
	lang := r.in.Lang
	videos := r.env.Registry.List(candidate.KindVideo)
	links := r.env.Registry.List(candidate.KindLink)
	if len(videos)+len(links) == 0 {
		query := plan.Core(r.in.Text)
		if query == "" && len(r.queries) > 0 {
			query = r.queries[0]
		}
		r.res.Reply = present.NoProvider(query, lang)
		r.res.Links = present.ManualSearchLinks(query)
		return "no results, manual links", nil
	}

	in := intent.Detect(r.in.Text, r.tried)
	secondary := intent.QueryTokens(r.tried)
	rankedVideos := intent.Candidates(intent.Rank(videos, r.primary, secondary, in))
	rankedLinks := intent.Candidates(intent.Rank(links, r.primary, secondary, in))
	if len(rankedVideos)+len(rankedLinks) == 0 {
		r.res.Reply = present.Empty(lang)
		r.res.Links = present.ManualSearchLinks(plan.Core(r.in.Text))
		return fmt.Sprintf("%d result(s), none relevant", len(videos)+len(links)), nil
	}
	r.res.Videos = intent.PreferNovel(rankedVideos, r.in.SeenURLs, budget.FallbackVideos)
	r.res.Links = intent.PreferNovel(rankedLinks, r.in.SeenURLs, budget.FallbackLinks)

	summary := present.Summary(len(r.res.Videos), len(r.res.Links), in, lang)
	if r.planReply != "" {
		r.res.Reply = strings.TrimSpace(r.planReply) + "\n\n" + summary
	} else {
		r.res.Reply = summary
	}
	return fmt.Sprintf("presenting %d video(s), %d link(s)", len(r.res.Videos), len(r.res.Links)), nil
}
