package toolagent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"sourcer/internal/domain/agent/budget"
	"sourcer/internal/domain/agent/consent"
	"sourcer/internal/domain/agent/plan"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/present"
	"sourcer/internal/domain/agent/tools"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
	"sourcer/internal/shared/jsonextract"
)

const (
	hydrateFanout = 3
	maxSelected   = 6
	maxReplyRunes = 600
)

func (st *state) hydrate(ctx context.Context) (Node, string) {
	ordered := intent.RelevanceOrder(st.env.Registry.List(candidate.KindVideo), st.primary, intent.QueryTokens(st.queries), st.currentIntent())
	var targets []string
	for _, c := range ordered {
		if len(targets) >= budget.MaxHydrate {
			break
		}
		if c.NeedsHydration() {
			targets = append(targets, c.ID)
		}
	}
	if len(targets) == 0 || st.env.Resolver == nil {
		return NodeFinalize, "nothing to hydrate"
	}
	if err := st.env.Gate.Require(ctx, st.in.ProjectID); err != nil {
		st.result.NeedsConsent = true
		st.result.Reply = consent.Reply(st.in.Lang)
		return NodeDone, "consent required"
	}
	ok, failed := st.resolveAll(ctx, targets)
	return NodeFinalize, fmt.Sprintf("hydrated %d, failed %d", ok, failed)
}

// resolveAll hydrates ids with bounded fan-out. Failures are logged and
// leave the candidate as discovered.
func (st *state) resolveAll(ctx context.Context, ids []string) (ok, failed int) {
	errs := make([]error, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateFanout)
	for i, id := range ids {
		g.Go(func() error {
			_, errs[i] = tools.HydrateWithin(gctx, st.env, id, st.e.cfg.ToolTimeout)
			return nil
		})
	}
	_ = g.Wait()
	for i, err := range errs {
		if err != nil {
			failed++
			st.e.logger.Debug("hydrate %s failed: %v", ids[i], err)
			continue
		}
		ok++
	}
	return ok, failed
}

type scoreEntry struct {
	score  *float64
	tags   []string
	reason string
}

type selection struct {
	videos    []string
	links     []string
	scorecard map[string]scoreEntry
	groups    [][]string
	reply     string
}

func parseSelection(raw string) (selection, error) {
	obj, err := jsonextract.ExtractObject(raw)
	if err != nil {
		return selection{}, err
	}
	sel := selection{scorecard: map[string]scoreEntry{}}
	if pick := jsonextract.Object(obj, "select"); pick != nil {
		sel.videos = jsonextract.StringSlice(pick, "videos")
		sel.links = jsonextract.StringSlice(pick, "links")
	} else {
		sel.videos = jsonextract.StringSlice(obj, "videos")
		sel.links = jsonextract.StringSlice(obj, "links")
	}

	readEntry := func(m map[string]any) scoreEntry {
		entry := scoreEntry{tags: jsonextract.StringSlice(m, "tags"), reason: jsonextract.String(m, "reason")}
		if s := jsonextract.Float(m, "score", math.NaN()); !math.IsNaN(s) && !math.IsInf(s, 0) {
			entry.score = &s
		}
		return entry
	}
	for _, m := range jsonextract.Objects(obj, "scorecard") {
		if id := jsonextract.String(m, "id"); id != "" {
			sel.scorecard[id] = readEntry(m)
		}
	}
	if byID := jsonextract.Object(obj, "scorecard"); byID != nil {
		for id, v := range byID {
			if m, ok := v.(map[string]any); ok {
				sel.scorecard[id] = readEntry(m)
			}
		}
	}

	if groups, ok := obj["dedupe_groups"].([]any); ok {
		for _, g := range groups {
			members, _ := g.([]any)
			var ids []string
			for _, m := range members {
				if id, ok := m.(string); ok && strings.TrimSpace(id) != "" {
					ids = append(ids, strings.TrimSpace(id))
				}
			}
			if len(ids) > 1 {
				sel.groups = append(sel.groups, ids)
			}
		}
	}
	sel.reply = jsonextract.String(obj, "reply")
	return sel, nil
}

// validIDs keeps ids that exist in the registry with the expected kind, in
// order, without repeats.
func validIDs(reg *candidate.Registry, ids []string, kind candidate.Kind, taken map[string]bool) []string {
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if taken[id] {
			continue
		}
		c, ok := reg.Get(id)
		if !ok || c.Kind != kind {
			continue
		}
		taken[id] = true
		out = append(out, id)
		if len(out) >= maxSelected {
			break
		}
	}
	return out
}

// collapseGroups keeps only the first selected member of each dedupe group.
func collapseGroups(ids []string, groups [][]string) []string {
	drop := map[string]bool{}
	for _, group := range groups {
		kept := false
		for _, selected := range ids {
			if !contains(group, selected) {
				continue
			}
			if kept {
				drop[selected] = true
			}
			kept = true
		}
	}
	out := ids[:0:0]
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

// novelFirst moves ids already shown in earlier turns behind the new ones,
// keeping the model's order within each group.
func novelFirst(reg *candidate.Registry, ids []string, seen map[string]bool) []string {
	if len(seen) == 0 || len(ids) < 2 {
		return ids
	}
	return idsOf(intent.PreferNovel(lookup(reg, ids), seen, len(ids)))
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

func (st *state) finalize(ctx context.Context) (Node, string, error) {
	reg := st.env.Registry
	if reg.Len() == 0 {
		st.finalizeEmpty()
		return NodeDone, "no candidates", nil
	}

	planNote := ""
	if st.plan != nil {
		planNote = st.plan.Note()
	}
	digest := candidate.Digest(intent.RelevanceOrder(reg.All(), st.primary, intent.QueryTokens(st.queries), st.currentIntent()), budget.MaxDigestCandidates, st.in.SeenURLs)
	resp, err := st.complete(ctx, NodeFinalize, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: finalizePrompt, Source: ports.MessageSourceSystemPrompt},
			{Role: ports.RoleUser, Content: finalizeInput(st.in.Text, planNote, digest), Source: ports.MessageSourceUserInput},
		},
		ToolChoice: ports.ToolChoiceNone,
		JSONMode:   true,
	})
	var sel selection
	if err == nil {
		sel, err = parseSelection(resp.Content)
	}

	taken := map[string]bool{}
	videos := novelFirst(reg, collapseGroups(validIDs(reg, sel.videos, candidate.KindVideo, taken), sel.groups), st.in.SeenURLs)
	links := novelFirst(reg, collapseGroups(validIDs(reg, sel.links, candidate.KindLink, taken), sel.groups), st.in.SeenURLs)
	for id, entry := range sel.scorecard {
		if taken[id] {
			reg.ApplyReview(id, entry.score, entry.tags, entry.reason)
		}
	}

	note := fmt.Sprintf("selected %d video(s), %d link(s)", len(videos), len(links))
	if len(videos)+len(links) == 0 {
		st.result.FallbackSelection = true
		videos = idsOf(intent.PreferNovel(reg.List(candidate.KindVideo), st.in.SeenURLs, budget.FallbackVideos))
		links = idsOf(intent.PreferNovel(reg.List(candidate.KindLink), st.in.SeenURLs, budget.FallbackLinks))
		note = fmt.Sprintf("fallback top-N: %d video(s), %d link(s)", len(videos), len(links))
	}

	st.postHydrate(ctx, append(append([]string(nil), videos...), links...))

	st.result.Videos = lookup(reg, videos)
	st.result.Links = lookup(reg, links)
	st.result.Reply = st.composeReply(sel.reply)
	return NodeDone, note, err
}

// postHydrate resolves selected ids that still have no title.
func (st *state) postHydrate(ctx context.Context, ids []string) {
	if st.env.Resolver == nil {
		return
	}
	var missing []string
	for _, id := range ids {
		if c, ok := st.env.Registry.Get(id); ok && !c.Resolved && strings.TrimSpace(c.Title) == "" {
			missing = append(missing, id)
		}
		if len(missing) >= budget.MaxHydrate {
			break
		}
	}
	if len(missing) == 0 {
		return
	}
	if err := st.env.Gate.Require(ctx, st.in.ProjectID); err != nil {
		st.e.logger.Debug("skipping post-hydrate: %v", err)
		return
	}
	st.resolveAll(ctx, missing)
}

func (st *state) composeReply(modelReply string) string {
	lang := st.in.Lang
	if modelReply = strings.TrimSpace(modelReply); modelReply != "" && !st.result.FallbackSelection {
		return candidate.Clip(modelReply, maxReplyRunes)
	}
	if len(st.result.Videos)+len(st.result.Links) == 0 {
		return present.Empty(lang)
	}
	return present.Summary(len(st.result.Videos), len(st.result.Links), st.currentIntent(), lang)
}

// finalizeEmpty answers a turn that found nothing. A plain conversational
// answer is kept when no tool was ever called; any search that came back
// empty, failed or not, gets manual search links.
func (st *state) finalizeEmpty() {
	lang := st.in.Lang
	switch {
	case st.toolCalls == 0 && st.lastReply != "":
		st.result.Reply = st.lastReply
	case st.searchCalls > 0 || (st.toolCalls > 0 && !st.toolSucceeded):
		query := plan.Core(st.in.Text)
		st.result.Reply = present.NoProvider(query, lang)
		st.result.Links = present.ManualSearchLinks(query)
	case st.doLLMFailed:
		st.result.Reply = present.Failure(lang)
	default:
		st.result.Reply = present.Empty(lang)
	}
}

func idsOf(items []candidate.Candidate) []string {
	out := make([]string, 0, len(items))
	for _, c := range items {
		out = append(out, c.ID)
	}
	return out
}

func lookup(reg *candidate.Registry, ids []string) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := reg.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}
