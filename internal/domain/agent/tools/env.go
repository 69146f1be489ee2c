// Package tools implements the LLM-callable sourcing tools. Each tool checks
// the consent gate, calls one collaborator, registers what it found in the
// turn's candidate registry, and returns a compact list of references.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"sourcer/internal/domain/agent/consent"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/candidate"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonx"
	"sourcer/internal/shared/logging"
)

// Tool names exposed to the model.
const (
	NameSearchBilibili   = "search_bilibili_videos"
	NameSearchVideoSites = "search_video_sites"
	NameSearchWeb        = "search_web"
	NameResolveURL       = "resolve_url"
)

// IsSearch reports whether name is one of the search tools.
func IsSearch(name string) bool {
	switch name {
	case NameSearchBilibili, NameSearchVideoSites, NameSearchWeb:
		return true
	}
	return false
}

const (
	defaultNumResults = 5
	maxNumResults     = 10
	maxSiteResults    = 20
	snippetRunes      = 160
)

// Env binds the tools to one turn.
type Env struct {
	ProjectID string
	Gate      *consent.Gate
	Registry  *candidate.Registry
	// VideoSearch is the platform video provider, WebSearch the general one.
	VideoSearch ports.SearchProvider
	WebSearch   ports.SearchProvider
	Resolver    ports.Resolver
	VideoSites  []string
	CookiesHint string
	Logger      logging.Logger
}

// Ref is the compact form returned to the model.
type Ref struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

func refOf(c candidate.Candidate) Ref {
	return Ref{ID: c.ID, URL: c.URL, Title: c.Title, Snippet: trimRunes(c.Snippet, snippetRunes)}
}

func trimRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

func (e *Env) logger() logging.Logger {
	return logging.OrNop(e.Logger)
}

// consentResult is returned when the gate denies access.
func consentResult(callID string) *ports.ToolResult {
	return &ports.ToolResult{
		CallID:   callID,
		Content:  "External content access is not authorized for this project. Stop calling tools; the user must confirm access first.",
		Error:    consent.ErrConsentRequired,
		Metadata: map[string]any{ports.MetaNeedsConsent: true},
	}
}

func errorResult(callID string, err error) *ports.ToolResult {
	msg := sharederrors.UserMessage(err)
	if errors.Is(err, sharederrors.ErrNoProvider) {
		msg = "No provider is configured for this tool. Try another tool."
	}
	return &ports.ToolResult{
		CallID:  callID,
		Content: "Tool failed: " + msg,
		Error:   err,
	}
}

func refsResult(callID string, provider string, found []candidate.Candidate) *ports.ToolResult {
	refs := make([]Ref, 0, len(found))
	ids := make([]string, 0, len(found))
	for _, c := range found {
		refs = append(refs, refOf(c))
		ids = append(ids, c.ID)
	}
	content := jsonx.MarshalString(map[string]any{"results": refs, "count": len(refs)}, `{"results":[],"count":0}`)
	return &ports.ToolResult{
		CallID:  callID,
		Content: content,
		Metadata: map[string]any{
			ports.MetaCandidateIDs: ids,
			ports.MetaProvider:     provider,
		},
	}
}

// register upserts search hits; kindFor decides the kind per hit and may
// return "" to skip it.
func (e *Env) register(results []ports.SearchResult, limit int, kindFor func(ports.SearchResult) candidate.Kind) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if limit > 0 && len(out) >= limit {
			break
		}
		kind := kindFor(r)
		if kind == "" || strings.TrimSpace(r.URL) == "" {
			continue
		}
		stored, _ := e.Registry.Upsert(candidate.Candidate{
			Kind:            kind,
			URL:             r.URL,
			Title:           strings.TrimSpace(r.Title),
			Snippet:         strings.TrimSpace(r.Snippet),
			Thumbnail:       r.Thumbnail,
			DurationSeconds: r.DurationSeconds,
			Source:          r.Source,
		})
		if stored.ID == "" || seen[stored.ID] {
			continue
		}
		seen[stored.ID] = true
		out = append(out, stored)
	}
	return out
}

func numResults(args map[string]any, fallback, max int) int {
	n := fallback
	switch v := args["num_results"].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case string:
		_, _ = fmt.Sscanf(v, "%d", &n)
	}
	if n < 1 {
		n = 1
	}
	if n > max {
		n = max
	}
	return n
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func (e *Env) requireConsent(ctx context.Context) bool {
	return e.Gate.Require(ctx, e.ProjectID) == nil
}
