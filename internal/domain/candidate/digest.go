package candidate

import (
	"strings"
	"unicode/utf8"

	"sourcer/internal/shared/jsonx"
	tokenutil "sourcer/internal/shared/token"
)

const (
	digestTitleRunes   = 80
	digestSnippetRunes = 120
	digestURLRunes     = 200
	digestTokenBudget  = 2500
)

type digestEntry struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet,omitempty"`
	Duration int    `json:"duration_s,omitempty"`
	Source   string `json:"source,omitempty"`
	Seen     bool   `json:"seen,omitempty"`
}

// Clip collapses whitespace and cuts s to n runes.
func Clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

// Digest renders at most max de-duplicated, field-trimmed candidates as JSON
// lines for a prompt, bounded by a token budget. Entries whose normalized url
// is in seen are flagged as already shown to the user.
func Digest(items []Candidate, max int, seen map[string]bool) string {
	items = Dedupe(items)
	if len(items) > max {
		items = items[:max]
	}
	if len(items) == 0 {
		return "(none yet)"
	}
	lines := make([]string, 0, len(items))
	for _, c := range items {
		u := c.URL
		if utf8.RuneCountInString(u) > digestURLRunes {
			u = string([]rune(u)[:digestURLRunes])
		}
		lines = append(lines, jsonx.MarshalString(digestEntry{
			ID:       c.ID,
			Kind:     string(c.Kind),
			Title:    Clip(c.Title, digestTitleRunes),
			URL:      u,
			Snippet:  Clip(c.Snippet, digestSnippetRunes),
			Duration: c.DurationSeconds,
			Source:   c.Source,
			Seen:     seen[NormalizeURL(c.URL)],
		}, `{}`))
	}
	return tokenutil.TruncateToTokens(strings.Join(lines, "\n"), digestTokenBudget)
}
