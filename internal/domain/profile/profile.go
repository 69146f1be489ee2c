// Package profile holds the cross-project preference memory: which asset
// kinds and source domains the user keeps picking. The turn engine only
// reads its prompt form.
package profile

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const (
	maxPromptRunes = 800
	maxCounts      = 8
)

type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Memory mirrors the stored profile document.
type Memory struct {
	Version            int64   `json:"version"`
	UpdatedAtMs        int64   `json:"updated_at_ms"`
	ExportsSeen        int64   `json:"exports_seen"`
	KindCounts         []Count `json:"kind_counts"`
	SourceDomainCounts []Count `json:"source_domain_counts"`
	Prompt             string  `json:"prompt"`
	LastSessionSummary string  `json:"last_session_summary"`
}

// New returns an empty version-1 profile.
func New() Memory {
	return Memory{Version: 1}
}

// PromptText returns the stored prompt, or one built from the counters.
func (m Memory) PromptText() string {
	if p := strings.TrimSpace(m.Prompt); p != "" {
		return p
	}
	return BuildPrompt(m)
}

// BuildPrompt renders the counters as short lines for the system prompt.
func BuildPrompt(m Memory) string {
	var lines []string
	if len(m.KindCounts) > 0 {
		lines = append(lines, "Common selected asset kinds: "+joinCounts(m.KindCounts))
	}
	if len(m.SourceDomainCounts) > 0 {
		lines = append(lines, "Common input source domains: "+joinCounts(m.SourceDomainCounts))
	}
	if s := strings.TrimSpace(m.LastSessionSummary); s != "" {
		lines = append(lines, "Last export summary: "+s)
	}
	out := strings.Join(lines, "\n")
	if r := []rune(out); len(r) > maxPromptRunes {
		out = string(r[:maxPromptRunes]) + "…"
	}
	return out
}

// RecordSelection bumps the kind and source-domain counters for one picked
// asset. The stored prompt is cleared so it is rebuilt from the counters.
func (m *Memory) RecordSelection(kind, sourceURL string, nowMs int64) {
	m.KindCounts = mergeTopCounts(m.KindCounts, []Count{{Key: strings.TrimSpace(kind), Count: 1}}, maxCounts)
	if domain := domainOf(sourceURL); domain != "" {
		m.SourceDomainCounts = mergeTopCounts(m.SourceDomainCounts, []Count{{Key: domain, Count: 1}}, maxCounts)
	}
	m.ExportsSeen++
	m.UpdatedAtMs = nowMs
	m.Prompt = ""
}

func mergeTopCounts(existing, adds []Count, limit int) []Count {
	totals := make(map[string]int64, len(existing)+len(adds))
	for _, c := range existing {
		totals[c.Key] += c.Count
	}
	for _, c := range adds {
		if strings.TrimSpace(c.Key) == "" {
			continue
		}
		totals[c.Key] += c.Count
	}
	out := make([]Count, 0, len(totals))
	for k, v := range totals {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func joinCounts(counts []Count) string {
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s(%d)", c.Key, c.Count))
	}
	return strings.Join(parts, ", ")
}

func domainOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
