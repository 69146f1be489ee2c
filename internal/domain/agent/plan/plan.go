// Package plan holds the advisory turn plan produced by THINK or PLAN and
// the deterministic keyword plan used when no model is reachable.
package plan

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"sourcer/internal/domain/intent"
	"sourcer/internal/shared/jsonextract"
)

const (
	maxQueries    = 4
	maxQueryRunes = 40
)

// Plan is advisory. A missing or partial plan never blocks execution.
type Plan struct {
	Intent        string   `json:"intent,omitempty"`
	Preference    string   `json:"platform_preference,omitempty"`
	Assumptions   []string `json:"assumptions,omitempty"`
	ToolStrategy  []string `json:"tool_strategy,omitempty"`
	SearchQueries []string `json:"search_queries,omitempty"`
	StopCriteria  string   `json:"stop_criteria,omitempty"`
	// Heuristic marks a plan synthesized without a model.
	Heuristic bool `json:"heuristic,omitempty"`
}

// Empty reports whether p carries nothing usable.
func (p Plan) Empty() bool {
	return p.Intent == "" && len(p.Assumptions) == 0 && len(p.ToolStrategy) == 0 &&
		len(p.SearchQueries) == 0 && p.StopCriteria == ""
}

// Parse reads a plan out of raw model output. Unknown fields are ignored and
// wrong-typed fields fall back to zero values.
func Parse(raw string) (Plan, error) {
	obj, err := jsonextract.ExtractObject(raw)
	if err != nil {
		return Plan{}, err
	}
	p := Plan{
		Intent:        jsonextract.String(obj, "intent"),
		Preference:    jsonextract.String(obj, "platform_preference"),
		Assumptions:   jsonextract.StringSlice(obj, "assumptions"),
		ToolStrategy:  jsonextract.StringSlice(obj, "tool_strategy"),
		SearchQueries: cleanQueries(jsonextract.StringSlice(obj, "search_queries")),
		StopCriteria:  jsonextract.String(obj, "stop_criteria"),
	}
	if p.Empty() {
		return Plan{}, fmt.Errorf("plan has no usable fields")
	}
	return p, nil
}

var (
	cjkFiller     = regexp.MustCompile(`^(请|麻烦)?(帮我|帮忙|给我)?(找一些|找一下|找些|找点|找|搜一下|搜索|搜|推荐一些|推荐|来点)?`)
	englishFiller = regexp.MustCompile(`(?i)^(please\s+)?(help\s+me\s+)?(find|search( for)?|get|look for)(\s+me)?\s+(some\s+)?`)
)

var searchVerbPattern = regexp.MustCompile(`(?i)(找|搜|查一下|推荐|类似|相似|同款|一样的|更多|search|find|similar|more like|recommend|look for|source)`)

// AsksToSearch reports whether text asks for something to be found.
func AsksToSearch(text string) bool {
	return searchVerbPattern.MatchString(intent.StripURLs(text))
}

// Core strips request phrasing and urls from text, leaving the subject.
func Core(text string) string {
	s := intent.StripURLs(text)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSpace(cjkFiller.ReplaceAllString(s, ""))
	s = strings.TrimSpace(englishFiller.ReplaceAllString(s, ""))
	s = strings.Trim(s, "，。！？,.!?：: ")
	if utf8.RuneCountInString(s) > maxQueryRunes {
		s = string([]rune(s)[:maxQueryRunes])
	}
	return strings.TrimSpace(s)
}

// Fallback synthesizes a plan from the user text alone. It is deterministic:
// the same text always yields the same plan.
func Fallback(text string, in intent.SearchIntent) Plan {
	core := Core(text)
	if core == "" {
		core = strings.Join(intent.FocusTokens(text), " ")
	}
	p := Plan{
		Intent:     string(in.Primary),
		Preference: string(in.Preference),
		Heuristic:  true,
	}
	if core == "" {
		p.Assumptions = []string{"the request names no searchable subject"}
		return p
	}

	queries := []string{core}
	switch {
	case in.Primary == intent.AssetVideo && in.Preference != intent.PreferExternal:
		queries = append(queries, core+" 视频")
	case in.Primary == intent.AssetVideo:
		queries = append(queries, core+" video")
	}
	if terms := in.LicenseQueryTerms(); terms != "" {
		queries = append(queries, core+" "+terms)
	}
	if in.MultiAsset {
		queries = append(queries, core+" BGM 配乐")
	}
	p.SearchQueries = cleanQueries(queries)

	p.Assumptions = []string{fmt.Sprintf("the user wants %s assets about %q", in.Primary, core)}
	if len(in.Licenses) > 0 {
		p.Assumptions = append(p.Assumptions, "requested license terms are preferences, not verified facts")
	}
	p.ToolStrategy = strategyFor(in)
	p.StopCriteria = "stop at 4 relevant videos or 6 relevant links"
	return p
}

func strategyFor(in intent.SearchIntent) []string {
	var out []string
	switch {
	case in.Primary == intent.AssetVideo && in.Preference == intent.PreferExternal:
		out = append(out, "search_video_sites", "search_web")
	case in.Primary == intent.AssetVideo:
		out = append(out, "search_bilibili_videos", "search_video_sites")
	default:
		out = append(out, "search_web")
	}
	if in.MultiAsset {
		out = append(out, "search_web for BGM and voice-over sources")
	}
	return append(out, "resolve_url on promising candidates missing titles")
}

func cleanQueries(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.Join(strings.Fields(q), " ")
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) >= maxQueries {
			break
		}
	}
	return out
}

// Note renders p as the system note injected after THINK.
func (p Plan) Note() string {
	var b strings.Builder
	if p.Heuristic {
		b.WriteString("Plan (keyword heuristic, advisory):\n")
	} else {
		b.WriteString("Plan (advisory, not a hard constraint):\n")
	}
	if p.Intent != "" {
		fmt.Fprintf(&b, "- intent: %s\n", p.Intent)
	}
	if p.Preference != "" {
		fmt.Fprintf(&b, "- platform preference: %s\n", p.Preference)
	}
	writeList(&b, "assumptions", p.Assumptions)
	writeList(&b, "tool strategy", p.ToolStrategy)
	writeList(&b, "search queries", p.SearchQueries)
	if p.StopCriteria != "" {
		fmt.Fprintf(&b, "- stop when: %s\n", p.StopCriteria)
	}
	return strings.TrimSpace(b.String())
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(items, "; "))
}
