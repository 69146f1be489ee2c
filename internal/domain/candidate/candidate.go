// Package candidate holds the per-turn candidate registry: discovered videos
// and links keyed by normalized url, merged on re-discovery.
package candidate

import "strings"

// Kind distinguishes playable media from plain reference links.
type Kind string

const (
	KindVideo Kind = "video"
	KindLink  Kind = "link"
)

func (k Kind) prefix() string {
	if k == KindVideo {
		return "v_"
	}
	return "l_"
}

// KindOfID infers the kind from an id prefix.
func KindOfID(id string) (Kind, bool) {
	switch {
	case strings.HasPrefix(id, "v_"):
		return KindVideo, true
	case strings.HasPrefix(id, "l_"):
		return KindLink, true
	default:
		return "", false
	}
}

// Candidate is a discovered item.
type Candidate struct {
	ID              string   `json:"id"`
	Kind            Kind     `json:"kind"`
	URL             string   `json:"url"`
	Title           string   `json:"title,omitempty"`
	Snippet         string   `json:"snippet,omitempty"`
	Thumbnail       string   `json:"thumbnail,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	Source          string   `json:"source,omitempty"`
	Score           *float64 `json:"score,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	// Resolved is set once a resolver supplied authoritative metadata.
	Resolved bool `json:"resolved,omitempty"`
	// Order is the discovery position within the turn.
	Order int `json:"-"`
}

// NeedsHydration reports whether a resolve pass could add metadata.
func (c Candidate) NeedsHydration() bool {
	if c.Resolved {
		return false
	}
	if strings.TrimSpace(c.Title) == "" {
		return true
	}
	return c.Kind == KindVideo && (c.Thumbnail == "" || c.DurationSeconds == 0)
}

// Text is the haystack used for token scoring.
func (c Candidate) Text() string {
	return c.Title + " " + c.URL + " " + c.Snippet
}

// merge applies non-empty fields of src over dst.
func merge(dst *Candidate, src Candidate) {
	if src.URL != "" {
		dst.URL = src.URL
	}
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Snippet != "" {
		dst.Snippet = src.Snippet
	}
	if src.Thumbnail != "" {
		dst.Thumbnail = src.Thumbnail
	}
	if src.DurationSeconds > 0 {
		dst.DurationSeconds = src.DurationSeconds
	}
	if src.Source != "" {
		dst.Source = src.Source
	}
	if src.Score != nil {
		score := *src.Score
		dst.Score = &score
	}
	if len(src.Tags) > 0 {
		dst.Tags = append([]string(nil), src.Tags...)
	}
	if src.Reason != "" {
		dst.Reason = src.Reason
	}
	if src.Resolved {
		dst.Resolved = true
	}
}

func clone(c Candidate) Candidate {
	if c.Score != nil {
		score := *c.Score
		c.Score = &score
	}
	if c.Tags != nil {
		c.Tags = append([]string(nil), c.Tags...)
	}
	return c
}

// Dedupe merges candidates sharing an id, keeping first-seen order.
// Running it on its own output returns an equal slice.
func Dedupe(items []Candidate) []Candidate {
	index := make(map[string]int, len(items))
	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = ID(item.Kind, item.URL)
		}
		if i, ok := index[item.ID]; ok {
			merge(&out[i], item)
			continue
		}
		index[item.ID] = len(out)
		out = append(out, clone(item))
	}
	return out
}
