package intent

import (
	"sort"
	"strings"

	"sourcer/internal/domain/candidate"
)

// Scoring weights. These are empirical and expected to be recalibrated
// against real query logs.
const (
	WeightPrimary      = 3.0
	WeightSecondary    = 1.0
	BoostPreferred     = 2.0
	PenaltyUnpreferred = -1.0
)

// Scored pairs a candidate with its relevance score.
type Scored struct {
	candidate.Candidate
	Relevance float64
}

// Score computes the token-overlap relevance of c. Primary tokens come from
// the user's text, secondary tokens from model-issued queries.
func Score(c candidate.Candidate, primary, secondary []string, in SearchIntent) float64 {
	haystack := strings.ToLower(c.Text())
	score := 0.0
	counted := make(map[string]bool, len(primary))
	for _, tok := range primary {
		if counted[tok] {
			continue
		}
		counted[tok] = true
		if strings.Contains(haystack, tok) {
			score += WeightPrimary
		}
	}
	for _, tok := range secondary {
		if counted[tok] {
			continue
		}
		counted[tok] = true
		if strings.Contains(haystack, tok) {
			score += WeightSecondary
		}
	}
	if len(counted) == 0 {
		// Nothing to match against; keep everything in discovery order.
		score = WeightSecondary
	}
	return score + platformAdjustment(PlatformOf(c.URL), in)
}

func platformAdjustment(platform string, in SearchIntent) float64 {
	if platform == "" {
		return 0
	}
	for _, target := range in.Platforms {
		if target == platform {
			return BoostPreferred
		}
	}
	switch in.Preference {
	case PreferDomestic:
		if IsDomestic(platform) {
			return BoostPreferred
		}
		return PenaltyUnpreferred
	case PreferExternal:
		if IsDomestic(platform) {
			return PenaltyUnpreferred
		}
		return BoostPreferred
	}
	return 0
}

// Rank scores items, drops those scoring <= 0, and sorts by score. Items
// must be given in discovery order; ties keep it.
func Rank(items []candidate.Candidate, primary, secondary []string, in SearchIntent) []Scored {
	out := make([]Scored, 0, len(items))
	for _, item := range items {
		s := Score(item, primary, secondary, in)
		if s <= 0 {
			continue
		}
		out = append(out, Scored{Candidate: item, Relevance: s})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return out
}

// Candidates strips scores from a ranked list.
func Candidates(ranked []Scored) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Candidate)
	}
	return out
}

// SeenSet builds a lookup of normalized urls.
func SeenSet(urls []string) map[string]bool {
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if n := candidate.NormalizeURL(u); n != "" {
			seen[n] = true
		}
	}
	return seen
}

// PreferNovel picks up to n items, taking those whose url is not in seen
// first and falling back to repeats only when novel items run out. Relative
// order within each group is preserved.
func PreferNovel(items []candidate.Candidate, seen map[string]bool, n int) []candidate.Candidate {
	if n <= 0 {
		return nil
	}
	novel := make([]candidate.Candidate, 0, len(items))
	var repeats []candidate.Candidate
	for _, item := range items {
		if seen[candidate.NormalizeURL(item.URL)] {
			repeats = append(repeats, item)
			continue
		}
		novel = append(novel, item)
	}
	out := novel
	if len(out) > n {
		return out[:n]
	}
	for _, r := range repeats {
		if len(out) >= n {
			break
		}
		out = append(out, r)
	}
	return out
}

// RelevanceOrder puts scored items first, best first, then the rest in
// discovery order. Unlike Rank it never drops anything.
func RelevanceOrder(items []candidate.Candidate, primary, secondary []string, in SearchIntent) []candidate.Candidate {
	ordered := Candidates(Rank(items, primary, secondary, in))
	seen := make(map[string]bool, len(ordered))
	for _, c := range ordered {
		seen[c.ID] = true
	}
	for _, c := range items {
		if !seen[c.ID] {
			ordered = append(ordered, c)
		}
	}
	return ordered
}
