// Package budget holds the pass counter and stop criteria that bound every
// turn.
package budget

import "sync/atomic"

const (
	// MaxToolAgentPasses caps DO/REVIEW tool rounds.
	MaxToolAgentPasses = 5
	// MaxHeuristicPasses caps SEARCH/REFINE rounds on the fallback path.
	MaxHeuristicPasses = 2
	// MaxToolCallsPerStep caps calls executed from one model response.
	MaxToolCallsPerStep = 6
	// MaxDigestCandidates caps the candidate digest sent to REVIEW.
	MaxDigestCandidates = 30
	// MaxHydrate caps resolves issued by HYDRATE.
	MaxHydrate = 6
	// MaxQueryRounds caps query rounds per heuristic pass.
	MaxQueryRounds = 3
	// MaxResolvePerPass caps heuristic resolves per pass.
	MaxResolvePerPass = 3

	// EnoughVideos and EnoughLinks stop searching early.
	EnoughVideos = 4
	EnoughLinks  = 6

	// FallbackVideos and FallbackLinks size the deterministic selection.
	FallbackVideos = 3
	FallbackLinks  = 4
)

// PassCounter is a monotonic counter with a hard cap. Once exhausted it
// never advances again.
type PassCounter struct {
	max int64
	n   atomic.Int64
}

// NewPassCounter creates a counter capped at max (at least 1).
func NewPassCounter(max int) *PassCounter {
	if max < 1 {
		max = 1
	}
	return &PassCounter{max: int64(max)}
}

// TryAdvance consumes one pass, returning false when the cap is reached.
func (p *PassCounter) TryAdvance() bool {
	for {
		cur := p.n.Load()
		if cur >= p.max {
			return false
		}
		if p.n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Exhausted reports whether no pass remains.
func (p *PassCounter) Exhausted() bool {
	return p.n.Load() >= p.max
}

// Count returns passes consumed so far.
func (p *PassCounter) Count() int {
	return int(p.n.Load())
}

// Max returns the cap.
func (p *PassCounter) Max() int {
	return int(p.max)
}

// Remaining returns passes left.
func (p *PassCounter) Remaining() int {
	return int(p.max - p.n.Load())
}

// EnoughCandidates is the early-stop heuristic.
func EnoughCandidates(videos, links int) bool {
	return videos >= EnoughVideos || links >= EnoughLinks
}
