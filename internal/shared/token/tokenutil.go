// Package tokenutil counts tokens with tiktoken's cl100k_base encoding and
// falls back to a rune heuristic when the encoding cannot be loaded.
package tokenutil

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func enc() *tiktoken.Tiktoken {
	once.Do(func() {
		if e, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = e
		}
	})
	return encoding
}

// CountTokens returns the cl100k_base token count of text.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if e := enc(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast returns max(runes/4, words), at least 1 for non-blank text.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// TruncateToTokens cuts text to roughly maxTokens and appends "...".
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if e := enc(); e != nil {
		tokens := e.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return e.Decode(tokens[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}

// FitTail returns how many items, counted from the end of texts, fit inside
// budget tokens. The newest item is always kept so callers never drop the
// most recent context entirely.
func FitTail(texts []string, budget int) int {
	if len(texts) == 0 {
		return 0
	}
	if budget <= 0 {
		return len(texts)
	}
	used := 0
	kept := 0
	for i := len(texts) - 1; i >= 0; i-- {
		cost := CountTokens(texts[i])
		if kept > 0 && used+cost > budget {
			break
		}
		used += cost
		kept++
	}
	return kept
}
