package tokenutil

import (
	"strings"
	"testing"
)

func TestCountTokensEmpty(t *testing.T) {
	if got := CountTokens(""); got != 0 {
		t.Fatalf("CountTokens(\"\") = %d, want 0", got)
	}
	if got := CountTokens("hello world"); got <= 0 {
		t.Fatalf("expected positive count, got %d", got)
	}
}

func TestEstimateFastUsesWordFloor(t *testing.T) {
	if got := EstimateFast("a b c d"); got != 4 {
		t.Fatalf("EstimateFast = %d, want 4", got)
	}
	if got := EstimateFast("  \n "); got != 0 {
		t.Fatalf("EstimateFast(blank) = %d, want 0", got)
	}
}

func TestTruncateToTokens(t *testing.T) {
	if got := TruncateToTokens("short", 100); got != "short" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	long := strings.Repeat("footage ", 400)
	got := TruncateToTokens(long, 10)
	if !strings.HasSuffix(got, "...") || len(got) >= len(long) {
		t.Fatalf("expected truncated text, got %d chars", len(got))
	}
}

func TestFitTailKeepsNewest(t *testing.T) {
	texts := []string{strings.Repeat("old ", 500), "mid", "new"}
	if got := FitTail(texts, 20); got != 2 {
		t.Fatalf("FitTail = %d, want 2", got)
	}
	if got := FitTail([]string{strings.Repeat("huge ", 500)}, 5); got != 1 {
		t.Fatalf("newest item must always be kept, got %d", got)
	}
	if got := FitTail(texts, 0); got != 3 {
		t.Fatalf("zero budget means unbounded, got %d", got)
	}
}
