package budget

import (
	"sync"
	"testing"
)

func TestPassCounterCapsAndStaysExhausted(t *testing.T) {
	p := NewPassCounter(3)
	for i := 0; i < 3; i++ {
		if !p.TryAdvance() {
			t.Fatalf("pass %d should be allowed", i+1)
		}
	}
	if p.TryAdvance() || !p.Exhausted() || p.Count() != 3 || p.Remaining() != 0 {
		t.Fatalf("expected exhausted at 3, got count=%d", p.Count())
	}
	if NewPassCounter(0).Max() != 1 {
		t.Fatal("cap must be at least one")
	}
}

func TestPassCounterConcurrent(t *testing.T) {
	p := NewPassCounter(MaxToolAgentPasses)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.TryAdvance() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != MaxToolAgentPasses {
		t.Fatalf("granted %d passes, want %d", granted, MaxToolAgentPasses)
	}
}

func TestEnoughCandidates(t *testing.T) {
	cases := []struct {
		videos, links int
		want          bool
	}{
		{0, 0, false}, {3, 5, false}, {4, 0, true}, {0, 6, true},
	}
	for _, c := range cases {
		if got := EnoughCandidates(c.videos, c.links); got != c.want {
			t.Fatalf("EnoughCandidates(%d,%d) = %v", c.videos, c.links, got)
		}
	}
}
