package candidate

import (
	"strings"
	"sync"
)

// Registry is the per-turn candidate set. Entries are never removed, so Len
// is non-decreasing for the life of a turn. Safe for concurrent writers.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Candidate
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Candidate)}
}

// Upsert inserts c or merges it into the existing entry with the same
// (kind, normalized url). It returns the stored candidate and whether it was
// newly created.
func (r *Registry) Upsert(c Candidate) (Candidate, bool) {
	c.URL = strings.TrimSpace(c.URL)
	if c.URL == "" {
		return Candidate{}, false
	}
	if c.Kind == "" {
		c.Kind = KindLink
	}
	c.ID = ID(c.Kind, c.URL)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[c.ID]; ok {
		merge(existing, c)
		return clone(*existing), false
	}
	c.Order = len(r.order)
	stored := clone(c)
	r.items[c.ID] = &stored
	r.order = append(r.order, c.ID)
	return clone(stored), true
}

// Get returns the candidate with id.
func (r *Registry) Get(id string) (Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return Candidate{}, false
	}
	return clone(*c), true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

// ApplyReview records a review verdict on an existing candidate.
func (r *Registry) ApplyReview(id string, score *float64, tags []string, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return false
	}
	merge(c, Candidate{Score: score, Tags: tags, Reason: reason})
	return true
}

// Hydrate merges resolver metadata into id and marks it resolved.
func (r *Registry) Hydrate(id string, update Candidate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return false
	}
	// The canonical URL may differ from the discovered one; the id stays.
	update.URL = ""
	update.Resolved = true
	merge(c, update)
	return true
}

// List returns candidates of kind in discovery order. An empty kind lists all.
func (r *Registry) List(kind Kind) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Candidate, 0, len(r.order))
	for _, id := range r.order {
		c := r.items[id]
		if kind == "" || c.Kind == kind {
			out = append(out, clone(*c))
		}
	}
	return out
}

// All returns every candidate in discovery order.
func (r *Registry) All() []Candidate {
	return r.List("")
}

// Len returns the number of distinct candidates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Count returns the number of candidates of kind.
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, id := range r.order {
		if r.items[id].Kind == kind {
			n++
		}
	}
	return n
}
