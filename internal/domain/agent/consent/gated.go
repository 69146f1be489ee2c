package consent

import (
	"context"

	"sourcer/internal/domain/agent/ports"
)

// GatedSearch wraps a provider so no request leaves the process unless the
// project is consented at call time.
type GatedSearch struct {
	gate      *Gate
	projectID string
	inner     ports.SearchProvider
}

// NewGatedSearch binds provider to projectID's consent.
func NewGatedSearch(gate *Gate, projectID string, provider ports.SearchProvider) *GatedSearch {
	return &GatedSearch{gate: gate, projectID: projectID, inner: provider}
}

func (s *GatedSearch) Name() string {
	if s.inner == nil {
		return "none"
	}
	return s.inner.Name()
}

func (s *GatedSearch) Search(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
	if err := s.gate.Require(ctx, s.projectID); err != nil {
		return nil, err
	}
	if s.inner == nil {
		return nil, nil
	}
	return s.inner.Search(ctx, req)
}

// GatedResolver is the resolver counterpart of GatedSearch.
type GatedResolver struct {
	gate      *Gate
	projectID string
	inner     ports.Resolver
}

// NewGatedResolver binds resolver to projectID's consent.
func NewGatedResolver(gate *Gate, projectID string, resolver ports.Resolver) *GatedResolver {
	return &GatedResolver{gate: gate, projectID: projectID, inner: resolver}
}

func (r *GatedResolver) Resolve(ctx context.Context, url, cookiesHint string) (*ports.ResolvedMedia, error) {
	if err := r.gate.Require(ctx, r.projectID); err != nil {
		return nil, err
	}
	if r.inner == nil {
		return nil, nil
	}
	return r.inner.Resolve(ctx, url, cookiesHint)
}
