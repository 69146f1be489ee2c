package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sourcer/internal/domain/agent/ports"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/logging"
)

// Observer receives one sample per provider call. status is one of ok,
// empty, error or open.
type Observer func(provider, status string, elapsed time.Duration)

// ChainOption configures a Chain.
type ChainOption func(*Chain)

func WithObserver(obs Observer) ChainOption {
	return func(c *Chain) { c.observe = obs }
}

func WithBreakerConfig(cfg sharederrors.CircuitBreakerConfig) ChainOption {
	return func(c *Chain) { c.breakerCfg = cfg }
}

func WithChainLogger(logger logging.Logger) ChainOption {
	return func(c *Chain) { c.logger = logging.OrNop(logger) }
}

type link struct {
	provider ports.SearchProvider
	breaker  *sharederrors.CircuitBreaker
}

// Chain tries providers in order and returns the first non-empty result
// set. Each provider sits behind its own circuit breaker shared across
// turns.
type Chain struct {
	name       string
	links      []link
	logger     logging.Logger
	observe    Observer
	breakerCfg sharederrors.CircuitBreakerConfig
}

// NewChain drops nil providers. A chain with no providers returns
// ErrNoProvider.
func NewChain(name string, providers []ports.SearchProvider, opts ...ChainOption) *Chain {
	c := &Chain{
		name:       name,
		logger:     logging.NewComponentLogger("search"),
		breakerCfg: sharederrors.CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		c.links = append(c.links, link{
			provider: p,
			breaker:  sharederrors.NewCircuitBreaker("search."+p.Name(), c.breakerCfg, c.logger),
		})
	}
	return c
}

func (c *Chain) Name() string {
	if c.name != "" {
		return c.name
	}
	names := make([]string, 0, len(c.links))
	for _, l := range c.links {
		names = append(names, l.provider.Name())
	}
	return strings.Join(names, "+")
}

// Len reports how many providers the chain holds.
func (c *Chain) Len() int { return len(c.links) }

func (c *Chain) Search(ctx context.Context, req ports.SearchRequest) ([]Result, error) {
	if len(c.links) == 0 {
		return nil, fmt.Errorf("search chain %s: %w", c.Name(), sharederrors.ErrNoProvider)
	}
	var errs []error
	for _, l := range c.links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := l.provider.Name()
		start := time.Now()

		results, err := sharederrors.ExecuteFunc(l.breaker, ctx, func(ctx context.Context) ([]Result, error) {
			results, err := l.provider.Search(ctx, req)
			if errors.Is(err, sharederrors.ErrNoProvider) {
				// An unconfigured provider says nothing about backend health.
				return nil, nil
			}
			return results, err
		})
		elapsed := time.Since(start)

		switch {
		case errors.Is(err, sharederrors.ErrConsentRequired):
			c.record(name, "error", elapsed)
			return nil, err
		case sharederrors.IsDegraded(err):
			c.record(name, "open", elapsed)
			errs = append(errs, err)
			continue
		case err != nil:
			c.record(name, "error", elapsed)
			c.logger.Warn("provider %s failed for %q: %v", name, req.Query, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		case len(results) == 0:
			c.record(name, "empty", elapsed)
			continue
		}
		c.record(name, "ok", elapsed)
		return results, nil
	}
	if len(errs) == len(c.links) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

func (c *Chain) record(provider, status string, elapsed time.Duration) {
	if c.observe != nil {
		c.observe(provider, status, elapsed)
	}
}
