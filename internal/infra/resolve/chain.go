// Package resolve implements ports.Resolver backends that turn a single URL
// into authoritative media metadata: the Bilibili view API, yt-dlp, and a
// generic OpenGraph page reader.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sourcer/internal/domain/agent/ports"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/logging"
)

// Backend is one resolver in a Chain. Matches lets site-specific backends
// opt out of URLs they cannot handle.
type Backend interface {
	ports.Resolver
	Name() string
	Matches(rawURL string) bool
}

// Chain tries matching backends in order and returns the first success.
type Chain struct {
	backends []Backend
	logger   logging.Logger
}

func NewChain(logger logging.Logger, backends ...Backend) *Chain {
	c := &Chain{logger: logging.OrNop(logger)}
	for _, b := range backends {
		if b != nil {
			c.backends = append(c.backends, b)
		}
	}
	return c
}

func (c *Chain) Resolve(ctx context.Context, rawURL, cookiesHint string) (*ports.ResolvedMedia, error) {
	rawURL = strings.TrimSpace(rawURL)
	var errs []error
	tried := 0
	for _, b := range c.backends {
		if !b.Matches(rawURL) {
			continue
		}
		tried++
		media, err := b.Resolve(ctx, rawURL, cookiesHint)
		if err == nil && media != nil && strings.TrimSpace(media.Title) != "" {
			if media.Extractor == "" {
				media.Extractor = b.Name()
			}
			if media.CanonicalURL == "" {
				media.CanonicalURL = rawURL
			}
			return media, nil
		}
		if errors.Is(err, sharederrors.ErrConsentRequired) || ctx.Err() != nil {
			return nil, err
		}
		if err == nil {
			err = fmt.Errorf("empty metadata")
		}
		c.logger.Debug("resolver %s failed for %s: %v", b.Name(), rawURL, err)
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	if tried == 0 {
		return nil, fmt.Errorf("resolve %s: %w", rawURL, sharederrors.ErrNoProvider)
	}
	return nil, fmt.Errorf("resolve %s: %w", rawURL, errors.Join(errs...))
}
