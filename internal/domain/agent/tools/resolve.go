package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	"sourcer/internal/domain/agent/consent"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
	sharederrors "sourcer/internal/shared/errors"
)

type resolveURL struct{ env *Env }

// NewResolveURL returns the metadata hydration tool.
func NewResolveURL(env *Env) ports.ToolExecutor { return &resolveURL{env: env} }

func (t *resolveURL) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: NameResolveURL, Category: "resolve", Tags: []string{"metadata"}, Network: true}
}

func (t *resolveURL) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        NameResolveURL,
		Description: "Fetch authoritative metadata (title, thumbnail, duration, description) for a url or an existing candidate id. Use it on promising candidates whose title is missing or unclear.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"url": queryProperty("A url, or a candidate id such as v_0123abcd4567ef89"),
			},
			Required: []string{"url"},
		},
	}
}

func (t *resolveURL) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	env := t.env
	if !env.requireConsent(ctx) {
		return consentResult(call.ID), nil
	}
	target := stringArg(call.Arguments, "url")
	if target == "" {
		target = stringArg(call.Arguments, "id")
	}
	if target == "" {
		return errorResult(call.ID, errors.New("missing url")), nil
	}
	if env.Resolver == nil {
		return errorResult(call.ID, sharederrors.ErrNoProvider), nil
	}

	found, err := Hydrate(ctx, env, target)
	if err != nil {
		if errors.Is(err, consent.ErrConsentRequired) {
			return consentResult(call.ID), nil
		}
		env.logger().Warn("resolve %s failed: %v", target, err)
		return errorResult(call.ID, err), nil
	}
	return refsResult(call.ID, found.Source, []candidate.Candidate{found}), nil
}

// HydrateWithin is Hydrate bounded by d. A non-positive d leaves ctx as is.
func HydrateWithin(ctx context.Context, env *Env, target string, d time.Duration) (candidate.Candidate, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return Hydrate(ctx, env, target)
}

// Hydrate resolves target, which may be a candidate id or a url, and merges
// the metadata into the registry. Unknown urls become new candidates.
func Hydrate(ctx context.Context, env *Env, target string) (candidate.Candidate, error) {
	var existing candidate.Candidate
	var known bool
	if _, isID := candidate.KindOfID(target); isID {
		existing, known = env.Registry.Get(target)
		if !known {
			return candidate.Candidate{}, errors.New("unknown candidate id " + target)
		}
	} else {
		for _, kind := range []candidate.Kind{candidate.KindVideo, candidate.KindLink} {
			if c, ok := env.Registry.Get(candidate.ID(kind, target)); ok {
				existing, known = c, true
				break
			}
		}
	}
	rawURL := target
	if known {
		rawURL = existing.URL
	}

	media, err := env.Resolver.Resolve(ctx, rawURL, env.CookiesHint)
	if err != nil {
		return candidate.Candidate{}, err
	}
	if media == nil {
		return candidate.Candidate{}, errors.New("resolver returned no metadata")
	}

	update := candidate.Candidate{
		Title:           strings.TrimSpace(media.Title),
		Snippet:         strings.TrimSpace(media.Description),
		Thumbnail:       media.Thumbnail,
		DurationSeconds: media.DurationSeconds,
		Source:          media.Extractor,
	}
	if known {
		env.Registry.Hydrate(existing.ID, update)
		c, _ := env.Registry.Get(existing.ID)
		return c, nil
	}

	kind := candidate.KindLink
	if media.DurationSeconds > 0 || intent.IsVideoURL(rawURL) || intent.IsVideoURL(media.CanonicalURL) {
		kind = candidate.KindVideo
	}
	update.Kind = kind
	update.URL = rawURL
	update.Resolved = true
	stored, _ := env.Registry.Upsert(update)
	return stored, nil
}
