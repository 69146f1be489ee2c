package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"sourcer/internal/domain/agent/consent"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
	sharederrors "sourcer/internal/shared/errors"
)

const (
	maxSiteQueries       = 5
	siteQueryFanout      = 3
	providerHintVideo    = "video"
	providerHintWeb      = "web"
	providerHintBilibili = "bilibili"
)

func queryProperty(desc string) ports.Property {
	return ports.Property{Type: "string", Description: desc}
}

func numResultsProperty(max int) ports.Property {
	lo, hi := 1, max
	return ports.Property{
		Type:        "integer",
		Description: fmt.Sprintf("Maximum number of results (1-%d, default %d)", max, defaultNumResults),
		Minimum:     &lo,
		Maximum:     &hi,
	}
}

type searchBilibili struct{ env *Env }

// NewSearchBilibili returns the platform-pinned video search tool.
func NewSearchBilibili(env *Env) ports.ToolExecutor { return &searchBilibili{env: env} }

func (t *searchBilibili) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: NameSearchBilibili, Category: "search", Tags: []string{"video", "bilibili"}, Network: true}
}

func (t *searchBilibili) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        NameSearchBilibili,
		Description: "Search Bilibili for videos. Returns a list of {id, url, title, snippet} video candidates. Use concise Chinese keywords for best results.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"query":       queryProperty("Search keywords"),
				"num_results": numResultsProperty(maxNumResults),
			},
			Required: []string{"query"},
		},
	}
}

func (t *searchBilibili) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	env := t.env
	if !env.requireConsent(ctx) {
		return consentResult(call.ID), nil
	}
	query := stringArg(call.Arguments, "query")
	if query == "" {
		return errorResult(call.ID, errors.New("missing query")), nil
	}
	n := numResults(call.Arguments, defaultNumResults, maxNumResults)

	if env.VideoSearch == nil && env.WebSearch == nil {
		return errorResult(call.ID, sharederrors.ErrNoProvider), nil
	}

	var lastErr error
	if env.VideoSearch != nil {
		found, err := t.search(ctx, env.VideoSearch, ports.SearchRequest{Query: query, NumResults: n, ProviderHint: providerHintBilibili}, n)
		switch {
		case errors.Is(err, consent.ErrConsentRequired):
			return consentResult(call.ID), nil
		case err == nil && len(found) > 0:
			return refsResult(call.ID, env.VideoSearch.Name(), found), nil
		case err != nil:
			env.logger().Warn("bilibili search %q failed: %v", query, err)
			lastErr = err
		}
	}
	if env.WebSearch == nil {
		if lastErr != nil {
			return errorResult(call.ID, lastErr), nil
		}
		return refsResult(call.ID, env.VideoSearch.Name(), nil), nil
	}

	// Site-pinned web search covers an empty or failing video provider.
	found, err := t.search(ctx, env.WebSearch, ports.SearchRequest{Query: "site:bilibili.com " + query, NumResults: n, ProviderHint: providerHintVideo}, n)
	if err != nil {
		if errors.Is(err, consent.ErrConsentRequired) {
			return consentResult(call.ID), nil
		}
		env.logger().Warn("bilibili web fallback %q failed: %v", query, err)
		if lastErr == nil {
			lastErr = err
		}
		return errorResult(call.ID, lastErr), nil
	}
	return refsResult(call.ID, env.WebSearch.Name(), found), nil
}

func (t *searchBilibili) search(ctx context.Context, provider ports.SearchProvider, req ports.SearchRequest, n int) ([]candidate.Candidate, error) {
	results, err := provider.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return t.env.register(results, n, func(r ports.SearchResult) candidate.Kind {
		if intent.PlatformOf(r.URL) == intent.PlatformBilibili && intent.IsVideoURL(r.URL) {
			return candidate.KindVideo
		}
		return ""
	}), nil
}

type searchVideoSites struct{ env *Env }

// NewSearchVideoSites returns the multi-site video search tool.
func NewSearchVideoSites(env *Env) ports.ToolExecutor { return &searchVideoSites{env: env} }

func (t *searchVideoSites) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: NameSearchVideoSites, Category: "search", Tags: []string{"video", "multi-site"}, Network: true}
}

func (t *searchVideoSites) Definition() ports.ToolDefinition {
	sites := make([]any, 0, len(t.env.VideoSites))
	for _, s := range t.env.VideoSites {
		sites = append(sites, s)
	}
	return ports.ToolDefinition{
		Name:        NameSearchVideoSites,
		Description: "Search several video sites at once (one site-pinned query per site). Returns {id, url, title, snippet} candidates. Omit sites to search the whole allow-list.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"query":       queryProperty("Search keywords"),
				"num_results": numResultsProperty(maxSiteResults),
				"sites": {
					Type:        "array",
					Description: "Optional subset of sites to search",
					Items:       &ports.Property{Type: "string", Enum: sites},
				},
			},
			Required: []string{"query"},
		},
	}
}

func hostMatches(rawURL, site string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	site = strings.ToLower(strings.TrimSpace(site))
	return host == site || strings.HasSuffix(host, "."+site)
}

// selectSites intersects requested with the allow-list, preserving the
// requested order. An empty request selects the whole allow-list.
func selectSites(requested []string, allow []string) []string {
	if len(requested) == 0 {
		return append([]string(nil), allow...)
	}
	var out []string
	seen := map[string]bool{}
	for _, r := range requested {
		r = strings.ToLower(strings.TrimSpace(r))
		r = strings.TrimPrefix(strings.TrimPrefix(r, "https://"), "http://")
		r = strings.TrimPrefix(strings.TrimSuffix(r, "/"), "www.")
		for _, a := range allow {
			if (r == a || strings.HasSuffix(r, "."+a) || strings.HasSuffix(a, "."+r)) && !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

func sitesArg(args map[string]any) []string {
	switch v := args["sites"].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
	return nil
}

func (t *searchVideoSites) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	env := t.env
	if !env.requireConsent(ctx) {
		return consentResult(call.ID), nil
	}
	query := stringArg(call.Arguments, "query")
	if query == "" {
		return errorResult(call.ID, errors.New("missing query")), nil
	}
	if env.WebSearch == nil {
		return errorResult(call.ID, sharederrors.ErrNoProvider), nil
	}
	total := numResults(call.Arguments, defaultNumResults*2, maxSiteResults)
	sites := selectSites(sitesArg(call.Arguments), env.VideoSites)
	if len(sites) == 0 {
		return errorResult(call.ID, fmt.Errorf("none of the requested sites are allowed; allowed: %s", strings.Join(env.VideoSites, ", "))), nil
	}
	if len(sites) > maxSiteQueries {
		sites = sites[:maxSiteQueries]
	}
	perSite := (total + len(sites) - 1) / len(sites)
	if perSite < 2 {
		perSite = 2
	}

	perSiteResults := make([][]ports.SearchResult, len(sites))
	var (
		mu       sync.Mutex
		failures []string
		denied   bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(siteQueryFanout)
	for i, site := range sites {
		g.Go(func() error {
			results, err := env.WebSearch.Search(gctx, ports.SearchRequest{
				Query:        "site:" + site + " " + query,
				NumResults:   perSite,
				ProviderHint: providerHintVideo,
			})
			if err != nil {
				mu.Lock()
				if errors.Is(err, consent.ErrConsentRequired) {
					denied = true
				}
				failures = append(failures, site)
				mu.Unlock()
				env.logger().Debug("site query %s failed: %v", site, err)
				return nil
			}
			kept := results[:0:0]
			for _, r := range results {
				if hostMatches(r.URL, site) {
					kept = append(kept, r)
				}
			}
			perSiteResults[i] = kept
			return nil
		})
	}
	_ = g.Wait()

	if denied {
		return consentResult(call.ID), nil
	}
	if len(failures) == len(sites) {
		return errorResult(call.ID, fmt.Errorf("all site queries failed: %s", strings.Join(failures, ", "))), nil
	}

	// Interleave so one prolific site does not crowd out the rest.
	var merged []ports.SearchResult
	for round := 0; ; round++ {
		added := false
		for _, rs := range perSiteResults {
			if round < len(rs) {
				merged = append(merged, rs[round])
				added = true
			}
		}
		if !added {
			break
		}
	}
	found := env.register(merged, total, func(r ports.SearchResult) candidate.Kind {
		if intent.IsVideoURL(r.URL) {
			return candidate.KindVideo
		}
		return candidate.KindLink
	})
	res := refsResult(call.ID, env.WebSearch.Name(), found)
	if len(failures) > 0 {
		res.Metadata["failed_sites"] = failures
	}
	return res, nil
}

type searchWeb struct{ env *Env }

// NewSearchWeb returns the general web search tool.
func NewSearchWeb(env *Env) ports.ToolExecutor { return &searchWeb{env: env} }

func (t *searchWeb) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: NameSearchWeb, Category: "search", Tags: []string{"web"}, Network: true}
}

func (t *searchWeb) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        NameSearchWeb,
		Description: "General web search for reference pages, stock libraries, music and sound sources, tutorials and license pages. Returns {id, url, title, snippet} link candidates.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"query":       queryProperty("Search query"),
				"num_results": numResultsProperty(maxNumResults),
			},
			Required: []string{"query"},
		},
	}
}

func (t *searchWeb) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	env := t.env
	if !env.requireConsent(ctx) {
		return consentResult(call.ID), nil
	}
	query := stringArg(call.Arguments, "query")
	if query == "" {
		return errorResult(call.ID, errors.New("missing query")), nil
	}
	if env.WebSearch == nil {
		return errorResult(call.ID, sharederrors.ErrNoProvider), nil
	}
	n := numResults(call.Arguments, defaultNumResults, maxNumResults)
	results, err := env.WebSearch.Search(ctx, ports.SearchRequest{Query: query, NumResults: n, ProviderHint: providerHintWeb})
	if err != nil {
		if errors.Is(err, consent.ErrConsentRequired) {
			return consentResult(call.ID), nil
		}
		env.logger().Warn("web search %q failed: %v", query, err)
		return errorResult(call.ID, err), nil
	}
	found := env.register(results, n, func(ports.SearchResult) candidate.Kind { return candidate.KindLink })
	return refsResult(call.ID, env.WebSearch.Name(), found), nil
}
