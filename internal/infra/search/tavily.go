package search

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/infra/httpclient"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonx"
	"sourcer/internal/shared/logging"
)

// Result aliases the port type so provider code stays short.
type Result = ports.SearchResult

const defaultTavilyURL = "https://api.tavily.com"

// Tavily queries the Tavily search API.
type Tavily struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

// NewTavily returns a Tavily provider. An empty apiKey yields ErrNoProvider
// on every call.
func NewTavily(apiKey, baseURL string, client *http.Client, logger logging.Logger) *Tavily {
	if client == nil {
		client = httpclient.New(15*time.Second, logger)
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultTavilyURL
	}
	return &Tavily{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logging.OrNop(logger),
	}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	MaxResults     int      `json:"max_results"`
	SearchDepth    string   `json:"search_depth"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeImages  bool     `json:"include_images,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, req ports.SearchRequest) ([]Result, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("tavily: %w", sharederrors.ErrNoProvider)
	}
	site, query := SplitSite(req.Query)
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	body := tavilyRequest{
		APIKey:        t.apiKey,
		Query:         query,
		MaxResults:    clampResults(req.NumResults, 8, 20),
		SearchDepth:   "basic",
		IncludeAnswer: false,
	}
	if site != "" {
		body.IncludeDomains = []string{site}
	}
	payload, err := jsonx.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("tavily: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	if err := httpclient.CheckStatus("tavily", resp); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := httpclient.ReadAllWithLimit(resp.Body, httpclient.DefaultBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("tavily: read response: %w", err)
	}
	var parsed tavilyResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return nil, sharederrors.NewPermanentError(fmt.Errorf("tavily: decode response: %w", err), "")
	}

	out := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		out = append(out, Result{
			Title:   strings.TrimSpace(r.Title),
			URL:     strings.TrimSpace(r.URL),
			Snippet: strings.TrimSpace(r.Content),
			Source:  t.Name(),
		})
	}
	t.logger.Debug("tavily query=%q site=%q results=%d", query, site, len(out))
	return filterSite(out, site), nil
}
