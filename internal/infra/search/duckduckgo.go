package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/infra/httpclient"
	"sourcer/internal/shared/logging"
)

const defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML endpoint. It needs no key and is the last
// web provider in the default chain.
type DuckDuckGo struct {
	endpoint string
	client   *http.Client
	logger   logging.Logger
}

func NewDuckDuckGo(endpoint string, client *http.Client, logger logging.Logger) *DuckDuckGo {
	if client == nil {
		client = httpclient.New(15*time.Second, logger)
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultDuckDuckGoURL
	}
	return &DuckDuckGo{endpoint: endpoint, client: client, logger: logging.OrNop(logger)}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, req ports.SearchRequest) ([]Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, nil
	}
	limit := clampResults(req.NumResults, 8, 30)

	form := url.Values{"q": {query}, "kl": {"cn-zh"}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "text/html")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	if err := httpclient.CheckStatus("duckduckgo", resp); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse html: %w", err)
	}

	site, _ := SplitSite(query)
	results := parseDuckDuckGo(doc, limit)
	for i := range results {
		results[i].Source = d.Name()
	}
	d.logger.Debug("duckduckgo query=%q results=%d", query, len(results))
	return filterSite(results, site), nil
}

func parseDuckDuckGo(doc *goquery.Document, limit int) []Result {
	var out []Result
	seen := make(map[string]struct{})
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target := unwrapDuckDuckGoLink(href)
		if target == "" {
			return true
		}
		if _, dup := seen[target]; dup {
			return true
		}
		seen[target] = struct{}{}
		out = append(out, Result{
			Title:   strings.TrimSpace(link.Text()),
			URL:     target,
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return len(out) < limit
	})
	return out
}

// unwrapDuckDuckGoLink resolves the //duckduckgo.com/l/?uddg=<target>
// redirect used by the HTML endpoint.
func unwrapDuckDuckGoLink(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(parsed.Hostname(), "duckduckgo.com") {
		target := parsed.Query().Get("uddg")
		if target == "" {
			return ""
		}
		href = target
		if parsed, err = url.Parse(target); err != nil {
			return ""
		}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return href
}
