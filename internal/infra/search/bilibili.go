package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/infra/httpclient"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonx"
	"sourcer/internal/shared/logging"
)

const defaultBilibiliURL = "https://api.bilibili.com"

// Bilibili calls the platform's typed search endpoint for videos.
type Bilibili struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

func NewBilibili(baseURL string, client *http.Client, logger logging.Logger) *Bilibili {
	if client == nil {
		client = httpclient.New(15*time.Second, logger)
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBilibiliURL
	}
	return &Bilibili{baseURL: strings.TrimRight(baseURL, "/"), client: client, logger: logging.OrNop(logger)}
}

func (b *Bilibili) Name() string { return "bilibili" }

type bilibiliSearchResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Result []struct {
			BVID        string `json:"bvid"`
			Title       string `json:"title"`
			ArcURL      string `json:"arcurl"`
			Pic         string `json:"pic"`
			Duration    string `json:"duration"`
			Description string `json:"description"`
			Author      string `json:"author"`
		} `json:"result"`
	} `json:"data"`
}

// Bilibili API codes that mean "slow down" rather than "bad request".
const (
	bilibiliCodeRiskControl = -412
	bilibiliCodeRateLimited = -509
)

func (b *Bilibili) Search(ctx context.Context, req ports.SearchRequest) ([]Result, error) {
	_, query := SplitSite(req.Query)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	limit := clampResults(req.NumResults, 8, 20)

	params := url.Values{
		"search_type": {"video"},
		"keyword":     {query},
		"page":        {"1"},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/x/web-interface/search/type?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("bilibili: build request: %w", err)
	}
	httpReq.Header.Set("Referer", "https://www.bilibili.com/")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bilibili: %w", err)
	}
	if err := httpclient.CheckStatus("bilibili", resp); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := httpclient.ReadAllWithLimit(resp.Body, httpclient.DefaultBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("bilibili: read response: %w", err)
	}
	var parsed bilibiliSearchResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return nil, sharederrors.NewPermanentError(fmt.Errorf("bilibili: decode response: %w", err), "")
	}
	switch parsed.Code {
	case 0:
	case bilibiliCodeRiskControl, bilibiliCodeRateLimited:
		return nil, sharederrors.NewTransientError(fmt.Errorf("bilibili: api code %d: %s", parsed.Code, parsed.Message), "")
	default:
		return nil, sharederrors.NewPermanentError(fmt.Errorf("bilibili: api code %d: %s", parsed.Code, parsed.Message), "")
	}

	out := make([]Result, 0, limit)
	for _, r := range parsed.Data.Result {
		link := strings.TrimSpace(r.ArcURL)
		if r.BVID != "" {
			link = "https://www.bilibili.com/video/" + r.BVID
		}
		if link == "" {
			continue
		}
		out = append(out, Result{
			Title:           stripMarkup(r.Title),
			URL:             link,
			Snippet:         strings.TrimSpace(r.Description),
			Thumbnail:       absoluteURL(r.Pic),
			DurationSeconds: parseClockDuration(r.Duration),
			Source:          b.Name(),
		})
		if len(out) >= limit {
			break
		}
	}
	b.logger.Debug("bilibili query=%q results=%d", query, len(out))
	return out, nil
}

// stripMarkup removes the <em class="keyword"> highlight tags and decodes
// entities in titles.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}

func absoluteURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	return s
}

// parseClockDuration parses "m:ss" or "h:mm:ss" into seconds.
func parseClockDuration(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
