package resolve

import (
	"bytes"
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
	"sourcer/internal/shared/logging"
)

const pageBodyLimit = 2 << 20

// OpenGraph reads og:* and twitter:* meta tags from an HTML page. It is the
// catch-all backend and matches every http(s) URL.
type OpenGraph struct {
	client     *http.Client
	logger     logging.Logger
	allowLocal bool
}

// OpenGraphOption configures OpenGraph.
type OpenGraphOption func(*OpenGraph)

// WithLocalURLs permits loopback and private hosts.
func WithLocalURLs() OpenGraphOption {
	return func(o *OpenGraph) { o.allowLocal = true }
}

func NewOpenGraph(client *http.Client, logger logging.Logger, opts ...OpenGraphOption) *OpenGraph {
	if client == nil {
		client = httpclient.New(12*time.Second, logger)
	}
	o := &OpenGraph{client: client, logger: logging.OrNop(logger)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenGraph) Name() string { return "opengraph" }

func (o *OpenGraph) Matches(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (o *OpenGraph) Resolve(ctx context.Context, rawURL, _ string) (*ports.ResolvedMedia, error) {
	target, err := httpclient.ValidateFetchURL(rawURL, o.allowLocal)
	if err != nil {
		return nil, sharederrors.NewPermanentError(fmt.Errorf("opengraph: %w", err), "")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("opengraph: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opengraph: %w", err)
	}
	if err := httpclient.CheckStatus(target.Host, resp); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return nil, sharederrors.NewPermanentError(fmt.Errorf("opengraph: unsupported content type %q", ct), "")
	}
	body, err := httpclient.ReadAllWithLimit(resp.Body, pageBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("opengraph: read page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("opengraph: parse html: %w", err)
	}

	base := resp.Request.URL
	media := parseOpenGraph(doc, base)
	if media.CanonicalURL == "" {
		media.CanonicalURL = base.String()
	}
	o.logger.Debug("opengraph %s title=%q", media.CanonicalURL, media.Title)
	return media, nil
}

func parseOpenGraph(doc *goquery.Document, base *url.URL) *ports.ResolvedMedia {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr("property")
		if key == "" {
			key, _ = s.Attr("name")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		content, _ := s.Attr("content")
		content = strings.TrimSpace(content)
		if key == "" || content == "" {
			return
		}
		if _, exists := meta[key]; !exists {
			meta[key] = content
		}
	})
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := meta[k]; v != "" {
				return v
			}
		}
		return ""
	}

	title := first("og:title", "twitter:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	canonical := first("og:url")
	if canonical == "" {
		canonical, _ = doc.Find(`link[rel="canonical"]`).First().Attr("href")
	}
	duration, _ := strconv.Atoi(first("og:video:duration", "video:duration", "og:duration"))

	extractor := first("og:site_name")
	if extractor == "" && base != nil {
		extractor = strings.TrimPrefix(base.Hostname(), "www.")
	}

	return &ports.ResolvedMedia{
		Title:           oneLine(title),
		Description:     truncate(oneLine(first("og:description", "twitter:description", "description")), 280),
		Thumbnail:       resolveRef(base, first("og:image", "og:image:url", "twitter:image")),
		DurationSeconds: duration,
		Extractor:       extractor,
		CanonicalURL:    resolveRef(base, canonical),
	}
}

func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}
