package resolve

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/intent"
	"sourcer/internal/infra/httpclient"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonx"
	"sourcer/internal/shared/logging"
)

var bvidPattern = regexp.MustCompile(`BV[0-9A-Za-z]{10}`)

// Bilibili reads video metadata from the public view API.
type Bilibili struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

func NewBilibili(baseURL string, client *http.Client, logger logging.Logger) *Bilibili {
	if client == nil {
		client = httpclient.New(12*time.Second, logger)
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.bilibili.com"
	}
	return &Bilibili{baseURL: strings.TrimRight(baseURL, "/"), client: client, logger: logging.OrNop(logger)}
}

func (b *Bilibili) Name() string { return "bilibili" }

func (b *Bilibili) Matches(rawURL string) bool {
	return intent.PlatformOf(rawURL) == intent.PlatformBilibili && bvidPattern.MatchString(rawURL)
}

type bilibiliViewResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		BVID     string `json:"bvid"`
		Title    string `json:"title"`
		Desc     string `json:"desc"`
		Pic      string `json:"pic"`
		Duration int    `json:"duration"`
	} `json:"data"`
}

func (b *Bilibili) Resolve(ctx context.Context, rawURL, _ string) (*ports.ResolvedMedia, error) {
	bvid := bvidPattern.FindString(rawURL)
	if bvid == "" {
		return nil, sharederrors.NewPermanentError(fmt.Errorf("bilibili: no video id in %s", rawURL), "")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/x/web-interface/view?"+url.Values{"bvid": {bvid}}.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("bilibili: build request: %w", err)
	}
	req.Header.Set("Referer", "https://www.bilibili.com/")

	resp, err := b.client.Do(req)
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
	var parsed bilibiliViewResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("bilibili: decode response: %w", err)
	}
	if parsed.Code != 0 {
		return nil, sharederrors.NewPermanentError(fmt.Errorf("bilibili: api code %d: %s", parsed.Code, parsed.Message), "")
	}
	b.logger.Debug("bilibili view %s duration=%d", bvid, parsed.Data.Duration)
	return &ports.ResolvedMedia{
		Title:           strings.TrimSpace(parsed.Data.Title),
		Description:     truncate(oneLine(parsed.Data.Desc), 280),
		Thumbnail:       absoluteURL(parsed.Data.Pic),
		DurationSeconds: parsed.Data.Duration,
		Extractor:       "BiliBili",
		CanonicalURL:    "https://www.bilibili.com/video/" + bvid,
	}, nil
}

func absoluteURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	if strings.HasPrefix(s, "http://") {
		return "https://" + strings.TrimPrefix(s, "http://")
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
