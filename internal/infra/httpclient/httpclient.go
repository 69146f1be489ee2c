// Package httpclient builds the outbound HTTP clients used by the search,
// resolve, LLM and toolserver adapters.
package httpclient

import (
	"net/http"
	"time"

	"sourcer/internal/shared/logging"
)

// DefaultUserAgent is sent when an adapter does not set its own.
const DefaultUserAgent = "Mozilla/5.0 (compatible; sourcer/1.0; +https://github.com/sourcer)"

// New returns a client with timeout and the proxy policy of Transport.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: Transport(logger)},
	}
}

// Transport clones the default transport and installs the proxy policy.
func Transport(logger logging.Logger) *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: proxyFunc(logger)}
	}
	transport := base.Clone()
	transport.Proxy = proxyFunc(logger)
	return transport
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	return t.base.RoundTrip(req)
}
