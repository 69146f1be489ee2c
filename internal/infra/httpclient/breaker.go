package httpclient

import (
	"fmt"
	"net/http"

	sharederrors "sourcer/internal/shared/errors"
)

// breakerTransport trips a circuit breaker on transport errors and 5xx
// responses. An open breaker fails requests without touching the network.
type breakerTransport struct {
	base    http.RoundTripper
	breaker *sharederrors.CircuitBreaker
}

// WithBreaker returns a copy of client whose requests go through breaker.
func WithBreaker(client *http.Client, breaker *sharederrors.CircuitBreaker) *http.Client {
	if breaker == nil {
		return client
	}
	clone := *client
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	clone.Transport = &breakerTransport{base: base, breaker: breaker}
	return &clone
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	switch {
	case err != nil && req.Context().Err() != nil:
		t.breaker.Mark(nil)
	case err != nil:
		t.breaker.Mark(err)
	case resp.StatusCode >= 500:
		t.breaker.Mark(fmt.Errorf("%s returned HTTP %d", req.URL.Host, resp.StatusCode))
	default:
		t.breaker.Mark(nil)
	}
	return resp, err
}
