package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	sharederrors "sourcer/internal/shared/errors"
)

// DefaultBodyLimit caps response bodies read by adapters.
const DefaultBodyLimit = 4 << 20

// ReadAllWithLimit reads at most limit bytes and fails if the body is larger.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return data, nil
}

// CheckStatus turns a non-2xx response into an error classified for retry:
// 408, 429 and 5xx are transient, everything else permanent. The body is
// drained and closed on error.
func CheckStatus(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := ReadAllWithLimit(resp.Body, 2048)
	_ = resp.Body.Close()
	statusErr := &sharederrors.HTTPStatusError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return &sharederrors.TransientError{
			Err:        statusErr,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfterSeconds(resp.Header.Get("Retry-After")),
		}
	default:
		return &sharederrors.PermanentError{Err: statusErr, StatusCode: resp.StatusCode}
	}
}

func retryAfterSeconds(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return secs
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return int(d.Seconds())
		}
	}
	return 0
}
