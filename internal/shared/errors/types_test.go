package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "explicit transient", err: NewTransientError(errors.New("x"), "t"), expected: true},
		{name: "explicit permanent", err: NewPermanentError(errors.New("x"), "p"), expected: false},
		{name: "rate limit 429", err: fmt.Errorf("API error 429: rate limit exceeded"), expected: true},
		{name: "server error 503", err: &HTTPStatusError{Service: "tavily", StatusCode: 503}, expected: true},
		{name: "bad request 400", err: &HTTPStatusError{Service: "tavily", StatusCode: 400}, expected: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, expected: true},
		{name: "cancelled", err: context.Canceled, expected: false},
		{name: "consent required", err: fmt.Errorf("search: %w", ErrConsentRequired), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestUserMessageNeverLeaksRawError(t *testing.T) {
	raw := errors.New(`decode response: invalid character '<' looking for beginning of value {"stack":"..."}`)
	msg := UserMessage(raw)
	if strings.Contains(msg, "invalid character") || strings.Contains(msg, "{") {
		t.Fatalf("expected sanitized message, got %q", msg)
	}
	if UserMessage(fmt.Errorf("wrap: %w", ErrConsentRequired)) == "" {
		t.Fatal("expected consent message")
	}
}

func TestRetryWithResultStopsOnPermanent(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	_, err := RetryWithResult(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, NewPermanentError(errors.New("nope"), "")
	}, nil)
	if err == nil || calls != 1 {
		t.Fatalf("expected single call with error, got calls=%d err=%v", calls, err)
	}
}

func TestRetryWithResultRetriesTransient(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}
	got, err := RetryWithResult(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("flaky"), "")
		}
		return "ok", nil
	}, nil)
	if err != nil || got != "ok" || calls != 2 {
		t.Fatalf("unexpected result: got=%q err=%v calls=%d", got, err, calls)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("bilibili", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, nil)
	cb.now = func() time.Time { return now }

	cb.Mark(errors.New("boom"))
	cb.Mark(errors.New("boom"))
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if err := cb.Allow(); !IsDegraded(err) {
		t.Fatalf("expected degraded error while open, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected half-open probe to be allowed: %v", err)
	}
	cb.Mark(nil)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}
