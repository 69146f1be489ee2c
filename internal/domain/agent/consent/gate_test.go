package consent

import (
	"context"
	"errors"
	"testing"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/ports/mocks"
)

func TestGateChecksStoreEveryCall(t *testing.T) {
	store := &mocks.MockConsentStore{}
	gate := NewGate(store, nil)
	ctx := context.Background()

	if err := gate.Require(ctx, "p1"); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("expected consent required, got %v", err)
	}
	store.Consented = true
	if err := gate.Require(ctx, "p1"); err != nil {
		t.Fatalf("expected allowed after grant, got %v", err)
	}
	if store.Calls() != 2 {
		t.Fatalf("expected a store lookup per call, got %d", store.Calls())
	}
}

func TestGateFailsClosed(t *testing.T) {
	store := &mocks.MockConsentStore{GetConsentFunc: func(context.Context, string) (ports.Consent, error) {
		return ports.Consent{Consented: true}, errors.New("toolserver down")
	}}
	gate := NewGate(store, nil)
	d, err := gate.Check(context.Background(), "p1")
	if err == nil || d.Allowed {
		t.Fatalf("store error must deny, got %+v %v", d, err)
	}
	if err := NewGate(nil, nil).Require(context.Background(), "p1"); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("nil store must deny, got %v", err)
	}
}

func TestGatedDecoratorsMakeNoCallsWithoutConsent(t *testing.T) {
	gate := NewGate(&mocks.MockConsentStore{}, nil)
	provider := &mocks.MockSearchProvider{}
	resolver := &mocks.MockResolver{}

	if _, err := NewGatedSearch(gate, "p1", provider).Search(context.Background(), ports.SearchRequest{Query: "x"}); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("expected consent error, got %v", err)
	}
	if _, err := NewGatedResolver(gate, "p1", resolver).Resolve(context.Background(), "https://a.com", ""); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("expected consent error, got %v", err)
	}
	if provider.Calls() != 0 || resolver.Calls() != 0 {
		t.Fatalf("expected zero outbound calls, got search=%d resolve=%d", provider.Calls(), resolver.Calls())
	}
}

func TestReplyMentionsConfirmation(t *testing.T) {
	if Reply("en") == Reply("zh") || Reply("zh") == "" {
		t.Fatal("expected localized non-empty replies")
	}
}
