package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"sourcer/internal/domain/agent/agenttrace"
)

func TestMetricsCollectorCounts(t *testing.T) {
	m := NewMetricsCollector(nil)
	m.ObserveTurn("tool_agent", "ok", 3, 2*time.Second)
	m.ObserveTurn("tool_agent", "ok", 1, time.Second)
	m.ObserveTurn("heuristic", "degraded", 2, time.Second)
	m.ObserveToolCall("search_web", "success", 100*time.Millisecond)
	m.ObserveProviderCall("tavily", "error", 50*time.Millisecond)

	if got := testutil.ToFloat64(m.turns.WithLabelValues("tool_agent", "ok")); got != 2 {
		t.Fatalf("expected 2 ok tool_agent turns, got %v", got)
	}
	if got := testutil.ToFloat64(m.toolCalls.WithLabelValues("search_web", "success")); got != 1 {
		t.Fatalf("expected 1 tool call, got %v", got)
	}
	if got := testutil.ToFloat64(m.providerCalls.WithLabelValues("tavily", "error")); got != 1 {
		t.Fatalf("expected 1 provider error, got %v", got)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `sourcer_turns_total{outcome="degraded",strategy="heuristic"} 1`) {
		t.Fatalf("scrape missing turn counter:\n%s", body)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var m *MetricsCollector
	m.ObserveTurn("none", "ok", 0, 0)
	m.ObserveToolCall("x", "y", 0)
	m.ObserveProviderCall("x", "y", 0)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestServeAndShutdown(t *testing.T) {
	m := NewMetricsCollector(nil)
	addr, err := m.Serve("127.0.0.1:0")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestDisabledTracingKeepsGlobalProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	tp, err := NewTracerProvider(context.Background(), TracingConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("disabled tracing must not replace the global provider")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestAgentSpansReachInstalledProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(prev)

	_, span := agenttrace.Start(context.Background(), agenttrace.SpanTool)
	agenttrace.Mark(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Name() != agenttrace.SpanTool {
		t.Fatalf("expected one tool span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", ended[0].Status())
	}
}
