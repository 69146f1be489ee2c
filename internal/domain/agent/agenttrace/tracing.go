// Package agenttrace opens OpenTelemetry spans for turn nodes and tool calls.
package agenttrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const scope = "sourcer.agent"

// Span names.
const (
	SpanTurn      = "sourcer.turn"
	SpanNode      = "sourcer.node"
	SpanLLM       = "sourcer.llm.complete"
	SpanTool      = "sourcer.tool.execute"
	SpanHeuristic = "sourcer.heuristic.pass"
)

// Attribute keys.
const (
	AttrProjectID = "sourcer.project_id"
	AttrChatID    = "sourcer.chat_id"
	AttrNode      = "sourcer.node"
	AttrPass      = "sourcer.pass"
	AttrTool      = "sourcer.tool_name"
	AttrStrategy  = "sourcer.strategy"
	AttrStatus    = "sourcer.status"
	AttrModel     = "sourcer.llm.model"
)

// Start opens a span under the agent scope.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Mark records the outcome of span.
func Mark(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrStatus, "error"))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(AttrStatus, "success"))
}

// Step is one node entry of a turn trace, archived with the debug snapshot.
type Step struct {
	Node       string `json:"node"`
	Pass       int    `json:"pass"`
	Note       string `json:"note,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}
