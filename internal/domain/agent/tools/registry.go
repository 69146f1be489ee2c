package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"sourcer/internal/domain/agent/agenttrace"
	"sourcer/internal/domain/agent/budget"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/shared/logging"
)

// DefaultCallTimeout bounds a single tool call.
const DefaultCallTimeout = 20 * time.Second

// CallObserver receives one event per executed tool call. Status is one of
// ok, error, needs_consent, skipped.
type CallObserver func(tool, status string, duration time.Duration)

// Registry holds the tools offered to the model for one turn.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]ports.ToolExecutor
	timeout  time.Duration
	observer CallObserver
	logger   logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]ports.ToolExecutor),
		timeout: DefaultCallTimeout,
		logger:  logging.OrNop(logger),
	}
}

// NewDefaultRegistry registers the four sourcing tools bound to env.
func NewDefaultRegistry(env *Env) *Registry {
	r := NewRegistry(env.Logger)
	for _, tool := range []ports.ToolExecutor{
		NewSearchBilibili(env),
		NewSearchVideoSites(env),
		NewSearchWeb(env),
		NewResolveURL(env),
	} {
		_ = r.Register(tool)
	}
	return r
}

// WithTimeout overrides the per-call timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// WithObserver installs a call observer.
func (r *Registry) WithObserver(obs CallObserver) *Registry {
	r.observer = obs
	return r
}

// Register adds a tool; names must be unique.
func (r *Registry) Register(tool ports.ToolExecutor) error {
	name := tool.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns the tool named name.
func (r *Registry) Get(name string) (ports.ToolExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions lists tool definitions sorted by name.
func (r *Registry) Definitions() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Batch executes calls concurrently, at most budget.MaxToolCallsPerStep of
// them. Every call yields exactly one result in input order; calls beyond
// the cap get a skipped result so each tool_call id stays answered. A
// failing or panicking call never affects its siblings.
func (r *Registry) Batch(ctx context.Context, calls []ports.ToolCall) []ports.ToolResult {
	results := make([]ports.ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(budget.MaxToolCallsPerStep)
	for i, call := range calls {
		if i >= budget.MaxToolCallsPerStep {
			results[i] = ports.ToolResult{
				CallID:  call.ID,
				Content: fmt.Sprintf("Skipped: at most %d tool calls run per step.", budget.MaxToolCallsPerStep),
				Error:   fmt.Errorf("tool call limit exceeded"),
			}
			r.observe(call.Name, "skipped", 0)
			continue
		}
		g.Go(func() error {
			results[i] = r.execute(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Registry) execute(ctx context.Context, call ports.ToolCall) (result ports.ToolResult) {
	started := time.Now()
	ctx, span := agenttrace.Start(ctx, agenttrace.SpanTool, attribute.String(agenttrace.AttrTool, call.Name))
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool %s panicked: %v", call.Name, rec)
			result = ports.ToolResult{CallID: call.ID, Content: "Tool failed unexpectedly.", Error: fmt.Errorf("tool panic: %v", rec)}
		}
		status := "ok"
		switch {
		case result.NeedsConsent():
			status = "needs_consent"
		case result.Error != nil:
			status = "error"
		}
		agenttrace.Mark(span, result.Error)
		span.End()
		r.observe(call.Name, status, time.Since(started))
	}()

	tool, ok := r.Get(call.Name)
	if !ok {
		return ports.ToolResult{CallID: call.ID, Content: "Unknown tool: " + call.Name, Error: fmt.Errorf("unknown tool %q", call.Name)}
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := tool.Execute(callCtx, call)
	if err != nil {
		return ports.ToolResult{CallID: call.ID, Content: "Tool failed: " + err.Error(), Error: err}
	}
	if res == nil {
		return ports.ToolResult{CallID: call.ID, Content: "Tool returned no result.", Error: fmt.Errorf("nil result")}
	}
	if res.CallID == "" {
		res.CallID = call.ID
	}
	return *res
}

func (r *Registry) observe(tool, status string, d time.Duration) {
	if r.observer != nil {
		r.observer(tool, status, d)
	}
}

// AnyNeedsConsent reports whether any result carries the consent signal.
func AnyNeedsConsent(results []ports.ToolResult) bool {
	for i := range results {
		if results[i].NeedsConsent() {
			return true
		}
	}
	return false
}
