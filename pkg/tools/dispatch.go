package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/nstogner/devcli/pkg/tools"

// Dispatcher routes invocations to the registry's tools. It holds no state
// between calls.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over r.
func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{registry: r}
}

// Registry returns the registry the dispatcher routes to.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs inv and returns its result. It never returns a Go error:
// every failure is folded into the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (res Result) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tools.Dispatch")
	span.SetAttributes(attribute.String("tool.name", inv.Name), attribute.String("tool.call_id", inv.ID))
	defer func() {
		if res.IsError() {
			span.SetStatus(codes.Error, string(res.Kind))
		}
		span.SetAttributes(attribute.String("tool.result_kind", string(res.Kind)))
		span.End()
	}()

	t, ok := Lookup(inv.Name)
	if !ok {
		slog.Warn("Unknown tool called", "tool", inv.Name)
		return Result{Text: fmt.Sprintf("Error: unknown tool %q.", inv.Name), Kind: KindInvalidInvocation}
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Tool panicked", "tool", inv.Name, "panic", p, "stack", string(debug.Stack()))
			res = Result{Text: fmt.Sprintf("Error: %s failed unexpectedly: %v", inv.Name, p), Kind: KindInternal}
		}
	}()

	var (
		out Result
		err error
	)
	v := d.registry.validators[t]
	switch t {
	case ReadFile, WriteFile, DeleteFile, ListFiles, RunCommand:
		out, err = definitions[t].call(ctx, d.registry, v, inv.Args)
	default:
		return Result{Text: fmt.Sprintf("Error: unknown tool %q.", inv.Name), Kind: KindInvalidInvocation}
	}
	if err != nil {
		slog.Warn("Invalid tool arguments", "tool", inv.Name, "error", err)
		return Result{Text: fmt.Sprintf("Error: invalid arguments for %s: %v", inv.Name, err), Kind: KindInvalidInvocation}
	}

	slog.Info("Tool executed", "tool", inv.Name, "kind", out.Kind)
	return out
}
