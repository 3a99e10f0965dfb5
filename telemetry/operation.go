// Package telemetry traces rebuild passes as OpenTelemetry spans:
// one span per pass with a child span per stage.
package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys attached to pass spans.
const (
	TriggerKey = "gantry.pass.trigger"
	RoutesKey  = "gantry.pass.routes"
	OutcomeKey = "gantry.pass.outcome"
)

// Operation is one traced rebuild pass.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// Begin opens the pass span. A nil tracer yields a no-op operation so
// callers never branch on telemetry being configured.
func Begin(ctx context.Context, tracer trace.Tracer, operation string, attrs ...attribute.KeyValue) *Operation {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("gantry")
	}
	spanCtx, span := tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	return &Operation{ctx: spanCtx, tracer: tracer, span: span}
}

// Context returns the context carrying the pass span.
func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep traces fn as a child span of the pass.
func (o *Operation) RunStep(ctx context.Context, id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	stepCtx, span := o.tracer.Start(ctx, id)
	defer span.End()

	err := fn(stepCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// SetAttributes records pass results on the open span.
func (o *Operation) SetAttributes(attrs ...attribute.KeyValue) {
	if o == nil || o.span == nil {
		return
	}
	o.span.SetAttributes(attrs...)
}

// End closes the pass span, recording err when non-nil.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}
