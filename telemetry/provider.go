package telemetry

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewSlogProvider returns a local tracer provider whose completed
// spans surface through the given slog logger at debug level. The
// daemon has no trace export pipeline; spans exist for pass timing
// visibility in logs.
func NewSlogProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&slogSpanProcessor{logger: logger}),
	)
}

type slogSpanProcessor struct {
	logger *slog.Logger
}

func (p *slogSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *slogSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	attrs := []any{
		"span", span.Name(),
		"duration", span.EndTime().Sub(span.StartTime()),
	}
	for _, kv := range span.Attributes() {
		attrs = append(attrs, string(kv.Key), kv.Value.Emit())
	}
	if desc := span.Status().Description; desc != "" {
		attrs = append(attrs, "err", desc)
	}
	p.logger.Debug("span ended", attrs...)
}

func (p *slogSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *slogSpanProcessor) ForceFlush(context.Context) error { return nil }
