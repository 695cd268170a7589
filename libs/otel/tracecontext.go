package otelx

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// LogFields returns trace_id and span_id slog attributes when ctx carries a
// valid span, so log lines can be joined with traces.
func LogFields(ctx context.Context) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []any{
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	}
}
