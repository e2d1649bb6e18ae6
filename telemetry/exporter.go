package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter implements sdktrace.SpanExporter by writing each span as one
// debug record. Export never fails.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates a LogExporter writing to logger.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if !e.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}
	for _, span := range spans {
		e.logger.LogAttrs(ctx, slog.LevelDebug, "span", spanAttrs(span)...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}

func spanAttrs(span sdktrace.ReadOnlySpan) []slog.Attr {
	sc := span.SpanContext()
	attrs := []slog.Attr{
		slog.String("name", span.Name()),
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
		slog.Duration("duration", span.EndTime().Sub(span.StartTime())),
		slog.String("status", statusName(span.Status())),
	}
	if parent := span.Parent(); parent.IsValid() {
		attrs = append(attrs, slog.String("parent_span_id", parent.SpanID().String()))
	}
	if desc := span.Status().Description; desc != "" {
		attrs = append(attrs, slog.String("status_message", desc))
	}
	if kvs := span.Attributes(); len(kvs) > 0 {
		attrs = append(attrs, slog.Attr{Key: "attributes", Value: slog.GroupValue(attributesToSlog(kvs)...)})
	}
	if n := len(span.Events()); n > 0 {
		attrs = append(attrs, slog.Int("events", n))
	}
	return attrs
}

func statusName(status sdktrace.Status) string {
	switch status.Code {
	case codes.Ok:
		return "ok"
	case codes.Error:
		return "error"
	default:
		return "unset"
	}
}

func attributesToSlog(kvs []attribute.KeyValue) []slog.Attr {
	out := make([]slog.Attr, 0, len(kvs))
	for _, kv := range kvs {
		key := string(kv.Key)
		switch kv.Value.Type() {
		case attribute.BOOL:
			out = append(out, slog.Bool(key, kv.Value.AsBool()))
		case attribute.INT64:
			out = append(out, slog.Int64(key, kv.Value.AsInt64()))
		case attribute.FLOAT64:
			out = append(out, slog.Float64(key, kv.Value.AsFloat64()))
		case attribute.STRING:
			out = append(out, slog.String(key, kv.Value.AsString()))
		default:
			out = append(out, slog.String(key, kv.Value.Emit()))
		}
	}
	return out
}
