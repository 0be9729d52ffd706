package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/huddle"

type meetingKey struct{}

// StartSpan starts a span on the global tracer provider. Spans started
// under [WithMeeting] carry the meeting_id attribute. The caller ends the
// span, usually through [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := MeetingID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("meeting_id", id)))
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// WithMeeting tags ctx with a meeting ID for spans and [Logger].
func WithMeeting(ctx context.Context, meetingID string) context.Context {
	return context.WithValue(ctx, meetingKey{}, meetingID)
}

// MeetingID returns the meeting ID set by [WithMeeting], or "".
func MeetingID(ctx context.Context) string {
	id, _ := ctx.Value(meetingKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with meeting_id, trace_id and span_id
// attributes for whichever of them ctx carries.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := MeetingID(ctx); id != "" {
		l = l.With(slog.String("meeting_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
