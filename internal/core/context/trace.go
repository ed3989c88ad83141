package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext carries the ids that correlate a request across logs, spans
// and error bodies.
type TraceContext struct {
	TraceID   string
	SpanID    string
	RequestID string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, tc *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetTraceID returns the trace id of ctx: the stored TraceContext first, then
// the active otel span. Empty when neither is present.
func GetTraceID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.TraceID
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// GetRequestID returns request ID from context or empty string.
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}

// NewTraceContext builds a TraceContext for ctx. Ids of a recording otel span
// win over fallbackTraceID; missing ids are generated.
func NewTraceContext(ctx context.Context, fallbackTraceID, requestID string) *TraceContext {
	tc := &TraceContext{TraceID: fallbackTraceID, RequestID: requestID}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		tc.TraceID = sc.TraceID().String()
		tc.SpanID = sc.SpanID().String()
	}
	if tc.TraceID == "" {
		tc.TraceID = uuid.NewString()
	}
	if tc.SpanID == "" {
		tc.SpanID = uuid.NewString()[:16]
	}
	if tc.RequestID == "" {
		tc.RequestID = uuid.NewString()
	}
	return tc
}
