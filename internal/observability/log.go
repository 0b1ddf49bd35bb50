// Package observability carries HCME's ambient logging/tracing/metrics
// stack: zerolog for structured logs enriched with OpenTelemetry trace
// context, and otel tracer/meter accessors; no other package in this
// module opens spans or records metrics through them. Grounded on the teacher's
// internal/observability package (ctxlogger.go, otel.go, httpclient.go).
package observability

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a zerolog.Logger enriched with trace_id/span_id
// from ctx when its span context carries a trace ID, adding
// trace_sampled when that span is sampled. The HTTP handlers in
// cmd/hcmed log through a logger obtained this way.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
		if sc.HasSpanID() {
			l = l.With().Str("span_id", sc.SpanID().String()).Logger()
		}
		if sc.IsSampled() {
			l = l.With().Bool("trace_sampled", true).Logger()
		}
	}
	return &l
}

// NewHTTPClient returns an http.Client instrumented with the otelhttp
// transport, used for every outbound embedding/LLM HTTP call.
func NewHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(rt)
	return base
}
