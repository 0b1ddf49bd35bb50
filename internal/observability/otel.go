package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies HCME's spans/metrics in exported traces.
const instrumentationName = "hcme"

// Tracer returns the package-wide tracer. No package in this module
// opens spans with it.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the package-wide meter from which NewMetrics builds the
// retrieval/context-build counters and histograms.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
