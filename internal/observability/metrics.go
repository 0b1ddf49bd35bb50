package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the counters/histograms defined for HCME's retrieval
// and context-assembly paths, grounded on the teacher's
// internal/rag/obs/metrics.go. Constructed once and shared; no
// component in this module constructs or records to it.
type Metrics struct {
	RetrievalHits     metric.Int64Counter
	RetrievalFallback metric.Int64Counter
	ContextBuildMS    metric.Float64Histogram
	SummariesCreated  metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
	metricsErr  error
)

// NewMetrics constructs (once) the shared Metrics instance using the
// package-wide Meter. Safe to call from multiple components; subsequent
// calls return the same instance.
func NewMetrics() (*Metrics, error) {
	metricsOnce.Do(func() {
		m := Meter()
		hits, err := m.Int64Counter("hcme_retrieval_hits_total")
		if err != nil {
			metricsErr = err
			return
		}
		fallback, err := m.Int64Counter("hcme_retrieval_fallback_total")
		if err != nil {
			metricsErr = err
			return
		}
		buildMS, err := m.Float64Histogram("hcme_context_build_duration_ms")
		if err != nil {
			metricsErr = err
			return
		}
		summaries, err := m.Int64Counter("hcme_summaries_created_total")
		if err != nil {
			metricsErr = err
			return
		}
		metricsInst = &Metrics{
			RetrievalHits:     hits,
			RetrievalFallback: fallback,
			ContextBuildMS:    buildMS,
			SummariesCreated:  summaries,
		}
	})
	return metricsInst, metricsErr
}

// RecordRetrievalHits is a nil-safe helper so callers that failed to
// construct Metrics (rare: only on meter provider errors) don't need to
// branch at every call site.
func (m *Metrics) RecordRetrievalHits(ctx context.Context, n int64, level string) {
	if m == nil || m.RetrievalHits == nil {
		return
	}
	m.RetrievalHits.Add(ctx, n, metric.WithAttributes(levelAttr(level)))
}

// RecordFallback records a vector-index-missing fallback event.
func (m *Metrics) RecordFallback(ctx context.Context, level string) {
	if m == nil || m.RetrievalFallback == nil {
		return
	}
	m.RetrievalFallback.Add(ctx, 1, metric.WithAttributes(levelAttr(level)))
}
