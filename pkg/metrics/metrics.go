// Package metrics exposes the bucket totals and pipeline counters to
// Prometheus, where the threshold alarm evaluates them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Totals from the latest recomputation
	BucketBytes   *prometheus.GaugeVec // s3sizer_bucket_bytes{bucket}
	BucketObjects *prometheus.GaugeVec // s3sizer_bucket_objects{bucket}

	// Delta reconstruction
	DeltasTotal        *prometheus.CounterVec // s3sizer_deltas_total{event}
	DeltaBytesTotal    *prometheus.CounterVec // s3sizer_delta_bytes_total{event}
	FallbacksTotal     prometheus.Counter     // s3sizer_reconstruct_fallbacks_total
	HistoryPagesTotal  prometheus.Counter     // s3sizer_history_pages_total
	SkippedEntries     prometheus.Counter     // s3sizer_skipped_entries_total
	HistoryErrorsTotal prometheus.Counter     // s3sizer_history_errors_total

	// Eviction
	EvictionsTotal    *prometheus.CounterVec // s3sizer_evictions_total{bucket}
	EvictedBytesTotal *prometheus.CounterVec // s3sizer_evicted_bytes_total{bucket}
}

// New registers all metrics with registry. If nil, the default Prometheus
// registry is used.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		BucketBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "s3sizer_bucket_bytes",
			Help: "Total size of all objects in the bucket at the last recomputation",
		}, []string{"bucket"}),

		BucketObjects: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "s3sizer_bucket_objects",
			Help: "Number of objects in the bucket at the last recomputation",
		}, []string{"bucket"}),

		DeltasTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "s3sizer_deltas_total",
			Help: "Delta records emitted by event type",
		}, []string{"event"}),

		DeltaBytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "s3sizer_delta_bytes_total",
			Help: "Absolute bytes carried by emitted delta records by event type",
		}, []string{"event"}),

		FallbacksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "s3sizer_reconstruct_fallbacks_total",
			Help: "Removals emitted with a zero delta because no creation record was found",
		}),

		HistoryPagesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "s3sizer_history_pages_total",
			Help: "History search pages consumed",
		}),

		SkippedEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "s3sizer_skipped_entries_total",
			Help: "Notification entries skipped because they could not be decoded",
		}),

		HistoryErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "s3sizer_history_errors_total",
			Help: "History searches that failed and degraded to no match",
		}),

		EvictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "s3sizer_evictions_total",
			Help: "Objects deleted by the eviction executor",
		}, []string{"bucket"}),

		EvictedBytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "s3sizer_evicted_bytes_total",
			Help: "Bytes deleted by the eviction executor",
		}, []string{"bucket"}),
	}
}

// Discard returns metrics registered with a private registry, for callers
// that do not export them.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// SetTotals records the totals of a recomputation.
func (m *Metrics) SetTotals(bucket string, size, count int64) {
	m.BucketBytes.WithLabelValues(bucket).Set(float64(size))
	m.BucketObjects.WithLabelValues(bucket).Set(float64(count))
}

// ObserveDelta counts an emitted delta record.
func (m *Metrics) ObserveDelta(event string, delta int64) {
	if delta < 0 {
		delta = -delta
	}
	m.DeltasTotal.WithLabelValues(event).Inc()
	m.DeltaBytesTotal.WithLabelValues(event).Add(float64(delta))
}

// ObserveEviction counts a deleted object.
func (m *Metrics) ObserveEviction(bucket string, size int64) {
	m.EvictionsTotal.WithLabelValues(bucket).Inc()
	m.EvictedBytesTotal.WithLabelValues(bucket).Add(float64(size))
}

// Handler serves the metrics in g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
