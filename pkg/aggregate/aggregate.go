// Package aggregate recomputes bucket totals from a full listing and
// records them as time-series points.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thannaske/s3sizer/pkg/logging"
	"github.com/thannaske/s3sizer/pkg/metrics"
	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/store"
)

// Lister enumerates the current contents of a bucket across all pages.
type Lister interface {
	ListObjects(ctx context.Context, bucket string, fn func(models.Object) error) error
}

// Result is a recomputed point. Stored is false when the time series
// already held a point for the same bucket and second, in which case this
// one was dropped and the stored point stands.
type Result struct {
	models.TimeSeriesPoint
	Stored bool `json:"stored"`
}

// Aggregator computes exact bucket totals. It never applies deltas
// incrementally; every call lists the bucket from scratch.
type Aggregator struct {
	lister  Lister
	series  store.TimeSeries
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates an Aggregator. m may be nil.
func New(lister Lister, series store.TimeSeries, m *metrics.Metrics) *Aggregator {
	if m == nil {
		m = metrics.Discard()
	}
	return &Aggregator{lister: lister, series: series, metrics: m, now: time.Now}
}

// SetClock replaces time.Now.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// Totals lists bucket and returns its size and object count without
// recording anything.
func (a *Aggregator) Totals(ctx context.Context, bucket string) (size, count int64, err error) {
	err = a.lister.ListObjects(ctx, bucket, func(o models.Object) error {
		size += o.Size
		count++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return size, count, nil
}

// Recompute lists bucket, stores a new point stamped now and returns it.
// The gauges always reflect the latest listing, stored or not.
func (a *Aggregator) Recompute(ctx context.Context, bucket string) (Result, error) {
	log := logging.FromContext(ctx).With().Str("bucket", bucket).Logger()

	size, count, err := a.Totals(ctx, bucket)
	if err != nil {
		return Result{}, fmt.Errorf("recompute totals: %w", err)
	}

	res := Result{TimeSeriesPoint: models.TimeSeriesPoint{
		BucketName: bucket,
		Timestamp:  a.now().Unix(),
		TotalSize:  size,
		TotalCount: count,
	}}

	switch err := a.series.Put(ctx, res.TimeSeriesPoint); {
	case errors.Is(err, store.ErrPointExists):
		log.Warn().Int64("ts", res.Timestamp).Int64("total_size", size).Int64("total_count", count).
			Msg("point for this second already recorded; new totals not persisted")
	case err != nil:
		return res, fmt.Errorf("store totals for %s: %w", bucket, err)
	default:
		res.Stored = true
		log.Info().Int64("ts", res.Timestamp).Int64("total_size", size).Int64("total_count", count).
			Msg("recorded bucket totals")
	}

	a.metrics.SetTotals(bucket, size, count)
	return res, nil
}

// RecomputeBatch recomputes each distinct bucket once, in the order given.
// A failing bucket does not stop the others; their errors are joined.
func (a *Aggregator) RecomputeBatch(ctx context.Context, buckets []string) ([]Result, error) {
	seen := make(map[string]struct{}, len(buckets))
	var (
		points []Result
		errs   []error
	)
	for _, b := range buckets {
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}

		p, err := a.Recompute(ctx, b)
		if err != nil {
			logging.FromContext(ctx).Error().Err(err).Str("bucket", b).Msg("failed to recompute bucket totals")
			errs = append(errs, err)
			continue
		}
		points = append(points, p)
	}
	return points, errors.Join(errs...)
}
