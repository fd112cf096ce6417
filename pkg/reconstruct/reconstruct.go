// Package reconstruct turns storage-change notifications into signed size
// deltas. Removal notifications carry no size, so the size is recovered from
// the most recent creation delta recorded in the history store.
package reconstruct

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

// DefaultLookback is how far back removals search for a creation record.
const DefaultLookback = time.Hour

// Reconstructor emits one DeltaRecord per notification and appends it to
// the history store.
type Reconstructor struct {
	history  store.History
	lookback time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithLookback sets the history search window.
func WithLookback(d time.Duration) Option {
	return func(r *Reconstructor) {
		if d > 0 {
			r.lookback = d
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconstructor) { r.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconstructor) { r.now = now }
}

// New creates a Reconstructor. It fails with store.ErrNoHistoryStore when
// history is nil.
func New(history store.History, opts ...Option) (*Reconstructor, error) {
	if history == nil {
		return nil, store.ErrNoHistoryStore
	}
	r := &Reconstructor{
		history:  history,
		lookback: DefaultLookback,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.Discard()
	}
	return r, nil
}

// Process converts n into a DeltaRecord and appends it to the history
// store. The record is returned even when the append fails.
func (r *Reconstructor) Process(ctx context.Context, n models.Notification) (models.DeltaRecord, error) {
	rec := models.DeltaRecord{
		ObjectName: n.ObjectName,
		BucketName: n.BucketName,
	}

	switch n.EventType {
	case models.EventCreated:
		rec.SizeDelta = n.Size
	case models.EventRemoved:
		size, found := r.lastCreatedSize(ctx, n.BucketName, n.ObjectName)
		if !found {
			r.metrics.FallbacksTotal.Inc()
		}
		rec.SizeDelta = -size
	default:
		return models.DeltaRecord{}, fmt.Errorf("unsupported event type %q", n.EventType)
	}

	rec.Timestamp = r.now()
	if err := r.history.Append(ctx, rec); err != nil {
		return rec, fmt.Errorf("append delta for %s/%s: %w", n.BucketName, n.ObjectName, err)
	}

	r.metrics.ObserveDelta(string(n.EventType), rec.SizeDelta)
	logging.FromContext(ctx).Info().
		Str("event", string(n.EventType)).
		Str("bucket", rec.BucketName).
		Str("object_name", rec.ObjectName).
		Int64("size_delta", rec.SizeDelta).
		Msg("delta recorded")
	return rec, nil
}

// ProcessBatch processes every notification, continuing past failures. It
// returns the records that were durably appended and the joined errors of
// those that were not.
func (r *Reconstructor) ProcessBatch(ctx context.Context, ns []models.Notification) ([]models.DeltaRecord, error) {
	var (
		out  []models.DeltaRecord
		errs []error
	)
	for _, n := range ns {
		rec, err := r.Process(ctx, n)
		if err != nil {
			logging.FromContext(ctx).Error().Err(err).Str("object_name", n.ObjectName).Msg("failed to record delta")
			errs = append(errs, err)
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}

// lastCreatedSize returns the most recent positive delta recorded for the
// object within the lookback window. Search failures are logged and treated
// as no match.
func (r *Reconstructor) lastCreatedSize(ctx context.Context, bucket, object string) (int64, bool) {
	log := logging.FromContext(ctx).With().Str("bucket", bucket).Str("object_name", object).Logger()
	q := store.Query{
		BucketName: bucket,
		ObjectName: object,
		Since:      r.now().Add(-r.lookback),
	}

	var (
		latest  time.Time
		size    int64
		found   bool
		scanned int
		pages   int
		token   string
	)
	for {
		page, err := r.history.Search(ctx, q, token)
		if err != nil {
			r.metrics.HistoryErrorsTotal.Inc()
			log.Warn().Err(err).Int("pages", pages).Msg("history search failed; treating as no match")
			return 0, false
		}
		pages++
		r.metrics.HistoryPagesTotal.Inc()

		for _, ev := range page.Events {
			scanned++
			rec, ok := store.DecodeRecord(ev.Message)
			if !ok || rec.ObjectName != object || rec.SizeDelta <= 0 {
				continue
			}
			if rec.BucketName != "" && rec.BucketName != bucket {
				continue
			}
			// Pages are not guaranteed to be chronological, so compare
			// timestamps instead of keeping the first or last match.
			if !found || ev.Timestamp.After(latest) {
				latest, size, found = ev.Timestamp, rec.SizeDelta, true
			}
		}

		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	if !found {
		log.Info().Int("events_scanned", scanned).Int("pages", pages).
			Dur("lookback", r.lookback).Msg("no previous creation delta found; falling back to 0")
		return 0, false
	}
	log.Debug().Int64("size", size).Time("created_at", latest).Int("events_scanned", scanned).
		Msg("found previous size")
	return size, true
}
