// Package store defines the repositories the pipeline reads and writes:
// the append-only delta history and the bucket totals time series.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/thannaske/s3sizer/pkg/models"
)

var (
	// ErrNoHistoryStore is returned when no history store is addressable for
	// the current deployment. Nothing is written when it is returned.
	ErrNoHistoryStore = errors.New("no history store configured")

	// ErrPointExists is returned by time-series stores keyed on (bucket, ts)
	// when a point for the same second is already present.
	ErrPointExists = errors.New("time series point already exists")
)

// Query selects history events for a single object.
type Query struct {
	BucketName string
	ObjectName string
	Since      time.Time
}

// Event is one raw history entry. Message holds the encoded DeltaRecord,
// possibly embedded in free-form log text.
type Event struct {
	Timestamp time.Time
	Message   string
}

// Page is one page of search results. An empty NextToken ends the search.
type Page struct {
	Events    []Event
	NextToken string
}

// History is the append-only delta log.
type History interface {
	// Search returns one page of events matching q. Pass the previous
	// page's NextToken to continue; "" starts from the beginning.
	Search(ctx context.Context, q Query, token string) (Page, error)

	// Append durably records rec.
	Append(ctx context.Context, rec models.DeltaRecord) error
}

// TimeSeries stores bucket totals snapshots.
type TimeSeries interface {
	Put(ctx context.Context, p models.TimeSeriesPoint) error

	// QueryRecent returns points with ts >= now-window, ascending by ts.
	QueryRecent(ctx context.Context, bucket string, window time.Duration) ([]models.TimeSeriesPoint, error)

	// QueryMax returns the largest total_size ever recorded, or 0.
	QueryMax(ctx context.Context, bucket string) (int64, error)
}
