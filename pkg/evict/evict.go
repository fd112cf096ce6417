// Package evict deletes the largest object of a bucket.
package evict

import (
	"context"
	"fmt"

	"github.com/thannaske/s3sizer/pkg/logging"
	"github.com/thannaske/s3sizer/pkg/metrics"
	"github.com/thannaske/s3sizer/pkg/models"
)

// Bucket lists and deletes objects.
type Bucket interface {
	ListObjects(ctx context.Context, bucket string, fn func(models.Object) error) error
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Evictor removes the single largest object on each call.
type Evictor struct {
	bucket  Bucket
	metrics *metrics.Metrics
}

// New creates an Evictor. m may be nil.
func New(b Bucket, m *metrics.Metrics) *Evictor {
	if m == nil {
		m = metrics.Discard()
	}
	return &Evictor{bucket: b, metrics: m}
}

// Largest returns the largest object in bucket, or nil when it is empty.
// Ties go to the object listed first.
func (e *Evictor) Largest(ctx context.Context, bucket string) (*models.Object, error) {
	var largest *models.Object
	err := e.bucket.ListObjects(ctx, bucket, func(o models.Object) error {
		if largest == nil || o.Size > largest.Size {
			obj := o
			largest = &obj
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find largest object: %w", err)
	}
	return largest, nil
}

// EvictLargest deletes the largest object in bucket and returns it. It
// returns nil without deleting anything when the bucket is empty.
func (e *Evictor) EvictLargest(ctx context.Context, bucket string) (*models.Object, error) {
	log := logging.FromContext(ctx).With().Str("bucket", bucket).Logger()

	largest, err := e.Largest(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if largest == nil {
		log.Info().Msg("bucket empty; nothing to delete")
		return nil, nil
	}

	if err := e.bucket.DeleteObject(ctx, bucket, largest.Key); err != nil {
		return nil, err
	}
	e.metrics.ObserveEviction(bucket, largest.Size)
	log.Info().Str("object_name", largest.Key).Int64("size", largest.Size).Msg("deleted largest object")
	return largest, nil
}
