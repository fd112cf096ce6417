// Package pipeline runs one invocation: decode the payload, then hand the
// notifications to the delta reconstructor, the totals aggregator or both.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/thannaske/s3sizer/pkg/aggregate"
	"github.com/thannaske/s3sizer/pkg/evict"
	"github.com/thannaske/s3sizer/pkg/logging"
	"github.com/thannaske/s3sizer/pkg/metrics"
	"github.com/thannaske/s3sizer/pkg/notify"
	"github.com/thannaske/s3sizer/pkg/reconstruct"
	"golang.org/x/sync/errgroup"
)

// Handler kinds.
const (
	KindDeltas = "deltas"
	KindTotals = "totals"
	KindEvict  = "evict"
	KindAll    = "all"
)

// ErrNotConfigured is returned when a handler kind is invoked without the
// component it needs.
var ErrNotConfigured = errors.New("handler component not configured")

// Response is the Lambda-style result of an invocation.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// HandlerFunc handles one raw invocation payload.
type HandlerFunc func(ctx context.Context, raw json.RawMessage) (Response, error)

// Handler wires the pipeline components. Any of them may be nil as long as
// the corresponding kind is not invoked.
type Handler struct {
	Reconstructor *reconstruct.Reconstructor
	Aggregator    *aggregate.Aggregator
	Evictor       *evict.Evictor
	EvictBucket   string
	Metrics       *metrics.Metrics
}

// Func returns the handler for kind.
func (h *Handler) Func(kind string) (HandlerFunc, error) {
	switch kind {
	case KindDeltas:
		return h.HandleDeltas, nil
	case KindTotals:
		return h.HandleTotals, nil
	case KindEvict:
		return h.HandleEvict, nil
	case KindAll:
		return h.Handle, nil
	default:
		return nil, fmt.Errorf("unknown handler %q (must be %s, %s, %s or %s)", kind, KindDeltas, KindTotals, KindEvict, KindAll)
	}
}

// HandleDeltas emits one delta record per notification in raw.
func (h *Handler) HandleDeltas(ctx context.Context, raw json.RawMessage) (Response, error) {
	ctx = begin(ctx, KindDeltas)
	batch, err := h.decode(ctx, raw)
	if err != nil {
		return Response{}, err
	}
	return h.deltas(ctx, batch)
}

// HandleTotals recomputes the totals of every bucket named in raw.
func (h *Handler) HandleTotals(ctx context.Context, raw json.RawMessage) (Response, error) {
	ctx = begin(ctx, KindTotals)
	batch, err := h.decode(ctx, raw)
	if err != nil {
		return Response{}, err
	}
	return h.totals(ctx, batch)
}

// Handle runs the reconstructor and the aggregator concurrently over the
// same batch. The group carries no context, so a failure on one side does
// not cancel the other; the first error is returned once both finished.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (Response, error) {
	ctx = begin(ctx, KindAll)
	batch, err := h.decode(ctx, raw)
	if err != nil {
		return Response{}, err
	}

	var (
		g                  errgroup.Group
		deltaResp, totResp Response
	)
	g.Go(func() error {
		var err error
		if deltaResp, err = h.deltas(ctx, batch); err != nil {
			logging.FromContext(ctx).Error().Err(err).Msg("deltas failed")
		}
		return err
	})
	g.Go(func() error {
		var err error
		if totResp, err = h.totals(ctx, batch); err != nil {
			logging.FromContext(ctx).Error().Err(err).Msg("totals failed")
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return Response{}, err
	}
	return respond(map[string]string{
		KindDeltas: deltaResp.Body,
		KindTotals: totResp.Body,
	})
}

// HandleEvict deletes the largest object of the configured bucket. The
// payload is the alarm notification and is only logged.
func (h *Handler) HandleEvict(ctx context.Context, raw json.RawMessage) (Response, error) {
	ctx = begin(ctx, KindEvict)
	if h.Evictor == nil || h.EvictBucket == "" {
		return Response{}, fmt.Errorf("evict: %w", ErrNotConfigured)
	}
	logging.FromContext(ctx).Debug().RawJSON("trigger", compact(raw)).Msg("eviction triggered")

	obj, err := h.Evictor.EvictLargest(ctx, h.EvictBucket)
	if err != nil {
		return Response{}, err
	}
	if obj == nil {
		return Response{StatusCode: http.StatusOK, Body: "No objects"}, nil
	}
	return Response{StatusCode: http.StatusOK, Body: fmt.Sprintf("Deleted %s (%d bytes)", obj.Key, obj.Size)}, nil
}

func (h *Handler) decode(ctx context.Context, raw json.RawMessage) (notify.Batch, error) {
	batch, err := notify.Decode(ctx, raw)
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("failed to decode payload")
		return notify.Batch{}, err
	}
	if h.Metrics != nil && batch.Skipped > 0 {
		h.Metrics.SkippedEntries.Add(float64(batch.Skipped))
	}
	logging.FromContext(ctx).Debug().
		Int("notifications", len(batch.Notifications)).
		Int("skipped", batch.Skipped).
		Int("ignored", batch.Ignored).
		Msg("decoded payload")
	return batch, nil
}

func (h *Handler) deltas(ctx context.Context, batch notify.Batch) (Response, error) {
	if h.Reconstructor == nil {
		return Response{}, fmt.Errorf("deltas: %w", ErrNotConfigured)
	}
	recs, err := h.Reconstructor.ProcessBatch(ctx, batch.Notifications)
	if err != nil {
		return Response{}, err
	}
	return respond(map[string]interface{}{
		"ok":      true,
		"deltas":  recs,
		"skipped": batch.Skipped,
	})
}

func (h *Handler) totals(ctx context.Context, batch notify.Batch) (Response, error) {
	if h.Aggregator == nil {
		return Response{}, fmt.Errorf("totals: %w", ErrNotConfigured)
	}
	buckets := batch.Buckets()
	if len(buckets) == 0 {
		return Response{StatusCode: http.StatusOK, Body: "No records"}, nil
	}
	points, err := h.Aggregator.RecomputeBatch(ctx, buckets)
	if err != nil {
		return Response{}, err
	}
	return respond(map[string]interface{}{
		"message": "Recorded bucket totals",
		"points":  points,
	})
}

// begin tags ctx with an invocation id, the Lambda request id when present.
func begin(ctx context.Context, kind string) context.Context {
	id := ""
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		id = lc.AwsRequestID
	}
	if id == "" {
		id = uuid.NewString()
	}
	ctx = logging.WithStr(ctx, "invocation_id", id)
	return logging.WithStr(ctx, "handler", kind)
}

func respond(body interface{}) (Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("encode response: %w", err)
	}
	return Response{StatusCode: http.StatusOK, Body: string(b)}, nil
}

func compact(raw json.RawMessage) []byte {
	if len(raw) == 0 || !json.Valid(raw) {
		return []byte("null")
	}
	return raw
}
