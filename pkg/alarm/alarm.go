// Package alarm evaluates a rolling window of bucket totals against a size
// limit and evicts the largest object when the limit is exceeded.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thannaske/s3sizer/pkg/logging"
	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/store"
)

// Statistics applied to the points in the window.
const (
	StatisticMax = "max"
	StatisticSum = "sum"
)

// Evictor deletes the largest object of a bucket.
type Evictor interface {
	EvictLargest(ctx context.Context, bucket string) (*models.Object, error)
}

// Options configures a Monitor.
type Options struct {
	Bucket     string
	LimitBytes int64
	Window     time.Duration
	Statistic  string
	Interval   time.Duration
}

// Monitor checks one bucket on every tick.
type Monitor struct {
	series  store.TimeSeries
	evictor Evictor
	opts    Options
}

// New validates opts and creates a Monitor.
func New(series store.TimeSeries, evictor Evictor, opts Options) (*Monitor, error) {
	if opts.Bucket == "" {
		return nil, errors.New("alarm bucket is required")
	}
	if opts.LimitBytes <= 0 {
		return nil, errors.New("alarm limit must be > 0")
	}
	if opts.Window <= 0 || opts.Interval <= 0 {
		return nil, errors.New("alarm window and interval must be > 0")
	}
	switch opts.Statistic {
	case StatisticMax, StatisticSum:
	case "":
		opts.Statistic = StatisticMax
	default:
		return nil, fmt.Errorf("unknown statistic %q", opts.Statistic)
	}
	return &Monitor{series: series, evictor: evictor, opts: opts}, nil
}

// Evaluate returns the window statistic and whether it exceeds the limit.
// An empty window never breaches.
func (m *Monitor) Evaluate(ctx context.Context) (value int64, breached bool, err error) {
	points, err := m.series.QueryRecent(ctx, m.opts.Bucket, m.opts.Window)
	if err != nil {
		return 0, false, fmt.Errorf("query recent totals: %w", err)
	}
	if len(points) == 0 {
		return 0, false, nil
	}

	for _, p := range points {
		switch m.opts.Statistic {
		case StatisticSum:
			value += p.TotalSize
		default:
			if p.TotalSize > value {
				value = p.TotalSize
			}
		}
	}
	return value, value > m.opts.LimitBytes, nil
}

// Tick evaluates the window once and evicts at most one object on breach.
func (m *Monitor) Tick(ctx context.Context) (*models.Object, error) {
	log := logging.FromContext(ctx).With().Str("bucket", m.opts.Bucket).Logger()

	value, breached, err := m.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	if !breached {
		log.Debug().Int64("value", value).Int64("limit", m.opts.LimitBytes).Msg("within limit")
		return nil, nil
	}

	log.Warn().Int64("value", value).Int64("limit", m.opts.LimitBytes).
		Str("statistic", m.opts.Statistic).Dur("window", m.opts.Window).
		Msg("size limit exceeded; evicting largest object")
	return m.evictor.EvictLargest(ctx, m.opts.Bucket)
}

// Run ticks every interval until ctx is cancelled. Tick errors are logged.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	log := logging.FromContext(ctx)
	log.Info().Str("bucket", m.opts.Bucket).Int64("limit", m.opts.LimitBytes).
		Str("statistic", m.opts.Statistic).Dur("window", m.opts.Window).Dur("interval", m.opts.Interval).
		Msg("starting threshold monitor")

	for {
		select {
		case <-ticker.C:
			if _, err := m.Tick(ctx); err != nil {
				log.Error().Err(err).Str("bucket", m.opts.Bucket).Msg("threshold check failed")
			}
		case <-ctx.Done():
			log.Info().Msg("stopping threshold monitor")
			return nil
		}
	}
}
