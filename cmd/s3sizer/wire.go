package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/thannaske/s3sizer/pkg/aggregate"
	"github.com/thannaske/s3sizer/pkg/config"
	"github.com/thannaske/s3sizer/pkg/cwlogs"
	"github.com/thannaske/s3sizer/pkg/db"
	"github.com/thannaske/s3sizer/pkg/dynamo"
	"github.com/thannaske/s3sizer/pkg/evict"
	"github.com/thannaske/s3sizer/pkg/logging"
	"github.com/thannaske/s3sizer/pkg/metrics"
	"github.com/thannaske/s3sizer/pkg/pipeline"
	"github.com/thannaske/s3sizer/pkg/reconstruct"
	"github.com/thannaske/s3sizer/pkg/s3client"
	"github.com/thannaske/s3sizer/pkg/store"
	"github.com/thannaske/s3sizer/pkg/store/memstore"
)

// app builds the components a command needs from cfg. Clients and the
// database are opened lazily and shared.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	awsCfg *aws.Config
	sqlite *db.DB
	s3     *s3client.S3Client
}

func newApp(c *config.Config) *app {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &app{cfg: c, registry: reg, metrics: metrics.New(reg)}
}

func (a *app) Close() {
	if a.sqlite != nil {
		a.sqlite.Close()
	}
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg == nil {
		c, err := s3client.LoadAWSConfig(ctx, a.cfg.S3)
		if err != nil {
			return aws.Config{}, err
		}
		a.awsCfg = &c
	}
	return *a.awsCfg, nil
}

func (a *app) database() (*db.DB, error) {
	if a.sqlite != nil {
		return a.sqlite, nil
	}
	database, err := db.NewDB(a.cfg.TimeSeries.DBPath)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	database.SetPageSize(a.cfg.History.PageSize)
	a.sqlite = database
	return database, nil
}

func (a *app) s3Client(ctx context.Context) (*s3client.S3Client, error) {
	if a.s3 == nil {
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		a.s3 = s3client.NewS3Client(awsCfg, a.cfg.S3)
	}
	return a.s3, nil
}

func (a *app) history(ctx context.Context) (store.History, error) {
	h := a.cfg.History
	switch h.Backend {
	case config.BackendCloudWatch:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return cwlogs.NewFromConfig(awsCfg, h.LogGroup, h.LogStream, h.PageSize)
	case config.BackendSQLite:
		return a.database()
	case config.BackendMemory:
		logging.FromContext(ctx).Warn().Msg("using in-memory history; removal sizes are lost on exit")
		return memstore.NewHistory(h.PageSize), nil
	default:
		return nil, store.ErrNoHistoryStore
	}
}

func (a *app) series(ctx context.Context) (store.TimeSeries, error) {
	ts := a.cfg.TimeSeries
	switch ts.Backend {
	case config.BackendDynamoDB:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return dynamo.NewFromConfig(awsCfg, ts.Table, ts.SizeIndex)
	case config.BackendSQLite:
		return a.database()
	case config.BackendMemory:
		return memstore.NewTimeSeries(), nil
	default:
		return nil, fmt.Errorf("unsupported timeseries.backend %q", ts.Backend)
	}
}

func (a *app) reconstructor(ctx context.Context) (*reconstruct.Reconstructor, error) {
	h, err := a.history(ctx)
	if err != nil {
		return nil, err
	}
	return reconstruct.New(h,
		reconstruct.WithLookback(a.cfg.History.Lookback),
		reconstruct.WithMetrics(a.metrics),
	)
}

func (a *app) aggregator(ctx context.Context) (*aggregate.Aggregator, error) {
	client, err := a.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	series, err := a.series(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate.New(client, series, a.metrics), nil
}

func (a *app) evictor(ctx context.Context) (*evict.Evictor, error) {
	client, err := a.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	return evict.New(client, a.metrics), nil
}

// handler builds only the components kind needs, so a deltas-only
// deployment does not require a time series and vice versa.
func (a *app) handler(ctx context.Context, kind string) (*pipeline.Handler, error) {
	h := &pipeline.Handler{Metrics: a.metrics, EvictBucket: a.cfg.Bucket}
	if _, err := h.Func(kind); err != nil {
		return nil, err
	}

	var err error
	if kind == pipeline.KindDeltas || kind == pipeline.KindAll {
		if h.Reconstructor, err = a.reconstructor(ctx); err != nil {
			return nil, err
		}
	}
	if kind == pipeline.KindTotals || kind == pipeline.KindAll {
		if h.Aggregator, err = a.aggregator(ctx); err != nil {
			return nil, err
		}
	}
	if kind == pipeline.KindEvict {
		if a.cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket is required for the %s handler", kind)
		}
		if h.Evictor, err = a.evictor(ctx); err != nil {
			return nil, err
		}
	}
	return h, nil
}
