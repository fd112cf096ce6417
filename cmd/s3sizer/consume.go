package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/thannaske/s3sizer/pkg/logging"
	"github.com/thannaske/s3sizer/pkg/metrics"
	"github.com/thannaske/s3sizer/pkg/pipeline"
	"github.com/thannaske/s3sizer/pkg/queue"
	"golang.org/x/sync/errgroup"
)

var consumeKind string

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Process notifications from an SQS queue",
	Long: `Long-poll the configured SQS queue and run every message through the
deltas, totals or combined handler. Messages are deleted once handled.
Metrics are served on metrics.listen when set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := newApp(cfg)
		defer a.Close()

		h, err := a.handler(ctx, consumeKind)
		if err != nil {
			return err
		}
		fn, err := h.Func(consumeKind)
		if err != nil {
			return err
		}
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return err
		}

		c, err := queue.NewFromConfig(awsCfg, cfg.Queue.URL, cfg.Queue.WaitSeconds, cfg.Queue.MaxMessages,
			func(ctx context.Context, body json.RawMessage) error {
				_, err := fn(ctx, body)
				return err
			})
		if err != nil {
			return err
		}

		return runWithMetrics(ctx, a, c.Run)
	},
}

// runWithMetrics runs fn alongside the metrics endpoint, if one is
// configured, until ctx is cancelled or either fails.
func runWithMetrics(ctx context.Context, a *app, fn func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if addr := a.cfg.Metrics.Listen; addr != "" {
		g.Go(func() error {
			logging.FromContext(ctx).Info().Str("addr", addr).Msg("serving metrics")
			return metrics.Serve(ctx, addr, a.registry)
		})
	}
	g.Go(func() error { return fn(ctx) })
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(consumeCmd)

	consumeCmd.Flags().StringVar(&consumeKind, "handler", pipeline.KindAll, "handler to run: deltas, totals or all")
}
