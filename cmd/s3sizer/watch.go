package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thannaske/s3sizer/pkg/alarm"
)

var watchCmd = &cobra.Command{
	Use:   "watch [bucket-name]",
	Short: "Evict the largest object whenever a bucket exceeds its limit",
	Long: `Every threshold.interval, evaluate the points recorded within
threshold.window using threshold.statistic (max or sum). When the value
exceeds threshold.limit_bytes the largest object of the bucket is deleted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucketName, err := bucketArg(args)
		if err != nil {
			return err
		}
		if cfg.Threshold.LimitBytes <= 0 {
			return fmt.Errorf("threshold.limit_bytes must be set to watch a bucket")
		}

		ctx := cmd.Context()
		a := newApp(cfg)
		defer a.Close()

		series, err := a.series(ctx)
		if err != nil {
			return err
		}
		ev, err := a.evictor(ctx)
		if err != nil {
			return err
		}

		m, err := alarm.New(series, ev, alarm.Options{
			Bucket:     bucketName,
			LimitBytes: cfg.Threshold.LimitBytes,
			Window:     cfg.Threshold.Window,
			Statistic:  cfg.Threshold.Statistic,
			Interval:   cfg.Threshold.Interval,
		})
		if err != nil {
			return err
		}
		return runWithMetrics(ctx, a, m.Run)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
