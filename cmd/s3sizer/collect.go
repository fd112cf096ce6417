package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var collectCmd = &cobra.Command{
	Use:   "collect [bucket...]",
	Short: "Recompute bucket totals",
	Long: `List every object of the given buckets (default: the configured bucket),
and store the exact total size and object count as a new time series point.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		buckets := args
		if len(buckets) == 0 {
			b, err := bucketArg(nil)
			if err != nil {
				return err
			}
			buckets = []string{b}
		}

		a := newApp(cfg)
		defer a.Close()

		ctx := cmd.Context()
		agg, err := a.aggregator(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Collecting bucket totals...")
		points, err := agg.RecomputeBatch(ctx, buckets)
		for _, p := range points {
			verb := "Stored"
			if !p.Stored {
				verb = "Not stored (point for this second exists)"
			}
			fmt.Printf("%s totals for bucket %s: %s, %d objects\n",
				verb, p.BucketName, formatSize(float64(p.TotalSize)), p.TotalCount)
		}
		if err != nil {
			return fmt.Errorf("collection finished with errors: %w", err)
		}

		fmt.Println("Collection completed successfully.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)
}
