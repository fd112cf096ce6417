package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/thannaske/s3sizer/pkg/config"
)

var (
	year          int
	month         int
	historyWindow time.Duration
)

// formatSize converts bytes to a human-readable format
func formatSize(bytes float64) string {
	const (
		_          = iota
		KB float64 = 1 << (10 * iota)
		MB
		GB
		TB
		PB
	)

	unit := ""
	value := bytes

	switch {
	case bytes >= PB:
		unit = "PB"
		value = bytes / PB
	case bytes >= TB:
		unit = "TB"
		value = bytes / TB
	case bytes >= GB:
		unit = "GB"
		value = bytes / GB
	case bytes >= MB:
		unit = "MB"
		value = bytes / MB
	case bytes >= KB:
		unit = "KB"
		value = bytes / KB
	default:
		unit = "bytes"
	}

	if unit == "bytes" {
		return fmt.Sprintf("%.0f %s", value, unit)
	}
	return fmt.Sprintf("%.2f %s", value, unit)
}

// resolveMonth defaults to the previous month when no year is given.
func resolveMonth(now time.Time, year, month int) (int, int, error) {
	if year == 0 {
		if now.Month() == 1 {
			year = now.Year() - 1
			month = 12
		} else {
			year = now.Year()
			month = int(now.Month()) - 1
		}
	}
	if month == 0 {
		month = int(now.Month())
	}
	if month < 1 || month > 12 {
		return 0, 0, errors.New("month must be between 1 and 12")
	}
	return year, month, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List monthly bucket averages",
	Long: `Display monthly average size statistics for all buckets, computed from the
recorded time series points. Requires the sqlite time series backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		y, m, err := resolveMonth(time.Now(), year, month)
		if err != nil {
			return err
		}
		if cfg.TimeSeries.Backend != config.BackendSQLite {
			return fmt.Errorf("list requires the %s time series backend", config.BackendSQLite)
		}

		a := newApp(cfg)
		defer a.Close()
		database, err := a.database()
		if err != nil {
			return err
		}

		averages, err := database.MonthlyAverages(cmd.Context(), y, m)
		if err != nil {
			return fmt.Errorf("error retrieving monthly averages: %w", err)
		}

		if len(averages) == 0 {
			fmt.Printf("No data available for %d-%02d\n", y, m)
			return nil
		}

		// Sort by size (largest first)
		sort.Slice(averages, func(i, j int) bool {
			return averages[i].AvgSizeBytes > averages[j].AvgSizeBytes
		})

		fmt.Printf("Monthly Average Size for %d-%02d\n\n", y, m)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
		fmt.Fprintln(w, "Bucket\tSize\tObjects\tSamples")
		fmt.Fprintln(w, "------\t----\t-------\t-------")

		for _, avg := range averages {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n",
				avg.BucketName,
				formatSize(avg.AvgSizeBytes),
				int(avg.AvgObjectCount),
				avg.DataPoints,
			)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [bucket-name]",
	Short: "Show recent totals for a bucket",
	Long:  `Display the time series points recorded for a bucket within --window, oldest first.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucketName, err := bucketArg(args)
		if err != nil {
			return err
		}

		a := newApp(cfg)
		defer a.Close()
		series, err := a.series(cmd.Context())
		if err != nil {
			return err
		}

		points, err := series.QueryRecent(cmd.Context(), bucketName, historyWindow)
		if err != nil {
			return fmt.Errorf("error retrieving history: %w", err)
		}

		if len(points) == 0 {
			fmt.Printf("No data available for bucket %s\n", bucketName)
			return nil
		}

		fmt.Printf("Size History for Bucket: %s\n\n", bucketName)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
		fmt.Fprintln(w, "Date\tSize\tObjects")
		fmt.Fprintln(w, "----\t----\t-------")

		for _, p := range points {
			fmt.Fprintf(w, "%s\t%s\t%d\n",
				p.Time().Format("2006-01-02 15:04:05"),
				formatSize(float64(p.TotalSize)),
				p.TotalCount,
			)
		}
		return w.Flush()
	},
}

var maxCmd = &cobra.Command{
	Use:   "max [bucket-name]",
	Short: "Show the largest size ever recorded for a bucket",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucketName, err := bucketArg(args)
		if err != nil {
			return err
		}

		a := newApp(cfg)
		defer a.Close()
		series, err := a.series(cmd.Context())
		if err != nil {
			return err
		}

		largest, err := series.QueryMax(cmd.Context(), bucketName)
		if err != nil {
			return fmt.Errorf("error retrieving max size: %w", err)
		}
		fmt.Printf("Max size ever for bucket %s: %s (%d bytes)\n", bucketName, formatSize(float64(largest)), largest)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(maxCmd)

	// Add flags to the list command
	listCmd.Flags().IntVar(&year, "year", 0, "Year to query (default: previous month's year)")
	listCmd.Flags().IntVar(&month, "month", 0, "Month to query (1-12, default: previous month)")

	historyCmd.Flags().DurationVar(&historyWindow, "window", 365*24*time.Hour, "How far back to show points")
}
