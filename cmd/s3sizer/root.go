package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thannaske/s3sizer/pkg/config"
	"github.com/thannaske/s3sizer/pkg/logging"
)

var (
	cfgFile string
	cfg     *config.Config

	// flag values, applied over the loaded config when set
	flagEndpoint  string
	flagAccessKey string
	flagSecretKey string
	flagRegion    string
	flagDBPath    string
	flagBucket    string
	flagDebug     bool
	flagHuman     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "s3sizer",
	Short: "S3 bucket size tracker",
	Long: `A tool to track the size of S3 buckets from storage notifications.
It records a signed size delta for every created or removed object,
recomputes exact bucket totals into a time series and deletes the
largest object when a bucket grows past a configured limit.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().StringVar(&flagAccessKey, "access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&flagSecretKey, "secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&flagRegion, "region", "", "S3 region")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&flagBucket, "bucket", "", "bucket to track")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagHuman, "human", false, "human-friendly console logs")
}

// initConfig loads the config file and environment, then applies the flags
// that were set explicitly.
func initConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		loaded.S3.Endpoint = flagEndpoint
	}
	if flags.Changed("access-key") {
		loaded.S3.AccessKey = flagAccessKey
	}
	if flags.Changed("secret-key") {
		loaded.S3.SecretKey = flagSecretKey
	}
	if flags.Changed("region") {
		loaded.S3.Region = flagRegion
	}
	if flags.Changed("db") {
		loaded.TimeSeries.DBPath = flagDBPath
	}
	if flags.Changed("bucket") {
		loaded.Bucket = flagBucket
	}
	if flags.Changed("debug") {
		loaded.Log.Debug = flagDebug
	}
	if flags.Changed("human") {
		loaded.Log.Human = flagHuman
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	logging.Init(loaded.Log.Debug, loaded.Log.Human)
	cfg = loaded
	return nil
}

// bucketArg returns the bucket named on the command line, falling back to
// the configured bucket.
func bucketArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if cfg.Bucket == "" {
		return "", fmt.Errorf("no bucket given; pass one as an argument, --bucket or set bucket in the config")
	}
	return cfg.Bucket, nil
}
