package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Flag to confirm eviction without prompting
	confirm bool
)

var evictCmd = &cobra.Command{
	Use:   "evict [bucket-name]",
	Short: "Delete the largest object of a bucket",
	Long: `Find the single largest object in the bucket and delete it. This is what
the threshold monitor does when a bucket grows past its limit.

An empty bucket is left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucketName, err := bucketArg(args)
		if err != nil {
			return err
		}

		a := newApp(cfg)
		defer a.Close()
		ctx := cmd.Context()
		ev, err := a.evictor(ctx)
		if err != nil {
			return err
		}

		// If not confirmed, show the candidate and prompt the user
		if !confirm {
			largest, err := ev.Largest(ctx, bucketName)
			if err != nil {
				return err
			}
			if largest == nil {
				fmt.Println("Bucket empty; nothing to delete.")
				return nil
			}
			fmt.Printf("This will permanently delete %s (%s) from bucket %s.\n"+
				"Are you sure you want to continue? (y/N): ",
				largest.Key, formatSize(float64(largest.Size)), bucketName)

			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("Eviction cancelled.")
				return nil
			}
		}

		obj, err := ev.EvictLargest(ctx, bucketName)
		if err != nil {
			return fmt.Errorf("error evicting largest object: %w", err)
		}
		if obj == nil {
			fmt.Println("Bucket empty; nothing to delete.")
			return nil
		}
		fmt.Printf("Deleted %s (%d bytes)\n", obj.Key, obj.Size)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(evictCmd)

	// Add flags to the evict command
	evictCmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm eviction without prompting")
}
