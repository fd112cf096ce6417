package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"github.com/thannaske/s3sizer/pkg/pipeline"
)

var lambdaKind string

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Run as an AWS Lambda function",
	Long: `Start the Lambda runtime loop with one of the handlers:

  deltas  record a size delta per created or removed object
  totals  recompute the totals of every bucket named in the event
  evict   delete the largest object of the configured bucket
  all     deltas and totals concurrently`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg)
		defer a.Close()

		h, err := a.handler(cmd.Context(), lambdaKind)
		if err != nil {
			return err
		}
		fn, err := h.Func(lambdaKind)
		if err != nil {
			return err
		}

		lambda.StartWithOptions(fn, lambda.WithContext(cmd.Context()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lambdaCmd)

	lambdaCmd.Flags().StringVar(&lambdaKind, "handler", pipeline.KindAll, "handler to run: deltas, totals, evict or all")
}
