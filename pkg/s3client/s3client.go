package s3client

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/thannaske/s3sizer/pkg/config"
	"github.com/thannaske/s3sizer/pkg/models"
)

// API is the subset of the S3 client used for listing and deleting.
type API interface {
	s3.ListObjectsV2APIClient
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Client lists and deletes bucket contents.
type S3Client struct {
	api API
}

// LoadAWSConfig builds the shared AWS configuration. Static credentials are
// used when an access key is configured; otherwise the default chain applies.
func LoadAWSConfig(ctx context.Context, cfg config.S3Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS SDK configuration: %w", err)
	}
	return awsCfg, nil
}

// NewS3Client creates a new S3 client. A custom endpoint (Ceph RGW, MinIO)
// switches to path-style addressing when configured.
func NewS3Client(awsCfg aws.Config, cfg config.S3Config) *S3Client {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3Client{api: client}
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api API) *S3Client {
	return &S3Client{api: api}
}

// ListObjects walks every page of the bucket listing and calls fn for each
// object. Iteration stops at the first error returned by fn.
func (c *S3Client) ListObjects(ctx context.Context, bucket string, fn func(models.Object) error) error {
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects in s3://%s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			if err := fn(models.Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteObject removes a single object.
func (c *S3Client) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
