// Package dynamo stores bucket totals in a DynamoDB table keyed by
// (bucket, ts) with a secondary index on (bucket, total_size).
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/store"
)

// Attribute names.
const (
	attrBucket     = "bucket"
	attrTS         = "ts"
	attrTotalSize  = "total_size"
	attrTotalCount = "total_count"
)

// row is the item layout of the table.
type row struct {
	Bucket     string `dynamodbav:"bucket"`
	TS         int64  `dynamodbav:"ts"`
	TotalSize  int64  `dynamodbav:"total_size"`
	TotalCount int64  `dynamodbav:"total_count"`
}

func (r row) point() models.TimeSeriesPoint {
	return models.TimeSeriesPoint{BucketName: r.Bucket, Timestamp: r.TS, TotalSize: r.TotalSize, TotalCount: r.TotalCount}
}

// DefaultSizeIndex is the index sorted by total_size.
const DefaultSizeIndex = "gsi_size"

// API is the subset of the DynamoDB client used by TimeSeries.
type API interface {
	dynamodb.QueryAPIClient
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// TimeSeries is a store.TimeSeries backed by DynamoDB.
type TimeSeries struct {
	api       API
	table     string
	sizeIndex string
	now       func() time.Time
}

// New creates a TimeSeries for table.
func New(api API, table, sizeIndex string) (*TimeSeries, error) {
	if table == "" {
		return nil, errors.New("dynamodb table name is required")
	}
	if sizeIndex == "" {
		sizeIndex = DefaultSizeIndex
	}
	return &TimeSeries{api: api, table: table, sizeIndex: sizeIndex, now: time.Now}, nil
}

// NewFromConfig creates a TimeSeries using the DynamoDB client for cfg.
func NewFromConfig(cfg aws.Config, table, sizeIndex string) (*TimeSeries, error) {
	return New(dynamodb.NewFromConfig(cfg), table, sizeIndex)
}

// SetClock replaces time.Now.
func (s *TimeSeries) SetClock(now func() time.Time) { s.now = now }

// Put writes p unless a point for the same bucket and second exists, in
// which case store.ErrPointExists is returned.
func (s *TimeSeries) Put(ctx context.Context, p models.TimeSeriesPoint) error {
	item, err := attributevalue.MarshalMap(row{
		Bucket:     p.BucketName,
		TS:         p.Timestamp,
		TotalSize:  p.TotalSize,
		TotalCount: p.TotalCount,
	})
	if err != nil {
		return fmt.Errorf("marshal point: %w", err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#ts)"),
		ExpressionAttributeNames: map[string]string{"#ts": attrTS},
	})
	var conflict *types.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		return store.ErrPointExists
	}
	if err != nil {
		return fmt.Errorf("put item into %s: %w", s.table, err)
	}
	return nil
}

// QueryRecent implements store.TimeSeries.
func (s *TimeSeries) QueryRecent(ctx context.Context, bucket string, window time.Duration) ([]models.TimeSeriesPoint, error) {
	now := s.now()
	values, err := attributevalue.MarshalMap(map[string]interface{}{
		":b":    bucket,
		":from": now.Add(-window).Unix(),
		":to":   now.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query values: %w", err)
	}

	p := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#b = :b AND #ts BETWEEN :from AND :to"),
		ExpressionAttributeNames: map[string]string{
			"#b":  attrBucket,
			"#ts": attrTS,
		},
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(true),
	})

	var points []models.TimeSeriesPoint
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", s.table, err)
		}
		var rows []row
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &rows); err != nil {
			return nil, fmt.Errorf("decode %s items: %w", s.table, err)
		}
		for _, r := range rows {
			points = append(points, r.point())
		}
	}
	return points, nil
}

// QueryMax reads the top entry of the size index.
func (s *TimeSeries) QueryMax(ctx context.Context, bucket string) (int64, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		IndexName:                aws.String(s.sizeIndex),
		KeyConditionExpression:   aws.String("#b = :b"),
		ExpressionAttributeNames: map[string]string{"#b": attrBucket},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":b": &types.AttributeValueMemberS{Value: bucket},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("query %s/%s: %w", s.table, s.sizeIndex, err)
	}
	if len(out.Items) == 0 {
		return 0, nil
	}
	var r row
	if err := attributevalue.UnmarshalMap(out.Items[0], &r); err != nil {
		return 0, fmt.Errorf("decode %s item: %w", s.sizeIndex, err)
	}
	return r.TotalSize, nil
}
