// Package notify decodes storage-change notification envelopes into
// models.Notification values.
//
// Recognised shapes:
//   - S3 event notification: {"Records":[{"eventName":..., "s3":{...}}]}
//   - SNS delivery: {"Records":[{"Sns":{"Message":"<S3 event>"}}]}
//   - SQS delivery: {"Records":[{"body":"<S3 event | SNS notification>"}]}
//   - SNS notification JSON (an SQS body without raw delivery):
//     {"Type":"Notification","Message":"<S3 event>"}
//   - EventBridge: {"source":"aws.s3","detail-type":"Object Created",...}
//   - the s3:TestEvent probe, which decodes to nothing.
//
// Envelopes nest; every leaf S3 record is one entry. Entries that fail to
// decode are counted and skipped without affecting their siblings.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/thannaske/s3sizer/pkg/logging"
	"github.com/thannaske/s3sizer/pkg/models"
)

// ErrUnrecognizedEnvelope is returned when the top-level payload matches no
// known envelope shape.
var ErrUnrecognizedEnvelope = errors.New("unrecognized notification envelope")

// maxDepth bounds envelope nesting (SQS -> SNS -> S3 is three levels).
const maxDepth = 4

const (
	eventBridgeSource   = "aws.s3"
	detailTypeCreated   = "Object Created"
	detailTypeDeleted   = "Object Deleted"
	s3TestEvent         = "s3:TestEvent"
	snsNotificationType = "Notification"
)

// Batch is the decoded content of one invocation payload.
type Batch struct {
	Notifications []models.Notification
	// Skipped counts entries that could not be decoded.
	Skipped int
	// Ignored counts well-formed entries for unsupported event names.
	Ignored int
}

// Buckets returns the distinct bucket names in the batch, first-seen order.
func (b Batch) Buckets() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, n := range b.Notifications {
		if _, ok := seen[n.BucketName]; ok {
			continue
		}
		seen[n.BucketName] = struct{}{}
		out = append(out, n.BucketName)
	}
	return out
}

type envelope struct {
	Records    []json.RawMessage `json:"Records"`
	Source     string            `json:"source"`
	DetailType string            `json:"detail-type"`
	Event      string            `json:"Event"`
	Type       string            `json:"Type"`
	Message    string            `json:"Message"`
}

type recordProbe struct {
	S3   json.RawMessage `json:"s3"`
	Sns  json.RawMessage `json:"Sns"`
	Body *string         `json:"body"`
}

type eventBridgeDetail struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
	} `json:"object"`
}

// Decode decodes raw into a Batch.
func Decode(ctx context.Context, raw []byte) (Batch, error) {
	var b Batch
	if err := decode(ctx, raw, 0, &b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

func decode(ctx context.Context, raw []byte, depth int, b *Batch) error {
	if depth >= maxDepth {
		return fmt.Errorf("%w: nested deeper than %d", ErrUnrecognizedEnvelope, maxDepth)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrUnrecognizedEnvelope, err)
	}

	switch {
	case env.Event == s3TestEvent:
		return nil
	case env.Source == eventBridgeSource && env.DetailType != "":
		decodeEventBridge(ctx, raw, b)
		return nil
	case env.Type == snsNotificationType && env.Message != "":
		return decode(ctx, []byte(env.Message), depth+1, b)
	case env.Records != nil:
		for i, rec := range env.Records {
			if err := decodeRecord(ctx, rec, depth, b); err != nil {
				b.Skipped++
				logging.FromContext(ctx).Warn().Err(err).Int("entry", i).Msg("skipping malformed notification entry")
			}
		}
		return nil
	default:
		return ErrUnrecognizedEnvelope
	}
}

func decodeRecord(ctx context.Context, raw json.RawMessage, depth int, b *Batch) error {
	var probe recordProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	switch {
	case probe.S3 != nil:
		var rec events.S3EventRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode s3 record: %w", err)
		}
		return appendS3Record(rec, b)
	case probe.Sns != nil:
		var rec events.SNSEventRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode sns record: %w", err)
		}
		return decode(ctx, []byte(rec.SNS.Message), depth+1, b)
	case probe.Body != nil:
		return decode(ctx, []byte(*probe.Body), depth+1, b)
	default:
		return errors.New("record has no s3, Sns or body field")
	}
}

func appendS3Record(rec events.S3EventRecord, b *Batch) error {
	bucket := rec.S3.Bucket.Name
	if bucket == "" || rec.S3.Object.Key == "" {
		return errors.New("s3 record without bucket or key")
	}
	// Keys arrive form-encoded: spaces as '+', other bytes as %XX.
	key, err := url.QueryUnescape(rec.S3.Object.Key)
	if err != nil {
		return fmt.Errorf("decode object key %q: %w", rec.S3.Object.Key, err)
	}

	n := models.Notification{BucketName: bucket, ObjectName: key, EventTime: rec.EventTime}
	switch {
	case strings.HasPrefix(rec.EventName, "ObjectCreated"):
		n.EventType = models.EventCreated
		n.Size = rec.S3.Object.Size
	case strings.HasPrefix(rec.EventName, "ObjectRemoved"):
		n.EventType = models.EventRemoved
	default:
		b.Ignored++
		return nil
	}
	b.Notifications = append(b.Notifications, n)
	return nil
}

func decodeEventBridge(ctx context.Context, raw []byte, b *Batch) {
	var ev events.CloudWatchEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		b.Skipped++
		logging.FromContext(ctx).Warn().Err(err).Msg("skipping malformed EventBridge event")
		return
	}

	var detail eventBridgeDetail
	if err := json.Unmarshal(ev.Detail, &detail); err != nil || detail.Bucket.Name == "" || detail.Object.Key == "" {
		b.Skipped++
		logging.FromContext(ctx).Warn().Err(err).Str("detail_type", ev.DetailType).Msg("skipping EventBridge event without bucket or key")
		return
	}

	n := models.Notification{
		BucketName: detail.Bucket.Name,
		ObjectName: detail.Object.Key,
		EventTime:  ev.Time,
	}
	switch ev.DetailType {
	case detailTypeCreated:
		n.EventType = models.EventCreated
		n.Size = detail.Object.Size
	case detailTypeDeleted:
		n.EventType = models.EventRemoved
	default:
		b.Ignored++
		return
	}
	b.Notifications = append(b.Notifications, n)
}
