// Package notifytest builds notification payloads for tests.
package notifytest

import (
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
)

// Created returns an ObjectCreated:Put record. key is used verbatim, so pass
// it already form-encoded.
func Created(bucket, key string, size int64) events.S3EventRecord {
	return record("ObjectCreated:Put", bucket, key, size)
}

// Removed returns an ObjectRemoved:Delete record.
func Removed(bucket, key string) events.S3EventRecord {
	return record("ObjectRemoved:Delete", bucket, key, 0)
}

func record(name, bucket, key string, size int64) events.S3EventRecord {
	return events.S3EventRecord{
		EventVersion: "2.1",
		EventSource:  "aws:s3",
		AWSRegion:    "us-east-1",
		EventName:    name,
		S3: events.S3Entity{
			SchemaVersion: "1.0",
			Bucket:        events.S3Bucket{Name: bucket, Arn: "arn:aws:s3:::" + bucket},
			Object:        events.S3Object{Key: key, Size: size},
		},
	}
}

// S3Event renders a raw S3 event notification.
func S3Event(recs ...events.S3EventRecord) string {
	return mustJSON(events.S3Event{Records: recs})
}

// SNSNotification wraps message the way SNS delivers it to SQS without raw
// message delivery.
func SNSNotification(message string) string {
	return mustJSON(map[string]string{
		"Type":     "Notification",
		"TopicArn": "arn:aws:sns:us-east-1:123456789012:s3-events",
		"Message":  message,
	})
}

// SNSEvent renders an SNS invocation payload carrying messages.
func SNSEvent(messages ...string) string {
	ev := events.SNSEvent{}
	for _, m := range messages {
		ev.Records = append(ev.Records, events.SNSEventRecord{
			EventSource: "aws:sns",
			SNS:         events.SNSEntity{Type: "Notification", Message: m},
		})
	}
	return mustJSON(ev)
}

// SQSEvent renders an SQS invocation payload with one message per body.
func SQSEvent(bodies ...string) string {
	ev := events.SQSEvent{}
	for _, b := range bodies {
		ev.Records = append(ev.Records, events.SQSMessage{EventSource: "aws:sqs", Body: b})
	}
	return mustJSON(ev)
}

// EventBridge renders an EventBridge S3 event.
func EventBridge(detailType, bucket, key string, size int64) string {
	detail := mustJSON(map[string]interface{}{
		"bucket": map[string]string{"name": bucket},
		"object": map[string]interface{}{"key": key, "size": size},
	})
	return mustJSON(map[string]interface{}{
		"version":     "0",
		"source":      "aws.s3",
		"detail-type": detailType,
		"detail":      json.RawMessage(detail),
	})
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
