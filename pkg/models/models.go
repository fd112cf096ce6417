package models

import (
	"time"
)

// EventType is the kind of storage change carried by a notification.
type EventType string

const (
	EventCreated EventType = "created"
	EventRemoved EventType = "removed"
)

// Notification is one decoded storage-change record. Size is only set for
// EventCreated; removal notifications carry no size.
type Notification struct {
	EventType  EventType `json:"event_type"`
	BucketName string    `json:"bucket_name"`
	ObjectName string    `json:"object_name"`
	Size       int64     `json:"size,omitempty"`
	EventTime  time.Time `json:"event_time,omitempty"`
}

// DeltaRecord is the append-only audit entry emitted for each processed
// notification. Positive deltas are creations, negative deltas removals.
// Timestamp is assigned by the history store and is not part of the payload.
type DeltaRecord struct {
	ObjectName string    `json:"object_name"`
	SizeDelta  int64     `json:"size_delta"`
	BucketName string    `json:"bucket"`
	Timestamp  time.Time `json:"-"`
}

// TimeSeriesPoint represents the recomputed totals for a bucket at a specific point in time
type TimeSeriesPoint struct {
	BucketName string `json:"bucket_name"`
	Timestamp  int64  `json:"ts"`
	TotalSize  int64  `json:"total_size"`
	TotalCount int64  `json:"total_count"`
}

// Time returns the point timestamp as a time.Time in UTC.
func (p TimeSeriesPoint) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}

// Object is a single entry of a bucket listing.
type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// MonthlyBucketAverage represents the average size of a bucket over a month
type MonthlyBucketAverage struct {
	BucketName     string  `json:"bucket_name"`
	Year           int     `json:"year"`
	Month          int     `json:"month"`
	AvgSizeBytes   float64 `json:"avg_size_bytes"`
	AvgObjectCount float64 `json:"avg_object_count"`
	DataPoints     int     `json:"data_points"`
}
