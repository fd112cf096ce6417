package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/store"
)

// Append stores a delta record together with its encoded message.
func (db *DB) Append(ctx context.Context, rec models.DeltaRecord) error {
	msg, err := store.EncodeRecord(rec)
	if err != nil {
		return err
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = db.now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO delta_records (bucket_name, object_name, size_delta, recorded_at, message)
		VALUES (?, ?, ?, ?, ?)
	`, rec.BucketName, rec.ObjectName, rec.SizeDelta, ts.UnixMilli(), msg)
	return err
}

// Search returns one page of delta records for the queried object. The
// token is the last row id of the previous page.
func (db *DB) Search(ctx context.Context, q store.Query, token string) (store.Page, error) {
	var after int64
	if token != "" {
		n, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return store.Page{}, fmt.Errorf("invalid history token %q: %w", token, err)
		}
		after = n
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, recorded_at, message
		FROM delta_records
		WHERE bucket_name = ? AND object_name = ? AND recorded_at >= ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, q.BucketName, q.ObjectName, q.Since.UnixMilli(), after, db.pageSize)
	if err != nil {
		return store.Page{}, err
	}
	defer rows.Close()

	var (
		page   store.Page
		lastID int64
	)
	for rows.Next() {
		var ms int64
		var ev store.Event
		if err := rows.Scan(&lastID, &ms, &ev.Message); err != nil {
			return store.Page{}, err
		}
		ev.Timestamp = time.UnixMilli(ms).UTC()
		page.Events = append(page.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, err
	}

	if len(page.Events) == db.pageSize {
		page.NextToken = strconv.FormatInt(lastID, 10)
	}
	return page, nil
}
