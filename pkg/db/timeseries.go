package db

import (
	"context"
	"errors"
	"time"

	sqlite "github.com/mattn/go-sqlite3"
	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/store"
)

// Put stores a bucket totals point. A second point for the same bucket and
// second fails with store.ErrPointExists.
func (db *DB) Put(ctx context.Context, p models.TimeSeriesPoint) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO bucket_totals (bucket_name, ts, total_size, total_count)
		VALUES (?, ?, ?, ?)
	`, p.BucketName, p.Timestamp, p.TotalSize, p.TotalCount)
	var sqliteErr sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite.ErrConstraintUnique {
		return store.ErrPointExists
	}
	return err
}

// QueryRecent returns the points recorded for a bucket within window of now.
func (db *DB) QueryRecent(ctx context.Context, bucket string, window time.Duration) ([]models.TimeSeriesPoint, error) {
	now := db.now()
	return db.QueryRange(ctx, bucket, now.Add(-window), now)
}

// QueryRange retrieves the points for a specific bucket between start and
// end inclusive, ordered by timestamp.
func (db *DB) QueryRange(ctx context.Context, bucket string, start, end time.Time) ([]models.TimeSeriesPoint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT bucket_name, ts, total_size, total_count
		FROM bucket_totals
		WHERE bucket_name = ? AND ts BETWEEN ? AND ?
		ORDER BY ts
	`, bucket, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.TimeSeriesPoint
	for rows.Next() {
		var p models.TimeSeriesPoint
		if err := rows.Scan(&p.BucketName, &p.Timestamp, &p.TotalSize, &p.TotalCount); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return points, nil
}

// QueryMax returns the largest total_size ever recorded for a bucket, or 0.
func (db *DB) QueryMax(ctx context.Context, bucket string) (int64, error) {
	var largest int64
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(total_size), 0)
		FROM bucket_totals
		WHERE bucket_name = ?
	`, bucket).Scan(&largest)
	return largest, err
}

// MonthlyAverages calculates the average size and object count of every
// bucket with points in the given month.
func (db *DB) MonthlyAverages(ctx context.Context, year, month int) ([]models.MonthlyBucketAverage, error) {
	startDate := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	endDate := startDate.AddDate(0, 1, 0).Add(-time.Second)

	rows, err := db.QueryContext(ctx, `
		SELECT bucket_name, AVG(total_size), AVG(total_count), COUNT(*)
		FROM bucket_totals
		WHERE ts BETWEEN ? AND ?
		GROUP BY bucket_name
		ORDER BY bucket_name
	`, startDate.Unix(), endDate.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var averages []models.MonthlyBucketAverage
	for rows.Next() {
		avg := models.MonthlyBucketAverage{Year: year, Month: month}
		if err := rows.Scan(&avg.BucketName, &avg.AvgSizeBytes, &avg.AvgObjectCount, &avg.DataPoints); err != nil {
			return nil, err
		}
		averages = append(averages, avg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return averages, nil
}

// Buckets returns the names of all buckets with recorded points.
func (db *DB) Buckets(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT bucket_name FROM bucket_totals ORDER BY bucket_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []string
	for rows.Next() {
		var bucket string
		if err := rows.Scan(&bucket); err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, rows.Err()
}
