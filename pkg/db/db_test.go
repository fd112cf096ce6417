package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	sqlite "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/store"
)

var now = time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := NewDB(filepath.Join(t.TempDir(), "s3sizer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Migrate())
	d.SetClock(func() time.Time { return now })
	return d
}

func TestMigrate_Idempotent(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.Migrate())
}

func TestPut_RejectsSameSecond(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	p := models.TimeSeriesPoint{BucketName: "data", Timestamp: now.Unix(), TotalSize: 17, TotalCount: 3}
	require.NoError(t, d.Put(ctx, p))

	p.TotalSize = 99
	require.ErrorIs(t, d.Put(ctx, p), store.ErrPointExists)

	other := p
	other.BucketName = "logs"
	require.NoError(t, d.Put(ctx, other))

	points, err := d.QueryRecent(ctx, "data", time.Hour)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(17), points[0].TotalSize)
}

func TestQueryRecent_WindowAndOrder(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	for _, age := range []time.Duration{10 * time.Minute, 90 * time.Minute, time.Minute, 30 * time.Minute} {
		require.NoError(t, d.Put(ctx, models.TimeSeriesPoint{
			BucketName: "data",
			Timestamp:  now.Add(-age).Unix(),
			TotalSize:  int64(age / time.Minute),
		}))
	}

	points, err := d.QueryRecent(ctx, "data", time.Hour)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, int64(30), points[0].TotalSize)
	assert.Equal(t, int64(10), points[1].TotalSize)
	assert.Equal(t, int64(1), points[2].TotalSize)
}

func TestQueryMax(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	largest, err := d.QueryMax(ctx, "data")
	require.NoError(t, err)
	assert.Zero(t, largest)

	for i, size := range []int64{40, 120, 75} {
		require.NoError(t, d.Put(ctx, models.TimeSeriesPoint{BucketName: "data", Timestamp: int64(i), TotalSize: size}))
	}
	largest, err = d.QueryMax(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, int64(120), largest)
}

func TestMonthlyAverages(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	oct := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	points := []models.TimeSeriesPoint{
		{BucketName: "b", Timestamp: oct.Add(time.Hour).Unix(), TotalSize: 100, TotalCount: 2},
		{BucketName: "b", Timestamp: oct.Add(48 * time.Hour).Unix(), TotalSize: 300, TotalCount: 4},
		{BucketName: "a", Timestamp: oct.Add(time.Hour).Unix(), TotalSize: 10, TotalCount: 1},
		{BucketName: "a", Timestamp: oct.Add(-time.Hour).Unix(), TotalSize: 9999, TotalCount: 9},
	}
	for _, p := range points {
		require.NoError(t, d.Put(ctx, p))
	}

	avgs, err := d.MonthlyAverages(ctx, 2025, 10)
	require.NoError(t, err)
	require.Len(t, avgs, 2)
	assert.Equal(t, models.MonthlyBucketAverage{BucketName: "a", Year: 2025, Month: 10, AvgSizeBytes: 10, AvgObjectCount: 1, DataPoints: 1}, avgs[0])
	assert.Equal(t, models.MonthlyBucketAverage{BucketName: "b", Year: 2025, Month: 10, AvgSizeBytes: 200, AvgObjectCount: 3, DataPoints: 2}, avgs[1])

	buckets, err := d.Buckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, buckets)
}

func TestHistory_AppendAndSearch(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	require.NoError(t, d.Append(ctx, models.DeltaRecord{BucketName: "data", ObjectName: "a.txt", SizeDelta: 19, Timestamp: now.Add(-2 * time.Hour)}))
	require.NoError(t, d.Append(ctx, models.DeltaRecord{BucketName: "data", ObjectName: "a.txt", SizeDelta: 7}))
	require.NoError(t, d.Append(ctx, models.DeltaRecord{BucketName: "data", ObjectName: "a.txt.bak", SizeDelta: 5}))
	require.NoError(t, d.Append(ctx, models.DeltaRecord{BucketName: "logs", ObjectName: "a.txt", SizeDelta: 3}))

	page, err := d.Search(ctx, store.Query{BucketName: "data", ObjectName: "a.txt", Since: now.Add(-time.Hour)}, "")
	require.NoError(t, err)
	assert.Empty(t, page.NextToken)
	require.Len(t, page.Events, 1)
	assert.Equal(t, now, page.Events[0].Timestamp)

	rec, ok := store.DecodeRecord(page.Events[0].Message)
	require.True(t, ok)
	assert.Equal(t, int64(7), rec.SizeDelta)
	assert.Equal(t, "data", rec.BucketName)
}

func TestHistory_SearchPages(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	d.SetPageSize(2)

	for i := 1; i <= 5; i++ {
		require.NoError(t, d.Append(ctx, models.DeltaRecord{BucketName: "data", ObjectName: "a.txt", SizeDelta: int64(i)}))
	}

	q := store.Query{BucketName: "data", ObjectName: "a.txt", Since: now.Add(-time.Hour)}
	var (
		token string
		pages int
		seen  []int64
	)
	for {
		page, err := d.Search(ctx, q, token)
		require.NoError(t, err)
		pages++
		for _, ev := range page.Events {
			rec, ok := store.DecodeRecord(ev.Message)
			require.True(t, ok)
			seen = append(seen, rec.SizeDelta)
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
}

func TestHistory_InvalidToken(t *testing.T) {
	d := openTestDB(t)
	_, err := d.Search(context.Background(), store.Query{ObjectName: "a"}, "not-a-number")
	require.Error(t, err)
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	d := Wrap(sqlDB)
	d.SetClock(func() time.Time { return now })
	return d, mock
}

func TestPut_MapsUniqueViolation(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO bucket_totals").
		WithArgs("data", now.Unix(), int64(1), int64(1)).
		WillReturnError(sqlite.Error{Code: sqlite.ErrConstraint, ExtendedCode: sqlite.ErrConstraintUnique})

	err := d.Put(context.Background(), models.TimeSeriesPoint{BucketName: "data", Timestamp: now.Unix(), TotalSize: 1, TotalCount: 1})
	require.ErrorIs(t, err, store.ErrPointExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPut_PassesOtherErrors(t *testing.T) {
	d, mock := newMockDB(t)
	diskFull := sqlite.Error{Code: sqlite.ErrFull}
	mock.ExpectExec("INSERT INTO bucket_totals").WillReturnError(diskFull)

	err := d.Put(context.Background(), models.TimeSeriesPoint{BucketName: "data", Timestamp: now.Unix()})
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrPointExists))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_QueryError(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectQuery("SELECT id, recorded_at, message").
		WillReturnError(fmt.Errorf("database is locked"))

	_, err := d.Search(context.Background(), store.Query{BucketName: "data", ObjectName: "a.txt"}, "")
	require.ErrorContains(t, err, "database is locked")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryMax_Mock(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("data").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(512)))

	largest, err := d.QueryMax(context.Background(), "data")
	require.NoError(t, err)
	assert.Equal(t, int64(512), largest)
	require.NoError(t, mock.ExpectationsWereMet())
}
