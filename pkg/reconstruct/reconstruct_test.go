package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/store"
	"github.com/thannaske/s3sizer/pkg/store/memstore"
)

var now = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestReconstructor(t *testing.T, h store.History, opts ...Option) *Reconstructor {
	t.Helper()
	r, err := New(h, append([]Option{WithClock(func() time.Time { return now })}, opts...)...)
	require.NoError(t, err)
	return r
}

func created(key string, size int64) models.Notification {
	return models.Notification{EventType: models.EventCreated, BucketName: "data", ObjectName: key, Size: size}
}

func removed(key string) models.Notification {
	return models.Notification{EventType: models.EventRemoved, BucketName: "data", ObjectName: key}
}

func record(key string, delta int64) string {
	return fmt.Sprintf(`{"object_name":%q,"size_delta":%d,"bucket":"data"}`, key, delta)
}

func TestNew_RequiresHistory(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, store.ErrNoHistoryStore)
}

func TestProcess_CreatedEmitsSize(t *testing.T) {
	h := memstore.NewHistory(0)
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), created("a.txt", 19))
	require.NoError(t, err)
	assert.Equal(t, int64(19), rec.SizeDelta)
	assert.Zero(t, h.Searches, "creations must not search history")
	require.Len(t, h.Records(), 1)
	assert.Equal(t, "data", h.Records()[0].BucketName)
}

func TestProcess_RemovalReconstructsSize(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHistory(0)
	r := newTestReconstructor(t, h)

	_, err := r.Process(ctx, created("a.txt", 19))
	require.NoError(t, err)

	rec, err := r.Process(ctx, removed("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(-19), rec.SizeDelta)

	recs := h.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, int64(-19), recs[1].SizeDelta)
}

func TestProcess_RemovalWithSpecialCharacters(t *testing.T) {
	for _, key := range []string{"a&b.txt", "x<y>.bin", `q"uote`, `dir\file`, "plain.txt"} {
		t.Run(key, func(t *testing.T) {
			ctx := context.Background()
			r := newTestReconstructor(t, memstore.NewHistory(0))

			_, err := r.Process(ctx, created(key, 42))
			require.NoError(t, err)

			rec, err := r.Process(ctx, removed(key))
			require.NoError(t, err)
			assert.Equal(t, int64(-42), rec.SizeDelta)
		})
	}
}

func TestProcess_LatestWins(t *testing.T) {
	h := memstore.NewHistory(0)
	h.Add(now.Add(-30*time.Minute), record("a.txt", 10))
	h.Add(now.Add(-20*time.Minute), record("a.txt", 25))
	h.Add(now.Add(-10*time.Minute), record("a.txt", 7))
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), removed("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(-7), rec.SizeDelta)
}

func TestProcess_LatestWinsAcrossUnorderedPages(t *testing.T) {
	h := memstore.NewHistory(1)
	h.Add(now.Add(-5*time.Minute), record("a.txt", 7))
	h.Add(now.Add(-40*time.Minute), record("a.txt", 10))
	h.Add(now.Add(-20*time.Minute), record("a.txt", 25))
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), removed("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(-7), rec.SizeDelta)
	assert.Equal(t, 3, h.Searches)
}

func TestProcess_IgnoresNonCandidates(t *testing.T) {
	h := memstore.NewHistory(0)
	h.Add(now.Add(-30*time.Minute), record("a.txt", 12))
	h.Add(now.Add(-20*time.Minute), record("a.txt", -12))                                       // removal
	h.Add(now.Add(-15*time.Minute), record("a.txt.bak", 99))                                    // substring only
	h.Add(now.Add(-14*time.Minute), `{"object_name":"a.txt","size_delta":50,"bucket":"other"}`) // other bucket
	h.Add(now.Add(-13*time.Minute), `{"object_name":"a.txt","size_delta":"lots"}`)              // non numeric
	h.Add(now.Add(-12*time.Minute), `a.txt was uploaded`)                                        // no payload
	h.Add(now.Add(-11*time.Minute), `[INFO] {"object_name": "a.txt", "size_delta": 0}`)          // zero
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), removed("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(-12), rec.SizeDelta)
}

func TestProcess_LegacyLineWithoutBucket(t *testing.T) {
	h := memstore.NewHistory(0)
	h.Add(now.Add(-time.Minute), "[INFO]\t2025-10-01T11:59:00Z\treq\t{\"object_name\": \"a.txt\", \"size_delta\": 28}")
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), removed("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(-28), rec.SizeDelta)
}

func TestProcess_FallbackWhenNotFound(t *testing.T) {
	h := memstore.NewHistory(0)
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), removed("ghost.txt"))
	require.NoError(t, err)
	assert.Zero(t, rec.SizeDelta)
	require.Len(t, h.Records(), 1)
}

func TestProcess_FallbackOutsideLookback(t *testing.T) {
	h := memstore.NewHistory(0)
	h.Add(now.Add(-2*time.Hour), record("a.txt", 19))
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), removed("a.txt"))
	require.NoError(t, err)
	assert.Zero(t, rec.SizeDelta)

	r = newTestReconstructor(t, h, WithLookback(3*time.Hour))
	rec, err = r.Process(context.Background(), removed("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(-19), rec.SizeDelta)
}

func TestProcess_SearchErrorDegradesToZero(t *testing.T) {
	h := memstore.NewHistory(0)
	h.Add(now.Add(-time.Minute), record("a.txt", 19))
	h.SearchErr = errors.New("ResourceNotFoundException: log group does not exist")
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), removed("a.txt"))
	require.NoError(t, err)
	assert.Zero(t, rec.SizeDelta)
}

func TestProcess_PaginationCompleteness(t *testing.T) {
	h := memstore.NewHistory(100)
	for i := 0; i < 300; i++ {
		// Every event passes the text filter but none is an exact match.
		h.Add(now.Add(-time.Duration(300-i)*time.Second), record(fmt.Sprintf("a.txt.%d", i), 5))
	}
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), removed("a.txt"))
	require.NoError(t, err)
	assert.Zero(t, rec.SizeDelta)
	assert.Equal(t, 3, h.Searches, "all three pages must be consumed")
}

func TestProcess_MatchOnLastPage(t *testing.T) {
	h := memstore.NewHistory(100)
	for i := 0; i < 299; i++ {
		h.Add(now.Add(-50*time.Minute), record(fmt.Sprintf("a.txt.%d", i), 5))
	}
	h.Add(now.Add(-49*time.Minute), record("a.txt", 42))
	r := newTestReconstructor(t, h)

	rec, err := r.Process(context.Background(), removed("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(-42), rec.SizeDelta)
	assert.Equal(t, 3, h.Searches)
}

func TestProcess_RecreatedObject(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHistory(0)
	clock := now
	r, err := New(h, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	steps := []struct {
		n    models.Notification
		want int64
	}{
		{created("assignment1.txt", 18), 18},
		{created("assignment1.txt", 27), 27},
		{removed("assignment1.txt"), -27},
		{created("assignment2.txt", 2), 2},
		{created("assignment1.txt", 5), 5},
		{removed("assignment1.txt"), -5},
	}
	for i, s := range steps {
		clock = clock.Add(2 * time.Second)
		rec, err := r.Process(ctx, s.n)
		require.NoError(t, err)
		assert.Equal(t, s.want, rec.SizeDelta, "step %d", i)
	}
}

type failingAppend struct {
	*memstore.History
	failOn string
}

func (f failingAppend) Append(ctx context.Context, rec models.DeltaRecord) error {
	if rec.ObjectName == f.failOn {
		return errors.New("throttled")
	}
	return f.History.Append(ctx, rec)
}

func TestProcessBatch_ContinuesPastFailures(t *testing.T) {
	h := memstore.NewHistory(0)
	r := newTestReconstructor(t, failingAppend{History: h, failOn: "b"})

	recs, err := r.ProcessBatch(context.Background(), []models.Notification{
		created("a", 1),
		created("b", 2),
		created("c", 3),
		{EventType: "restored", BucketName: "data", ObjectName: "d"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Contains(t, err.Error(), "unsupported event type")
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ObjectName)
	assert.Equal(t, "c", recs[1].ObjectName)
	assert.Len(t, h.Records(), 2)
}
