// Package memstore provides in-memory History and TimeSeries stores for
// dry runs and tests.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/store"
)

// DefaultPageSize matches the page size used against CloudWatch Logs.
const DefaultPageSize = 100

// History is an in-memory store.History. Search behaves like a substring
// log filter on the object name and pages through results in insertion order.
type History struct {
	mu       sync.Mutex
	events   []store.Event
	pageSize int
	now      func() time.Time

	// SearchErr, when set, is returned by every Search call.
	SearchErr error
	// Searches counts Search calls, one per page.
	Searches int
}

// NewHistory creates an empty history with the given page size.
func NewHistory(pageSize int) *History {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &History{pageSize: pageSize, now: time.Now}
}

// Add inserts a raw event, as if written by another producer.
func (h *History) Add(ts time.Time, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, store.Event{Timestamp: ts, Message: message})
}

// Append implements store.History.
func (h *History) Append(_ context.Context, rec models.DeltaRecord) error {
	msg, err := store.EncodeRecord(rec)
	if err != nil {
		return err
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = h.now()
	}
	h.Add(ts, msg)
	return nil
}

// Search implements store.History.
func (h *History) Search(_ context.Context, q store.Query, token string) (store.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Searches++
	if h.SearchErr != nil {
		return store.Page{}, h.SearchErr
	}

	offset := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return store.Page{}, err
		}
		offset = n
	}

	// Messages hold the name JSON-escaped, so match on that form.
	term := store.EscapedName(q.ObjectName)
	var page store.Page
	i := offset
	for ; i < len(h.events) && len(page.Events) < h.pageSize; i++ {
		ev := h.events[i]
		if ev.Timestamp.Before(q.Since) || !strings.Contains(ev.Message, term) {
			continue
		}
		page.Events = append(page.Events, ev)
	}
	if i < len(h.events) {
		page.NextToken = strconv.Itoa(i)
	}
	return page, nil
}

// Records returns every decodable record in insertion order.
func (h *History) Records() []models.DeltaRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.DeltaRecord
	for _, ev := range h.events {
		if rec, ok := store.DecodeRecord(ev.Message); ok {
			rec.Timestamp = ev.Timestamp
			out = append(out, rec)
		}
	}
	return out
}

// TimeSeries is an in-memory store.TimeSeries keyed by (bucket, ts).
type TimeSeries struct {
	mu     sync.Mutex
	points map[string][]models.TimeSeriesPoint
	now    func() time.Time
}

// NewTimeSeries creates an empty time series.
func NewTimeSeries() *TimeSeries {
	return &TimeSeries{points: make(map[string][]models.TimeSeriesPoint), now: time.Now}
}

// Put implements store.TimeSeries.
func (s *TimeSeries) Put(_ context.Context, p models.TimeSeriesPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.points[p.BucketName] {
		if existing.Timestamp == p.Timestamp {
			return store.ErrPointExists
		}
	}
	s.points[p.BucketName] = append(s.points[p.BucketName], p)
	return nil
}

// QueryRecent implements store.TimeSeries.
func (s *TimeSeries) QueryRecent(_ context.Context, bucket string, window time.Duration) ([]models.TimeSeriesPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.now().Add(-window).Unix()
	var out []models.TimeSeriesPoint
	for _, p := range s.points[bucket] {
		if p.Timestamp >= from {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// QueryMax implements store.TimeSeries.
func (s *TimeSeries) QueryMax(_ context.Context, bucket string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var largest int64
	for _, p := range s.points[bucket] {
		if p.TotalSize > largest {
			largest = p.TotalSize
		}
	}
	return largest, nil
}

// Points returns every stored point for bucket in insertion order.
func (s *TimeSeries) Points(bucket string) []models.TimeSeriesPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TimeSeriesPoint(nil), s.points[bucket]...)
}

// SetClock replaces the clock used for append timestamps.
func (h *History) SetClock(now func() time.Time) { h.now = now }

// SetClock replaces the clock used to evaluate query windows.
func (s *TimeSeries) SetClock(now func() time.Time) { s.now = now }
