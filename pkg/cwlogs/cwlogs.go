// Package cwlogs implements the delta history on top of CloudWatch Logs.
// Records are written as JSON log events and found again with a quoted
// substring filter on the object name.
package cwlogs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/thannaske/s3sizer/pkg/logging"
	"github.com/thannaske/s3sizer/pkg/models"
	"github.com/thannaske/s3sizer/pkg/store"
)

// DefaultPageSize is the FilterLogEvents limit per page.
const DefaultPageSize = 100

// API is the subset of the CloudWatch Logs client used by History.
type API interface {
	FilterLogEvents(ctx context.Context, in *cloudwatchlogs.FilterLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
}

// History is a store.History backed by one log group. Appends go to a
// single stream; searches cover every stream in the group.
type History struct {
	api      API
	group    string
	stream   string
	pageSize int32
	now      func() time.Time

	mu       sync.Mutex
	streamOK bool
}

// New creates a History. An empty group yields store.ErrNoHistoryStore.
func New(api API, group, stream string, pageSize int) (*History, error) {
	if strings.TrimSpace(group) == "" {
		return nil, store.ErrNoHistoryStore
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if stream == "" {
		stream = "s3sizer"
	}
	return &History{
		api:      api,
		group:    group,
		stream:   stream,
		pageSize: int32(pageSize),
		now:      time.Now,
	}, nil
}

// NewFromConfig creates a History using the CloudWatch Logs client for cfg.
func NewFromConfig(cfg aws.Config, group, stream string, pageSize int) (*History, error) {
	return New(cloudwatchlogs.NewFromConfig(cfg), group, stream, pageSize)
}

// Search implements store.History. A missing log group is returned as an
// error; callers treat it as no match.
func (h *History) Search(ctx context.Context, q store.Query, token string) (store.Page, error) {
	in := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String(h.group),
		StartTime:     aws.Int64(q.Since.UnixMilli()),
		FilterPattern: aws.String(filterPattern(q.ObjectName)),
		Limit:         aws.Int32(h.pageSize),
	}
	if token != "" {
		in.NextToken = aws.String(token)
	}

	out, err := h.api.FilterLogEvents(ctx, in)
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return store.Page{}, fmt.Errorf("log group %s not found: %w", h.group, err)
		}
		return store.Page{}, fmt.Errorf("filter log events in %s: %w", h.group, err)
	}

	page := store.Page{Events: make([]store.Event, 0, len(out.Events))}
	for _, ev := range out.Events {
		page.Events = append(page.Events, store.Event{
			Timestamp: time.UnixMilli(aws.ToInt64(ev.Timestamp)).UTC(),
			Message:   aws.ToString(ev.Message),
		})
	}
	page.NextToken = aws.ToString(out.NextToken)
	return page, nil
}

// Append implements store.History.
func (h *History) Append(ctx context.Context, rec models.DeltaRecord) error {
	msg, err := store.EncodeRecord(rec)
	if err != nil {
		return err
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = h.now()
	}

	if err := h.ensureStream(ctx); err != nil {
		return err
	}
	_, err = h.api.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(h.group),
		LogStreamName: aws.String(h.stream),
		LogEvents: []types.InputLogEvent{{
			Message:   aws.String(msg),
			Timestamp: aws.Int64(ts.UnixMilli()),
		}},
	})
	if err != nil {
		return fmt.Errorf("put log event to %s/%s: %w", h.group, h.stream, err)
	}
	return nil
}

func (h *History) ensureStream(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streamOK {
		return nil
	}

	_, err := h.api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(h.group),
		LogStreamName: aws.String(h.stream),
	})
	var exists *types.ResourceAlreadyExistsException
	switch {
	case err == nil:
		logging.FromContext(ctx).Info().Str("log_group", h.group).Str("log_stream", h.stream).Msg("created log stream")
	case errors.As(err, &exists):
	default:
		return fmt.Errorf("create log stream %s/%s: %w", h.group, h.stream, err)
	}
	h.streamOK = true
	return nil
}

// filterPattern quotes name for a CloudWatch Logs term match. The term is
// the name as it appears in an encoded record, with quotes and backslashes
// escaped once more for the pattern syntax.
func filterPattern(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(store.EscapedName(name)) + `"`
}
