// Package queue long-polls an SQS queue and feeds each message body to a
// handler. It is the delivery layer for deployments outside Lambda.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/thannaske/s3sizer/pkg/logging"
	"github.com/thannaske/s3sizer/pkg/notify"
)

// API is the subset of the SQS client used by Consumer.
type API interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler processes one message body.
type Handler func(ctx context.Context, body json.RawMessage) error

// Consumer receives messages and deletes them once handled. A message whose
// body is not a recognizable notification is deleted as well, since
// redelivery cannot fix it. Other failures leave the message on the queue.
type Consumer struct {
	api         API
	url         string
	handler     Handler
	waitSeconds int32
	maxMessages int32
	backoff     time.Duration
}

// New creates a Consumer for queue url.
func New(api API, url string, waitSeconds, maxMessages int, handler Handler) (*Consumer, error) {
	if url == "" {
		return nil, errors.New("queue url is required")
	}
	if maxMessages <= 0 {
		maxMessages = 10
	}
	return &Consumer{
		api:         api,
		url:         url,
		handler:     handler,
		waitSeconds: int32(waitSeconds),
		maxMessages: int32(maxMessages),
		backoff:     5 * time.Second,
	}, nil
}

// NewFromConfig creates a Consumer using the SQS client for cfg.
func NewFromConfig(cfg aws.Config, url string, waitSeconds, maxMessages int, handler Handler) (*Consumer, error) {
	return New(sqs.NewFromConfig(cfg), url, waitSeconds, maxMessages, handler)
}

// Run polls until ctx is cancelled. Receive errors are logged and retried
// after a pause.
func (c *Consumer) Run(ctx context.Context) error {
	log := logging.FromContext(ctx).With().Str("queue_url", c.url).Logger()
	log.Info().Int32("wait_seconds", c.waitSeconds).Int32("max_messages", c.maxMessages).Msg("starting queue consumer")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("stopping queue consumer")
			return nil
		}

		n, err := c.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Dur("backoff", c.backoff).Msg("failed to receive messages")
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
			}
			continue
		}
		if n > 0 {
			log.Debug().Int("messages", n).Msg("processed messages")
		}
	}
}

// Poll performs one receive and handles every returned message. It returns
// the number of messages received.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.url),
		MaxNumberOfMessages: c.maxMessages,
		WaitTimeSeconds:     c.waitSeconds,
	})
	if err != nil {
		return 0, fmt.Errorf("receive from %s: %w", c.url, err)
	}

	for _, msg := range out.Messages {
		c.handle(ctx, msg)
	}
	return len(out.Messages), nil
}

func (c *Consumer) handle(ctx context.Context, msg types.Message) {
	id := aws.ToString(msg.MessageId)
	ctx = logging.WithStr(ctx, "message_id", id)
	log := logging.FromContext(ctx)

	err := c.handler(ctx, json.RawMessage(aws.ToString(msg.Body)))
	switch {
	case err == nil:
	case errors.Is(err, notify.ErrUnrecognizedEnvelope):
		log.Warn().Err(err).Msg("discarding unrecognized message")
	default:
		log.Error().Err(err).Msg("failed to handle message; leaving it for redelivery")
		return
	}

	if _, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.url),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		log.Error().Err(err).Msg("failed to delete message")
	}
}
