package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/service/opens"
)

// Consumer drains the tracking queue into the recorder and trigger engine.
//
// A message is deleted once its fetch is recorded or suppressed. If
// recording fails it is left on the queue and redelivered after the
// visibility timeout, unless storage rejected the event itself; that
// message is dropped. Trigger errors after a successful record are logged
// and the message is still deleted, since redelivery would record the open
// twice.
type Consumer struct {
	client    QueueAPI
	queueURL  string
	proc      Processor
	timeout   time.Duration
	errorWait time.Duration
	done      chan struct{}
	stopped   chan struct{}
}

func NewConsumer(client QueueAPI, queueURL string, proc Processor, timeout time.Duration) *Consumer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Consumer{
		client:    client,
		queueURL:  queueURL,
		proc:      proc,
		timeout:   timeout,
		errorWait: 5 * time.Second,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	log.Printf("[TrackingConsumer] Started (queue=%s)", c.queueURL)
	go c.poll(ctx)
}

// Stop asks the poll loop to exit and waits for the current batch.
func (c *Consumer) Stop() {
	close(c.done)
	<-c.stopped
	log.Println("[TrackingConsumer] Stopped")
}

func (c *Consumer) poll(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if err := c.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("SQS receive failed", "queue", c.queueURL, "error", err)
			select {
			case <-time.After(c.errorWait):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}
}

// pollOnce receives one batch and processes it.
func (c *Consumer) pollOnce(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return err
	}
	for _, msg := range out.Messages {
		c.handle(ctx, msg)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg types.Message) {
	var evt TrackingEvent
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &evt); err != nil {
		logger.Warn("dropping malformed tracking message", "error", err)
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}
	if evt.EventType != EventOpen {
		logger.Warn("dropping unknown tracking event", "event_type", evt.EventType)
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.proc.Record(pctx, evt.fetch())
	if errors.Is(err, opens.ErrRejected) {
		logger.Error("open rejected by storage; dropping message", "tracking_id", evt.TrackingID, "error", err)
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}
	if err != nil {
		logger.Error("record open failed; leaving message for redelivery", "tracking_id", evt.TrackingID, "error", err)
		return
	}
	if out.Recorded() {
		c.evaluate(pctx, evt, out.Event)
	}
	c.deleteMessage(ctx, msg.ReceiptHandle)
}

func (c *Consumer) evaluate(ctx context.Context, evt TrackingEvent, ev *domain.OpenEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("trigger evaluation panicked", "tracking_id", evt.TrackingID, "panic", r)
		}
	}()
	fired, err := c.proc.Evaluate(ctx, ev)
	if err != nil {
		logger.Error("trigger evaluation failed", "tracking_id", evt.TrackingID, "error", err)
	}
	if len(fired) > 0 {
		logger.Info("triggers fired", "tracking_id", evt.TrackingID, "latches", fired)
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Error("SQS delete failed", "error", err)
	}
}
