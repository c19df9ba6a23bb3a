package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/notification"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, task notification.Task) (notification.Report, error)
}

// Consumer drains notification tasks. Offsets are committed only after the
// handler returns without error, so a crash mid-batch means redelivery. A
// failing batch is retried in place: committing a later offset on the same
// partition would acknowledge it.
type Consumer struct {
	reader  messageReader
	handler Handler
	topic   string
	logger  *logger.Logger

	retryInterval    time.Duration
	maxRetryInterval time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handler Handler, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		reader:           reader,
		handler:          handler,
		topic:            topic,
		logger:           log,
		retryInterval:    500 * time.Millisecond,
		maxRetryInterval: 30 * time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	var task notification.Task
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		// poison message: commit so it does not block the partition
		c.logger.Error("KAFKA", fmt.Sprintf("skipping undecodable message at offset %d: %v", msg.Offset, err))
		c.commit(ctx, msg)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	if c.maxRetryInterval > 0 {
		b.MaxInterval = c.maxRetryInterval
	}
	b.MaxElapsedTime = 0

	var report notification.Report
	err := backoff.RetryNotify(func() error {
		var err error
		report, err = c.handler.Handle(ctx, task)
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.Error("KAFKA", fmt.Sprintf("batch %s at offset %d not handled, retrying in %s: %v", task.BatchID, msg.Offset, wait, err))
	})
	if err != nil {
		// only cancellation gets here; the offset stays uncommitted
		c.logger.Warn("KAFKA", fmt.Sprintf("batch %s at offset %d left uncommitted: %v", task.BatchID, msg.Offset, err))
		return
	}
	c.logger.LogKafka("CONSUMED", c.topic, fmt.Sprintf("batch %s sent=%d skipped=%d failed=%d",
		report.BatchID, report.Sent, report.Skipped, report.Failed))
	c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("KAFKA", fmt.Sprintf("commit offset %d: %v", msg.Offset, err))
	}
}

// RunGroup runs n consumers in the same consumer group, one reader each.
func RunGroup(ctx context.Context, n int, brokers []string, topic, groupID string, handler Handler, log *logger.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		c := NewConsumer(brokers, topic, groupID, handler, log)
		g.Go(func() error { return c.Run(ctx) })
	}
	log.LogKafka("SUBSCRIBE", topic, fmt.Sprintf("%d consumers in group %s", n, groupID))
	return g.Wait()
}
