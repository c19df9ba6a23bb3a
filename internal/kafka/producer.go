package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"

	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/notification"
)

const NotificationTopic = "flashpromo.notification.batches"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue publishes notification tasks to a topic, keyed by batch id.
type Queue struct {
	Writer messageWriter
	Topic  string
	Logger *logger.Logger
}

func NewQueue(brokers []string, topic string, log *logger.Logger) *Queue {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Queue{Writer: writer, Topic: topic, Logger: log}
}

func (q *Queue) Enqueue(ctx context.Context, task notification.Task) error {
	value, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "encode task")
	}
	if err := q.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.BatchID), Value: value}); err != nil {
		return errors.Wrapf(err, "publish batch %s", task.BatchID)
	}
	q.Logger.LogKafka("PUBLISH", q.Topic, fmt.Sprintf("batch %s (%d users)", task.BatchID, len(task.UserIDs)))
	return nil
}

func (q *Queue) Close() error {
	return q.Writer.Close()
}
