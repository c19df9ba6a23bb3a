package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-flashpromo/internal/notification"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader hands out queued messages, then blocks until ctx is cancelled.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type MockHandler struct{ mock.Mock }

func (m *MockHandler) Handle(ctx context.Context, task notification.Task) (notification.Report, error) {
	args := m.Called(task.BatchID)
	return notification.Report{BatchID: task.BatchID, Sent: len(task.UserIDs)}, args.Error(0)
}

func TestQueue_Enqueue(t *testing.T) {
	w := &fakeWriter{}
	q := &Queue{Writer: w, Topic: NotificationTopic}

	require.NoError(t, q.Enqueue(context.Background(), notification.Task{BatchID: "promo-0", PromoID: "promo", UserIDs: []string{"u1"}}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "promo-0", string(w.msgs[0].Key))

	var task notification.Task
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &task))
	assert.Equal(t, []string{"u1"}, task.UserIDs)
}

func encodeTask(batchID string) []byte {
	b, _ := json.Marshal(notification.Task{BatchID: batchID, PromoID: "promo", UserIDs: []string{"u1"}})
	return b
}

func TestConsumer_RetriesFailedBatchBeforeMovingOn(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: encodeTask("ok-0")},
		{Offset: 2, Value: []byte("{not json")},
		{Offset: 3, Value: encodeTask("broken-0")},
		{Offset: 4, Value: encodeTask("ok-1")},
	}}
	h := new(MockHandler)
	h.On("Handle", "ok-0").Return(nil)
	h.On("Handle", "broken-0").Return(errors.New("dead-letter store down")).Twice()
	h.On("Handle", "broken-0").Return(nil).Once()
	h.On("Handle", "ok-1").Return(nil)

	c := &Consumer{reader: r, handler: h, topic: NotificationTopic, retryInterval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) == 4
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4}, r.committed)
	h.AssertNumberOfCalls(t, "Handle", 5)
}

func TestConsumer_NeverCommitsPastFailingBatch(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: encodeTask("ok-0")},
		{Offset: 2, Value: encodeTask("broken-0")},
		{Offset: 3, Value: encodeTask("ok-1")},
	}}
	h := new(MockHandler)
	h.On("Handle", "ok-0").Return(nil)
	failing := make(chan struct{})
	var once sync.Once
	h.On("Handle", "broken-0").Return(errors.New("dead-letter store down")).Run(func(mock.Arguments) {
		once.Do(func() { close(failing) })
	})

	c := &Consumer{reader: r, handler: h, topic: NotificationTopic, retryInterval: time.Millisecond, maxRetryInterval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-failing:
	case <-time.After(time.Second):
		t.Fatal("failing batch was never handled")
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []int64{1}, r.committed)
	assert.Len(t, r.queue, 1, "the message after the failing batch is never fetched")
	h.AssertNotCalled(t, "Handle", "ok-1")
}
