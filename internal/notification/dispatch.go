// Package notification batches eligible users of a promo into delivery tasks
// and delivers them with a per-user daily rate limit, retries and a dead-letter list.
package notification

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/logger"
)

const DefaultBatchSize = 1000

// Task is one batch of users to notify about one promo.
type Task struct {
	BatchID string   `json:"batch_id"`
	PromoID string   `json:"promo_id"`
	UserIDs []string `json:"user_ids"`
}

// TaskQueue accepts tasks for asynchronous, at-least-once execution.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

type Dispatcher struct {
	Queue     TaskQueue
	BatchSize int
	Logger    *logger.Logger
}

func NewDispatcher(queue TaskQueue, batchSize int, log *logger.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{Queue: queue, BatchSize: batchSize, Logger: log}
}

// Batches splits userIDs into consecutive batches of at most size users.
func Batches(promoID string, userIDs []string, size int) []Task {
	tasks := make([]Task, 0, (len(userIDs)+size-1)/size)
	for start, i := 0, 0; start < len(userIDs); start, i = start+size, i+1 {
		end := start + size
		if end > len(userIDs) {
			end = len(userIDs)
		}
		batch := make([]string, end-start)
		copy(batch, userIDs[start:end])
		tasks = append(tasks, Task{
			BatchID: fmt.Sprintf("%s-%d", promoID, i),
			PromoID: promoID,
			UserIDs: batch,
		})
	}
	return tasks
}

// Dispatch enqueues one task per batch and returns without waiting for delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, promoID string, userIDs []string) (int, error) {
	tasks := Batches(promoID, userIDs, d.BatchSize)
	for i, task := range tasks {
		if err := d.Queue.Enqueue(ctx, task); err != nil {
			return i, apperr.Transient(errors.Wrapf(err, "batch %s", task.BatchID), "enqueue notification batch")
		}
	}
	d.Logger.LogNotification("DISPATCH", promoID, fmt.Sprintf("%d users in %d batches", len(userIDs), len(tasks)))
	return len(tasks), nil
}
