package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/clock"
	"ms-flashpromo/internal/models"
	"ms-flashpromo/internal/notification"
	rediswrap "ms-flashpromo/internal/redis"
)

type countingHandler struct {
	mu      sync.Mutex
	batches []string
	users   int64
	delay   time.Duration
}

func (h *countingHandler) Handle(ctx context.Context, task notification.Task) (notification.Report, error) {
	time.Sleep(h.delay)
	h.mu.Lock()
	h.batches = append(h.batches, task.BatchID)
	h.mu.Unlock()
	atomic.AddInt64(&h.users, int64(len(task.UserIDs)))
	return notification.Report{BatchID: task.BatchID, Sent: len(task.UserIDs)}, nil
}

func TestPool_ProcessesEveryTask(t *testing.T) {
	h := &countingHandler{delay: time.Millisecond}
	p := NewPool(h, 4, 2, nil)
	p.Start(context.Background())

	for i := 0; i < 20; i++ {
		require.NoError(t, p.Enqueue(context.Background(), notification.Task{
			BatchID: fmt.Sprintf("promo-%d", i),
			UserIDs: []string{"a", "b"},
		}))
	}
	p.Close()

	assert.Len(t, h.batches, 20)
	assert.Equal(t, int64(40), atomic.LoadInt64(&h.users))
}

func TestPool_EnqueueAfterClose(t *testing.T) {
	p := NewPool(&countingHandler{}, 1, 1, nil)
	p.Start(context.Background())
	p.Close()
	p.Close()

	err := p.Enqueue(context.Background(), notification.Task{BatchID: "late"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_EnqueueHonoursContext(t *testing.T) {
	// not started and unbuffered: nothing drains the channel
	p := NewPool(&countingHandler{}, 1, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Enqueue(ctx, notification.Task{BatchID: "stuck"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_WithDispatcher(t *testing.T) {
	h := &countingHandler{}
	p := NewPool(h, 3, 10, nil)
	p.Start(context.Background())

	users := make([]string, 2500)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
	}
	n, err := notification.NewDispatcher(p, 1000, nil).Dispatch(context.Background(), "promo", users)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	p.Close()
	assert.Equal(t, int64(2500), atomic.LoadInt64(&h.users))
}

// failingHandler errors on its first failures calls.
type failingHandler struct {
	calls    int32
	failures int32
}

func (h *failingHandler) Handle(ctx context.Context, task notification.Task) (notification.Report, error) {
	if atomic.AddInt32(&h.calls, 1) <= h.failures {
		return notification.Report{}, errors.New("dead-letter list unavailable")
	}
	return notification.Report{BatchID: task.BatchID, Sent: len(task.UserIDs)}, nil
}

func TestPool_RedeliversUnsettledBatch(t *testing.T) {
	h := &failingHandler{failures: 2}
	p := NewPool(h, 1, 1, nil)
	p.InitialInterval = time.Millisecond
	p.Start(context.Background())

	require.NoError(t, p.Enqueue(context.Background(), notification.Task{BatchID: "promo-0", UserIDs: []string{"a"}}))
	p.Close()

	assert.Equal(t, int32(3), atomic.LoadInt32(&h.calls))
}

func TestPool_GivesUpAfterRetries(t *testing.T) {
	h := &failingHandler{failures: 100}
	p := NewPool(h, 1, 1, nil)
	p.InitialInterval = time.Millisecond
	p.Start(context.Background())

	require.NoError(t, p.Enqueue(context.Background(), notification.Task{BatchID: "promo-0", UserIDs: []string{"a"}}))
	p.Close()

	assert.Equal(t, int32(4), atomic.LoadInt32(&h.calls))
}

type unreachablePromos struct{ lookups int32 }

func (u *unreachablePromos) GetPromoByID(ctx context.Context, id string) (*models.FlashPromo, error) {
	atomic.AddInt32(&u.lookups, 1)
	return nil, apperr.Transient(errors.New("connection refused"), "load promo")
}

type nopTransport struct{ sent int32 }

func (n *nopTransport) Send(ctx context.Context, userID, message string) error {
	atomic.AddInt32(&n.sent, 1)
	return nil
}

func TestPool_UnreachablePromoIsDeadLettered(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	lookup := &unreachablePromos{}
	transport := &nopTransport{}
	d := notification.NewDeliverer(rediswrap.NewStore(client, nil), transport, lookup,
		clock.NewFake(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)), nil)
	d.InitialInterval = time.Millisecond

	p := NewPool(d, 1, 1, nil)
	p.Start(context.Background())
	require.NoError(t, p.Enqueue(context.Background(), notification.Task{
		BatchID: "promo-a-0", PromoID: "promo-a", UserIDs: []string{"u1", "u2"},
	}))
	p.Close()

	assert.Equal(t, int32(4), atomic.LoadInt32(&lookup.lookups))
	assert.Zero(t, atomic.LoadInt32(&transport.sent))

	dls, err := d.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, "promo-a-0", dls[0].BatchID)
	assert.Equal(t, []string{"u1", "u2"}, dls[0].UserIDs)
	assert.Equal(t, 4, dls[0].Attempts)
	assert.Contains(t, dls[0].Error, "connection refused")
}
