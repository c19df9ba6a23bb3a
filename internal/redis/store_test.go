package redis

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
)

// setupTestStore returns a Store backed by miniredis.
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	s := NewStore(client, nil)
	s.InitialInterval = time.Millisecond
	return s, mr
}

func TestSetIfAbsent(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.SetIfAbsent(ctx, "reservation:product:p1", "r1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetIfAbsent(ctx, "reservation:product:p1", "r2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	val, found, err := s.Get(ctx, "reservation:product:p1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "r1", val)

	assert.Equal(t, time.Minute, mr.TTL(DefaultPrefix+"reservation:product:p1"))

	mr.FastForward(time.Minute)
	_, found, err = s.Get(ctx, "reservation:product:p1")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = s.SetIfAbsent(ctx, "reservation:product:p1", "r3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetIfAbsent_ConcurrentSingleWinner(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.SetIfAbsent(ctx, "lock", fmt.Sprintf("owner-%d", i), time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestCompareAndDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "owner-a", time.Minute))

	deleted, err := s.CompareAndDelete(ctx, "k", "owner-b")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "k", "owner-a")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "k", "owner-a")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete must lose")
}

func TestKeysAndLists(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "reservation:product:a", "1", time.Minute))
	require.NoError(t, s.Set(ctx, "reservation:product:b", "2", time.Minute))
	require.NoError(t, s.Set(ctx, "reservation:id:x", "3", time.Minute))

	keys, err := s.Keys(ctx, "reservation:product:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"reservation:product:a", "reservation:product:b"}, keys)

	require.NoError(t, s.Append(ctx, "deadletter", "one"))
	require.NoError(t, s.Append(ctx, "deadletter", "two"))
	vals, err := s.List(ctx, "deadletter")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, vals)

	require.NoError(t, s.Delete(ctx, "reservation:product:a", "reservation:id:x"))
	keys, err = s.Keys(ctx, "reservation:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"reservation:product:b"}, keys)
}

func TestUnreachableStoreIsTransient(t *testing.T) {
	s, mr := setupTestStore(t)
	mr.Close()

	_, err := s.SetIfAbsent(context.Background(), "k", "v", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransient))
}

// lostReplyHook turns the reply of the first SET into a network error after
// the server has already applied it.
type lostReplyHook struct{ fired int32 }

func (h *lostReplyHook) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h *lostReplyHook) AfterProcess(ctx context.Context, cmd redis.Cmder) error {
	if (cmd.Name() == "set" || cmd.Name() == "setnx") && atomic.CompareAndSwapInt32(&h.fired, 0, 1) {
		return errors.New("read: connection reset by peer")
	}
	return nil
}

func (h *lostReplyHook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h *lostReplyHook) AfterProcessPipeline(ctx context.Context, cmds []redis.Cmder) error {
	return nil
}

func storeWithLostReply(t *testing.T, mr *miniredis.Miniredis) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client.AddHook(&lostReplyHook{})
	t.Cleanup(func() { client.Close() })
	s := NewStore(client, nil)
	s.InitialInterval = time.Millisecond
	return s
}

func TestSetIfAbsent_LostReplyOnOwnWriteStillWins(t *testing.T) {
	_, mr := setupTestStore(t)
	s := storeWithLostReply(t, mr)

	ok, err := s.SetIfAbsent(context.Background(), "activation:promo-1:2026-03-14", "promo-1:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetIfAbsent_LostReplyDoesNotStealAnotherClaim(t *testing.T) {
	a, mr := setupTestStore(t)
	b := storeWithLostReply(t, mr)
	ctx := context.Background()

	won, err := a.SetIfAbsent(ctx, "activation:promo-1:2026-03-14", "promo-1:a", time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	won, err = b.SetIfAbsent(ctx, "activation:promo-1:2026-03-14", "promo-1:b", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)
}
