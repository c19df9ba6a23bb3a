// Package redis is the TTL key-value store behind reservations, activation
// idempotency keys, notification rate limits and the dead-letter list.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/logger"
)

const DefaultPrefix = "flashpromo:"

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Store struct {
	Client *redis.Client
	Logger *logger.Logger
	Prefix string

	MaxRetries      uint64
	InitialInterval time.Duration
}

func NewStore(client *redis.Client, log *logger.Logger) *Store {
	return &Store{
		Client:          client,
		Logger:          log,
		Prefix:          DefaultPrefix,
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
	}
}

func (s *Store) key(k string) string {
	return s.Prefix + k
}

// retry runs fn with exponential backoff. redis.Nil and context errors are not retried.
// Exhaustion surfaces as apperr.ErrTransient.
func (s *Store) retry(ctx context.Context, op string, fn func(attempt int) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.MaxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn(attempt)
		if err == nil || errors.Is(err, redis.Nil) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		s.Logger.Warn("REDIS", fmt.Sprintf("%s failed (attempt %d): %v", op, attempt, err))
		return err
	}, policy)

	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Transient(err, op)
}

// SetIfAbsent writes value under key with the given TTL only if key does not exist.
// value must be unique to the caller: a retry after a lost reply counts the
// claim as won when the stored value matches.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.retry(ctx, "setnx "+key, func(attempt int) error {
		var err error
		ok, err = s.Client.SetNX(ctx, s.key(key), value, ttl).Result()
		if err != nil || ok || attempt == 1 {
			return err
		}
		// An earlier attempt may have written before its reply was lost.
		current, getErr := s.Client.Get(ctx, s.key(key)).Result()
		if getErr == nil && current == value {
			ok = true
		}
		return nil
	})
	return ok, err
}

// Get returns the value under key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := s.retry(ctx, "get "+key, func(int) error {
		var err error
		val, err = s.Client.Get(ctx, s.key(key)).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.retry(ctx, "set "+key, func(int) error {
		return s.Client.Set(ctx, s.key(key), value, ttl).Err()
	})
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.retry(ctx, "del", func(int) error {
		return s.Client.Del(ctx, full...).Err()
	})
}

// CompareAndDelete deletes key only if it still holds expected. Reports whether it deleted.
func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	var deleted int64
	err := s.retry(ctx, "cad "+key, func(int) error {
		var err error
		deleted, err = compareAndDelete.Run(ctx, s.Client, []string{s.key(key)}, expected).Int64()
		return err
	})
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}

// Keys lists keys matching pattern (relative to the prefix), without the prefix.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.retry(ctx, "scan "+pattern, func(int) error {
		keys = keys[:0]
		iter := s.Client.Scan(ctx, 0, s.key(pattern), 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val()[len(s.Prefix):])
		}
		return iter.Err()
	})
	return keys, err
}

// Append pushes value onto the tail of a list.
func (s *Store) Append(ctx context.Context, key, value string) error {
	return s.retry(ctx, "rpush "+key, func(int) error {
		return s.Client.RPush(ctx, s.key(key), value).Err()
	})
}

func (s *Store) List(ctx context.Context, key string) ([]string, error) {
	var vals []string
	err := s.retry(ctx, "lrange "+key, func(int) error {
		var err error
		vals, err = s.Client.LRange(ctx, s.key(key), 0, -1).Result()
		return err
	})
	return vals, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}
