package redis

import (
	"context"
	"fmt"
	"strings"
)

const expiredChannel = "__keyevent@%d__:expired"

// EnableExpiryEvents turns on keyspace notifications for expired keys.
func (s *Store) EnableExpiryEvents(ctx context.Context) error {
	return s.Client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
}

// SubscribeExpired calls fn with the unprefixed key of every expired key that
// starts with keyPrefix. It blocks until ctx is done.
func (s *Store) SubscribeExpired(ctx context.Context, keyPrefix string, fn func(key string)) error {
	pubsub := s.Client.PSubscribe(ctx, fmt.Sprintf(expiredChannel, s.Client.Options().DB))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	s.Logger.Info("REDIS", fmt.Sprintf("Subscribed to expired key events (DB %d)", s.Client.Options().DB))

	full := s.key(keyPrefix)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if strings.HasPrefix(msg.Payload, full) {
				fn(strings.TrimPrefix(msg.Payload, s.Prefix))
			}
		}
	}
}
