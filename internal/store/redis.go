package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const changeChannel = "collab:changes"

// RedisStore is the multi-process SharedStateStore backend. Values live
// under plain redis keys; change notification rides a pub/sub channel
// whose messages carry only the changed key. Pub/sub delivery is fire and
// forget, so a sibling process that misses a message simply works from a
// stale read until the next change — the coordination layer is built to
// tolerate exactly that.
type RedisStore struct {
	client *redis.Client
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[string]map[int]func(string)
	next int

	cancel context.CancelFunc
}

func NewRedisStore(ctx context.Context, client *redis.Client, log zerolog.Logger) *RedisStore {
	listenCtx, cancel := context.WithCancel(ctx)
	s := &RedisStore{
		client: client,
		log:    log,
		subs:   make(map[string]map[int]func(string)),
		cancel: cancel,
	}
	go s.listen(listenCtx)
	return s
}

// Close stops the notification listener. Pending key data is untouched.
func (s *RedisStore) Close() {
	s.cancel()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return err
	}

	// Local subscribers are told synchronously; siblings hear about it
	// whenever pub/sub delivers. Publish failure is logged, not returned:
	// the write itself succeeded.
	s.dispatch(key)
	if err := s.client.Publish(ctx, changeChannel, key).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("change publish failed")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Subscribe(key string, fn func(key string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(string))
	}
	id := s.next
	s.next++
	s.subs[key][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
	}
}

func (s *RedisStore) dispatch(key string) {
	s.mu.Lock()
	var listeners []func(string)
	for _, fn := range s.subs[key] {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(key)
	}
}

func (s *RedisStore) listen(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		sub := s.client.Subscribe(ctx, changeChannel)
		ch := sub.Channel()

		for msg := range ch {
			s.dispatch(msg.Payload)
		}

		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}

		s.log.Warn().Msg("change subscription dropped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
