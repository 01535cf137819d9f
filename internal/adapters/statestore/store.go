// Package statestore adapts a Redis server as the shared state store used for
// dispatcher locks, the dispatch slot counter, the round-robin offset and the
// active-task marker.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/infrastructure/config"
)

// Store is the key/value contract the sync core depends on. Values are
// strings; TTLs are millisecond-grained. No operation blocks longer than the
// configured short timeout: when the store is down, callers fail fast and
// treat the current tick as a no-op.
type Store interface {
	// Add is an atomic set-if-absent. Returns false when the key exists.
	// Foundation of every named lock.
	Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)

	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes a value. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Touch extends a key's TTL without changing its value.
	Touch(ctx context.Context, key string, ttl time.Duration) error
}

// RedisStore implements Store on go-redis with a namespace prefix and a hard
// per-operation timeout.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	opTimeout time.Duration
}

// NewRedisStore creates a store from configuration.
func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	var client redis.UniversalClient
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	return NewRedisStoreWithClient(client, cfg.Namespace, cfg.OpTimeout), nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests with
// miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, namespace string, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &RedisStore{
		client:    client,
		namespace: namespace,
		opTimeout: opTimeout,
	}
}

func (s *RedisStore) key(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func wrapErr(op string, err error) error {
	return fmt.Errorf("state store %s: %w: %v", op, shared.ErrStoreUnavailable, err)
}

// Add is an atomic set-if-absent (SET NX PX).
func (s *RedisStore) Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, wrapErr("add", err)
	}
	return ok, nil
}

// Incr atomically increments a counter, creating it at 0 first.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, wrapErr("incr", err)
	}
	return n, nil
}

// Decr atomically decrements a counter. Unbounded below; callers repair.
func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.client.Decr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, wrapErr("decr", err)
	}
	return n, nil
}

// Get returns the value and whether the key exists.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get", err)
	}
	return val, true, nil
}

// Set writes a value; zero ttl persists the key.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return wrapErr("set", err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return wrapErr("delete", err)
	}
	return nil
}

// Touch extends a key's TTL without changing its value.
func (s *RedisStore) Touch(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.PExpire(ctx, s.key(key), ttl).Err(); err != nil {
		return wrapErr("touch", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
