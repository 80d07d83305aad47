package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the redis-backed store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "carevox:".
	Prefix string
}

// RedisClient is the subset of go-redis client methods used by RedisStore.
// Keeping it as an interface enables substituting a fake in tests.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// RedisStore implements Store on a redis connection.
type RedisStore struct {
	cfg    RedisConfig
	client RedisClient
}

// NewRedisStore connects to redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr: cfg.Address,
		DB:   cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", cfg.Address, err)
	}
	return &RedisStore{cfg: cfg, client: client}, nil
}

// NewRedisStoreWithClient wraps a pre-built client. Intended for tests.
func NewRedisStoreWithClient(cfg RedisConfig, client RedisClient) *RedisStore {
	return &RedisStore{cfg: cfg, client: client}
}

func (s *RedisStore) prefixed(key string) string {
	return s.cfg.Prefix + key
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefixed(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis store: get %s: %w", key, err)
	}
	return val, nil
}

// Set writes value under key with the given TTL. Zero ttl means no expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefixed(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis store: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefixed(key)).Err(); err != nil {
		return fmt.Errorf("redis store: del %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix, with the store prefix
// stripped.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	match := s.prefixed(prefix) + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return nil, fmt.Errorf("redis store: scan %s: %w", prefix, err)
		}
		for _, k := range keys {
			out = append(out, k[len(s.cfg.Prefix):])
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
