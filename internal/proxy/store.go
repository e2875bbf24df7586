package proxy

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"webharvest/internal/config"
)

// Store persists pool definitions and per-proxy stats across restarts.
// The rotator's in-memory view stays authoritative while the process
// runs; the store is only read at startup.
type Store interface {
	GetPool(ctx context.Context, name string) ([]byte, error)
	SetPool(ctx context.Context, name string, data []byte) error
	DeletePool(ctx context.Context, name string) error
	ListPools(ctx context.Context) ([]string, error)

	GetStats(ctx context.Context, proxyID string) ([]byte, error)
	SetStats(ctx context.Context, proxyID string, data []byte) error

	Close() error
}

const (
	poolKeyPrefix  = "proxy_pool:"
	statsKeyPrefix = "proxy_stats:"
)

// RedisStore implements Store on top of Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store from the service config
func NewRedisStore(cfg *config.Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	opts.DB = cfg.Redis.DB
	opts.DialTimeout = cfg.Redis.Timeout
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// Ping tests the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) GetPool(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, poolKeyPrefix+name).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

func (s *RedisStore) SetPool(ctx context.Context, name string, data []byte) error {
	return s.client.Set(ctx, poolKeyPrefix+name, data, 0).Err()
}

func (s *RedisStore) DeletePool(ctx context.Context, name string) error {
	return s.client.Del(ctx, poolKeyPrefix+name).Err()
}

func (s *RedisStore) ListPools(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, poolKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key[len(poolKeyPrefix):])
	}
	return names, nil
}

func (s *RedisStore) GetStats(ctx context.Context, proxyID string) ([]byte, error) {
	data, err := s.client.Get(ctx, statsKeyPrefix+proxyID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

func (s *RedisStore) SetStats(ctx context.Context, proxyID string, data []byte) error {
	return s.client.Set(ctx, statsKeyPrefix+proxyID, data, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
