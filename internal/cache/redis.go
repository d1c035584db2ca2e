package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore is a Store backed by Redis. Keys are namespaced with Prefix.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "cache: ping redis %s", addr)
	}
	return &RedisStore{Client: client, Prefix: prefix}, nil
}

func (s *RedisStore) key(k string) string {
	return s.Prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.Client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: redis get %s", key)
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.Client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return eris.Wrapf(err, "cache: redis set %s", key)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.Client.Del(ctx, s.key(key)).Err(); err != nil {
		return eris.Wrapf(err, "cache: redis delete %s", key)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.Client.Close()
}
