// Package cache provides byte-level TTL caches backed by Redis or process
// memory, plus JSON helpers for typed values.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Store is a key/value cache with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON decodes the value stored at key into out.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	b, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, eris.Wrapf(err, "cache: decode %s", key)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}
	return s.Set(ctx, key, b, ttl)
}
