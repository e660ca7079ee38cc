// Package cache stores upstream lookups. Redis backs it when configured;
// otherwise an in-process go-cache instance is used.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a byte-oriented TTL cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Memory is an in-process Cache.
type Memory struct {
	c *gocache.Cache
}

// NewMemory returns a Memory whose expired entries are purged every
// cleanupInterval.
func NewMemory(defaultTTL, cleanupInterval time.Duration) *Memory {
	return &Memory{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

// ItemCount reports the number of live entries.
func (m *Memory) ItemCount() int { return m.c.ItemCount() }

// GetJSON decodes a cached JSON value into out. Cache errors and undecodable
// entries count as misses.
func GetJSON(ctx context.Context, c Cache, key string, out any) bool {
	if c == nil {
		return false
	}
	b, ok, err := c.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "cache get failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		slog.WarnContext(ctx, "cache entry undecodable", "key", key, "error", err)
		return false
	}
	return true
}

// SetJSON stores v as JSON. Failures are logged, never returned.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	if c == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.WarnContext(ctx, "cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.Set(ctx, key, b, ttl); err != nil {
		slog.WarnContext(ctx, "cache set failed", "key", key, "error", err)
	}
}

// Key joins parts into a namespaced cache key.
func Key(namespace string, parts ...string) string {
	key := "torvix:" + namespace
	for _, p := range parts {
		key += fmt.Sprintf(":%s", p)
	}
	return key
}
