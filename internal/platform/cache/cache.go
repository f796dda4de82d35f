// Package cache is the read-through cache used for doctor and patient
// listings. Entries live in fixed TTL buckets and are invalidated by key
// pattern after writes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TTL buckets.
const (
	TTLShort  = 1 * time.Minute
	TTLMedium = 5 * time.Minute
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a byte-oriented key/value store with expiry. Patterns use
// path.Match syntax ("doctors:*").
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
	Ping(ctx context.Context) error
}

// Cache namespaces keys under a prefix and adds JSON read-through on top of
// a Store. Cache failures never fail the caller; they are logged and the
// loader is used instead.
type Cache struct {
	store  Store
	prefix string
	logger zerolog.Logger
}

func New(store Store, prefix string, logger zerolog.Logger) *Cache {
	return &Cache{store: store, prefix: prefix, logger: logger}
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Key joins parts into a cache key: Key("doctors", "20", "0") = "doctors:20:0".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// GetOrLoad returns the cached value for key, or calls load, caches its
// result for ttl and returns it.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	full := c.key(key)

	if raw, err := c.store.Get(ctx, full); err == nil {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.logger.Warn().Str("key", full).Msg("discarding undecodable cache entry")
	} else if !errors.Is(err, ErrMiss) {
		c.logger.Warn().Err(err).Str("key", full).Msg("cache read failed")
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", full).Msg("cache encode failed")
		return v, nil
	}
	if err := c.store.Set(ctx, full, raw, ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", full).Msg("cache write failed")
	}
	return v, nil
}

// Invalidate drops every entry whose key matches one of patterns.
func (c *Cache) Invalidate(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := c.store.DeletePattern(ctx, c.key(p)); err != nil {
			c.logger.Warn().Err(err).Str("pattern", p).Msg("cache invalidation failed")
		}
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-memory Store with lazy expiration.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		// A Set may have replaced the entry since the read lock was released.
		if cur, ok := s.entries[key]; ok && cur == e {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrMiss
	}
	return e.data, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{data: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) DeletePattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len reports the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartCleanup periodically removes expired entries until ctx is cancelled.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				now := s.now()
				for k, v := range s.entries {
					if now.After(v.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}()
}
