package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Entry is an immutable cached value. Stores replace entries, they never
// update one in place.
type Entry[V any] struct {
	Value     V             `json:"value"`
	FetchedAt time.Time     `json:"fetchedAt"`
	TTL       time.Duration `json:"ttl"`
}

// Live reports whether the entry is younger than ttl at now
func (e Entry[V]) Live(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) < ttl
}

// Store is the backing map of a Cache
type Store[V any] interface {
	Get(ctx context.Context, key string) (Entry[V], bool, error)
	Set(ctx context.Context, key string, e Entry[V]) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps entries in process
type MemoryStore[V any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[V]
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{entries: make(map[string]*Entry[V])}
}

func (s *MemoryStore[V]) Get(_ context.Context, key string) (Entry[V], bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry[V]{}, false, nil
	}
	return *e, true, nil
}

func (s *MemoryStore[V]) Set(_ context.Context, key string, e Entry[V]) error {
	s.mu.Lock()
	s.entries[key] = &e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (s *MemoryStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep drops entries that outlived their own TTL and returns how many went
func (s *MemoryStore[V]) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if !e.Live(now, e.TTL) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// RedisStore shares entries between replicas through Redis
type RedisStore[V any] struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store keeping JSON entries under prefix:key. Redis
// expires each key after its entry TTL.
func NewRedisStore[V any](client *redis.Client, prefix string) *RedisStore[V] {
	return &RedisStore[V]{client: client, prefix: prefix}
}

func (s *RedisStore[V]) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore[V]) Get(ctx context.Context, key string) (Entry[V], bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry[V]{}, false, nil
	}
	if err != nil {
		return Entry[V]{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var e Entry[V]
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry[V]{}, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return e, true, nil
}

func (s *RedisStore[V]) Set(ctx context.Context, key string, e Entry[V]) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, e.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore[V]) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
