// Package cache provides a small TTL cache fronted by an in-process map and
// mirrored to Redis, used by the embedding cache (C1), LLM response cache
// (C3), conversation session mirror (C6), and pipeline response cache (C13).
// Redis is a best-effort accelerator: a miss or error there never fails the
// caller, it just falls through to computing the value fresh.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Store is a two-tier (local map + optional Redis) TTL cache of raw bytes.
type Store struct {
	mu     sync.RWMutex
	local  map[string]entry
	rdb    *redis.Client
	prefix string
}

type entry struct {
	value   []byte
	expires time.Time
}

// New constructs a Store. rdb may be nil, in which case only the local map
// is used (the pattern the teacher falls back to when no DSN is configured).
func New(rdb *redis.Client, prefix string) *Store {
	return &Store{local: make(map[string]entry), rdb: rdb, prefix: prefix}
}

// NewRedisClient builds a *redis.Client from address/password/db, or returns
// nil if addr is empty.
func NewRedisClient(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (s *Store) key(k string) string { return s.prefix + ":" + k }

// Get returns the cached bytes for k, reporting whether they were present
// and still fresh.
func (s *Store) Get(ctx context.Context, k string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.local[k]
	s.mu.RUnlock()
	if ok {
		if time.Now().Before(e.expires) {
			return e.value, true
		}
		s.mu.Lock()
		delete(s.local, k)
		s.mu.Unlock()
	}
	if s.rdb == nil {
		return nil, false
	}
	b, err := s.rdb.Get(ctx, s.key(k)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", k).Msg("cache redis get failed")
		}
		return nil, false
	}
	return b, true
}

// Set stores b under k for ttl, in both tiers.
func (s *Store) Set(ctx context.Context, k string, b []byte, ttl time.Duration) {
	s.mu.Lock()
	s.local[k] = entry{value: b, expires: time.Now().Add(ttl)}
	s.mu.Unlock()
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, s.key(k), b, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", k).Msg("cache redis set failed")
	}
}

// GetJSON unmarshals a cached JSON value into dst, returning whether it hit.
func (s *Store) GetJSON(ctx context.Context, k string, dst any) bool {
	b, ok := s.Get(ctx, k)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false
	}
	return true
}

// SetJSON marshals v and stores it under k for ttl.
func (s *Store) SetJSON(ctx context.Context, k string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.Set(ctx, k, b, ttl)
}

// Delete removes k from both tiers.
func (s *Store) Delete(ctx context.Context, k string) {
	s.mu.Lock()
	delete(s.local, k)
	s.mu.Unlock()
	if s.rdb != nil {
		_ = s.rdb.Del(ctx, s.key(k)).Err()
	}
}
