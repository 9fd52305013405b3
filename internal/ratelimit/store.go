package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const storeShards = 64

// entry holds per-key mutable limiter state. Exactly one of the algorithm
// sections is used per key, selected by the rule embedded in the key.
type entry struct {
	mu      sync.Mutex
	touched time.Time
	ttl     time.Duration

	// token bucket
	tokens       int
	nextRefillAt time.Time

	// sliding window
	stamps []time.Time

	// fixed window
	windowID int64
	count    int
}

type storeShard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// StateStore owns all per-key limiter state behind sharded locks. Each engine
// instance gets its own store, so tests and tenants never share counters.
type StateStore struct {
	shards [storeShards]storeShard
}

// NewStateStore constructs an empty StateStore.
func NewStateStore() *StateStore {
	store := &StateStore{}
	for i := range store.shards {
		store.shards[i].entries = make(map[string]*entry)
	}
	return store
}

func (s *StateStore) shardFor(key string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%storeShards]
}

// acquire returns the entry for key, creating it when absent, and marks it
// as touched. ttl bounds how long the entry may sit idle before a sweep
// reclaims it.
func (s *StateStore) acquire(key string, ttl time.Duration, now time.Time) *entry {
	shard := s.shardFor(key)
	shard.mu.Lock()
	e := shard.entries[key]
	if e == nil {
		e = &entry{}
		shard.entries[key] = e
	}
	e.touched = now
	if ttl > e.ttl {
		e.ttl = ttl
	}
	shard.mu.Unlock()
	return e
}

// Len reports the number of live entries.
func (s *StateStore) Len() int {
	total := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// Sweep removes entries idle past their ttl and reports how many it removed.
func (s *StateStore) Sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for key, e := range shard.entries {
			if e.ttl > 0 && now.Sub(e.touched) > e.ttl {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Remove deletes all state for an identifier, optionally narrowed to one
// scope. It backs the operator-driven unblock path.
func (s *StateStore) Remove(scope Scope, identifier string) int {
	if identifier == "" {
		return 0
	}
	removed := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for key := range shard.entries {
			if KeyMatches(key, scope, identifier) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
