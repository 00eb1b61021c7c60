package datasvc

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const defaultCacheShards = 16

// CacheEntry is one cached payload with its lifetime bounds.
type CacheEntry struct {
	Data      any
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry's TTL has elapsed.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheStore is a sharded in-memory key/value store with per-entry TTL.
// It distinguishes a fresh read (Get) from a stale read (GetStale) so the
// facade can serve expired entries on the stale-while-revalidate path
// without evicting them.
type CacheStore struct {
	shards    []*cacheShard
	numShards int
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewCacheStore creates an empty sharded cache store.
func NewCacheStore() *CacheStore {
	shards := make([]*cacheShard, defaultCacheShards)
	for i := range shards {
		shards[i] = &cacheShard{store: make(map[string]*CacheEntry)}
	}
	return &CacheStore{shards: shards, numShards: defaultCacheShards}
}

func (c *CacheStore) getShard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(c.numShards)]
}

// Get returns a fresh entry. An absent key is a miss; an expired entry is
// a miss and is evicted as a side effect.
func (c *CacheStore) Get(key string) (*CacheEntry, bool) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, exists := shard.store[key]
	if !exists {
		return nil, false
	}
	if entry.Expired(time.Now()) {
		delete(shard.store, key)
		return nil, false
	}
	return entry, true
}

// GetStale returns an entry even when expired, without evicting it. Used
// only by the stale-while-revalidate path so the expired payload can still
// be served while a background refresh runs.
func (c *CacheStore) GetStale(key string) (*CacheEntry, bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, exists := shard.store[key]
	return entry, exists
}

// Put unconditionally overwrites the entry for key. Last writer by
// completion order wins.
func (c *CacheStore) Put(key string, data any, ttl time.Duration) {
	now := time.Now()
	entry := &CacheEntry{
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	shard := c.getShard(key)
	shard.mu.Lock()
	shard.store[key] = entry
	shard.mu.Unlock()
}

// Delete removes a single entry.
func (c *CacheStore) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	delete(shard.store, key)
	shard.mu.Unlock()
}

// InvalidatePrefix removes every entry whose key starts with prefix.
// Cache keys begin with the endpoint's resolved URL, so passing that URL
// wipes all cached reads for the endpoint after a write.
func (c *CacheStore) InvalidatePrefix(prefix string) int {
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key := range shard.store {
			if strings.HasPrefix(key, prefix) {
				delete(shard.store, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Len returns the current number of entries across all shards.
func (c *CacheStore) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// Clear removes all entries.
func (c *CacheStore) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}
