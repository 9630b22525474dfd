// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

// Package dedup implements the per-address duplicate-detection cache: a
// bounded mapping from producer-supplied deduplication IDs to insertion
// markers with ring-buffer eviction (oldest insert evicted first).
package dedup

import (
	"fmt"
	"sync"
)

// DefaultCacheSize is the per-address ID cache capacity when not configured.
const DefaultCacheSize = 2000

// Store persists cache insertions so that a restored cache replays the same
// bounded-eviction order it had live. A nil Store keeps the cache in memory
// only.
type Store interface {
	// Append records an insertion under a monotonically increasing sequence.
	Append(seq uint64, id string) error

	// Remove drops a previously appended insertion (ring eviction).
	Remove(seq uint64) error

	// Clear drops every recorded insertion.
	Clear() error

	// Replay calls fn for each surviving insertion in sequence order.
	Replay(fn func(seq uint64, id string) error) error
}

type entry struct {
	id  string
	seq uint64
}

// Cache is a bounded duplicate-ID cache for one address.
type Cache struct {
	mu sync.Mutex

	capacity int
	ids      map[string]int // id -> ring slot
	ring     []entry        // fixed capacity once full
	pos      int            // next slot to overwrite
	seq      uint64         // monotonically increasing insertion marker
	store    Store
}

// NewCache creates a cache with the given capacity, replaying persisted
// insertions from store when one is provided. capacity <= 0 uses
// DefaultCacheSize.
func NewCache(capacity int, store Store) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}

	c := &Cache{
		capacity: capacity,
		ids:      make(map[string]int),
		store:    store,
	}

	if store != nil {
		err := store.Replay(func(seq uint64, id string) error {
			if seq >= c.seq {
				c.seq = seq + 1
			}
			c.add(id, seq)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to replay duplicate ID cache: %w", err)
		}
	}

	return c, nil
}

// Check reports whether id has been seen without inserting it.
func (c *Cache) Check(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

// Insert records id as seen, evicting the oldest insertion at capacity.
func (c *Cache) Insert(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insert(id)
}

// AddIfAbsent inserts id unless already present and reports whether it was
// already there. The check and insert are atomic, closing the race between
// concurrent identical sends.
func (c *Cache) AddIfAbsent(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ids[id]; ok {
		return true, nil
	}
	return false, c.insert(id)
}

// Size returns the number of resident IDs.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Clear empties the cache atomically; a subsequent Size observes 0.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids = make(map[string]int)
	c.ring = c.ring[:0]
	c.pos = 0

	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			return fmt.Errorf("failed to clear persisted duplicate IDs: %w", err)
		}
	}
	return nil
}

func (c *Cache) insert(id string) error {
	seq := c.seq
	c.seq++

	evicted, hadEvict := c.add(id, seq)

	if c.store != nil {
		if hadEvict {
			if err := c.store.Remove(evicted); err != nil {
				return fmt.Errorf("failed to drop evicted duplicate ID: %w", err)
			}
		}
		if err := c.store.Append(seq, id); err != nil {
			return fmt.Errorf("failed to persist duplicate ID: %w", err)
		}
	}
	return nil
}

// add places id into the ring, returning the sequence of the entry it
// evicted, if any.
func (c *Cache) add(id string, seq uint64) (uint64, bool) {
	if len(c.ring) < c.capacity {
		c.ids[id] = len(c.ring)
		c.ring = append(c.ring, entry{id: id, seq: seq})
		return 0, false
	}

	old := c.ring[c.pos]
	delete(c.ids, old.id)
	c.ring[c.pos] = entry{id: id, seq: seq}
	c.ids[id] = c.pos
	c.pos = (c.pos + 1) % c.capacity
	return old.seq, true
}
