// File: core/streaminfo/cache.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// queryCache memoizes matches_query results by query string (spec §4.4).
// Each descriptor's cache starts with a capacity of 32 entries and is resized
// only through Descriptor.SetCacheCapacity; nothing in this module applies
// tuning.MaxCachedQueries to it. When full, eviction trims
// half the cache by median last-access generation rather than evicting one
// entry at a time, trading eviction granularity for fewer sort passes under
// sustained cache pressure.
package streaminfo

import (
	"sort"
	"sync"
)

type cacheEntry struct {
	query      string
	result     bool
	lastAccess int64
}

type queryCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	capacity int
	gen      int64
}

func newQueryCache(capacity int) *queryCache {
	if capacity < 1 {
		capacity = 1
	}
	return &queryCache{entries: make(map[string]*cacheEntry, capacity), capacity: capacity}
}

func (c *queryCache) get(query string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[query]
	if !ok {
		return false, false
	}
	c.gen++
	e.lastAccess = c.gen
	return e.result, true
}

func (c *queryCache) put(query string, result bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.capacity {
		c.evictHalfLocked()
	}
	c.gen++
	c.entries[query] = &cacheEntry{query: query, result: result, lastAccess: c.gen}
}

// evictHalfLocked drops the older half of entries by last-access generation.
func (c *queryCache) evictHalfLocked() {
	all := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastAccess < all[j].lastAccess })
	drop := len(all) / 2
	if drop < 1 {
		drop = 1
	}
	for i := 0; i < drop && i < len(all); i++ {
		delete(c.entries, all[i].query)
	}
}

// reset clears the cache; called whenever the underlying XML tree mutates.
func (c *queryCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry, c.capacity)
}

func (c *queryCache) resize(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = n
	for len(c.entries) > c.capacity {
		c.evictHalfLocked()
	}
}
