// ABOUTME: Epoch-scoped, size-limited cache of feature access decisions
// ABOUTME: An entry is only served for the AuthState epoch it was computed in

package permission

import (
	"container/list"
	"sync"

	"github.com/2389/coven-session/internal/role"
)

const defaultCacheSize = 128

type cacheEntry struct {
	result  Result
	element *list.Element
}

// resultCache holds the decisions for a single epoch. Moving to a newer
// epoch drops every entry; results for an older epoch are discarded.
// Uses a doubly-linked list in recency order for O(1) LRU eviction.
type resultCache struct {
	mu      sync.Mutex
	epoch   uint64
	entries map[role.Feature]*cacheEntry
	order   *list.List // least recently used at front
	maxSize int
}

func newResultCache(maxSize int) *resultCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &resultCache{
		entries: make(map[role.Feature]*cacheEntry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// get returns the cached decision for feature in epoch.
func (c *resultCache) get(epoch uint64, feature role.Feature) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return Result{}, false
	}
	entry, ok := c.entries[feature]
	if !ok {
		return Result{}, false
	}
	c.order.MoveToBack(entry.element)
	return entry.result, true
}

// put stores r, which was computed in r.Epoch.
func (c *resultCache) put(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case r.Epoch < c.epoch:
		return
	case r.Epoch > c.epoch:
		c.resetLocked(r.Epoch)
	}

	if entry, exists := c.entries[r.Feature]; exists {
		entry.result = r
		c.order.MoveToBack(entry.element)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[r.Feature] = &cacheEntry{result: r, element: c.order.PushBack(r.Feature)}
}

// reset drops every entry and moves the cache to epoch. An older epoch is
// ignored so a late notification cannot roll the cache back.
func (c *resultCache) reset(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch < c.epoch {
		return
	}
	c.resetLocked(epoch)
}

func (c *resultCache) resetLocked(epoch uint64) {
	c.epoch = epoch
	clear(c.entries)
	c.order.Init()
}

// evictOldest drops the least recently used entry. Callers hold mu.
func (c *resultCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	feature, _ := front.Value.(role.Feature)
	c.order.Remove(front)
	delete(c.entries, feature)
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
