package raster

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// CacheStats is a point-in-time view of the chunk cache.
type CacheStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Entries  int   `json:"entries"`
	Bytes    int64 `json:"bytes"`
	Capacity int64 `json:"capacity"`
}

type chunkID struct {
	i, j int
}

// chunkCache is an LRU of decoded chunks bounded by their in-memory size.
// Cached slices are shared and must not be modified.
type chunkCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[chunkID]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key   chunkID
	value []float32
}

func newChunkCache(capacity int64) *chunkCache {
	return &chunkCache{
		capacity:  capacity,
		items:     make(map[chunkID]*list.Element),
		evictList: list.New(),
	}
}

func entrySize(v []float32) int64 {
	return int64(len(v)) * 4
}

func (c *chunkCache) Get(key chunkID) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*cacheEntry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// peek is Get without touching recency or counters.
func (c *chunkCache) peek(key chunkID) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.items[key]; ok {
		return ent.Value.(*cacheEntry).value, true
	}
	return nil, false
}

func (c *chunkCache) Set(key chunkID, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	itemSize := entrySize(v)
	if itemSize > c.capacity {
		return
	}
	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		c.size += itemSize - entrySize(ent.Value.(*cacheEntry).value)
		ent.Value.(*cacheEntry).value = v
		c.evict()
		return
	}

	for c.size+itemSize > c.capacity {
		if !c.removeOldest() {
			break
		}
	}
	c.items[key] = c.evictList.PushFront(&cacheEntry{key, v})
	c.size += itemSize
}

func (c *chunkCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Entries:  len(c.items),
		Bytes:    c.size,
		Capacity: c.capacity,
	}
}

func (c *chunkCache) evict() {
	for c.size > c.capacity {
		if !c.removeOldest() {
			return
		}
	}
}

func (c *chunkCache) removeOldest() bool {
	ent := c.evictList.Back()
	if ent == nil {
		return false
	}
	c.evictList.Remove(ent)
	e := ent.Value.(*cacheEntry)
	delete(c.items, e.key)
	c.size -= entrySize(e.value)
	return true
}
