// Package cache implements a bounded LRU cache of decoded SSTable data
// blocks, keyed by (file path, block offset). It satisfies
// sstable.BlockCache.
package cache

import (
	"container/list"
	"sync"

	"github.com/lsmgo/lsmgo/entry"
	"github.com/lsmgo/lsmgo/internal/metrics"
)

type key struct {
	path   string
	offset uint64
}

type item struct {
	key     key
	entries []entry.Entry
	bytes   int
}

// Stats reports cumulative cache activity.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int // current accounted bytes
	MaxSize   int
}

// Cache is a size-bounded LRU of decoded blocks. Eviction is by total
// accounted byte size, not entry count, since blocks vary widely in
// decoded size.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	size    int

	ll    *list.List
	items map[key]*list.Element

	hits, misses, evictions uint64

	metrics *metrics.Metrics
}

// New creates a Cache that evicts least-recently-used blocks once the
// accounted size of held entries exceeds maxSizeBytes. A non-positive
// maxSizeBytes disables the cache: Put becomes a no-op and Get always
// misses. m may be nil, in which case only the in-process Stats() are
// tracked and nothing is published to Prometheus.
func New(maxSizeBytes int, m *metrics.Metrics) *Cache {
	return &Cache{
		maxSize: maxSizeBytes,
		ll:      list.New(),
		items:   make(map[key]*list.Element),
		metrics: m,
	}
}

// Get returns the cached entries for (path, offset) and marks the block
// most recently used, or reports a miss.
func (c *Cache) Get(path string, offset uint64) ([]entry.Entry, bool) {
	if c.maxSize <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key{path, offset}]
	if !ok {
		c.misses++
		c.metrics.CacheMiss()
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	c.metrics.CacheHit()
	return el.Value.(*item).entries, true
}

// Put inserts or refreshes the decoded entries for (path, offset),
// evicting least-recently-used blocks until the cache fits within its
// size bound.
func (c *Cache) Put(path string, offset uint64, entries []entry.Entry) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{path, offset}
	sz := blockBytes(entries)

	if el, ok := c.items[k]; ok {
		c.size -= el.Value.(*item).bytes
		el.Value.(*item).entries = entries
		el.Value.(*item).bytes = sz
		c.size += sz
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&item{key: k, entries: entries, bytes: sz})
		c.items[k] = el
		c.size += sz
	}

	for c.size > c.maxSize && c.ll.Len() > 0 {
		back := c.ll.Back()
		it := back.Value.(*item)
		c.ll.Remove(back)
		delete(c.items, it.key)
		c.size -= it.bytes
		c.evictions++
		c.metrics.CacheEviction()
	}
}

// Invalidate drops every cached block belonging to path — used when an
// SSTable is deleted by compaction so a stale block can never resurface.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, el := range c.items {
		if k.path != path {
			continue
		}
		it := el.Value.(*item)
		c.ll.Remove(el)
		delete(c.items, k)
		c.size -= it.bytes
	}
}

// Stats returns a snapshot of cumulative cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.size,
		MaxSize:   c.maxSize,
	}
}

func blockBytes(entries []entry.Entry) int {
	n := 0
	for _, e := range entries {
		n += e.EstimatedSize()
	}
	return n
}
