// Package cache keeps a bounded set of open per-principal index handles.
// When full, the least frequently used handle is evicted and closed.
package cache

import (
	"container/heap"
	"io"
	"log/slog"
	"sync"

	"github.com/blevesearch/bleve/v2/mapping"
	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// DefaultCapacity is the number of open handles kept when none is configured.
const DefaultCapacity = 64

// Handle is an open index handle that can hand out extra references.
// Retain must return a reference that stays usable after the original is
// closed.
type Handle[H any] interface {
	io.Closer
	Retain() H
}

// Opener opens or creates the index named key with mapping m.
type Opener[H any] func(key string, m mapping.IndexMapping) (H, error)

// SchemaFunc supplies the mapping for a new index. ok=false means the
// content type is unknown and nothing must be opened.
type SchemaFunc func() (m mapping.IndexMapping, ok bool)

// EvictFunc is called, outside the cache lock, for every handle leaving the
// cache.
type EvictFunc[H any] func(key string, h H)

// Stats is a snapshot of cache counters.
type Stats struct {
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache maps index keys to open handles with LFU eviction.
type Cache[H Handle[H]] struct {
	capacity int
	open     Opener[H]
	onEvict  EvictFunc[H]
	group    singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry[H]
	order   lfuHeap[H]
	seq     uint64
	stats   Stats
}

// Option configures a Cache.
type Option[H Handle[H]] func(*Cache[H])

// WithEvictCallback replaces the default eviction callback, which closes
// the handle and logs any error.
func WithEvictCallback[H Handle[H]](fn EvictFunc[H]) Option[H] {
	return func(c *Cache[H]) {
		c.onEvict = fn
	}
}

// New creates a cache holding at most capacity handles.
func New[H Handle[H]](capacity int, open Opener[H], opts ...Option[H]) *Cache[H] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[H]{
		capacity: capacity,
		open:     open,
		entries:  make(map[string]*entry[H]),
	}
	c.onEvict = closeHandle[H]
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func closeHandle[H Handle[H]](key string, h H) {
	if err := h.Close(); err != nil {
		slog.Warn("index_handle_close_failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

type noSchema struct{}

func (noSchema) Error() string { return "no schema" }

// GetOrCreate returns a reference to the cached handle for key, opening the
// index when it is not cached. The caller owns the returned reference and
// must close it. ok is false, and nothing is cached, when schema reports an
// unknown type. Concurrent callers for one key open the index once.
func (c *Cache[H]) GetOrCreate(key string, schema SchemaFunc) (h H, ok bool, err error) {
	var zero H
	countMiss := true
	for {
		if h, found := c.lookup(key, countMiss); found {
			return h, true, nil
		}
		countMiss = false

		_, err, _ := c.group.Do(key, func() (interface{}, error) {
			if c.Contains(key) {
				return nil, nil
			}
			m, ok := schema()
			if !ok {
				return nil, noSchema{}
			}
			opened, err := c.open(key, m)
			if err != nil {
				return nil, err
			}
			c.insert(key, opened)
			return nil, nil
		})
		if err != nil {
			if _, unknown := err.(noSchema); unknown {
				return zero, false, nil
			}
			return zero, false, err
		}
	}
}

// lookup returns a retained reference on a hit.
func (c *Cache[H]) lookup(key string, countMiss bool) (H, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero H
		if countMiss {
			c.stats.Misses++
		}
		return zero, false
	}
	e.hits++
	heap.Fix(&c.order, e.pos)
	c.stats.Hits++
	return e.handle.Retain(), true
}

// insert stores h, evicting one entry first if the cache is full.
func (c *Cache[H]) insert(key string, h H) {
	c.mu.Lock()
	var victim *entry[H]
	if len(c.entries) >= c.capacity {
		victim = heap.Pop(&c.order).(*entry[H])
		delete(c.entries, victim.key)
		c.stats.Evictions++
	}
	c.seq++
	e := &entry[H]{key: key, handle: h, seq: c.seq}
	c.entries[key] = e
	heap.Push(&c.order, e)
	c.mu.Unlock()

	if victim != nil {
		slog.Debug("index_handle_evicted",
			slog.String("key", victim.key),
			slog.Uint64("hits", victim.hits))
		c.onEvict(victim.key, victim.handle)
	}
}

// Remove evicts key and closes its handle. It reports whether key was cached.
func (c *Cache[H]) Remove(key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		heap.Remove(&c.order, e.pos)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		c.onEvict(key, e.handle)
	}
	return ok
}

// Contains reports whether key is cached without counting an access.
func (c *Cache[H]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached handles.
func (c *Cache[H]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[H]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Len = len(c.entries)
	s.Capacity = c.capacity
	return s
}

// Close evicts every handle.
func (c *Cache[H]) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry[H])
	c.order = nil
	c.mu.Unlock()

	var errs []error
	for key, e := range entries {
		if err := e.handle.Close(); err != nil {
			errs = append(errs, err)
			slog.Warn("index_handle_close_failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}
	return errors.Join(errs...)
}
