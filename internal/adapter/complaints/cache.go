package complaints

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/citizenlink/heatmap-service/internal/domain"
	"github.com/citizenlink/heatmap-service/internal/observability"
)

// CachedTaxonomy wraps a TaxonomySource with an in-memory LRU cache. Entries
// expire after a TTL so upstream taxonomy edits show up without a restart.
type CachedTaxonomy struct {
	inner         TaxonomySource
	metrics       *observability.Metrics
	categories    *lruCache[[]domain.Category]
	subcategories *lruCache[[]domain.Subcategory]
	departments   *lruCache[[]domain.Department]
}

// NewCachedTaxonomy creates a cache decorator around a taxonomy source.
// A ttl <= 0 keeps entries until evicted. A nil clock uses real time.
func NewCachedTaxonomy(inner TaxonomySource, maxEntries int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedTaxonomy {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedTaxonomy{
		inner:         inner,
		metrics:       metrics,
		categories:    newLRUCache[[]domain.Category](1, ttl, clock),
		subcategories: newLRUCache[[]domain.Subcategory](maxEntries, ttl, clock),
		departments:   newLRUCache[[]domain.Department](maxEntries, ttl, clock),
	}
}

func (c *CachedTaxonomy) Categories(ctx context.Context) ([]domain.Category, error) {
	return cached(c, c.categories, "categories", func() ([]domain.Category, error) {
		return c.inner.Categories(ctx)
	})
}

func (c *CachedTaxonomy) Subcategories(ctx context.Context, categoryID string) ([]domain.Subcategory, error) {
	return cached(c, c.subcategories, categoryID, func() ([]domain.Subcategory, error) {
		return c.inner.Subcategories(ctx, categoryID)
	})
}

func (c *CachedTaxonomy) Departments(ctx context.Context, subcategoryID string) ([]domain.Department, error) {
	return cached(c, c.departments, subcategoryID, func() ([]domain.Department, error) {
		return c.inner.Departments(ctx, subcategoryID)
	})
}

// Tree assembles the category tree through the cache.
func (c *CachedTaxonomy) Tree(ctx context.Context) ([]domain.Category, error) {
	return Taxonomy(ctx, c)
}

// cached returns a copy so callers may fill in nested fields freely.
func cached[T any](c *CachedTaxonomy, cache *lruCache[[]T], key string, load func() ([]T, error)) ([]T, error) {
	if v, ok := cache.get(key); ok {
		c.metrics.TaxonomyCache.WithLabelValues("hit").Inc()
		return append([]T(nil), v...), nil
	}
	c.metrics.TaxonomyCache.WithLabelValues("miss").Inc()

	v, err := load()
	if err != nil {
		return nil, err
	}
	// Only cache non-empty results so a taxonomy still being set up is re-read.
	if len(v) > 0 {
		cache.put(key, append([]T(nil), v...))
	}
	return v, nil
}

// lruCache is a simple thread-safe LRU cache with optional expiry.
type lruCache[V any] struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time // zero when the cache has no ttl
	prev      *entry[V]
	next      *entry[V]
}

func newLRUCache[V any](maxEntries int, ttl time.Duration, clock clockwork.Clock) *lruCache[V] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &lruCache[V]{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.remove(e)
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.clock.Now().Add(c.ttl)
	}

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value, expiresAt: expiresAt}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
