package complaints

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citizenlink/heatmap-service/internal/domain"
	"github.com/citizenlink/heatmap-service/internal/observability"
)

// --- mock for cache tests ---

type countingTaxonomy struct {
	categoryCalls    int
	subcategoryCalls int
	departmentCalls  int
	categories       []domain.Category
	subcategories    []domain.Subcategory
	err              error
}

func (m *countingTaxonomy) Categories(_ context.Context) ([]domain.Category, error) {
	m.categoryCalls++
	return m.categories, m.err
}

func (m *countingTaxonomy) Subcategories(_ context.Context, _ string) ([]domain.Subcategory, error) {
	m.subcategoryCalls++
	return m.subcategories, m.err
}

func (m *countingTaxonomy) Departments(_ context.Context, id string) ([]domain.Department, error) {
	m.departmentCalls++
	return []domain.Department{{ID: id}}, m.err
}

// --- CachedTaxonomy tests ---

func TestCachedTaxonomy_CacheHit(t *testing.T) {
	inner := &countingTaxonomy{categories: []domain.Category{{ID: "infra", Name: "Infrastructure"}}}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedTaxonomy(inner, 10, 0, nil, metrics)

	c1, err := cached.Categories(context.Background())
	require.NoError(t, err)
	c2, err := cached.Categories(context.Background())
	require.NoError(t, err)

	assert.Equal(t, c1, c2)
	assert.Equal(t, 1, inner.categoryCalls, "should only call inner once")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TaxonomyCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TaxonomyCache.WithLabelValues("miss")), 0)
}

func TestCachedTaxonomy_KeyedByID(t *testing.T) {
	inner := &countingTaxonomy{}
	cached := NewCachedTaxonomy(inner, 10, 0, nil, observability.NewMetricsForTesting())

	for _, id := range []string{"a", "b", "a"} {
		_, err := cached.Departments(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, inner.departmentCalls)
}

func TestCachedTaxonomy_EmptyNotCached(t *testing.T) {
	inner := &countingTaxonomy{}
	cached := NewCachedTaxonomy(inner, 10, 0, nil, observability.NewMetricsForTesting())

	_, _ = cached.Subcategories(context.Background(), "infra")
	_, _ = cached.Subcategories(context.Background(), "infra")
	assert.Equal(t, 2, inner.subcategoryCalls)
}

func TestCachedTaxonomy_ErrorNotCached(t *testing.T) {
	inner := &countingTaxonomy{categories: []domain.Category{{ID: "x"}}, err: errors.New("timeout")}
	cached := NewCachedTaxonomy(inner, 10, 0, nil, observability.NewMetricsForTesting())

	_, err := cached.Categories(context.Background())
	require.Error(t, err)
	_, err = cached.Categories(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, inner.categoryCalls)
}

func TestCachedTaxonomy_CallersCannotMutateCache(t *testing.T) {
	inner := &countingTaxonomy{categories: []domain.Category{{ID: "infra"}}}
	cached := NewCachedTaxonomy(inner, 10, 0, nil, observability.NewMetricsForTesting())

	cats, err := cached.Tree(context.Background())
	require.NoError(t, err)
	cats[0].Name = "changed"

	again, err := cached.Categories(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again[0].Name)
}

func TestCachedTaxonomy_EntriesExpire(t *testing.T) {
	inner := &countingTaxonomy{categories: []domain.Category{{ID: "infra", Name: "Infrastructure"}}}
	clock := clockwork.NewFakeClock()
	cached := NewCachedTaxonomy(inner, 10, 10*time.Minute, clock, observability.NewMetricsForTesting())
	ctx := context.Background()

	_, err := cached.Categories(ctx)
	require.NoError(t, err)
	clock.Advance(9 * time.Minute)
	_, err = cached.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.categoryCalls)

	inner.categories = []domain.Category{{ID: "infra", Name: "Public Works"}}
	clock.Advance(time.Minute)
	cats, err := cached.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.categoryCalls)
	assert.Equal(t, "Public Works", cats[0].Name)
}

// --- LRU tests ---

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache[int](2, 0, nil)
	c.put("a", 1)
	c.put("b", 2)
	c.put("c", 3) // should evict "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should be evicted")

	v, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, c.size())
}

func TestLRUCache_AccessRefreshesEntry(t *testing.T) {
	c := newLRUCache[string](2, 0, nil)
	c.put("a", "1")
	c.put("b", "2")
	c.get("a")      // a is now most recently used
	c.put("c", "3") // should evict "b"

	_, ok := c.get("b")
	assert.False(t, ok)
	_, ok = c.get("a")
	assert.True(t, ok)
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache[int](2, 0, nil)
	c.put("a", 1)
	c.put("a", 10)

	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, c.size())
}

func TestLRUCache_ExpiredEntryIsDropped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newLRUCache[int](2, time.Second, clock)
	c.put("a", 1)

	clock.Advance(999 * time.Millisecond)
	_, ok := c.get("a")
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok = c.get("a")
	assert.False(t, ok)
	assert.Zero(t, c.size())

	c.put("a", 2)
	clock.Advance(500 * time.Millisecond)
	c.put("a", 3) // rewrite restarts the ttl
	clock.Advance(700 * time.Millisecond)
	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}
