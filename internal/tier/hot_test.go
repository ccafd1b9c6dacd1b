package tier

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratacache/stratacache/pkg/types"
)

func newTestTier(maxEntries int, policy types.EvictionPolicy) *HotTier {
	return NewHotTier(&HotConfig{
		MaxEntries:     maxEntries,
		DefaultTTL:     time.Hour,
		EvictionPolicy: policy,
	})
}

func mustSet(t *testing.T, h *HotTier, key, value string) {
	t.Helper()
	require.NoError(t, h.Set(context.Background(), key, []byte(value), 0, types.EntryMetadata{}))
}

func get(t *testing.T, h *HotTier, key string) *types.CacheEntry {
	t.Helper()
	entry, err := h.Get(context.Background(), key)
	require.NoError(t, err)
	return entry
}

func TestNewHotTierDefaults(t *testing.T) {
	h := NewHotTier(nil)
	assert.Equal(t, 10000, h.maxEntries)
	assert.Equal(t, 5*time.Minute, h.defaultTTL)
	assert.Equal(t, types.EvictionLRU, h.policy)

	h = NewHotTier(&HotConfig{EvictionPolicy: "bogus"})
	assert.Equal(t, types.EvictionLRU, h.policy)
}

func TestSetGetRoundTrip(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	mustSet(t, h, "a", "value-a")

	entry := get(t, h, "a")
	require.NotNil(t, entry)
	assert.Equal(t, []byte("value-a"), entry.Value)
	assert.Equal(t, int64(1), entry.AccessCount)
	assert.Equal(t, int64(len("value-a")), entry.Size)
}

func TestGetAbsentIsMiss(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	entry := get(t, h, "nope")
	assert.Nil(t, entry)

	m := h.Metrics()
	assert.Equal(t, uint64(0), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
}

func TestTTLExpiry(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	require.NoError(t, h.Set(context.Background(), "a", []byte("1"), 50*time.Millisecond, types.EntryMetadata{}))

	require.NotNil(t, get(t, h, "a"))

	time.Sleep(70 * time.Millisecond)
	assert.Nil(t, get(t, h, "a"))

	m := h.Metrics()
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
}

func TestSetValidation(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	assert.Error(t, h.Set(context.Background(), "", []byte("x"), 0, types.EntryMetadata{}))
	assert.Error(t, h.Set(context.Background(), "k", []byte("x"), -time.Second, types.EntryMetadata{}))
}

func TestCapacityBound(t *testing.T) {
	h := newTestTier(3, types.EvictionLRU)
	for i := 0; i < 20; i++ {
		mustSet(t, h, fmt.Sprintf("k%d", i), "v")
		assert.LessOrEqual(t, h.Metrics().Size, int64(3))
	}
}

func TestLRUEvictionScenario(t *testing.T) {
	// set(a), set(b), get(a), set(c) with capacity 2: b is evicted.
	h := newTestTier(2, types.EvictionLRU)
	mustSet(t, h, "a", "1")
	mustSet(t, h, "b", "2")
	require.NotNil(t, get(t, h, "a"))
	mustSet(t, h, "c", "3")

	assert.NotNil(t, get(t, h, "a"))
	assert.Nil(t, get(t, h, "b"))
	assert.NotNil(t, get(t, h, "c"))
	assert.Equal(t, uint64(1), h.Metrics().Evictions)
}

func TestFIFOEviction(t *testing.T) {
	h := newTestTier(2, types.EvictionFIFO)
	mustSet(t, h, "a", "1")
	mustSet(t, h, "b", "2")
	// Accessing a must not save it under FIFO.
	require.NotNil(t, get(t, h, "a"))
	mustSet(t, h, "c", "3")

	assert.Nil(t, get(t, h, "a"))
	assert.NotNil(t, get(t, h, "b"))
	assert.NotNil(t, get(t, h, "c"))
}

func TestLFUEviction(t *testing.T) {
	h := newTestTier(2, types.EvictionLFU)
	mustSet(t, h, "a", "1")
	mustSet(t, h, "b", "2")
	// a gets two accesses, b none.
	require.NotNil(t, get(t, h, "a"))
	require.NotNil(t, get(t, h, "a"))
	mustSet(t, h, "c", "3")

	assert.NotNil(t, get(t, h, "a"))
	assert.Nil(t, get(t, h, "b"))
}

func TestAdaptiveEvictionStaysBounded(t *testing.T) {
	h := newTestTier(4, types.EvictionAdaptive)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i%8)
		mustSet(t, h, key, "v")
		_ = get(t, h, fmt.Sprintf("k%d", i%3))
	}
	assert.LessOrEqual(t, h.Metrics().Size, int64(4))
}

func TestUpdateExistingDoesNotEvict(t *testing.T) {
	h := newTestTier(2, types.EvictionLRU)
	mustSet(t, h, "a", "1")
	mustSet(t, h, "b", "2")
	mustSet(t, h, "a", "1-updated")

	assert.Equal(t, int64(2), h.Metrics().Size)
	assert.Equal(t, uint64(0), h.Metrics().Evictions)
	entry := get(t, h, "a")
	require.NotNil(t, entry)
	assert.Equal(t, []byte("1-updated"), entry.Value)
}

func TestDelete(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	mustSet(t, h, "a", "1")
	require.NoError(t, h.Delete(context.Background(), "a"))
	assert.Nil(t, get(t, h, "a"))
	// Deleting an absent key is fine.
	require.NoError(t, h.Delete(context.Background(), "a"))
}

func TestInvalidateByPattern(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	mustSet(t, h, "user:1", "a")
	mustSet(t, h, "user:2", "b")
	mustSet(t, h, "session:1", "c")

	count, err := h.Invalidate(context.Background(), "user:*", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Nil(t, get(t, h, "user:1"))
	assert.NotNil(t, get(t, h, "session:1"))
}

func TestInvalidateByTags(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	ctx := context.Background()
	require.NoError(t, h.Set(ctx, "a", []byte("1"), 0, types.EntryMetadata{Tags: []string{"t", "x"}}))
	require.NoError(t, h.Set(ctx, "b", []byte("2"), 0, types.EntryMetadata{Tags: []string{"y"}}))
	require.NoError(t, h.Set(ctx, "c", []byte("3"), 0, types.EntryMetadata{Tags: []string{"t"}}))

	count, err := h.Invalidate(ctx, "", []string{"t"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Nil(t, get(t, h, "a"))
	assert.NotNil(t, get(t, h, "b"))
	assert.Nil(t, get(t, h, "c"))
}

func TestInvalidateBadPattern(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	_, err := h.Invalidate(context.Background(), "[", nil)
	assert.Error(t, err)
}

func TestInvalidateEmptyArgsMatchNothing(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	mustSet(t, h, "a", "1")
	count, err := h.Invalidate(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.NotNil(t, get(t, h, "a"))
}

func TestCleanupRemovesExpired(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	ctx := context.Background()
	require.NoError(t, h.Set(ctx, "short", []byte("1"), 30*time.Millisecond, types.EntryMetadata{}))
	require.NoError(t, h.Set(ctx, "long", []byte("2"), time.Hour, types.EntryMetadata{}))

	time.Sleep(50 * time.Millisecond)
	count, err := h.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(1), h.Metrics().Size)
}

func TestMetricsHitRateIsLive(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	mustSet(t, h, "a", "1")

	_ = get(t, h, "a")
	_ = get(t, h, "missing")
	m := h.Metrics()
	assert.InDelta(t, 0.5, m.HitRate, 0.001)

	_ = get(t, h, "a")
	_ = get(t, h, "a")
	m = h.Metrics()
	assert.InDelta(t, 0.75, m.HitRate, 0.001)
}

func TestResizeEvictsDown(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	for i := 0; i < 10; i++ {
		mustSet(t, h, fmt.Sprintf("k%d", i), "v")
	}
	h.Resize(4)
	assert.Equal(t, int64(4), h.Metrics().Size)
	assert.Equal(t, int64(4), h.Metrics().MaxSize)
}

func TestSetDefaultTTL(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	h.SetDefaultTTL(42 * time.Second)
	assert.Equal(t, 42*time.Second, h.DefaultTTL())

	mustSet(t, h, "a", "1")
	entry := get(t, h, "a")
	require.NotNil(t, entry)
	assert.Equal(t, 42*time.Second, entry.TTL)
}

func TestConcurrentAccess(t *testing.T) {
	h := newTestTier(100, types.EvictionLRU)
	var wg sync.WaitGroup
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%150)
				if j%3 == 0 {
					_ = h.Set(ctx, key, []byte("v"), 0, types.EntryMetadata{})
				} else {
					_, _ = h.Get(ctx, key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, h.Metrics().Size, int64(100))
}

func TestGetReturnsCopy(t *testing.T) {
	h := newTestTier(10, types.EvictionLRU)
	mustSet(t, h, "a", "abc")

	entry := get(t, h, "a")
	entry.Value[0] = 'z'

	fresh := get(t, h, "a")
	assert.Equal(t, []byte("abc"), fresh.Value)
}
