// Package tier implements the in-process hot tier of the cache hierarchy.
package tier

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"

	"github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// HotConfig configures the hot tier.
type HotConfig struct {
	MaxEntries     int                  `yaml:"max_entries"`
	DefaultTTL     time.Duration        `yaml:"ttl"`
	EvictionPolicy types.EvictionPolicy `yaml:"eviction_policy"`
}

// HotTier is a thread-safe bounded in-process store with TTL and a pluggable
// eviction policy. All operations are synchronous and non-blocking; the ctx
// parameter exists only to satisfy the Tier contract.
type HotTier struct {
	mu         sync.RWMutex
	maxEntries int
	defaultTTL time.Duration
	policy     types.EvictionPolicy
	entries    map[string]*hotRecord
	order      *list.List // front = most recent (lru) or newest (fifo)

	hits      uint64
	misses    uint64
	evictions uint64
	errs      uint64

	// trailing hit/miss window driving the adaptive policy
	recentHits   int
	recentMisses int
}

type hotRecord struct {
	entry *types.CacheEntry
	elem  *list.Element
}

// NewHotTier creates a hot tier, applying defaults for zero values.
func NewHotTier(config *HotConfig) *HotTier {
	if config == nil {
		config = &HotConfig{}
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if !config.EvictionPolicy.Valid() {
		config.EvictionPolicy = types.EvictionLRU
	}

	return &HotTier{
		maxEntries: config.MaxEntries,
		defaultTTL: config.DefaultTTL,
		policy:     config.EvictionPolicy,
		entries:    make(map[string]*hotRecord),
		order:      list.New(),
	}
}

// Name implements types.Tier.
func (h *HotTier) Name() types.TierName {
	return types.TierHot
}

// Get returns the entry for key, or (nil, nil) on a miss. Expiry is enforced
// lazily here; the periodic Cleanup handles the rest.
func (h *HotTier) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.entries[key]
	if !ok {
		h.misses++
		h.recordRecent(false)
		return nil, nil
	}

	if rec.entry.Expired(time.Now()) {
		h.removeRecord(key, rec)
		h.misses++
		h.recordRecent(false)
		return nil, nil
	}

	// Replace rather than mutate so a concurrent snapshot never sees a
	// half-updated entry.
	updated := *rec.entry
	updated.LastAccessed = time.Now()
	updated.AccessCount = rec.entry.AccessCount + 1
	rec.entry = &updated

	if h.policy == types.EvictionLRU || h.policy == types.EvictionAdaptive {
		h.order.MoveToFront(rec.elem)
	}

	h.hits++
	h.recordRecent(true)

	out := updated
	out.Value = append([]byte(nil), updated.Value...)
	return &out, nil
}

// Set stores value under key. If the tier is at capacity and the key is new,
// exactly one entry is evicted first per the configured policy.
func (h *HotTier) Set(_ context.Context, key string, value []byte, ttl time.Duration, meta types.EntryMetadata) error {
	if key == "" {
		return errors.NewValidation("empty cache key").WithComponent("hot").WithOperation("set")
	}
	if ttl < 0 {
		return errors.NewValidation("negative ttl").WithComponent("hot").WithOperation("set")
	}
	if ttl == 0 {
		ttl = h.defaultTTL
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	entry := &types.CacheEntry{
		Key:          key,
		Value:        append([]byte(nil), value...),
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		Size:         int64(len(value)),
		TTL:          ttl,
		Metadata:     meta,
	}

	if rec, ok := h.entries[key]; ok {
		// A re-set renews CreatedAt, so the entry moves to the front under
		// every list-ordered policy.
		rec.entry = entry
		h.order.MoveToFront(rec.elem)
		return nil
	}

	if len(h.entries) >= h.maxEntries {
		h.evictOne()
	}

	elem := h.order.PushFront(key)
	h.entries[key] = &hotRecord{entry: entry, elem: elem}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (h *HotTier) Delete(_ context.Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec, ok := h.entries[key]; ok {
		h.order.Remove(rec.elem)
		delete(h.entries, key)
	}
	return nil
}

// Invalidate removes every entry whose key matches the glob pattern or whose
// tags intersect the given set, returning the count removed.
func (h *HotTier) Invalidate(_ context.Context, pattern string, tags []string) (int, error) {
	if pattern != "" {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return 0, errors.NewValidation("malformed invalidation pattern: " + pattern).
				WithComponent("hot").WithOperation("invalidate")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var doomed []string
	for key, rec := range h.entries {
		if matchEntry(key, rec.entry.Metadata, pattern, tags) {
			doomed = append(doomed, key)
		}
	}
	for _, key := range doomed {
		h.removeRecord(key, h.entries[key])
	}
	return len(doomed), nil
}

// Cleanup scans for and removes expired entries.
func (h *HotTier) Cleanup(_ context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	var expired []string
	for key, rec := range h.entries {
		if rec.entry.Expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		h.removeRecord(key, h.entries[key])
	}
	return len(expired), nil
}

// Metrics returns a live statistics snapshot.
func (h *HotTier) Metrics() types.LayerMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := types.LayerMetrics{
		Hits:      h.hits,
		Misses:    h.misses,
		Size:      int64(len(h.entries)),
		MaxSize:   int64(h.maxEntries),
		Evictions: h.evictions,
		Errors:    h.errs,
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}
	if m.MaxSize > 0 {
		m.Utilization = float64(m.Size) / float64(m.MaxSize)
	}
	return m
}

// Resize changes the capacity bound, evicting per policy until the tier fits.
func (h *HotTier) Resize(maxEntries int) {
	if maxEntries <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.maxEntries = maxEntries
	for len(h.entries) > h.maxEntries {
		h.evictOne()
	}
}

// SetDefaultTTL changes the TTL applied to writes that do not carry one.
// Existing entries keep the TTL they were written with.
func (h *HotTier) SetDefaultTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	h.mu.Lock()
	h.defaultTTL = ttl
	h.mu.Unlock()
}

// DefaultTTL returns the current default TTL.
func (h *HotTier) DefaultTTL() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaultTTL
}

// evictOne removes exactly one entry per the configured policy. Caller holds
// the write lock; the map is non-empty by construction.
func (h *HotTier) evictOne() {
	switch h.policy {
	case types.EvictionLRU, types.EvictionFIFO:
		h.evictListBack()
	case types.EvictionLFU:
		h.evictLeastFrequent()
	case types.EvictionAdaptive:
		// Recency-heavy when recent traffic misses a lot, frequency-heavy
		// once the working set is established.
		if h.recentHitRate() < 0.5 {
			h.evictListBack()
		} else {
			h.evictLeastFrequent()
		}
	default:
		h.evictListBack()
	}
}

func (h *HotTier) evictListBack() {
	elem := h.order.Back()
	if elem == nil {
		return
	}
	key := elem.Value.(string)
	if rec, ok := h.entries[key]; ok {
		h.removeRecord(key, rec)
		h.evictions++
	} else {
		h.order.Remove(elem)
	}
}

func (h *HotTier) evictLeastFrequent() {
	var victim string
	var victimRec *hotRecord
	for key, rec := range h.entries {
		if victimRec == nil ||
			rec.entry.AccessCount < victimRec.entry.AccessCount ||
			(rec.entry.AccessCount == victimRec.entry.AccessCount &&
				rec.entry.CreatedAt.Before(victimRec.entry.CreatedAt)) {
			victim = key
			victimRec = rec
		}
	}
	if victimRec != nil {
		h.removeRecord(victim, victimRec)
		h.evictions++
	}
}

func (h *HotTier) removeRecord(key string, rec *hotRecord) {
	h.order.Remove(rec.elem)
	delete(h.entries, key)
}

const recentWindow = 256

func (h *HotTier) recordRecent(hit bool) {
	if hit {
		h.recentHits++
	} else {
		h.recentMisses++
	}
	if h.recentHits+h.recentMisses > recentWindow {
		h.recentHits /= 2
		h.recentMisses /= 2
	}
}

func (h *HotTier) recentHitRate() float64 {
	total := h.recentHits + h.recentMisses
	if total == 0 {
		return 0
	}
	return float64(h.recentHits) / float64(total)
}

// matchEntry implements the shared invalidation predicate: glob match on key
// OR tag intersection.
func matchEntry(key string, meta types.EntryMetadata, pattern string, tags []string) bool {
	if pattern != "" {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			return true
		}
	}
	return len(tags) > 0 && meta.HasAnyTag(tags)
}
