package ai

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// MemoryLocation says where a cached model's weights live.
type MemoryLocation string

const (
	LocationCPU  MemoryLocation = "cpu"
	LocationGPU  MemoryLocation = "gpu"
	LocationDisk MemoryLocation = "disk"
)

// ModelEntry is the policy-side record for a cached model. The weights
// themselves live in the cache under the entry's key.
type ModelEntry struct {
	ModelID          string         `json:"model_id"`
	Version          string         `json:"version"`
	Size             int64          `json:"size"`
	LoadTime         time.Duration  `json:"load_time"`
	Popularity       float64        `json:"popularity"`
	MemoryLocation   MemoryLocation `json:"memory_location"`
	CompressionLevel int            `json:"compression_level"`
	lastUsed         time.Time
}

// ModelOptions tunes one CacheModel call.
type ModelOptions struct {
	Priority         int
	LoadTime         time.Duration
	MemoryLocation   MemoryLocation
	CompressionLevel int
}

// modelTracker holds popularity state for resident models.
type modelTracker struct {
	mu       sync.Mutex
	halfLife time.Duration
	models   map[string]*ModelEntry
}

func newModelTracker(halfLife time.Duration) *modelTracker {
	return &modelTracker{halfLife: halfLife, models: make(map[string]*ModelEntry)}
}

// touch applies exponential decay since last use, then credits the access.
func (t *modelTracker) touch(key string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.models[key]
	if !ok {
		return
	}
	entry.Popularity = t.decayed(entry, now) + 1
	entry.lastUsed = now
}

func (t *modelTracker) decayed(entry *ModelEntry, now time.Time) float64 {
	age := now.Sub(entry.lastUsed)
	if age <= 0 {
		return entry.Popularity
	}
	return entry.Popularity * math.Exp(-math.Ln2*age.Seconds()/t.halfLife.Seconds())
}

// coldestFirst returns resident models ordered by decayed popularity,
// least popular first.
func (t *modelTracker) coldestFirst(now time.Time) []*ModelEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ModelEntry, 0, len(t.models))
	for _, entry := range t.models {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.decayed(out[i], now) < t.decayed(out[j], now)
	})
	return out
}

func (t *modelTracker) add(entry *ModelEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.models[modelKey(entry.ModelID, entry.Version)] = entry
}

// take removes the tracked entry and returns it, or nil when untracked, so
// the caller can settle the memory ledger.
func (t *modelTracker) take(key string) *ModelEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.models[key]
	if !ok {
		return nil
	}
	delete(t.models, key)
	return entry
}

func (t *modelTracker) get(key string) *ModelEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.models[key]
	if !ok {
		return nil
	}
	copied := *entry
	return &copied
}

func modelKey(id, version string) string {
	return "model:" + id + ":" + version
}

// CacheModel stores a model's weights under model:{id}:{version}. When the
// weights do not fit the memory budget, lower-popularity models are evicted
// first; if the model still does not fit, the call fails.
func (l *Layer) CacheModel(ctx context.Context, id, version string, data []byte, opts ModelOptions) error {
	if id == "" || version == "" {
		return cacheerrors.NewValidation("model id and version are required").WithComponent("ai").WithOperation("cache-model")
	}
	key := modelKey(id, version)
	size := int64(len(data))
	now := time.Now()

	// Re-caching a resident model replaces its reservation, not stacks it.
	if prev := l.models.take(key); prev != nil {
		l.memory.Release(prev.Size)
	}

	for !l.memory.Fits(size) {
		victims := l.models.coldestFirst(now)
		if len(victims) == 0 {
			return cacheerrors.Newf(cacheerrors.ErrCodeCapacityExceeded,
				"model %s (%d bytes) exceeds the memory budget", key, size).
				WithComponent("ai")
		}
		victim := victims[0]
		victimKey := modelKey(victim.ModelID, victim.Version)
		l.logger.Info("evicting model for memory pressure",
			zap.String("victim", victimKey),
			zap.Float64("popularity", victim.Popularity),
			zap.String("incoming", key))
		if err := l.client.Delete(ctx, victimKey); err != nil {
			l.logger.Warn("model eviction failed", zap.String("key", victimKey), zap.Error(err))
		}
		if removed := l.models.take(victimKey); removed != nil {
			l.memory.Release(removed.Size)
		}
	}

	if opts.MemoryLocation == "" {
		opts.MemoryLocation = LocationCPU
	}
	meta := types.EntryMetadata{
		Source:   "ai-model",
		Priority: opts.Priority,
		Tags:     []string{"model", id},
	}
	if err := l.client.Set(ctx, key, data, l.cfg.ModelTTL, meta); err != nil {
		return err
	}

	l.models.add(&ModelEntry{
		ModelID:          id,
		Version:          version,
		Size:             size,
		LoadTime:         opts.LoadTime,
		Popularity:       1,
		MemoryLocation:   opts.MemoryLocation,
		CompressionLevel: opts.CompressionLevel,
		lastUsed:         now,
	})
	l.memory.Reserve(size)

	l.emit(types.Event{
		Type:      types.EventModelCached,
		Key:       key,
		Timestamp: now,
		Details: map[string]string{
			"model":    id,
			"version":  version,
			"location": string(opts.MemoryLocation),
		},
	})
	return nil
}

// GetModel fetches a model's weights. A hit refreshes the model's
// popularity; a full miss emits a predictive-load hint so a background
// loader can fetch the weights.
func (l *Layer) GetModel(ctx context.Context, id, version string) ([]byte, error) {
	key := modelKey(id, version)
	start := time.Now()
	entry, err := l.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	l.workload.Record(WorkloadModel, entry != nil, entrySize(entry), time.Since(start))
	if entry == nil {
		// The weights expired or were deleted out from under the tracker;
		// return their reservation to the budget.
		if prev := l.models.take(key); prev != nil {
			l.memory.Release(prev.Size)
		}
		l.emit(types.Event{
			Type:      types.EventPredictiveLoad,
			Key:       key,
			Keys:      []string{key},
			Timestamp: time.Now(),
			Details:   map[string]string{"model": id},
		})
		return nil, nil
	}
	l.models.touch(key, time.Now())
	return entry.Value, nil
}

// ModelInfo returns the tracked policy record for a resident model, or nil.
func (l *Layer) ModelInfo(id, version string) *ModelEntry {
	return l.models.get(modelKey(id, version))
}

// MemoryOptimizer tracks the bytes reserved for model weights against a
// fixed budget, cross-checked against the runtime's live heap.
type MemoryOptimizer struct {
	mu       sync.Mutex
	limit    int64
	reserved int64
}

// NewMemoryOptimizer builds an optimizer with the given byte budget. A zero
// or negative limit means 4 GiB.
func NewMemoryOptimizer(limit int64) *MemoryOptimizer {
	if limit <= 0 {
		limit = 4 << 30
	}
	return &MemoryOptimizer{limit: limit}
}

// Fits reports whether size more bytes stay within the budget.
func (m *MemoryOptimizer) Fits(size int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserved+size <= m.limit
}

// Pressure estimates how loaded the process is: the larger of the tracked
// residency ratio and the runtime heap's share of the budget.
func (m *MemoryOptimizer) Pressure() float64 {
	m.mu.Lock()
	reserved := m.reserved
	limit := m.limit
	m.mu.Unlock()

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	residency := float64(reserved) / float64(limit)
	heap := float64(stats.HeapAlloc) / float64(limit)
	if heap > residency {
		return heap
	}
	return residency
}

// Reserve records size bytes as resident.
func (m *MemoryOptimizer) Reserve(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved += size
}

// Release returns size bytes to the budget.
func (m *MemoryOptimizer) Release(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved -= size
	if m.reserved < 0 {
		m.reserved = 0
	}
}

// Reserved returns the currently tracked resident bytes.
func (m *MemoryOptimizer) Reserved() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserved
}
