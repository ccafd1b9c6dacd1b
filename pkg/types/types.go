package types

import (
	"time"
)

// TierName identifies a layer of the cache hierarchy.
type TierName string

const (
	TierHot  TierName = "hot"
	TierWarm TierName = "warm"
	TierCold TierName = "cold"
)

// EvictionPolicy selects which entry to remove when a tier is at capacity.
type EvictionPolicy string

const (
	EvictionLRU      EvictionPolicy = "lru"
	EvictionLFU      EvictionPolicy = "lfu"
	EvictionFIFO     EvictionPolicy = "fifo"
	EvictionAdaptive EvictionPolicy = "adaptive"
)

// Valid reports whether the policy is one of the recognized values.
func (p EvictionPolicy) Valid() bool {
	switch p {
	case EvictionLRU, EvictionLFU, EvictionFIFO, EvictionAdaptive:
		return true
	}
	return false
}

// EntryMetadata carries caller-supplied metadata attached to a cache entry.
type EntryMetadata struct {
	Source       string   `json:"source,omitempty"`
	Priority     int      `json:"priority,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// HasTag reports whether the metadata carries the given tag.
func (m EntryMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the metadata tags intersect the given set.
func (m EntryMetadata) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if m.HasTag(t) {
			return true
		}
	}
	return false
}

// CacheEntry is a single stored value plus its bookkeeping.
// Entries are replaced, never mutated in place, so a concurrent reader
// observes either the old or the new entry but nothing partial.
type CacheEntry struct {
	Key          string        `json:"key"`
	Value        []byte        `json:"value"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	AccessCount  int64         `json:"access_count"`
	Size         int64         `json:"size"`
	TTL          time.Duration `json:"ttl"`
	Metadata     EntryMetadata `json:"metadata"`
}

// Expired reports whether the entry's TTL has elapsed. A zero TTL never
// expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > e.TTL
}

// LayerMetrics is the per-tier statistics snapshot. HitRate is always
// recomputed from the live hit/miss counters.
type LayerMetrics struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Size        int64   `json:"size"`
	MaxSize     int64   `json:"max_size"`
	Utilization float64 `json:"utilization"`
	Evictions   uint64  `json:"evictions"`
	Errors      uint64  `json:"errors"`
}

// CacheMetrics aggregates LayerMetrics across the hierarchy.
type CacheMetrics struct {
	Tiers       map[TierName]LayerMetrics `json:"tiers"`
	Hits        uint64                    `json:"hits"`
	Misses      uint64                    `json:"misses"`
	HitRate     float64                   `json:"hit_rate"`
	TotalSize   int64                     `json:"total_size"`
	ErrorRate   float64                   `json:"error_rate"`
	CollectedAt time.Time                 `json:"collected_at"`
}

// EventType names an observability event emitted by the cache engine.
type EventType string

const (
	EventCacheWrite        EventType = "cache-write"
	EventCacheDelete       EventType = "cache-delete"
	EventCacheInvalidate   EventType = "cache-invalidate"
	EventMetricsCollected  EventType = "metrics-collected"
	EventCacheOptimized    EventType = "cache-optimized"
	EventModelCached       EventType = "model-cached"
	EventWorkloadOptimized EventType = "ai-workload-optimized"
	EventPredictiveLoad    EventType = "predictive-loading-needed"
)

// Event is delivered to registered sinks. Sinks must not block.
type Event struct {
	Type      EventType         `json:"type"`
	Key       string            `json:"key,omitempty"`
	Keys      []string          `json:"keys,omitempty"`
	Tier      TierName          `json:"tier,omitempty"`
	Count     int               `json:"count,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// EventSink receives events. Sinks are registered at construction; there is
// no ambient global dispatch.
type EventSink func(Event)
