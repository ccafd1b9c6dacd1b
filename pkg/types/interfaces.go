package types

import (
	"context"
	"time"
)

// Tier is the uniform contract every cache layer implements. The hot tier is
// in-process and non-blocking; warm and cold tiers are remote and must honor
// context deadlines.
type Tier interface {
	// Name returns the tier's position in the hierarchy.
	Name() TierName

	// Get returns the entry for key, or (nil, nil) on a miss. An expired
	// entry is a miss. A non-nil error means the tier itself failed.
	Get(ctx context.Context, key string) (*CacheEntry, error)

	// Set stores value under key, evicting per the tier's policy if at
	// capacity. A zero ttl means the tier's default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, meta EntryMetadata) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Invalidate removes every entry whose key matches the glob pattern OR
	// whose tags intersect the given set, returning the count removed.
	// An empty pattern matches nothing; empty tags match nothing.
	Invalidate(ctx context.Context, pattern string, tags []string) (int, error)

	// Cleanup purges expired entries, returning the count removed.
	Cleanup(ctx context.Context) (int, error)

	// Metrics returns a snapshot of the tier's statistics.
	Metrics() LayerMetrics
}

// Loader fetches the authoritative value for a key during warmup.
type Loader func(ctx context.Context, key string) ([]byte, EntryMetadata, error)

// Resizer is implemented by tiers whose capacity can be changed at runtime.
type Resizer interface {
	Resize(maxEntries int)
}
