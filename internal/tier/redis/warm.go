// Package redis implements the warm tier on a Redis backend. The orchestrator
// talks to it only through the types.Tier contract, so any distributed store
// with the same shape could stand in.
package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// Config holds Redis connection and cache behavior settings.
type Config struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	Database     int           `yaml:"database"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DefaultTTL   time.Duration `yaml:"ttl"`
	Timeout      time.Duration `yaml:"timeout"`
}

// envelope is the JSON wire format stored under each Redis key. Redis expiry
// mirrors the TTL, so the embedded CreatedAt/TTL pair is a consistency check
// rather than the primary enforcement.
type envelope struct {
	Value     []byte              `json:"value"`
	Metadata  types.EntryMetadata `json:"metadata"`
	CreatedAt time.Time           `json:"created_at"`
	TTL       time.Duration       `json:"ttl"`
}

// WarmTier is the Redis-backed middle tier.
type WarmTier struct {
	client *redis.Client
	config Config
	logger *zap.Logger

	hits      uint64
	misses    uint64
	evictions uint64
	errs      uint64
}

// NewWarmTier creates the tier and verifies connectivity.
func NewWarmTier(config Config, logger *zap.Logger) (*WarmTier, error) {
	if config.Address == "" {
		return nil, cacheerrors.New(cacheerrors.ErrCodeInvalidConfig, "warm tier address is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "stratacache"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, cacheerrors.NewTierUnavailable("warm", "ping", err)
	}

	return &WarmTier{client: client, config: config, logger: logger}, nil
}

// Name implements types.Tier.
func (w *WarmTier) Name() types.TierName {
	return types.TierWarm
}

// Get returns the entry for key, or (nil, nil) on a miss.
func (w *WarmTier) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	ctx, cancel := w.callContext(ctx)
	defer cancel()

	data, err := w.client.Get(ctx, w.storageKey(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		atomic.AddUint64(&w.misses, 1)
		return nil, nil
	}
	if err != nil {
		atomic.AddUint64(&w.errs, 1)
		return nil, w.mapError("get", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Corrupt envelope: drop it and report a miss.
		w.logger.Warn("dropping corrupt warm entry", zap.String("key", key), zap.Error(err))
		w.client.Del(ctx, w.storageKey(key))
		atomic.AddUint64(&w.misses, 1)
		return nil, nil
	}

	entry := &types.CacheEntry{
		Key:          key,
		Value:        env.Value,
		CreatedAt:    env.CreatedAt,
		LastAccessed: time.Now(),
		Size:         int64(len(env.Value)),
		TTL:          env.TTL,
		Metadata:     env.Metadata,
	}
	if entry.Expired(time.Now()) {
		w.client.Del(ctx, w.storageKey(key))
		atomic.AddUint64(&w.misses, 1)
		return nil, nil
	}

	atomic.AddUint64(&w.hits, 1)
	return entry, nil
}

// Set stores value under key with the given TTL; Redis expiry enforces it.
func (w *WarmTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration, meta types.EntryMetadata) error {
	if key == "" {
		return cacheerrors.NewValidation("empty cache key").WithComponent("warm").WithOperation("set")
	}
	if ttl < 0 {
		return cacheerrors.NewValidation("negative ttl").WithComponent("warm").WithOperation("set")
	}
	if ttl == 0 {
		ttl = w.config.DefaultTTL
	}

	env := envelope{
		Value:     value,
		Metadata:  meta,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "failed to encode warm entry", err)
	}

	ctx, cancel := w.callContext(ctx)
	defer cancel()

	if err := w.client.Set(ctx, w.storageKey(key), data, ttl).Err(); err != nil {
		atomic.AddUint64(&w.errs, 1)
		return w.mapError("set", err)
	}
	return nil
}

// Delete removes key.
func (w *WarmTier) Delete(ctx context.Context, key string) error {
	ctx, cancel := w.callContext(ctx)
	defer cancel()

	if err := w.client.Del(ctx, w.storageKey(key)).Err(); err != nil {
		atomic.AddUint64(&w.errs, 1)
		return w.mapError("delete", err)
	}
	return nil
}

// Invalidate scans the tier's keyspace and removes entries whose logical key
// matches the glob pattern or whose tags intersect the given set.
func (w *WarmTier) Invalidate(ctx context.Context, pattern string, tags []string) (int, error) {
	if pattern == "" && len(tags) == 0 {
		return 0, nil
	}
	if pattern != "" {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return 0, cacheerrors.NewValidation("malformed invalidation pattern: " + pattern).
				WithComponent("warm").WithOperation("invalidate")
		}
	}

	removed := 0
	var cursor uint64
	scanMatch := w.config.KeyPrefix + ":*"

	for {
		scanCtx, cancel := w.callContext(ctx)
		keys, next, err := w.client.Scan(scanCtx, cursor, scanMatch, 128).Result()
		cancel()
		if err != nil {
			atomic.AddUint64(&w.errs, 1)
			return removed, w.mapError("invalidate", err)
		}

		for _, storageKey := range keys {
			logical := w.logicalKey(storageKey)
			match := false
			if pattern != "" {
				if ok, _ := path.Match(pattern, logical); ok {
					match = true
				}
			}
			if !match && len(tags) > 0 {
				match = w.entryHasTags(ctx, storageKey, tags)
			}
			if match {
				delCtx, cancel := w.callContext(ctx)
				err := w.client.Del(delCtx, storageKey).Err()
				cancel()
				if err == nil {
					removed++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	atomic.AddUint64(&w.evictions, uint64(removed))
	return removed, nil
}

// Cleanup is a no-op for Redis: expiry is enforced server-side.
func (w *WarmTier) Cleanup(_ context.Context) (int, error) {
	return 0, nil
}

// Metrics returns the tier's statistics. Size is approximated with DBSIZE.
func (w *WarmTier) Metrics() types.LayerMetrics {
	m := types.LayerMetrics{
		Hits:      atomic.LoadUint64(&w.hits),
		Misses:    atomic.LoadUint64(&w.misses),
		Evictions: atomic.LoadUint64(&w.evictions),
		Errors:    atomic.LoadUint64(&w.errs),
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.Timeout)
	defer cancel()
	if size, err := w.client.DBSize(ctx).Result(); err == nil {
		m.Size = size
	}
	return m
}

// Close releases the client's connection pool.
func (w *WarmTier) Close() error {
	return w.client.Close()
}

func (w *WarmTier) storageKey(key string) string {
	return w.config.KeyPrefix + ":" + key
}

func (w *WarmTier) logicalKey(storageKey string) string {
	return strings.TrimPrefix(storageKey, w.config.KeyPrefix+":")
}

func (w *WarmTier) entryHasTags(ctx context.Context, storageKey string, tags []string) bool {
	getCtx, cancel := w.callContext(ctx)
	defer cancel()

	data, err := w.client.Get(getCtx, storageKey).Bytes()
	if err != nil {
		return false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	return env.Metadata.HasAnyTag(tags)
}

func (w *WarmTier) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.config.Timeout)
}

func (w *WarmTier) mapError(op string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return cacheerrors.Wrap(cacheerrors.ErrCodeConnectionTimeout, "warm tier call timed out", err).
			WithComponent("warm").WithOperation(op)
	}
	return cacheerrors.NewTierUnavailable("warm", op, err)
}
