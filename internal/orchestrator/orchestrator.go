// Package orchestrator composes the hot, warm and cold tiers with analytics,
// prediction and optimization into a single cache API with cascading
// fallback, promotion, and write-through/write-behind strategies.
package orchestrator

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratacache/stratacache/internal/analytics"
	"github.com/stratacache/stratacache/internal/circuit"
	"github.com/stratacache/stratacache/internal/config"
	"github.com/stratacache/stratacache/internal/optimize"
	"github.com/stratacache/stratacache/internal/predict"
	"github.com/stratacache/stratacache/internal/tier"
	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/retry"
	"github.com/stratacache/stratacache/pkg/types"
)

const (
	predictedKeysHint = 5

	// A hot entry past this fraction of its TTL is refreshed in the
	// background on hit when the refresh-ahead strategy is enabled.
	refreshAheadFraction = 0.8
	refreshAheadTimeout  = 5 * time.Second
)

// Params collects the orchestrator's constructor dependencies. Hot is
// mandatory; Warm and Cold are optional and the cascade simply skips a nil
// tier. Event sinks are registered here, at construction, and never change.
type Params struct {
	Config    *config.Configuration
	Hot       *tier.HotTier
	Warm      types.Tier
	Cold      types.Tier
	Logger    *zap.Logger
	Exporter  *analytics.Exporter
	Sinks     []types.EventSink
	Predictor *predict.Predictor
	Optimizer *optimize.Optimizer
}

// writeTask is one pending remote write, either queued write-behind work or
// a failed write-through leg awaiting reconciliation.
type writeTask struct {
	tierName types.TierName
	key      string
	value    []byte
	ttl      time.Duration
	meta     types.EntryMetadata
}

// Orchestrator is the composition root of the cache hierarchy.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	strategy config.StrategyConfig

	hot  *tier.HotTier
	warm types.Tier
	cold types.Tier

	warmBreaker *circuit.Breaker
	coldBreaker *circuit.Breaker

	recorder  *analytics.Analytics
	exporter  *analytics.Exporter
	predictor *predict.Predictor
	optimizer *optimize.Optimizer
	retryer   *retry.Retryer

	logger *zap.Logger
	sinks  []types.EventSink

	writeBehind chan writeTask
	reconcile   chan writeTask
	refreshing  sync.Map

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New wires the orchestrator together. It does not start background work;
// call Start for that.
func New(p Params) (*Orchestrator, error) {
	if p.Hot == nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeInvalidConfig, "hot tier is required")
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.DefaultConfiguration()
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	queueSize := cfg.Orchestrator.WriteBehindQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	predictor := p.Predictor
	if predictor == nil {
		predictor = predict.New(predict.DefaultConfig())
	}
	optimizer := p.Optimizer
	if optimizer == nil {
		optimizer = optimize.New(optimize.Config{
			HighWaterMark: cfg.Optimizer.HighWaterMark,
			LowWaterMark:  cfg.Optimizer.LowWaterMark,
			GrowthFactor:  cfg.Optimizer.GrowthFactor,
			MinEntries:    cfg.Optimizer.MinEntries,
			MaxEntries:    cfg.Optimizer.MaxEntries,
			SustainTicks:  cfg.Optimizer.SustainTicks,
		})
	}

	o := &Orchestrator{
		cfg:       cfg.Orchestrator,
		strategy:  cfg.Strategy,
		hot:       p.Hot,
		warm:      p.Warm,
		cold:      p.Cold,
		recorder: analytics.New(analytics.Config{
			TopKeys:        cfg.Analytics.TopKeys,
			MaxErrors:      cfg.Analytics.MaxErrors,
			MaxTrackedKeys: cfg.Analytics.MaxTrackedKeys,
		}),
		exporter:  p.Exporter,
		predictor: predictor,
		optimizer: optimizer,
		retryer: retry.New(retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
		}),
		logger:      logger,
		sinks:       p.Sinks,
		writeBehind: make(chan writeTask, queueSize),
		reconcile:   make(chan writeTask, queueSize),
	}
	if p.Warm != nil {
		o.warmBreaker = circuit.NewBreaker("warm", circuit.Config{})
	}
	if p.Cold != nil {
		o.coldBreaker = circuit.NewBreaker("cold", circuit.Config{})
	}
	return o, nil
}

// Analytics exposes the request recorder, for callers that render reports.
func (o *Orchestrator) Analytics() *analytics.Analytics {
	return o.recorder
}

// Get walks hot, warm and cold in order and returns the first fresh entry,
// or (nil, nil) when every tier misses. Hits in colder tiers are promoted
// toward the front of the hierarchy. Remote tier failures degrade to a miss.
func (o *Orchestrator) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, cacheerrors.NewValidation("empty cache key").WithOperation("get")
	}
	start := time.Now()

	entry, err := o.hot.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		o.observeRead(key, types.TierHot, true, time.Since(start))
		o.maybeRefreshAhead(key, entry)
		return entry, nil
	}

	if entry = o.readRemote(ctx, o.warm, o.warmBreaker, key); entry != nil {
		o.promote(ctx, key, entry, types.TierWarm)
		o.observeRead(key, types.TierWarm, true, time.Since(start))
		return entry, nil
	}

	if entry = o.readRemote(ctx, o.cold, o.coldBreaker, key); entry != nil {
		o.promote(ctx, key, entry, types.TierCold)
		o.observeRead(key, types.TierCold, true, time.Since(start))
		return entry, nil
	}

	o.observeRead(key, "", false, time.Since(start))
	o.hintPredictiveLoad(key)
	return nil, nil
}

// GetOrLoad is Get with read-through: on a full miss the loader supplies the
// value, which is stored before returning.
func (o *Orchestrator) GetOrLoad(ctx context.Context, key string, loader types.Loader) (*types.CacheEntry, error) {
	entry, err := o.Get(ctx, key)
	if err != nil || entry != nil {
		return entry, err
	}
	if loader == nil || !o.strategy.ReadThrough {
		return nil, nil
	}

	value, meta, err := loader(ctx, key)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "loader failed for "+key, err)
	}
	if err := o.Set(ctx, key, value, 0, meta); err != nil {
		return nil, err
	}
	// Built from the loader result rather than re-read, so the store does
	// not count as a hot-tier hit.
	now := time.Now()
	return &types.CacheEntry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
		Size:         int64(len(value)),
		TTL:          o.hot.DefaultTTL(),
		Metadata:     meta,
	}, nil
}

// SetOptions overrides the configured write strategy for a single call. Nil
// fields fall back to the strategy config.
type SetOptions struct {
	WriteThrough *bool
	WriteBehind  *bool
}

// Set writes the entry under the configured write strategy. The hot write is
// mandatory and its failure fails the call; write-through legs to warm and
// cold run concurrently and their failures are logged, counted, and queued
// for reconciliation instead of failing the caller.
func (o *Orchestrator) Set(ctx context.Context, key string, value []byte, ttl time.Duration, meta types.EntryMetadata) error {
	return o.SetWithOptions(ctx, key, value, ttl, meta, SetOptions{})
}

// SetWithOptions is Set with per-call strategy overrides.
func (o *Orchestrator) SetWithOptions(ctx context.Context, key string, value []byte, ttl time.Duration, meta types.EntryMetadata, opts SetOptions) error {
	writeThrough := o.strategy.WriteThrough
	if opts.WriteThrough != nil {
		writeThrough = *opts.WriteThrough
	}
	writeBehind := o.strategy.WriteBehind
	if opts.WriteBehind != nil {
		writeBehind = *opts.WriteBehind
	}

	// Coherency flush first, so the fresh write is not swept with the group.
	if o.strategy.InvalidateOnWrite {
		o.invalidateForWrite(ctx, key)
	}

	if err := o.hot.Set(ctx, key, value, ttl, meta); err != nil {
		return err
	}
	o.recorder.RecordWrite(key)
	if o.exporter != nil {
		o.exporter.ObserveWrite()
	}

	switch {
	case writeThrough:
		o.writeThrough(ctx, key, value, ttl, meta)
	case writeBehind:
		if err := o.enqueueWriteBehind(key, value, ttl, meta); err != nil {
			return err
		}
	}

	o.emit(types.Event{Type: types.EventCacheWrite, Key: key, Timestamp: time.Now()})
	return nil
}

// Delete removes key from every tier. Tier errors are collected but do not
// stop the fan-out.
func (o *Orchestrator) Delete(ctx context.Context, key string) error {
	var firstErr error
	if err := o.hot.Delete(ctx, key); err != nil {
		firstErr = err
	}
	for _, leg := range o.remoteLegs() {
		leg := leg
		if err := leg.breaker.Execute(ctx, func(ctx context.Context) error {
			return leg.tier.Delete(ctx, key)
		}); err != nil {
			o.logger.Warn("delete failed on tier",
				zap.String("tier", string(leg.tier.Name())),
				zap.String("key", key),
				zap.Error(err))
			o.recorder.RecordError(key, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	o.predictor.Forget(key)
	o.emit(types.Event{Type: types.EventCacheDelete, Key: key, Timestamp: time.Now()})
	return firstErr
}

// Invalidate fans the pattern/tag invalidation out to every tier and sums
// the removal counts.
func (o *Orchestrator) Invalidate(ctx context.Context, pattern string, tags []string) (int, error) {
	total, err := o.hot.Invalidate(ctx, pattern, tags)
	if err != nil {
		return 0, err
	}
	for _, leg := range o.remoteLegs() {
		leg := leg
		var n int
		execErr := leg.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			n, err = leg.tier.Invalidate(ctx, pattern, tags)
			return err
		})
		if execErr != nil {
			o.logger.Warn("invalidation failed on tier",
				zap.String("tier", string(leg.tier.Name())),
				zap.String("pattern", pattern),
				zap.Error(execErr))
			o.recorder.RecordError(pattern, execErr)
			continue
		}
		total += n
	}
	o.emit(types.Event{
		Type:      types.EventCacheInvalidate,
		Key:       pattern,
		Count:     total,
		Timestamp: time.Now(),
	})
	return total, nil
}

// Warmup loads each uncached key through the loader and stores it with the
// configured write strategy. Loader failures are logged and skipped.
func (o *Orchestrator) Warmup(ctx context.Context, keys []string, loader types.Loader) error {
	if !o.cfg.WarmupEnabled {
		return nil
	}
	if loader == nil {
		return cacheerrors.NewValidation("warmup requires a loader").WithOperation("warmup")
	}

	loaded := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return cacheerrors.Wrap(cacheerrors.ErrCodeOperationCanceled, "warmup interrupted", err)
		}
		entry, err := o.Get(ctx, key)
		if err == nil && entry != nil {
			continue
		}
		value, meta, err := loader(ctx, key)
		if err != nil {
			o.logger.Warn("warmup load failed", zap.String("key", key), zap.Error(err))
			o.recorder.RecordError(key, err)
			continue
		}
		if err := o.Set(ctx, key, value, 0, meta); err != nil {
			o.logger.Warn("warmup store failed", zap.String("key", key), zap.Error(err))
			o.recorder.RecordError(key, err)
			continue
		}
		loaded++
	}
	o.logger.Info("warmup complete", zap.Int("requested", len(keys)), zap.Int("loaded", loaded))
	return nil
}

// GetMetrics aggregates per-tier metrics into a snapshot. The overall hit
// rate is recomputed from the live counters on every call.
func (o *Orchestrator) GetMetrics() types.CacheMetrics {
	m := types.CacheMetrics{
		Tiers:       make(map[types.TierName]types.LayerMetrics),
		CollectedAt: time.Now(),
	}

	tiers := []types.Tier{o.hot}
	if o.warm != nil {
		tiers = append(tiers, o.warm)
	}
	if o.cold != nil {
		tiers = append(tiers, o.cold)
	}

	var errs uint64
	for _, t := range tiers {
		lm := t.Metrics()
		m.Tiers[t.Name()] = lm
		m.Hits += lm.Hits
		m.Misses += lm.Misses
		m.TotalSize += lm.Size
		errs += lm.Errors
		if o.exporter != nil {
			o.exporter.UpdateTier(t.Name(), lm)
		}
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
		m.ErrorRate = float64(errs) / float64(total)
	}
	return m
}

// Optimize runs one optimization pass: plan deltas from the current metrics
// and analytics snapshot, apply them to the hot tier, and emit the outcome.
// It is a no-op unless auto-optimization is enabled.
func (o *Orchestrator) Optimize(ctx context.Context) []optimize.Delta {
	if !o.cfg.AutoOptimization {
		return nil
	}

	deltas := o.optimizer.Plan(o.GetMetrics(), o.recorder.Snapshot(), o.hot.DefaultTTL())
	for _, d := range deltas {
		switch d.Type {
		case optimize.DeltaResizeHot:
			o.hot.Resize(d.MaxEntries)
			o.logger.Info("resized hot tier",
				zap.Int("max_entries", d.MaxEntries),
				zap.String("reason", d.Reason))
		case optimize.DeltaAdjustTTL:
			o.hot.SetDefaultTTL(d.TTL)
			o.logger.Info("adjusted hot tier ttl",
				zap.Duration("ttl", d.TTL),
				zap.String("reason", d.Reason))
		}
	}
	if len(deltas) > 0 {
		details := make(map[string]string, len(deltas))
		for i, d := range deltas {
			details[fmt.Sprintf("delta_%d", i)] = string(d.Type) + ": " + d.Reason
		}
		o.emit(types.Event{
			Type:      types.EventCacheOptimized,
			Count:     len(deltas),
			Timestamp: time.Now(),
			Details:   details,
		})
	}
	return deltas
}

// Cleanup purges expired entries from every tier and returns the total
// removed.
func (o *Orchestrator) Cleanup(ctx context.Context) int {
	total, err := o.hot.Cleanup(ctx)
	if err != nil {
		o.logger.Warn("hot cleanup failed", zap.Error(err))
	}
	for _, leg := range o.remoteLegs() {
		leg := leg
		var n int
		execErr := leg.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			n, err = leg.tier.Cleanup(ctx)
			return err
		})
		if execErr != nil {
			o.logger.Warn("cleanup failed on tier",
				zap.String("tier", string(leg.tier.Name())),
				zap.Error(execErr))
			continue
		}
		total += n
	}
	return total
}

type remoteLeg struct {
	tier    types.Tier
	breaker *circuit.Breaker
}

func (o *Orchestrator) remoteLegs() []remoteLeg {
	legs := make([]remoteLeg, 0, 2)
	if o.warm != nil {
		legs = append(legs, remoteLeg{o.warm, o.warmBreaker})
	}
	if o.cold != nil {
		legs = append(legs, remoteLeg{o.cold, o.coldBreaker})
	}
	return legs
}

// readRemote performs a breaker-guarded read; any failure degrades to a
// miss so a broken tier never fails the caller's fetch path.
func (o *Orchestrator) readRemote(ctx context.Context, t types.Tier, b *circuit.Breaker, key string) *types.CacheEntry {
	if t == nil {
		return nil
	}
	var entry *types.CacheEntry
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		entry, err = t.Get(ctx, key)
		return err
	})
	if err != nil {
		o.logger.Warn("tier read degraded to miss",
			zap.String("tier", string(t.Name())),
			zap.String("key", key),
			zap.Error(err))
		o.recorder.RecordError(key, err)
		if o.exporter != nil {
			o.exporter.ObserveError()
		}
		return nil
	}
	return entry
}

// promote copies a colder-tier hit toward the front of the hierarchy. A
// cold hit always refreshes warm; the hot tier is gated by the predictor so
// one-off scans do not churn it.
func (o *Orchestrator) promote(ctx context.Context, key string, entry *types.CacheEntry, from types.TierName) {
	if from == types.TierCold && o.warm != nil {
		if err := o.warmBreaker.Execute(ctx, func(ctx context.Context) error {
			return o.warm.Set(ctx, key, entry.Value, entry.TTL, entry.Metadata)
		}); err != nil {
			o.logger.Warn("promotion to warm failed", zap.String("key", key), zap.Error(err))
		} else if o.exporter != nil {
			o.exporter.ObservePromotion(types.TierCold, types.TierWarm)
		}
	}

	if o.predictor.ShouldPromote(key, types.TierHot) {
		if err := o.hot.Set(ctx, key, entry.Value, entry.TTL, entry.Metadata); err != nil {
			o.logger.Warn("promotion to hot failed", zap.String("key", key), zap.Error(err))
			return
		}
		if o.exporter != nil {
			o.exporter.ObservePromotion(from, types.TierHot)
		}
	}
}

// writeThrough writes both remote legs concurrently and waits for them.
// Failed legs are queued for reconciliation.
func (o *Orchestrator) writeThrough(ctx context.Context, key string, value []byte, ttl time.Duration, meta types.EntryMetadata) {
	legs := o.remoteLegs()
	if len(legs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, leg := range legs {
		leg := leg
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := leg.breaker.Execute(ctx, func(ctx context.Context) error {
				return leg.tier.Set(ctx, key, value, ttl, meta)
			})
			if err != nil {
				o.logger.Warn("write-through leg failed, queued for reconciliation",
					zap.String("tier", string(leg.tier.Name())),
					zap.String("key", key),
					zap.Error(err))
				o.recorder.RecordError(key, err)
				if o.exporter != nil {
					o.exporter.ObserveError()
				}
				o.enqueueReconcile(writeTask{
					tierName: leg.tier.Name(),
					key:      key,
					value:    value,
					ttl:      ttl,
					meta:     meta,
				})
			}
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) enqueueWriteBehind(key string, value []byte, ttl time.Duration, meta types.EntryMetadata) error {
	task := writeTask{key: key, value: value, ttl: ttl, meta: meta}
	select {
	case o.writeBehind <- task:
		return nil
	default:
		return cacheerrors.New(cacheerrors.ErrCodeWriteBehindFull, "write-behind queue is full").
			WithOperation("set").WithContext("key", key)
	}
}

// enqueueReconcile queues a failed write-through leg. On overflow the oldest
// task is dropped and counted, so the queue bounds memory rather than the
// failure rate.
func (o *Orchestrator) enqueueReconcile(task writeTask) {
	for {
		select {
		case o.reconcile <- task:
			return
		default:
		}
		select {
		case dropped := <-o.reconcile:
			o.logger.Warn("reconcile queue full, dropping oldest",
				zap.String("key", dropped.key),
				zap.String("tier", string(dropped.tierName)))
			o.recorder.RecordError(dropped.key,
				cacheerrors.New(cacheerrors.ErrCodeCapacityExceeded, "reconcile queue overflow"))
		default:
		}
	}
}

// invalidateForWrite applies the configured coherency patterns: when the
// written key belongs to a pattern group, the whole group is invalidated so
// derived entries cannot outlive the write.
func (o *Orchestrator) invalidateForWrite(ctx context.Context, key string) {
	for _, pattern := range o.cfg.InvalidationPatterns {
		ok, err := path.Match(pattern, key)
		if err != nil || !ok {
			continue
		}
		if _, err := o.Invalidate(ctx, pattern, nil); err != nil {
			o.logger.Warn("invalidate-on-write failed",
				zap.String("pattern", pattern),
				zap.Error(err))
		}
	}
}

// maybeRefreshAhead re-reads an aging hot entry from the remote tiers in the
// background, so a steady reader never takes the expiry miss. At most one
// refresh per key is in flight at a time.
func (o *Orchestrator) maybeRefreshAhead(key string, entry *types.CacheEntry) {
	if !o.strategy.RefreshAhead || entry.TTL <= 0 {
		return
	}
	if time.Since(entry.CreatedAt) < time.Duration(float64(entry.TTL)*refreshAheadFraction) {
		return
	}
	if _, inFlight := o.refreshing.LoadOrStore(key, struct{}{}); inFlight {
		return
	}
	go func() {
		defer o.refreshing.Delete(key)
		ctx, cancel := context.WithTimeout(context.Background(), refreshAheadTimeout)
		defer cancel()

		fresh := o.readRemote(ctx, o.warm, o.warmBreaker, key)
		if fresh == nil {
			fresh = o.readRemote(ctx, o.cold, o.coldBreaker, key)
		}
		if fresh == nil {
			return
		}
		if err := o.hot.Set(ctx, key, fresh.Value, fresh.TTL, fresh.Metadata); err != nil {
			o.logger.Warn("refresh-ahead store failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

func (o *Orchestrator) hintPredictiveLoad(key string) {
	if !o.cfg.PredictivePreloading {
		return
	}
	predicted := o.predictor.PredictedKeys(key, predictedKeysHint)
	if len(predicted) == 0 {
		return
	}
	o.emit(types.Event{
		Type:      types.EventPredictiveLoad,
		Key:       key,
		Keys:      predicted,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) observeRead(key string, tierName types.TierName, hit bool, latency time.Duration) {
	o.recorder.RecordRequest(key, tierName, hit, latency)
	o.predictor.RecordAccess(key, tierName, hit)
	if o.exporter != nil {
		o.exporter.ObserveRequest(tierName, hit, latency)
	}
}

func (o *Orchestrator) emit(event types.Event) {
	for _, sink := range o.sinks {
		sink(event)
	}
}
