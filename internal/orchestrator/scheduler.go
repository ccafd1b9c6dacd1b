package orchestrator

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// Start launches the background schedules: periodic metrics collection,
// optimization, cleanup, and the write-behind and reconciliation workers.
// Each tick delegates to the same method tests can call directly, so the
// timers add no behavior of their own.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return cacheerrors.New(cacheerrors.ErrCodeInternalError, "orchestrator already started")
	}
	o.started = true
	o.stop = make(chan struct{})

	o.runPeriodic(o.cfg.MetricsInterval, 30*time.Second, func(ctx context.Context) {
		o.CollectMetrics()
	})
	o.runPeriodic(o.cfg.OptimizeInterval, 5*time.Minute, func(ctx context.Context) {
		o.Optimize(ctx)
	})
	o.runPeriodic(o.cfg.CleanupInterval, time.Minute, func(ctx context.Context) {
		o.Cleanup(ctx)
	})

	o.wg.Add(2)
	go o.writeBehindWorker()
	go o.reconcileWorker()

	o.logger.Info("cache orchestrator started",
		zap.Duration("metrics_interval", o.cfg.MetricsInterval),
		zap.Duration("optimize_interval", o.cfg.OptimizeInterval),
		zap.Duration("cleanup_interval", o.cfg.CleanupInterval))
	return nil
}

// Stop halts the schedules and drains in-flight queue work within the
// configured grace period. It is safe to call once after Start.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return cacheerrors.New(cacheerrors.ErrCodeNotStarted, "orchestrator not started")
	}
	o.started = false
	close(o.stop)
	o.mu.Unlock()

	grace := o.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("cache orchestrator stopped")
		return nil
	case <-time.After(grace):
		o.logger.Warn("shutdown grace elapsed, abandoning in-flight work",
			zap.Duration("grace", grace))
		return cacheerrors.New(cacheerrors.ErrCodeShutdown, "shutdown grace period elapsed")
	}
}

// CollectMetrics snapshots the hierarchy and emits a metrics-collected
// event. The periodic schedule calls this; tests may call it directly.
func (o *Orchestrator) CollectMetrics() types.CacheMetrics {
	m := o.GetMetrics()
	o.emit(types.Event{
		Type:      types.EventMetricsCollected,
		Count:     int(m.Hits + m.Misses),
		Timestamp: m.CollectedAt,
		Details: map[string]string{
			"hit_rate": formatRate(m.HitRate),
		},
	})
	return m
}

func (o *Orchestrator) runPeriodic(interval, fallback time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = fallback
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-o.stop:
				return
			case <-ticker.C:
				fn(context.Background())
			}
		}
	}()
}

// writeBehindWorker drains queued write-behind tasks, fanning each out to
// the remote tiers. Remaining tasks are flushed on shutdown.
func (o *Orchestrator) writeBehindWorker() {
	defer o.wg.Done()
	for {
		select {
		case task := <-o.writeBehind:
			o.flushWriteBehind(task)
		case <-o.stop:
			for {
				select {
				case task := <-o.writeBehind:
					o.flushWriteBehind(task)
				default:
					return
				}
			}
		}
	}
}

func (o *Orchestrator) flushWriteBehind(task writeTask) {
	ctx := context.Background()
	for _, leg := range o.remoteLegs() {
		leg := leg
		err := leg.breaker.Execute(ctx, func(ctx context.Context) error {
			return leg.tier.Set(ctx, task.key, task.value, task.ttl, task.meta)
		})
		if err != nil {
			o.logger.Warn("write-behind flush failed",
				zap.String("tier", string(leg.tier.Name())),
				zap.String("key", task.key),
				zap.Error(err))
			o.recorder.RecordError(task.key, err)
		}
	}
}

// reconcileWorker re-drives failed write-through legs with backoff. A task
// that exhausts its retries is surfaced through analytics and dropped; the
// tiers then diverge until the entry expires or is rewritten.
func (o *Orchestrator) reconcileWorker() {
	defer o.wg.Done()
	for {
		select {
		case task := <-o.reconcile:
			o.reconcileTask(task)
		case <-o.stop:
			for {
				select {
				case task := <-o.reconcile:
					o.reconcileTask(task)
				default:
					return
				}
			}
		}
	}
}

func (o *Orchestrator) reconcileTask(task writeTask) {
	target := o.tierByName(task.tierName)
	if target.tier == nil {
		return
	}
	err := o.retryer.Do(context.Background(), func(ctx context.Context) error {
		return target.breaker.Execute(ctx, func(ctx context.Context) error {
			return target.tier.Set(ctx, task.key, task.value, task.ttl, task.meta)
		})
	})
	if err != nil {
		o.logger.Error("write-through reconciliation exhausted",
			zap.String("tier", string(task.tierName)),
			zap.String("key", task.key),
			zap.Error(err))
		o.recorder.RecordError(task.key, err)
		if o.exporter != nil {
			o.exporter.ObserveError()
		}
	}
}

func (o *Orchestrator) tierByName(name types.TierName) remoteLeg {
	for _, leg := range o.remoteLegs() {
		if leg.tier.Name() == name {
			return leg
		}
	}
	return remoteLeg{}
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 4, 64)
}
