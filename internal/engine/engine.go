// Package engine assembles the cache hierarchy from configuration: tiers,
// orchestrator, AI layer, analytics exporter and health tracking, wired
// together behind one Start/Stop lifecycle.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/stratacache/stratacache/internal/ai"
	"github.com/stratacache/stratacache/internal/analytics"
	"github.com/stratacache/stratacache/internal/config"
	"github.com/stratacache/stratacache/internal/orchestrator"
	"github.com/stratacache/stratacache/internal/tier"
	redistier "github.com/stratacache/stratacache/internal/tier/redis"
	s3tier "github.com/stratacache/stratacache/internal/tier/s3"
	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/health"
	"github.com/stratacache/stratacache/pkg/types"
)

const healthProbeKey = "__health__"

// Engine bundles the assembled cache components.
type Engine struct {
	Orchestrator *orchestrator.Orchestrator
	AI           *ai.Layer
	Health       *health.Tracker
	Exporter     *analytics.Exporter

	logger *zap.Logger
}

// New builds the full engine from configuration. Warm and cold tiers are
// constructed only when enabled; the hot tier is always present.
func New(ctx context.Context, cfg *config.Configuration, logger *zap.Logger, sinks ...types.EventSink) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfiguration()
	}
	if err := cfg.Validate(); err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeInvalidConfig, "engine configuration rejected", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hot := tier.NewHotTier(&tier.HotConfig{
		MaxEntries:     cfg.Hot.MaxEntries,
		DefaultTTL:     cfg.Hot.TTL,
		EvictionPolicy: cfg.Hot.EvictionPolicy,
	})

	var warm types.Tier
	if cfg.Warm.Enabled {
		w, err := redistier.NewWarmTier(redistier.Config{
			Address:      cfg.Warm.Address,
			Password:     cfg.Warm.Password,
			Database:     cfg.Warm.Database,
			PoolSize:     cfg.Warm.PoolSize,
			MinIdleConns: cfg.Warm.MinIdleConns,
			KeyPrefix:    cfg.Warm.KeyPrefix,
			DefaultTTL:   cfg.Warm.TTL,
			Timeout:      cfg.Warm.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		warm = w
	}

	var cold types.Tier
	if cfg.Cold.Enabled {
		c, err := s3tier.NewColdTier(ctx, s3tier.Config{
			Bucket:          cfg.Cold.Bucket,
			Region:          cfg.Cold.Region,
			Endpoint:        cfg.Cold.Endpoint,
			AccessKey:       cfg.Cold.AccessKey,
			SecretKey:       cfg.Cold.SecretKey,
			KeyPrefix:       cfg.Cold.KeyPrefix,
			DefaultTTL:      cfg.Cold.TTL,
			Timeout:         cfg.Cold.Timeout,
			DisableCompress: !cfg.Cold.Compression,
		}, logger)
		if err != nil {
			return nil, err
		}
		cold = c
	}

	var exporter *analytics.Exporter
	if cfg.Analytics.Enabled {
		e, err := analytics.NewExporter(analytics.ExporterConfig{Namespace: cfg.Analytics.Namespace})
		if err != nil {
			return nil, err
		}
		exporter = e
	}

	orch, err := orchestrator.New(orchestrator.Params{
		Config:   cfg,
		Hot:      hot,
		Warm:     warm,
		Cold:     cold,
		Logger:   logger,
		Exporter: exporter,
		Sinks:    sinks,
	})
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		Orchestrator: orch,
		AI:           ai.New(orch, cfg.AI, logger, sinks...),
		Health:       health.NewTracker(),
		Exporter:     exporter,
		logger:       logger,
	}
	eng.Health.Register("hot", true, probeTier(hot))
	if warm != nil {
		eng.Health.Register("warm", false, probeTier(warm))
	}
	if cold != nil {
		eng.Health.Register("cold", false, probeTier(cold))
	}
	return eng, nil
}

// probeTier reads a reserved key; any result other than a tier error counts
// as healthy (a miss is a healthy answer).
func probeTier(t types.Tier) health.CheckFunc {
	return func(ctx context.Context) error {
		_, err := t.Get(ctx, healthProbeKey)
		return err
	}
}

// Start launches the orchestrator's background schedule.
func (e *Engine) Start() error {
	if err := e.Orchestrator.Start(); err != nil {
		return err
	}
	e.logger.Info("cache engine started")
	return nil
}

// Stop drains background work within the configured grace period.
func (e *Engine) Stop() error {
	err := e.Orchestrator.Stop()
	e.logger.Info("cache engine stopped", zap.Error(err))
	return err
}
