// Package ai layers AI-workload caching policies on top of the cache
// orchestrator: model weights, embedding vectors, and inference results each
// get their own admission, sizing and TTL rules. The layer owns policy state
// only; all storage is delegated to the underlying cache.
package ai

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stratacache/stratacache/internal/config"
	"github.com/stratacache/stratacache/pkg/types"
)

// CacheClient is the slice of the orchestrator the AI layer uses.
type CacheClient interface {
	Get(ctx context.Context, key string) (*types.CacheEntry, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, meta types.EntryMetadata) error
	Delete(ctx context.Context, key string) error
}

// Layer implements the model/embedding/inference cache policies.
type Layer struct {
	client CacheClient
	cfg    config.AIConfig
	logger *zap.Logger
	sinks  []types.EventSink

	models   *modelTracker
	memory   *MemoryOptimizer
	workload *WorkloadAnalyzer
}

// New builds the AI cache layer. Sinks receive the layer's events
// (model-cached, ai-workload-optimized, predictive-loading-needed) and are
// fixed at construction.
func New(client CacheClient, cfg config.AIConfig, logger *zap.Logger, sinks ...types.EventSink) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.MaxTemperature <= 0 {
		cfg.MaxTemperature = 0.3
	}
	if cfg.CostUnit <= 0 {
		cfg.CostUnit = 0.01
	}
	if cfg.CostCapMultiplier <= 0 {
		cfg.CostCapMultiplier = 5
	}
	if cfg.CompressionRatio <= 0 || cfg.CompressionRatio > 1 {
		cfg.CompressionRatio = 0.5
	}
	if cfg.PopularityHalfLife <= 0 {
		cfg.PopularityHalfLife = 6 * time.Hour
	}
	if cfg.ModelTTL <= 0 {
		cfg.ModelTTL = 4 * time.Hour
	}
	if cfg.EmbeddingTTL <= 0 {
		cfg.EmbeddingTTL = 12 * time.Hour
	}
	if cfg.InferenceBaseTTL <= 0 {
		cfg.InferenceBaseTTL = time.Hour
	}

	return &Layer{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		sinks:    sinks,
		models:   newModelTracker(cfg.PopularityHalfLife),
		memory:   NewMemoryOptimizer(cfg.MemoryLimitBytes),
		workload: NewWorkloadAnalyzer(),
	}
}

// Memory exposes the memory optimizer, mainly for inspection.
func (l *Layer) Memory() *MemoryOptimizer {
	return l.memory
}

// Workload exposes the workload analyzer.
func (l *Layer) Workload() *WorkloadAnalyzer {
	return l.workload
}

func (l *Layer) emit(event types.Event) {
	for _, sink := range l.sinks {
		sink(event)
	}
}

func entrySize(entry *types.CacheEntry) int64 {
	if entry == nil {
		return 0
	}
	return entry.Size
}
