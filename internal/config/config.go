package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/stratacache/stratacache/pkg/types"
)

// Configuration represents the complete cache engine configuration.
type Configuration struct {
	Hot          HotTierConfig      `yaml:"hot"`
	Warm         WarmTierConfig     `yaml:"warm"`
	Cold         ColdTierConfig     `yaml:"cold"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Strategy     StrategyConfig     `yaml:"strategy"`
	Optimizer    OptimizerConfig    `yaml:"optimizer"`
	AI           AIConfig           `yaml:"ai"`
	Analytics    AnalyticsConfig    `yaml:"analytics"`
	Retry        RetryConfig        `yaml:"retry"`
}

// HotTierConfig configures the in-process tier.
type HotTierConfig struct {
	MaxEntries     int                  `yaml:"max_entries"`
	TTL            time.Duration        `yaml:"ttl"`
	EvictionPolicy types.EvictionPolicy `yaml:"eviction_policy"`
}

// WarmTierConfig configures the distributed (Redis) tier.
type WarmTierConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	Database     int           `yaml:"database"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	KeyPrefix    string        `yaml:"key_prefix"`
	TTL          time.Duration `yaml:"ttl"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ColdTierConfig configures the persistent (S3) tier.
type ColdTierConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Bucket      string        `yaml:"bucket"`
	Region      string        `yaml:"region"`
	Endpoint    string        `yaml:"endpoint"`
	AccessKey   string        `yaml:"access_key"`
	SecretKey   string        `yaml:"secret_key"`
	KeyPrefix   string        `yaml:"key_prefix"`
	TTL         time.Duration `yaml:"ttl"`
	Timeout     time.Duration `yaml:"timeout"`
	Compression bool          `yaml:"compression"`
}

// OrchestratorConfig controls orchestrator-level behavior.
type OrchestratorConfig struct {
	PredictivePreloading bool          `yaml:"predictive_preloading"`
	AutoOptimization     bool          `yaml:"auto_optimization"`
	WarmupEnabled        bool          `yaml:"warmup_enabled"`
	InvalidationPatterns []string      `yaml:"invalidation_patterns"`
	MetricsInterval      time.Duration `yaml:"metrics_interval"`
	OptimizeInterval     time.Duration `yaml:"optimize_interval"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
	ShutdownGrace        time.Duration `yaml:"shutdown_grace"`
	WriteBehindQueueSize int           `yaml:"write_behind_queue_size"`
}

// StrategyConfig holds the cascading read/write strategy flags.
type StrategyConfig struct {
	ReadThrough       bool `yaml:"read_through"`
	WriteThrough      bool `yaml:"write_through"`
	WriteBehind       bool `yaml:"write_behind"`
	RefreshAhead      bool `yaml:"refresh_ahead"`
	InvalidateOnWrite bool `yaml:"invalidate_on_write"`
}

// OptimizerConfig bounds the self-tuning rules.
type OptimizerConfig struct {
	HighWaterMark float64 `yaml:"high_water_mark"`
	LowWaterMark  float64 `yaml:"low_water_mark"`
	GrowthFactor  float64 `yaml:"growth_factor"`
	MinEntries    int     `yaml:"min_entries"`
	MaxEntries    int     `yaml:"max_entries"`
	SustainTicks  int     `yaml:"sustain_ticks"`
}

// AIConfig configures the AI cache layer policies.
type AIConfig struct {
	ModelTTL           time.Duration `yaml:"model_ttl"`
	EmbeddingTTL       time.Duration `yaml:"embedding_ttl"`
	InferenceBaseTTL   time.Duration `yaml:"inference_base_ttl"`
	MinConfidence      float64       `yaml:"min_confidence"`
	MaxTemperature     float64       `yaml:"max_temperature"`
	CostUnit           float64       `yaml:"cost_unit"`
	CostCapMultiplier  float64       `yaml:"cost_cap_multiplier"`
	CompressionRatio   float64       `yaml:"compression_ratio"`
	MemoryLimitBytes   int64         `yaml:"memory_limit_bytes"`
	PopularityHalfLife time.Duration `yaml:"popularity_half_life"`
}

// AnalyticsConfig configures recording and the Prometheus exporter.
type AnalyticsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Namespace      string `yaml:"namespace"`
	TopKeys        int    `yaml:"top_keys"`
	MaxErrors      int    `yaml:"max_errors"`
	MaxTrackedKeys int    `yaml:"max_tracked_keys"`
	Port           int    `yaml:"port"`
	Path           string `yaml:"path"`
}

// RetryConfig configures the write-through reconciliation retries.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// DefaultConfiguration returns the default configuration.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Hot: HotTierConfig{
			MaxEntries:     10000,
			TTL:            5 * time.Minute,
			EvictionPolicy: types.EvictionLRU,
		},
		Warm: WarmTierConfig{
			Enabled:      false,
			Address:      "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "stratacache",
			TTL:          time.Hour,
			Timeout:      2 * time.Second,
		},
		Cold: ColdTierConfig{
			Enabled:     false,
			Region:      "us-east-1",
			KeyPrefix:   "stratacache",
			TTL:         24 * time.Hour,
			Timeout:     10 * time.Second,
			Compression: true,
		},
		Orchestrator: OrchestratorConfig{
			PredictivePreloading: true,
			AutoOptimization:     true,
			WarmupEnabled:        true,
			MetricsInterval:      30 * time.Second,
			OptimizeInterval:     5 * time.Minute,
			CleanupInterval:      time.Minute,
			ShutdownGrace:        5 * time.Second,
			WriteBehindQueueSize: 1024,
		},
		Strategy: StrategyConfig{
			ReadThrough:       true,
			WriteThrough:      true,
			WriteBehind:       false,
			RefreshAhead:      false,
			InvalidateOnWrite: false,
		},
		Optimizer: OptimizerConfig{
			HighWaterMark: 0.9,
			LowWaterMark:  0.3,
			GrowthFactor:  1.2,
			MinEntries:    1000,
			MaxEntries:    100000,
			SustainTicks:  3,
		},
		AI: AIConfig{
			ModelTTL:           4 * time.Hour,
			EmbeddingTTL:       12 * time.Hour,
			InferenceBaseTTL:   time.Hour,
			MinConfidence:      0.7,
			MaxTemperature:     0.3,
			CostUnit:           0.01,
			CostCapMultiplier:  5.0,
			CompressionRatio:   0.5,
			MemoryLimitBytes:   4 * 1024 * 1024 * 1024,
			PopularityHalfLife: 6 * time.Hour,
		},
		Analytics: AnalyticsConfig{
			Enabled:        true,
			Namespace:      "stratacache",
			TopKeys:        10,
			MaxErrors:      256,
			MaxTrackedKeys: 10000,
			Port:           9090,
			Path:           "/metrics",
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// LoadFromFile loads configuration from a YAML file, applying defaults for
// unset values and environment overrides on top.
func LoadFromFile(path string) (*Configuration, error) {
	config := DefaultConfiguration()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - caller controls config path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnvironmentOverrides applies STRATACACHE_* environment variables.
func (c *Configuration) applyEnvironmentOverrides() {
	if v := os.Getenv("STRATACACHE_HOT_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Hot.MaxEntries = n
		}
	}
	if v := os.Getenv("STRATACACHE_HOT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Hot.TTL = d
		}
	}
	if v := os.Getenv("STRATACACHE_HOT_EVICTION_POLICY"); v != "" {
		c.Hot.EvictionPolicy = types.EvictionPolicy(strings.ToLower(v))
	}
	if v := os.Getenv("STRATACACHE_REDIS_ADDRESS"); v != "" {
		c.Warm.Address = v
		c.Warm.Enabled = true
	}
	if v := os.Getenv("STRATACACHE_REDIS_PASSWORD"); v != "" {
		c.Warm.Password = v
	}
	if v := os.Getenv("STRATACACHE_S3_BUCKET"); v != "" {
		c.Cold.Bucket = v
		c.Cold.Enabled = true
	}
	if v := os.Getenv("STRATACACHE_S3_REGION"); v != "" {
		c.Cold.Region = v
	}
	if v := os.Getenv("STRATACACHE_S3_ENDPOINT"); v != "" {
		c.Cold.Endpoint = v
	}
	if v := os.Getenv("STRATACACHE_S3_ACCESS_KEY"); v != "" {
		c.Cold.AccessKey = v
	}
	if v := os.Getenv("STRATACACHE_S3_SECRET_KEY"); v != "" {
		c.Cold.SecretKey = v
	}
	if v := os.Getenv("STRATACACHE_AUTO_OPTIMIZATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Orchestrator.AutoOptimization = b
		}
	}
	if v := os.Getenv("STRATACACHE_WRITE_THROUGH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Strategy.WriteThrough = b
		}
	}
	if v := os.Getenv("STRATACACHE_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analytics.Port = n
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Configuration) Validate() error {
	if c.Hot.MaxEntries <= 0 {
		return fmt.Errorf("hot.max_entries must be positive, got %d", c.Hot.MaxEntries)
	}
	if c.Hot.TTL < 0 {
		return fmt.Errorf("hot.ttl must not be negative, got %v", c.Hot.TTL)
	}
	if !c.Hot.EvictionPolicy.Valid() {
		return fmt.Errorf("hot.eviction_policy must be one of lru, lfu, fifo, adaptive; got %q", c.Hot.EvictionPolicy)
	}
	if c.Warm.Enabled && c.Warm.Address == "" {
		return fmt.Errorf("warm.address is required when the warm tier is enabled")
	}
	if c.Cold.Enabled && c.Cold.Bucket == "" {
		return fmt.Errorf("cold.bucket is required when the cold tier is enabled")
	}
	if c.Optimizer.HighWaterMark <= c.Optimizer.LowWaterMark {
		return fmt.Errorf("optimizer.high_water_mark (%v) must exceed low_water_mark (%v)",
			c.Optimizer.HighWaterMark, c.Optimizer.LowWaterMark)
	}
	if c.Optimizer.GrowthFactor <= 1.0 {
		return fmt.Errorf("optimizer.growth_factor must exceed 1.0, got %v", c.Optimizer.GrowthFactor)
	}
	if c.Optimizer.MinEntries > c.Optimizer.MaxEntries {
		return fmt.Errorf("optimizer.min_entries (%d) must not exceed max_entries (%d)",
			c.Optimizer.MinEntries, c.Optimizer.MaxEntries)
	}
	if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
		return fmt.Errorf("ai.min_confidence must be in [0,1], got %v", c.AI.MinConfidence)
	}
	if c.AI.CompressionRatio <= 0 || c.AI.CompressionRatio > 1 {
		return fmt.Errorf("ai.compression_ratio must be in (0,1], got %v", c.AI.CompressionRatio)
	}
	if c.Strategy.WriteThrough && c.Strategy.WriteBehind {
		return fmt.Errorf("strategy.write_through and strategy.write_behind are mutually exclusive")
	}
	for _, p := range c.Orchestrator.InvalidationPatterns {
		if p == "" {
			return fmt.Errorf("orchestrator.invalidation_patterns must not contain empty patterns")
		}
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Configuration) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
