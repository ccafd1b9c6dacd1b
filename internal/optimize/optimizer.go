// Package optimize inspects cache metrics and proposes configuration deltas.
// The optimizer never mutates tier state directly; the orchestrator applies
// accepted deltas atomically.
package optimize

import (
	"fmt"
	"time"

	"github.com/stratacache/stratacache/internal/analytics"
	"github.com/stratacache/stratacache/pkg/types"
)

// DeltaType identifies a proposed configuration change.
type DeltaType string

const (
	DeltaResizeHot DeltaType = "resize_hot"
	DeltaAdjustTTL DeltaType = "adjust_ttl"
)

// Delta is one typed, self-describing configuration proposal.
type Delta struct {
	Type       DeltaType      `json:"type"`
	Tier       types.TierName `json:"tier"`
	MaxEntries int            `json:"max_entries,omitempty"`
	TTL        time.Duration  `json:"ttl,omitempty"`
	Reason     string         `json:"reason"`
}

// Config bounds the rule set.
type Config struct {
	// HighWaterMark is the utilization above which growth is proposed.
	HighWaterMark float64 `yaml:"high_water_mark"`

	// LowWaterMark is the utilization below which shrinking is proposed.
	LowWaterMark float64 `yaml:"low_water_mark"`

	// GrowthFactor scales the hot tier on growth; shrink uses its inverse.
	GrowthFactor float64 `yaml:"growth_factor"`

	// MinEntries / MaxEntries clamp resize proposals.
	MinEntries int `yaml:"min_entries"`
	MaxEntries int `yaml:"max_entries"`

	// SustainTicks is how many consecutive Plan calls must observe the
	// condition before a delta is proposed, so one spike never resizes.
	SustainTicks int `yaml:"sustain_ticks"`

	// TTLAdjustFactor scales the hot TTL when churn is detected.
	TTLAdjustFactor float64 `yaml:"ttl_adjust_factor"`

	// ChurnHitRate is the hot hit rate below which eviction churn triggers
	// a TTL proposal.
	ChurnHitRate float64 `yaml:"churn_hit_rate"`
}

// DefaultConfig returns the default rule bounds.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:   0.9,
		LowWaterMark:    0.3,
		GrowthFactor:    1.2,
		MinEntries:      1000,
		MaxEntries:      100000,
		SustainTicks:    3,
		TTLAdjustFactor: 0.8,
		ChurnHitRate:    0.4,
	}
}

// Optimizer tracks sustained conditions across Plan calls.
type Optimizer struct {
	config Config

	highStreak    int
	lowStreak     int
	lastEvictions uint64
}

// New creates an optimizer, applying defaults for zero values.
func New(config Config) *Optimizer {
	d := DefaultConfig()
	if config.HighWaterMark <= 0 {
		config.HighWaterMark = d.HighWaterMark
	}
	if config.LowWaterMark <= 0 {
		config.LowWaterMark = d.LowWaterMark
	}
	if config.GrowthFactor <= 1 {
		config.GrowthFactor = d.GrowthFactor
	}
	if config.MinEntries <= 0 {
		config.MinEntries = d.MinEntries
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = d.MaxEntries
	}
	if config.SustainTicks <= 0 {
		config.SustainTicks = d.SustainTicks
	}
	if config.TTLAdjustFactor <= 0 {
		config.TTLAdjustFactor = d.TTLAdjustFactor
	}
	if config.ChurnHitRate <= 0 {
		config.ChurnHitRate = d.ChurnHitRate
	}
	return &Optimizer{config: config}
}

// Plan inspects the current metrics and report and returns zero or more
// proposed deltas. hotTTL is the hot tier's current default TTL.
func (o *Optimizer) Plan(m types.CacheMetrics, report analytics.Report, hotTTL time.Duration) []Delta {
	hot, ok := m.Tiers[types.TierHot]
	if !ok {
		return nil
	}

	// A high error rate means the metrics reflect backend failures more
	// than demand; hold steady until the signal stabilizes.
	if report.ErrorRate > 0.2 {
		o.highStreak = 0
		o.lowStreak = 0
		o.lastEvictions = hot.Evictions
		return nil
	}

	var deltas []Delta

	if hot.Utilization >= o.config.HighWaterMark {
		o.highStreak++
		o.lowStreak = 0
	} else if hot.Utilization <= o.config.LowWaterMark {
		o.lowStreak++
		o.highStreak = 0
	} else {
		o.highStreak = 0
		o.lowStreak = 0
	}

	if o.highStreak >= o.config.SustainTicks {
		proposed := clamp(int(float64(hot.MaxSize)*o.config.GrowthFactor), o.config.MinEntries, o.config.MaxEntries)
		if proposed > int(hot.MaxSize) {
			deltas = append(deltas, Delta{
				Type:       DeltaResizeHot,
				Tier:       types.TierHot,
				MaxEntries: proposed,
				Reason: fmt.Sprintf("hot utilization %.2f >= %.2f for %d ticks",
					hot.Utilization, o.config.HighWaterMark, o.highStreak),
			})
			o.highStreak = 0
		}
	}

	if o.lowStreak >= o.config.SustainTicks {
		proposed := clamp(int(float64(hot.MaxSize)/o.config.GrowthFactor), o.config.MinEntries, o.config.MaxEntries)
		if proposed < int(hot.MaxSize) {
			deltas = append(deltas, Delta{
				Type:       DeltaResizeHot,
				Tier:       types.TierHot,
				MaxEntries: proposed,
				Reason: fmt.Sprintf("hot utilization %.2f <= %.2f for %d ticks",
					hot.Utilization, o.config.LowWaterMark, o.lowStreak),
			})
			o.lowStreak = 0
		}
	}

	// Eviction churn with a poor hit rate means entries die before reuse:
	// shorten the default TTL so cleanup frees room for the live set.
	evictionDelta := hot.Evictions - o.lastEvictions
	o.lastEvictions = hot.Evictions
	if evictionDelta > uint64(hot.MaxSize)/2 && hot.HitRate < o.config.ChurnHitRate && hotTTL > 0 {
		proposed := time.Duration(float64(hotTTL) * o.config.TTLAdjustFactor)
		if proposed >= time.Second {
			deltas = append(deltas, Delta{
				Type: DeltaAdjustTTL,
				Tier: types.TierHot,
				TTL:  proposed,
				Reason: fmt.Sprintf("%d evictions with hit rate %.2f since last plan",
					evictionDelta, hot.HitRate),
			})
		}
	}

	return deltas
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
