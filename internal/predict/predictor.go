// Package predict derives promotion and preload decisions from observed
// access patterns. Its output is advisory only; correctness never depends
// on a prediction.
package predict

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/stratacache/stratacache/pkg/types"
)

// Config configures the predictor.
type Config struct {
	// Window is the trailing period over which access frequency is measured.
	Window time.Duration `yaml:"window"`

	// CoAccessWindow is the maximum gap between two accesses for the second
	// key to count as following the first.
	CoAccessWindow time.Duration `yaml:"co_access_window"`

	// PromoteThresholds holds the accesses-per-window required to promote
	// into each tier.
	PromoteThresholds map[types.TierName]int `yaml:"promote_thresholds"`

	// MaxTrackedKeys bounds pattern memory; the stalest pattern is dropped
	// on overflow.
	MaxTrackedKeys int `yaml:"max_tracked_keys"`
}

// DefaultConfig returns sensible promotion thresholds: hot promotion needs
// real traffic, warm promotion only a second touch.
func DefaultConfig() Config {
	return Config{
		Window:         5 * time.Minute,
		CoAccessWindow: 10 * time.Second,
		PromoteThresholds: map[types.TierName]int{
			types.TierHot:  3,
			types.TierWarm: 2,
		},
		MaxTrackedKeys: 10000,
	}
}

type pattern struct {
	accesses   []time.Time
	hitsByTier map[types.TierName]uint64
	misses     uint64
	lastAccess time.Time
}

// Predictor learns which keys are hot and which keys follow which.
type Predictor struct {
	mu     sync.Mutex
	config Config

	patterns map[string]*pattern
	follows  map[string]map[string]int

	lastKey string
	lastAt  time.Time
}

// New creates a predictor, applying defaults for zero values.
func New(config Config) *Predictor {
	if config.Window <= 0 {
		config.Window = 5 * time.Minute
	}
	if config.CoAccessWindow <= 0 {
		config.CoAccessWindow = 10 * time.Second
	}
	if config.PromoteThresholds == nil {
		config.PromoteThresholds = DefaultConfig().PromoteThresholds
	}
	if config.MaxTrackedKeys <= 0 {
		config.MaxTrackedKeys = 10000
	}
	return &Predictor{
		config:   config,
		patterns: make(map[string]*pattern),
		follows:  make(map[string]map[string]int),
	}
}

// RecordAccess feeds one observed read into the model. tier is the tier that
// served the hit; it is ignored for misses.
func (p *Predictor) RecordAccess(key string, tier types.TierName, hit bool) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	pat, ok := p.patterns[key]
	if !ok {
		if len(p.patterns) >= p.config.MaxTrackedKeys {
			p.dropStalest()
		}
		pat = &pattern{hitsByTier: make(map[types.TierName]uint64)}
		p.patterns[key] = pat
	}

	pat.accesses = append(pat.accesses, now)
	pat.lastAccess = now
	p.pruneWindow(pat, now)

	if hit {
		pat.hitsByTier[tier]++
	} else {
		pat.misses++
	}

	// Co-access learning: key follows lastKey if the gap is short enough.
	if p.lastKey != "" && p.lastKey != key && now.Sub(p.lastAt) <= p.config.CoAccessWindow {
		m, ok := p.follows[p.lastKey]
		if !ok {
			m = make(map[string]int)
			p.follows[p.lastKey] = m
		}
		m[key]++
	}
	p.lastKey = key
	p.lastAt = now
}

// ShouldPromote reports whether key's trailing-window access frequency
// clears the target tier's threshold. The frequency is always computed from
// the recorded accesses, never a fixed constant.
func (p *Predictor) ShouldPromote(key string, target types.TierName) bool {
	threshold, ok := p.config.PromoteThresholds[target]
	if !ok {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pat, ok := p.patterns[key]
	if !ok {
		return false
	}
	p.pruneWindow(pat, time.Now())
	return len(pat.accesses) >= threshold
}

// PredictedKeys returns keys historically co-accessed shortly after baseKey,
// ordered by follow count, at most limit entries.
func (p *Predictor) PredictedKeys(baseKey string, limit int) []string {
	if limit <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.follows[baseKey]
	if !ok || len(m) == 0 {
		return nil
	}

	type follower struct {
		key   string
		count int
	}
	ranked := make([]follower, 0, len(m))
	for key, count := range m {
		ranked = append(ranked, follower{key, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].key < ranked[j].key
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	keys := make([]string, len(ranked))
	for i, f := range ranked {
		keys[i] = f.key
	}
	return keys
}

// Confidence returns a recency-decayed score in [0,1] for a key, usable for
// warmup prioritization.
func (p *Predictor) Confidence(key string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	pat, ok := p.patterns[key]
	if !ok {
		return 0
	}

	now := time.Now()
	p.pruneWindow(pat, now)
	if len(pat.accesses) == 0 {
		return 0
	}

	frequency := float64(len(pat.accesses)) / float64(p.config.PromoteThresholds[types.TierHot]+1)
	if frequency > 1 {
		frequency = 1
	}
	age := now.Sub(pat.lastAccess)
	recency := math.Exp(-age.Seconds() / p.config.Window.Seconds())
	return frequency * recency
}

// Forget drops all learned state for a key, called after a delete.
func (p *Predictor) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.patterns, key)
	delete(p.follows, key)
	for _, m := range p.follows {
		delete(m, key)
	}
}

func (p *Predictor) pruneWindow(pat *pattern, now time.Time) {
	cutoff := now.Add(-p.config.Window)
	idx := 0
	for idx < len(pat.accesses) && pat.accesses[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		pat.accesses = pat.accesses[idx:]
	}
}

func (p *Predictor) dropStalest() {
	var stalest string
	var stalestAt time.Time
	for key, pat := range p.patterns {
		if stalest == "" || pat.lastAccess.Before(stalestAt) {
			stalest = key
			stalestAt = pat.lastAccess
		}
	}
	if stalest != "" {
		delete(p.patterns, stalest)
		delete(p.follows, stalest)
	}
}
