// Package analytics records cache traffic and derives rolling statistics.
// It only observes; it never mutates cache state.
package analytics

import (
	"sort"
	"sync"
	"time"

	"github.com/stratacache/stratacache/pkg/types"
)

// Config bounds the recorder's memory.
type Config struct {
	TopKeys   int `yaml:"top_keys"`
	MaxErrors int `yaml:"max_errors"`

	// MaxTrackedKeys bounds per-key state; the stalest key is dropped when
	// a new key would exceed it.
	MaxTrackedKeys int `yaml:"max_tracked_keys"`
}

// KeyStats tracks per-key traffic.
type KeyStats struct {
	Key        string                    `json:"key"`
	Requests   uint64                    `json:"requests"`
	HitsByTier map[types.TierName]uint64 `json:"hits_by_tier"`
	Misses     uint64                    `json:"misses"`
	Writes     uint64                    `json:"writes"`
	LastSeen   time.Time                 `json:"last_seen"`
}

// ErrorRecord is one recorded failure.
type ErrorRecord struct {
	Key       string    `json:"key"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is a derived snapshot of the recorded traffic.
type Report struct {
	Requests        uint64        `json:"requests"`
	Hits            uint64        `json:"hits"`
	Misses          uint64        `json:"misses"`
	Writes          uint64        `json:"writes"`
	HitRate         float64       `json:"hit_rate"`
	ErrorRate       float64       `json:"error_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	TopKeys         []KeyStats    `json:"top_keys"`
	RecentErrors    []ErrorRecord `json:"recent_errors"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// Analytics is the traffic recorder.
type Analytics struct {
	mu     sync.RWMutex
	config Config

	keys   map[string]*KeyStats
	errors []ErrorRecord

	requests     uint64
	hits         uint64
	misses       uint64
	writes       uint64
	totalErrors  uint64
	latencySum   time.Duration
	latencyCount uint64
}

// New creates a recorder, applying defaults for zero bounds.
func New(config Config) *Analytics {
	if config.TopKeys <= 0 {
		config.TopKeys = 10
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = 256
	}
	if config.MaxTrackedKeys <= 0 {
		config.MaxTrackedKeys = 10000
	}
	return &Analytics{
		config: config,
		keys:   make(map[string]*KeyStats),
	}
}

// RecordRequest records one read against a key. tier is the tier that served
// the hit and is ignored for misses.
func (a *Analytics) RecordRequest(key string, tier types.TierName, hit bool, latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ks := a.keyStats(key)
	ks.Requests++
	ks.LastSeen = time.Now()

	a.requests++
	a.latencySum += latency
	a.latencyCount++

	if hit {
		a.hits++
		ks.HitsByTier[tier]++
	} else {
		a.misses++
		ks.Misses++
	}
}

// RecordWrite records one write against a key.
func (a *Analytics) RecordWrite(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ks := a.keyStats(key)
	ks.Writes++
	ks.LastSeen = time.Now()
	a.writes++
}

// RecordError records a failure associated with a key. The error log is
// bounded; the oldest record is dropped on overflow.
func (a *Analytics) RecordError(key string, err error) {
	if err == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalErrors++
	a.errors = append(a.errors, ErrorRecord{
		Key:       key,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
	if len(a.errors) > a.config.MaxErrors {
		a.errors = a.errors[1:]
	}
}

// Snapshot derives a report from the recorded traffic.
func (a *Analytics) Snapshot() Report {
	a.mu.RLock()
	defer a.mu.RUnlock()

	report := Report{
		Requests:    a.requests,
		Hits:        a.hits,
		Misses:      a.misses,
		Writes:      a.writes,
		GeneratedAt: time.Now(),
	}

	if total := a.hits + a.misses; total > 0 {
		report.HitRate = float64(a.hits) / float64(total)
	}
	if a.requests > 0 {
		report.ErrorRate = float64(a.totalErrors) / float64(a.requests)
	}
	if a.latencyCount > 0 {
		report.AvgResponseTime = a.latencySum / time.Duration(a.latencyCount)
	}

	ranked := make([]KeyStats, 0, len(a.keys))
	for _, ks := range a.keys {
		ranked = append(ranked, copyKeyStats(ks))
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Requests != ranked[j].Requests {
			return ranked[i].Requests > ranked[j].Requests
		}
		return ranked[i].Key < ranked[j].Key
	})
	if len(ranked) > a.config.TopKeys {
		ranked = ranked[:a.config.TopKeys]
	}
	report.TopKeys = ranked

	report.RecentErrors = append([]ErrorRecord(nil), a.errors...)
	return report
}

// KeyStats returns a copy of the stats for one key, or nil if unseen.
func (a *Analytics) KeyStats(key string) *KeyStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ks, ok := a.keys[key]
	if !ok {
		return nil
	}
	out := copyKeyStats(ks)
	return &out
}

func (a *Analytics) keyStats(key string) *KeyStats {
	ks, ok := a.keys[key]
	if !ok {
		if len(a.keys) >= a.config.MaxTrackedKeys {
			a.dropStalest()
		}
		ks = &KeyStats{
			Key:        key,
			HitsByTier: make(map[types.TierName]uint64),
		}
		a.keys[key] = ks
	}
	return ks
}

func (a *Analytics) dropStalest() {
	var stalest string
	var stalestAt time.Time
	for key, ks := range a.keys {
		if stalest == "" || ks.LastSeen.Before(stalestAt) {
			stalest = key
			stalestAt = ks.LastSeen
		}
	}
	if stalest != "" {
		delete(a.keys, stalest)
	}
}

func copyKeyStats(ks *KeyStats) KeyStats {
	out := *ks
	out.HitsByTier = make(map[types.TierName]uint64, len(ks.HitsByTier))
	for tier, n := range ks.HitsByTier {
		out.HitsByTier[tier] = n
	}
	return out
}
