package ai

import (
	"strconv"
	"sync"
	"time"

	"github.com/stratacache/stratacache/pkg/types"
)

// WorkloadClass buckets AI traffic by what it caches.
type WorkloadClass string

const (
	WorkloadModel     WorkloadClass = "model"
	WorkloadEmbedding WorkloadClass = "embedding"
	WorkloadInference WorkloadClass = "inference"
)

type workloadStats struct {
	Requests   uint64
	Hits       uint64
	Bytes      int64
	latencySum time.Duration
}

// WorkloadAnalyzer keeps rolling per-class counters and turns them into
// tuning suggestions.
type WorkloadAnalyzer struct {
	mu      sync.Mutex
	classes map[WorkloadClass]*workloadStats
}

// NewWorkloadAnalyzer builds an empty analyzer.
func NewWorkloadAnalyzer() *WorkloadAnalyzer {
	return &WorkloadAnalyzer{classes: make(map[WorkloadClass]*workloadStats)}
}

// Record feeds one observed request into the class counters.
func (w *WorkloadAnalyzer) Record(class WorkloadClass, hit bool, size int64, latency time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	stats, ok := w.classes[class]
	if !ok {
		stats = &workloadStats{}
		w.classes[class] = stats
	}
	stats.Requests++
	if hit {
		stats.Hits++
	}
	stats.Bytes += size
	stats.latencySum += latency
}

// WorkloadSuggestion is one tuning recommendation for a workload class.
type WorkloadSuggestion struct {
	Class    WorkloadClass
	Requests uint64
	HitRate  float64
	Action   string
}

// Suggestions derives per-class recommendations from the counters: classes
// with heavy traffic and poor hit rates are flagged for longer TTLs or more
// capacity.
func (w *WorkloadAnalyzer) Suggestions() []WorkloadSuggestion {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []WorkloadSuggestion
	for class, stats := range w.classes {
		if stats.Requests == 0 {
			continue
		}
		hitRate := float64(stats.Hits) / float64(stats.Requests)
		s := WorkloadSuggestion{Class: class, Requests: stats.Requests, HitRate: hitRate}
		switch {
		case stats.Requests >= 10 && hitRate < 0.5:
			s.Action = "increase-ttl"
		case hitRate > 0.9:
			s.Action = "steady"
		default:
			s.Action = "observe"
		}
		out = append(out, s)
	}
	return out
}

// Reset clears the counters, starting a fresh observation window.
func (w *WorkloadAnalyzer) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.classes = make(map[WorkloadClass]*workloadStats)
}

// AnalyzeWorkload snapshots the analyzer, emits an ai-workload-optimized
// event carrying the suggestions, and resets the observation window.
func (l *Layer) AnalyzeWorkload() []WorkloadSuggestion {
	suggestions := l.workload.Suggestions()
	if len(suggestions) == 0 {
		return nil
	}

	details := make(map[string]string, len(suggestions))
	for _, s := range suggestions {
		details[string(s.Class)] = s.Action + " hit_rate=" + strconv.FormatFloat(s.HitRate, 'f', 2, 64)
	}
	l.emit(types.Event{
		Type:      types.EventWorkloadOptimized,
		Count:     len(suggestions),
		Timestamp: time.Now(),
		Details:   details,
	})
	l.workload.Reset()
	return suggestions
}
