package analytics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratacache/stratacache/pkg/types"
)

// ExporterConfig configures the Prometheus exporter.
type ExporterConfig struct {
	Namespace string `yaml:"namespace"`
}

// Exporter publishes cache metrics to a dedicated Prometheus registry.
type Exporter struct {
	registry *prometheus.Registry

	requestCounter *prometheus.CounterVec
	latencyHist    *prometheus.HistogramVec
	writeCounter   prometheus.Counter
	errorCounter   prometheus.Counter
	tierSize       *prometheus.GaugeVec
	tierHitRate    *prometheus.GaugeVec
	tierEvictions  *prometheus.GaugeVec
	promotions     *prometheus.CounterVec
}

// NewExporter creates and registers the metric set.
func NewExporter(config ExporterConfig) (*Exporter, error) {
	if config.Namespace == "" {
		config.Namespace = "stratacache"
	}

	registry := prometheus.NewRegistry()

	e := &Exporter{
		registry: registry,
		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "requests_total",
			Help:      "Cache read requests by serving tier and result",
		}, []string{"tier", "result"}),
		latencyHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Cache read latency by result",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"result"}),
		writeCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "writes_total",
			Help:      "Cache writes",
		}),
		errorCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "errors_total",
			Help:      "Tier operation errors",
		}),
		tierSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "tier_entries",
			Help:      "Entries held per tier",
		}, []string{"tier"}),
		tierHitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "tier_hit_rate",
			Help:      "Hit rate per tier, recomputed from live counters",
		}, []string{"tier"}),
		tierEvictions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "tier_evictions_total",
			Help:      "Evictions per tier",
		}, []string{"tier"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "promotions_total",
			Help:      "Entries promoted between tiers",
		}, []string{"from", "to"}),
	}

	for _, collector := range []prometheus.Collector{
		e.requestCounter, e.latencyHist, e.writeCounter, e.errorCounter,
		e.tierSize, e.tierHitRate, e.tierEvictions, e.promotions,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// ObserveRequest records one read outcome.
func (e *Exporter) ObserveRequest(tier types.TierName, hit bool, latency time.Duration) {
	result := "miss"
	label := "none"
	if hit {
		result = "hit"
		label = string(tier)
	}
	e.requestCounter.WithLabelValues(label, result).Inc()
	e.latencyHist.WithLabelValues(result).Observe(latency.Seconds())
}

// ObserveWrite records one write.
func (e *Exporter) ObserveWrite() {
	e.writeCounter.Inc()
}

// ObserveError records one tier failure.
func (e *Exporter) ObserveError() {
	e.errorCounter.Inc()
}

// ObservePromotion records an entry copied to a hotter tier.
func (e *Exporter) ObservePromotion(from, to types.TierName) {
	e.promotions.WithLabelValues(string(from), string(to)).Inc()
}

// UpdateTier publishes a tier's metrics snapshot.
func (e *Exporter) UpdateTier(name types.TierName, m types.LayerMetrics) {
	e.tierSize.WithLabelValues(string(name)).Set(float64(m.Size))
	e.tierHitRate.WithLabelValues(string(name)).Set(m.HitRate)
	e.tierEvictions.WithLabelValues(string(name)).Set(float64(m.Evictions))
}

// Handler returns the scrape handler for the exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
