// Package metrics records entity manager activity. The Prometheus recorder
// registers its collectors on a caller-supplied registerer so several
// managers (and tests) can coexist in one process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Batch modes reported by Recorder.BatchApplied.
const (
	ModeSync   = "sync"
	ModeWorker = "worker"
)

// Recorder receives manager events.
type Recorder interface {
	CacheHit(entityType string)
	CacheMiss(entityType string)
	CacheEvicted(entityType string, entries int)
	Denormalized(entityType string)
	BatchApplied(entityType, mode string, entities int, err error, duration time.Duration)
	InFlight(delta int)
}

type noopRecorder struct{}

func (noopRecorder) CacheHit(string)                                        {}
func (noopRecorder) CacheMiss(string)                                       {}
func (noopRecorder) CacheEvicted(string, int)                               {}
func (noopRecorder) Denormalized(string)                                    {}
func (noopRecorder) BatchApplied(string, string, int, error, time.Duration) {}
func (noopRecorder) InFlight(int)                                           {}

// Noop returns a recorder that ignores every event.
func Noop() Recorder { return noopRecorder{} }

// PrometheusRecorder exports manager activity as Prometheus collectors.
type PrometheusRecorder struct {
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	denormalized  *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchEntities *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
}

// NewPrometheusRecorder builds the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_denormalized_cache_hits_total",
			Help: "Denormalized list entries served from cache.",
		}, []string{"type"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_denormalized_cache_misses_total",
			Help: "Denormalized list entries that had to be recomputed.",
		}, []string{"type"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_denormalized_cache_evictions_total",
			Help: "Denormalized cache entries removed after the debounce delay.",
		}, []string{"type"}),
		denormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_denormalize_calls_total",
			Help: "Calls into the normalizer's denormalize.",
		}, []string{"type"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_add_batches_total",
			Help: "addEntities batches by normalization mode and outcome.",
		}, []string{"type", "mode", "status"}),
		batchEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_add_batch_entities_total",
			Help: "Raw entities submitted through addEntities.",
		}, []string{"type", "mode"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entitystore_add_batch_duration_seconds",
			Help:    "Time from addEntities call to store dispatch.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"mode"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entitystore_worker_requests_in_flight",
			Help: "Worker normalization requests not yet applied to the store.",
		}),
	}
	for _, c := range []prometheus.Collector{
		r.cacheHits, r.cacheMisses, r.evictions, r.denormalized,
		r.batches, r.batchEntities, r.batchDuration, r.inFlight,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CacheHit implements Recorder.
func (r *PrometheusRecorder) CacheHit(entityType string) {
	r.cacheHits.WithLabelValues(entityType).Inc()
}

// CacheMiss implements Recorder.
func (r *PrometheusRecorder) CacheMiss(entityType string) {
	r.cacheMisses.WithLabelValues(entityType).Inc()
}

// CacheEvicted implements Recorder.
func (r *PrometheusRecorder) CacheEvicted(entityType string, entries int) {
	r.evictions.WithLabelValues(entityType).Add(float64(entries))
}

// Denormalized implements Recorder.
func (r *PrometheusRecorder) Denormalized(entityType string) {
	r.denormalized.WithLabelValues(entityType).Inc()
}

// BatchApplied implements Recorder.
func (r *PrometheusRecorder) BatchApplied(entityType, mode string, entities int, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.batches.WithLabelValues(entityType, mode, status).Inc()
	r.batchEntities.WithLabelValues(entityType, mode).Add(float64(entities))
	r.batchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// InFlight implements Recorder.
func (r *PrometheusRecorder) InFlight(delta int) {
	r.inFlight.Add(float64(delta))
}
