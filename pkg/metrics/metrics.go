// Package metrics exposes Prometheus metrics for the book pipeline
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BookMetrics collects counters for book maintenance and delivery
type BookMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Book maintenance metrics
	updatesApplied prometheus.Counter
	recapsApplied  prometheus.Counter
	gapsDetected   prometheus.Counter
	bookDepth      prometheus.GaugeVec
	applyLatency   prometheus.Histogram

	// Delivery metrics
	deltasDispatched   prometheus.Counter
	conflationFlushes  prometheus.Counter
	conflationPending  prometheus.Gauge
	natsPublished      prometheus.Counter
	snapshotsPersisted prometheus.Counter

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// NewBookMetrics creates and registers the pipeline metrics
func NewBookMetrics(namespace string, logger log.Logger) (*BookMetrics, error) {
	registry := prometheus.NewRegistry()

	m := &BookMetrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		updatesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_updates_applied_total",
			Help:      "Total book update events applied",
		}),

		recapsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_recaps_applied_total",
			Help:      "Total recap images applied",
		}),

		gapsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_gaps_detected_total",
			Help:      "Total sequence gaps detected",
		}),

		bookDepth: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_depth_levels",
			Help:      "Current book depth by side",
		}, []string{"symbol", "side"}),

		applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "book_apply_latency_nanoseconds",
			Help:      "Update application latency in nanoseconds",
			Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
		}),

		deltasDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_deltas_dispatched_total",
			Help:      "Total delta callbacks invoked",
		}),

		conflationFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflation_flushes_total",
			Help:      "Total conflation buffer flushes",
		}),

		conflationPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conflation_pending_levels",
			Help:      "Levels currently buffered for conflation",
		}),

		natsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_messages_published_total",
			Help:      "Total NATS messages published",
		}),

		snapshotsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_persisted_total",
			Help:      "Total book snapshots written to the store",
		}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.updatesApplied,
		m.recapsApplied,
		m.gapsDetected,
		m.bookDepth,
		m.applyLatency,
		m.deltasDispatched,
		m.conflationFlushes,
		m.conflationPending,
		m.natsPublished,
		m.snapshotsPersisted,
		m.memoryUsage,
		m.goroutines,
	)

	logger.Info("Book metrics initialized", "namespace", namespace)
	return m, nil
}

// StartServer starts the Prometheus scrape endpoint
func (m *BookMetrics) StartServer(port string) error {
	m.logger.Info("Starting Prometheus metrics server", "port", port)

	http.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()

	return nil
}

// RecordUpdate records one applied update event
func (m *BookMetrics) RecordUpdate() {
	m.updatesApplied.Inc()
}

// RecordRecap records one applied recap image
func (m *BookMetrics) RecordRecap() {
	m.recapsApplied.Inc()
}

// RecordGap records one detected sequence gap
func (m *BookMetrics) RecordGap() {
	m.gapsDetected.Inc()
}

// RecordDelta records one delta callback invocation
func (m *BookMetrics) RecordDelta() {
	m.deltasDispatched.Inc()
}

// RecordConflationFlush records one conflation buffer flush
func (m *BookMetrics) RecordConflationFlush() {
	m.conflationFlushes.Inc()
}

// SetConflationPending updates the buffered level count
func (m *BookMetrics) SetConflationPending(n float64) {
	m.conflationPending.Set(n)
}

// RecordNATSPublish records one published NATS message
func (m *BookMetrics) RecordNATSPublish() {
	m.natsPublished.Inc()
}

// RecordSnapshotPersisted records one snapshot written to the store
func (m *BookMetrics) RecordSnapshotPersisted() {
	m.snapshotsPersisted.Inc()
}

// RecordApplyLatency records update application latency
func (m *BookMetrics) RecordApplyLatency(nanoseconds float64) {
	m.applyLatency.Observe(nanoseconds)
}

// UpdateBookDepth updates the per-side depth gauge
func (m *BookMetrics) UpdateBookDepth(symbol, side string, depth float64) {
	m.bookDepth.WithLabelValues(symbol, side).Set(depth)
}

// CollectSystemMetrics samples runtime stats until ctx is done
func (m *BookMetrics) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// LogMetrics logs a snapshot of the runtime state
func (m *BookMetrics) LogMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.logger.Info("Current metrics snapshot",
		"memory_mb", memStats.Alloc/1024/1024,
		"goroutines", runtime.NumGoroutine(),
	)
}
