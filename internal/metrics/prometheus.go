// Package metrics provides Prometheus metrics for the k1serial server.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "k1serial"

// Metrics holds the request-path counters. A nil *Metrics records nothing.
type Metrics struct {
	AuthAttempts    *prometheus.CounterVec
	SerialsIngested *prometheus.CounterVec
	Registrations   *prometheus.CounterVec
	QueueRetries    *prometheus.CounterVec
}

// NewPrometheusMetrics creates the counters and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Signed upload authentication attempts by result and strategy.",
		}, []string{"result", "strategy"}),
		SerialsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serials_ingested_total",
			Help:      "Ingested rows by outcome (added, duplicate, skipped).",
		}, []string{"result"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Key registry actions.",
		}, []string{"action"}),
		QueueRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_queue_retries_total",
			Help:      "Offline queue delivery retries by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.AuthAttempts, m.SerialsIngested, m.Registrations, m.QueueRetries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordAuth counts one authentication attempt.
func (m *Metrics) RecordAuth(result, strategy string) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	m.AuthAttempts.WithLabelValues(result, strategy).Inc()
}

// RecordIngest counts the row outcomes of one ingestion.
func (m *Metrics) RecordIngest(added, duplicate, skipped int) {
	if m == nil {
		return
	}
	m.SerialsIngested.WithLabelValues("added").Add(float64(added))
	m.SerialsIngested.WithLabelValues("duplicate").Add(float64(duplicate))
	m.SerialsIngested.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordRegistration counts one key registry action.
func (m *Metrics) RecordRegistration(action string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(action).Inc()
}

// RecordQueueRetry counts one offline queue delivery attempt.
func (m *Metrics) RecordQueueRetry(result string) {
	if m == nil {
		return
	}
	m.QueueRetries.WithLabelValues(result).Inc()
}

// Handler returns the exposition handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StateStore reads the current row counts exported as gauges.
type StateStore interface {
	CountRegistrationsByStatus(ctx context.Context) (map[string]int64, error)
	CountOfflineQueueByStatus(ctx context.Context) (map[string]int64, error)
}

// StateCollector exports registry and queue sizes, read from the store at
// scrape time and cached briefly.
type StateCollector struct {
	store  StateStore
	logger zerolog.Logger

	registrations *prometheus.Desc
	queue         *prometheus.Desc

	mu            sync.Mutex
	lastCollected time.Time
	cached        stateSnapshot
	cacheExpiry   time.Duration
}

type stateSnapshot struct {
	registrations map[string]int64
	queue         map[string]int64
}

// NewStateCollector creates a collector over store.
func NewStateCollector(store StateStore, logger zerolog.Logger) *StateCollector {
	return &StateCollector{
		store:  store,
		logger: logger.With().Str("component", "state_collector").Logger(),
		registrations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "key_registrations"),
			"Key registrations by status.", []string{"status"}, nil),
		queue: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "offline_queue_entries"),
			"Offline queue entries by status.", []string{"status"}, nil),
		cacheExpiry: 15 * time.Second,
	}
}

// Describe implements prometheus.Collector.
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.registrations
	ch <- c.queue
}

// Collect implements prometheus.Collector.
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()
	for status, n := range snap.registrations {
		ch <- prometheus.MustNewConstMetric(c.registrations, prometheus.GaugeValue, float64(n), status)
	}
	for status, n := range snap.queue {
		ch <- prometheus.MustNewConstMetric(c.queue, prometheus.GaugeValue, float64(n), status)
	}
}

func (c *StateCollector) snapshot() stateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCollected.IsZero() && time.Since(c.lastCollected) < c.cacheExpiry {
		return c.cached
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := stateSnapshot{}
	var err error
	if snap.registrations, err = c.store.CountRegistrationsByStatus(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to collect registration counts")
	}
	if snap.queue, err = c.store.CountOfflineQueueByStatus(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to collect offline queue counts")
	}

	c.cached = snap
	c.lastCollected = time.Now()
	return snap
}
