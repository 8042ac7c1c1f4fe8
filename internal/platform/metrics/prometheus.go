package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

// Reservation outcomes.
const (
	OutcomeReserved = "reserved"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// MetricsManager holds the service's Prometheus collectors. All recording
// methods are safe on a nil receiver so tests can skip metrics entirely.
type MetricsManager struct {
	Registry               *prometheus.Registry
	ListingsCreatedTotal   prometheus.Counter
	ReservationsTotal      *prometheus.CounterVec
	TransactionsCompleted  *prometheus.CounterVec
	TransactionsCancelled  prometheus.Counter
	ActivityRecordFailures prometheus.Counter
	ReconcilerRepairsTotal *prometheus.CounterVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestLatency     *prometheus.HistogramVec
}

// NewMetricsManager creates and registers the collectors on a private registry.
func NewMetricsManager(namespace string) *MetricsManager {
	registry := prometheus.NewRegistry()

	m := &MetricsManager{
		Registry: registry,
		ListingsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_created_total",
			Help:      "Total number of listings created.",
		}),
		ReservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		}, []string{"outcome"}),
		TransactionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_completed_total",
			Help:      "Completed transactions by completion method.",
		}, []string{"method"}),
		TransactionsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_cancelled_total",
			Help:      "Total number of cancelled transactions.",
		}),
		ActivityRecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_record_failures_total",
			Help:      "Activity records that could not be persisted.",
		}),
		ReconcilerRepairsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_repairs_total",
			Help:      "Listings and users repaired by the reconciler, by kind.",
		}, []string{"kind"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		HTTPRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_latency_seconds",
			Help:      "Latency of HTTP requests by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	registry.MustRegister(
		m.ListingsCreatedTotal,
		m.ReservationsTotal,
		m.TransactionsCompleted,
		m.TransactionsCancelled,
		m.ActivityRecordFailures,
		m.ReconcilerRepairsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *MetricsManager) ListingCreated() {
	if m == nil {
		return
	}
	m.ListingsCreatedTotal.Inc()
}

func (m *MetricsManager) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.ReservationsTotal.WithLabelValues(outcome).Inc()
}

func (m *MetricsManager) TransactionCompleted(method string) {
	if m == nil {
		return
	}
	m.TransactionsCompleted.WithLabelValues(method).Inc()
}

func (m *MetricsManager) TransactionCancelled() {
	if m == nil {
		return
	}
	m.TransactionsCancelled.Inc()
}

func (m *MetricsManager) ActivityRecordFailed() {
	if m == nil {
		return
	}
	m.ActivityRecordFailures.Inc()
}

func (m *MetricsManager) ReconcilerRepair(kind string) {
	if m == nil {
		return
	}
	m.ReconcilerRepairsTotal.WithLabelValues(kind).Inc()
}

// Handler exposes the private registry.
func (m *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// NewMetricsServer returns a dedicated metrics HTTP server, or nil when no
// port is configured.
func NewMetricsServer(port string, appLogger *logger.Logger, m *MetricsManager) *http.Server {
	if port == "" {
		appLogger.Info("Prometheus metrics port not configured, metrics served on the main router only")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	appLogger.Info("Prometheus metrics server configured", zap.String("port", port), zap.String("path", "/metrics"))
	return &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}
}
