package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes recorded on agent_state_fetches_total.
const (
	FetchOutcomeOK           = "ok"
	FetchOutcomeTransport    = "transport_error"
	FetchOutcomeInconsistent = "inconsistent"
	FetchOutcomeMigration    = "migration_error"
	FetchOutcomeStore        = "store_error"
)

// Metrics provides Prometheus metrics for fleetrecon.
type Metrics struct {
	config MetricsConfig

	// Preparation metrics
	preparationsCompleted *prometheus.CounterVec
	preparationDuration   *prometheus.HistogramVec

	// Collection metrics
	stateFetches       *prometheus.CounterVec
	stateFetchDuration *prometheus.HistogramVec
	inconsistencies    *prometheus.CounterVec
	collectedStates    prometheus.Gauge

	// Record maintenance metrics
	orphanVMsScheduled prometheus.Counter
	instanceRenames    prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry

	serverMu sync.Mutex
	server   *http.Server
	addr     string
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics: every recorder checks for nil collectors.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		preparationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preparations_completed_total",
				Help:      "Total number of deployment preparations completed",
			},
			[]string{"status"},
		),
		preparationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "preparation_duration_seconds",
				Help:      "Duration of deployment preparation in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		stateFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_state_fetches_total",
				Help:      "Total number of agent state fetches by outcome",
			},
			[]string{"outcome"},
		),
		stateFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_state_fetch_duration_seconds",
				Help:      "Duration of agent state fetch, verify and migrate in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		inconsistencies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_inconsistencies_total",
				Help:      "Total number of agent states rejected by verification",
			},
			[]string{"kind"},
		),
		collectedStates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "collected_states",
				Help:      "Number of instance states returned by the last collection",
			},
		),

		orphanVMsScheduled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphan_vms_scheduled_total",
				Help:      "Total number of orphan VMs scheduled for deletion",
			},
		),
		instanceRenames: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instance_renames_total",
				Help:      "Total number of instances whose job was renamed",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.preparationsCompleted,
		m.preparationDuration,
		m.stateFetches,
		m.stateFetchDuration,
		m.inconsistencies,
		m.collectedStates,
		m.orphanVMsScheduled,
		m.instanceRenames,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// NopMetrics returns a metrics instance that records nothing.
func NopMetrics() *Metrics {
	return &Metrics{}
}

// Preparation Metrics

// RecordPreparation records a finished deployment preparation.
func (m *Metrics) RecordPreparation(status string, duration time.Duration) {
	if m == nil || m.preparationsCompleted == nil {
		return
	}
	m.preparationsCompleted.WithLabelValues(status).Inc()
	m.preparationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Collection Metrics

// RecordStateFetch records one VM's fetch-verify-migrate pipeline.
func (m *Metrics) RecordStateFetch(outcome string, duration time.Duration) {
	if m == nil || m.stateFetches == nil {
		return
	}
	m.stateFetches.WithLabelValues(outcome).Inc()
	m.stateFetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordInconsistency records a verification failure by kind.
func (m *Metrics) RecordInconsistency(kind string) {
	if m == nil || m.inconsistencies == nil {
		return
	}
	m.inconsistencies.WithLabelValues(kind).Inc()
}

// SetCollectedStates sets the size of the last collected state set.
func (m *Metrics) SetCollectedStates(count int) {
	if m == nil || m.collectedStates == nil {
		return
	}
	m.collectedStates.Set(float64(count))
}

// Record Maintenance Metrics

// RecordOrphanVMsScheduled adds n orphan VMs scheduled for deletion.
func (m *Metrics) RecordOrphanVMsScheduled(n int) {
	if m == nil || m.orphanVMsScheduled == nil {
		return
	}
	m.orphanVMsScheduled.Add(float64(n))
}

// RecordInstanceRenames adds n renamed instances.
func (m *Metrics) RecordInstanceRenames(n int) {
	if m == nil || m.instanceRenames == nil {
		return
	}
	m.instanceRenames.Add(float64(n))
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer binds ListenAddress and serves the registry until
// Shutdown. It does nothing when metrics are disabled, no address is
// configured or the server is already running.
func (m *Metrics) StartMetricsServer(logger *Logger) error {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}
	if logger == nil {
		logger = NopLogger()
	}

	m.serverMu.Lock()
	defer m.serverMu.Unlock()
	if m.server != nil {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	listener, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.server = server
	m.addr = listener.Addr().String()

	logger = logger.WithField("address", m.addr)
	logger.Debug("Serving metrics")

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	return nil
}

// Addr returns the address the metrics server is bound to, or "" when it
// is not running.
func (m *Metrics) Addr() string {
	if m == nil {
		return ""
	}
	m.serverMu.Lock()
	defer m.serverMu.Unlock()
	return m.addr
}

// Shutdown stops the metrics server and releases its address.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.serverMu.Lock()
	server := m.server
	m.server, m.addr = nil, ""
	m.serverMu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}
	return nil
}
