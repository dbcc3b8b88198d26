package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for provisioning transactions.
// A nil *Metrics, or one built from a disabled config, records nothing.
type Metrics struct {
	config MetricsConfig

	// Transaction metrics
	transactionsStarted   prometheus.Counter
	transactionsCompleted *prometheus.CounterVec
	transactionDuration   *prometheus.HistogramVec
	activeTransactions    prometheus.Gauge

	// Phase metrics
	phasesCompleted *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec

	// Operand and action metrics
	operandsProcessed *prometheus.CounterVec
	actionsExecuted   *prometheus.CounterVec
	actionsUndone     *prometheus.CounterVec
	forcedDowngrades  *prometheus.CounterVec

	// Rollback metrics
	rollbacks *prometheus.CounterVec

	// Download metrics
	downloadRequests  *prometheus.CounterVec
	repositoryFetches *prometheus.CounterVec

	// Trust metrics
	trustDecisions *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		transactionsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_started_total",
				Help:      "Total number of provisioning transactions started",
			},
		),
		transactionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_completed_total",
				Help:      "Total number of provisioning transactions completed",
			},
			[]string{"severity"},
		),
		transactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Duration of provisioning transactions in seconds",
				Buckets:   buckets,
			},
			[]string{"severity"},
		),
		activeTransactions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_transactions",
				Help:      "Current number of running transactions",
			},
		),
		phasesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_completed_total",
				Help:      "Total number of phases performed",
			},
			[]string{"phase", "severity"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase execution in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		operandsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operands_processed_total",
				Help:      "Total number of operands processed by a phase",
			},
			[]string{"phase", "kind"},
		),
		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of actions executed",
			},
			[]string{"phase", "action", "severity"},
		),
		actionsUndone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_undone_total",
				Help:      "Total number of action undos",
			},
			[]string{"phase", "action", "severity"},
		),
		forcedDowngrades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forced_downgrades_total",
				Help:      "Total number of action failures downgraded by a forced phase",
			},
			[]string{"phase", "action"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total number of session rollbacks",
			},
			[]string{"severity"},
		),
		downloadRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_requests_total",
				Help:      "Total number of artifact requests by outcome",
			},
			[]string{"result"},
		),
		repositoryFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_fetches_total",
				Help:      "Total number of repository fetch passes",
			},
			[]string{"repository", "severity"},
		),
		trustDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trust_decisions_total",
				Help:      "Total number of certificate checker outcomes",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.transactionsStarted,
		m.transactionsCompleted,
		m.transactionDuration,
		m.activeTransactions,
		m.phasesCompleted,
		m.phaseDuration,
		m.operandsProcessed,
		m.actionsExecuted,
		m.actionsUndone,
		m.forcedDowngrades,
		m.rollbacks,
		m.downloadRequests,
		m.repositoryFetches,
		m.trustDecisions,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Transaction Metrics

// RecordTransactionStarted increments the counter for started transactions.
func (m *Metrics) RecordTransactionStarted() {
	if !m.enabled() {
		return
	}
	m.transactionsStarted.Inc()
	m.activeTransactions.Inc()
}

// RecordTransactionCompleted records a completed transaction with its final severity.
func (m *Metrics) RecordTransactionCompleted(severity string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.transactionsCompleted.WithLabelValues(severity).Inc()
	m.transactionDuration.WithLabelValues(severity).Observe(duration.Seconds())
	m.activeTransactions.Dec()
}

// Phase Metrics

// RecordPhase records one phase run.
func (m *Metrics) RecordPhase(phase, severity string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.phasesCompleted.WithLabelValues(phase, severity).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordOperand records an operand visited by a phase.
func (m *Metrics) RecordOperand(phase, kind string) {
	if !m.enabled() {
		return
	}
	m.operandsProcessed.WithLabelValues(phase, kind).Inc()
}

// RecordAction records one action execution.
func (m *Metrics) RecordAction(phase, action, severity string) {
	if !m.enabled() {
		return
	}
	m.actionsExecuted.WithLabelValues(phase, action, severity).Inc()
}

// RecordUndo records one action undo.
func (m *Metrics) RecordUndo(phase, action, severity string) {
	if !m.enabled() {
		return
	}
	m.actionsUndone.WithLabelValues(phase, action, severity).Inc()
}

// RecordForcedDowngrade records an action failure absorbed by a forced phase.
func (m *Metrics) RecordForcedDowngrade(phase, action string) {
	if !m.enabled() {
		return
	}
	m.forcedDowngrades.WithLabelValues(phase, action).Inc()
}

// RecordRollback records a session rollback.
func (m *Metrics) RecordRollback(severity string) {
	if !m.enabled() {
		return
	}
	m.rollbacks.WithLabelValues(severity).Inc()
}

// Download Metrics

// RecordDownloads adds n requests with the given result (fetched, failed, skipped).
func (m *Metrics) RecordDownloads(result string, n int) {
	if !m.enabled() || n <= 0 {
		return
	}
	m.downloadRequests.WithLabelValues(result).Add(float64(n))
}

// RecordRepositoryFetch records one repository pass.
func (m *Metrics) RecordRepositoryFetch(repository, severity string) {
	if !m.enabled() {
		return
	}
	m.repositoryFetches.WithLabelValues(repository, severity).Inc()
}

// Trust Metrics

// RecordTrustDecision records a certificate checker outcome.
func (m *Metrics) RecordTrustDecision(outcome string) {
	if !m.enabled() {
		return
	}
	m.trustDecisions.WithLabelValues(outcome).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.enabled() {
		return nil
	}
	logger = OrNop(logger)

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
