package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for bootsync. The zero value is a
// no-op collector so callers never need nil checks.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Item metrics
	itemsExecuted *prometheus.CounterVec

	// Subsystem metrics
	subsystemFailures *prometheus.CounterVec

	// Drift and staged state
	driftEntries  *prometheus.GaugeVec
	stagedChanges *prometheus.GaugeVec

	// Command execution metrics
	commandCalls    *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "bootsync"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"operation"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"operation", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		itemsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_executed_total",
				Help:      "Total number of plan items executed",
			},
			[]string{"operation", "subsystem", "status"},
		),

		subsystemFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subsystem_failures_total",
				Help:      "Total number of whole-subsystem failures",
			},
			[]string{"operation", "subsystem"},
		),

		driftEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drift_entries",
				Help:      "Drift entries found by the last drift run",
			},
			[]string{"subsystem", "origin"},
		),
		stagedChanges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "staged_changes",
				Help:      "Pending changes found by the last staged run",
			},
			[]string{"subsystem"},
		),

		commandCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of external commands executed",
			},
			[]string{"program", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of external command execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"program"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.itemsExecuted,
		m.subsystemFailures,
		m.driftEntries,
		m.stagedChanges,
		m.commandCalls,
		m.commandDuration,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(operation string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(operation).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(operation, status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(operation, status).Inc()
	m.runDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordItem records one executed plan item.
func (m *Metrics) RecordItem(operation, subsystem, status string) {
	if m == nil || m.itemsExecuted == nil {
		return
	}
	m.itemsExecuted.WithLabelValues(operation, subsystem, status).Inc()
}

// RecordSubsystemFailure records a whole-subsystem planning or reporting
// failure.
func (m *Metrics) RecordSubsystemFailure(operation, subsystem string) {
	if m == nil || m.subsystemFailures == nil {
		return
	}
	m.subsystemFailures.WithLabelValues(operation, subsystem).Inc()
}

// SetDriftEntries sets the drift gauge for a subsystem and origin.
func (m *Metrics) SetDriftEntries(subsystem, origin string, count int) {
	if m == nil || m.driftEntries == nil {
		return
	}
	m.driftEntries.WithLabelValues(subsystem, origin).Set(float64(count))
}

// SetStagedChanges sets the staged-changes gauge for a subsystem.
func (m *Metrics) SetStagedChanges(subsystem string, count int) {
	if m == nil || m.stagedChanges == nil {
		return
	}
	m.stagedChanges.WithLabelValues(subsystem).Set(float64(count))
}

// RecordCommand records one external command execution.
func (m *Metrics) RecordCommand(program string, duration time.Duration, success bool) {
	if m == nil || m.commandCalls == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	m.commandCalls.WithLabelValues(program, status).Inc()
	m.commandDuration.WithLabelValues(program).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve starts an HTTP server exposing the metrics endpoint. It returns
// immediately; the server runs until the process exits. Watch mode is the
// expected caller.
func (m *Metrics) Serve(errFn func(error)) {
	if !m.config.Enabled {
		return
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if errFn != nil {
				errFn(err)
			}
		}
	}()
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
