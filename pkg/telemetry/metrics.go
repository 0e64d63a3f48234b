package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for synthesis passes. A nil or disabled
// Metrics is valid and records nothing.
type Metrics struct {
	config MetricsConfig

	// Pass metrics
	passesStarted   prometheus.Counter
	passesCompleted *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec
	nodesVisited    prometheus.Histogram

	// Aspect metrics
	mutations     *prometheus.CounterVec
	visitorErrors *prometheus.CounterVec

	// Context lookup metrics
	lookups        *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

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

		passesStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_started_total",
				Help:      "Total number of synthesis passes started",
			},
		),
		passesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_completed_total",
				Help:      "Total number of synthesis passes completed",
			},
			[]string{"status"},
		),
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Duration of synthesis passes in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		nodesVisited: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_nodes",
				Help:      "Number of tree nodes per pass",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Total number of property mutations applied by aspects",
			},
			[]string{"role", "rule"},
		),
		visitorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visitor_errors_total",
				Help:      "Total number of aspect visitors halted by an error",
			},
			[]string{"visitor", "class"},
		),

		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_lookups_total",
				Help:      "Total number of context lookups by outcome",
			},
			[]string{"kind", "outcome", "cached"},
		),
		lookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "context_lookup_duration_seconds",
				Help:      "Duration of uncached context lookups in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.passesStarted,
		m.passesCompleted,
		m.passDuration,
		m.nodesVisited,
		m.mutations,
		m.visitorErrors,
		m.lookups,
		m.lookupDuration,
		m.policyViolations,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Pass Metrics

// RecordPassStarted increments the counter for started passes.
func (m *Metrics) RecordPassStarted() {
	if !m.enabled() {
		return
	}
	m.passesStarted.Inc()
}

// RecordPassCompleted records a finished pass with its status, duration and tree size.
func (m *Metrics) RecordPassCompleted(status string, duration time.Duration, nodes int) {
	if !m.enabled() {
		return
	}
	m.passesCompleted.WithLabelValues(status).Inc()
	m.passDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.nodesVisited.Observe(float64(nodes))
}

// Aspect Metrics

// RecordMutation records one applied mutation.
func (m *Metrics) RecordMutation(role, rule string) {
	if !m.enabled() {
		return
	}
	m.mutations.WithLabelValues(role, rule).Inc()
}

// RecordVisitorError records a visitor halted by an error of the given class.
func (m *Metrics) RecordVisitorError(visitor, class string) {
	if !m.enabled() {
		return
	}
	m.visitorErrors.WithLabelValues(visitor, class).Inc()
}

// Context Lookup Metrics

// RecordLookup records a resolved context lookup. Only uncached lookups
// contribute to the duration histogram.
func (m *Metrics) RecordLookup(kind, outcome string, cached bool, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.lookups.WithLabelValues(kind, outcome, strconv.FormatBool(cached)).Inc()
	if !cached {
		m.lookupDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// Policy Metrics

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
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
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is done. Serve
// errors are sent on the returned channel.
func (m *Metrics) StartMetricsServer(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	if !m.enabled() {
		close(errCh)
		return errCh
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		defer close(errCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh
}
