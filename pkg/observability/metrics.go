package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Sign-in metrics
	SignInTotal *prometheus.CounterVec

	// Secondary token metrics
	ProbesTotal        *prometheus.CounterVec
	ProbeDuration      *prometheus.HistogramVec
	RecoveriesTotal    *prometheus.CounterVec
	RecoveryCollapsed  prometheus.Counter
	RecoveryDuration   *prometheus.HistogramVec
	SessionsSyncedGauge prometheus.Gauge

	// Admin resolver metrics
	AdminChecksTotal    *prometheus.CounterVec
	RoleLookupsTotal    *prometheus.CounterVec
	RoleCacheHitsTotal  prometheus.Counter

	// Session store metrics
	SessionOpsTotal   *prometheus.CounterVec
	SessionOpDuration *prometheus.HistogramVec
}

// NewMetricsRegistry creates a registry with the standard process and Go
// runtime collectors.
func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tandem_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SignInTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_signin_total",
				Help: "Total number of sign-in dispatches",
			},
			[]string{"provider", "result"},
		),

		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_secondary_probes_total",
				Help: "Total number of secondary token probes",
			},
			[]string{"result"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tandem_secondary_probe_duration_seconds",
				Help:    "Secondary token probe duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"result"},
		),
		RecoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_recoveries_total",
				Help: "Total number of secondary token recoveries",
			},
			[]string{"result"},
		),
		RecoveryCollapsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tandem_recoveries_collapsed_total",
				Help: "Recovery calls that joined an in-flight recovery for the same principal",
			},
		),
		RecoveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tandem_recovery_duration_seconds",
				Help:    "Secondary token recovery duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"result"},
		),
		SessionsSyncedGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tandem_sessions_synced",
				Help: "Sessions whose last secondary probe succeeded",
			},
		),

		AdminChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_admin_checks_total",
				Help: "Total number of admin verdict computations",
			},
			[]string{"source", "verdict"},
		),
		RoleLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_role_lookups_total",
				Help: "Total number of role store lookups",
			},
			[]string{"status"},
		),
		RoleCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tandem_role_cache_hits_total",
				Help: "Role lookups served from the in-process cache",
			},
		),

		SessionOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_session_store_operations_total",
				Help: "Total number of session store operations",
			},
			[]string{"operation", "status"},
		),
		SessionOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tandem_session_store_operation_duration_seconds",
				Help:    "Session store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SignInTotal,
		m.ProbesTotal,
		m.ProbeDuration,
		m.RecoveriesTotal,
		m.RecoveryCollapsed,
		m.RecoveryDuration,
		m.SessionsSyncedGauge,
		m.AdminChecksTotal,
		m.RoleLookupsTotal,
		m.RoleCacheHitsTotal,
		m.SessionOpsTotal,
		m.SessionOpDuration,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// MetricsHandler returns an HTTP handler for the /metrics endpoint
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
