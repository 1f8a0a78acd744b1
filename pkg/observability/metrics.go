package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Protocol metrics
	AssertionsTotal    *prometheus.CounterVec
	ConsentTotal       *prometheus.CounterVec
	DiscoveryTotal     *prometheus.CounterVec

	// Account metrics
	LoginsTotal      *prometheus.CounterVec
	ActivationsTotal prometheus.Counter
	SignupsTotal     prometheus.Counter

	// Session metrics
	SessionsSwept prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus collectors
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cactuar_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cactuar_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AssertionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cactuar_assertions_total",
				Help: "Assertion requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		ConsentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cactuar_consent_decisions_total",
				Help: "Consent decisions by verdict",
			},
			[]string{"verdict"},
		),
		DiscoveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cactuar_discovery_requests_total",
				Help: "Discovery document requests by kind",
			},
			[]string{"kind"},
		),

		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cactuar_logins_total",
				Help: "Login attempts by method and result",
			},
			[]string{"method", "result"},
		),
		ActivationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cactuar_activations_total",
				Help: "Completed account activations",
			},
		),
		SignupsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cactuar_signups_total",
				Help: "Completed self-service signups",
			},
		),

		SessionsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cactuar_sessions_swept_total",
				Help: "Expired sessions removed by the cleanup job",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cactuar_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cactuar_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AssertionsTotal,
		m.ConsentTotal,
		m.DiscoveryTotal,
		m.LoginsTotal,
		m.ActivationsTotal,
		m.SignupsTotal,
		m.SessionsSwept,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveDBStats refreshes the connection pool gauges
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
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

// HTTPMetricsMiddleware instruments requests with Prometheus metrics.
// The path label uses the mux route template so per-user URLs do not
// explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}

// MetricsHandler returns the scrape endpoint handler for a registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
