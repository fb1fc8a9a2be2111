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

// Metrics holds all Prometheus metrics.
// Every recording helper is safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	ResolutionsTotal      *prometheus.CounterVec
	ResolveDuration       prometheus.Histogram
	PermissionChecksTotal *prometheus.CounterVec
	GuardDenialsTotal     *prometheus.CounterVec

	// Module gate metrics
	ModuleGateTotal *prometheus.CounterVec

	// Menu metrics
	MenuBuildsTotal        *prometheus.CounterVec
	MenuBuildDuration      prometheus.Histogram
	MenuVisibleItems       prometheus.Histogram
	MenuDanglingNodesTotal prometheus.Counter
	MenuIntegrityIssues    *prometheus.GaugeVec

	// Reconciliation and notification metrics
	ReconcileTotal     *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_permission_resolutions_total",
				Help: "Permission set resolutions by outcome (admin, granted, empty, error)",
			},
			[]string{"outcome"},
		),
		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accessgate_permission_resolve_duration_seconds",
				Help:    "Time spent resolving a permission set",
				Buckets: prometheus.DefBuckets,
			},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_permission_checks_total",
				Help: "Single permission checks by result",
			},
			[]string{"result"},
		),
		GuardDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_guard_denials_total",
				Help: "Requests rejected by a route guard",
			},
			[]string{"guard"},
		),

		ModuleGateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_module_gate_evaluations_total",
				Help: "Module gate evaluations by source (entitlements, industry_fallback)",
			},
			[]string{"source"},
		),

		MenuBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_menu_builds_total",
				Help: "Menu tree builds by status",
			},
			[]string{"status"},
		),
		MenuBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accessgate_menu_build_duration_seconds",
				Help:    "Time spent building a visible menu",
				Buckets: prometheus.DefBuckets,
			},
		),
		MenuVisibleItems: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accessgate_menu_visible_items",
				Help:    "Number of visible menu items returned per build",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		MenuDanglingNodesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessgate_menu_dangling_nodes_total",
				Help: "Menu items skipped during a build because their parent does not exist",
			},
		),
		MenuIntegrityIssues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "accessgate_menu_integrity_issues",
				Help: "Menu integrity issues found by the last scan",
			},
			[]string{"kind"},
		),

		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_reconcile_operations_total",
				Help: "Ensure operations run by the bootstrap reconciler",
			},
			[]string{"kind", "result"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_change_notifications_total",
				Help: "Authorization change notifications published",
			},
			[]string{"status"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessgate_db_connections_active",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ResolutionsTotal,
		m.ResolveDuration,
		m.PermissionChecksTotal,
		m.GuardDenialsTotal,
		m.ModuleGateTotal,
		m.MenuBuildsTotal,
		m.MenuBuildDuration,
		m.MenuVisibleItems,
		m.MenuDanglingNodesTotal,
		m.MenuIntegrityIssues,
		m.ReconcileTotal,
		m.NotificationsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordResolution records one permission set resolution
func (m *Metrics) RecordResolution(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolveDuration.Observe(duration.Seconds())
}

// RecordPermissionCheck records the result of a single permission check
func (m *Metrics) RecordPermissionCheck(allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PermissionChecksTotal.WithLabelValues(result).Inc()
}

// RecordGuardDenial records a request rejected by a permission or module guard
func (m *Metrics) RecordGuardDenial(guard string) {
	if m == nil {
		return
	}
	m.GuardDenialsTotal.WithLabelValues(guard).Inc()
}

// RecordModuleGate records which source decided a tenant's module set
func (m *Metrics) RecordModuleGate(source string) {
	if m == nil {
		return
	}
	m.ModuleGateTotal.WithLabelValues(source).Inc()
}

// RecordMenuBuild records a finished menu build
func (m *Metrics) RecordMenuBuild(err error, visible int, dangling int, duration time.Duration) {
	if m == nil {
		return
	}
	if err != nil {
		m.MenuBuildsTotal.WithLabelValues("error").Inc()
		return
	}
	m.MenuBuildsTotal.WithLabelValues("success").Inc()
	m.MenuBuildDuration.Observe(duration.Seconds())
	m.MenuVisibleItems.Observe(float64(visible))
	if dangling > 0 {
		m.MenuDanglingNodesTotal.Add(float64(dangling))
	}
}

// SetIntegrityIssues replaces the integrity gauge with the counts from the latest scan
func (m *Metrics) SetIntegrityIssues(counts map[string]int) {
	if m == nil {
		return
	}
	m.MenuIntegrityIssues.Reset()
	for kind, n := range counts {
		m.MenuIntegrityIssues.WithLabelValues(kind).Set(float64(n))
	}
}

// RecordReconcile records one ensure operation
func (m *Metrics) RecordReconcile(kind string, created bool) {
	if m == nil {
		return
	}
	result := "existing"
	if created {
		result = "created"
	}
	m.ReconcileTotal.WithLabelValues(kind, result).Inc()
}

// RecordNotification records a change notification publish attempt
func (m *Metrics) RecordNotification(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

// RecordDBStats copies connection pool statistics into the database gauges
func (m *Metrics) RecordDBStats(db *sql.DB) {
	if m == nil || db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template so path parameters do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
}
