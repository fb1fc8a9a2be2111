package api

import (
	"database/sql"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/caregrid/accessgate/pkg/audit"
	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/httputil"
	"github.com/caregrid/accessgate/pkg/menu"
	"github.com/caregrid/accessgate/pkg/middleware"
	"github.com/caregrid/accessgate/pkg/modules"
	"github.com/caregrid/accessgate/pkg/notify"
	"github.com/caregrid/accessgate/pkg/observability"
	"github.com/caregrid/accessgate/pkg/rbac"
	"github.com/caregrid/accessgate/pkg/report"
)

// Options configures a Server. Only DB is required.
type Options struct {
	DB          *sql.DB
	Redis       *redis.Client
	Publisher   notify.Publisher
	Logger      logrus.FieldLogger
	Metrics     *observability.Metrics
	Registry    *prometheus.Registry
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Version     string

	// DisableAudit skips the database audit trail
	DisableAudit bool
}

// Server is the accessgate HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  logrus.FieldLogger

	Catalog  *catalog.Store
	Roles    *rbac.Store
	Modules  *modules.Store
	Registry *menu.Registry
	Resolver *rbac.PermissionResolver
	Gate     *modules.Gate
	Builder  *menu.Builder
	Audit    audit.Logger
}

// NewServer wires stores, resolvers and handlers onto a single router
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = notify.Nop()
	}

	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		Catalog:  catalog.NewStore(opts.DB),
		Roles:    rbac.NewStore(opts.DB),
		Modules:  modules.NewStore(opts.DB),
		Registry: menu.NewRegistry(opts.DB),
		Audit:    audit.NoOpLogger(),
	}
	if !opts.DisableAudit {
		s.Audit = audit.NewDBLogger(opts.DB)
	}

	s.Resolver = rbac.NewPermissionResolver(s.Roles, opts.Metrics)
	s.Gate = modules.NewGate(s.Modules, opts.Metrics)
	s.Builder = menu.NewBuilder(s.Registry, s.Resolver, s.Gate, s.Modules, opts.Metrics)
	guard := rbac.NewGuard(s.Resolver, opts.Metrics)

	s.router.Use(
		mux.MiddlewareFunc(middleware.RequestIDMiddleware()),
		s.contextMiddleware,
		mux.MiddlewareFunc(middleware.IdentityMiddleware()),
		mux.MiddlewareFunc(httputil.LoggingMiddleware(logger)),
		observability.HTTPMetricsMiddleware(opts.Metrics),
	)
	if opts.RateLimiter != nil {
		s.router.Use(mux.MiddlewareFunc(opts.RateLimiter.Middleware()))
	}

	// Probes and metrics
	observability.RegisterHealthRoutes(s.router, observability.NewHealthChecker(opts.DB, opts.Redis, opts.Version))
	if opts.Registry != nil {
		observability.RegisterMetricsEndpoint(s.router, opts.Registry)
	}

	// Domain routes
	rbac.NewHandlers(s.Roles, s.Catalog, s.Resolver, publisher, opts.Metrics).RegisterRoutes(s.router, guard)
	modules.NewHandlers(s.Modules, s.Gate, publisher, opts.Metrics).RegisterRoutes(s.router, guard)
	menu.NewHandlers(s.Registry, s.Builder, publisher, opts.Metrics).RegisterRoutes(s.router, guard)
	report.NewHandlers(report.NewExporter(s.Roles, s.Resolver, s.Builder)).RegisterRoutes(s.router, guard)
	if dbLogger, ok := s.Audit.(*audit.DBLogger); ok {
		audit.NewHandlers(dbLogger).RegisterRoutes(s.router, guard.RequirePermission(catalog.PermRolesManage))
	}
	s.router.Handle("/api/v1/me/modules/{module}", guard.Authenticated()(http.HandlerFunc(s.probeModule))).Methods("GET")

	// CORS wraps the router so preflight requests are answered even though no route matches OPTIONS
	var handler http.Handler = s.router
	handler = httputil.CORSMiddleware(opts.CORSOrigins)(handler)
	handler = otelhttp.NewHandler(handler, "accessgate")
	s.handler = observability.RecoveryMiddleware(logger)(handler)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// contextMiddleware attaches the base logger and audit logger to every request
func (s *Server) contextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithLogger(r.Context(), s.logger)
		ctx = audit.WithLogger(ctx, s.Audit)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// probeModule handles GET /api/v1/me/modules/{module}: 204 when the module is usable by the
// caller, 404 otherwise. Front ends call it before deep-linking into a module.
func (s *Server) probeModule(w http.ResponseWriter, r *http.Request) {
	moduleKey := mux.Vars(r)["module"]
	allowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNoContent(w)
	})
	modules.RequireModule(s.Gate, s.Resolver, moduleKey)(allowed).ServeHTTP(w, r)
}
