// Package observability provides structured logging, Prometheus metrics, health probes and
// OpenTelemetry tracing for accessgate.
//
// # Logging
//
// Loggers are logrus loggers with a JSON formatter:
//
//	logger := observability.NewLogger("info", os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("menu built")
//
// FromContext attaches request_id, tenant_id, user_id and trace_id when the request middleware has
// stored them in the context.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordResolution("granted", time.Since(start))
//
// All Record* helpers accept a nil receiver so components can run without metrics in tests.
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// /healthz is liveness only. /readyz requires a reachable database with a reconciled
// permission catalog; a redis outage only degrades the status.
//
// # Tracing
//
//	telemetry, err := observability.InitOTel(ctx, cfg, logger)
//	defer telemetry.Shutdown(ctx)
//
//	ctx, span := observability.Tracer().Start(ctx, "rbac.Resolve")
//	defer span.End()
package observability
