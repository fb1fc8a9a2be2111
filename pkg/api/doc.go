// Package api assembles the accessgate HTTP server.
//
// NewServer builds every store, the permission resolver, module gate and menu builder on one
// database handle and registers the rbac, modules, menu, report and audit handler sets on a
// gorilla/mux router.
//
// # Request pipeline
//
// Outside the router: panic recovery, OpenTelemetry tracing, CORS. On matched routes: request
// IDs, context loggers, identity headers, access logging, Prometheus HTTP metrics, and the
// optional per-tenant rate limiter. Authorization happens per route in rbac and modules guards.
//
//	server := api.NewServer(api.Options{
//		DB:       db,
//		Redis:    redisClient,
//		Logger:   logger,
//		Metrics:  metrics,
//		Registry: registry,
//	})
//	http.ListenAndServe(":8080", server)
//
// Probes: GET /healthz, GET /readyz. Metrics: GET /metrics.
package api
