// Package middleware provides HTTP middleware for caller identity, request IDs, and rate limiting.
//
// # Overview
//
// accessgate sits behind an authenticating proxy. The proxy verifies the session and forwards
// the caller as trusted headers; this package turns them into an rbac.Identity on the request
// context. Authorization itself lives in rbac and modules guards.
//
// # Middleware Components
//
// IdentityMiddleware: trusted header identity
//
//	router.Use(middleware.IdentityMiddleware())
//	// X-Tenant-ID: 7
//	// X-User-ID: 42
//	// X-User-Flags: tenant_admin
//
// RequestIDMiddleware: request correlation
//
//	router.Use(middleware.RequestIDMiddleware())
//
// RateLimiter: redis-backed per-tenant limiting
//
//	limiter := middleware.NewRateLimiter(redisClient, nil, "")
//	router.Use(limiter.Middleware())
//
// # Rate Limiting
//
// Authenticated callers are counted per tenant, anonymous callers per client IP.
// Default: 600 req/min per tenant. Redis errors fail open.
//
// # Related Packages
//
//   - pkg/rbac: Identity type and permission guards
//   - pkg/contextkeys: Context key definitions
package middleware
