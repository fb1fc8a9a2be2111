package rbac

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/caregrid/accessgate/pkg/audit"
	"github.com/caregrid/accessgate/pkg/httputil"
	"github.com/caregrid/accessgate/pkg/observability"
)

// Guard protects routes with permission checks
type Guard struct {
	resolver Resolver
	metrics  *observability.Metrics
}

// NewGuard creates a guard backed by resolver. metrics may be nil.
func NewGuard(resolver Resolver, metrics *observability.Metrics) *Guard {
	return &Guard{resolver: resolver, metrics: metrics}
}

// Authenticated rejects requests without an identity and attaches the per-request memo
func (g *Guard) Authenticated() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRequestMemo(r.Context())))
		})
	}
}

// RequirePermission only lets through callers holding code or the wildcard.
// Missing identity answers 401. A denied caller gets 404 and an audit event.
func (g *Guard) RequirePermission(code string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithRequestMemo(r.Context())
			identity, ok := IdentityFromContext(ctx)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			allowed, err := g.resolver.CheckPermission(ctx, identity, code)
			if err != nil {
				observability.FromContext(ctx).WithError(err).WithField("permission", code).
					Error("Permission check failed")
				httputil.WriteInternalError(w)
				return
			}
			if !allowed {
				g.metrics.RecordGuardDenial("permission")
				observability.FromContext(ctx).WithFields(logrus.Fields{
					"permission": code,
					"path":       r.URL.Path,
				}).Info("Access denied")
				audit.Record(ctx, audit.FromContext(ctx), &audit.AuditEvent{
					EventType:    audit.EventTypeAuthzAccessDenied,
					Status:       audit.EventStatusDenied,
					ResourceType: audit.ResourceTypeRoute,
					ResourceID:   r.Method + " " + r.URL.Path,
					Message:      "missing permission " + code,
					Metadata:     map[string]interface{}{"permission": code},
				})
				httputil.WriteNotFound(w, "not found")
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
