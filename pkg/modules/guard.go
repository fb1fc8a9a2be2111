package modules

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/caregrid/accessgate/pkg/audit"
	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/httputil"
	"github.com/caregrid/accessgate/pkg/observability"
	"github.com/caregrid/accessgate/pkg/rbac"
)

// Allowed reports whether a module is usable: entitled to the tenant, or unlocked for the user
// through "<module>:view" or the wildcard
func Allowed(moduleKey string, mods ModuleSet, perms rbac.PermissionSet) bool {
	return mods.Contains(moduleKey) || perms.Allows(catalog.ModuleViewCode(moduleKey))
}

// RequireModule only lets through callers for whom moduleKey is allowed. Denied callers get 404.
func RequireModule(gate *Gate, resolver rbac.Resolver, moduleKey string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := rbac.WithRequestMemo(r.Context())
			identity, ok := rbac.IdentityFromContext(ctx)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			mods, err := gate.AllowedModules(ctx, identity.TenantID)
			if err != nil {
				observability.FromContext(ctx).WithError(err).Error("Module gate failed")
				httputil.WriteInternalError(w)
				return
			}
			perms, err := resolver.Resolve(ctx, identity)
			if err != nil {
				httputil.WriteInternalError(w)
				return
			}

			if !Allowed(moduleKey, mods, perms) {
				gate.metrics.RecordGuardDenial("module")
				observability.FromContext(ctx).WithFields(logrus.Fields{
					"module": moduleKey,
					"path":   r.URL.Path,
				}).Info("Module access denied")
				audit.Record(ctx, audit.FromContext(ctx), &audit.AuditEvent{
					EventType:    audit.EventTypeAuthzAccessDenied,
					Status:       audit.EventStatusDenied,
					ResourceType: audit.ResourceTypeModule,
					ResourceID:   moduleKey,
					Message:      "module not enabled for tenant",
				})
				httputil.WriteNotFound(w, "not found")
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
