package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/caregrid/accessgate/pkg/httputil"
	"github.com/caregrid/accessgate/pkg/observability"
	"github.com/caregrid/accessgate/pkg/rbac"
)

// Identity headers set by the upstream authenticating proxy
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserID    = "X-User-ID"
	HeaderUserFlags = "X-User-Flags"
)

// Flag values accepted in HeaderUserFlags
const (
	FlagAdmin         = "admin"
	FlagPlatformAdmin = "platform_admin"
	FlagTenantAdmin   = "tenant_admin"
)

// IdentityMiddleware reads the caller identity from trusted proxy headers and attaches it to the
// request context. Requests without identity headers pass through unchanged so public routes keep
// working; rbac guards answer 401 for them. Malformed headers are rejected with 401.
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantHeader := r.Header.Get(HeaderTenantID)
			userHeader := r.Header.Get(HeaderUserID)
			if tenantHeader == "" && userHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, ok := parseIdentity(tenantHeader, userHeader, r.Header.Get(HeaderUserFlags))
			if !ok {
				observability.FromContext(r.Context()).WithFields(logrus.Fields{
					"tenant_header": tenantHeader,
					"user_header":   userHeader,
				}).Warn("Rejected malformed identity headers")
				httputil.WriteUnauthorized(w, "invalid identity")
				return
			}

			ctx := rbac.WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseIdentity(tenantHeader, userHeader, flagsHeader string) (rbac.Identity, bool) {
	tenantID, err := strconv.ParseInt(strings.TrimSpace(tenantHeader), 10, 64)
	if err != nil {
		return rbac.Identity{}, false
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(userHeader), 10, 64)
	if err != nil {
		return rbac.Identity{}, false
	}

	identity := rbac.Identity{TenantID: tenantID, UserID: userID}
	for _, flag := range strings.Split(flagsHeader, ",") {
		switch strings.ToLower(strings.TrimSpace(flag)) {
		case FlagAdmin:
			identity.IsAdmin = true
		case FlagPlatformAdmin:
			identity.IsPlatformAdmin = true
		case FlagTenantAdmin:
			identity.IsTenantAdmin = true
		}
	}

	return identity, identity.Valid()
}
