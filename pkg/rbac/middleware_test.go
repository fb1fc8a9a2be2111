package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregrid/accessgate/pkg/audit"
	"github.com/caregrid/accessgate/pkg/observability"
)

type captureAudit struct {
	events []*audit.AuditEvent
}

func (c *captureAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *captureAudit) Close() error { return nil }

func asUser(r *http.Request, identity Identity) *http.Request {
	return r.WithContext(WithIdentity(r.Context(), identity))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequirePermission(t *testing.T) {
	source := &fakeSource{userCodes: []string{"menu:manage"}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	guard := NewGuard(NewPermissionResolver(source, metrics), metrics)
	handler := guard.RequirePermission("menu:manage")(okHandler)

	t.Run("missing identity", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/admin", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, asUser(httptest.NewRequest("GET", "/admin", nil), Identity{TenantID: 1, UserID: 2}))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("denied is not found", func(t *testing.T) {
		rec := &captureAudit{}
		denied := guard.RequirePermission("roles:manage")(okHandler)

		req := asUser(httptest.NewRequest("GET", "/admin/roles", nil), Identity{TenantID: 1, UserID: 2})
		req = req.WithContext(audit.WithLogger(req.Context(), rec))
		w := httptest.NewRecorder()
		denied.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		require.Len(t, rec.events, 1)
		assert.Equal(t, audit.EventTypeAuthzAccessDenied, rec.events[0].EventType)
		assert.Equal(t, audit.EventStatusDenied, rec.events[0].Status)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GuardDenialsTotal.WithLabelValues("permission")))
	})

	t.Run("admin flag", func(t *testing.T) {
		denied := guard.RequirePermission("roles:manage")(okHandler)
		w := httptest.NewRecorder()
		denied.ServeHTTP(w, asUser(httptest.NewRequest("GET", "/admin", nil), Identity{TenantID: 1, UserID: 2, IsTenantAdmin: true}))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequirePermission_ResolverError(t *testing.T) {
	guard := NewGuard(NewPermissionResolver(&fakeSource{err: assert.AnError}, nil), nil)

	w := httptest.NewRecorder()
	guard.RequirePermission("menu:manage")(okHandler).
		ServeHTTP(w, asUser(httptest.NewRequest("GET", "/admin", nil), Identity{TenantID: 1, UserID: 2}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuthenticated(t *testing.T) {
	guard := NewGuard(NewPermissionResolver(&fakeSource{}, nil), nil)

	var memo *requestMemo
	handler := guard.Authenticated()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		memo = memoFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, asUser(httptest.NewRequest("GET", "/me", nil), Identity{TenantID: 1, UserID: 2}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, memo)
}
