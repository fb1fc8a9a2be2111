package modules

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregrid/accessgate/pkg/notify"
	"github.com/caregrid/accessgate/pkg/rbac"
	"github.com/caregrid/accessgate/pkg/storage"
)

type capturePublisher struct {
	changes []notify.Change
}

func (c *capturePublisher) Publish(ctx context.Context, change notify.Change) error {
	c.changes = append(c.changes, change)
	return nil
}

func TestHandlers(t *testing.T) {
	store := NewStore(storage.NewTestDB(t))
	seedModules(t, store)
	seedTenant(t, store, Tenant{ID: 1, Name: "Clinic", Industry: "Healthcare"})

	publisher := &capturePublisher{}
	resolver := staticResolver{perms: rbac.NewPermissionSet("modules:manage")}
	router := mux.NewRouter()
	NewHandlers(store, NewGate(store, nil), publisher, nil).RegisterRoutes(router, rbac.NewGuard(resolver, nil))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req = req.WithContext(rbac.WithIdentity(req.Context(), rbac.Identity{TenantID: 1, UserID: 2}))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := do("GET", "/api/v1/me/modules", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"modules":["hms"]`)

	w = do("PUT", "/api/v1/admin/entitlements/crm", `{"enabled": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, publisher.changes, 1)
	assert.Equal(t, notify.KindEntitlement, publisher.changes[0].Kind)

	// With a row present the fallback no longer applies
	w = do("GET", "/api/v1/me/modules", "")
	assert.Contains(t, w.Body.String(), `"modules":["crm"]`)

	w = do("PUT", "/api/v1/admin/entitlements/missing", `{"enabled": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do("PUT", "/api/v1/admin/entitlements/crm", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do("GET", "/api/v1/admin/entitlements", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"module_key":"crm"`)

	w = do("GET", "/api/v1/admin/modules", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"key":"inventory"`)
}
