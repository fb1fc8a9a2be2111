package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/notify"
)

type capturePublisher struct {
	changes []notify.Change
}

func (c *capturePublisher) Publish(ctx context.Context, change notify.Change) error {
	c.changes = append(c.changes, change)
	return nil
}

type handlerFixture struct {
	router    *mux.Router
	store     *Store
	publisher *capturePublisher
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store, db := newTestStore(t)
	publisher := &capturePublisher{}
	resolver := NewPermissionResolver(store, nil)

	router := mux.NewRouter()
	NewHandlers(store, catalog.NewStore(db), resolver, publisher, nil).
		RegisterRoutes(router, NewGuard(resolver, nil))

	return &handlerFixture{router: router, store: store, publisher: publisher}
}

func (f *handlerFixture) do(t *testing.T, identity Identity, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if identity.Valid() {
		req = asUser(req, identity)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

var tenantAdmin = Identity{TenantID: 1, UserID: 100, IsTenantAdmin: true}

func TestHandlers_MyPermissions(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	role := &Role{TenantID: 1, Key: "receptionist", Name: "Receptionist", Permissions: []string{"patients:view"}}
	require.NoError(t, f.store.CreateRole(ctx, role))
	require.NoError(t, f.store.AssignRole(ctx, 10, role.ID, 1))

	user := Identity{TenantID: 1, UserID: 10}
	w := f.do(t, user, "GET", "/api/v1/me/permissions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, []string{"patients:view"}, body.Permissions)

	w = f.do(t, user, "GET", "/api/v1/me/permissions/billing:view", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":false`)

	w = f.do(t, Identity{}, "GET", "/api/v1/me/permissions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_RoleLifecycle(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, tenantAdmin, "POST", "/api/v1/admin/roles", map[string]interface{}{
		"key": "nurse", "name": "Nurse", "permissions": []string{"patients:view"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var role Role
	require.NoError(t, json.NewDecoder(w.Body).Decode(&role))
	assert.Equal(t, int64(1), role.TenantID)

	w = f.do(t, tenantAdmin, "POST", "/api/v1/admin/roles", map[string]interface{}{"key": "nurse", "name": "Nurse"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, tenantAdmin, "POST", "/api/v1/admin/roles", map[string]interface{}{"key": "", "name": "Nameless"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := fmt.Sprintf("/api/v1/admin/roles/%d", role.ID)
	w = f.do(t, tenantAdmin, "PUT", path, map[string]interface{}{"permissions": []string{"patients:view", "patients:edit"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, tenantAdmin, "PUT", path+"/grants/appointments:view", map[string]interface{}{"is_granted": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, tenantAdmin, "PUT", path+"/grants/unknown:view", map[string]interface{}{"is_granted": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, tenantAdmin, "PUT", path+"/grants/appointments:view", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, tenantAdmin, "DELETE", path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	kinds := make([]notify.Kind, 0, len(f.publisher.changes))
	for _, c := range f.publisher.changes {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []notify.Kind{notify.KindRole, notify.KindRole, notify.KindRoleGrant, notify.KindRole}, kinds)
}

func TestHandlers_RoleScope(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	shared := &Role{TenantID: SharedTenantID, Key: "viewer", Name: "Viewer"}
	require.NoError(t, f.store.CreateRole(ctx, shared))
	other := &Role{TenantID: 2, Key: "clerk", Name: "Clerk"}
	require.NoError(t, f.store.CreateRole(ctx, other))

	// Shared roles are read-only for tenant admins
	w := f.do(t, tenantAdmin, "PUT", fmt.Sprintf("/api/v1/admin/roles/%d", shared.ID), map[string]interface{}{"name": "X"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	platform := Identity{TenantID: 1, UserID: 1, IsPlatformAdmin: true}
	w = f.do(t, platform, "PUT", fmt.Sprintf("/api/v1/admin/roles/%d", shared.ID), map[string]interface{}{"name": "X"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Another tenant's role does not exist from here
	w = f.do(t, tenantAdmin, "DELETE", fmt.Sprintf("/api/v1/admin/roles/%d", other.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, tenantAdmin, "POST", "/api/v1/admin/roles", map[string]interface{}{"key": "global", "name": "Global", "shared": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, tenantAdmin, "GET", "/api/v1/admin/roles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var roles []Role
	require.NoError(t, json.NewDecoder(w.Body).Decode(&roles))
	assert.Len(t, roles, 1)
}

func TestHandlers_Assignments(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	role := &Role{TenantID: 1, Key: "nurse", Name: "Nurse"}
	require.NoError(t, f.store.CreateRole(ctx, role))

	w := f.do(t, tenantAdmin, "POST", "/api/v1/admin/users/10/roles", map[string]interface{}{"role_id": role.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, tenantAdmin, "GET", "/api/v1/admin/users/10/roles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role_key":"nurse"`)

	w = f.do(t, tenantAdmin, "POST", "/api/v1/admin/users/10/roles", map[string]interface{}{"role_id": 999})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, tenantAdmin, "PUT", "/api/v1/admin/users/10/grants/leads:view", map[string]interface{}{"is_granted": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, tenantAdmin, "GET", "/api/v1/admin/users/10/grants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "leads:view")

	w = f.do(t, tenantAdmin, "DELETE", fmt.Sprintf("/api/v1/admin/users/10/roles/%d", role.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, tenantAdmin, "DELETE", fmt.Sprintf("/api/v1/admin/users/10/roles/%d", role.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// With no assignment left the user is outside the tenant
	w = f.do(t, tenantAdmin, "GET", "/api/v1/admin/users/10/roles", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_UserRoutesScopedToTenant(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	role := &Role{TenantID: 2, Key: "clerk", Name: "Clerk"}
	require.NoError(t, f.store.CreateRole(ctx, role))
	require.NoError(t, f.store.AssignRole(ctx, 500, role.ID, 2))

	w := f.do(t, tenantAdmin, "PUT", "/api/v1/admin/users/500/grants/menu:manage", map[string]interface{}{"is_granted": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	grants, err := f.store.ListUserGrants(ctx, 500)
	require.NoError(t, err)
	assert.Empty(t, grants)

	w = f.do(t, tenantAdmin, "GET", "/api/v1/admin/users/500/grants", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, tenantAdmin, "GET", "/api/v1/admin/users/500/roles", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.publisher.changes)

	// Platform admins reach users in any tenant
	platform := Identity{TenantID: 1, UserID: 1, IsPlatformAdmin: true}
	w = f.do(t, platform, "PUT", "/api/v1/admin/users/500/grants/menu:manage", map[string]interface{}{"is_granted": true})
	require.Equal(t, http.StatusOK, w.Code)

	grants, err = f.store.ListUserGrants(ctx, 500)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "menu:manage", grants[0].PermissionCode)
}

func TestHandlers_Permissions(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	w := f.do(t, tenantAdmin, "GET", "/api/v1/admin/permissions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "patients:view")

	require.NoError(t, f.store.SetUserGrant(ctx, UserGrant{UserID: 3, PermissionCode: "leads:view", IsGranted: true}))

	w = f.do(t, tenantAdmin, "DELETE", "/api/v1/admin/permissions/leads:view", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"user_grants":1`)

	w = f.do(t, tenantAdmin, "DELETE", "/api/v1/admin/permissions/deals:view", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, tenantAdmin, "DELETE", "/api/v1/admin/permissions/deals:view", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_DeniedWithoutPermission(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, Identity{TenantID: 1, UserID: 50}, "GET", "/api/v1/admin/roles", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
