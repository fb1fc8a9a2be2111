package modules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregrid/accessgate/pkg/rbac"
	"github.com/caregrid/accessgate/pkg/storage"
)

type staticResolver struct {
	perms rbac.PermissionSet
}

func (s staticResolver) Resolve(ctx context.Context, identity rbac.Identity) (rbac.PermissionSet, error) {
	return s.perms, nil
}

func (s staticResolver) CheckPermission(ctx context.Context, identity rbac.Identity, code string) (bool, error) {
	return s.perms.Allows(code), nil
}

func TestAllowed(t *testing.T) {
	mods := NewModuleSet("hms")

	assert.True(t, Allowed("hms", mods, rbac.NewPermissionSet()))
	assert.False(t, Allowed("crm", mods, rbac.NewPermissionSet()))
	assert.True(t, Allowed("crm", mods, rbac.NewPermissionSet("crm:view")))
	assert.True(t, Allowed("crm", mods, rbac.NewPermissionSet("*")))
}

func TestRequireModule(t *testing.T) {
	store := NewStore(storage.NewTestDB(t))
	ctx := context.Background()
	seedModules(t, store)
	require.NoError(t, store.SetEntitlement(ctx, Entitlement{TenantID: 1, ModuleKey: "hms", Enabled: true}))
	gate := NewGate(store, nil)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	serve := func(moduleKey string, perms rbac.PermissionSet, identity rbac.Identity) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/x", nil)
		req = req.WithContext(rbac.WithIdentity(req.Context(), identity))
		RequireModule(gate, staticResolver{perms: perms}, moduleKey)(ok).ServeHTTP(w, req)
		return w.Code
	}
	user := rbac.Identity{TenantID: 1, UserID: 2}

	assert.Equal(t, http.StatusOK, serve("hms", rbac.NewPermissionSet(), user))
	assert.Equal(t, http.StatusNotFound, serve("crm", rbac.NewPermissionSet(), user))
	assert.Equal(t, http.StatusOK, serve("crm", rbac.NewPermissionSet("crm:view"), user))
	assert.Equal(t, http.StatusUnauthorized, serve("hms", rbac.NewPermissionSet(), rbac.Identity{}))
}
