package modules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregrid/accessgate/pkg/storage"
)

func seedModules(t *testing.T, store *Store) {
	t.Helper()
	for _, m := range []Module{
		{Key: "hms", Name: "Hospital", IsActive: true},
		{Key: "crm", Name: "CRM", IsActive: true},
		{Key: "inventory", Name: "Inventory", IsActive: true},
	} {
		_, err := store.EnsureModule(context.Background(), m)
		require.NoError(t, err)
	}
}

func seedTenant(t *testing.T, store *Store, tenant Tenant) {
	t.Helper()
	_, err := store.EnsureTenant(context.Background(), tenant)
	require.NoError(t, err)
}

func TestStore_EnsureModule(t *testing.T) {
	store := NewStore(storage.NewTestDB(t))
	ctx := context.Background()

	created, err := store.EnsureModule(ctx, Module{Key: "hms", Name: "Hospital", IsActive: true})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsureModule(ctx, Module{Key: "hms", Name: "Renamed"})
	require.NoError(t, err)
	assert.False(t, created)

	m, err := store.GetModule(ctx, "hms")
	require.NoError(t, err)
	assert.Equal(t, "Hospital", m.Name)

	_, err = store.EnsureModule(ctx, Module{Key: "x"})
	assert.True(t, errors.Is(err, ErrInvalidModule))

	_, err = store.GetModule(ctx, "missing")
	assert.True(t, errors.Is(err, ErrModuleNotFound))
}

func TestStore_Entitlements(t *testing.T) {
	store := NewStore(storage.NewTestDB(t))
	ctx := context.Background()
	seedModules(t, store)

	require.NoError(t, store.SetEntitlement(ctx, Entitlement{TenantID: 1, ModuleKey: "crm", Enabled: true}))
	require.NoError(t, store.SetEntitlement(ctx, Entitlement{TenantID: 1, ModuleKey: "hms", Enabled: false}))
	require.NoError(t, store.SetEntitlement(ctx, Entitlement{TenantID: 1, ModuleKey: "crm", Enabled: false}))

	ents, err := store.ListEntitlements(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, Entitlement{TenantID: 1, ModuleKey: "crm", Enabled: false}, ents[0])

	err = store.SetEntitlement(ctx, Entitlement{TenantID: 1, ModuleKey: "nope", Enabled: true})
	assert.True(t, errors.Is(err, ErrModuleNotFound))

	mods, err := store.ListModules(ctx)
	require.NoError(t, err)
	assert.Len(t, mods, 3)
}

func TestStore_TenantIndustry(t *testing.T) {
	store := NewStore(storage.NewTestDB(t))
	ctx := context.Background()

	created, err := store.EnsureTenant(ctx, Tenant{ID: 4, Name: "Acme Clinic", Industry: "Healthcare"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = store.EnsureTenant(ctx, Tenant{ID: 4, Name: "Other", Industry: "Retail"})
	require.NoError(t, err)
	assert.False(t, created)

	industry, err := store.GetTenantIndustry(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Healthcare", industry)

	industry, err = store.GetTenantIndustry(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, industry)
}
