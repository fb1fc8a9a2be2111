package menu

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/modules"
	"github.com/caregrid/accessgate/pkg/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *sql.DB) {
	t.Helper()
	db := storage.NewTestDB(t)
	ctx := context.Background()

	_, err := catalog.NewStore(db).SeedBuiltIns(ctx)
	require.NoError(t, err)
	ms := modules.NewStore(db)
	for _, m := range []modules.Module{
		{Key: "hms", Name: "Hospital", IsActive: true},
		{Key: "crm", Name: "CRM", IsActive: true},
		{Key: "inventory", Name: "Inventory", IsActive: true},
	} {
		_, err := ms.EnsureModule(ctx, m)
		require.NoError(t, err)
	}
	return NewRegistry(db), db
}

func mustCreate(t *testing.T, r *Registry, in MenuItemInput) *MenuItem {
	t.Helper()
	item, err := r.Upsert(context.Background(), in)
	require.NoError(t, err)
	return item
}

func TestRegistry_Create(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	item := mustCreate(t, r, MenuItemInput{
		Key:            "patients",
		Label:          "Patients",
		URL:            strPtr("/patients"),
		ModuleKey:      strPtr("hms"),
		PermissionCode: strPtr("patients:view"),
		Parent:         "root",
		SortOrder:      "3",
	})
	assert.NotZero(t, item.ID)
	assert.Nil(t, item.ParentID)
	assert.Equal(t, 3, item.SortOrder)

	got, err := r.GetByKey(ctx, "patients")
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, "/patients", *got.URL)
	assert.Equal(t, "hms", *got.ModuleKey)

	child := mustCreate(t, r, MenuItemInput{Key: "patients.list", Label: "List", Parent: float64(item.ID)})
	require.NotNil(t, child.ParentID)
	assert.Equal(t, item.ID, *child.ParentID)
	assert.Equal(t, 0, child.SortOrder)
}

func TestRegistry_DuplicateKeyCreatesNothing(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	mustCreate(t, r, MenuItemInput{Key: "patients", Label: "Patients"})

	_, err := r.Upsert(ctx, MenuItemInput{Key: "patients", Label: "Other"})
	var dup *DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "patients", dup.Key)

	items, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Patients", items[0].Label)
}

func TestRegistry_Validation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Upsert(ctx, MenuItemInput{Label: "No key"})
	assert.True(t, errors.Is(err, ErrInvalidItem))

	_, err = r.Upsert(ctx, MenuItemInput{Key: "k"})
	assert.True(t, errors.Is(err, ErrInvalidItem))

	_, err = r.Upsert(ctx, MenuItemInput{Key: "k", Label: "K", Parent: float64(99)})
	assert.True(t, errors.Is(err, ErrParentNotFound))

	_, err = r.Upsert(ctx, MenuItemInput{Key: "k", Label: "K", PermissionCode: strPtr("nope:view")})
	assert.True(t, errors.Is(err, ErrUnknownPermission))

	_, err = r.Upsert(ctx, MenuItemInput{Key: "k", Label: "K", ModuleKey: strPtr("nope")})
	assert.True(t, errors.Is(err, ErrUnknownModule))

	// Empty strings are stored as NULL
	item := mustCreate(t, r, MenuItemInput{Key: "k", Label: "K", URL: strPtr(""), ModuleKey: strPtr("")})
	assert.Nil(t, item.URL)
	assert.Nil(t, item.ModuleKey)
}

func TestRegistry_Update(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	a := mustCreate(t, r, MenuItemInput{Key: "a", Label: "A"})
	b := mustCreate(t, r, MenuItemInput{Key: "b", Label: "B", Parent: a.ID})
	c := mustCreate(t, r, MenuItemInput{Key: "c", Label: "C", Parent: b.ID})

	updated, err := r.Upsert(ctx, MenuItemInput{ID: &c.ID, Key: "c", Label: "Renamed", Parent: "root", SortOrder: 9})
	require.NoError(t, err)
	assert.Nil(t, updated.ParentID)
	assert.Equal(t, 9, updated.SortOrder)

	_, err = r.Upsert(ctx, MenuItemInput{ID: &a.ID, Key: "a", Label: "A", Parent: b.ID})
	assert.True(t, errors.Is(err, ErrCycle))

	_, err = r.Upsert(ctx, MenuItemInput{ID: &a.ID, Key: "a", Label: "A", Parent: a.ID})
	assert.True(t, errors.Is(err, ErrCycle))

	_, err = r.Upsert(ctx, MenuItemInput{ID: &c.ID, Key: "a", Label: "C"})
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	missing := int64(999)
	_, err = r.Upsert(ctx, MenuItemInput{ID: &missing, Key: "z", Label: "Z"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistry_DeleteWithChildLeavesTreeUnchanged(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	parent := mustCreate(t, r, MenuItemInput{Key: "hms", Label: "HMS"})
	child := mustCreate(t, r, MenuItemInput{Key: "hms.patients", Label: "Patients", Parent: parent.ID})

	err := r.Delete(ctx, parent.ID)
	var hc *HasChildrenError
	require.True(t, errors.As(err, &hc))
	assert.Equal(t, 1, hc.Children)

	items, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, r.Delete(ctx, child.ID))
	require.NoError(t, r.Delete(ctx, parent.ID))
	assert.True(t, errors.Is(r.Delete(ctx, parent.ID), ErrNotFound))
}

func TestRegistry_EnsureMenuExists(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.EnsureMenuExists(ctx, MenuItemInput{Key: "settings", Label: "Settings", PermissionCode: strPtr("system:admin")})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.EnsureMenuExists(ctx, MenuItemInput{Key: "settings", Label: "Changed"})
	require.NoError(t, err)
	assert.False(t, created)

	item, err := r.GetByKey(ctx, "settings")
	require.NoError(t, err)
	assert.Equal(t, "Settings", item.Label)
}

func TestRegistry_Associate(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	item := mustCreate(t, r, MenuItemInput{Key: "leads", Label: "Leads"})
	created, err := r.Associate(ctx, "crm", item.ID)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = r.Associate(ctx, "crm", item.ID)
	require.NoError(t, err)
	assert.False(t, created)
	_, err = r.Associate(ctx, "hms", item.ID)
	require.NoError(t, err)

	assoc, err := r.ListAssociations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"crm", "hms"}, assoc[item.ID])

	_, err = r.Associate(ctx, "nope", item.ID)
	assert.True(t, errors.Is(err, ErrUnknownModule))
	_, err = r.Associate(ctx, "crm", 999)
	assert.True(t, errors.Is(err, ErrNotFound))

	// Deleting the item drops its associations
	require.NoError(t, r.Delete(ctx, item.ID))
	assoc, err = r.ListAssociations(ctx)
	require.NoError(t, err)
	assert.Empty(t, assoc)
}

func TestRegistry_CheckIntegrity(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()

	mustCreate(t, r, MenuItemInput{Key: "ok", Label: "OK", ModuleKey: strPtr("hms")})

	// Rows written behind the registry's back
	_, err := db.Exec(`INSERT INTO menu_items (id, item_key, label, parent_id, permission_code, module_key) VALUES
		(10, 'orphan', 'Orphan', 500, NULL, NULL),
		(11, 'loop.a', 'Loop A', 12, NULL, NULL),
		(12, 'loop.b', 'Loop B', 11, NULL, NULL),
		(13, 'stale', 'Stale', NULL, 'gone:view', 'gone')`)
	require.NoError(t, err)

	issues, err := r.CheckIntegrity(ctx)
	require.NoError(t, err)

	counts := CountIssues(issues)
	assert.Equal(t, 1, counts[IssueDanglingParent])
	assert.Equal(t, 2, counts[IssueCycle])
	assert.Equal(t, 1, counts[IssueUnknownPermission])
	assert.Equal(t, 1, counts[IssueUnknownModule])
}

func TestRegistry_ListError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM menu_items ORDER BY id").WillReturnError(errors.New("connection reset"))

	_, err = NewRegistry(db).List(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list menu items")
	assert.NoError(t, mock.ExpectationsWereMet())
}
