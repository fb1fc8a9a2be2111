package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/caregrid/accessgate/pkg/bootstrap"
	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/menu"
	"github.com/caregrid/accessgate/pkg/modules"
	"github.com/caregrid/accessgate/pkg/rbac"
	"github.com/caregrid/accessgate/pkg/storage"
)

const testManifest = `
modules:
  - key: hms
    name: Hospital
  - key: crm
    name: CRM
tenants:
  - id: 1
    name: City Clinic
    industry: Healthcare
roles:
  - key: receptionist
    name: Receptionist
    tenant: 1
    grants: [patients:view]
  - key: sales
    name: Sales
    tenant: 1
    grants: [leads:view, crm:view]
menu:
  - key: hms.root
    label: Hospital
    module: hms
    children:
      - key: hms.patients
        label: Patients
        url: /patients
        permission: patients:view
  - key: crm.leads
    label: Leads
    url: /leads
    module: crm
    permission: leads:view
`

type fixture struct {
	exporter *Exporter
	resolver *rbac.PermissionResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewTestDB(t)
	ctx := context.Background()

	roles := rbac.NewStore(db)
	moduleStore := modules.NewStore(db)
	registry := menu.NewRegistry(db)

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	manifest, err := bootstrap.ParseManifest([]byte(testManifest))
	require.NoError(t, err)
	_, err = bootstrap.NewReconciler(catalog.NewStore(db), roles, moduleStore, registry, nil, quiet).Apply(ctx, manifest)
	require.NoError(t, err)

	receptionist, err := roles.GetRoleByKey(ctx, 1, "receptionist")
	require.NoError(t, err)
	sales, err := roles.GetRoleByKey(ctx, 1, "sales")
	require.NoError(t, err)
	require.NoError(t, roles.AssignRole(ctx, 10, receptionist.ID, 1))
	require.NoError(t, roles.AssignRole(ctx, 11, sales.ID, 1))

	resolver := rbac.NewPermissionResolver(roles, nil)
	builder := menu.NewBuilder(registry, resolver, modules.NewGate(moduleStore, nil), moduleStore, nil)
	return &fixture{
		exporter: NewExporter(roles, resolver, builder),
		resolver: resolver,
	}
}

func TestExporter_Matrix(t *testing.T) {
	f := newFixture(t)

	matrix, err := f.exporter.Matrix(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, matrix.Rows, 2)

	assert.Equal(t, Row{
		UserID:      10,
		Roles:       []string{"receptionist"},
		Permissions: []string{"patients:view"},
		MenuKeys:    []string{"hms.root", "hms.patients"},
	}, matrix.Rows[0])

	// crm is not entitled for the clinic; crm:view unlocks it for this user only
	assert.Equal(t, Row{
		UserID:      11,
		Roles:       []string{"sales"},
		Permissions: []string{"crm:view", "leads:view"},
		MenuKeys:    []string{"crm.leads"},
	}, matrix.Rows[1])

	assert.Equal(t, []string{"crm:view", "leads:view", "patients:view"}, matrix.Codes())
}

func TestExporter_EmptyTenant(t *testing.T) {
	f := newFixture(t)

	matrix, err := f.exporter.Matrix(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, matrix.Rows)
}

type failingSubjects struct{}

func (failingSubjects) ListSubjects(ctx context.Context, tenantID int64) ([]int64, error) {
	return nil, errors.New("db down")
}

func (failingSubjects) ListUserRoles(ctx context.Context, tenantID, userID int64) ([]rbac.UserRoleAssignment, error) {
	return nil, nil
}

func TestExporter_SourceError(t *testing.T) {
	f := newFixture(t)
	exporter := NewExporter(failingSubjects{}, f.resolver, nil)

	_, err := exporter.Matrix(context.Background(), 1)
	assert.Error(t, err)
}

func TestWriteWorkbook(t *testing.T) {
	f := newFixture(t)
	matrix, err := f.exporter.Matrix(context.Background(), 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(matrix, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()

	assert.Equal(t, []string{SheetUsers, SheetMatrix}, book.GetSheetList())

	users, err := book.GetRows(SheetUsers)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"User ID", "Roles", "Permissions", "Visible menu"}, users[0])
	assert.Equal(t, []string{"10", "receptionist", "patients:view", "hms.root, hms.patients"}, users[1])

	grid, err := book.GetRows(SheetMatrix)
	require.NoError(t, err)
	require.Len(t, grid, 3)
	assert.Equal(t, []string{"User ID", "crm:view", "leads:view", "patients:view"}, grid[0])
	assert.Equal(t, []string{"10", "", "", "x"}, grid[1])
	assert.Equal(t, []string{"11", "x", "x"}, grid[2])
}

func TestHandlers(t *testing.T) {
	f := newFixture(t)
	router := mux.NewRouter()
	NewHandlers(f.exporter).RegisterRoutes(router, rbac.NewGuard(f.resolver, nil))

	do := func(identity rbac.Identity, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(rbac.WithIdentity(req.Context(), identity))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	admin := rbac.Identity{TenantID: 1, UserID: 1, IsTenantAdmin: true}

	w := do(admin, "/api/v1/admin/access-matrix")
	require.Equal(t, http.StatusOK, w.Code)
	var matrix Matrix
	require.NoError(t, json.NewDecoder(w.Body).Decode(&matrix))
	assert.Equal(t, int64(1), matrix.TenantID)
	assert.Len(t, matrix.Rows, 2)

	w = do(admin, "/api/v1/admin/access-matrix.xlsx")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "access-matrix-1.xlsx")
	_, err := excelize.OpenReader(w.Body)
	assert.NoError(t, err)

	// A receptionist does not learn the export exists
	w = do(rbac.Identity{TenantID: 1, UserID: 10}, "/api/v1/admin/access-matrix.xlsx")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
