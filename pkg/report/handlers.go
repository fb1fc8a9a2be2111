package report

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/caregrid/accessgate/pkg/audit"
	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/httputil"
	"github.com/caregrid/accessgate/pkg/observability"
	"github.com/caregrid/accessgate/pkg/rbac"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers serves access matrix exports for the caller's tenant
type Handlers struct {
	exporter *Exporter
}

// NewHandlers creates report handlers
func NewHandlers(exporter *Exporter) *Handlers {
	return &Handlers{exporter: exporter}
}

// RegisterRoutes registers report routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard *rbac.Guard) {
	manage := guard.RequirePermission(catalog.PermRolesManage)

	router.Handle("/api/v1/admin/access-matrix", manage(http.HandlerFunc(h.GetMatrix))).Methods("GET")
	router.Handle("/api/v1/admin/access-matrix.xlsx", manage(http.HandlerFunc(h.DownloadMatrix))).Methods("GET")
}

// GetMatrix handles GET /api/v1/admin/access-matrix
func (h *Handlers) GetMatrix(w http.ResponseWriter, r *http.Request) {
	matrix, ok := h.matrix(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, matrix)
}

// DownloadMatrix handles GET /api/v1/admin/access-matrix.xlsx
func (h *Handlers) DownloadMatrix(w http.ResponseWriter, r *http.Request) {
	matrix, ok := h.matrix(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := WriteWorkbook(matrix, &buf); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to render access matrix")
		httputil.WriteInternalError(w)
		return
	}

	audit.Record(r.Context(), audit.FromContext(r.Context()), &audit.AuditEvent{
		EventType:    audit.EventTypeAccessMatrixExport,
		Status:       audit.EventStatusSuccess,
		ResourceType: audit.ResourceTypeTenant,
		ResourceID:   fmt.Sprintf("%d", matrix.TenantID),
		Metadata:     map[string]interface{}{"users": len(matrix.Rows)},
	})

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="access-matrix-%d.xlsx"`, matrix.TenantID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handlers) matrix(w http.ResponseWriter, r *http.Request) (*Matrix, bool) {
	identity, _ := rbac.IdentityFromContext(r.Context())

	matrix, err := h.exporter.Matrix(r.Context(), identity.TenantID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to compute access matrix")
		httputil.WriteInternalError(w)
		return nil, false
	}
	return matrix, true
}
