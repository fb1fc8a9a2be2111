package audit

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/caregrid/accessgate/pkg/contextkeys"
	"github.com/caregrid/accessgate/pkg/httputil"
)

// Handlers serves the audit trail of the caller's tenant
type Handlers struct {
	logger *DBLogger
}

// NewHandlers creates audit HTTP handlers
func NewHandlers(logger *DBLogger) *Handlers {
	return &Handlers{logger: logger}
}

// RegisterRoutes registers the audit routes behind guard
func (h *Handlers) RegisterRoutes(router *mux.Router, guard mux.MiddlewareFunc) {
	router.Handle("/api/v1/admin/audit-events", guard(http.HandlerFunc(h.listEvents))).Methods("GET")
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := contextkeys.GetTenantID(r.Context())
	filter := SearchFilter{TenantID: &tenantID}

	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.Limit = limit
	for _, et := range r.URL.Query()["event_type"] {
		filter.EventTypes = append(filter.EventTypes, EventType(et))
	}

	events, err := h.logger.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	if events == nil {
		events = []*AuditEvent{}
	}
	httputil.WriteSuccess(w, events)
}
