package modules

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/caregrid/accessgate/pkg/audit"
	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/httputil"
	"github.com/caregrid/accessgate/pkg/notify"
	"github.com/caregrid/accessgate/pkg/observability"
	"github.com/caregrid/accessgate/pkg/rbac"
)

// Handlers serves module entitlement routes
type Handlers struct {
	store     *Store
	gate      *Gate
	publisher notify.Publisher
	metrics   *observability.Metrics
}

// NewHandlers creates entitlement handlers. publisher and metrics may be nil.
func NewHandlers(store *Store, gate *Gate, publisher notify.Publisher, metrics *observability.Metrics) *Handlers {
	if publisher == nil {
		publisher = notify.Nop()
	}
	return &Handlers{store: store, gate: gate, publisher: publisher, metrics: metrics}
}

// RegisterRoutes registers the entitlement routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard *rbac.Guard) {
	manage := guard.RequirePermission(catalog.PermModulesManage)

	router.Handle("/api/v1/me/modules", guard.Authenticated()(http.HandlerFunc(h.GetMyModules))).Methods("GET")
	router.Handle("/api/v1/admin/modules", manage(http.HandlerFunc(h.ListModules))).Methods("GET")
	router.Handle("/api/v1/admin/entitlements", manage(http.HandlerFunc(h.ListEntitlements))).Methods("GET")
	router.Handle("/api/v1/admin/entitlements/{module}", manage(http.HandlerFunc(h.SetEntitlement))).Methods("PUT")
}

// GetMyModules handles GET /api/v1/me/modules
func (h *Handlers) GetMyModules(w http.ResponseWriter, r *http.Request) {
	identity, _ := rbac.IdentityFromContext(r.Context())

	mods, err := h.gate.AllowedModules(r.Context(), identity.TenantID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to evaluate module gate")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"tenant_id": identity.TenantID,
		"modules":   mods.Keys(),
	})
}

// ListModules handles GET /api/v1/admin/modules
func (h *Handlers) ListModules(w http.ResponseWriter, r *http.Request) {
	mods, err := h.store.ListModules(r.Context())
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, mods)
}

// ListEntitlements handles GET /api/v1/admin/entitlements
func (h *Handlers) ListEntitlements(w http.ResponseWriter, r *http.Request) {
	identity, _ := rbac.IdentityFromContext(r.Context())

	ents, err := h.store.ListEntitlements(r.Context(), identity.TenantID)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, ents)
}

type entitlementRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetEntitlement handles PUT /api/v1/admin/entitlements/{module}
func (h *Handlers) SetEntitlement(w http.ResponseWriter, r *http.Request) {
	moduleKey, ok := httputil.ParsePathStringOrError(w, r, "module")
	if !ok {
		return
	}
	var req entitlementRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		httputil.WriteBadRequest(w, "enabled is required")
		return
	}
	identity, _ := rbac.IdentityFromContext(r.Context())

	ent := Entitlement{TenantID: identity.TenantID, ModuleKey: moduleKey, Enabled: *req.Enabled}
	if err := h.store.SetEntitlement(r.Context(), ent); err != nil {
		if errors.Is(err, ErrModuleNotFound) {
			httputil.WriteNotFound(w, "module not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("Failed to set entitlement")
		httputil.WriteInternalError(w)
		return
	}

	audit.Record(r.Context(), audit.FromContext(r.Context()), &audit.AuditEvent{
		EventType:    audit.EventTypeEntitlementChange,
		Status:       audit.EventStatusSuccess,
		ResourceType: audit.ResourceTypeModule,
		ResourceID:   moduleKey,
		Metadata:     map[string]interface{}{"enabled": ent.Enabled},
	})
	notify.Emit(r.Context(), h.publisher, h.metrics, notify.Change{
		Kind:     notify.KindEntitlement,
		TenantID: identity.TenantID,
		Key:      moduleKey,
		At:       time.Now(),
	})

	httputil.WriteSuccess(w, ent)
}
