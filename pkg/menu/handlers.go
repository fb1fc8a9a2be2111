package menu

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/caregrid/accessgate/pkg/audit"
	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/httputil"
	"github.com/caregrid/accessgate/pkg/notify"
	"github.com/caregrid/accessgate/pkg/observability"
	"github.com/caregrid/accessgate/pkg/rbac"
)

// Handlers serves the menu and the registry admin routes
type Handlers struct {
	registry  *Registry
	builder   *Builder
	publisher notify.Publisher
	metrics   *observability.Metrics
}

// NewHandlers creates menu handlers. publisher and metrics may be nil.
func NewHandlers(registry *Registry, builder *Builder, publisher notify.Publisher, metrics *observability.Metrics) *Handlers {
	if publisher == nil {
		publisher = notify.Nop()
	}
	return &Handlers{registry: registry, builder: builder, publisher: publisher, metrics: metrics}
}

// RegisterRoutes registers the menu routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard *rbac.Guard) {
	manage := guard.RequirePermission(catalog.PermMenuManage)

	router.Handle("/api/v1/me/menu", guard.Authenticated()(http.HandlerFunc(h.GetMyMenu))).Methods("GET")

	router.Handle("/api/v1/admin/menu-items", manage(http.HandlerFunc(h.ListItems))).Methods("GET")
	router.Handle("/api/v1/admin/menu-items", manage(http.HandlerFunc(h.CreateItem))).Methods("POST")
	router.Handle("/api/v1/admin/menu-items/integrity", manage(http.HandlerFunc(h.CheckIntegrity))).Methods("GET")
	router.Handle("/api/v1/admin/menu-items/{id:[0-9]+}", manage(http.HandlerFunc(h.GetItem))).Methods("GET")
	router.Handle("/api/v1/admin/menu-items/{id:[0-9]+}", manage(http.HandlerFunc(h.UpdateItem))).Methods("PUT")
	router.Handle("/api/v1/admin/menu-items/{id:[0-9]+}", manage(http.HandlerFunc(h.DeleteItem))).Methods("DELETE")
	router.Handle("/api/v1/admin/menu-items/{id:[0-9]+}/modules", manage(http.HandlerFunc(h.AssociateItem))).Methods("POST")
}

// GetMyMenu handles GET /api/v1/me/menu
func (h *Handlers) GetMyMenu(w http.ResponseWriter, r *http.Request) {
	identity, _ := rbac.IdentityFromContext(r.Context())

	groups, err := h.builder.BuildMenu(r.Context(), identity)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to build menu")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"groups": groups})
}

// ListItems handles GET /api/v1/admin/menu-items
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.registry.List(r.Context())
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, items)
}

// GetItem handles GET /api/v1/admin/menu-items/{id}
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	item, err := h.registry.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "menu item not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, item)
}

// CreateItem handles POST /api/v1/admin/menu-items
func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	var in MenuItemInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	in.ID = nil

	item, err := h.registry.Upsert(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.changed(r, audit.EventTypeMenuItemCreate, item.ID, item.Key)
	httputil.WriteCreated(w, item)
}

// UpdateItem handles PUT /api/v1/admin/menu-items/{id}
func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var in MenuItemInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	in.ID = &id

	item, err := h.registry.Upsert(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.changed(r, audit.EventTypeMenuItemUpdate, item.ID, item.Key)
	httputil.WriteSuccess(w, item)
}

// DeleteItem handles DELETE /api/v1/admin/menu-items/{id}
func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.changed(r, audit.EventTypeMenuItemDelete, id, "")
	httputil.WriteNoContent(w)
}

type associateRequest struct {
	ModuleKey string `json:"module_key"`
}

// AssociateItem handles POST /api/v1/admin/menu-items/{id}/modules
func (h *Handlers) AssociateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req associateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if _, err := h.registry.Associate(r.Context(), req.ModuleKey, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.changed(r, audit.EventTypeMenuItemUpdate, id, req.ModuleKey)
	httputil.WriteNoContent(w)
}

// CheckIntegrity handles GET /api/v1/admin/menu-items/integrity
func (h *Handlers) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	issues, err := h.registry.CheckIntegrity(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Menu integrity check failed")
		httputil.WriteInternalError(w)
		return
	}
	h.metrics.SetIntegrityIssues(CountIssues(issues))
	httputil.WriteSuccess(w, map[string]interface{}{
		"issues": issues,
		"counts": CountIssues(issues),
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *DuplicateKeyError
	var children *HasChildrenError
	switch {
	case errors.As(err, &dup):
		httputil.WriteDetailedError(w, http.StatusConflict, err.Error(), map[string]string{"key": dup.Key})
	case errors.As(err, &children):
		httputil.WriteDetailedError(w, http.StatusConflict, err.Error(), map[string]string{
			"constraint": "parent_id",
			"children":   strconv.Itoa(children.Children),
		})
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, "menu item not found")
	case errors.Is(err, ErrInvalidItem), errors.Is(err, ErrParentNotFound), errors.Is(err, ErrCycle),
		errors.Is(err, ErrUnknownPermission), errors.Is(err, ErrUnknownModule):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Menu registry operation failed")
		httputil.WriteInternalError(w)
	}
}

func (h *Handlers) changed(r *http.Request, eventType audit.EventType, id int64, key string) {
	audit.Record(r.Context(), audit.FromContext(r.Context()), &audit.AuditEvent{
		EventType:    eventType,
		Status:       audit.EventStatusSuccess,
		ResourceType: audit.ResourceTypeMenuItem,
		ResourceID:   strconv.FormatInt(id, 10),
		Metadata:     map[string]interface{}{"key": key},
	})
	notify.Emit(r.Context(), h.publisher, h.metrics, notify.Change{
		Kind: notify.KindMenu,
		Key:  key,
		At:   time.Now(),
	})
}
