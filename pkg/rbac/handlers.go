package rbac

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
)

// Handlers provides HTTP handlers for permission resolution and role administration
type Handlers struct {
	store     *Store
	catalog   *catalog.Store
	resolver  Resolver
	publisher notify.Publisher
	metrics   *observability.Metrics
}

// NewHandlers creates RBAC HTTP handlers. publisher and metrics may be nil.
func NewHandlers(store *Store, catalogStore *catalog.Store, resolver Resolver, publisher notify.Publisher, metrics *observability.Metrics) *Handlers {
	if publisher == nil {
		publisher = notify.Nop()
	}
	return &Handlers{
		store:     store,
		catalog:   catalogStore,
		resolver:  resolver,
		publisher: publisher,
		metrics:   metrics,
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard *Guard) {
	authed := guard.Authenticated()
	manage := guard.RequirePermission(catalog.PermRolesManage)
	sysadmin := guard.RequirePermission(catalog.PermSystemAdmin)

	// Caller's own permissions
	router.Handle("/api/v1/me/permissions", authed(http.HandlerFunc(h.GetMyPermissions))).Methods("GET")
	router.Handle("/api/v1/me/permissions/{code}", authed(http.HandlerFunc(h.CheckMyPermission))).Methods("GET")

	// Role management
	router.Handle("/api/v1/admin/roles", manage(http.HandlerFunc(h.ListRoles))).Methods("GET")
	router.Handle("/api/v1/admin/roles", manage(http.HandlerFunc(h.CreateRole))).Methods("POST")
	router.Handle("/api/v1/admin/roles/{id}", manage(http.HandlerFunc(h.UpdateRole))).Methods("PUT")
	router.Handle("/api/v1/admin/roles/{id}", manage(http.HandlerFunc(h.DeleteRole))).Methods("DELETE")
	router.Handle("/api/v1/admin/roles/{id}/grants", manage(http.HandlerFunc(h.ListRoleGrants))).Methods("GET")
	router.Handle("/api/v1/admin/roles/{id}/grants/{code}", manage(http.HandlerFunc(h.SetRoleGrant))).Methods("PUT")

	// User assignments and direct grants
	router.Handle("/api/v1/admin/users/{id}/roles", manage(http.HandlerFunc(h.GetUserRoles))).Methods("GET")
	router.Handle("/api/v1/admin/users/{id}/roles", manage(http.HandlerFunc(h.AssignRoleToUser))).Methods("POST")
	router.Handle("/api/v1/admin/users/{id}/roles/{role_id}", manage(http.HandlerFunc(h.RevokeRoleFromUser))).Methods("DELETE")
	router.Handle("/api/v1/admin/users/{id}/grants", manage(http.HandlerFunc(h.ListUserGrants))).Methods("GET")
	router.Handle("/api/v1/admin/users/{id}/grants/{code}", manage(http.HandlerFunc(h.SetUserGrant))).Methods("PUT")

	// Permission catalog
	router.Handle("/api/v1/admin/permissions", manage(http.HandlerFunc(h.ListPermissions))).Methods("GET")
	router.Handle("/api/v1/admin/permissions/{code}", sysadmin(http.HandlerFunc(h.DeletePermission))).Methods("DELETE")
}

// GetMyPermissions handles GET /api/v1/me/permissions
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	perms, err := h.resolver.Resolve(r.Context(), identity)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"tenant_id":   identity.TenantID,
		"user_id":     identity.UserID,
		"permissions": perms,
	})
}

// CheckMyPermission handles GET /api/v1/me/permissions/{code}
func (h *Handlers) CheckMyPermission(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	identity, _ := IdentityFromContext(r.Context())

	allowed, err := h.resolver.CheckPermission(r.Context(), identity, code)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"permission": code,
		"allowed":    allowed,
	})
}

// canModify reports whether identity may change role. Shared roles belong to the platform.
func canModify(identity Identity, role *Role) bool {
	if role.TenantID == SharedTenantID {
		return identity.IsPlatformAdmin
	}
	return role.TenantID == identity.TenantID
}

// canSee reports whether identity may read role
func canSee(identity Identity, role *Role) bool {
	return role.TenantID == SharedTenantID || role.TenantID == identity.TenantID
}

// loadRole fetches the {id} role and writes 404 when it is missing or outside the caller's scope
func (h *Handlers) loadRole(w http.ResponseWriter, r *http.Request, visible func(Identity, *Role) bool) (*Role, Identity, bool) {
	identity, _ := IdentityFromContext(r.Context())
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, identity, false
	}

	role, err := h.store.GetRole(r.Context(), id)
	if errors.Is(err, ErrRoleNotFound) || (err == nil && !visible(identity, role)) {
		httputil.WriteNotFound(w, "role not found")
		return nil, identity, false
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to load role")
		httputil.WriteInternalError(w)
		return nil, identity, false
	}
	return role, identity, true
}

// loadUser reads {id} and the user's assignments in the caller's tenant. Users with no assignment
// there answer 404 unless the caller is a platform admin.
func (h *Handlers) loadUser(w http.ResponseWriter, r *http.Request) (int64, []UserRoleAssignment, Identity, bool) {
	identity, _ := IdentityFromContext(r.Context())
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return 0, nil, identity, false
	}

	assignments, err := h.store.ListUserRoles(r.Context(), identity.TenantID, userID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to load user roles")
		httputil.WriteInternalError(w)
		return 0, nil, identity, false
	}
	if len(assignments) == 0 && !identity.IsPlatformAdmin {
		httputil.WriteNotFound(w, "user not found")
		return 0, nil, identity, false
	}
	return userID, assignments, identity, true
}

// ListRoles handles GET /api/v1/admin/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	roles, err := h.store.ListRoles(r.Context(), identity.TenantID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to list roles")
		httputil.WriteInternalError(w)
		return
	}
	if roles == nil {
		roles = []*Role{}
	}
	httputil.WriteSuccess(w, roles)
}

type roleRequest struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Shared      bool     `json:"shared"`
}

// CreateRole handles POST /api/v1/admin/roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	identity, _ := IdentityFromContext(r.Context())

	role := &Role{
		TenantID:    identity.TenantID,
		Key:         req.Key,
		Name:        req.Name,
		Permissions: req.Permissions,
	}
	if req.Shared {
		if !identity.IsPlatformAdmin {
			httputil.WriteNotFound(w, "not found")
			return
		}
		role.TenantID = SharedTenantID
	}

	if err := h.store.CreateRole(r.Context(), role); err != nil {
		switch {
		case errors.Is(err, ErrInvalidRole):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, ErrDuplicateRole):
			httputil.WriteConflict(w, err.Error())
		default:
			observability.FromContext(r.Context()).WithError(err).Error("Failed to create role")
			httputil.WriteInternalError(w)
		}
		return
	}

	h.record(r, audit.EventTypeAuthzRoleCreate, audit.ResourceTypeRole, strconv.FormatInt(role.ID, 10),
		"role created", map[string]interface{}{"key": role.Key})
	h.emit(r, notify.KindRole, role.TenantID, 0, role.Key)

	httputil.WriteCreated(w, role)
}

// UpdateRole handles PUT /api/v1/admin/roles/{id}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	role, _, ok := h.loadRole(w, r, canModify)
	if !ok {
		return
	}

	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name != "" {
		role.Name = req.Name
	}
	if req.Permissions != nil {
		role.Permissions = req.Permissions
	}

	if err := h.store.UpdateRole(r.Context(), role); err != nil {
		switch {
		case errors.Is(err, ErrInvalidRole):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, ErrRoleNotFound):
			httputil.WriteNotFound(w, "role not found")
		default:
			observability.FromContext(r.Context()).WithError(err).Error("Failed to update role")
			httputil.WriteInternalError(w)
		}
		return
	}

	h.record(r, audit.EventTypeAuthzRoleUpdate, audit.ResourceTypeRole, strconv.FormatInt(role.ID, 10),
		"role updated", map[string]interface{}{"permissions": role.Permissions})
	h.emit(r, notify.KindRole, role.TenantID, 0, role.Key)

	httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /api/v1/admin/roles/{id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	role, _, ok := h.loadRole(w, r, canModify)
	if !ok {
		return
	}

	if err := h.store.DeleteRole(r.Context(), role.ID); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			httputil.WriteNotFound(w, "role not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("Failed to delete role")
		httputil.WriteInternalError(w)
		return
	}

	h.record(r, audit.EventTypeAuthzRoleDelete, audit.ResourceTypeRole, strconv.FormatInt(role.ID, 10),
		"role deleted", map[string]interface{}{"key": role.Key})
	h.emit(r, notify.KindRole, role.TenantID, 0, role.Key)

	httputil.WriteNoContent(w)
}

// ListRoleGrants handles GET /api/v1/admin/roles/{id}/grants
func (h *Handlers) ListRoleGrants(w http.ResponseWriter, r *http.Request) {
	role, _, ok := h.loadRole(w, r, canSee)
	if !ok {
		return
	}

	grants, err := h.store.ListRoleGrants(r.Context(), role.ID)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, grants)
}

type grantRequest struct {
	IsGranted *bool `json:"is_granted"`
}

func parseGrant(w http.ResponseWriter, r *http.Request) (string, bool, bool) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return "", false, false
	}
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return "", false, false
	}
	if req.IsGranted == nil {
		httputil.WriteBadRequest(w, "is_granted is required")
		return "", false, false
	}
	return code, *req.IsGranted, true
}

// SetRoleGrant handles PUT /api/v1/admin/roles/{id}/grants/{code}
func (h *Handlers) SetRoleGrant(w http.ResponseWriter, r *http.Request) {
	role, _, ok := h.loadRole(w, r, canModify)
	if !ok {
		return
	}
	code, granted, ok := parseGrant(w, r)
	if !ok {
		return
	}

	grant := RoleGrant{RoleID: role.ID, PermissionCode: code, IsGranted: granted}
	if err := h.store.SetRoleGrant(r.Context(), grant); err != nil {
		if errors.Is(err, ErrUnknownPermission) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("Failed to set role grant")
		httputil.WriteInternalError(w)
		return
	}

	h.record(r, audit.EventTypeAuthzRoleGrant, audit.ResourceTypeRole, strconv.FormatInt(role.ID, 10),
		"role grant set", map[string]interface{}{"permission": code, "is_granted": granted})
	h.emit(r, notify.KindRoleGrant, role.TenantID, 0, code)

	httputil.WriteSuccess(w, grant)
}

// GetUserRoles handles GET /api/v1/admin/users/{id}/roles
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	_, assignments, _, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	if assignments == nil {
		assignments = []UserRoleAssignment{}
	}
	httputil.WriteSuccess(w, assignments)
}

type assignRequest struct {
	RoleID int64 `json:"role_id"`
}

// AssignRoleToUser handles POST /api/v1/admin/users/{id}/roles
func (h *Handlers) AssignRoleToUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	identity, _ := IdentityFromContext(r.Context())

	role, err := h.store.GetRole(r.Context(), req.RoleID)
	if errors.Is(err, ErrRoleNotFound) || (err == nil && !canSee(identity, role)) {
		httputil.WriteNotFound(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	if err := h.store.AssignRole(r.Context(), userID, role.ID, identity.TenantID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to assign role")
		httputil.WriteInternalError(w)
		return
	}

	h.record(r, audit.EventTypeAuthzRoleAssign, audit.ResourceTypeUser, strconv.FormatInt(userID, 10),
		"role assigned", map[string]interface{}{"role_id": role.ID, "role_key": role.Key})
	h.emit(r, notify.KindAssignment, identity.TenantID, userID, role.Key)

	httputil.WriteCreated(w, UserRoleAssignment{
		UserID:   userID,
		RoleID:   role.ID,
		TenantID: identity.TenantID,
		RoleKey:  role.Key,
	})
}

// RevokeRoleFromUser handles DELETE /api/v1/admin/users/{id}/roles/{role_id}
func (h *Handlers) RevokeRoleFromUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	identity, _ := IdentityFromContext(r.Context())

	if err := h.store.RevokeRole(r.Context(), userID, roleID, identity.TenantID); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			httputil.WriteNotFound(w, "assignment not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("Failed to revoke role")
		httputil.WriteInternalError(w)
		return
	}

	h.record(r, audit.EventTypeAuthzRoleRevoke, audit.ResourceTypeUser, strconv.FormatInt(userID, 10),
		"role revoked", map[string]interface{}{"role_id": roleID})
	h.emit(r, notify.KindAssignment, identity.TenantID, userID, "")

	httputil.WriteNoContent(w)
}

// ListUserGrants handles GET /api/v1/admin/users/{id}/grants
func (h *Handlers) ListUserGrants(w http.ResponseWriter, r *http.Request) {
	userID, _, _, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	grants, err := h.store.ListUserGrants(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, grants)
}

// SetUserGrant handles PUT /api/v1/admin/users/{id}/grants/{code}
func (h *Handlers) SetUserGrant(w http.ResponseWriter, r *http.Request) {
	userID, _, identity, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	code, granted, ok := parseGrant(w, r)
	if !ok {
		return
	}

	grant := UserGrant{UserID: userID, PermissionCode: code, IsGranted: granted}
	if err := h.store.SetUserGrant(r.Context(), grant); err != nil {
		if errors.Is(err, ErrUnknownPermission) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("Failed to set user grant")
		httputil.WriteInternalError(w)
		return
	}

	h.record(r, audit.EventTypeAuthzUserGrant, audit.ResourceTypeUser, strconv.FormatInt(userID, 10),
		"user grant set", map[string]interface{}{"permission": code, "is_granted": granted})
	h.emit(r, notify.KindUserGrant, identity.TenantID, userID, code)

	httputil.WriteSuccess(w, grant)
}

// ListPermissions handles GET /api/v1/admin/permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.List(r.Context())
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	if perms == nil {
		perms = []catalog.Permission{}
	}
	httputil.WriteSuccess(w, perms)
}

// DeletePermission handles DELETE /api/v1/admin/permissions/{code}
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}

	err := h.catalog.Delete(r.Context(), code)
	var inUse *catalog.InUseError
	switch {
	case err == nil:
	case errors.As(err, &inUse):
		httputil.WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"error":       inUse.Error(),
			"role_arrays": inUse.RoleArrays,
			"role_grants": inUse.RoleGrants,
			"user_grants": inUse.UserGrants,
			"menu_items":  inUse.MenuItems,
		})
		return
	case errors.Is(err, catalog.ErrNotFound):
		httputil.WriteNotFound(w, "permission not found")
		return
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Failed to delete permission")
		httputil.WriteInternalError(w)
		return
	}

	h.record(r, audit.EventTypeAuthzPermissionDelete, audit.ResourceTypePermission, code, "permission deleted", nil)
	h.emit(r, notify.KindPermission, 0, 0, code)

	httputil.WriteNoContent(w)
}

func (h *Handlers) record(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID, message string, metadata map[string]interface{}) {
	audit.Record(r.Context(), audit.FromContext(r.Context()), &audit.AuditEvent{
		EventType:    eventType,
		Status:       audit.EventStatusSuccess,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Message:      message,
		Metadata:     metadata,
	})
}

func (h *Handlers) emit(r *http.Request, kind notify.Kind, tenantID, userID int64, key string) {
	notify.Emit(r.Context(), h.publisher, h.metrics, notify.Change{
		Kind:     kind,
		TenantID: tenantID,
		UserID:   userID,
		Key:      key,
		At:       time.Now(),
	})
}
