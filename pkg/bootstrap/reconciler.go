package bootstrap

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/caregrid/accessgate/pkg/catalog"
	"github.com/caregrid/accessgate/pkg/menu"
	"github.com/caregrid/accessgate/pkg/modules"
	"github.com/caregrid/accessgate/pkg/observability"
	"github.com/caregrid/accessgate/pkg/rbac"
)

// Reconcile kinds reported to metrics
const (
	KindPermission  = "permission"
	KindModule      = "module"
	KindTenant      = "tenant"
	KindRole        = "role"
	KindRoleGrant   = "role_grant"
	KindMenuItem    = "menu_item"
	KindAssociation = "menu_association"
)

// Report counts the rows a reconciliation created
type Report struct {
	Permissions  int `json:"permissions"`
	Modules      int `json:"modules"`
	Tenants      int `json:"tenants"`
	Roles        int `json:"roles"`
	RoleGrants   int `json:"role_grants"`
	MenuItems    int `json:"menu_items"`
	Associations int `json:"associations"`
}

// Reconciler applies manifests through the stores' insert-if-absent operations
type Reconciler struct {
	catalog  *catalog.Store
	roles    *rbac.Store
	modules  *modules.Store
	registry *menu.Registry
	metrics  *observability.Metrics
	logger   logrus.FieldLogger
}

// NewReconciler creates a reconciler
func NewReconciler(catalogStore *catalog.Store, roles *rbac.Store, moduleStore *modules.Store, registry *menu.Registry, metrics *observability.Metrics, logger logrus.FieldLogger) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{
		catalog:  catalogStore,
		roles:    roles,
		modules:  moduleStore,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// Apply seeds the built-in permissions and then every manifest entry, dependencies first:
// permissions, modules, tenants, roles with grants, then the menu tree parent before child.
// Safe to run repeatedly and from several instances at once.
func (r *Reconciler) Apply(ctx context.Context, m *Manifest) (*Report, error) {
	ctx, span := observability.Tracer().Start(ctx, "bootstrap.Apply")
	defer span.End()

	report, err := r.apply(ctx, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return report, err
	}

	r.logger.WithFields(logrus.Fields{
		"permissions":  report.Permissions,
		"modules":      report.Modules,
		"tenants":      report.Tenants,
		"roles":        report.Roles,
		"role_grants":  report.RoleGrants,
		"menu_items":   report.MenuItems,
		"associations": report.Associations,
	}).Info("Manifest reconciled")
	return report, nil
}

func (r *Reconciler) apply(ctx context.Context, m *Manifest) (*Report, error) {
	report := &Report{}

	for _, p := range catalog.BuiltInPermissions() {
		if err := r.ensurePermission(ctx, p, report); err != nil {
			return report, err
		}
	}
	for _, p := range m.Permissions {
		if err := r.ensurePermission(ctx, catalog.Permission{Code: p.Code, Name: p.Name, Category: p.Category}, report); err != nil {
			return report, err
		}
	}

	for _, spec := range m.Modules {
		created, err := r.modules.EnsureModule(ctx, modules.Module{Key: spec.Key, Name: spec.Name, IsActive: !spec.Inactive})
		if err != nil {
			return report, fmt.Errorf("failed to reconcile module %s: %w", spec.Key, err)
		}
		r.count(KindModule, created, &report.Modules)
	}

	for _, spec := range m.Tenants {
		created, err := r.modules.EnsureTenant(ctx, modules.Tenant{ID: spec.ID, Name: spec.Name, Industry: spec.Industry})
		if err != nil {
			return report, fmt.Errorf("failed to reconcile tenant %d: %w", spec.ID, err)
		}
		r.count(KindTenant, created, &report.Tenants)
	}

	for _, spec := range m.Roles {
		if err := r.ensureRole(ctx, spec, report); err != nil {
			return report, err
		}
	}

	if err := r.ensureMenu(ctx, m.Menu, nil, report); err != nil {
		return report, err
	}

	return report, nil
}

func (r *Reconciler) ensurePermission(ctx context.Context, p catalog.Permission, report *Report) error {
	created, err := r.catalog.EnsurePermission(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to reconcile permission %s: %w", p.Code, err)
	}
	r.count(KindPermission, created, &report.Permissions)
	return nil
}

func (r *Reconciler) ensureRole(ctx context.Context, spec RoleSpec, report *Report) error {
	role, created, err := r.roles.EnsureRole(ctx, &rbac.Role{
		TenantID:    spec.Tenant,
		Key:         spec.Key,
		Name:        spec.Name,
		Permissions: spec.Permissions,
	})
	if err != nil {
		return fmt.Errorf("failed to reconcile role %s: %w", spec.Key, err)
	}
	r.count(KindRole, created, &report.Roles)

	for _, code := range spec.Grants {
		created, err := r.roles.EnsureRoleGrant(ctx, role.ID, code)
		if err != nil {
			return fmt.Errorf("failed to reconcile grant %s on role %s: %w", code, spec.Key, err)
		}
		r.count(KindRoleGrant, created, &report.RoleGrants)
	}
	return nil
}

func (r *Reconciler) ensureMenu(ctx context.Context, specs []MenuSpec, parentID *int64, report *Report) error {
	for _, spec := range specs {
		in := menu.MenuItemInput{
			Key:            spec.Key,
			Label:          spec.Label,
			URL:            optional(spec.URL),
			Icon:           spec.Icon,
			ModuleKey:      optional(spec.Module),
			PermissionCode: optional(spec.Permission),
			SortOrder:      spec.SortOrder,
			IsGlobal:       spec.Global,
		}
		if parentID != nil {
			in.Parent = *parentID
		}

		created, err := r.registry.EnsureMenuExists(ctx, in)
		if err != nil {
			return fmt.Errorf("failed to reconcile menu item %s: %w", spec.Key, err)
		}
		r.count(KindMenuItem, created, &report.MenuItems)

		// The stored row may predate this manifest, so children hang off whatever id it has
		stored, err := r.registry.GetByKey(ctx, spec.Key)
		if err != nil {
			return fmt.Errorf("failed to load menu item %s: %w", spec.Key, err)
		}

		for _, moduleKey := range spec.Modules {
			created, err := r.registry.Associate(ctx, moduleKey, stored.ID)
			if err != nil {
				return fmt.Errorf("failed to associate %s with module %s: %w", spec.Key, moduleKey, err)
			}
			r.count(KindAssociation, created, &report.Associations)
		}

		if err := r.ensureMenu(ctx, spec.Children, &stored.ID, report); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) count(kind string, created bool, counter *int) {
	r.metrics.RecordReconcile(kind, created)
	if created {
		*counter++
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
