package report

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/caregrid/accessgate/pkg/menu"
	"github.com/caregrid/accessgate/pkg/rbac"
)

// SubjectSource lists the users of a tenant and their role assignments
type SubjectSource interface {
	ListSubjects(ctx context.Context, tenantID int64) ([]int64, error)
	ListUserRoles(ctx context.Context, tenantID, userID int64) ([]rbac.UserRoleAssignment, error)
}

// MenuBuilder is implemented by menu.Builder
type MenuBuilder interface {
	BuildMenu(ctx context.Context, identity rbac.Identity) ([]menu.Group, error)
}

// Row is one user's effective access in a tenant
type Row struct {
	UserID      int64    `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	MenuKeys    []string `json:"menu_keys"`
}

// Matrix is the effective access of every user in a tenant
type Matrix struct {
	TenantID int64 `json:"tenant_id"`
	Rows     []Row `json:"rows"`
}

// Codes returns every permission code held by at least one user, sorted
func (m *Matrix) Codes() []string {
	seen := make(map[string]bool)
	for _, row := range m.Rows {
		for _, code := range row.Permissions {
			seen[code] = true
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Exporter computes access matrices with the same resolver and builder the API serves from,
// so the report shows exactly what users get.
type Exporter struct {
	subjects    SubjectSource
	resolver    rbac.Resolver
	menus       MenuBuilder
	concurrency int
}

// NewExporter creates an exporter
func NewExporter(subjects SubjectSource, resolver rbac.Resolver, menus MenuBuilder) *Exporter {
	return &Exporter{
		subjects:    subjects,
		resolver:    resolver,
		menus:       menus,
		concurrency: 4,
	}
}

// Matrix computes one row per user with a role assignment in the tenant. Users are resolved
// without admin flags since those come from the session, not the database.
func (e *Exporter) Matrix(ctx context.Context, tenantID int64) (*Matrix, error) {
	users, err := e.subjects.ListSubjects(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	rows := make([]Row, len(users))
	g, gctx := errgroup.WithContext(rbac.WithRequestMemo(ctx))
	g.SetLimit(e.concurrency)
	for i, userID := range users {
		g.Go(func() error {
			row, err := e.row(gctx, tenantID, userID)
			if err != nil {
				return fmt.Errorf("user %d: %w", userID, err)
			}
			rows[i] = *row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Matrix{TenantID: tenantID, Rows: rows}, nil
}

func (e *Exporter) row(ctx context.Context, tenantID, userID int64) (*Row, error) {
	identity := rbac.Identity{TenantID: tenantID, UserID: userID}

	assignments, err := e.subjects.ListUserRoles(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	perms, err := e.resolver.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	groups, err := e.menus.BuildMenu(ctx, identity)
	if err != nil {
		return nil, err
	}

	row := &Row{
		UserID:      userID,
		Roles:       make([]string, 0, len(assignments)),
		Permissions: perms.Codes(),
		MenuKeys:    []string{},
	}
	for _, a := range assignments {
		row.Roles = append(row.Roles, a.RoleKey)
	}
	sort.Strings(row.Roles)
	for _, group := range groups {
		row.MenuKeys = appendKeys(row.MenuKeys, group.Items)
	}
	return row, nil
}

// appendKeys flattens visible nodes in display order
func appendKeys(keys []string, nodes []*menu.Node) []string {
	for _, n := range nodes {
		keys = append(keys, n.Key)
		keys = appendKeys(keys, n.Children)
	}
	return keys
}
