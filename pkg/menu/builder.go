package menu

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/caregrid/accessgate/pkg/modules"
	"github.com/caregrid/accessgate/pkg/observability"
	"github.com/caregrid/accessgate/pkg/rbac"
)

// ItemSource loads the flat registry
type ItemSource interface {
	List(ctx context.Context) ([]*MenuItem, error)
	ListAssociations(ctx context.Context) (map[int64][]string, error)
}

// ModuleGate returns the modules a tenant is entitled to
type ModuleGate interface {
	AllowedModules(ctx context.Context, tenantID int64) (modules.ModuleSet, error)
}

// ModuleLister lists registered modules for group names
type ModuleLister interface {
	ListModules(ctx context.Context) ([]modules.Module, error)
}

// Builder assembles the visible menu for a user
type Builder struct {
	items    ItemSource
	resolver rbac.Resolver
	gate     ModuleGate
	modules  ModuleLister
	metrics  *observability.Metrics
}

// NewBuilder creates a menu builder. metrics may be nil.
func NewBuilder(items ItemSource, resolver rbac.Resolver, gate ModuleGate, lister ModuleLister, metrics *observability.Metrics) *Builder {
	return &Builder{
		items:    items,
		resolver: resolver,
		gate:     gate,
		modules:  lister,
		metrics:  metrics,
	}
}

// snapshot is everything one build reads
type snapshot struct {
	items       []*MenuItem
	assoc       map[int64][]string
	moduleNames map[string]string
	perms       rbac.PermissionSet
	allowed     modules.ModuleSet
}

// BuildMenu returns the user's visible menu grouped by module
func (b *Builder) BuildMenu(ctx context.Context, identity rbac.Identity) ([]Group, error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "menu.BuildMenu")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("tenant.id", identity.TenantID),
		attribute.Int64("user.id", identity.UserID),
	)

	snap, err := b.load(ctx, identity)
	if err != nil {
		b.metrics.RecordMenuBuild(err, 0, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tree := assemble(snap)
	if len(tree.dangling) > 0 {
		observability.FromContext(ctx).WithFields(logrus.Fields{
			"items": tree.dangling,
			"count": tree.unreachable,
		}).Warn("Menu items with missing parent excluded")
	}

	groups, visible := tree.visibleGroups(snap)
	b.metrics.RecordMenuBuild(nil, visible, tree.unreachable, time.Since(start))
	span.SetAttributes(
		attribute.Int("menu.groups", len(groups)),
		attribute.Int("menu.visible_items", visible),
	)
	return groups, nil
}

func (b *Builder) load(ctx context.Context, identity rbac.Identity) (*snapshot, error) {
	snap := &snapshot{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		perms, err := b.resolver.Resolve(gctx, identity)
		if err != nil {
			return fmt.Errorf("failed to resolve permissions: %w", err)
		}
		snap.perms = perms
		return nil
	})
	g.Go(func() error {
		allowed, err := b.gate.AllowedModules(gctx, identity.TenantID)
		if err != nil {
			return fmt.Errorf("failed to load allowed modules: %w", err)
		}
		snap.allowed = allowed
		return nil
	})
	g.Go(func() error {
		items, err := b.items.List(gctx)
		if err != nil {
			return err
		}
		assoc, err := b.items.ListAssociations(gctx)
		if err != nil {
			return err
		}
		mods, err := b.modules.ListModules(gctx)
		if err != nil {
			return err
		}
		snap.items = items
		snap.assoc = assoc
		snap.moduleNames = make(map[string]string, len(mods))
		for _, m := range mods {
			snap.moduleNames[m.Key] = m.Name
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

type arenaNode struct {
	item     *MenuItem
	module   string
	children []*arenaNode
}

type arena struct {
	roots       []*arenaNode
	dangling    []string
	unreachable int
}

// resolvedModule is module_key, else the first associated module, else "". assemble fills
// the remaining gaps from the parent.
func resolvedModule(item *MenuItem, assoc map[int64][]string) string {
	if item.ModuleKey != nil {
		return *item.ModuleKey
	}
	if keys := assoc[item.ID]; len(keys) > 0 {
		return keys[0]
	}
	return ""
}

// assemble links items into a tree. Items arrive in insertion order, so a stable sort on
// sort_order keeps insertion order for ties.
func assemble(snap *snapshot) *arena {
	nodes := make(map[int64]*arenaNode, len(snap.items))
	for _, item := range snap.items {
		nodes[item.ID] = &arenaNode{item: item, module: resolvedModule(item, snap.assoc)}
	}

	a := &arena{}
	for _, item := range snap.items {
		n := nodes[item.ID]
		if item.ParentID == nil {
			a.roots = append(a.roots, n)
			continue
		}
		parent, ok := nodes[*item.ParentID]
		if !ok {
			a.dangling = append(a.dangling, item.Key)
			continue
		}
		parent.children = append(parent.children, n)
	}

	// Children without a module of their own belong to their parent's module
	reached := 0
	var walk func(list []*arenaNode, inherited string)
	walk = func(list []*arenaNode, inherited string) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].item.SortOrder < list[j].item.SortOrder
		})
		for _, n := range list {
			reached++
			if n.module == "" {
				n.module = inherited
			}
			walk(n.children, n.module)
		}
	}
	walk(a.roots, "")
	a.unreachable = len(snap.items) - reached
	return a
}

// moduleOk is the module gate. An item with no module anywhere up its branch only passes
// with the wildcard. is_global does not bypass the gate.
func (snap *snapshot) moduleOk(n *arenaNode) bool {
	if n.module == "" {
		return snap.perms.IsWildcard()
	}
	return modules.Allowed(n.module, snap.allowed, snap.perms)
}

func (snap *snapshot) permOk(n *arenaNode) bool {
	return n.item.PermissionCode == nil || snap.perms.Allows(*n.item.PermissionCode)
}

// visit returns the visible copy of n, or nil. Children are decided first.
func (snap *snapshot) visit(n *arenaNode, count *int) *Node {
	var children []*Node
	for _, c := range n.children {
		if v := snap.visit(c, count); v != nil {
			children = append(children, v)
		}
	}

	passes := snap.moduleOk(n) && snap.permOk(n)
	var visible bool
	if len(n.children) == 0 {
		visible = passes
	} else {
		visible = (passes && n.item.URL != nil) || len(children) > 0
	}
	if !visible {
		return nil
	}

	*count++
	return &Node{
		ID:             n.item.ID,
		Key:            n.item.Key,
		Label:          n.item.Label,
		URL:            n.item.URL,
		Icon:           n.item.Icon,
		ModuleKey:      n.module,
		PermissionCode: n.item.PermissionCode,
		SortOrder:      n.item.SortOrder,
		Children:       children,
	}
}

func (a *arena) visibleGroups(snap *snapshot) ([]Group, int) {
	visible := 0
	byKey := make(map[string]*Group)
	var order []string

	for _, root := range a.roots {
		node := snap.visit(root, &visible)
		if node == nil {
			continue
		}
		key := root.module
		if key == "" {
			key = GeneralGroup
		}
		g, ok := byKey[key]
		if !ok {
			g = &Group{ModuleKey: key, ModuleName: groupName(key, snap.moduleNames)}
			byKey[key] = g
			order = append(order, key)
		}
		g.Items = append(g.Items, node)
	}

	groups := make([]Group, 0, len(order))
	for _, key := range order {
		groups = append(groups, *byKey[key])
	}
	sort.SliceStable(groups, func(i, j int) bool {
		ni, nj := strings.ToLower(groups[i].ModuleName), strings.ToLower(groups[j].ModuleName)
		if ni != nj {
			return ni < nj
		}
		return groups[i].ModuleKey < groups[j].ModuleKey
	})
	return groups, visible
}

func groupName(key string, names map[string]string) string {
	if name := names[key]; name != "" {
		return name
	}
	if key == GeneralGroup {
		return "General"
	}
	return key
}
