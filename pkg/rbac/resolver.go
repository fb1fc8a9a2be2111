package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/caregrid/accessgate/pkg/contextkeys"
	"github.com/caregrid/accessgate/pkg/observability"
)

// GrantSource loads the additive permission sources of a user
type GrantSource interface {
	AssignedRoles(ctx context.Context, tenantID, userID int64) ([]*Role, error)
	GrantedRoleCodes(ctx context.Context, tenantID, userID int64) ([]string, error)
	GrantedUserCodes(ctx context.Context, userID int64) ([]string, error)
}

// Resolver computes effective permission sets
type Resolver interface {
	Resolve(ctx context.Context, identity Identity) (PermissionSet, error)
	CheckPermission(ctx context.Context, identity Identity, code string) (bool, error)
}

// PermissionResolver resolves permission sets from a GrantSource
type PermissionResolver struct {
	source  GrantSource
	metrics *observability.Metrics
}

// NewPermissionResolver creates a resolver. metrics may be nil.
func NewPermissionResolver(source GrantSource, metrics *observability.Metrics) *PermissionResolver {
	return &PermissionResolver{source: source, metrics: metrics}
}

type memoKey struct {
	tenantID int64
	userID   int64
	admin    bool
}

func (k memoKey) String() string {
	return fmt.Sprintf("%d/%d/%t", k.tenantID, k.userID, k.admin)
}

// requestMemo holds resolved sets. mu guards only the map; concurrent resolutions of the same
// key share one load through flight.
type requestMemo struct {
	mu     sync.Mutex
	sets   map[memoKey]PermissionSet
	flight singleflight.Group
}

func (m *requestMemo) get(key memoKey) (PermissionSet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	return set, ok
}

func (m *requestMemo) put(key memoKey, set PermissionSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[key] = set
}

// WithRequestMemo attaches a memo that lets every resolution inside one request reuse the
// first result. The memo dies with the context.
func WithRequestMemo(ctx context.Context) context.Context {
	if _, ok := ctx.Value(contextkeys.PermissionMemoKey).(*requestMemo); ok {
		return ctx
	}
	return context.WithValue(ctx, contextkeys.PermissionMemoKey, &requestMemo{sets: make(map[memoKey]PermissionSet)})
}

func memoFromContext(ctx context.Context) *requestMemo {
	memo, _ := ctx.Value(contextkeys.PermissionMemoKey).(*requestMemo)
	return memo
}

// Resolve returns the user's effective permission set in the tenant
func (r *PermissionResolver) Resolve(ctx context.Context, identity Identity) (PermissionSet, error) {
	if !identity.Valid() {
		return nil, ErrMissingIdentity
	}

	key := memoKey{tenantID: identity.TenantID, userID: identity.UserID, admin: identity.HasAdminFlag()}
	memo := memoFromContext(ctx)
	if memo == nil {
		return r.resolve(ctx, identity)
	}
	if set, ok := memo.get(key); ok {
		return set, nil
	}

	v, err, _ := memo.flight.Do(key.String(), func() (interface{}, error) {
		set, err := r.resolve(ctx, identity)
		if err != nil {
			return nil, err
		}
		memo.put(key, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet), nil
}

func (r *PermissionResolver) resolve(ctx context.Context, identity Identity) (PermissionSet, error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "rbac.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("tenant.id", identity.TenantID),
		attribute.Int64("user.id", identity.UserID),
	)

	if identity.HasAdminFlag() {
		r.metrics.RecordResolution("admin", time.Since(start))
		span.SetAttributes(attribute.Bool("rbac.admin", true))
		return NewPermissionSet("*"), nil
	}

	set, err := r.collect(ctx, identity)
	if err != nil {
		r.metrics.RecordResolution("error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.FromContext(ctx).WithError(err).Error("Permission resolution failed")
		return nil, err
	}

	outcome := "granted"
	if len(set) == 0 {
		outcome = "empty"
	}
	r.metrics.RecordResolution(outcome, time.Since(start))
	span.SetAttributes(attribute.Int("rbac.permissions", len(set)))
	return set, nil
}

func (r *PermissionResolver) collect(ctx context.Context, identity Identity) (PermissionSet, error) {
	set := NewPermissionSet()

	roles, err := r.source.AssignedRoles(ctx, identity.TenantID, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	for _, role := range roles {
		set.Add(role.Permissions...)
	}

	roleCodes, err := r.source.GrantedRoleCodes(ctx, identity.TenantID, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role grants: %w", err)
	}
	set.Add(roleCodes...)

	userCodes, err := r.source.GrantedUserCodes(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user grants: %w", err)
	}
	set.Add(userCodes...)

	return set, nil
}

// CheckPermission reports whether the user holds code or the wildcard
func (r *PermissionResolver) CheckPermission(ctx context.Context, identity Identity, code string) (bool, error) {
	set, err := r.Resolve(ctx, identity)
	if err != nil {
		return false, err
	}
	allowed := set.Allows(code)
	r.metrics.RecordPermissionCheck(allowed)
	return allowed, nil
}
