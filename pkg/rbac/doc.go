// Package rbac resolves what a user may do inside a tenant.
//
// # Sources
//
// A user's effective permission set is the union of four additive sources:
//
//  1. Admin flags on the identity (is_admin, is_platform_admin, is_tenant_admin). Any flag
//     short-circuits to the wildcard set {"*"} without touching the database.
//  2. The legacy permissions array of every role assigned to the user in the tenant.
//  3. role_grants rows with is_granted = true for those roles.
//  4. user_grants rows with is_granted = true for the user.
//
// There are no deny rules. A grant row with is_granted = false contributes nothing; it
// cannot subtract a code supplied by another source. A user with no rows anywhere resolves
// to the empty set, and every check against the empty set is denied.
//
// # Usage
//
//	resolver := rbac.NewPermissionResolver(store, metrics)
//	perms, err := resolver.Resolve(ctx, identity)
//	ok, err := resolver.CheckPermission(ctx, identity, "patients:view")
//
// Results are never cached across requests. Within one request WithRequestMemo lets several
// callers share a single resolution:
//
//	ctx = rbac.WithRequestMemo(ctx)
//
// # HTTP
//
// Guard.RequirePermission protects a route. A caller without identity gets 401; a caller who
// lacks the permission gets 404 so a hidden feature looks the same as a missing one.
package rbac
