// Package menu stores the navigation registry and builds the menu a user may see.
//
// The registry is one flat table of items linked by parent_id. Builder.BuildMenu loads it once per
// call, assembles an arena tree keyed by id, and decides visibility bottom-up:
//
//   - a leaf is visible when both predicates pass;
//   - an item with children is visible when it passes and has a URL of its own, or when at least
//     one child is visible. A folder whose descendants are all hidden disappears.
//
// The module predicate passes for ungated items, global items, modules the tenant is entitled to,
// and modules unlocked through "<module>:view" or "*". The permission predicate passes for items
// without a permission code or whose code the user holds.
//
// Visible roots are grouped by module and groups are ordered by module name. Items whose parent
// does not exist, and items caught in a parent cycle, are never reachable from a root and are left
// out of every build. Registry.CheckIntegrity reports them.
package menu
