// Package modules decides which functional modules a tenant may use.
//
// A tenant's allowed set is the keys of its enabled tenant_modules rows. Only a tenant with no
// rows at all falls back to an industry heuristic: an industry naming health, clinic or hospital
// gets {"hms"}. One disabled row is enough to switch the fallback off.
//
// Gate.AllowedModules never looks at permissions. The override that lets a user holding
// "<module>:view" see a module the tenant does not subscribe to lives in the menu builder and in
// RequireModule.
package modules
