package catalog

// Categories of built-in permissions
const (
	CategorySystem    = "system"
	CategoryHMS       = "hms"
	CategoryCRM       = "crm"
	CategoryInventory = "inventory"
)

// Permissions required by accessgate's own administration endpoints
const (
	PermSystemAdmin   = "system:admin"
	PermMenuManage    = "menu:manage"
	PermRolesManage   = "roles:manage"
	PermModulesManage = "modules:manage"
)

// BuiltInPermissions returns the permission codes every installation starts with.
// Deployments add their own through the bootstrap manifest.
func BuiltInPermissions() []Permission {
	return []Permission{
		{Code: PermSystemAdmin, Name: "Full system administration", Category: CategorySystem},
		{Code: PermMenuManage, Name: "Manage navigation menu", Category: CategorySystem},
		{Code: PermRolesManage, Name: "Manage roles and grants", Category: CategorySystem},
		{Code: PermModulesManage, Name: "Manage module entitlements", Category: CategorySystem},
		{Code: "settings:view", Name: "View settings", Category: CategorySystem},

		{Code: "hms:view", Name: "Access hospital management", Category: CategoryHMS},
		{Code: "patients:view", Name: "View patients", Category: CategoryHMS},
		{Code: "patients:edit", Name: "Edit patients", Category: CategoryHMS},
		{Code: "appointments:view", Name: "View appointments", Category: CategoryHMS},
		{Code: "appointments:edit", Name: "Book and change appointments", Category: CategoryHMS},
		{Code: "billing:view", Name: "View billing", Category: CategoryHMS},

		{Code: "crm:view", Name: "Access CRM", Category: CategoryCRM},
		{Code: "leads:view", Name: "View leads", Category: CategoryCRM},
		{Code: "deals:view", Name: "View deals", Category: CategoryCRM},

		{Code: "inventory:view", Name: "Access inventory", Category: CategoryInventory},
		{Code: "stock:view", Name: "View stock levels", Category: CategoryInventory},
		{Code: "stock:edit", Name: "Adjust stock", Category: CategoryInventory},
	}
}
