// Package catalog is the registry of permission codes.
//
// A permission code is a string of the form "<resource>:<action>", for example
// "patients:view" or "stock:edit". Module view codes ("hms:view", "crm:view") double as
// module gate overrides in the menu builder. The single character "*" is the wildcard held
// by administrators; it is never stored as a catalog row.
//
// The catalog is only consulted on write paths (validating grants and menu items) and by
// administration screens. Permission resolution never reads it.
package catalog
