// Package report exports who can see what in a tenant.
//
// Exporter.Matrix resolves every user with a role assignment through the same permission
// resolver and menu builder the API uses, so the export cannot drift from what users actually
// get. WriteWorkbook renders the result as an xlsx file with a per-user sheet and a
// user by permission grid.
//
//	GET /api/v1/admin/access-matrix       JSON
//	GET /api/v1/admin/access-matrix.xlsx  workbook
//
// Both routes require roles:manage and cover the caller's tenant only.
package report
