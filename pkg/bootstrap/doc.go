// Package bootstrap seeds and repairs accessgate's reference data.
//
// A YAML manifest lists permissions, modules, optional tenants, system roles with their grants
// and the navigation tree. Reconciler.Apply walks it dependencies first and calls only the
// stores' insert-if-absent operations, so it can run on every start, from several replicas, and
// never undoes an administrator's edits.
//
//	manifest, err := bootstrap.LoadManifest("/etc/accessgate/manifest.yaml")
//	report, err := bootstrap.NewReconciler(catalogStore, roleStore, moduleStore, registry, metrics, logger).
//		Apply(ctx, manifest)
//
// Watcher re-applies the manifest when the file changes. IntegrityScanner runs
// menu.Registry.CheckIntegrity on a cron schedule and exports the issue counts.
//
// Example manifest:
//
//	modules:
//	  - key: hms
//	    name: Hospital
//	roles:
//	  - key: receptionist
//	    name: Receptionist
//	    grants: [patients:view, appointments:view]
//	menu:
//	  - key: hms.root
//	    label: Hospital
//	    module: hms
//	    children:
//	      - key: hms.patients
//	        label: Patients
//	        url: /patients
//	        permission: patients:view
package bootstrap
