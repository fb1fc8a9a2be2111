// Package storage opens the relational database shared by every accessgate component
// and owns its schema.
//
// # Drivers
//
// Two database/sql drivers are supported:
//
//	postgres  - github.com/lib/pq, the production backend
//	sqlite3   - github.com/mattn/go-sqlite3, for single-node installs and tests
//
// All queries in the repository use $n placeholders and INSERT ... ON CONFLICT, which both
// drivers accept, so the same store code runs against either backend.
//
// # Migrations
//
// Migrations are versioned and carry one statement block per dialect:
//
//	db, err := storage.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := storage.RunMigrations(ctx, db, cfg.Dialect(), logger); err != nil {
//		return err
//	}
//
// Applied versions are recorded in schema_migrations inside the same transaction as the
// migration itself.
//
// # Errors
//
// IsUniqueViolation recognises unique constraint failures from either driver. Stores use it to
// turn a racing insert into a typed domain error instead of a generic failure.
package storage
