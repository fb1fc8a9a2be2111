package menu

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caregrid/accessgate/pkg/storage"
)

// Registry stores menu items and their module associations
type Registry struct {
	db *sql.DB
}

// NewRegistry creates a new menu registry
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

const itemColumns = "id, item_key, label, url, icon, module_key, permission_code, parent_id, sort_order, is_global, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*MenuItem, error) {
	var (
		item              MenuItem
		url, module, perm sql.NullString
		parent            sql.NullInt64
	)
	err := row.Scan(&item.ID, &item.Key, &item.Label, &url, &item.Icon, &module, &perm,
		&parent, &item.SortOrder, &item.IsGlobal, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if url.Valid {
		item.URL = &url.String
	}
	if module.Valid {
		item.ModuleKey = &module.String
	}
	if perm.Valid {
		item.PermissionCode = &perm.String
	}
	if parent.Valid {
		item.ParentID = &parent.Int64
	}
	return &item, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func exists(ctx context.Context, q queryer, query string, arg interface{}) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// normalize validates input and returns the row to write
func (r *Registry) normalize(ctx context.Context, in MenuItemInput) (*MenuItem, error) {
	if in.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidItem)
	}
	if in.Label == "" {
		return nil, fmt.Errorf("%w: label is required", ErrInvalidItem)
	}
	parentID, err := ParseParent(in.Parent)
	if err != nil {
		return nil, err
	}

	item := &MenuItem{
		Key:            in.Key,
		Label:          in.Label,
		URL:            nonEmpty(in.URL),
		Icon:           in.Icon,
		ModuleKey:      nonEmpty(in.ModuleKey),
		PermissionCode: nonEmpty(in.PermissionCode),
		ParentID:       parentID,
		SortOrder:      CoerceSortOrder(in.SortOrder),
		IsGlobal:       in.IsGlobal,
	}

	if item.PermissionCode != nil {
		ok, err := exists(ctx, r.db, "SELECT COUNT(*) FROM permissions WHERE code = $1", *item.PermissionCode)
		if err != nil {
			return nil, fmt.Errorf("failed to check permission: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, *item.PermissionCode)
		}
	}
	if item.ModuleKey != nil {
		ok, err := exists(ctx, r.db, "SELECT COUNT(*) FROM modules WHERE module_key = $1", *item.ModuleKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check module: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, *item.ModuleKey)
		}
	}
	if item.ParentID != nil {
		ok, err := exists(ctx, r.db, "SELECT COUNT(*) FROM menu_items WHERE id = $1", *item.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to check parent: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrParentNotFound, *item.ParentID)
		}
	}
	return item, nil
}

// Upsert creates the item when in.ID is nil and updates it otherwise. A create never touches an
// existing row: a taken key fails with *DuplicateKeyError.
func (r *Registry) Upsert(ctx context.Context, in MenuItemInput) (*MenuItem, error) {
	item, err := r.normalize(ctx, in)
	if err != nil {
		return nil, err
	}
	if in.ID == nil {
		return r.create(ctx, item)
	}
	item.ID = *in.ID
	return r.update(ctx, item)
}

func (r *Registry) create(ctx context.Context, item *MenuItem) (*MenuItem, error) {
	now := time.Now()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO menu_items (item_key, label, url, icon, module_key, permission_code, parent_id, sort_order, is_global, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, item.Key, item.Label, item.URL, item.Icon, item.ModuleKey, item.PermissionCode,
		item.ParentID, item.SortOrder, item.IsGlobal, now, now).Scan(&item.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, &DuplicateKeyError{Key: item.Key}
		}
		return nil, fmt.Errorf("failed to create menu item: %w", err)
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (r *Registry) update(ctx context.Context, item *MenuItem) (*MenuItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanItem(tx.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM menu_items WHERE id = $1", item.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get menu item: %w", err)
	}

	if item.ParentID != nil {
		if err := checkCycle(ctx, tx, item.ID, *item.ParentID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE menu_items SET
			item_key = $1, label = $2, url = $3, icon = $4, module_key = $5,
			permission_code = $6, parent_id = $7, sort_order = $8, is_global = $9, updated_at = $10
		WHERE id = $11
	`, item.Key, item.Label, item.URL, item.Icon, item.ModuleKey, item.PermissionCode,
		item.ParentID, item.SortOrder, item.IsGlobal, now, item.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, &DuplicateKeyError{Key: item.Key}
		}
		return nil, fmt.Errorf("failed to update menu item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = now
	return item, nil
}

// checkCycle walks up from parentID and fails if it reaches id
func checkCycle(ctx context.Context, tx *sql.Tx, id, parentID int64) error {
	seen := map[int64]bool{}
	current := parentID
	for {
		if current == id {
			return ErrCycle
		}
		if seen[current] {
			// Existing cycle above the new parent that does not include id
			return nil
		}
		seen[current] = true

		var next sql.NullInt64
		err := tx.QueryRowContext(ctx, "SELECT parent_id FROM menu_items WHERE id = $1", current).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to walk menu ancestors: %w", err)
		}
		if !next.Valid {
			return nil
		}
		current = next.Int64
	}
}

// Delete removes an item that has no children. The child check and the delete are one statement,
// so a concurrent insert of a child cannot slip between them.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM menu_items
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM menu_items c WHERE c.parent_id = $2)
	`, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete menu item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		var children int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM menu_items WHERE parent_id = $1", id).Scan(&children); err != nil {
			return fmt.Errorf("failed to count children: %w", err)
		}
		if children > 0 {
			return &HasChildrenError{ID: id, Children: children}
		}
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM module_menus WHERE menu_item_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete module associations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// EnsureMenuExists inserts the item unless its key is taken, in a single statement.
// An existing row is never modified. Reports whether a row was created.
func (r *Registry) EnsureMenuExists(ctx context.Context, in MenuItemInput) (bool, error) {
	item, err := r.normalize(ctx, in)
	if err != nil {
		return false, err
	}

	now := time.Now()
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO menu_items (item_key, label, url, icon, module_key, permission_code, parent_id, sort_order, is_global, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (item_key) DO NOTHING
	`, item.Key, item.Label, item.URL, item.Icon, item.ModuleKey, item.PermissionCode,
		item.ParentID, item.SortOrder, item.IsGlobal, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to ensure menu item %s: %w", item.Key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// Get retrieves an item by id
func (r *Registry) Get(ctx context.Context, id int64) (*MenuItem, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM menu_items WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get menu item: %w", err)
	}
	return item, nil
}

// GetByKey retrieves an item by key
func (r *Registry) GetByKey(ctx context.Context, key string) (*MenuItem, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM menu_items WHERE item_key = $1", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get menu item: %w", err)
	}
	return item, nil
}

// List returns every item in insertion order
func (r *Registry) List(ctx context.Context) ([]*MenuItem, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM menu_items ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	defer rows.Close()

	items := []*MenuItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Associate links an item to a module. Linking twice is a no-op; reports whether a link was created.
func (r *Registry) Associate(ctx context.Context, moduleKey string, itemID int64) (bool, error) {
	ok, err := exists(ctx, r.db, "SELECT COUNT(*) FROM modules WHERE module_key = $1", moduleKey)
	if err != nil {
		return false, fmt.Errorf("failed to check module: %w", err)
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownModule, moduleKey)
	}
	ok, err = exists(ctx, r.db, "SELECT COUNT(*) FROM menu_items WHERE id = $1", itemID)
	if err != nil {
		return false, fmt.Errorf("failed to check menu item: %w", err)
	}
	if !ok {
		return false, ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO module_menus (module_key, menu_item_id)
		VALUES ($1, $2)
		ON CONFLICT (module_key, menu_item_id) DO NOTHING
	`, moduleKey, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to associate menu item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// ListAssociations returns the module keys linked to each item, oldest link first
func (r *Registry) ListAssociations(ctx context.Context) (map[int64][]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT menu_item_id, module_key FROM module_menus ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list module associations: %w", err)
	}
	defer rows.Close()

	assoc := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("failed to scan module association: %w", err)
		}
		assoc[id] = append(assoc[id], key)
	}
	return assoc, rows.Err()
}

func (r *Registry) listStrings(ctx context.Context, query string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		set[s] = true
	}
	return set, rows.Err()
}

// CheckIntegrity reports dangling parents, parent cycles, unknown permission codes and unknown
// module keys across the registry
func (r *Registry) CheckIntegrity(ctx context.Context) ([]IntegrityIssue, error) {
	items, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	codes, err := r.listStrings(ctx, "SELECT code FROM permissions")
	if err != nil {
		return nil, fmt.Errorf("failed to load permission codes: %w", err)
	}
	mods, err := r.listStrings(ctx, "SELECT module_key FROM modules")
	if err != nil {
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}
	assoc, err := r.ListAssociations(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*MenuItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	issues := []IntegrityIssue{}
	for _, item := range items {
		if item.ParentID != nil {
			if _, ok := byID[*item.ParentID]; !ok {
				issues = append(issues, IntegrityIssue{
					Kind:   IssueDanglingParent,
					ItemID: item.ID,
					Key:    item.Key,
					Detail: fmt.Sprintf("parent %d does not exist", *item.ParentID),
				})
			} else if inCycle(item, byID) {
				issues = append(issues, IntegrityIssue{
					Kind:   IssueCycle,
					ItemID: item.ID,
					Key:    item.Key,
					Detail: "item is its own ancestor",
				})
			}
		}
		if item.PermissionCode != nil && !codes[*item.PermissionCode] {
			issues = append(issues, IntegrityIssue{
				Kind:   IssueUnknownPermission,
				ItemID: item.ID,
				Key:    item.Key,
				Detail: *item.PermissionCode,
			})
		}
		moduleKeys := assoc[item.ID]
		if item.ModuleKey != nil {
			moduleKeys = append([]string{*item.ModuleKey}, moduleKeys...)
		}
		for _, m := range moduleKeys {
			if !mods[m] {
				issues = append(issues, IntegrityIssue{
					Kind:   IssueUnknownModule,
					ItemID: item.ID,
					Key:    item.Key,
					Detail: m,
				})
			}
		}
	}
	return issues, nil
}

// inCycle reports whether walking up from item returns to item
func inCycle(item *MenuItem, byID map[int64]*MenuItem) bool {
	current := item
	for steps := 0; steps <= len(byID); steps++ {
		if current.ParentID == nil {
			return false
		}
		parent, ok := byID[*current.ParentID]
		if !ok {
			return false
		}
		if parent.ID == item.ID {
			return true
		}
		current = parent
	}
	return false
}

// CountIssues groups issues by kind
func CountIssues(issues []IntegrityIssue) map[string]int {
	counts := map[string]int{
		IssueDanglingParent:    0,
		IssueCycle:             0,
		IssueUnknownPermission: 0,
		IssueUnknownModule:     0,
	}
	for _, issue := range issues {
		counts[issue.Kind]++
	}
	return counts
}
