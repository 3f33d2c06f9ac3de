package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres"
)

// Store handles RBAC data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// EffectivePermissions returns the deduplicated union of the permissions
// granted by every role assigned to the user.
func (s *Store) EffectivePermissions(ctx context.Context, userID string) ([]Permission, error) {
	query := `
		SELECT DISTINCT p.resource, p.action
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.resource, p.action
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query effective permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Resource, &p.Action); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// UserRoles returns the id and name of every role assigned to the user
func (s *Store) UserRoles(ctx context.Context, userID string) ([]RoleSummary, error) {
	query := `
		SELECT r.id, r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	roles := []RoleSummary{}
	for rows.Next() {
		var r RoleSummary
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// RoleNames returns the names of the roles assigned to the user
func (s *Store) RoleNames(ctx context.Context, userID string) ([]string, error) {
	roles, err := s.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// RolesForUsers returns the roles of each of the given users, keyed by user id
func (s *Store) RolesForUsers(ctx context.Context, userIDs []string) (map[string][]RoleSummary, error) {
	ids := dedupStrings(userIDs)
	out := make(map[string][]RoleSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ur.user_id, r.id, r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY r.name
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var r RoleSummary
		if err := rows.Scan(&userID, &r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		out[userID] = append(out[userID], r)
	}
	return out, rows.Err()
}

// Assignments returns the user's roles with assignment details
func (s *Store) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.is_system, ur.assigned_by, ur.assigned_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY ur.assigned_at, r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role assignments: %w", err)
	}
	defer rows.Close()

	assignments := []Assignment{}
	for rows.Next() {
		var a Assignment
		var assignedBy sql.NullString
		if err := rows.Scan(&a.RoleID, &a.Name, &a.Description, &a.IsSystem, &assignedBy, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		a.AssignedBy = nullableString(assignedBy)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

const roleColumns = `r.id, r.name, r.description, r.is_system, r.is_active, r.created_at, r.updated_at`

func scanRole(scan func(dest ...interface{}) error, extra ...interface{}) (*Role, error) {
	var role Role
	dest := []interface{}{
		&role.ID,
		&role.Name,
		&role.Description,
		&role.IsSystem,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	}
	if err := scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	role.Permissions = []PermissionRecord{}
	return &role, nil
}

// ListRoles returns every role, newest first, with user counts and permissions
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := `
		SELECT ` + roleColumns + `,
			(SELECT COUNT(*) FROM user_roles ur WHERE ur.role_id = r.id)
		FROM roles r
		ORDER BY r.created_at DESC, r.name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	roles := []Role{}
	index := make(map[string]int)
	for rows.Next() {
		var userCount int
		role, err := scanRole(rows.Scan, &userCount)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.UserCount = userCount
		index[role.ID] = len(roles)
		roles = append(roles, *role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	grants, err := s.db.QueryContext(ctx, `
		SELECT rp.role_id, p.id, p.name, p.resource, p.action, p.description, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		ORDER BY p.resource, p.action
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer grants.Close()

	for grants.Next() {
		var roleID string
		var p PermissionRecord
		if err := grants.Scan(&roleID, &p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, p)
		}
	}
	return roles, grants.Err()
}

// GetRole retrieves a role with its permissions and assigned users
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return s.getRole(ctx, s.db, roleID)
}

func (s *Store) getRole(ctx context.Context, q querier, roleID string) (*Role, error) {
	role, err := scanRole(q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, roleID,
	).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if role.Permissions, err = rolePermissions(ctx, q, roleID); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT u.id, u.email, u.username, ur.assigned_by, ur.assigned_at
		FROM user_roles ur
		JOIN users u ON u.id = ur.user_id
		WHERE ur.role_id = $1
		ORDER BY ur.assigned_at, u.username
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role members: %w", err)
	}
	defer rows.Close()

	role.Users = []RoleMember{}
	for rows.Next() {
		var m RoleMember
		var assignedBy sql.NullString
		if err := rows.Scan(&m.UserID, &m.Email, &m.Username, &assignedBy, &m.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role member: %w", err)
		}
		m.AssignedBy = nullableString(assignedBy)
		role.Users = append(role.Users, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read role members: %w", err)
	}
	role.UserCount = len(role.Users)

	return role, nil
}

// GetRoleByName retrieves a role and its permissions by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	return s.GetRole(ctx, id)
}

func rolePermissions(ctx context.Context, q querier, roleID string) ([]PermissionRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.id, p.name, p.resource, p.action, p.description, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.resource, p.action
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	perms := []PermissionRecord{}
	for rows.Next() {
		var p PermissionRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreateRole creates a non-system role, optionally granting permissions
func (s *Store) CreateRole(ctx context.Context, input RoleInput) (*Role, error) {
	name := ""
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
	}
	if name == "" {
		return nil, ErrRoleNameRequired
	}
	description := ""
	if input.Description != nil {
		description = *input.Description
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, name, description, false, isActive, now, now)
	if postgres.IsUniqueViolation(err) {
		return nil, ErrDuplicateRole
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	if input.PermissionIDs != nil {
		if err := replacePermissions(ctx, tx, id, input.PermissionIDs); err != nil {
			return nil, err
		}
	}

	role, err := s.getRole(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role: %w", err)
	}
	return role, nil
}

// UpdateRole applies the non-nil fields of input and returns the role
// before and after the change. A nil PermissionIDs leaves grants untouched.
func (s *Store) UpdateRole(ctx context.Context, roleID string, input RoleInput) (before, after *Role, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	before, err = s.getRole(ctx, tx, roleID)
	if err != nil {
		return nil, nil, err
	}

	name, description, isActive := before.Name, before.Description, before.IsActive
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, nil, ErrRoleNameRequired
		}
		if before.IsSystem && name != before.Name {
			return nil, nil, ErrSystemRole
		}
	}
	if input.Description != nil {
		description = *input.Description
	}
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE roles SET name = $1, description = $2, is_active = $3, updated_at = $4
		WHERE id = $5
	`, name, description, isActive, time.Now().UTC(), roleID)
	if postgres.IsUniqueViolation(err) {
		return nil, nil, ErrDuplicateRole
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update role: %w", err)
	}

	if input.PermissionIDs != nil {
		if err := replacePermissions(ctx, tx, roleID, input.PermissionIDs); err != nil {
			return nil, nil, err
		}
	}

	after, err = s.getRole(ctx, tx, roleID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit role update: %w", err)
	}
	return before, after, nil
}

// SetPermissions replaces the role's permission set in one transaction
func (s *Store) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) (before, after *Role, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	before, err = s.getRole(ctx, tx, roleID)
	if err != nil {
		return nil, nil, err
	}

	if err := replacePermissions(ctx, tx, roleID, permissionIDs); err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE roles SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), roleID,
	); err != nil {
		return nil, nil, fmt.Errorf("failed to touch role: %w", err)
	}

	after, err = s.getRole(ctx, tx, roleID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit permissions: %w", err)
	}
	return before, after, nil
}

// replacePermissions deletes the role's grants and bulk inserts the new set.
// Unknown permission ids fail the whole replacement.
func replacePermissions(ctx context.Context, tx querier, roleID string, permissionIDs []string) error {
	ids := dedupStrings(permissionIDs)

	if len(ids) > 0 {
		placeholders := make([]string, len(ids))
		args := make([]interface{}, len(ids))
		for i, id := range ids {
			placeholders[i] = "$" + strconv.Itoa(i+1)
			args[i] = id
		}

		var found int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM permissions WHERE id IN (`+strings.Join(placeholders, ", ")+`)`,
			args...,
		).Scan(&found); err != nil {
			return fmt.Errorf("failed to validate permissions: %w", err)
		}
		if found != len(ids) {
			return ErrUnknownPermission
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}

	values := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, roleID)
	for i, id := range ids {
		values[i] = "($1, $" + strconv.Itoa(i+2) + ")"
		args = append(args, id)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES `+strings.Join(values, ", "),
		args...,
	); err != nil {
		return fmt.Errorf("failed to grant permissions: %w", err)
	}
	return nil
}

// DeleteRole deletes a role that is neither a system role nor assigned to
// any user, and returns the deleted role.
func (s *Store) DeleteRole(ctx context.Context, roleID string) (*Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	role, err := s.getRole(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, ErrSystemRole
	}
	if role.UserCount > 0 {
		return nil, ErrRoleInUse
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return nil, fmt.Errorf("failed to delete role permissions: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM roles
		WHERE id = $1 AND is_system = $2
			AND NOT EXISTS (SELECT 1 FROM user_roles WHERE role_id = $3)
	`, roleID, false, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete role: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to delete role: %w", err)
	} else if n == 0 {
		return nil, ErrRoleInUse
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role deletion: %w", err)
	}
	return role, nil
}

// AssignRole grants a role to a user
func (s *Store) AssignRole(ctx context.Context, userID, roleID, assignedBy string) (*UserRole, error) {
	if err := s.exists(ctx, `SELECT 1 FROM users WHERE id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if err := s.exists(ctx, `SELECT 1 FROM roles WHERE id = $1`, roleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to look up role: %w", err)
	}

	ur := &UserRole{
		ID:         uuid.NewString(),
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: time.Now().UTC(),
	}
	if assignedBy != "" {
		ur.AssignedBy = &assignedBy
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (id, user_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ur.ID, ur.UserID, ur.RoleID, nullString(assignedBy), ur.AssignedAt)
	if postgres.IsUniqueViolation(err) {
		return nil, ErrAlreadyAssigned
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}
	return ur, nil
}

// RevokeRole removes a role assignment and returns the removed row
func (s *Store) RevokeRole(ctx context.Context, userID, roleID string) (*UserRole, error) {
	var ur UserRole
	var assignedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, role_id, assigned_by, assigned_at
		FROM user_roles
		WHERE user_id = $1 AND role_id = $2
	`, userID, roleID).Scan(&ur.ID, &ur.UserID, &ur.RoleID, &assignedBy, &ur.AssignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotAssigned
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up role assignment: %w", err)
	}
	ur.AssignedBy = nullableString(assignedBy)

	result, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE id = $1`, ur.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotAssigned
	}
	return &ur, nil
}

const permissionColumns = `p.id, p.name, p.resource, p.action, p.description, p.created_at`

// ListPermissions returns every permission with the number of roles granting it
func (s *Store) ListPermissions(ctx context.Context) ([]PermissionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+permissionColumns+`,
			(SELECT COUNT(*) FROM role_permissions rp WHERE rp.permission_id = p.id)
		FROM permissions p
		ORDER BY p.resource, p.action
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []PermissionRecord{}
	for rows.Next() {
		var p PermissionRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt, &p.RoleCount); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GroupPermissions groups permission records by resource
func GroupPermissions(perms []PermissionRecord) map[string][]PermissionRecord {
	grouped := make(map[string][]PermissionRecord)
	for _, p := range perms {
		grouped[p.Resource] = append(grouped[p.Resource], p)
	}
	return grouped
}

// GetPermission retrieves a permission and the roles granting it
func (s *Store) GetPermission(ctx context.Context, permissionID string) (*PermissionRecord, error) {
	var p PermissionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions p WHERE p.id = $1`, permissionID,
	).Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name
		FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		WHERE rp.permission_id = $1
		ORDER BY r.name
	`, permissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission roles: %w", err)
	}
	defer rows.Close()

	p.Roles = []RoleSummary{}
	for rows.Next() {
		var r RoleSummary
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan permission role: %w", err)
		}
		p.Roles = append(p.Roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read permission roles: %w", err)
	}
	p.RoleCount = len(p.Roles)
	return &p, nil
}

// UpsertPermission creates the (resource, action) permission if missing and
// returns the stored row. Existing rows are left untouched.
func (s *Store) UpsertPermission(ctx context.Context, resource string, action Action) (*PermissionRecord, error) {
	if !action.Valid() {
		return nil, apperr.Validation("unknown action " + string(action))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, name, resource, action, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (resource, action) DO NOTHING
	`,
		uuid.NewString(),
		strings.ToLower(string(action))+"_"+resource,
		resource,
		action,
		string(action)+" permission for "+resource,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert permission: %w", err)
	}

	var p PermissionRecord
	err = s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions p WHERE p.resource = $1 AND p.action = $2`,
		resource, action,
	).Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read permission: %w", err)
	}
	return &p, nil
}

// UpsertSystemRole creates the named system role if missing, refreshes its
// description and returns its id.
func (s *Store) UpsertSystemRole(ctx context.Context, name, description string) (string, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO NOTHING
	`, uuid.NewString(), name, description, true, true, now, now); err != nil {
		return "", fmt.Errorf("failed to upsert role %s: %w", name, err)
	}

	var id string
	if err := s.db.QueryRowContext(ctx, `
		UPDATE roles SET description = $1, is_system = $2, updated_at = $3
		WHERE name = $4
		RETURNING id
	`, description, true, now, name).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to refresh role %s: %w", name, err)
	}
	return id, nil
}

func (s *Store) exists(ctx context.Context, query string, args ...interface{}) error {
	var one int
	return s.db.QueryRowContext(ctx, query, args...).Scan(&one)
}

func dedupStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
