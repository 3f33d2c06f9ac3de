package rbac

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres/testdb"
)

func seededStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := testdb.New(t)
	store := NewStore(db)

	catalogue, err := DefaultCatalogue()
	require.NoError(t, err)
	_, err = Seed(context.Background(), store, catalogue)
	require.NoError(t, err)
	return store, db
}

func insertUser(t *testing.T, db *sql.DB, username string) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO users (id, email, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, username+"@example.com", username, "x", now, now)
	require.NoError(t, err)
	return id
}

func roleID(t *testing.T, store *Store, name string) string {
	t.Helper()
	role, err := store.GetRoleByName(context.Background(), name)
	require.NoError(t, err)
	return role.ID
}

func strPtr(s string) *string { return &s }

func TestSeed(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	store := NewStore(db)

	catalogue, err := DefaultCatalogue()
	require.NoError(t, err)

	result, err := Seed(ctx, store, catalogue)
	require.NoError(t, err)
	assert.Equal(t, 32, result.Permissions)
	assert.Equal(t, map[string]int{
		RoleAdmin:      32,
		RoleAccountant: 9,
		RoleManager:    8,
		RoleViewer:     4,
	}, result.Roles)

	first, err := store.ListPermissions(ctx)
	require.NoError(t, err)

	t.Run("idempotent", func(t *testing.T) {
		again, err := Seed(ctx, store, catalogue)
		require.NoError(t, err)
		assert.Equal(t, result, again)

		second, err := store.ListPermissions(ctx)
		require.NoError(t, err)
		require.Len(t, second, len(first))
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
		}

		roles, err := store.ListRoles(ctx)
		require.NoError(t, err)
		assert.Len(t, roles, 4)
	})

	t.Run("permission naming", func(t *testing.T) {
		for _, p := range first {
			if p.Resource == ResourceAuditLogs && p.Action == ActionRead {
				assert.Equal(t, "read_audit_logs", p.Name)
				assert.Equal(t, "READ permission for audit_logs", p.Description)
			}
		}
	})

	t.Run("system roles", func(t *testing.T) {
		role, err := store.GetRoleByName(ctx, RoleAccountant)
		require.NoError(t, err)
		assert.True(t, role.IsSystem)
		assert.True(t, role.IsActive)
		assert.Len(t, role.Permissions, 9)
	})
}

func TestParseCatalogue_RejectsUnknownResource(t *testing.T) {
	_, err := ParseCatalogue([]byte(`
resources: [users]
actions: [READ]
roles:
  - name: Broken
    grants:
      salaries: [READ]
`))
	assert.Error(t, err)

	_, err = ParseCatalogue([]byte(`
resources: [users]
actions: [PUBLISH]
`))
	assert.Error(t, err)
}

func TestEffectivePermissions_UnionAndRevocation(t *testing.T) {
	ctx := context.Background()
	store, db := seededStore(t)
	userID := insertUser(t, db, "alice")

	perms, err := store.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, perms)

	_, err = store.AssignRole(ctx, userID, roleID(t, store, RoleAccountant), "")
	require.NoError(t, err)
	_, err = store.AssignRole(ctx, userID, roleID(t, store, RoleManager), "")
	require.NoError(t, err)
	_, err = store.AssignRole(ctx, userID, roleID(t, store, RoleViewer), "")
	require.NoError(t, err)

	perms, err = store.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	// Manager's eight READs plus Accountant's salaries/charges CREATE and UPDATE
	assert.Len(t, perms, 12)
	assert.True(t, HasPermission(perms, ResourceSalaries, ActionCreate))
	assert.True(t, HasPermission(perms, ResourceUsers, ActionRead))
	assert.False(t, HasPermission(perms, ResourceSalaries, ActionDelete))

	names, err := store.RoleNames(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleAccountant, RoleManager, RoleViewer}, names)

	_, err = store.RevokeRole(ctx, userID, roleID(t, store, RoleAccountant))
	require.NoError(t, err)

	perms, err = store.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, perms, 8)
	assert.False(t, HasPermission(perms, ResourceSalaries, ActionCreate))
}

func TestAssignAndRevokeRole(t *testing.T) {
	ctx := context.Background()
	store, db := seededStore(t)
	userID := insertUser(t, db, "bob")
	adminID := insertUser(t, db, "root")
	viewer := roleID(t, store, RoleViewer)

	ur, err := store.AssignRole(ctx, userID, viewer, adminID)
	require.NoError(t, err)
	require.NotNil(t, ur.AssignedBy)
	assert.Equal(t, adminID, *ur.AssignedBy)

	_, err = store.AssignRole(ctx, userID, viewer, adminID)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	_, err = store.AssignRole(ctx, uuid.NewString(), viewer, "")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = store.AssignRole(ctx, userID, uuid.NewString(), "")
	assert.ErrorIs(t, err, ErrRoleNotFound)

	role, err := store.GetRole(ctx, viewer)
	require.NoError(t, err)
	require.Len(t, role.Users, 1)
	assert.Equal(t, "bob", role.Users[0].Username)
	assert.Equal(t, 1, role.UserCount)

	revoked, err := store.RevokeRole(ctx, userID, viewer)
	require.NoError(t, err)
	assert.Equal(t, ur.ID, revoked.ID)

	_, err = store.RevokeRole(ctx, userID, viewer)
	assert.ErrorIs(t, err, ErrNotAssigned)
}

func TestCreateAndUpdateRole(t *testing.T) {
	ctx := context.Background()
	store, _ := seededStore(t)

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)

	_, err = store.CreateRole(ctx, RoleInput{Name: strPtr("  ")})
	assert.ErrorIs(t, err, ErrRoleNameRequired)

	role, err := store.CreateRole(ctx, RoleInput{
		Name:          strPtr("Auditor"),
		Description:   strPtr("reads the trail"),
		PermissionIDs: []string{perms[0].ID, perms[0].ID, perms[1].ID},
	})
	require.NoError(t, err)
	assert.False(t, role.IsSystem)
	assert.True(t, role.IsActive)
	assert.Len(t, role.Permissions, 2)

	_, err = store.CreateRole(ctx, RoleInput{Name: strPtr("Auditor")})
	assert.ErrorIs(t, err, ErrDuplicateRole)

	t.Run("partial update keeps grants", func(t *testing.T) {
		inactive := false
		before, after, err := store.UpdateRole(ctx, role.ID, RoleInput{IsActive: &inactive})
		require.NoError(t, err)
		assert.True(t, before.IsActive)
		assert.False(t, after.IsActive)
		assert.Equal(t, "reads the trail", after.Description)
		assert.Len(t, after.Permissions, 2)
	})

	t.Run("empty permission list clears grants", func(t *testing.T) {
		_, after, err := store.UpdateRole(ctx, role.ID, RoleInput{PermissionIDs: []string{}})
		require.NoError(t, err)
		assert.Empty(t, after.Permissions)
	})

	t.Run("rename to existing name", func(t *testing.T) {
		_, _, err := store.UpdateRole(ctx, role.ID, RoleInput{Name: strPtr(RoleViewer)})
		assert.ErrorIs(t, err, ErrDuplicateRole)
	})

	t.Run("system role rename rejected", func(t *testing.T) {
		_, _, err := store.UpdateRole(ctx, roleID(t, store, RoleAdmin), RoleInput{Name: strPtr("Root")})
		assert.ErrorIs(t, err, ErrSystemRole)
	})

	t.Run("system role description editable", func(t *testing.T) {
		_, after, err := store.UpdateRole(ctx, roleID(t, store, RoleAdmin), RoleInput{
			Name:        strPtr(RoleAdmin),
			Description: strPtr("everything"),
		})
		require.NoError(t, err)
		assert.Equal(t, "everything", after.Description)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, _, err := store.UpdateRole(ctx, uuid.NewString(), RoleInput{})
		assert.ErrorIs(t, err, ErrRoleNotFound)
	})
}

func TestSetPermissions(t *testing.T) {
	ctx := context.Background()
	store, _ := seededStore(t)

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)

	role, err := store.CreateRole(ctx, RoleInput{
		Name:          strPtr("Clerk"),
		PermissionIDs: []string{perms[0].ID},
	})
	require.NoError(t, err)

	before, after, err := store.SetPermissions(ctx, role.ID, []string{perms[1].ID, perms[2].ID})
	require.NoError(t, err)
	assert.Equal(t, []string{perms[0].ID}, before.PermissionIDs())
	assert.ElementsMatch(t, []string{perms[1].ID, perms[2].ID}, after.PermissionIDs())

	t.Run("unknown id rolls back", func(t *testing.T) {
		_, _, err := store.SetPermissions(ctx, role.ID, []string{perms[3].ID, uuid.NewString()})
		assert.ErrorIs(t, err, ErrUnknownPermission)

		current, err := store.GetRole(ctx, role.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{perms[1].ID, perms[2].ID}, current.PermissionIDs())
	})

	t.Run("permission reports granting roles", func(t *testing.T) {
		p, err := store.GetPermission(ctx, perms[1].ID)
		require.NoError(t, err)
		var names []string
		for _, r := range p.Roles {
			names = append(names, r.Name)
		}
		assert.Contains(t, names, "Clerk")
		assert.Equal(t, len(p.Roles), p.RoleCount)
	})

	_, err = store.GetPermission(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrPermissionNotFound)
}

func TestDeleteRole_Guards(t *testing.T) {
	ctx := context.Background()
	store, db := seededStore(t)

	_, err := store.DeleteRole(ctx, roleID(t, store, RoleViewer))
	assert.ErrorIs(t, err, ErrSystemRole)

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)

	role, err := store.CreateRole(ctx, RoleInput{Name: strPtr("Temp"), PermissionIDs: []string{perms[0].ID}})
	require.NoError(t, err)

	userID := insertUser(t, db, "carol")
	_, err = store.AssignRole(ctx, userID, role.ID, "")
	require.NoError(t, err)

	_, err = store.DeleteRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrRoleInUse)

	_, err = store.RevokeRole(ctx, userID, role.ID)
	require.NoError(t, err)

	deleted, err := store.DeleteRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "Temp", deleted.Name)

	var grants int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM role_permissions WHERE role_id = $1`, role.ID).Scan(&grants))
	assert.Zero(t, grants)

	_, err = store.DeleteRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestListRoles(t *testing.T) {
	ctx := context.Background()
	store, db := seededStore(t)

	userID := insertUser(t, db, "dave")
	_, err := store.AssignRole(ctx, userID, roleID(t, store, RoleManager), "")
	require.NoError(t, err)

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 4)

	byName := make(map[string]Role)
	for _, r := range roles {
		byName[r.Name] = r
	}
	assert.Equal(t, 1, byName[RoleManager].UserCount)
	assert.Equal(t, 0, byName[RoleAdmin].UserCount)
	assert.Len(t, byName[RoleAdmin].Permissions, 32)
	assert.Len(t, byName[RoleViewer].Permissions, 4)

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	grouped := GroupPermissions(perms)
	assert.Len(t, grouped, 8)
	assert.Len(t, grouped[ResourceSalaries], 4)
}

func TestEffectivePermissions_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT p.resource, p.action")).
		WithArgs("user-1").
		WillReturnError(sql.ErrConnDone)

	_, err = NewStore(db).EffectivePermissions(context.Background(), "user-1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPermissions_RollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM roles r WHERE r.id = $1")).
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "is_system", "is_active", "created_at", "updated_at"}).
			AddRow("role-1", "Clerk", "", false, true, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM role_permissions rp")).
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "resource", "action", "description", "created_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_roles ur")).
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "assigned_by", "assigned_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM permissions WHERE id IN ($1)")).
		WithArgs("perm-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM role_permissions WHERE role_id = $1")).
		WithArgs("role-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)")).
		WithArgs("role-1", "perm-1").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, _, err = NewStore(db).SetPermissions(context.Background(), "role-1", []string{"perm-1"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RolesForUsersAndAssignments(t *testing.T) {
	store, db := seededStore(t)
	ctx := context.Background()

	ada := insertUser(t, db, "ada")
	bob := insertUser(t, db, "bob")
	admin := insertUser(t, db, "admin")

	_, err := store.AssignRole(ctx, ada, roleID(t, store, RoleViewer), admin)
	require.NoError(t, err)
	_, err = store.AssignRole(ctx, ada, roleID(t, store, RoleAccountant), "")
	require.NoError(t, err)

	byUser, err := store.RolesForUsers(ctx, []string{ada, bob, ada})
	require.NoError(t, err)
	require.Len(t, byUser[ada], 2)
	assert.Equal(t, RoleAccountant, byUser[ada][0].Name)
	assert.Equal(t, RoleViewer, byUser[ada][1].Name)
	assert.Empty(t, byUser[bob])

	empty, err := store.RolesForUsers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	assignments, err := store.Assignments(ctx, ada)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	for _, a := range assignments {
		assert.True(t, a.IsSystem)
		if a.Name == RoleViewer {
			require.NotNil(t, a.AssignedBy)
			assert.Equal(t, admin, *a.AssignedBy)
		} else {
			assert.Nil(t, a.AssignedBy)
		}
	}
}
