// Package rbac implements the permission model: roles grant (resource,
// action) permissions and users hold roles.
//
// # Model
//
// A Permission is an exact (resource, action) pair such as
// {Resource: "salaries", Action: ActionDelete}. There are no wildcards,
// no deny rules and no role hierarchy: a user's effective permissions are
// the deduplicated union of the permissions of every assigned role.
//
// # Invariants
//
//   - Exactly one permission row exists per (resource, action).
//   - System roles cannot be renamed or deleted.
//   - A role cannot be deleted while assigned to any user.
//   - Replacing a role's permission set happens in one transaction.
//
// # Usage
//
//	store := rbac.NewStore(db)
//	checker := rbac.NewChecker(store)
//
//	grants, err := checker.Resolve(ctx, userID)
//	if rbac.HasPermission(grants.Permissions, rbac.ResourceSalaries, rbac.ActionDelete) {
//		// allowed
//	}
//
// # Seeding
//
// The catalogue of resources, actions and system roles (Admin, Accountant,
// Manager, Viewer) is embedded from seed.yaml:
//
//	catalogue, err := rbac.DefaultCatalogue()
//	result, err := rbac.Seed(ctx, store, catalogue)
package rbac
