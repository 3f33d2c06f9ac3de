package rbac

import "github.com/platinummonkey/gatekeeper/pkg/apperr"

var (
	ErrRoleNotFound       = apperr.NotFound("role")
	ErrPermissionNotFound = apperr.NotFound("permission")
	ErrUserNotFound       = apperr.NotFound("user")

	ErrRoleNameRequired  = apperr.Validation("name is required")
	ErrUnknownPermission = apperr.New(apperr.KindValidation, "one or more permission ids do not exist")

	ErrDuplicateRole   = apperr.New(apperr.KindConflict, "a role with this name already exists")
	ErrSystemRole      = apperr.New(apperr.KindConflict, "system roles cannot be renamed or deleted")
	ErrRoleInUse       = apperr.New(apperr.KindConflict, "role is assigned to one or more users")
	ErrAlreadyAssigned = apperr.New(apperr.KindConflict, "role is already assigned to this user")
	ErrNotAssigned     = apperr.New(apperr.KindNotFound, "role is not assigned to this user")
)
