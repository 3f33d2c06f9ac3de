package rbac

import (
	"time"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Actions lists every action in catalogue order
var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// Valid reports whether a is one of the four known actions
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Resources of the seeded catalogue
const (
	ResourceUsers       = "users"
	ResourceRoles       = "roles"
	ResourcePermissions = "permissions"
	ResourceSalaries    = "salaries"
	ResourceCharges     = "charges"
	ResourceReports     = "reports"
	ResourceAuditLogs   = "audit_logs"
	ResourceDashboard   = "dashboard"
)

// System role names
const (
	RoleAdmin      = "Admin"
	RoleAccountant = "Accountant"
	RoleManager    = "Manager"
	RoleViewer     = "Viewer"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource string `json:"resource"`
	Action   Action `json:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return p.Resource + ":" + string(p.Action)
}

// PermissionRecord is a persisted permission row
type PermissionRecord struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Resource    string        `json:"resource"`
	Action      Action        `json:"action"`
	Description string        `json:"description"`
	CreatedAt   time.Time     `json:"createdAt"`
	RoleCount   int           `json:"roleCount"`
	Roles       []RoleSummary `json:"roles,omitempty"`
}

// Permission returns the (resource, action) pair of the record
func (p PermissionRecord) Permission() Permission {
	return Permission{Resource: p.Resource, Action: p.Action}
}

// RoleSummary identifies a role
type RoleSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Role represents a role with its granted permissions
type Role struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	IsSystem    bool               `json:"isSystem"`
	IsActive    bool               `json:"isActive"`
	UserCount   int                `json:"userCount"`
	Permissions []PermissionRecord `json:"permissions"`
	Users       []RoleMember       `json:"users,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// PermissionIDs returns the ids of the role's granted permissions
func (r *Role) PermissionIDs() []string {
	ids := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		ids = append(ids, p.ID)
	}
	return ids
}

// RoleMember is a user holding a role
type RoleMember struct {
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`
	AssignedBy *string   `json:"assignedBy,omitempty"`
	AssignedAt time.Time `json:"assignedAt"`
}

// UserRole represents a role assignment to a user
type UserRole struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	RoleID     string    `json:"roleId"`
	AssignedBy *string   `json:"assignedBy,omitempty"`
	AssignedAt time.Time `json:"assignedAt"`
}

// RoleInput carries the mutable role fields. Nil fields are left unchanged;
// a nil PermissionIDs leaves the grants untouched while an empty slice
// clears them.
type RoleInput struct {
	Name          *string  `json:"name"`
	Description   *string  `json:"description"`
	IsActive      *bool    `json:"isActive"`
	PermissionIDs []string `json:"permissionIds"`
}

// Assignment is a role held by a user, with who granted it and when
type Assignment struct {
	RoleID      string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"isSystem"`
	AssignedBy  *string   `json:"assignedBy"`
	AssignedAt  time.Time `json:"assignedAt"`
}
