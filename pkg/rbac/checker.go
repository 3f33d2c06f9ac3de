package rbac

import (
	"context"
	"fmt"
	"sort"
)

// PermissionSource resolves the roles and permissions assigned to a user
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID string) ([]Permission, error)
	RoleNames(ctx context.Context, userID string) ([]string, error)
}

// Grants is the resolved authorization state of a user
type Grants struct {
	Roles       []string
	Permissions []Permission
}

// Checker resolves grants on every call; results are never cached so that a
// revoked role stops granting on the next request.
type Checker struct {
	source PermissionSource
}

// NewChecker creates a new permission checker
func NewChecker(source PermissionSource) *Checker {
	return &Checker{source: source}
}

// Resolve loads the user's role names and effective permissions
func (c *Checker) Resolve(ctx context.Context, userID string) (*Grants, error) {
	roles, err := c.source.RoleNames(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles: %w", err)
	}
	perms, err := c.source.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	if roles == nil {
		roles = []string{}
	}
	return &Grants{Roles: roles, Permissions: Dedup(perms)}, nil
}

// Dedup returns the distinct permissions ordered by resource then action.
// The result is never nil.
func Dedup(perms []Permission) []Permission {
	seen := make(map[string]Permission, len(perms))
	for _, p := range perms {
		seen[p.String()] = p
	}

	out := make([]Permission, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// HasPermission reports whether perms contains exactly (resource, action).
// There are no wildcards and no implied actions.
func HasPermission(perms []Permission, resource string, action Action) bool {
	for _, p := range perms {
		if p.Resource == resource && p.Action == action {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether roles contains at least one of names
func HasAnyRole(roles []string, names ...string) bool {
	for _, have := range roles {
		for _, want := range names {
			if have == want {
				return true
			}
		}
	}
	return false
}
