package rbac

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// Catalogue is the seeded set of resources, actions and system roles
type Catalogue struct {
	Resources []string     `yaml:"resources"`
	Actions   []Action     `yaml:"actions"`
	Roles     []SystemRole `yaml:"roles"`
}

// SystemRole describes a seeded role and its grants.
// All grants every (resource, action); Every grants the listed actions on
// every resource; Grants lists actions per resource.
type SystemRole struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	All         bool                `yaml:"all"`
	Every       []Action            `yaml:"every"`
	Grants      map[string][]Action `yaml:"grants"`
}

// Permissions expands the role's grants against the catalogue
func (r SystemRole) Permissions(c *Catalogue) []Permission {
	var perms []Permission
	switch {
	case r.All:
		for _, res := range c.Resources {
			for _, a := range c.Actions {
				perms = append(perms, Permission{Resource: res, Action: a})
			}
		}
	case len(r.Every) > 0:
		for _, res := range c.Resources {
			for _, a := range r.Every {
				perms = append(perms, Permission{Resource: res, Action: a})
			}
		}
	}
	for res, actions := range r.Grants {
		for _, a := range actions {
			perms = append(perms, Permission{Resource: res, Action: a})
		}
	}
	return Dedup(perms)
}

// DefaultCatalogue parses the embedded catalogue
func DefaultCatalogue() (*Catalogue, error) {
	return ParseCatalogue(seedYAML)
}

// ParseCatalogue parses and validates a YAML catalogue
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue: %w", err)
	}

	resources := make(map[string]bool, len(c.Resources))
	for _, res := range c.Resources {
		resources[res] = true
	}
	for _, a := range c.Actions {
		if !a.Valid() {
			return nil, fmt.Errorf("catalogue: unknown action %q", a)
		}
	}
	for _, role := range c.Roles {
		if role.Name == "" {
			return nil, fmt.Errorf("catalogue: role without a name")
		}
		for _, p := range role.Permissions(&c) {
			if !resources[p.Resource] {
				return nil, fmt.Errorf("catalogue: role %s grants unknown resource %q", role.Name, p.Resource)
			}
			if !p.Action.Valid() {
				return nil, fmt.Errorf("catalogue: role %s grants unknown action %q", role.Name, p.Action)
			}
		}
	}
	return &c, nil
}

// SeedResult summarises a seeding run
type SeedResult struct {
	Permissions int
	Roles       map[string]int
}

// Seed creates every catalogue permission and upserts the system roles,
// replacing each role's grants with the catalogue's. Running it again
// leaves the database unchanged.
func Seed(ctx context.Context, store *Store, c *Catalogue) (*SeedResult, error) {
	ids := make(map[string]string)
	for _, res := range c.Resources {
		for _, a := range c.Actions {
			p, err := store.UpsertPermission(ctx, res, a)
			if err != nil {
				return nil, err
			}
			ids[p.Permission().String()] = p.ID
		}
	}

	result := &SeedResult{Permissions: len(ids), Roles: make(map[string]int)}

	roles := append([]SystemRole(nil), c.Roles...)
	sort.SliceStable(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })

	for _, role := range roles {
		roleID, err := store.UpsertSystemRole(ctx, role.Name, role.Description)
		if err != nil {
			return nil, err
		}

		var permIDs []string
		for _, p := range role.Permissions(c) {
			if id, ok := ids[p.String()]; ok {
				permIDs = append(permIDs, id)
			}
		}
		if permIDs == nil {
			permIDs = []string{}
		}

		if _, _, err := store.SetPermissions(ctx, roleID, permIDs); err != nil {
			return nil, fmt.Errorf("failed to grant %s permissions: %w", role.Name, err)
		}
		result.Roles[role.Name] = len(permIDs)
	}

	return result, nil
}
