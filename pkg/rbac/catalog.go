package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the closed set of permissions and the hierarchy of which permissions
// imply which others. A Catalog is immutable once built and safe for concurrent use.
type Catalog struct {
	permissions PermissionSet
	implies     map[Permission][]Permission
	closure     map[Permission]PermissionSet
}

// NewCatalog builds a catalog. Every hierarchy key and implied permission must be
// part of perms.
func NewCatalog(perms []Permission, hierarchy map[Permission][]Permission) (*Catalog, error) {
	c := &Catalog{
		permissions: make(PermissionSet, len(perms)),
		implies:     make(map[Permission][]Permission, len(hierarchy)),
	}

	for _, p := range perms {
		if !p.WellFormed() {
			return nil, fmt.Errorf("malformed permission %q", p)
		}
		c.permissions[p] = struct{}{}
	}

	for umbrella, implied := range hierarchy {
		if !c.permissions.Has(umbrella) {
			return nil, fmt.Errorf("hierarchy references unknown permission %q", umbrella)
		}
		for _, p := range implied {
			if !c.permissions.Has(p) {
				return nil, fmt.Errorf("permission %q implies unknown permission %q", umbrella, p)
			}
		}
		c.implies[umbrella] = append([]Permission(nil), implied...)
	}

	c.closure = make(map[Permission]PermissionSet, len(c.permissions))
	for p := range c.permissions {
		c.closure[p] = c.fixedPoint(p)
	}

	return c, nil
}

// fixedPoint expands p until an iteration adds nothing new.
func (c *Catalog) fixedPoint(p Permission) PermissionSet {
	set := PermissionSet{p: {}}
	for {
		added := false
		for q := range set {
			for _, r := range c.implies[q] {
				if !set.Has(r) {
					set[r] = struct{}{}
					added = true
				}
			}
		}
		if !added {
			return set
		}
	}
}

// IsValid reports catalog membership
func (c *Catalog) IsValid(p Permission) bool {
	return c.permissions.Has(p)
}

// Expand returns p plus every permission it transitively implies. Unknown
// permissions expand to the empty set.
func (c *Catalog) Expand(p Permission) PermissionSet {
	closed, ok := c.closure[p]
	if !ok {
		return PermissionSet{}
	}
	out := make(PermissionSet, len(closed))
	for q := range closed {
		out[q] = struct{}{}
	}
	return out
}

// ExpandAll returns the union of Expand over perms
func (c *Catalog) ExpandAll(perms []Permission) PermissionSet {
	out := make(PermissionSet)
	for _, p := range perms {
		for q := range c.closure[p] {
			out[q] = struct{}{}
		}
	}
	return out
}

// Permissions returns every catalog permission, sorted
func (c *Catalog) Permissions() []Permission {
	return c.permissions.Sorted()
}

// catalogFile is the on-disk YAML shape of a catalog.
type catalogFile struct {
	Resources   []string            `yaml:"resources"`
	Actions     []string            `yaml:"actions"`
	Permissions []string            `yaml:"permissions"`
	Hierarchy   map[string][]string `yaml:"hierarchy"`
	// ImpliesAll lists umbrella permissions that imply every catalog permission.
	ImpliesAll []string `yaml:"implies_all"`
	// ResourceAdmin makes every "<resource>:admin" imply the resource's other actions.
	ResourceAdmin bool `yaml:"resource_admin"`
}

// ParseCatalog builds a catalog from YAML.
//
//	resources: [inventory, recipes]
//	actions: [read, write, delete, admin]
//	permissions: ["tenant:admin"]
//	resource_admin: true
//	hierarchy:
//	  "tenant:admin": ["inventory:admin"]
//	implies_all: ["system:admin"]
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return f.build()
}

// LoadCatalogFile reads and parses a YAML catalog
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

func (f catalogFile) build() (*Catalog, error) {
	seen := make(PermissionSet)
	var perms []Permission
	add := func(p Permission) {
		if !seen.Has(p) {
			seen[p] = struct{}{}
			perms = append(perms, p)
		}
	}

	for _, res := range f.Resources {
		for _, act := range f.Actions {
			add(NewPermission(Resource(res), Action(act)))
		}
	}
	for _, p := range f.Permissions {
		add(Permission(p))
	}
	for _, p := range f.ImpliesAll {
		add(Permission(p))
	}

	hierarchy := make(map[Permission][]Permission)
	if f.ResourceAdmin {
		for _, res := range f.Resources {
			admin := NewPermission(Resource(res), ActionAdmin)
			if !seen.Has(admin) {
				continue
			}
			for _, act := range f.Actions {
				if Action(act) != ActionAdmin {
					hierarchy[admin] = append(hierarchy[admin], NewPermission(Resource(res), Action(act)))
				}
			}
		}
	}
	for umbrella, implied := range f.Hierarchy {
		for _, p := range implied {
			hierarchy[Permission(umbrella)] = append(hierarchy[Permission(umbrella)], Permission(p))
		}
	}
	for _, umbrella := range f.ImpliesAll {
		for _, p := range perms {
			if p != Permission(umbrella) {
				hierarchy[Permission(umbrella)] = append(hierarchy[Permission(umbrella)], p)
			}
		}
	}

	return NewCatalog(perms, hierarchy)
}

// defaultCatalogYAML is the catalog used when no file is configured.
const defaultCatalogYAML = `
resources: [inventory, recipes, menus, forecasts, reports, suppliers, users, roles, tenant, audit, settings]
actions: [read, write, delete, admin]
resource_admin: true
hierarchy:
  "tenant:admin": ["users:admin", "roles:admin", "settings:admin", "audit:read"]
implies_all: ["system:admin"]
`

// DefaultCatalog returns the built-in catalog
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog([]byte(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("invalid built-in catalog: %v", err))
	}
	return c
}
