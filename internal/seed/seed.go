// Package seed ensures the built-in permission catalog, its roles and an
// initial administrator exist. Every step is idempotent.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/models"
	"gatekeeper/internal/rbac"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Catalog struct {
	Permissions []PermissionSpec `yaml:"permissions"`
	Roles       []RoleSpec       `yaml:"roles"`
}

type PermissionSpec struct {
	Name        string `yaml:"name"`
	Resource    string `yaml:"resource"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

type RoleSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// LoadCatalog reads the catalog at path, or the embedded default when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	var errs []error
	perms := make(map[string]bool, len(c.Permissions))
	for i, p := range c.Permissions {
		if p.Name == "" || p.Resource == "" || p.Action == "" {
			errs = append(errs, fmt.Errorf("permissions[%d]: name, resource and action are required", i))
			continue
		}
		if perms[p.Name] {
			errs = append(errs, fmt.Errorf("permission %q declared twice", p.Name))
		}
		perms[p.Name] = true
	}
	roles := make(map[string]bool, len(c.Roles))
	for i, r := range c.Roles {
		if r.Name == "" || r.Description == "" {
			errs = append(errs, fmt.Errorf("roles[%d]: name and description are required", i))
			continue
		}
		if roles[r.Name] {
			errs = append(errs, fmt.Errorf("role %q declared twice", r.Name))
		}
		roles[r.Name] = true
		for _, name := range r.Permissions {
			if !perms[name] {
				errs = append(errs, fmt.Errorf("role %q references unknown permission %q", r.Name, name))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: catalog: %w", apperr.ErrInvalidInput, err)
	}
	return nil
}

// Graph is the slice of the role/permission graph the seeder drives.
type Graph interface {
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	ListRolesWithPermissions(ctx context.Context) ([]models.RoleWithPermissions, error)
	CreatePermission(ctx context.Context, req rbac.CreatePermissionRequest) (*models.Permission, error)
	CreateRole(ctx context.Context, req rbac.CreateRoleRequest) (*models.RoleWithPermissions, error)
	GrantPermissionToRole(ctx context.Context, req rbac.GrantRequest) error
	CreateUser(ctx context.Context, req rbac.CreateUserRequest) (*rbac.UserProfile, error)
}

type UserFinder interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
}

type Seeder struct {
	graph Graph
	users UserFinder
	lg    *zap.SugaredLogger
}

func New(graph Graph, users UserFinder, lg *zap.SugaredLogger) *Seeder {
	return &Seeder{graph: graph, users: users, lg: lg}
}

// Result counts what Apply created on this run.
type Result struct {
	Permissions int
	Roles       int
	Grants      int
}

// Apply creates missing permissions and roles and grants any catalog
// permission a role lacks. Grants made outside the catalog are left alone.
func (s *Seeder) Apply(ctx context.Context, c *Catalog) (Result, error) {
	var res Result

	existing, err := s.graph.ListPermissions(ctx)
	if err != nil {
		return res, err
	}
	permByName := make(map[string]models.Permission, len(existing))
	for _, p := range existing {
		permByName[p.Name] = p
	}
	for _, spec := range c.Permissions {
		if p, ok := permByName[spec.Name]; ok {
			if p.ResourceType != spec.Resource || p.ActionType != spec.Action {
				s.lg.Warnw("seed permission differs from stored one", "name", spec.Name,
					"stored", p.ResourceType+":"+p.ActionType, "catalog", spec.Resource+":"+spec.Action)
			}
			continue
		}
		p, err := s.graph.CreatePermission(ctx, rbac.CreatePermissionRequest{
			Name: spec.Name, Description: spec.Description, ResourceType: spec.Resource, ActionType: spec.Action,
		})
		if err != nil {
			return res, fmt.Errorf("seed permission %s: %w", spec.Name, err)
		}
		permByName[p.Name] = *p
		res.Permissions++
	}

	roles, err := s.graph.ListRolesWithPermissions(ctx)
	if err != nil {
		return res, err
	}
	roleByName := make(map[string]models.RoleWithPermissions, len(roles))
	for _, r := range roles {
		roleByName[r.Name] = r
	}
	for _, spec := range c.Roles {
		want := make([]int64, 0, len(spec.Permissions))
		for _, name := range spec.Permissions {
			want = append(want, permByName[name].ID)
		}

		r, ok := roleByName[spec.Name]
		if !ok {
			if _, err := s.graph.CreateRole(ctx, rbac.CreateRoleRequest{
				Name: spec.Name, Description: spec.Description, PermissionIDs: want,
			}); err != nil {
				return res, fmt.Errorf("seed role %s: %w", spec.Name, err)
			}
			res.Roles++
			continue
		}

		have := make(map[int64]bool, len(r.Permissions))
		for _, p := range r.Permissions {
			have[p.ID] = true
		}
		for _, pid := range want {
			if have[pid] {
				continue
			}
			err := s.graph.GrantPermissionToRole(ctx, rbac.GrantRequest{RoleID: r.ID, PermissionID: pid})
			if err != nil && !errors.Is(err, apperr.ErrConflict) {
				return res, fmt.Errorf("seed grant %s: %w", spec.Name, err)
			}
			if err == nil {
				res.Grants++
			}
		}
	}

	s.lg.Infow("catalog applied", "permissions_created", res.Permissions, "roles_created", res.Roles, "grants_added", res.Grants)
	return res, nil
}

// Admin describes the bootstrap administrator.
type Admin struct {
	Username string
	Email    string
	Password string
	Role     string
}

// EnsureAdmin creates the administrator with the named role unless a user
// with that email already exists. An empty email or password disables it.
func (s *Seeder) EnsureAdmin(ctx context.Context, a Admin) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if email == "" || a.Password == "" {
		return false, nil
	}
	_, err := s.users.UserByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}

	roles, err := s.graph.ListRolesWithPermissions(ctx)
	if err != nil {
		return false, err
	}
	var roleIDs []int64
	for _, r := range roles {
		if r.Name == a.Role {
			roleIDs = append(roleIDs, r.ID)
		}
	}
	if len(roleIDs) == 0 {
		return false, fmt.Errorf("%w: admin role %q does not exist", apperr.ErrNotFound, a.Role)
	}

	username := a.Username
	if username == "" {
		username = "admin"
	}
	p, err := s.graph.CreateUser(ctx, rbac.CreateUserRequest{
		Username: username, Email: email, Password: a.Password, RoleIDs: roleIDs,
	})
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	s.lg.Infow("admin user created", "user_id", p.ID, "email", p.Email)
	return true, nil
}
