package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/rbac"
	"gatekeeper/internal/seed"
	"gatekeeper/internal/store"
	"gatekeeper/internal/store/storetest"
)

type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) { return "hashed:" + pw, nil }

func newSeeder(t *testing.T) (*seed.Seeder, *rbac.Graph, *store.GormStore) {
	t.Helper()
	s, _ := storetest.Open(t)
	g := rbac.NewGraph(s, audit.NewRecorder(s), plainHasher{}, zap.NewNop().Sugar())
	return seed.New(g, s, zap.NewNop().Sugar()), g, s
}

func TestDefaultCatalogParses(t *testing.T) {
	c, err := seed.LoadCatalog("")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Permissions)

	var admin *seed.RoleSpec
	for i := range c.Roles {
		if c.Roles[i].Name == "Admin" {
			admin = &c.Roles[i]
		}
	}
	require.NotNil(t, admin)
	assert.Contains(t, admin.Permissions, "view_users")
	assert.Len(t, admin.Permissions, len(c.Permissions))
}

func TestParseCatalogRejects(t *testing.T) {
	cases := map[string]string{
		"missing action":     "permissions:\n  - {name: a, resource: user}\n",
		"duplicate":          "permissions:\n  - {name: a, resource: user, action: read}\n  - {name: a, resource: user, action: read}\n",
		"unknown permission": "roles:\n  - {name: R, description: d, permissions: [nope]}\n",
		"role description":   "roles:\n  - {name: R}\n",
		"not yaml":           "permissions: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := seed.ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("permissions:\n  - {name: p, resource: doc, action: read}\nroles:\n  - {name: Reader, description: reads, permissions: [p]}\n"), 0o600))

	c, err := seed.LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "Reader", c.Roles[0].Name)

	_, err = seed.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyIsIdempotent(t *testing.T) {
	sd, g, _ := newSeeder(t)
	ctx := context.Background()
	c, err := seed.LoadCatalog("")
	require.NoError(t, err)

	first, err := sd.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, len(c.Permissions), first.Permissions)
	assert.Equal(t, len(c.Roles), first.Roles)

	second, err := sd.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, seed.Result{}, second)

	perms, err := g.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(c.Permissions))
	roles, err := g.ListRolesWithPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, len(c.Roles))
}

func TestApplyRestoresMissingGrant(t *testing.T) {
	sd, g, _ := newSeeder(t)
	ctx := context.Background()
	c, err := seed.ParseCatalog([]byte(`
permissions:
  - {name: a, resource: doc, action: read}
  - {name: b, resource: doc, action: write}
roles:
  - {name: Editor, description: edits, permissions: [a, b]}
`))
	require.NoError(t, err)
	_, err = sd.Apply(ctx, c)
	require.NoError(t, err)

	roles, err := g.ListRolesWithPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Len(t, roles[0].Permissions, 2)
	require.NoError(t, g.RevokePermissionFromRole(ctx, roles[0].ID, roles[0].Permissions[1].ID, nil))

	res, err := sd.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, seed.Result{Grants: 1}, res)

	roles, err = g.ListRolesWithPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, roles[0].Permissions, 2)
}

func TestEnsureAdmin(t *testing.T) {
	sd, g, s := newSeeder(t)
	ctx := context.Background()
	c, err := seed.LoadCatalog("")
	require.NoError(t, err)
	_, err = sd.Apply(ctx, c)
	require.NoError(t, err)

	admin := seed.Admin{Email: "Root@Example.com", Password: "correct horse", Role: "Admin"}
	created, err := sd.EnsureAdmin(ctx, admin)
	require.NoError(t, err)
	assert.True(t, created)

	u, err := s.UserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Username)
	ok, err := g.HasPermission(ctx, u.ID, "user", "read")
	require.NoError(t, err)
	assert.True(t, ok)

	created, err = sd.EnsureAdmin(ctx, admin)
	require.NoError(t, err)
	assert.False(t, created)

	users, err := g.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestEnsureAdminDisabledOrMisconfigured(t *testing.T) {
	sd, _, _ := newSeeder(t)
	ctx := context.Background()

	created, err := sd.EnsureAdmin(ctx, seed.Admin{Email: "", Password: "x"})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = sd.EnsureAdmin(ctx, seed.Admin{Email: "root@example.com", Password: "correct horse", Role: "Nope"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = sd.Apply(ctx, mustDefaultCatalog(t))
	require.NoError(t, err)
	_, err = sd.EnsureAdmin(ctx, seed.Admin{Email: "root@example.com", Password: strings.Repeat("a", 73), Role: "Admin"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func mustDefaultCatalog(t *testing.T) *seed.Catalog {
	t.Helper()
	c, err := seed.LoadCatalog("")
	require.NoError(t, err)
	return c
}
