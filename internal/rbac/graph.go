// Package rbac is the role/permission graph: permission resolution,
// "who can" queries, and the audited mutations of roles, permissions and
// their assignments.
package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

var tracer = otel.Tracer("gatekeeper/rbac")

// PasswordHasher turns a plaintext password into a storable hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

type Graph struct {
	store  store.Store
	audit  *audit.Recorder
	hasher PasswordHasher
	lg     *zap.SugaredLogger
	now    func() time.Time
}

func NewGraph(s store.Store, rec *audit.Recorder, hasher PasswordHasher, lg *zap.SugaredLogger) *Graph {
	return &Graph{store: s, audit: rec, hasher: hasher, lg: lg, now: time.Now}
}

// UserProfile is a user together with its roles and effective permissions.
type UserProfile struct {
	models.User
	Roles       []models.Role       `json:"roles"`
	Permissions []models.Permission `json:"permissions"`
}

// ResolvePermissions returns the union of the permissions of every role the
// user holds, sorted by id.
func (g *Graph) ResolvePermissions(ctx context.Context, userID int64) (perms []models.Permission, err error) {
	ctx, span := tracer.Start(ctx, "ResolvePermissions", trace.WithAttributes(attribute.Int64("user_id", userID)))
	defer func() { finish(span, err) }()

	if _, err := g.store.UserByID(ctx, userID); err != nil {
		return nil, err
	}
	perms, err = g.permissionsOf(ctx, g.store, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("permission_count", len(perms)))
	return perms, nil
}

func (g *Graph) HasPermission(ctx context.Context, userID int64, resourceType, actionType string) (ok bool, err error) {
	ctx, span := tracer.Start(ctx, "HasPermission", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("resource_type", resourceType),
		attribute.String("action_type", actionType),
	))
	defer func() { finish(span, err) }()

	perms, err := g.permissionsOf(ctx, g.store, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.ResourceType == resourceType && p.ActionType == actionType {
			return true, nil
		}
	}
	return false, nil
}

func (g *Graph) RolesOf(ctx context.Context, userID int64) ([]models.Role, error) {
	roles, err := g.store.RolesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []models.Role{}
	}
	return roles, nil
}

// RoleIDsOf returns the ids of the roles the user holds, for embedding in a
// session token.
func (g *Graph) RoleIDsOf(ctx context.Context, userID int64) ([]int64, error) {
	roles, err := g.store.RolesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return roleIDs(roles), nil
}

// WhoCan lists the users holding any role that grants resourceType/actionType.
func (g *Graph) WhoCan(ctx context.Context, resourceType, actionType string) (users []models.User, err error) {
	ctx, span := tracer.Start(ctx, "WhoCan", trace.WithAttributes(
		attribute.String("resource_type", resourceType),
		attribute.String("action_type", actionType),
	))
	defer func() { finish(span, err) }()

	resourceType, actionType = strings.TrimSpace(resourceType), strings.TrimSpace(actionType)
	if resourceType == "" || actionType == "" {
		return nil, fmt.Errorf("%w: resource and action are required", apperr.ErrInvalidInput)
	}
	users, err = g.store.UsersWithPermission(ctx, resourceType, actionType)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

func (g *Graph) Profile(ctx context.Context, userID int64) (*UserProfile, error) {
	u, err := g.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := g.RolesOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms, err := g.permissionsOf(ctx, g.store, userID)
	if err != nil {
		return nil, err
	}
	return &UserProfile{User: *u, Roles: roles, Permissions: perms}, nil
}

func (g *Graph) ListRolesWithPermissions(ctx context.Context) (roles []models.RoleWithPermissions, err error) {
	ctx, span := tracer.Start(ctx, "ListRolesWithPermissions")
	defer func() { finish(span, err) }()

	rows, err := g.store.RolePermissionRows(ctx)
	if err != nil {
		return nil, err
	}
	roles = FoldRolePermissions(rows)
	span.SetAttributes(attribute.Int("role_count", len(roles)))
	return roles, nil
}

func (g *Graph) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	perms, err := g.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []models.Permission{}
	}
	return perms, nil
}

// FoldRolePermissions groups join rows by role in first-seen order. A
// permission is appended only when the row carries one, so a role without
// grants ends up with an empty list.
func FoldRolePermissions(rows []store.RolePermissionRow) []models.RoleWithPermissions {
	out := []models.RoleWithPermissions{}
	index := make(map[int64]int)
	for _, row := range rows {
		i, ok := index[row.RoleID]
		if !ok {
			out = append(out, models.RoleWithPermissions{
				Role: models.Role{
					ID:          row.RoleID,
					Name:        row.RoleName,
					Description: row.RoleDescription,
					CreatedAt:   row.RoleCreatedAt,
					UpdatedAt:   row.RoleUpdatedAt,
				},
				Permissions: []models.Permission{},
			})
			i = len(out) - 1
			index[row.RoleID] = i
		}
		if row.PermissionID == nil {
			continue
		}
		p := models.Permission{ID: *row.PermissionID}
		if row.PermissionName != nil {
			p.Name = *row.PermissionName
		}
		if row.PermissionDescription != nil {
			p.Description = *row.PermissionDescription
		}
		if row.PermissionResourceType != nil {
			p.ResourceType = *row.PermissionResourceType
		}
		if row.PermissionActionType != nil {
			p.ActionType = *row.PermissionActionType
		}
		if row.PermissionCreatedAt != nil {
			p.CreatedAt = *row.PermissionCreatedAt
		}
		out[i].Permissions = append(out[i].Permissions, p)
	}
	return out
}

// permissionsOf resolves through s so mutations can read inside their own
// transaction.
func (g *Graph) permissionsOf(ctx context.Context, s store.Store, userID int64) ([]models.Permission, error) {
	roles, err := s.RolesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	granted, err := s.PermissionsOfRoles(ctx, roleIDs(roles))
	if err != nil {
		return nil, err
	}
	return unionByID(granted), nil
}

func unionByID(perms []models.Permission) []models.Permission {
	seen := make(map[int64]struct{}, len(perms))
	out := make([]models.Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
