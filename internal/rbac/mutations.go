package rbac

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

// CreateRole inserts the role and its grants together. Every permission id
// must exist.
func (g *Graph) CreateRole(ctx context.Context, req CreateRoleRequest) (out *models.RoleWithPermissions, err error) {
	ctx, span := tracer.Start(ctx, "CreateRole", trace.WithAttributes(attribute.String("name", req.Name)))
	defer func() { finish(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	err = g.store.Atomic(ctx, func(tx store.Store) error {
		if err := requireNone(ctx, tx.MissingPermissionIDs, req.PermissionIDs, "permission"); err != nil {
			return err
		}
		role := models.Role{Name: req.Name, Description: req.Description}
		if err := tx.CreateRole(ctx, &role); err != nil {
			return err
		}
		now := g.now().UTC()
		grants := make([]models.RolePermission, 0, len(req.PermissionIDs))
		for _, pid := range req.PermissionIDs {
			grants = append(grants, models.RolePermission{RoleID: role.ID, PermissionID: pid, GrantedAt: now, GrantedBy: req.ActorID})
		}
		if err := tx.AddRolePermissions(ctx, grants); err != nil {
			return err
		}
		perms, err := tx.PermissionsOfRoles(ctx, []int64{role.ID})
		if err != nil {
			return err
		}
		out = &models.RoleWithPermissions{Role: role, Permissions: unionByID(perms)}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    req.ActorID,
			Action:     audit.ActionRoleCreate,
			EntityType: audit.EntityRole,
			EntityID:   audit.ID(role.ID),
			New:        out,
		})
	})
	if err != nil {
		return nil, err
	}
	g.lg.Infow("role created", "role_id", out.ID, "name", out.Name, "permissions", len(out.Permissions))
	return out, nil
}

func (g *Graph) UpdateRole(ctx context.Context, id int64, upd RoleUpdate) (out *models.Role, err error) {
	ctx, span := tracer.Start(ctx, "UpdateRole", trace.WithAttributes(attribute.Int64("role_id", id)))
	defer func() { finish(span, err) }()

	if err := upd.Validate(); err != nil {
		return nil, err
	}
	err = g.store.Atomic(ctx, func(tx store.Store) error {
		role, err := tx.RoleByID(ctx, id)
		if err != nil {
			return err
		}
		before := *role
		if upd.Name != nil {
			role.Name = *upd.Name
		}
		if upd.Description != nil {
			role.Description = *upd.Description
		}
		role.UpdatedAt = g.now().UTC()
		if err := tx.SaveRole(ctx, role); err != nil {
			return err
		}
		out = role
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    upd.ActorID,
			Action:     audit.ActionRoleUpdate,
			EntityType: audit.EntityRole,
			EntityID:   audit.ID(id),
			Old:        before,
			New:        role,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRole removes the role along with every assignment and grant that
// references it.
func (g *Graph) DeleteRole(ctx context.Context, id int64, actorID *int64) (err error) {
	ctx, span := tracer.Start(ctx, "DeleteRole", trace.WithAttributes(attribute.Int64("role_id", id)))
	defer func() { finish(span, err) }()

	if id <= 0 {
		return fmt.Errorf("%w: role id must be positive", apperr.ErrInvalidInput)
	}
	err = g.store.Atomic(ctx, func(tx store.Store) error {
		role, err := tx.RoleByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteRole(ctx, id); err != nil {
			return err
		}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionRoleDelete,
			EntityType: audit.EntityRole,
			EntityID:   audit.ID(id),
			Old:        role,
		})
	})
	if err != nil {
		return err
	}
	g.lg.Infow("role deleted", "role_id", id)
	return nil
}

func (g *Graph) CreatePermission(ctx context.Context, req CreatePermissionRequest) (out *models.Permission, err error) {
	ctx, span := tracer.Start(ctx, "CreatePermission", trace.WithAttributes(attribute.String("name", req.Name)))
	defer func() { finish(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	err = g.store.Atomic(ctx, func(tx store.Store) error {
		p := models.Permission{
			Name:         req.Name,
			Description:  req.Description,
			ResourceType: req.ResourceType,
			ActionType:   req.ActionType,
		}
		if err := tx.CreatePermission(ctx, &p); err != nil {
			return err
		}
		out = &p
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    req.ActorID,
			Action:     audit.ActionPermissionCreate,
			EntityType: audit.EntityPermission,
			EntityID:   audit.ID(p.ID),
			New:        p,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePermissionDescription is the only edit a permission accepts.
func (g *Graph) UpdatePermissionDescription(ctx context.Context, id int64, description string, actorID *int64) (out *models.Permission, err error) {
	ctx, span := tracer.Start(ctx, "UpdatePermissionDescription", trace.WithAttributes(attribute.Int64("permission_id", id)))
	defer func() { finish(span, err) }()

	if id <= 0 {
		return nil, fmt.Errorf("%w: permission id must be positive", apperr.ErrInvalidInput)
	}
	err = g.store.Atomic(ctx, func(tx store.Store) error {
		p, err := tx.PermissionByID(ctx, id)
		if err != nil {
			return err
		}
		before := *p
		if err := tx.UpdatePermissionDescription(ctx, id, description); err != nil {
			return err
		}
		p.Description = description
		out = p
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionPermissionUpdate,
			EntityType: audit.EntityPermission,
			EntityID:   audit.ID(id),
			Old:        before,
			New:        p,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Graph) DeletePermission(ctx context.Context, id int64, actorID *int64) (err error) {
	ctx, span := tracer.Start(ctx, "DeletePermission", trace.WithAttributes(attribute.Int64("permission_id", id)))
	defer func() { finish(span, err) }()

	if id <= 0 {
		return fmt.Errorf("%w: permission id must be positive", apperr.ErrInvalidInput)
	}
	return g.store.Atomic(ctx, func(tx store.Store) error {
		p, err := tx.PermissionByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeletePermission(ctx, id); err != nil {
			return err
		}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionPermissionDelete,
			EntityType: audit.EntityPermission,
			EntityID:   audit.ID(id),
			Old:        p,
		})
	})
}

// AssignRoleToUser requires both ends to exist; an existing pair is a
// conflict.
func (g *Graph) AssignRoleToUser(ctx context.Context, req AssignRoleRequest) (err error) {
	ctx, span := tracer.Start(ctx, "AssignRoleToUser", trace.WithAttributes(
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("role_id", req.RoleID),
	))
	defer func() { finish(span, err) }()

	if err := req.Validate(); err != nil {
		return err
	}
	err = g.store.Atomic(ctx, func(tx store.Store) error {
		if _, err := tx.UserByID(ctx, req.UserID); err != nil {
			return err
		}
		if _, err := tx.RoleByID(ctx, req.RoleID); err != nil {
			return err
		}
		row := models.UserRole{UserID: req.UserID, RoleID: req.RoleID, AssignedAt: g.now().UTC(), AssignedBy: req.AssignedBy}
		if err := tx.AddUserRoles(ctx, []models.UserRole{row}); err != nil {
			return err
		}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    req.AssignedBy,
			Action:     audit.ActionUserRoleAssign,
			EntityType: audit.EntityUserRole,
			EntityID:   audit.PairID(req.UserID, req.RoleID),
			New:        row,
		})
	})
	if err != nil {
		return err
	}
	g.lg.Infow("role assigned", "user_id", req.UserID, "role_id", req.RoleID)
	return nil
}

func (g *Graph) RevokeRoleFromUser(ctx context.Context, userID, roleID int64, actorID *int64) (err error) {
	ctx, span := tracer.Start(ctx, "RevokeRoleFromUser", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("role_id", roleID),
	))
	defer func() { finish(span, err) }()

	if userID <= 0 || roleID <= 0 {
		return fmt.Errorf("%w: user and role ids must be positive", apperr.ErrInvalidInput)
	}
	return g.store.Atomic(ctx, func(tx store.Store) error {
		if err := tx.RemoveUserRole(ctx, userID, roleID); err != nil {
			return err
		}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionUserRoleRevoke,
			EntityType: audit.EntityUserRole,
			EntityID:   audit.PairID(userID, roleID),
			Old:        map[string]int64{"user_id": userID, "role_id": roleID},
		})
	})
}

// ReplaceUserRoles swaps the user's whole role set in one transaction;
// concurrent readers see either the old set or the new one. Concurrent
// replaces for the same user queue on the user's row lock.
func (g *Graph) ReplaceUserRoles(ctx context.Context, req ReplaceUserRolesRequest) (roles []models.Role, err error) {
	ctx, span := tracer.Start(ctx, "ReplaceUserRoles", trace.WithAttributes(
		attribute.Int64("user_id", req.UserID),
		attribute.Int("role_count", len(req.RoleIDs)),
	))
	defer func() { finish(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	err = g.store.Atomic(ctx, func(tx store.Store) error {
		if _, err := tx.UserByIDForUpdate(ctx, req.UserID); err != nil {
			return err
		}
		if err := requireNone(ctx, tx.MissingRoleIDs, req.RoleIDs, "role"); err != nil {
			return err
		}
		before, err := tx.RolesOfUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		if err := tx.ClearUserRoles(ctx, req.UserID); err != nil {
			return err
		}
		now := g.now().UTC()
		rows := make([]models.UserRole, 0, len(req.RoleIDs))
		for _, rid := range req.RoleIDs {
			rows = append(rows, models.UserRole{UserID: req.UserID, RoleID: rid, AssignedAt: now, AssignedBy: req.AssignedBy})
		}
		if err := tx.AddUserRoles(ctx, rows); err != nil {
			return err
		}
		roles, err = tx.RolesOfUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    req.AssignedBy,
			Action:     audit.ActionUserRoleReplace,
			EntityType: audit.EntityUser,
			EntityID:   audit.ID(req.UserID),
			Old:        map[string][]int64{"role_ids": roleIDs(before)},
			New:        map[string][]int64{"role_ids": roleIDs(roles)},
		})
	})
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []models.Role{}
	}
	g.lg.Infow("user roles replaced", "user_id", req.UserID, "role_ids", req.RoleIDs)
	return roles, nil
}

// GrantPermissionToRole requires both ends to exist; an existing pair is a
// conflict.
func (g *Graph) GrantPermissionToRole(ctx context.Context, req GrantRequest) (err error) {
	ctx, span := tracer.Start(ctx, "GrantPermissionToRole", trace.WithAttributes(
		attribute.Int64("role_id", req.RoleID),
		attribute.Int64("permission_id", req.PermissionID),
	))
	defer func() { finish(span, err) }()

	if err := req.Validate(); err != nil {
		return err
	}
	return g.store.Atomic(ctx, func(tx store.Store) error {
		if _, err := tx.RoleByID(ctx, req.RoleID); err != nil {
			return err
		}
		if _, err := tx.PermissionByID(ctx, req.PermissionID); err != nil {
			return err
		}
		row := models.RolePermission{RoleID: req.RoleID, PermissionID: req.PermissionID, GrantedAt: g.now().UTC(), GrantedBy: req.GrantedBy}
		if err := tx.AddRolePermissions(ctx, []models.RolePermission{row}); err != nil {
			return err
		}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    req.GrantedBy,
			Action:     audit.ActionRolePermissionGrant,
			EntityType: audit.EntityRolePermission,
			EntityID:   audit.PairID(req.RoleID, req.PermissionID),
			New:        row,
		})
	})
}

func (g *Graph) RevokePermissionFromRole(ctx context.Context, roleID, permissionID int64, actorID *int64) (err error) {
	ctx, span := tracer.Start(ctx, "RevokePermissionFromRole", trace.WithAttributes(
		attribute.Int64("role_id", roleID),
		attribute.Int64("permission_id", permissionID),
	))
	defer func() { finish(span, err) }()

	if roleID <= 0 || permissionID <= 0 {
		return fmt.Errorf("%w: role and permission ids must be positive", apperr.ErrInvalidInput)
	}
	return g.store.Atomic(ctx, func(tx store.Store) error {
		if err := tx.RemoveRolePermission(ctx, roleID, permissionID); err != nil {
			return err
		}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionRolePermissionRevoke,
			EntityType: audit.EntityRolePermission,
			EntityID:   audit.PairID(roleID, permissionID),
			Old:        map[string]int64{"role_id": roleID, "permission_id": permissionID},
		})
	})
}

// requireNone fails with NotFound naming the first id lookup reports missing.
func requireNone(ctx context.Context, lookup func(context.Context, []int64) ([]int64, error), ids []int64, what string) error {
	missing, err := lookup(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s %d", apperr.ErrNotFound, what, missing[0])
	}
	return nil
}

func roleIDs(roles []models.Role) []int64 {
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	return ids
}
