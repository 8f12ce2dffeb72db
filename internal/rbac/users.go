package rbac

import (
	"context"
	"fmt"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

// CreateUser stores a new active user with the given roles. The password is
// hashed before the transaction starts.
func (g *Graph) CreateUser(ctx context.Context, req CreateUserRequest) (*UserProfile, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := g.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	var out *UserProfile
	err = g.store.Atomic(ctx, func(tx store.Store) error {
		if err := requireNone(ctx, tx.MissingRoleIDs, req.RoleIDs, "role"); err != nil {
			return err
		}
		u := models.User{Username: req.Username, Email: req.Email, PasswordHash: hash, IsActive: true}
		if err := tx.CreateUser(ctx, &u); err != nil {
			return err
		}
		now := g.now().UTC()
		rows := make([]models.UserRole, 0, len(req.RoleIDs))
		for _, rid := range req.RoleIDs {
			rows = append(rows, models.UserRole{UserID: u.ID, RoleID: rid, AssignedAt: now, AssignedBy: req.ActorID})
		}
		if err := tx.AddUserRoles(ctx, rows); err != nil {
			return err
		}
		roles, err := tx.RolesOfUser(ctx, u.ID)
		if err != nil {
			return err
		}
		perms, err := g.permissionsOf(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		if roles == nil {
			roles = []models.Role{}
		}
		out = &UserProfile{User: u, Roles: roles, Permissions: perms}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    req.ActorID,
			Action:     audit.ActionUserCreate,
			EntityType: audit.EntityUser,
			EntityID:   audit.ID(u.ID),
			New:        map[string]any{"username": u.Username, "email": u.Email, "role_ids": req.RoleIDs},
		})
	})
	if err != nil {
		return nil, err
	}
	g.lg.Infow("user created", "user_id", out.ID, "roles", len(out.Roles))
	return out, nil
}

func (g *Graph) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := g.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

// DeleteUser hard-deletes the user with its role assignments and reset
// tokens.
func (g *Graph) DeleteUser(ctx context.Context, id int64, actorID *int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: user id must be positive", apperr.ErrInvalidInput)
	}
	if actorID != nil && *actorID == id {
		return fmt.Errorf("%w: cannot delete yourself", apperr.ErrInvalidInput)
	}
	err := g.store.Atomic(ctx, func(tx store.Store) error {
		u, err := tx.UserByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteUser(ctx, id); err != nil {
			return err
		}
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionUserDelete,
			EntityType: audit.EntityUser,
			EntityID:   audit.ID(id),
			Old:        map[string]any{"username": u.Username, "email": u.Email},
		})
	})
	if err != nil {
		return err
	}
	g.lg.Infow("user deleted", "user_id", id)
	return nil
}

// SetUserActive enables or disables login for the user. Existing sessions
// stop resolving once the user is inactive.
func (g *Graph) SetUserActive(ctx context.Context, id int64, active bool, actorID *int64) (*models.User, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", apperr.ErrInvalidInput)
	}
	if !active && actorID != nil && *actorID == id {
		return nil, fmt.Errorf("%w: cannot deactivate yourself", apperr.ErrInvalidInput)
	}
	var out *models.User
	err := g.store.Atomic(ctx, func(tx store.Store) error {
		u, err := tx.UserByID(ctx, id)
		if err != nil {
			return err
		}
		before := u.IsActive
		if err := tx.SetUserActive(ctx, id, active); err != nil {
			return err
		}
		u.IsActive = active
		out = u
		return g.audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionUserUpdate,
			EntityType: audit.EntityUser,
			EntityID:   audit.ID(id),
			Old:        map[string]bool{"is_active": before},
			New:        map[string]bool{"is_active": active},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
