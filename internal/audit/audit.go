// Package audit records role and permission mutations into the append-only
// permission_audit_log table.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

const (
	ActionRoleCreate           = "role.create"
	ActionRoleUpdate           = "role.update"
	ActionRoleDelete           = "role.delete"
	ActionPermissionCreate     = "permission.create"
	ActionPermissionUpdate     = "permission.update"
	ActionPermissionDelete     = "permission.delete"
	ActionUserRoleAssign       = "user_role.assign"
	ActionUserRoleRevoke       = "user_role.revoke"
	ActionUserRoleReplace      = "user_role.replace"
	ActionRolePermissionGrant  = "role_permission.grant"
	ActionRolePermissionRevoke = "role_permission.revoke"
	ActionUserCreate           = "user.create"
	ActionUserUpdate           = "user.update"
	ActionUserDelete           = "user.delete"
	ActionPasswordReset        = "password.reset"
)

const (
	EntityRole           = "role"
	EntityPermission     = "permission"
	EntityUser           = "user"
	EntityUserRole       = "user_role"
	EntityRolePermission = "role_permission"
)

// Entry is one mutation. Old and New are marshalled to JSON; nil leaves the
// column empty.
type Entry struct {
	ActorID    *int64
	Action     string
	EntityType string
	EntityID   string
	Old        any
	New        any
}

type Filter = store.AuditFilter

type Recorder struct {
	store store.Store
	now   func() time.Time
}

func NewRecorder(s store.Store) *Recorder {
	return &Recorder{store: s, now: time.Now}
}

// WithClock replaces the time source used for created_at.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record appends e through tx so the entry commits or rolls back together
// with the mutation it describes.
func (r *Recorder) Record(ctx context.Context, tx store.Store, e Entry) error {
	if e.Action == "" || e.EntityType == "" || e.EntityID == "" {
		return fmt.Errorf("%w: audit entry needs action, entity type and entity id", apperr.ErrInvalidInput)
	}
	oldJSON, err := snapshot(e.Old)
	if err != nil {
		return apperr.Internal(fmt.Errorf("marshal old value: %w", err))
	}
	newJSON, err := snapshot(e.New)
	if err != nil {
		return apperr.Internal(fmt.Errorf("marshal new value: %w", err))
	}
	return tx.AppendAudit(ctx, &models.AuditLog{
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		OldValue:   oldJSON,
		NewValue:   newJSON,
		CreatedAt:  r.now().UTC(),
	})
}

// List returns entries newest first.
func (r *Recorder) List(ctx context.Context, f Filter) ([]models.AuditLog, error) {
	return r.store.ListAudit(ctx, f)
}

func snapshot(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// PairID is the entity id used for junction rows.
func PairID(a, b int64) string {
	return fmt.Sprintf("%d:%d", a, b)
}

// ID formats a single-row entity id.
func ID(id int64) string {
	return fmt.Sprintf("%d", id)
}
