package rbac

import (
	"fmt"
	"strings"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/validation"
)

type CreateRoleRequest struct {
	Name          string  `json:"name" validate:"required,max=100"`
	Description   string  `json:"description" validate:"required"`
	PermissionIDs []int64 `json:"permissionIds" validate:"dive,gt=0"`
	ActorID       *int64  `json:"-"`
}

func (r *CreateRoleRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	if err := validation.Struct(r); err != nil {
		return err
	}
	r.PermissionIDs = dedupe(r.PermissionIDs)
	return nil
}

// RoleUpdate changes only the fields that are set.
type RoleUpdate struct {
	Name        *string `json:"name" validate:"omitnil,min=1,max=100"`
	Description *string `json:"description"`
	ActorID     *int64  `json:"-"`
}

func (r *RoleUpdate) Validate() error {
	if r.Name == nil && r.Description == nil {
		return fmt.Errorf("%w: nothing to update", apperr.ErrInvalidInput)
	}
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		r.Name = &name
	}
	if r.Description != nil {
		desc := strings.TrimSpace(*r.Description)
		r.Description = &desc
	}
	return validation.Struct(r)
}

type CreatePermissionRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	Description  string `json:"description"`
	ResourceType string `json:"resourceType" validate:"required,max=100"`
	ActionType   string `json:"actionType" validate:"required,max=100"`
	ActorID      *int64 `json:"-"`
}

func (r *CreatePermissionRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.ResourceType = strings.TrimSpace(r.ResourceType)
	r.ActionType = strings.TrimSpace(r.ActionType)
	return validation.Struct(r)
}

type AssignRoleRequest struct {
	UserID     int64  `json:"userId" validate:"gt=0"`
	RoleID     int64  `json:"roleId" validate:"gt=0"`
	AssignedBy *int64 `json:"-"`
}

func (r AssignRoleRequest) Validate() error {
	return validation.Struct(r)
}

// ReplaceUserRolesRequest needs RoleIDs present; an empty list clears every role.
type ReplaceUserRolesRequest struct {
	UserID     int64   `json:"userId" validate:"gt=0"`
	RoleIDs    []int64 `json:"roleIds" validate:"required,dive,gt=0"`
	AssignedBy *int64  `json:"-"`
}

func (r *ReplaceUserRolesRequest) Validate() error {
	if err := validation.Struct(r); err != nil {
		return err
	}
	r.RoleIDs = dedupe(r.RoleIDs)
	return nil
}

type GrantRequest struct {
	RoleID       int64  `json:"roleId" validate:"gt=0"`
	PermissionID int64  `json:"permissionId" validate:"gt=0"`
	GrantedBy    *int64 `json:"-"`
}

func (r GrantRequest) Validate() error {
	return validation.Struct(r)
}

type CreateUserRequest struct {
	Username string  `json:"username" validate:"required,max=100"`
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,password"`
	RoleIDs  []int64 `json:"roleIds" validate:"dive,gt=0"`
	ActorID  *int64  `json:"-"`
}

func (r *CreateUserRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if err := validation.Struct(r); err != nil {
		return err
	}
	r.RoleIDs = dedupe(r.RoleIDs)
	return nil
}

// dedupe keeps the first occurrence of every id.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
