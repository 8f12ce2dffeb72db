package handlers

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/models"
	"gatekeeper/internal/rbac"
)

type UserService interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, req rbac.CreateUserRequest) (*rbac.UserProfile, error)
	SetUserActive(ctx context.Context, id int64, active bool, actorID *int64) (*models.User, error)
	DeleteUser(ctx context.Context, id int64, actorID *int64) error
	ResolvePermissions(ctx context.Context, userID int64) ([]models.Permission, error)
	AssignRoleToUser(ctx context.Context, req rbac.AssignRoleRequest) error
	ReplaceUserRoles(ctx context.Context, req rbac.ReplaceUserRolesRequest) ([]models.Role, error)
	RevokeRoleFromUser(ctx context.Context, userID, roleID int64, actorID *int64) error
}

func ListUsers(svc UserService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := svc.ListUsers(r.Context())
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, users)
	}
}

func CreateUser(svc UserService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rbac.CreateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		req.ActorID = auth.ActorID(r.Context())
		p, err := svc.CreateUser(r.Context(), req)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondStatus(w, http.StatusCreated, p)
	}
}

type userUpdateReq struct {
	IsActive *bool `json:"isActive"`
}

// UpdateUser activates or deactivates an account.
func UpdateUser(svc UserService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		var req userUpdateReq
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		if req.IsActive == nil {
			respondError(w, r, lg, fmt.Errorf("%w: isActive is required", apperr.ErrInvalidInput))
			return
		}
		u, err := svc.SetUserActive(r.Context(), id, *req.IsActive, auth.ActorID(r.Context()))
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, u)
	}
}

func DeleteUser(svc UserService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		if err := svc.DeleteUser(r.Context(), id, auth.ActorID(r.Context())); err != nil {
			respondError(w, r, lg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func UserPermissions(svc UserService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		perms, err := svc.ResolvePermissions(r.Context(), id)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, perms)
	}
}

type assignRoleReq struct {
	RoleID int64 `json:"roleId"`
}

func AssignRole(svc UserService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		var body assignRoleReq
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, r, lg, err)
			return
		}
		err = svc.AssignRoleToUser(r.Context(), rbac.AssignRoleRequest{
			UserID: userID, RoleID: body.RoleID, AssignedBy: auth.ActorID(r.Context()),
		})
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type replaceRolesReq struct {
	RoleIDs []int64 `json:"roleIds"`
}

// ReplaceRoles sets the user's roles to exactly the given list.
func ReplaceRoles(svc UserService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		var body replaceRolesReq
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, r, lg, err)
			return
		}
		roles, err := svc.ReplaceUserRoles(r.Context(), rbac.ReplaceUserRolesRequest{
			UserID: userID, RoleIDs: body.RoleIDs, AssignedBy: auth.ActorID(r.Context()),
		})
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, roles)
	}
}

func RevokeRole(svc UserService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		roleID, err := pathID(r, "roleID")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		if err := svc.RevokeRoleFromUser(r.Context(), userID, roleID, auth.ActorID(r.Context())); err != nil {
			respondError(w, r, lg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
