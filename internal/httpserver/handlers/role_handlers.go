package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/models"
	"gatekeeper/internal/rbac"
)

type RoleService interface {
	ListRolesWithPermissions(ctx context.Context) ([]models.RoleWithPermissions, error)
	CreateRole(ctx context.Context, req rbac.CreateRoleRequest) (*models.RoleWithPermissions, error)
	UpdateRole(ctx context.Context, id int64, upd rbac.RoleUpdate) (*models.Role, error)
	DeleteRole(ctx context.Context, id int64, actorID *int64) error
	GrantPermissionToRole(ctx context.Context, req rbac.GrantRequest) error
	RevokePermissionFromRole(ctx context.Context, roleID, permissionID int64, actorID *int64) error
}

func ListRoles(svc RoleService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roles, err := svc.ListRolesWithPermissions(r.Context())
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, roles)
	}
}

func CreateRole(svc RoleService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rbac.CreateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		req.ActorID = auth.ActorID(r.Context())
		role, err := svc.CreateRole(r.Context(), req)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondStatus(w, http.StatusCreated, role)
	}
}

func UpdateRole(svc RoleService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		var upd rbac.RoleUpdate
		if err := decodeJSON(w, r, &upd); err != nil {
			respondError(w, r, lg, err)
			return
		}
		upd.ActorID = auth.ActorID(r.Context())
		role, err := svc.UpdateRole(r.Context(), id, upd)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, role)
	}
}

func DeleteRole(svc RoleService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		if err := svc.DeleteRole(r.Context(), id, auth.ActorID(r.Context())); err != nil {
			respondError(w, r, lg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type grantReq struct {
	PermissionID int64 `json:"permissionId"`
}

// GrantPermission grants the permission in the body to the role in the path.
func GrantPermission(svc RoleService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleID, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		var body grantReq
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, r, lg, err)
			return
		}
		err = svc.GrantPermissionToRole(r.Context(), rbac.GrantRequest{
			RoleID: roleID, PermissionID: body.PermissionID, GrantedBy: auth.ActorID(r.Context()),
		})
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func RevokePermission(svc RoleService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleID, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		permID, err := pathID(r, "permissionID")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		if err := svc.RevokePermissionFromRole(r.Context(), roleID, permID, auth.ActorID(r.Context())); err != nil {
			respondError(w, r, lg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
