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

type PermissionService interface {
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	CreatePermission(ctx context.Context, req rbac.CreatePermissionRequest) (*models.Permission, error)
	UpdatePermissionDescription(ctx context.Context, id int64, description string, actorID *int64) (*models.Permission, error)
	DeletePermission(ctx context.Context, id int64, actorID *int64) error
}

func ListPermissions(svc PermissionService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perms, err := svc.ListPermissions(r.Context())
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, perms)
	}
}

func CreatePermission(svc PermissionService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rbac.CreatePermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		req.ActorID = auth.ActorID(r.Context())
		p, err := svc.CreatePermission(r.Context(), req)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondStatus(w, http.StatusCreated, p)
	}
}

// Only the description of a permission is mutable.
type permissionUpdateReq struct {
	Description *string `json:"description"`
}

func UpdatePermission(svc PermissionService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		var req permissionUpdateReq
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		if req.Description == nil {
			respondError(w, r, lg, fmt.Errorf("%w: description is required", apperr.ErrInvalidInput))
			return
		}
		p, err := svc.UpdatePermissionDescription(r.Context(), id, *req.Description, auth.ActorID(r.Context()))
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, p)
	}
}

func DeletePermission(svc PermissionService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		if err := svc.DeletePermission(r.Context(), id, auth.ActorID(r.Context())); err != nil {
			respondError(w, r, lg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
