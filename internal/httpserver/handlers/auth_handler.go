package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/rbac"
)

type LoginService interface {
	Login(ctx context.Context, email, password string) (*auth.Session, error)
}

type ProfileReader interface {
	Profile(ctx context.Context, userID int64) (*rbac.UserProfile, error)
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func Login(svc LoginService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		sess, err := svc.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, sess)
	}
}

// Me returns the caller with its roles and effective permissions.
func Me(profiles ProfileReader, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFrom(r.Context())
		if id == nil {
			respondError(w, r, lg, apperr.ErrUnauthenticated)
			return
		}
		p, err := profiles.Profile(r.Context(), id.UserID)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, p)
	}
}
