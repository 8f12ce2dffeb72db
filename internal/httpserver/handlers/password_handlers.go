package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
)

const (
	forgotPasswordMessage = "If that email is registered, you will receive a reset link."
	resetPasswordMessage  = "Password has been reset successfully"
)

type ResetService interface {
	RequestReset(ctx context.Context, email string) error
	ConsumeResetToken(ctx context.Context, token, newPassword string) (int64, error)
}

type forgotReq struct {
	Email string `json:"email"`
}

// ForgotPassword answers identically whether or not the email belongs to an
// account. Only a missing email is reported back.
func ForgotPassword(svc ResetService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req forgotReq
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		if err := svc.RequestReset(r.Context(), req.Email); err != nil {
			if errors.Is(err, apperr.ErrInvalidInput) {
				respondError(w, r, lg, err)
				return
			}
			lg.Errorw("password reset request failed", "err", err)
		}
		respondJSON(w, messageResponse{Message: forgotPasswordMessage})
	}
}

type resetReq struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func ResetPassword(svc ResetService, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetReq
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		if _, err := svc.ConsumeResetToken(r.Context(), req.Token, req.NewPassword); err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, messageResponse{Message: resetPasswordMessage})
	}
}
