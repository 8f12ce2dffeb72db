package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
)

// IdentityResolver turns a bearer token into an identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, raw string) (*Identity, error)
}

// Authenticate requires a valid bearer token whose user still exists and is
// active, and stores the identity in the request context.
func Authenticate(resolver IdentityResolver, lg *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeError(w, lg, fmt.Errorf("%w: missing bearer token", apperr.ErrUnauthenticated))
				return
			}
			id, err := resolver.Resolve(r.Context(), strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
			if err != nil {
				writeError(w, lg, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// Require lets the request through only when the caller satisfies req.
func Require(a *Authorizer, req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.Authorize(r.Context(), IdentityFrom(r.Context()), req); err != nil {
				writeError(w, a.lg, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, lg *zap.SugaredLogger, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		lg.Errorw("auth middleware", "err", err)
	} else {
		lg.Debugw("auth middleware", "status", status, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": apperr.Message(err)})
}
