package auth

import (
	"context"
)

type ctxKey string

const identityKey ctxKey = "identity"

// Identity is the authenticated caller behind a request.
type Identity struct {
	UserID  int64
	RoleIDs []int64
	TokenID string
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns nil when the request is unauthenticated.
func IdentityFrom(ctx context.Context) *Identity {
	if v, ok := ctx.Value(identityKey).(*Identity); ok {
		return v
	}
	return nil
}

// ActorID is the caller's user id for audit entries, or nil.
func ActorID(ctx context.Context) *int64 {
	if id := IdentityFrom(ctx); id != nil {
		uid := id.UserID
		return &uid
	}
	return nil
}
