package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/models"
)

// UserSource is the slice of the credential store the authenticator needs.
type UserSource interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
}

// RoleSource returns the role ids embedded in a new session token.
type RoleSource interface {
	RoleIDsOf(ctx context.Context, userID int64) ([]int64, error)
}

// Session is the result of a successful login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

type Authenticator struct {
	users  UserSource
	roles  RoleSource
	tokens *Tokens
	hasher *Hasher
	lg     *zap.SugaredLogger
	now    func() time.Time

	// dummyHash is compared against when the email is unknown so both
	// outcomes cost one bcrypt comparison.
	dummyHash string
}

func NewAuthenticator(users UserSource, roles RoleSource, tokens *Tokens, hasher *Hasher, lg *zap.SugaredLogger) (*Authenticator, error) {
	dummy, err := hasher.Hash("gatekeeper-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Authenticator{
		users: users, roles: roles, tokens: tokens, hasher: hasher, lg: lg,
		now: time.Now, dummyHash: dummy,
	}, nil
}

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthenticated)

// Login verifies email and password and issues a session token. Unknown
// email, wrong password and inactive account are indistinguishable.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", apperr.ErrInvalidInput)
	}

	u, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		_ = a.hasher.Compare(a.dummyHash, password)
		return nil, errInvalidCredentials
	}
	if err := a.hasher.Compare(u.PasswordHash, password); err != nil {
		a.lg.Infow("login rejected", "user_id", u.ID, "reason", "password")
		return nil, errInvalidCredentials
	}
	if !u.IsActive {
		a.lg.Infow("login rejected", "user_id", u.ID, "reason", "inactive")
		return nil, errInvalidCredentials
	}

	roleIDs, err := a.roles.RoleIDsOf(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	token, exp, err := a.tokens.Issue(u.ID, roleIDs)
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	if err := a.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		a.lg.Warnw("update last login", "user_id", u.ID, "err", err)
	} else {
		u.LastLoginAt = &now
	}
	a.lg.Infow("login", "user_id", u.ID)
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}

// Resolve validates raw and checks that the user still exists and is
// active.
func (a *Authenticator) Resolve(ctx context.Context, raw string) (*Identity, error) {
	id, err := a.tokens.Validate(raw)
	if err != nil {
		return nil, err
	}
	u, err := a.users.UserByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d no longer exists", apperr.ErrUnauthenticated, id.UserID)
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: user %d is inactive", apperr.ErrUnauthenticated, id.UserID)
	}
	return id, nil
}
