package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatekeeper/internal/apperr"
)

// DefaultTokenTTL is the session lifetime when none is configured.
const DefaultTokenTTL = time.Hour

type sessionClaims struct {
	ID      int64   `json:"id"`
	RoleIDs []int64 `json:"roleIds,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 session tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration, issuer string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// WithClock replaces the time source used for iat, exp and expiry checks.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}

func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue signs a token for userID carrying its current role ids.
func (t *Tokens) Issue(userID int64, roleIDs []int64) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: user id must be positive", apperr.ErrInvalidInput)
	}
	now := t.now()
	exp := now.Add(t.ttl)
	claims := sessionClaims{
		ID:      userID,
		RoleIDs: roleIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, apperr.Internal(fmt.Errorf("sign token: %w", err))
	}
	return signed, exp.Truncate(time.Second), nil
}

// Validate checks signature, algorithm and expiry against the current clock.
// Every failure is ErrUnauthenticated.
func (t *Tokens) Validate(raw string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims sessionClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperr.ErrUnauthenticated)
	}
	if claims.ID <= 0 {
		return nil, fmt.Errorf("%w: token carries no user id", apperr.ErrUnauthenticated)
	}
	return &Identity{UserID: claims.ID, RoleIDs: claims.RoleIDs, TokenID: claims.RegisteredClaims.ID}, nil
}
