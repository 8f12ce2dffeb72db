// Package reset runs the password-reset lifecycle: a forgotten-password
// request issues a single-use, time-bounded token mailed to the account
// owner, and consuming the token sets a new password.
package reset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/mail"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
	"gatekeeper/internal/validation"
)

const (
	DefaultTTL         = time.Hour
	defaultSendTimeout = 30 * time.Second
	tokenBytes         = 32
)

var tracer = otel.Tracer("gatekeeper/reset")

// PasswordHasher turns a plaintext password into a storable hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Observer is told about lifecycle events: requested, issued, consumed,
// rejected, mail_failed and purged.
type Observer interface {
	ResetEvent(event string, n int)
}

type Config struct {
	TTL         time.Duration
	FrontendURL string
	SendTimeout time.Duration
}

type Service struct {
	store    store.Store
	audit    *audit.Recorder
	hasher   PasswordHasher
	mailer   mail.Mailer
	lg       *zap.SugaredLogger
	cfg      Config
	now      func() time.Time
	observer Observer

	sends sync.WaitGroup
}

func NewService(s store.Store, rec *audit.Recorder, hasher PasswordHasher, mailer mail.Mailer, lg *zap.SugaredLogger, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &Service{store: s, audit: rec, hasher: hasher, mailer: mailer, lg: lg, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source used for issuing and checking expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// RequestReset returns nil for registered and unknown emails alike. For a
// registered email the token is issued and mailed in the background, so the
// call costs the same lookup either way. Failures after the lookup are
// logged, never returned.
func (s *Service) RequestReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "RequestReset")
	defer func() { finish(span, err) }()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: email is required", apperr.ErrInvalidInput)
	}
	s.event("requested", 1)

	u, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.issueAsync(ctx, u)
	return nil
}

// IssueResetToken stores the hash of a fresh random token for userID and
// returns the raw token. Earlier tokens of the same user stay valid.
func (s *Service) IssueResetToken(ctx context.Context, userID int64) (string, time.Time, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, apperr.Internal(fmt.Errorf("read random: %w", err))
	}
	token := hex.EncodeToString(raw)
	exp := s.now().UTC().Add(s.cfg.TTL)

	rec := &models.PasswordResetToken{UserID: userID, TokenHash: HashToken(token), ExpiresAt: exp}
	if err := s.store.CreateResetToken(ctx, rec); err != nil {
		return "", time.Time{}, err
	}
	s.event("issued", 1)
	return token, exp, nil
}

// ConsumeResetToken sets newPassword for the token's owner and invalidates
// the token. Of two concurrent calls with the same token at most one
// succeeds; every token failure is ErrInvalidToken.
func (s *Service) ConsumeResetToken(ctx context.Context, token, newPassword string) (userID int64, err error) {
	ctx, span := tracer.Start(ctx, "ConsumeResetToken")
	defer func() { finish(span, err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return 0, fmt.Errorf("%w: token is required", apperr.ErrInvalidInput)
	}
	if err := validation.Password(newPassword); err != nil {
		return 0, err
	}
	if !wellFormed(token) {
		s.event("rejected", 1)
		return 0, apperr.ErrInvalidToken
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	err = s.store.Atomic(ctx, func(tx store.Store) error {
		rec, err := tx.ResetTokenByHash(ctx, HashToken(token))
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.ErrInvalidToken
		}
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if !now.Before(rec.ExpiresAt) {
			return apperr.ErrInvalidToken
		}
		deleted, err := tx.DeleteResetToken(ctx, rec.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return apperr.ErrInvalidToken
		}
		if err := tx.UpdatePasswordHash(ctx, rec.UserID, hash, now); err != nil {
			return err
		}
		userID = rec.UserID
		return s.audit.Record(ctx, tx, audit.Entry{
			ActorID:    &rec.UserID,
			Action:     audit.ActionPasswordReset,
			EntityType: audit.EntityUser,
			EntityID:   audit.ID(rec.UserID),
			New:        map[string]any{"token_id": rec.ID},
		})
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidToken) {
			s.event("rejected", 1)
		}
		return 0, err
	}
	span.SetAttributes(attribute.Int64("user_id", userID))
	s.event("consumed", 1)
	s.lg.Infow("password reset", "user_id", userID)
	return userID, nil
}

// PurgeExpired deletes tokens whose expiry has passed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredResetTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.event("purged", int(n))
	return n, nil
}

// Wait blocks until background issues and mail sends finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sends.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HashToken is the stored form of a raw reset token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// issueAsync outlives the request: ctx only carries trace values here.
func (s *Service) issueAsync(ctx context.Context, u *models.User) {
	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SendTimeout)
		defer cancel()
		token, exp, err := s.IssueResetToken(ctx, u.ID)
		if err != nil {
			s.lg.Errorw("issue reset token", "user_id", u.ID, "err", err)
			return
		}
		if err := s.mailer.Send(ctx, s.resetMessage(u.Email, token, exp)); err != nil {
			s.event("mail_failed", 1)
			s.lg.Errorw("send reset mail", "user_id", u.ID, "err", err)
		}
	}()
}

func (s *Service) resetMessage(to, token string, exp time.Time) mail.Message {
	link := s.cfg.FrontendURL + "/reset-password?token=" + url.QueryEscape(token)
	mins := int(s.cfg.TTL.Round(time.Minute) / time.Minute)
	return mail.Message{
		To:      to,
		Subject: "Your password reset link",
		Text:    fmt.Sprintf("Reset your password: %s\n\nThe link expires at %s.", link, exp.Format(time.RFC1123)),
		HTML: fmt.Sprintf(`<p>Click <a href="%s">here</a> to reset your password. Link expires in %d minutes.</p>`,
			html.EscapeString(link), mins),
	}
}

func (s *Service) event(name string, n int) {
	if s.observer != nil {
		s.observer.ResetEvent(name, n)
	}
}

func wellFormed(token string) bool {
	if len(token) != hex.EncodedLen(tokenBytes) {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
