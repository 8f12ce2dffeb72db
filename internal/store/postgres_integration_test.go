//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

func openPostgres(t *testing.T) *store.GormStore {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("gatekeeper_test"),
		postgres.WithUsername("gatekeeper"),
		postgres.WithPassword("gatekeeper"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := store.OpenPostgres(dsn)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	return store.New(db)
}

func TestPostgresErrorTranslation(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRole(ctx, &models.Role{Name: "Admin", Description: "all"}))
	assert.ErrorIs(t, s.CreateRole(ctx, &models.Role{Name: "Admin"}), apperr.ErrConflict)

	err := s.AddUserRoles(ctx, []models.UserRole{{UserID: 999, RoleID: 999, AssignedAt: time.Now()}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresResetTokenDeletedExactlyOnce(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()

	u := &models.User{Username: "ann", Email: "ann@example.com", PasswordHash: "h", IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))
	tok := &models.PasswordResetToken{UserID: u.ID, TokenHash: "cafe", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateResetToken(ctx, tok))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Atomic(ctx, func(tx store.Store) error {
				ok, err := tx.DeleteResetToken(ctx, tok.ID)
				if err != nil {
					return err
				}
				if ok {
					wins.Add(1)
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestPostgresConcurrentRoleReplaceSerialises(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()

	u := &models.User{Username: "ann", Email: "ann@example.com", PasswordHash: "h", IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))
	r := &models.Role{Name: "Viewer", Description: "read"}
	require.NoError(t, s.CreateRole(ctx, r))

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Atomic(ctx, func(tx store.Store) error {
				if _, err := tx.UserByIDForUpdate(ctx, u.ID); err != nil {
					return err
				}
				if err := tx.ClearUserRoles(ctx, u.ID); err != nil {
					return err
				}
				return tx.AddUserRoles(ctx, []models.UserRole{{UserID: u.ID, RoleID: r.ID, AssignedAt: time.Now()}})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	roles, err := s.RolesOfUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}
