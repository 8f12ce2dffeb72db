// Package storetest opens throwaway SQLite-backed stores for tests.
package storetest

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
)

// Open creates a migrated SQLite database in the test's temp dir. WAL lets
// readers proceed while a writer holds its transaction, and _txlock=immediate
// makes concurrent writers queue on the busy timeout instead of failing.
func Open(t *testing.T) (*store.GormStore, *gorm.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gatekeeper.db")
	dsn := "file:" + path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db), db
}

// SeedUser inserts an active user with the given email.
func SeedUser(t *testing.T, s store.Store, username, email, passwordHash string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: email, PasswordHash: passwordHash, IsActive: true}
	if err := s.CreateUser(t.Context(), u); err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}
