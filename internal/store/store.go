// Package store is the relational storage capability behind the credential
// store, the role/permission graph, reset tokens and the audit log.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/models"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store describes every persistence operation used by the service. Atomic
// runs fn against a transaction-scoped Store; returning an error rolls the
// whole unit back.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Store) error) error

	CreateUser(ctx context.Context, u *models.User) error
	UserByID(ctx context.Context, id int64) (*models.User, error)
	UserByIDForUpdate(ctx context.Context, id int64) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	DeleteUser(ctx context.Context, id int64) error
	UpdatePasswordHash(ctx context.Context, userID int64, hash string, at time.Time) error
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
	SetUserActive(ctx context.Context, userID int64, active bool) error
	UsersWithPermission(ctx context.Context, resourceType, actionType string) ([]models.User, error)

	CreateRole(ctx context.Context, r *models.Role) error
	RoleByID(ctx context.Context, id int64) (*models.Role, error)
	SaveRole(ctx context.Context, r *models.Role) error
	DeleteRole(ctx context.Context, id int64) error
	MissingRoleIDs(ctx context.Context, ids []int64) ([]int64, error)
	RolePermissionRows(ctx context.Context) ([]RolePermissionRow, error)

	CreatePermission(ctx context.Context, p *models.Permission) error
	PermissionByID(ctx context.Context, id int64) (*models.Permission, error)
	UpdatePermissionDescription(ctx context.Context, id int64, description string) error
	DeletePermission(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	MissingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error)

	AddUserRoles(ctx context.Context, rows []models.UserRole) error
	RemoveUserRole(ctx context.Context, userID, roleID int64) error
	ClearUserRoles(ctx context.Context, userID int64) error
	RolesOfUser(ctx context.Context, userID int64) ([]models.Role, error)

	AddRolePermissions(ctx context.Context, rows []models.RolePermission) error
	RemoveRolePermission(ctx context.Context, roleID, permissionID int64) error
	PermissionsOfRoles(ctx context.Context, roleIDs []int64) ([]models.Permission, error)

	CreateResetToken(ctx context.Context, t *models.PasswordResetToken) error
	ResetTokenByHash(ctx context.Context, hash string) (*models.PasswordResetToken, error)
	DeleteResetToken(ctx context.Context, id int64) (bool, error)
	DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error)

	AppendAudit(ctx context.Context, e *models.AuditLog) error
	ListAudit(ctx context.Context, f AuditFilter) ([]models.AuditLog, error)
}

// RolePermissionRow is one row of roles LEFT JOIN role_permissions LEFT JOIN
// permissions. Permission columns are nil for roles without grants.
type RolePermissionRow struct {
	RoleID                 int64
	RoleName               string
	RoleDescription        string
	RoleCreatedAt          time.Time
	RoleUpdatedAt          time.Time
	PermissionID           *int64
	PermissionName         *string
	PermissionDescription  *string
	PermissionResourceType *string
	PermissionActionType   *string
	PermissionCreatedAt    *time.Time
}

// AuditFilter controls which audit entries ListAudit returns.
type AuditFilter struct {
	ActorID    *int64
	Action     string
	EntityType string
	EntityID   string
	Limit      int // default 50, max 200
	Offset     int
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenPostgres connects to PostgreSQL with driver errors translated to
// gorm's sentinel errors.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

func (s *GormStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
	if err != nil && !apperr.Known(err) {
		return apperr.Internal(fmt.Errorf("transaction: %w", err))
	}
	return err
}

// translate maps driver and gorm errors onto the apperr taxonomy.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case apperr.Known(err):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s already exists", apperr.ErrConflict, what)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: %s references a missing row", apperr.ErrNotFound, what)
	default:
		return apperr.Internal(fmt.Errorf("%s: %w", what, err))
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrForeignKeyViolation
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// missingIDs returns the ids of want absent from have, in want order.
func missingIDs(want, have []int64) []int64 {
	seen := make(map[int64]struct{}, len(have))
	for _, id := range have {
		seen[id] = struct{}{}
	}
	var missing []int64
	for _, id := range want {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
			seen[id] = struct{}{}
		}
	}
	return missing
}
