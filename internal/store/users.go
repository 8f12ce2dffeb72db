package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/models"
)

func (s *GormStore) CreateUser(ctx context.Context, u *models.User) error {
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(u).Error, "user")
}

func (s *GormStore) UserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("user %d", id))
	}
	return &u, nil
}

// UserByIDForUpdate holds the user's row lock until the surrounding
// transaction ends. SQLite has no row locks and drops the clause.
func (s *GormStore) UserByIDForUpdate(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, id).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("user %d", id))
	}
	return &u, nil
}

func (s *GormStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &u, nil
}

func (s *GormStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, translate(err, "list users")
	}
	return users, nil
}

// DeleteUser removes the user together with its role assignments and reset
// tokens.
func (s *GormStore) DeleteUser(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.UserRole{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: user %d", apperr.ErrNotFound, id)
		}
		return nil
	})
	return translate(err, fmt.Sprintf("delete user %d", id))
}

func (s *GormStore) UpdatePasswordHash(ctx context.Context, userID int64, hash string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]any{"password_hash": hash, "updated_at": at})
	if res.Error != nil {
		return translate(res.Error, fmt.Sprintf("update password of user %d", userID))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %d", apperr.ErrNotFound, userID)
	}
	return nil
}

func (s *GormStore) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("last_login_at", at).Error
	return translate(err, fmt.Sprintf("touch last login of user %d", userID))
}

func (s *GormStore) SetUserActive(ctx context.Context, userID int64, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("is_active", active)
	if res.Error != nil {
		return translate(res.Error, fmt.Sprintf("update user %d", userID))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %d", apperr.ErrNotFound, userID)
	}
	return nil
}

// UsersWithPermission answers "who can do X": users holding any role that
// grants the resource/action pair.
func (s *GormStore) UsersWithPermission(ctx context.Context, resourceType, actionType string) ([]models.User, error) {
	db := s.db.WithContext(ctx)
	holders := db.Table("user_roles").
		Select("user_roles.user_id").
		Joins("JOIN role_permissions ON role_permissions.role_id = user_roles.role_id").
		Joins("JOIN permissions ON permissions.id = role_permissions.permission_id").
		Where("permissions.resource_type = ? AND permissions.action_type = ?", resourceType, actionType)

	var users []models.User
	if err := db.Where("id IN (?)", holders).Order("id").Find(&users).Error; err != nil {
		return nil, translate(err, "users with permission")
	}
	return users, nil
}
