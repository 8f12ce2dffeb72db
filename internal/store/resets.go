package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"gatekeeper/internal/models"
)

func (s *GormStore) CreateResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(t).Error, "reset token")
}

func (s *GormStore) ResetTokenByHash(ctx context.Context, hash string) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error; err != nil {
		return nil, translate(err, "reset token")
	}
	return &t, nil
}

// DeleteResetToken reports whether this call removed the row. A concurrent
// consumer that lost the race sees false once the winner commits.
func (s *GormStore) DeleteResetToken(ctx context.Context, id int64) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&models.PasswordResetToken{}, id)
	if res.Error != nil {
		return false, translate(res.Error, "delete reset token")
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", before).Delete(&models.PasswordResetToken{})
	if res.Error != nil {
		return 0, translate(res.Error, "purge reset tokens")
	}
	return res.RowsAffected, nil
}
