package store

import (
	"context"

	"gatekeeper/internal/models"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

func (s *GormStore) AppendAudit(ctx context.Context, e *models.AuditLog) error {
	return translate(s.db.WithContext(ctx).Create(e).Error, "audit entry")
}

// ListAudit returns entries newest first.
func (s *GormStore) ListAudit(ctx context.Context, f AuditFilter) ([]models.AuditLog, error) {
	if f.Limit <= 0 {
		f.Limit = defaultAuditLimit
	}
	if f.Limit > maxAuditLimit {
		f.Limit = maxAuditLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.ActorID != nil {
		q = q.Where("actor_id = ?", *f.ActorID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}

	entries := []models.AuditLog{}
	if err := q.Order("created_at DESC").Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&entries).Error; err != nil {
		return nil, translate(err, "list audit entries")
	}
	return entries, nil
}
