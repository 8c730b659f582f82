// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only audit log.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/domain"
)

// AppendAudit inserts one audit event. The log is append-only; there are no
// update or delete operations.
func AppendAudit(ctx context.Context, db *gorm.DB, actorID, action, subjectID, details string) error {
	ev := &domain.AuditEvent{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Action:    action,
		SubjectID: subjectID,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(ev).Error
}

// ListAuditBySubject returns audit events for a subject, newest first.
func ListAuditBySubject(ctx context.Context, db *gorm.DB, subjectID string, limit int) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	q := db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
