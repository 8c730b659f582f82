// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for idempotency
// records guarding unsafe POSTs (deployments).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lmsforge/quizgen-backend/internal/domain"
)

// GetIdempotency fetches the stored response for (actorID, route, key) when
// one exists and has not expired at now. Missing or expired records return
// ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, actorID, route, key string, now time.Time) (*domain.IdempotencyKey, error) {
	var rec domain.IdempotencyKey
	err := db.WithContext(ctx).
		Where("actor_id = ? AND route = ? AND key = ? AND expires_at > ?", actorID, route, key, now).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotency stores a completed response under (actorID, route, key)
// valid for ttl. A concurrent duplicate insert is ignored: the first stored
// response wins.
func SaveIdempotency(ctx context.Context, db *gorm.DB, actorID, route, key string, statusCode int, responseBody string, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.IdempotencyKey{
		ID:           uuid.NewString(),
		ActorID:      actorID,
		Route:        route,
		Key:          key,
		StatusCode:   statusCode,
		ResponseBody: responseBody,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
}

// DeleteExpiredIdempotency removes records past their expiry.
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
