// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the CacheEntry
// model backing the content-addressed result cache.
//
// All mutations are single-row upserts keyed by the unique
// (cache_type, fingerprint) tuple, so concurrent request flows need no
// locking beyond the row itself.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lmsforge/quizgen-backend/internal/domain"
)

// GetCacheEntry fetches an entry by (cacheType, fingerprint) regardless of
// age; TTL evaluation belongs to the service layer. Returns ErrNotFound when
// no entry exists.
func GetCacheEntry(ctx context.Context, db *gorm.DB, cacheType, fingerprint string) (*domain.CacheEntry, error) {
	var e domain.CacheEntry
	err := db.WithContext(ctx).
		Where("cache_type = ? AND fingerprint = ?", cacheType, fingerprint).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertCacheEntry inserts or replaces the entry for (cacheType, fingerprint).
// On conflict the payload and creation time are replaced but the hit counter
// is preserved, so hit-rate statistics survive refreshes.
func UpsertCacheEntry(ctx context.Context, db *gorm.DB, cacheType, fingerprint, payload string) error {
	now := time.Now().UTC()
	e := &domain.CacheEntry{
		ID:           uuid.NewString(),
		CacheType:    cacheType,
		Fingerprint:  fingerprint,
		Payload:      payload,
		HitCount:     0,
		LastAccessAt: now,
		CreatedAt:    now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_type"}, {Name: "fingerprint"}},
			DoUpdates: clause.Assignments(map[string]any{
				"payload":        payload,
				"created_at":     now,
				"last_access_at": now,
			}),
		}).
		Create(e).Error
}

// TouchCacheEntry increments the hit counter and refreshes last-access time.
func TouchCacheEntry(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.CacheEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"hit_count":      gorm.Expr("hit_count + 1"),
			"last_access_at": time.Now().UTC(),
		}).Error
}

// DeleteCacheEntry removes a single entry by ID (lazy eviction of an
// expired entry discovered on read).
func DeleteCacheEntry(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.CacheEntry{}).Error
}

// DeleteCacheEntriesBefore deletes all entries of cacheType created before
// cutoff and reports how many rows were removed. The periodic sweep calls
// this once per TTL class.
func DeleteCacheEntriesBefore(ctx context.Context, db *gorm.DB, cacheType string, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("cache_type = ? AND created_at < ?", cacheType, cutoff).
		Delete(&domain.CacheEntry{})
	return res.RowsAffected, res.Error
}

// CacheStats returns the entry count and cumulative hit count for a cache
// type, supporting hit-rate observability endpoints.
func CacheStats(ctx context.Context, db *gorm.DB, cacheType string) (entries, hits int64, err error) {
	q := db.WithContext(ctx).Model(&domain.CacheEntry{}).Where("cache_type = ?", cacheType)
	if err = q.Count(&entries).Error; err != nil {
		return 0, 0, err
	}
	if entries == 0 {
		return 0, 0, nil
	}
	var row struct {
		Total int64
	}
	if err = q.Select("COALESCE(SUM(hit_count),0) AS total").Scan(&row).Error; err != nil {
		return 0, 0, err
	}
	return entries, row.Total, nil
}
