// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Request
// model, including the trailing-window counts consumed by the rate limiter.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a request is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRequest inserts a new generation request owned by actorID within
// scopeID. The request ID is a randomly generated UUID and CreatedAt is set
// to UTC. The row starts in the pending status.
func CreateRequest(ctx context.Context, db *gorm.DB, r *domain.Request) (*domain.Request, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRequest fetches a single request by ID. If the record does not exist,
// it returns ErrNotFound.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.Request, error) {
	var r domain.Request
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRequests returns the total number of requests within scopeID.
func CountRequests(ctx context.Context, db *gorm.DB, scopeID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("scope_id = ?", scopeID).
		Count(&total).Error
	return total, err
}

// ListRequestsPage returns a paginated slice of requests within scopeID,
// ordered by creation time descending. Use CountRequests to obtain the total
// for pagination metadata.
func ListRequestsPage(ctx context.Context, db *gorm.DB, scopeID string, offset, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := db.WithContext(ctx).
		Where("scope_id = ?", scopeID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountRequestsByActorSince counts requests created by actorID at or after
// the since timestamp. The rate limiter derives its trailing actor windows
// from this count; requests are never deleted, so the count is authoritative.
func CountRequestsByActorSince(ctx context.Context, db *gorm.DB, actorID string, since time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("actor_id = ? AND created_at >= ?", actorID, since).
		Count(&total).Error
	return total, err
}

// CountRequestsSince counts requests created system-wide at or after since.
func CountRequestsSince(ctx context.Context, db *gorm.DB, since time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("created_at >= ?", since).
		Count(&total).Error
	return total, err
}

// OldestRequestByActorSince returns the creation time of the oldest request
// by actorID within the window starting at since, or nil when the window is
// empty. The rate limiter uses it to compute retry-after seconds.
func OldestRequestByActorSince(ctx context.Context, db *gorm.DB, actorID string, since time.Time) (*time.Time, error) {
	var row struct {
		CreatedAt time.Time
	}
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Select("created_at").
		Where("actor_id = ? AND created_at >= ?", actorID, since).
		Order("created_at ASC").
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row.CreatedAt, nil
}

// OldestRequestSince is the system-wide variant of OldestRequestByActorSince.
func OldestRequestSince(ctx context.Context, db *gorm.DB, since time.Time) (*time.Time, error) {
	var row struct {
		CreatedAt time.Time
	}
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Select("created_at").
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row.CreatedAt, nil
}

// UpdateRequestStatus writes status, error message, and completion timestamp
// in one update. It is called exclusively by the state machine in the
// services package; callers elsewhere must go through services.SetStatus.
func UpdateRequestStatus(ctx context.Context, db *gorm.DB, id, status, errorMessage string, completedAt *time.Time) error {
	updates := map[string]any{
		"status":        status,
		"error_message": errorMessage,
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AddRequestUsage atomically adds token usage and generated-count deltas to
// the request's running totals.
func AddRequestUsage(ctx context.Context, db *gorm.DB, id string, promptTokens, completionTokens int64, generated int) error {
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"prompt_tokens":     gorm.Expr("prompt_tokens + ?", promptTokens),
			"completion_tokens": gorm.Expr("completion_tokens + ?", completionTokens),
			"generated_count":   gorm.Expr("generated_count + ?", generated),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
