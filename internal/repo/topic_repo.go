// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Topic model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/domain"
)

// CreateTopics inserts the given topics for a request in one batch,
// assigning UUIDs and ordinals in slice order.
func CreateTopics(ctx context.Context, db *gorm.DB, requestID string, topics []domain.Topic) ([]domain.Topic, error) {
	now := time.Now().UTC()
	for i := range topics {
		topics[i].ID = uuid.NewString()
		topics[i].RequestID = requestID
		topics[i].Ordinal = i
		topics[i].CreatedAt = now
	}
	if len(topics) == 0 {
		return topics, nil
	}
	if err := db.WithContext(ctx).Create(&topics).Error; err != nil {
		return nil, err
	}
	return topics, nil
}

// ListTopics returns the topics of a request ordered by ordinal.
func ListTopics(ctx context.Context, db *gorm.DB, requestID string) ([]domain.Topic, error) {
	var out []domain.Topic
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("ordinal ASC").
		Find(&out).Error
	return out, err
}

// GetTopic fetches a topic by ID, or ErrNotFound if missing.
func GetTopic(ctx context.Context, db *gorm.DB, id string) (*domain.Topic, error) {
	var t domain.Topic
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// AddTopicGenerated atomically adds n to a topic's generated count.
func AddTopicGenerated(ctx context.Context, db *gorm.DB, id string, n int) error {
	res := db.WithContext(ctx).
		Model(&domain.Topic{}).
		Where("id = ?", id).
		Update("generated_count", gorm.Expr("generated_count + ?", n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteTopics removes all topics of a request. Used when an analysis run is
// repeated after a request is re-opened.
func DeleteTopics(ctx context.Context, db *gorm.DB, requestID string) error {
	return db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Delete(&domain.Topic{}).Error
}
