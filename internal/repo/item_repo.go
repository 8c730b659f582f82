// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for GeneratedItem
// and its ItemOption children.
//
// Items and their options are always written together: CreateItem persists
// the parent row and option rows inside the caller's handle, so wrapping the
// call in a transaction yields an atomic insert of the whole aggregate.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/domain"
)

// CreateItem inserts a generated item and its options. The item ID is a
// randomly generated UUID unless pre-set by the caller (regeneration presets
// CreatedAt to preserve ordinal position). Option ordinals follow slice order.
func CreateItem(ctx context.Context, db *gorm.DB, item *domain.GeneratedItem, options []domain.ItemOption) (*domain.GeneratedItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ReviewStatus == "" {
		item.ReviewStatus = domain.ReviewPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range options {
		options[i].ID = uuid.NewString()
		options[i].ItemID = item.ID
		options[i].Ordinal = i
		options[i].CreatedAt = now
	}
	if len(options) > 0 {
		if err := db.WithContext(ctx).Create(&options).Error; err != nil {
			return nil, err
		}
	}
	return item, nil
}

// GetItem fetches an item by ID, or ErrNotFound if missing.
func GetItem(ctx context.Context, db *gorm.DB, id string) (*domain.GeneratedItem, error) {
	var it domain.GeneratedItem
	if err := db.WithContext(ctx).Where("id = ?", id).First(&it).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// ListItemOptions returns the options of an item ordered by ordinal.
func ListItemOptions(ctx context.Context, db *gorm.DB, itemID string) ([]domain.ItemOption, error) {
	var out []domain.ItemOption
	err := db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("ordinal ASC").
		Find(&out).Error
	return out, err
}

// CountItems returns the total number of items for a request.
func CountItems(ctx context.Context, db *gorm.DB, requestID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.GeneratedItem{}).
		Where("request_id = ?", requestID).
		Count(&total).Error
	return total, err
}

// ListItemsPage returns a paginated slice of a request's items ordered
// deterministically (CreatedAt ASC, ID ASC). Regenerated items copy the
// original CreatedAt, so replacements keep their position in this order.
func ListItemsPage(ctx context.Context, db *gorm.DB, requestID string, offset, limit int) ([]domain.GeneratedItem, error) {
	var out []domain.GeneratedItem
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListItemTexts returns the question texts already generated for a request,
// in creation order. The batch engine sends them to the generation service
// as deduplication context.
func ListItemTexts(ctx context.Context, db *gorm.DB, requestID string) ([]string, error) {
	var texts []string
	err := db.WithContext(ctx).
		Model(&domain.GeneratedItem{}).
		Where("request_id = ?", requestID).
		Order("created_at ASC, id ASC").
		Pluck("text", &texts).Error
	return texts, err
}

// ListItemsByIDs returns the items with the given IDs in no particular order.
func ListItemsByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.GeneratedItem, error) {
	var out []domain.GeneratedItem
	if len(ids) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// UpdateItemReview sets the review status of an item. Returns ErrNotFound
// when the item does not exist.
func UpdateItemReview(ctx context.Context, db *gorm.DB, id, reviewStatus string) error {
	res := db.WithContext(ctx).
		Model(&domain.GeneratedItem{}).
		Where("id = ?", id).
		Update("review_status", reviewStatus)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateItemBankLink sets or clears the bank question link of an item.
// A nil bankQuestionID clears a stale link after the external question was
// removed out-of-band.
func UpdateItemBankLink(ctx context.Context, db *gorm.DB, id string, bankQuestionID *string) error {
	res := db.WithContext(ctx).
		Model(&domain.GeneratedItem{}).
		Where("id = ?", id).
		Update("bank_question_id", bankQuestionID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteItem removes an item and its options (options cascade via FK, but
// the delete is issued explicitly for engines without FK enforcement).
func DeleteItem(ctx context.Context, db *gorm.DB, id string) error {
	if err := db.WithContext(ctx).Where("item_id = ?", id).Delete(&domain.ItemOption{}).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.GeneratedItem{}).Error
}
