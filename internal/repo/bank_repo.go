// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the target
// question-bank schema (categories, questions, answers, versions) and the
// plugin-side DeploymentRecord linking a generated item to its bank question.
//
// The deployment engine composes these functions inside a per-item
// transaction; none of them open transactions themselves.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/domain"
)

// GetCategoryByName fetches a category by (scopeID, parentID, name), or
// ErrNotFound when absent.
func GetCategoryByName(ctx context.Context, db *gorm.DB, scopeID, parentID, name string) (*domain.BankCategory, error) {
	var c domain.BankCategory
	err := db.WithContext(ctx).
		Where("scope_id = ? AND parent_id = ? AND name = ?", scopeID, parentID, name).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCategory inserts a category node under parentID ("" for top level).
func CreateCategory(ctx context.Context, db *gorm.DB, scopeID, parentID, name string) (*domain.BankCategory, error) {
	c := &domain.BankCategory{
		ID:        uuid.NewString(),
		ScopeID:   scopeID,
		ParentID:  parentID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// FindOrCreateCategory fetches the category for (scopeID, parentID, name)
// and creates it when missing. A concurrent creation surfacing as a
// duplicate insert is resolved by a final re-read.
func FindOrCreateCategory(ctx context.Context, db *gorm.DB, scopeID, parentID, name string) (*domain.BankCategory, error) {
	c, err := GetCategoryByName(ctx, db, scopeID, parentID, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	c, err = CreateCategory(ctx, db, scopeID, parentID, name)
	if err != nil {
		// Lost a race: someone else inserted it first.
		if existing, gerr := GetCategoryByName(ctx, db, scopeID, parentID, name); gerr == nil {
			return existing, nil
		}
		return nil, err
	}
	return c, nil
}

// GetBankQuestion fetches a bank question by ID, or ErrNotFound.
func GetBankQuestion(ctx context.Context, db *gorm.DB, id string) (*domain.BankQuestion, error) {
	var q domain.BankQuestion
	if err := db.WithContext(ctx).Where("id = ?", id).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// FindBankQuestionByContent searches categoryID for a question matching the
// given type and text. The deployment engine uses it to adopt orphans left
// by a previously interrupted deployment instead of creating duplicates.
func FindBankQuestionByContent(ctx context.Context, db *gorm.DB, categoryID, qtype, text string) (*domain.BankQuestion, error) {
	var q domain.BankQuestion
	err := db.WithContext(ctx).
		Where("category_id = ? AND qtype = ? AND text = ?", categoryID, qtype, text).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// CreateBankQuestion inserts a bank question row.
func CreateBankQuestion(ctx context.Context, db *gorm.DB, q *domain.BankQuestion) (*domain.BankQuestion, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(q).Error; err != nil {
		return nil, err
	}
	return q, nil
}

// CreateBankAnswers inserts the answer rows of a question, ordinal in slice
// order.
func CreateBankAnswers(ctx context.Context, db *gorm.DB, questionID string, answers []domain.BankAnswer) error {
	now := time.Now().UTC()
	for i := range answers {
		answers[i].ID = uuid.NewString()
		answers[i].QuestionID = questionID
		answers[i].Ordinal = i
		answers[i].CreatedAt = now
	}
	if len(answers) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&answers).Error
}

// CreateBankQuestionVersion inserts the version row for a question. Status
// must follow the bank's convention: consumers only see "ready" versions.
func CreateBankQuestionVersion(ctx context.Context, db *gorm.DB, questionID string, version int, status string) (*domain.BankQuestionVersion, error) {
	v := &domain.BankQuestionVersion{
		ID:         uuid.NewString(),
		QuestionID: questionID,
		Version:    version,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, err
	}
	return v, nil
}

// GetDeploymentRecordByItem fetches the deployment record for an item, or
// ErrNotFound when the item has never been deployed (or the stale record was
// cleared).
func GetDeploymentRecordByItem(ctx context.Context, db *gorm.DB, itemID string) (*domain.DeploymentRecord, error) {
	var r domain.DeploymentRecord
	if err := db.WithContext(ctx).Where("item_id = ?", itemID).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateDeploymentRecord inserts the plugin-side link row. The unique index
// on item_id enforces at most one live record per item.
func CreateDeploymentRecord(ctx context.Context, db *gorm.DB, r *domain.DeploymentRecord) (*domain.DeploymentRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteDeploymentRecord removes the link row for an item (clearing a stale
// link after out-of-band deletion of the bank question).
func DeleteDeploymentRecord(ctx context.Context, db *gorm.DB, itemID string) error {
	return db.WithContext(ctx).Where("item_id = ?", itemID).Delete(&domain.DeploymentRecord{}).Error
}
