// Package domain – question bank target schema.
//
// These models mirror the external question-bank storage the deployment
// engine materializes into: a category hierarchy, question records, ordered
// answer rows, and a version layer linking a deployable slot to a specific
// question version. The deployment engine honors the version layer's "ready"
// status convention: a question is only usable by consumers once its current
// version row carries VersionStatusReady.
package domain

import "time"

// Version statuses for BankQuestionVersion.
const (
	VersionStatusDraft = "draft"
	VersionStatusReady = "ready"
)

// BankCategory is a node in the per-scope category hierarchy. The top-level
// category for a scope has an empty ParentID; the per-scope default category
// and named target categories hang beneath it.
type BankCategory struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	ScopeID   string    `json:"scope_id"  gorm:"type:varchar(64);not null;index:idx_scope_categories,priority:1"`
	ParentID  string    `json:"parent_id" gorm:"type:char(36);index"`
	Name      string    `json:"name"      gorm:"type:varchar(255);not null;index:idx_scope_categories,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for BankCategory.
func (BankCategory) TableName() string { return "bank_categories" }

// BankQuestion is one materialized question in the bank. It is created only
// inside the single-item deployment transaction, together with its answers,
// version row, and the plugin-side DeploymentRecord.
type BankQuestion struct {
	ID              string    `json:"id"               gorm:"type:char(36);primaryKey"`
	CategoryID      string    `json:"category_id"      gorm:"type:char(36);not null;index"`
	QType           string    `json:"qtype"            gorm:"column:qtype;type:varchar(32);not null"`
	Name            string    `json:"name"             gorm:"type:varchar(255);not null"`
	Text            string    `json:"text"             gorm:"type:text;not null"`
	GeneralFeedback string    `json:"general_feedback" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName returns the database table name for BankQuestion.
func (BankQuestion) TableName() string { return "bank_questions" }

// BankAnswer is an ordered answer row belonging to one bank question.
type BankAnswer struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	QuestionID string    `json:"question_id" gorm:"type:char(36);not null;index:idx_question_answers,priority:1"`
	Ordinal    int       `json:"ordinal"     gorm:"not null;index:idx_question_answers,priority:2"`
	Text       string    `json:"text"        gorm:"type:text;not null"`
	Fraction   float64   `json:"fraction"    gorm:"not null"`
	Feedback   string    `json:"feedback"    gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`

	Question BankQuestion `json:"-" gorm:"foreignKey:QuestionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for BankAnswer.
func (BankAnswer) TableName() string { return "bank_answers" }

// BankQuestionVersion links a deployable slot to a specific question version.
type BankQuestionVersion struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	QuestionID string    `json:"question_id" gorm:"type:char(36);not null;index"`
	Version    int       `json:"version"     gorm:"not null;default:1"`
	Status     string    `json:"status"      gorm:"type:varchar(16);not null;default:'ready'"`
	CreatedAt  time.Time `json:"created_at"`

	Question BankQuestion `json:"-" gorm:"foreignKey:QuestionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for BankQuestionVersion.
func (BankQuestionVersion) TableName() string { return "bank_question_versions" }
