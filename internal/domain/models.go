// Package domain defines the persistence models for generation requests,
// topics, generated items, caching, deployment tracking, and auditing.
// These types are mapped with GORM and form the core data layer of the
// question generation backend.
package domain

import (
	"time"
)

// Request lifecycle statuses. Transitions between them are validated by
// services.SetStatus; no other component writes Request.Status.
const (
	StatusPending     = "pending"
	StatusAnalyzing   = "analyzing"
	StatusTopicsReady = "topics_ready"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Review statuses for a GeneratedItem.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
	ReviewDeployed = "deployed"
)

// Request represents one end-to-end generation job scoped to an actor and a
// course-like scope. Rows are never physically deleted; they are retained
// for audit and feed the sliding-window rate limiter.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ActorID: identifier of the requesting user; indexed for rate windows.
//   - ScopeID: the course-like container the request belongs to.
//   - Status: lifecycle status (see Status* constants).
//   - QuestionCount / GeneratedCount: target and running totals.
//   - Difficulty: optional overall difficulty ("" means per-distribution).
//   - QuestionTypes: comma-separated requested types, in request order.
//   - Instructions: free-text steering passed to the generation service.
//   - PromptTokens / CompletionTokens: accumulated usage counters.
//   - ErrorMessage: last failure reason; authoritative for UI reporting.
//   - CompletedAt: stamped when entering completed or failed.
type Request struct {
	ID               string     `json:"id"                gorm:"type:char(36);primaryKey"`
	ActorID          string     `json:"actor_id"          gorm:"type:varchar(64);not null;index:idx_actor_requests,priority:1"`
	ScopeID          string     `json:"scope_id"          gorm:"type:varchar(64);not null;index"`
	Status           string     `json:"status"            gorm:"type:varchar(16);not null;default:'pending';index"`
	QuestionCount    int        `json:"question_count"    gorm:"not null"`
	GeneratedCount   int        `json:"generated_count"   gorm:"not null;default:0"`
	Difficulty       string     `json:"difficulty"        gorm:"type:varchar(16)"`
	QuestionTypes    string     `json:"question_types"    gorm:"type:varchar(255);not null"`
	Instructions     string     `json:"instructions"      gorm:"type:text"`
	PromptTokens     int64      `json:"prompt_tokens"     gorm:"not null;default:0"`
	CompletionTokens int64      `json:"completion_tokens" gorm:"not null;default:0"`
	ErrorMessage     string     `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt        time.Time  `json:"created_at"        gorm:"index:idx_actor_requests,priority:2;index"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the database table name for Request.
func (Request) TableName() string { return "requests" }

// Topic is a content-derived unit of work belonging to a Request. Topics are
// produced by the analysis phase and consumed by the batch generation engine.
type Topic struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	RequestID      string    `json:"request_id"      gorm:"type:char(36);not null;index:idx_request_topics,priority:1"`
	Ordinal        int       `json:"ordinal"         gorm:"not null;index:idx_request_topics,priority:2"`
	Title          string    `json:"title"           gorm:"type:varchar(255);not null"`
	Summary        string    `json:"summary"         gorm:"type:text"`
	SourceRef      string    `json:"source_ref"      gorm:"type:varchar(255)"`
	QuestionTarget int       `json:"question_target" gorm:"not null"`
	GeneratedCount int       `json:"generated_count" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Request is the owning generation job. Topics are cascade-deleted if
	// their request is ever removed by an operator.
	Request Request `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Topic.
func (Topic) TableName() string { return "topics" }

// GeneratedItem is one candidate assessment question awaiting review and
// deployment. Regeneration deletes and replaces the row while copying the
// original CreatedAt so the item keeps its ordinal position in listings.
//
// BankQuestionID links the item to its materialized form in the question
// bank once deployed; it is cleared when the external question disappears
// out-of-band.
type GeneratedItem struct {
	ID              string    `json:"id"               gorm:"type:char(36);primaryKey"`
	RequestID       string    `json:"request_id"       gorm:"type:char(36);not null;index:idx_request_items,priority:1"`
	TopicID         string    `json:"topic_id"         gorm:"type:char(36);not null;index"`
	Type            string    `json:"type"             gorm:"type:varchar(32);not null"`
	Name            string    `json:"name"             gorm:"type:varchar(255);not null"`
	Text            string    `json:"text"             gorm:"type:text;not null"`
	Difficulty      string    `json:"difficulty"       gorm:"type:varchar(16)"`
	TaxonomyLevel   string    `json:"taxonomy_level"   gorm:"type:varchar(16)"`
	GeneralFeedback string    `json:"general_feedback" gorm:"type:text"`
	QualityScore    *float64  `json:"quality_score,omitempty"`
	ReviewStatus    string    `json:"review_status"    gorm:"type:varchar(16);not null;default:'pending';index"`
	RegenCount      int       `json:"regen_count"      gorm:"not null;default:0"`
	BankQuestionID  *string   `json:"bank_question_id,omitempty" gorm:"type:char(36)"`
	CreatedAt       time.Time `json:"created_at"       gorm:"index:idx_request_items,priority:2"`
	UpdatedAt       time.Time `json:"updated_at"`

	Request Request `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for GeneratedItem.
func (GeneratedItem) TableName() string { return "generated_items" }

// ItemOption is an ordered answer/option belonging to exactly one
// GeneratedItem. Fraction carries the correctness weight (1.0 for a fully
// correct option, 0 or negative for distractors).
type ItemOption struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	ItemID    string    `json:"item_id"  gorm:"type:char(36);not null;index:idx_item_options,priority:1"`
	Ordinal   int       `json:"ordinal"  gorm:"not null;index:idx_item_options,priority:2"`
	Text      string    `json:"text"     gorm:"type:text;not null"`
	Fraction  float64   `json:"fraction" gorm:"not null"`
	Feedback  string    `json:"feedback" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`

	// Item is the parent question. Options are cascade-deleted alongside it.
	Item GeneratedItem `json:"-" gorm:"foreignKey:ItemID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ItemOption.
func (ItemOption) TableName() string { return "item_options" }

// CacheEntry stores one previously computed generation result, keyed by
// (cache_type, fingerprint). Entries past their type's TTL are treated as
// absent and purged lazily. Hit counters support hit-rate observability.
type CacheEntry struct {
	ID           string    `json:"id"             gorm:"type:char(36);primaryKey"`
	CacheType    string    `json:"cache_type"     gorm:"type:varchar(32);not null;uniqueIndex:ux_cache_type_fp,priority:1"`
	Fingerprint  string    `json:"fingerprint"    gorm:"type:char(64);not null;uniqueIndex:ux_cache_type_fp,priority:2"`
	Payload      string    `json:"payload"        gorm:"type:text;not null"`
	HitCount     int64     `json:"hit_count"      gorm:"not null;default:0"`
	LastAccessAt time.Time `json:"last_access_at"`
	CreatedAt    time.Time `json:"created_at"     gorm:"index"`
}

// TableName returns the database table name for CacheEntry.
func (CacheEntry) TableName() string { return "cache_entries" }

// DeploymentRecord is the durable link between a GeneratedItem and its
// materialized question in the bank schema. At most one live record exists
// per item (unique index); the deployment transaction guarantees the bank
// question and this record are created or rolled back together.
type DeploymentRecord struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	ItemID         string    `json:"item_id"          gorm:"type:char(36);not null;uniqueIndex:ux_deploy_item"`
	CategoryID     string    `json:"category_id"      gorm:"type:char(36);not null;index"`
	BankQuestionID string    `json:"bank_question_id" gorm:"type:char(36);not null;index"`
	Version        int       `json:"version"          gorm:"not null;default:1"`
	Status         string    `json:"status"           gorm:"type:varchar(16);not null;default:'ready'"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for DeploymentRecord.
func (DeploymentRecord) TableName() string { return "deployment_records" }

// AuditEvent is one row in the append-only audit log. Status transitions,
// rate-limit violations, and deployments all record events here.
type AuditEvent struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ActorID   string    `json:"actor_id"   gorm:"type:varchar(64);not null;index"`
	Action    string    `json:"action"     gorm:"type:varchar(64);not null;index"`
	SubjectID string    `json:"subject_id" gorm:"type:char(36);index"`
	Details   string    `json:"details"    gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for AuditEvent.
func (AuditEvent) TableName() string { return "audit_events" }
