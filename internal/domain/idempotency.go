// Package domain – idempotency records.
//
// Deployment POSTs are unsafe to repeat blindly: a network retry must not
// deploy the same items twice. Clients send an Idempotency-Key header; the
// first successful response is stored here and replayed verbatim for the
// lifetime of the record.
package domain

import "time"

// IdempotencyKey stores one completed unsafe request keyed by the acting
// user, the route template, and the client-chosen key. ExpiresAt bounds how
// long a replay is served.
type IdempotencyKey struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	ActorID      string    `json:"actor_id"      gorm:"type:varchar(64);not null;uniqueIndex:ux_idem,priority:1"`
	Route        string    `json:"route"         gorm:"type:varchar(128);not null;uniqueIndex:ux_idem,priority:2"`
	Key          string    `json:"key"           gorm:"type:varchar(200);not null;uniqueIndex:ux_idem,priority:3"`
	StatusCode   int       `json:"status_code"   gorm:"not null"`
	ResponseBody string    `json:"response_body" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"    gorm:"index"`
}

// TableName returns the database table name for IdempotencyKey.
func (IdempotencyKey) TableName() string { return "idempotency_keys" }
