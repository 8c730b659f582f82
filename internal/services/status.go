// Package services – request state machine.
//
// This file owns the lifecycle of a generation request. SetStatus is the
// only place a request's status may change; every other component asks the
// state machine rather than writing the column itself. Each transition is
// recorded in the append-only audit log.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/domain"
	"github.com/lmsforge/quizgen-backend/internal/repo"
)

// transitions is the permitted-edge table. completed and failed are
// terminal for a run but may be re-opened to pending explicitly: this is a
// deliberate design choice so regeneration and retry workflows reuse the
// same Request row.
var transitions = map[string][]string{
	domain.StatusPending:     {domain.StatusAnalyzing, domain.StatusProcessing, domain.StatusFailed},
	domain.StatusAnalyzing:   {domain.StatusTopicsReady, domain.StatusFailed},
	domain.StatusTopicsReady: {domain.StatusProcessing, domain.StatusPending, domain.StatusFailed},
	domain.StatusProcessing:  {domain.StatusCompleted, domain.StatusFailed},
	domain.StatusCompleted:   {domain.StatusPending},
	domain.StatusFailed:      {domain.StatusPending},
}

// CanTransition reports whether from -> to is a permitted edge.
// Same-state transitions are always allowed as no-ops.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// SetStatus validates and applies a status transition for the request.
//
// Semantics:
//   - Same-state transitions succeed without touching the row.
//   - Illegal edges fail with *InvalidTransitionError, leaving the row
//     unchanged.
//   - Entering failed or completed stamps CompletedAt; entering failed also
//     records errorMessage (it is cleared on any other transition).
//   - Every applied transition appends an audit event carrying the old and
//     new status, the acting user, and the error message if any.
func SetStatus(ctx context.Context, db *gorm.DB, req *domain.Request, actorID, newStatus, errorMessage string) error {
	old := req.Status
	if old == newStatus {
		return nil
	}
	if !CanTransition(old, newStatus) {
		return &InvalidTransitionError{From: old, To: newStatus}
	}

	var completedAt *time.Time
	msg := ""
	switch newStatus {
	case domain.StatusFailed:
		now := time.Now().UTC()
		completedAt = &now
		msg = errorMessage
	case domain.StatusCompleted:
		now := time.Now().UTC()
		completedAt = &now
	}

	if err := repo.UpdateRequestStatus(ctx, db, req.ID, newStatus, msg, completedAt); err != nil {
		return &PersistenceError{Op: "update request status", Err: err}
	}
	req.Status = newStatus
	req.ErrorMessage = msg
	if completedAt != nil {
		req.CompletedAt = completedAt
	}

	details := fmt.Sprintf("%s -> %s", old, newStatus)
	if msg != "" {
		details += ": " + msg
	}
	if err := repo.AppendAudit(ctx, db, actorID, "request.status", req.ID, details); err != nil {
		// The transition itself is committed; a lost audit row is logged,
		// not surfaced.
		log.Warn().Err(err).Str("request_id", req.ID).Msg("audit append failed")
	}

	log.Info().
		Str("request_id", req.ID).
		Str("actor_id", actorID).
		Str("old_status", old).
		Str("new_status", newStatus).
		Str("error", msg).
		Msg("request status transition")
	return nil
}
