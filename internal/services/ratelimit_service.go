// Package services – request admission rate limiter.
//
// This limiter gates the creation of generation requests using trailing
// fixed windows computed on demand from stored request creation timestamps
// (not a token bucket — the edge middleware already provides one of those
// for transport-level abuse). Rules are evaluated in order: actor-hourly,
// actor-daily, system-hourly; the first violated rule short-circuits with
// the specific reason and the seconds remaining until the window frees a
// slot.
//
// Exempt actors (administrators or an explicit allow-list) bypass all
// checks. Every violation is recorded in the audit log with the triggering
// rule, the observed count, and the limit for later abuse analysis.
//
// Failure semantics: limiter checks are advisory reads, but a storage read
// failure rejects the request (fail-closed) rather than silently admitting
// it. See DESIGN.md for the rationale.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/repo"
)

// Rate limit rule names, reported in RateLimitError and audit events.
const (
	RuleActorHourly  = "actor_hourly"
	RuleActorDaily   = "actor_daily"
	RuleSystemHourly = "system_hourly"
	RuleStoreFailure = "store_unavailable"
)

// RateLimitConfig holds the window thresholds and the exemption list.
// A threshold <= 0 disables that rule.
type RateLimitConfig struct {
	ActorHourly  int64
	ActorDaily   int64
	SystemHourly int64
	// ExemptActors bypass every rule.
	ExemptActors []string
}

// Admission is the result of a CheckAdmit call.
type Admission struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// RateLimitService admits or rejects new generation requests.
type RateLimitService struct {
	DB  *gorm.DB
	Cfg RateLimitConfig

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewRateLimitService constructs a RateLimitService.
func NewRateLimitService(db *gorm.DB, cfg RateLimitConfig) *RateLimitService {
	return &RateLimitService{DB: db, Cfg: cfg, now: time.Now}
}

// CheckAdmit evaluates the window rules for actorID in scopeID and returns
// the admission decision. When a rule is violated, the returned error is a
// *RateLimitError carrying the rule, the observed count, the limit, and a
// positive retry-after duration.
func (s *RateLimitService) CheckAdmit(ctx context.Context, actorID, scopeID string) (Admission, error) {
	if s.isExempt(actorID) {
		return Admission{Allowed: true}, nil
	}
	now := s.nowUTC()

	type rule struct {
		name   string
		limit  int64
		window time.Duration
		count  func(since time.Time) (int64, error)
		oldest func(since time.Time) (*time.Time, error)
	}
	rules := []rule{
		{
			name: RuleActorHourly, limit: s.Cfg.ActorHourly, window: time.Hour,
			count:  func(since time.Time) (int64, error) { return repo.CountRequestsByActorSince(ctx, s.DB, actorID, since) },
			oldest: func(since time.Time) (*time.Time, error) { return repo.OldestRequestByActorSince(ctx, s.DB, actorID, since) },
		},
		{
			name: RuleActorDaily, limit: s.Cfg.ActorDaily, window: 24 * time.Hour,
			count:  func(since time.Time) (int64, error) { return repo.CountRequestsByActorSince(ctx, s.DB, actorID, since) },
			oldest: func(since time.Time) (*time.Time, error) { return repo.OldestRequestByActorSince(ctx, s.DB, actorID, since) },
		},
		{
			name: RuleSystemHourly, limit: s.Cfg.SystemHourly, window: time.Hour,
			count:  func(since time.Time) (int64, error) { return repo.CountRequestsSince(ctx, s.DB, since) },
			oldest: func(since time.Time) (*time.Time, error) { return repo.OldestRequestSince(ctx, s.DB, since) },
		},
	}

	for _, r := range rules {
		if r.limit <= 0 {
			continue
		}
		since := now.Add(-r.window)
		count, err := r.count(since)
		if err != nil {
			// Fail closed: an unreadable store must not become an open gate.
			log.Error().Err(err).Str("rule", r.name).Msg("rate limit store read failed; rejecting")
			rlErr := &RateLimitError{Rule: RuleStoreFailure, RetryAfter: time.Minute}
			return Admission{Allowed: false, Reason: RuleStoreFailure, RetryAfter: rlErr.RetryAfter}, rlErr
		}
		if count < r.limit {
			continue
		}

		retryAfter := r.window
		if oldest, oerr := r.oldest(since); oerr == nil && oldest != nil {
			if d := oldest.Add(r.window).Sub(now); d > 0 {
				retryAfter = d
			} else {
				retryAfter = time.Second
			}
		}

		s.recordViolation(ctx, actorID, r.name, count, r.limit)
		rlErr := &RateLimitError{Rule: r.name, Count: count, Limit: r.limit, RetryAfter: retryAfter}
		return Admission{Allowed: false, Reason: r.name, RetryAfter: retryAfter}, rlErr
	}

	return Admission{Allowed: true}, nil
}

// isExempt reports whether actorID bypasses all rules.
func (s *RateLimitService) isExempt(actorID string) bool {
	for _, a := range s.Cfg.ExemptActors {
		if a == actorID {
			return true
		}
	}
	return false
}

// recordViolation appends the violation to the audit log (best effort).
func (s *RateLimitService) recordViolation(ctx context.Context, actorID, rule string, count, limit int64) {
	details := fmt.Sprintf("rule=%s count=%d limit=%d", rule, count, limit)
	if err := repo.AppendAudit(ctx, s.DB, actorID, "ratelimit.violation", "", details); err != nil {
		log.Warn().Err(err).Str("actor_id", actorID).Msg("rate limit audit append failed")
	}
	rateLimitRejections.WithLabelValues(rule).Inc()
}

// nowUTC returns the current time from the seam in UTC.
func (s *RateLimitService) nowUTC() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}
