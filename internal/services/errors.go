// Package services defines the business logic for generation requests,
// batched question generation, caching, rate limiting, and deployment.
// This file centralizes the service-level error taxonomy so that callers
// can branch on error kind consistently.
//
// Taxonomy:
//   - ErrValidation:          bad config/input; never retried.
//   - RateLimitError:         caller must wait RetryAfter; wraps ErrRateLimited.
//   - genai.TransportError /
//     genai.BadResponseError: transient service failures; retried up to a bound.
//   - genai.RejectionError:   explicit rejection by the generation service; not retried.
//   - PersistenceError:       storage write failure; triggers rollback where applicable.
//   - InvalidTransitionError: illegal state machine edge; wraps ErrInvalidTransition.
//   - ErrDeployVerification:  post-write consistency check failed; triggers rollback.
//
// Translation into user-facing messages or HTTP status codes is performed
// at the handler layer.
package services

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrValidation is returned for bad configuration or input. Callers
	// must not retry without changing the request.
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited is wrapped by RateLimitError when a window limit is hit.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidTransition is wrapped by InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRequestNotFound indicates the request does not exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrItemNotFound indicates the generated item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrTopicsMissing indicates generation was started before analysis
	// produced any topics.
	ErrTopicsMissing = errors.New("request has no topics")

	// ErrNotApproved indicates a deployment was requested for an item that
	// has not been approved by review.
	ErrNotApproved = errors.New("item is not approved")

	// ErrDeployVerification indicates the post-write re-read inside a
	// deployment transaction did not see the just-written link.
	ErrDeployVerification = errors.New("deployment verification failed")
)

// RateLimitError reports which rule rejected a request and when capacity
// returns.
type RateLimitError struct {
	// Rule is the violated rule: "actor_hourly", "actor_daily", or
	// "system_hourly" — or "store_unavailable" when the limiter failed
	// closed on a storage read error.
	Rule string
	// Count and Limit are the observed window count and the threshold.
	Count int64
	Limit int64
	// RetryAfter is the remaining time until the window frees a slot.
	RetryAfter time.Duration
}

// Error implements error.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: rule=%s count=%d limit=%d retry_after=%s",
		e.Rule, e.Count, e.Limit, e.RetryAfter)
}

// Unwrap makes errors.Is(err, ErrRateLimited) succeed.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// InvalidTransitionError reports an illegal state machine edge.
type InvalidTransitionError struct {
	From string
	To   string
}

// Error implements error.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// Unwrap makes errors.Is(err, ErrInvalidTransition) succeed.
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// PersistenceError wraps a storage failure so callers can distinguish it
// from service and validation failures.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying storage error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// DeploymentReport aggregates per-item outcomes of a deployment run.
// Partial success is not an error; zero successes is reported as an
// *AggregateDeployError by the deployment engine.
type DeploymentReport struct {
	// Deployed maps item IDs to the bank question IDs they materialized as.
	Deployed map[string]string
	// Failed maps item IDs to their failure reasons.
	Failed map[string]string
}

// AggregateDeployError is raised only when no item deployed successfully.
type AggregateDeployError struct {
	Failures map[string]string
}

// Error implements error.
func (e *AggregateDeployError) Error() string {
	return fmt.Sprintf("deployment failed for all %d items", len(e.Failures))
}
