// Package services – Prometheus instrumentation for the generation core.
//
// Domain counters live here, next to the code that increments them, and
// complement the HTTP-level metrics emitted by the middleware package.
// Label cardinality is kept bounded: cache types, rule names, and outcome
// strings all come from small fixed sets.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// rateLimitRejections counts admission rejections by rule.
	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizgen_ratelimit_rejections_total",
			Help: "Total generation requests rejected by the window rate limiter.",
		},
		[]string{"rule"},
	)

	// cacheLookups counts result cache lookups by type and outcome
	// (hit, miss, expired).
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizgen_cache_lookups_total",
			Help: "Total result cache lookups by cache type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// generationBatches counts processed generation batches by outcome
	// (ok, failed).
	generationBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizgen_generation_batches_total",
			Help: "Total generation batches by outcome.",
		},
		[]string{"outcome"},
	)

	// generatedItems counts persisted candidate questions by type.
	generatedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizgen_generated_items_total",
			Help: "Total candidate questions persisted, by question type.",
		},
		[]string{"type"},
	)

	// deployments counts per-item deployment outcomes
	// (created, linked, noop, failed).
	deployments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizgen_deployments_total",
			Help: "Total per-item deployment outcomes.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		rateLimitRejections,
		cacheLookups,
		generationBatches,
		generatedItems,
		deployments,
	)
}
