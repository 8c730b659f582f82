// Package services – content-addressed result cache.
//
// The cache maps a normalized input fingerprint (see content.Fingerprint)
// to a previously computed generation result. Three TTL classes exist:
// long-lived topic analysis, and medium-lived question and distractor
// generation. Entries past their TTL are treated as misses and evicted
// asynchronously; a periodic sweep deletes expired entries across all
// types. There is no size-based eviction.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/repo"
)

// Cache types, each with its own TTL class.
const (
	CacheTopicAnalysis = "topic_analysis"
	CacheQuestionGen   = "question_gen"
	CacheDistractorGen = "distractor_gen"
)

// CacheTTLs holds the TTL per cache type. Zero values fall back to the
// defaults in DefaultCacheTTLs.
type CacheTTLs struct {
	TopicAnalysis time.Duration
	QuestionGen   time.Duration
	DistractorGen time.Duration
}

// DefaultCacheTTLs returns the stock TTL classes: topic analysis results
// stay valid far longer than generated questions.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		TopicAnalysis: 7 * 24 * time.Hour,
		QuestionGen:   24 * time.Hour,
		DistractorGen: 24 * time.Hour,
	}
}

// ttlFor resolves the TTL of a cache type.
func (c CacheTTLs) ttlFor(cacheType string) time.Duration {
	var d time.Duration
	switch cacheType {
	case CacheTopicAnalysis:
		d = c.TopicAnalysis
	case CacheQuestionGen:
		d = c.QuestionGen
	case CacheDistractorGen:
		d = c.DistractorGen
	}
	if d <= 0 {
		def := DefaultCacheTTLs()
		switch cacheType {
		case CacheTopicAnalysis:
			d = def.TopicAnalysis
		case CacheQuestionGen:
			d = def.QuestionGen
		default:
			d = def.DistractorGen
		}
	}
	return d
}

// CacheService provides Get/Put over the persistent result cache.
type CacheService struct {
	DB   *gorm.DB
	TTLs CacheTTLs

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewCacheService constructs a CacheService with the given TTL classes.
func NewCacheService(db *gorm.DB, ttls CacheTTLs) *CacheService {
	return &CacheService{DB: db, TTLs: ttls, now: time.Now}
}

// Get returns the cached payload for (cacheType, fingerprint), or
// ("", false, nil) on a miss. An entry older than its type's TTL counts as
// a miss and is evicted asynchronously. Hits increment the hit counter and
// refresh last-access time (also asynchronously; observability must not
// slow the read path).
func (s *CacheService) Get(ctx context.Context, cacheType, fingerprint string) (string, bool, error) {
	e, err := repo.GetCacheEntry(ctx, s.DB, cacheType, fingerprint)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cacheLookups.WithLabelValues(cacheType, "miss").Inc()
			return "", false, nil
		}
		return "", false, &PersistenceError{Op: "cache get", Err: err}
	}

	ttl := s.TTLs.ttlFor(cacheType)
	if s.nowUTC().Sub(e.CreatedAt) > ttl {
		cacheLookups.WithLabelValues(cacheType, "expired").Inc()
		id := e.ID
		go func() {
			if derr := repo.DeleteCacheEntry(context.Background(), s.DB, id); derr != nil {
				log.Warn().Err(derr).Str("cache_type", cacheType).Msg("lazy cache eviction failed")
			}
		}()
		return "", false, nil
	}

	cacheLookups.WithLabelValues(cacheType, "hit").Inc()
	id := e.ID
	go func() {
		if terr := repo.TouchCacheEntry(context.Background(), s.DB, id); terr != nil {
			log.Warn().Err(terr).Str("cache_type", cacheType).Msg("cache touch failed")
		}
	}()
	return e.Payload, true, nil
}

// Put upserts the payload under (cacheType, fingerprint). An existing entry
// is replaced but keeps its hit counter.
func (s *CacheService) Put(ctx context.Context, cacheType, fingerprint, payload string) error {
	if err := repo.UpsertCacheEntry(ctx, s.DB, cacheType, fingerprint, payload); err != nil {
		return &PersistenceError{Op: "cache put", Err: err}
	}
	return nil
}

// Sweep deletes all entries past their type's TTL across every cache type
// and returns the number of rows removed. Intended to run periodically from
// the server entrypoint.
func (s *CacheService) Sweep(ctx context.Context) (int64, error) {
	now := s.nowUTC()
	var removed int64
	for _, t := range []string{CacheTopicAnalysis, CacheQuestionGen, CacheDistractorGen} {
		cutoff := now.Add(-s.TTLs.ttlFor(t))
		n, err := repo.DeleteCacheEntriesBefore(ctx, s.DB, t, cutoff)
		if err != nil {
			return removed, &PersistenceError{Op: "cache sweep", Err: err}
		}
		removed += n
	}
	if removed > 0 {
		log.Info().Int64("removed", removed).Msg("cache sweep")
	}
	return removed, nil
}

// RunSweeper blocks, sweeping every interval until ctx is done. Run it in
// its own goroutine.
func (s *CacheService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("cache sweep failed")
			}
		}
	}
}

// nowUTC returns the current time from the seam in UTC.
func (s *CacheService) nowUTC() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}
