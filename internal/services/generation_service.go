// Package services – batch generation engine.
//
// The engine turns a request's topics into persisted candidate questions by
// calling the external generation service in bounded batches. It is
// partial-tolerant: individual batches may fail after exhausting retries
// without failing the run; only a run with zero successful batches is
// reported as a total failure.
//
// Key behaviors:
//   - Configuration is validated against the type/difficulty allow-lists
//     before any work starts.
//   - Source content is fetched once per request through a content.Store
//     and reused across every topic.
//   - The requested count is split into batches of at most maxBatchSize;
//     slot types rotate round-robin over the requested type list using one
//     global index across all topics, so the distribution stays even for
//     the whole request rather than per topic.
//   - Between batches the engine re-reads the request status: a request
//     externally marked failed stops processing at the next checkpoint.
//   - Accumulated usage counters are added to the request's running totals
//     once, atomically, after all batches.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmsforge/quizgen-backend/internal/content"
	"github.com/lmsforge/quizgen-backend/internal/domain"
	"github.com/lmsforge/quizgen-backend/internal/genai"
	"github.com/lmsforge/quizgen-backend/internal/repo"
	"github.com/lmsforge/quizgen-backend/internal/retry"
)

const (
	// maxBatchSize bounds how many questions one service call may produce.
	maxBatchSize = 10
	// batchRetries is the number of additional attempts per failed batch.
	batchRetries = 2
	// batchBackoff is the fixed pause between batch retry attempts.
	batchBackoff = 2 * time.Second
)

// Allow-lists for request configuration.
var (
	AllowedTypes        = []string{"multichoice", "truefalse", "shortanswer", "essay"}
	AllowedDifficulties = []string{"easy", "medium", "hard"}
	AllowedTaxonomy     = []string{"remember", "understand", "apply", "analyze", "evaluate", "create"}
)

// Default selections when a distribution is malformed or absent.
const (
	defaultDifficulty = "medium"
	defaultTaxonomy   = "understand"
)

// WeightedBucket is one entry of a percentage distribution. Buckets are
// walked in order; percentages are expected to sum to 100 but a malformed
// distribution falls back to the default value instead of failing.
type WeightedBucket struct {
	Value   string
	Percent int
}

// GenerationConfig steers one generation run.
type GenerationConfig struct {
	// Types is the requested question type list, in rotation order.
	Types []string
	// Difficulty, when set, fixes the difficulty for every slot; otherwise
	// DifficultyDist is sampled per slot.
	Difficulty     string
	DifficultyDist []WeightedBucket
	TaxonomyDist   []WeightedBucket
	// Instructions is free-text steering forwarded to the service.
	Instructions string
	// Quality is the service quality hint (fast|balanced|best).
	Quality string
}

// Validate checks the config against the allow-lists.
func (c *GenerationConfig) Validate() error {
	if len(c.Types) == 0 {
		return fmt.Errorf("%w: no question types requested", ErrValidation)
	}
	for _, t := range c.Types {
		if !contains(AllowedTypes, t) {
			return fmt.Errorf("%w: unknown question type %q", ErrValidation, t)
		}
	}
	if c.Difficulty != "" && !contains(AllowedDifficulties, c.Difficulty) {
		return fmt.Errorf("%w: unknown difficulty %q", ErrValidation, c.Difficulty)
	}
	return nil
}

// GenerationSummary reports the outcome of one run.
type GenerationSummary struct {
	Generated     int
	BatchesOK     int
	BatchesFailed int
	Usage         genai.Usage
	// Cancelled is true when processing stopped at a checkpoint because
	// the request was externally marked failed.
	Cancelled bool
}

// GenerationEngine coordinates batched calls to the generation service.
type GenerationEngine struct {
	DB       *gorm.DB
	Client   genai.Client
	Cache    *CacheService
	Provider content.Provider

	// draw is a test seam returning a uniform value in [1,100]; defaults
	// to math/rand.
	draw func() int
}

// NewGenerationEngine constructs a GenerationEngine.
func NewGenerationEngine(db *gorm.DB, client genai.Client, cache *CacheService, provider content.Provider) *GenerationEngine {
	return &GenerationEngine{
		DB:       db,
		Client:   client,
		Cache:    cache,
		Provider: provider,
		draw:     func() int { return rand.IntN(100) + 1 },
	}
}

// runState carries the per-run mutable state shared across topics: the
// global slot index driving type rotation and the accumulated usage.
type runState struct {
	store     *content.Store
	slotIndex int
	usage     genai.Usage
	batchesOK int
	batchesKO int
	generated int
	cancelled bool
}

// GenerateForRequest runs batch generation over every topic of the request.
// The request must already hold topics (status topics_ready or pending for
// a re-run). The run fails only when every batch failed; partial success is
// reported in the summary and completes the request.
func (e *GenerationEngine) GenerateForRequest(ctx context.Context, req *domain.Request, cfg GenerationConfig) (GenerationSummary, error) {
	tr := otel.Tracer("services/GenerationEngine")
	ctx, span := tr.Start(ctx, "GenerateForRequest",
		trace.WithAttributes(
			attribute.String("request.id", req.ID),
			attribute.String("scope.id", req.ScopeID),
		),
	)
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return GenerationSummary{}, err
	}
	topics, err := repo.ListTopics(ctx, e.DB, req.ID)
	if err != nil {
		return GenerationSummary{}, &PersistenceError{Op: "list topics", Err: err}
	}
	if len(topics) == 0 {
		return GenerationSummary{}, ErrTopicsMissing
	}

	if err := SetStatus(ctx, e.DB, req, req.ActorID, domain.StatusProcessing, ""); err != nil {
		return GenerationSummary{}, err
	}

	state := &runState{store: content.NewStore(e.Provider)}
	for i := range topics {
		if state.cancelled {
			break
		}
		if _, terr := e.GenerateForTopic(ctx, req, &topics[i], cfg, state); terr != nil {
			// Per-topic validation/storage failures end the run; per-batch
			// service failures were already absorbed into the state.
			e.flushUsage(ctx, req, state)
			_ = SetStatus(ctx, e.DB, req, req.ActorID, domain.StatusFailed, terr.Error())
			return e.summary(state), terr
		}
	}

	e.flushUsage(ctx, req, state)

	if state.cancelled {
		return e.summary(state), nil
	}
	if state.batchesOK == 0 && state.batchesKO > 0 {
		msg := fmt.Sprintf("generation failed: all %d batches failed", state.batchesKO)
		_ = SetStatus(ctx, e.DB, req, req.ActorID, domain.StatusFailed, msg)
		return e.summary(state), fmt.Errorf("%s", msg)
	}
	if err := SetStatus(ctx, e.DB, req, req.ActorID, domain.StatusCompleted, ""); err != nil {
		return e.summary(state), err
	}
	return e.summary(state), nil
}

// GenerateForTopic produces the outstanding questions for one topic. Batch
// failures are absorbed into state after retries; the returned error is
// reserved for validation and persistence failures that end the whole run.
func (e *GenerationEngine) GenerateForTopic(ctx context.Context, req *domain.Request, topic *domain.Topic, cfg GenerationConfig, state *runState) ([]domain.GeneratedItem, error) {
	if state == nil {
		state = &runState{store: content.NewStore(e.Provider)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	remaining := topic.QuestionTarget - topic.GeneratedCount
	if remaining <= 0 {
		return nil, nil
	}

	material, err := state.store.Content(ctx, req.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("fetch source content: %w", err)
	}
	topicContent := topicMaterial(material, topic)

	var out []domain.GeneratedItem
	for remaining > 0 {
		// Checkpoint: stop when the request was externally failed.
		cur, gerr := repo.GetRequest(ctx, e.DB, req.ID)
		if gerr != nil {
			return out, &PersistenceError{Op: "reload request", Err: gerr}
		}
		if cur.Status == domain.StatusFailed {
			log.Warn().Str("request_id", req.ID).Msg("request failed externally; stopping generation")
			state.cancelled = true
			return out, nil
		}

		size := remaining
		if size > maxBatchSize {
			size = maxBatchSize
		}
		slots := e.buildSlots(size, cfg, state)

		items, berr := e.runBatch(ctx, req, topic, topicContent, slots, cfg, state)
		if berr != nil {
			state.batchesKO++
			generationBatches.WithLabelValues("failed").Inc()
			log.Error().Err(berr).
				Str("request_id", req.ID).
				Str("topic_id", topic.ID).
				Int("batch_size", size).
				Msg("batch failed after retries; continuing")
		} else {
			state.batchesOK++
			generationBatches.WithLabelValues("ok").Inc()
			state.generated += len(items)
			topic.GeneratedCount += len(items)
			out = append(out, items...)
		}
		remaining -= size
	}
	return out, nil
}

// buildSlots assigns a type to each slot round-robin from the requested
// list using the global run index, and samples difficulty/taxonomy.
func (e *GenerationEngine) buildSlots(size int, cfg GenerationConfig, state *runState) []genai.BatchSlot {
	slots := make([]genai.BatchSlot, size)
	for i := 0; i < size; i++ {
		qtype := cfg.Types[state.slotIndex%len(cfg.Types)]
		state.slotIndex++

		difficulty := cfg.Difficulty
		if difficulty == "" {
			difficulty = e.pickWeighted(cfg.DifficultyDist, defaultDifficulty)
		}
		slots[i] = genai.BatchSlot{
			Type:          qtype,
			Difficulty:    difficulty,
			TaxonomyLevel: e.pickWeighted(cfg.TaxonomyDist, defaultTaxonomy),
		}
	}
	return slots
}

// runBatch executes one batch end to end: dedup context, cache lookup,
// service call with retries, and transactional persistence.
func (e *GenerationEngine) runBatch(ctx context.Context, req *domain.Request, topic *domain.Topic, topicContent string, slots []genai.BatchSlot, cfg GenerationConfig, state *runState) ([]domain.GeneratedItem, error) {
	priorTexts, err := repo.ListItemTexts(ctx, e.DB, req.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "list prior item texts", Err: err}
	}

	payload := genai.GenerateQuestionsPayload{
		TopicTitle:   topic.Title,
		TopicContent: topicContent,
		Slots:        slots,
		PriorTexts:   priorTexts,
		Instructions: cfg.Instructions,
	}

	result, usage, fromCache, fp, err := e.fetchBatch(ctx, payload, cfg.Quality)
	if err != nil {
		return nil, err
	}
	state.usage.Add(usage)

	if !fromCache {
		for i := range result.Questions {
			e.supplementDistractors(ctx, &result.Questions[i], cfg.Quality, state)
		}
	}

	items, perr := e.persistBatch(ctx, req, topic, slots, result)
	if perr != nil {
		return nil, perr
	}

	if !fromCache && fp != "" {
		if raw, merr := json.Marshal(result); merr == nil {
			if cerr := e.Cache.Put(ctx, CacheQuestionGen, fp, string(raw)); cerr != nil {
				log.Warn().Err(cerr).Msg("question cache put failed")
			}
		}
	}
	return items, nil
}

// fetchBatch consults the result cache and falls back to the service with
// the shared retry policy. The fingerprint covers the topic content, the
// slot parameters, and the instructions. Batches carrying dedup context are
// only cache-served when the prior-text list is empty, since prior items
// change what the service must avoid.
func (e *GenerationEngine) fetchBatch(ctx context.Context, payload genai.GenerateQuestionsPayload, quality string) (*genai.GenerateQuestionsResult, genai.Usage, bool, string, error) {
	fp := ""
	if len(payload.PriorTexts) == 0 {
		parts := []string{payload.TopicTitle, payload.TopicContent, payload.Instructions}
		for _, s := range payload.Slots {
			parts = append(parts, s.Type, s.Difficulty, s.TaxonomyLevel)
		}
		fp = content.Fingerprint(parts...)

		if cached, ok, cerr := e.Cache.Get(ctx, CacheQuestionGen, fp); cerr == nil && ok {
			var result genai.GenerateQuestionsResult
			if jerr := json.Unmarshal([]byte(cached), &result); jerr == nil && result.Validate() == nil {
				return &result, genai.Usage{}, true, fp, nil
			}
		}
	}

	var (
		result *genai.GenerateQuestionsResult
		usage  genai.Usage
	)
	policy := retry.Policy{
		MaxAttempts: 1 + batchRetries,
		Backoff:     retry.FixedBackoff(batchBackoff),
		Retryable:   IsTransient,
	}
	err := policy.Do(ctx, func() error {
		res, u, cerr := e.Client.GenerateQuestions(ctx, quality, payload)
		usage.Add(u)
		if cerr != nil {
			return cerr
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, usage, false, fp, err
	}
	return result, usage, false, fp, nil
}

// persistBatch writes the batch's items and options in one transaction and
// bumps the topic counter. Slot metadata fills fields the service omitted.
func (e *GenerationEngine) persistBatch(ctx context.Context, req *domain.Request, topic *domain.Topic, slots []genai.BatchSlot, result *genai.GenerateQuestionsResult) ([]domain.GeneratedItem, error) {
	var items []domain.GeneratedItem
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, q := range result.Questions {
			item := &domain.GeneratedItem{
				RequestID:       req.ID,
				TopicID:         topic.ID,
				Type:            q.Type,
				Name:            itemName(q),
				Text:            q.Text,
				Difficulty:      q.Difficulty,
				TaxonomyLevel:   q.TaxonomyLevel,
				GeneralFeedback: q.GeneralFeedback,
				QualityScore:    q.QualityScore,
			}
			if i < len(slots) {
				if item.Difficulty == "" {
					item.Difficulty = slots[i].Difficulty
				}
				if item.TaxonomyLevel == "" {
					item.TaxonomyLevel = slots[i].TaxonomyLevel
				}
			}
			options := make([]domain.ItemOption, 0, len(q.Options))
			for _, o := range q.Options {
				options = append(options, domain.ItemOption{
					Text:     o.Text,
					Fraction: o.Fraction,
					Feedback: o.Feedback,
				})
			}
			created, cerr := repo.CreateItem(ctx, tx, item, options)
			if cerr != nil {
				return cerr
			}
			generatedItems.WithLabelValues(created.Type).Inc()
			items = append(items, *created)
		}
		return repo.AddTopicGenerated(ctx, tx, topic.ID, len(result.Questions))
	})
	if err != nil {
		return nil, &PersistenceError{Op: "persist batch", Err: err}
	}
	return items, nil
}

// minMultichoiceOptions is the floor below which a multiple-choice question
// gets additional generated distractors.
const minMultichoiceOptions = 4

// supplementDistractors tops up a multiple-choice question that came back
// with too few options. Best effort: a failed supplement leaves the
// question as delivered. Results are served from and written to the
// distractor cache.
func (e *GenerationEngine) supplementDistractors(ctx context.Context, q *genai.QuestionResult, quality string, state *runState) {
	if q.Type != "multichoice" || len(q.Options) >= minMultichoiceOptions {
		return
	}
	correct := ""
	existing := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		if o.Fraction > 0 && correct == "" {
			correct = o.Text
		}
		existing = append(existing, o.Text)
	}
	if correct == "" {
		return
	}
	need := minMultichoiceOptions - len(q.Options)

	fp := content.Fingerprint(append([]string{q.Text, correct, fmt.Sprintf("%d", need)}, existing...)...)
	if cached, ok, cerr := e.Cache.Get(ctx, CacheDistractorGen, fp); cerr == nil && ok {
		var result genai.GenerateDistractorsResult
		if jerr := json.Unmarshal([]byte(cached), &result); jerr == nil && result.Validate() == nil {
			q.Options = append(q.Options, result.Distractors...)
			return
		}
	}

	result, usage, err := e.Client.GenerateDistractors(ctx, quality, genai.GenerateDistractorsPayload{
		QuestionText: q.Text,
		CorrectText:  correct,
		Existing:     existing,
		Count:        need,
	})
	state.usage.Add(usage)
	if err != nil {
		log.Warn().Err(err).Msg("distractor supplement failed; keeping delivered options")
		return
	}
	for _, d := range result.Distractors {
		// Distractors never carry credit.
		d.Fraction = 0
		q.Options = append(q.Options, d)
	}
	if raw, merr := json.Marshal(result); merr == nil {
		if cerr := e.Cache.Put(ctx, CacheDistractorGen, fp, string(raw)); cerr != nil {
			log.Warn().Err(cerr).Msg("distractor cache put failed")
		}
	}
}

// flushUsage adds the run's accumulated counters to the request once.
func (e *GenerationEngine) flushUsage(ctx context.Context, req *domain.Request, state *runState) {
	if state.usage == (genai.Usage{}) && state.generated == 0 {
		return
	}
	if err := repo.AddRequestUsage(ctx, e.DB, req.ID, state.usage.PromptTokens, state.usage.CompletionTokens, state.generated); err != nil {
		log.Error().Err(err).Str("request_id", req.ID).Msg("usage flush failed")
	}
}

// pickWeighted draws a uniform value in [1,100] and walks the buckets
// cumulatively, selecting the first whose cumulative sum reaches the draw.
// A distribution not covering the draw (e.g. not summing to 100) falls
// back to the default value.
func (e *GenerationEngine) pickWeighted(dist []WeightedBucket, fallback string) string {
	if len(dist) == 0 {
		return fallback
	}
	draw := e.draw()
	cum := 0
	for _, b := range dist {
		cum += b.Percent
		if cum >= draw {
			return b.Value
		}
	}
	return fallback
}

// summary materializes the run state into a GenerationSummary.
func (e *GenerationEngine) summary(state *runState) GenerationSummary {
	return GenerationSummary{
		Generated:     state.generated,
		BatchesOK:     state.batchesOK,
		BatchesFailed: state.batchesKO,
		Usage:         state.usage,
		Cancelled:     state.cancelled,
	}
}

// IsTransient reports whether an error is worth retrying: transport
// failures and malformed/non-2xx responses are; explicit rejections and
// everything else are not.
func IsTransient(err error) bool {
	var te *genai.TransportError
	var be *genai.BadResponseError
	return errors.As(err, &te) || errors.As(err, &be)
}

// topicMaterial selects the paragraphs of the source material relevant to
// the topic. With no match the full material is forwarded; the service
// handles focus itself, this is a payload size optimization.
func topicMaterial(material string, topic *domain.Topic) string {
	paras := content.Paragraphs(material)
	if len(paras) == 0 {
		return material
	}
	needle := content.Normalize(topic.Title)
	var picked []string
	for _, p := range paras {
		if strings.Contains(content.Normalize(p), needle) {
			picked = append(picked, p)
		}
	}
	if len(picked) == 0 {
		return material
	}
	return strings.Join(picked, "\n\n")
}

// itemName derives a short display name for a question.
func itemName(q genai.QuestionResult) string {
	if q.Name != "" {
		return clipRunes(q.Name, 255)
	}
	return clipRunes(q.Text, 80)
}

// clipRunes truncates s to max runes.
func clipRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// contains reports membership of s in list.
func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
