// Package services – request orchestration.
//
// RequestService fronts the whole request lifecycle for the HTTP layer:
// admission-checked creation, topic analysis, item listing, review
// decisions, and single-item regeneration. Batch generation itself is
// delegated to the GenerationEngine; deployment to the DeploymentService.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

// maxQuestionCount bounds how many questions one request may ask for.
const maxQuestionCount = 200

// CreateRequestInput carries the caller-supplied fields of a new request.
type CreateRequestInput struct {
	ActorID       string
	ScopeID       string
	QuestionCount int
	// Types is the requested question type list, in rotation order.
	Types []string
	// Difficulty fixes the difficulty for every question when set.
	Difficulty   string
	Instructions string
}

// validate checks the input against the allow-lists and bounds.
func (in *CreateRequestInput) validate() error {
	if strings.TrimSpace(in.ActorID) == "" {
		return fmt.Errorf("%w: actor_id is required", ErrValidation)
	}
	if strings.TrimSpace(in.ScopeID) == "" {
		return fmt.Errorf("%w: scope_id is required", ErrValidation)
	}
	if in.QuestionCount < 1 || in.QuestionCount > maxQuestionCount {
		return fmt.Errorf("%w: question_count must be in [1,%d]", ErrValidation, maxQuestionCount)
	}
	cfg := GenerationConfig{Types: in.Types, Difficulty: in.Difficulty}
	return cfg.Validate()
}

// ItemView is a generated item together with its ordered options, the shape
// the listing and review endpoints return.
type ItemView struct {
	domain.GeneratedItem
	Options []domain.ItemOption `json:"options"`
}

// RequestService orchestrates the request lifecycle.
type RequestService struct {
	DB       *gorm.DB
	Client   genai.Client
	Cache    *CacheService
	Limiter  *RateLimitService
	Engine   *GenerationEngine
	Provider content.Provider
	// Quality is the service quality hint used for every call.
	Quality string
}

// NewRequestService constructs a RequestService.
func NewRequestService(db *gorm.DB, client genai.Client, cache *CacheService, limiter *RateLimitService, engine *GenerationEngine, provider content.Provider, quality string) *RequestService {
	return &RequestService{
		DB:       db,
		Client:   client,
		Cache:    cache,
		Limiter:  limiter,
		Engine:   engine,
		Provider: provider,
		Quality:  quality,
	}
}

// Create validates the input, runs the admission rate limiter, and persists
// a new pending request. A rejected admission surfaces as *RateLimitError.
func (s *RequestService) Create(ctx context.Context, in CreateRequestInput) (*domain.Request, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.Limiter.CheckAdmit(ctx, in.ActorID, in.ScopeID); err != nil {
		return nil, err
	}

	req, err := repo.CreateRequest(ctx, s.DB, &domain.Request{
		ActorID:       in.ActorID,
		ScopeID:       in.ScopeID,
		QuestionCount: in.QuestionCount,
		Difficulty:    in.Difficulty,
		QuestionTypes: strings.Join(in.Types, ","),
		Instructions:  in.Instructions,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "create request", Err: err}
	}
	log.Info().
		Str("request_id", req.ID).
		Str("actor_id", req.ActorID).
		Str("scope_id", req.ScopeID).
		Int("question_count", req.QuestionCount).
		Msg("generation request created")
	return req, nil
}

// Get fetches a request by ID.
func (s *RequestService) Get(ctx context.Context, id string) (*domain.Request, error) {
	req, err := repo.GetRequest(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, &PersistenceError{Op: "get request", Err: err}
	}
	return req, nil
}

// List returns one page of a scope's requests, newest first, plus the
// total count for pagination metadata.
func (s *RequestService) List(ctx context.Context, scopeID string, offset, limit int) ([]domain.Request, int64, error) {
	total, err := repo.CountRequests(ctx, s.DB, scopeID)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "count requests", Err: err}
	}
	rows, err := repo.ListRequestsPage(ctx, s.DB, scopeID, offset, limit)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "list requests", Err: err}
	}
	return rows, total, nil
}

// Analyze runs (or re-runs) topic analysis for a request. A request in
// topics_ready, completed, or failed is first re-opened to pending; prior
// topics are replaced. On success the request moves to topics_ready with
// the question count distributed across the derived topics.
func (s *RequestService) Analyze(ctx context.Context, requestID, actorID string) ([]domain.Topic, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Analyze",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
	defer span.End()

	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case domain.StatusPending:
	case domain.StatusTopicsReady, domain.StatusCompleted, domain.StatusFailed:
		if err := SetStatus(ctx, s.DB, req, actorID, domain.StatusPending, ""); err != nil {
			return nil, err
		}
	default:
		return nil, &InvalidTransitionError{From: req.Status, To: domain.StatusAnalyzing}
	}
	if err := SetStatus(ctx, s.DB, req, actorID, domain.StatusAnalyzing, ""); err != nil {
		return nil, err
	}

	material, err := s.Provider.Content(ctx, req.ScopeID)
	if err != nil {
		_ = SetStatus(ctx, s.DB, req, actorID, domain.StatusFailed, "source content unavailable: "+err.Error())
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	result, usage, err := s.analyzeTopics(ctx, req, material)
	if err != nil {
		_ = SetStatus(ctx, s.DB, req, actorID, domain.StatusFailed, err.Error())
		return nil, err
	}
	if usage != (genai.Usage{}) {
		if uerr := repo.AddRequestUsage(ctx, s.DB, req.ID, usage.PromptTokens, usage.CompletionTokens, 0); uerr != nil {
			log.Error().Err(uerr).Str("request_id", req.ID).Msg("usage flush failed")
		}
	}

	topics := buildTopics(result, req.QuestionCount)
	var created []domain.Topic
	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if derr := repo.DeleteTopics(ctx, tx, req.ID); derr != nil {
			return derr
		}
		var cerr error
		created, cerr = repo.CreateTopics(ctx, tx, req.ID, topics)
		return cerr
	})
	if txErr != nil {
		perr := &PersistenceError{Op: "store topics", Err: txErr}
		_ = SetStatus(ctx, s.DB, req, actorID, domain.StatusFailed, perr.Error())
		return nil, perr
	}

	if err := SetStatus(ctx, s.DB, req, actorID, domain.StatusTopicsReady, ""); err != nil {
		return nil, err
	}
	return created, nil
}

// analyzeTopics returns the analysis result for the request's material,
// serving it from the result cache when a fresh entry exists.
func (s *RequestService) analyzeTopics(ctx context.Context, req *domain.Request, material string) (*genai.AnalyzeTopicsResult, genai.Usage, error) {
	fp := content.Fingerprint(material, req.Instructions)
	if cached, ok, cerr := s.Cache.Get(ctx, CacheTopicAnalysis, fp); cerr == nil && ok {
		var result genai.AnalyzeTopicsResult
		if jerr := json.Unmarshal([]byte(cached), &result); jerr == nil && result.Validate() == nil {
			return &result, genai.Usage{}, nil
		}
	}

	payload := genai.AnalyzeTopicsPayload{
		Content:      material,
		ScopeID:      req.ScopeID,
		Instructions: req.Instructions,
	}
	var (
		result *genai.AnalyzeTopicsResult
		usage  genai.Usage
	)
	policy := retry.Policy{
		MaxAttempts: 1 + batchRetries,
		Backoff:     retry.FixedBackoff(batchBackoff),
		Retryable:   IsTransient,
	}
	err := policy.Do(ctx, func() error {
		res, u, cerr := s.Client.AnalyzeTopics(ctx, s.Quality, payload)
		usage.Add(u)
		if cerr != nil {
			return cerr
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, usage, err
	}

	if raw, merr := json.Marshal(result); merr == nil {
		if cerr := s.Cache.Put(ctx, CacheTopicAnalysis, fp, string(raw)); cerr != nil {
			log.Warn().Err(cerr).Msg("topic analysis cache put failed")
		}
	}
	return result, usage, nil
}

// buildTopics converts the analysis result into topic rows, distributing
// questionCount across them. Service-suggested targets are used when they
// are all positive; otherwise the count is split evenly with the remainder
// going to the leading topics.
func buildTopics(result *genai.AnalyzeTopicsResult, questionCount int) []domain.Topic {
	n := len(result.Topics)
	topics := make([]domain.Topic, n)

	suggested := 0
	usable := true
	for _, t := range result.Topics {
		if t.QuestionTarget <= 0 {
			usable = false
			break
		}
		suggested += t.QuestionTarget
	}

	for i, t := range result.Topics {
		target := 0
		if usable && suggested > 0 {
			// Scale suggestions to the requested total.
			target = t.QuestionTarget * questionCount / suggested
		} else {
			target = questionCount / n
		}
		topics[i] = domain.Topic{
			Title:          t.Title,
			Summary:        t.Summary,
			SourceRef:      t.SourceRef,
			QuestionTarget: target,
		}
	}

	// Hand out any rounding remainder front to back so the sum matches the
	// requested count exactly.
	assigned := 0
	for i := range topics {
		assigned += topics[i].QuestionTarget
	}
	for i := 0; assigned < questionCount; i = (i + 1) % n {
		topics[i].QuestionTarget++
		assigned++
	}
	return topics
}

// Topics returns the topics of a request in ordinal order.
func (s *RequestService) Topics(ctx context.Context, requestID string) ([]domain.Topic, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}
	topics, err := repo.ListTopics(ctx, s.DB, requestID)
	if err != nil {
		return nil, &PersistenceError{Op: "list topics", Err: err}
	}
	return topics, nil
}

// Generate runs the batch engine for a request in topics_ready state.
func (s *RequestService) Generate(ctx context.Context, requestID, actorID string) (GenerationSummary, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return GenerationSummary{}, err
	}
	if req.Status != domain.StatusTopicsReady {
		return GenerationSummary{}, &InvalidTransitionError{From: req.Status, To: domain.StatusProcessing}
	}
	return s.Engine.GenerateForRequest(ctx, req, s.configFor(req))
}

// configFor derives the engine config from the request row.
func (s *RequestService) configFor(req *domain.Request) GenerationConfig {
	return GenerationConfig{
		Types:        splitCSV(req.QuestionTypes),
		Difficulty:   req.Difficulty,
		Instructions: req.Instructions,
		Quality:      s.Quality,
	}
}

// Items returns one page of a request's items with their options, ordered
// by creation time so regenerated replacements keep their position.
func (s *RequestService) Items(ctx context.Context, requestID string, offset, limit int) ([]ItemView, int64, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, 0, err
	}
	total, err := repo.CountItems(ctx, s.DB, requestID)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "count items", Err: err}
	}
	rows, err := repo.ListItemsPage(ctx, s.DB, requestID, offset, limit)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "list items", Err: err}
	}
	views := make([]ItemView, 0, len(rows))
	for _, it := range rows {
		options, oerr := repo.ListItemOptions(ctx, s.DB, it.ID)
		if oerr != nil {
			return nil, 0, &PersistenceError{Op: "list item options", Err: oerr}
		}
		views = append(views, ItemView{GeneratedItem: it, Options: options})
	}
	return views, total, nil
}

// Review records an approve/reject decision on an item. Deployed items are
// immutable; re-reviewing them is rejected.
func (s *RequestService) Review(ctx context.Context, itemID, actorID string, approve bool) (*domain.GeneratedItem, error) {
	item, err := repo.GetItem(ctx, s.DB, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, &PersistenceError{Op: "load item", Err: err}
	}
	if item.ReviewStatus == domain.ReviewDeployed {
		return nil, fmt.Errorf("%w: item is already deployed", ErrValidation)
	}

	status := domain.ReviewRejected
	if approve {
		status = domain.ReviewApproved
	}
	if err := repo.UpdateItemReview(ctx, s.DB, itemID, status); err != nil {
		return nil, &PersistenceError{Op: "update review status", Err: err}
	}
	item.ReviewStatus = status

	if aerr := repo.AppendAudit(ctx, s.DB, actorID, "item.review", itemID, status); aerr != nil {
		log.Warn().Err(aerr).Str("item_id", itemID).Msg("review audit append failed")
	}
	return item, nil
}

// Regenerate replaces one item with a freshly generated version of the same
// slot. The replacement keeps the original CreatedAt so it holds its
// position in listings, starts back at review status pending, and carries
// an incremented regeneration counter. Deployed items cannot be
// regenerated.
func (s *RequestService) Regenerate(ctx context.Context, itemID, actorID string) (*domain.GeneratedItem, error) {
	item, err := repo.GetItem(ctx, s.DB, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, &PersistenceError{Op: "load item", Err: err}
	}
	if item.ReviewStatus == domain.ReviewDeployed {
		return nil, fmt.Errorf("%w: deployed items cannot be regenerated", ErrValidation)
	}
	req, err := s.Get(ctx, item.RequestID)
	if err != nil {
		return nil, err
	}
	topic, err := repo.GetTopic(ctx, s.DB, item.TopicID)
	if err != nil {
		return nil, &PersistenceError{Op: "load topic", Err: err}
	}

	material, err := s.Provider.Content(ctx, req.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	priorTexts, err := repo.ListItemTexts(ctx, s.DB, req.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "list prior item texts", Err: err}
	}

	payload := genai.RefineQuestionPayload{
		TopicTitle:   topic.Title,
		TopicContent: topicMaterial(material, topic),
		Slot: genai.BatchSlot{
			Type:          item.Type,
			Difficulty:    item.Difficulty,
			TaxonomyLevel: item.TaxonomyLevel,
		},
		PriorText:    item.Text,
		PriorTexts:   priorTexts,
		Instructions: req.Instructions,
	}

	var (
		result *genai.RefineQuestionResult
		usage  genai.Usage
	)
	policy := retry.Policy{
		MaxAttempts: 1 + batchRetries,
		Backoff:     retry.FixedBackoff(batchBackoff),
		Retryable:   IsTransient,
	}
	err = policy.Do(ctx, func() error {
		res, u, cerr := s.Client.RefineQuestion(ctx, s.Quality, payload)
		usage.Add(u)
		if cerr != nil {
			return cerr
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if usage != (genai.Usage{}) {
		if uerr := repo.AddRequestUsage(ctx, s.DB, req.ID, usage.PromptTokens, usage.CompletionTokens, 0); uerr != nil {
			log.Error().Err(uerr).Str("request_id", req.ID).Msg("usage flush failed")
		}
	}

	q := result.Question
	replacement := &domain.GeneratedItem{
		RequestID:       item.RequestID,
		TopicID:         item.TopicID,
		Type:            item.Type,
		Name:            itemName(q),
		Text:            q.Text,
		Difficulty:      item.Difficulty,
		TaxonomyLevel:   item.TaxonomyLevel,
		GeneralFeedback: q.GeneralFeedback,
		QualityScore:    q.QualityScore,
		ReviewStatus:    domain.ReviewPending,
		RegenCount:      item.RegenCount + 1,
		CreatedAt:       item.CreatedAt,
	}
	options := make([]domain.ItemOption, 0, len(q.Options))
	for _, o := range q.Options {
		options = append(options, domain.ItemOption{
			Text:     o.Text,
			Fraction: o.Fraction,
			Feedback: o.Feedback,
		})
	}

	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if derr := repo.DeleteItem(ctx, tx, item.ID); derr != nil {
			return derr
		}
		_, cerr := repo.CreateItem(ctx, tx, replacement, options)
		return cerr
	})
	if txErr != nil {
		return nil, &PersistenceError{Op: "replace item", Err: txErr}
	}

	if aerr := repo.AppendAudit(ctx, s.DB, actorID, "item.regenerate", replacement.ID,
		fmt.Sprintf("replaced=%s regen_count=%d", item.ID, replacement.RegenCount)); aerr != nil {
		log.Warn().Err(aerr).Str("item_id", replacement.ID).Msg("regenerate audit append failed")
	}
	log.Info().
		Str("item_id", replacement.ID).
		Str("replaced_id", item.ID).
		Int("regen_count", replacement.RegenCount).
		Msg("item regenerated")
	return replacement, nil
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
