// Generation request HTTP handlers.
//
// This file exposes REST endpoints for generation request resources:
//   - POST   /requests               (create, admission-gated)
//   - GET    /requests               (list, paginated)
//   - GET    /requests/{id}          (fetch)
//   - POST   /requests/{id}/analyze  (topic analysis)
//   - GET    /requests/{id}/topics   (list topics)
//   - POST   /requests/{id}/generate (batch generation)
//   - GET    /requests/{id}/items    (list items, paginated)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmsforge/quizgen-backend/internal/domain"
	"github.com/lmsforge/quizgen-backend/internal/services"
	"github.com/lmsforge/quizgen-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RequestService defines the request lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RequestService interface {
	// Create validates, admission-checks, and persists a new request.
	Create(ctx context.Context, in services.CreateRequestInput) (*domain.Request, error)
	// Get fetches one request.
	Get(ctx context.Context, id string) (*domain.Request, error)
	// List returns a page of a scope's requests and the total count.
	List(ctx context.Context, scopeID string, offset, limit int) ([]domain.Request, int64, error)
	// Analyze runs topic analysis and returns the derived topics.
	Analyze(ctx context.Context, requestID, actorID string) ([]domain.Topic, error)
	// Topics lists a request's topics in ordinal order.
	Topics(ctx context.Context, requestID string) ([]domain.Topic, error)
	// Generate runs batch generation across the request's topics.
	Generate(ctx context.Context, requestID, actorID string) (services.GenerationSummary, error)
	// Items returns a page of generated items with their options.
	Items(ctx context.Context, requestID string, offset, limit int) ([]services.ItemView, int64, error)
	// Review records an approve/reject decision on one item.
	Review(ctx context.Context, itemID, actorID string, approve bool) (*domain.GeneratedItem, error)
	// Regenerate replaces one item with a refreshed version.
	Regenerate(ctx context.Context, itemID, actorID string) (*domain.GeneratedItem, error)
}

// DeploymentService defines the deployment operation consumed by HTTP
// handlers.
type DeploymentService interface {
	// Deploy materializes approved items into the question bank.
	Deploy(ctx context.Context, actorID, scopeID string, itemIDs []string, targetCategory string) (*services.DeploymentReport, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for requests, items, and deployments.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic. DB and IdempotencyTTL back the stored-reply
// behavior of the deployment endpoint.
type Handlers struct {
	reqSvc    RequestService
	deploySvc DeploymentService
	db        *gorm.DB
	idemTTL   time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(reqSvc RequestService, deploySvc DeploymentService, db *gorm.DB, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{reqSvc: reqSvc, deploySvc: deploySvc, db: db, idemTTL: idemTTL}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateRequestBody is the JSON payload for creating a generation request.
type CreateRequestBody struct {
	// ScopeID identifies the course-like container to generate from.
	ScopeID string `json:"scope_id" binding:"required" example:"course-101"`
	// QuestionCount is the total number of questions to generate.
	QuestionCount int `json:"question_count" binding:"required,min=1" example:"20"`
	// Types lists the requested question types, in rotation order.
	Types []string `json:"types" binding:"required,min=1" example:"multichoice,truefalse"`
	// Difficulty optionally fixes the difficulty for every question.
	Difficulty string `json:"difficulty,omitempty" example:"medium"`
	// Instructions is free-text steering for the generation service.
	Instructions string `json:"instructions,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []domain.Request `json:"requests"`
	Pagination Pagination       `json:"pagination"`
}

// ListItemsResponse wraps a page of generated items and pagination
// information.
type ListItemsResponse struct {
	Items      []services.ItemView `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginationMeta builds the metadata block for a page.
func paginationMeta(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// failService maps a service-layer error onto an HTTP response, selecting
// the most specific code. fallback is used for unclassified errors (500).
func failService(c *gin.Context, err error, fallback string) {
	var rl *services.RateLimitError
	if errors.As(err, &rl) {
		c.Header("Retry-After", fmt.Sprintf("%d", int(rl.RetryAfter.Seconds())+1))
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
		return
	}
	switch {
	case errors.Is(err, services.ErrRequestNotFound), errors.Is(err, services.ErrItemNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrTopicsMissing), errors.Is(err, services.ErrNotApproved):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}

//
// Handlers
//

// CreateRequest godoc
// @ID          createRequest
// @Summary     Create a generation request
// @Description Creates a generation request for the current user. Admission is
// @Description gated by trailing-window rate limits; rejected requests return
// @Description 429 with a Retry-After header.
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateRequestBody  true  "Create request payload"
//
// @Success     201  {object}  domain.Request
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	req, err := h.reqSvc.Create(c.Request.Context(), services.CreateRequestInput{
		ActorID:       userID(c),
		ScopeID:       strings.TrimSpace(body.ScopeID),
		QuestionCount: body.QuestionCount,
		Types:         body.Types,
		Difficulty:    strings.TrimSpace(body.Difficulty),
		Instructions:  strings.TrimSpace(body.Instructions),
	})
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, req)
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List generation requests (paginated)
// @Description Returns a page of a scope's requests, newest first.
// @Tags        Requests
// @Produce     json
//
// @Param       scope_id   query   string  true  "Scope ID"       example(course-101)
// @Param       page       query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	scopeID := strings.TrimSpace(c.Query("scope_id"))
	if scopeID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "scope_id query parameter required")
		return
	}
	page, pageSize := clampPagination(c)

	rows, total, err := h.reqSvc.List(c.Request.Context(), scopeID, (page-1)*pageSize, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests:   rows,
		Pagination: paginationMeta(page, pageSize, total),
	})
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Fetch one generation request
// @Tags        Requests
// @Produce     json
//
// @Param       id  path  string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Request
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	req, err := h.reqSvc.Get(c.Request.Context(), id)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, req)
}

// AnalyzeRequest godoc
// @ID          analyzeRequest
// @Summary     Run topic analysis
// @Description Derives topics from the scope's source material. Re-running on
// @Description a finished request re-opens it and replaces its topics.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     200  {array}  domain.Topic
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     409  {object} handlers.ErrorResponse "Invalid state"
// @Failure     500  {object} handlers.ErrorResponse "Analysis failed"
// @Router      /requests/{id}/analyze [post]
func (h *Handlers) AnalyzeRequest(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	topics, err := h.reqSvc.Analyze(c.Request.Context(), id, userID(c))
	if err != nil {
		failService(c, err, ErrCodeAnalysisFailed)
		return
	}
	ok(c, http.StatusOK, topics)
}

// ListTopics godoc
// @ID          listTopics
// @Summary     List a request's topics
// @Tags        Requests
// @Produce     json
//
// @Param       id  path  string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     200  {array}  domain.Topic
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Router      /requests/{id}/topics [get]
func (h *Handlers) ListTopics(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	topics, err := h.reqSvc.Topics(c.Request.Context(), id)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, topics)
}

// GenerateRequest godoc
// @ID          generateRequest
// @Summary     Run batch generation
// @Description Generates questions for every topic of the request. Partial
// @Description failures are tolerated; the summary reports batch outcomes.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     200  {object} services.GenerationSummary
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     409  {object} handlers.ErrorResponse "Invalid state"
// @Failure     500  {object} handlers.ErrorResponse "Generation failed"
// @Router      /requests/{id}/generate [post]
func (h *Handlers) GenerateRequest(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	summary, err := h.reqSvc.Generate(c.Request.Context(), id, userID(c))
	if err != nil {
		failService(c, err, ErrCodeGenerationFailed)
		return
	}
	ok(c, http.StatusOK, summary)
}

// ListItems godoc
// @ID          listItems
// @Summary     List generated items (paginated)
// @Description Returns a page of the request's candidate questions with their
// @Description options, in stable creation order.
// @Tags        Items
// @Produce     json
//
// @Param       id         path   string  true  "Request ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"        minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"     minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListItemsResponse
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Router      /requests/{id}/items [get]
func (h *Handlers) ListItems(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.reqSvc.Items(c.Request.Context(), id, (page-1)*pageSize, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListItemsResponse{
		Items:      items,
		Pagination: paginationMeta(page, pageSize, total),
	})
}
