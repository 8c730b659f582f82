// Deployment HTTP handlers.
//
// This file exposes the deployment endpoint:
//   - POST /deployments (deploy approved items, Idempotency-Key honored)
//
// The endpoint honors the Idempotency-Key header: the first successful
// response for (actor, route, key) is stored and replayed verbatim on
// retries within the configured TTL, so a network retry never deploys the
// same items twice.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lmsforge/quizgen-backend/internal/http/middleware"
	"github.com/lmsforge/quizgen-backend/internal/repo"
	"github.com/lmsforge/quizgen-backend/internal/services"
)

// DeployBody is the JSON payload for a deployment run.
type DeployBody struct {
	// ScopeID identifies the course-like container receiving the questions.
	ScopeID string `json:"scope_id" binding:"required" example:"course-101"`
	// ItemIDs lists the approved items to deploy.
	ItemIDs []string `json:"item_ids" binding:"required,min=1"`
	// Category optionally names a target category beneath the scope default.
	Category string `json:"category,omitempty" example:"Week 3"`
}

// DeployResponse reports per-item outcomes of one deployment run.
type DeployResponse struct {
	// Deployed maps item IDs to the bank question IDs they materialized as.
	Deployed map[string]string `json:"deployed"`
	// Failed maps item IDs to their failure reasons.
	Failed map[string]string `json:"failed,omitempty"`
}

// Deploy godoc
// @ID          deployItems
// @Summary     Deploy approved items into the question bank
// @Description Deploys each item in its own transaction; partial success is
// @Description reported per item and only an all-failed run returns an error
// @Description status. Retries carrying the same Idempotency-Key replay the
// @Description stored first response.
// @Tags        Deployments
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"
// @Param       Idempotency-Key  header  string  false "Client-chosen retry key"
// @Param       body             body    handlers.DeployBody  true  "Deployment payload"
//
// @Success     200  {object} handlers.DeployResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     422  {object} handlers.ErrorResponse "All items failed"
// @Router      /deployments [post]
func (h *Handlers) Deploy(c *gin.Context) {
	ctx := c.Request.Context()
	actor := userID(c)

	// Serve a stored replay when the idempotency middleware flagged one.
	if key, hasKey := middleware.GetIdempotencyKey(c); hasKey && middleware.IsReplay(c) && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, actor, c.FullPath(), key, time.Now().UTC()); err == nil {
			c.Data(rec.StatusCode, "application/json", []byte(rec.ResponseBody))
			return
		}
		// Replay flagged but record unreadable: fall through and redeploy;
		// the per-item idempotency in the service makes this safe.
	}

	var body DeployBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	report, err := h.deploySvc.Deploy(ctx, actor, body.ScopeID, body.ItemIDs, body.Category)
	if err != nil {
		var agg *services.AggregateDeployError
		if errors.As(err, &agg) {
			h.storeIdempotentReply(c, actor, http.StatusUnprocessableEntity, DeployResponse{
				Deployed: map[string]string{},
				Failed:   agg.Failures,
			})
			return
		}
		failService(c, err, ErrCodeDeployFailed)
		return
	}

	h.storeIdempotentReply(c, actor, http.StatusOK, DeployResponse{
		Deployed: report.Deployed,
		Failed:   report.Failed,
	})
}

// storeIdempotentReply writes the response and, when an Idempotency-Key is
// present, persists it for replay. Storage failure is ignored: the per-item
// idempotency in the deployment service keeps a replayed run harmless.
func (h *Handlers) storeIdempotentReply(c *gin.Context, actor string, status int, resp DeployResponse) {
	if key, hasKey := middleware.GetIdempotencyKey(c); hasKey && h.db != nil {
		if raw, err := json.Marshal(resp); err == nil {
			_ = repo.SaveIdempotency(c.Request.Context(), h.db, actor, c.FullPath(), key, status, string(raw), h.idemTTL)
		}
	}
	ok(c, status, resp)
}
