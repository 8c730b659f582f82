// Generated item HTTP handlers.
//
// This file exposes REST endpoints for individual candidate questions:
//   - PUT   /items/{id}/review      (approve or reject)
//   - POST  /items/{id}/regenerate  (replace with a refreshed version)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReviewItemBody is the JSON payload for a review decision.
type ReviewItemBody struct {
	// Decision is "approve" or "reject".
	Decision string `json:"decision" binding:"required,oneof=approve reject" example:"approve"`
}

// ReviewItem godoc
// @ID          reviewItem
// @Summary     Approve or reject a generated item
// @Description Records a review decision. Deployed items are immutable and
// @Description cannot be re-reviewed.
// @Tags        Items
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Item ID (UUID)"  format(uuid)
// @Param       body       body    handlers.ReviewItemBody  true  "Review decision"
//
// @Success     200  {object} domain.GeneratedItem
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Item not found"
// @Router      /items/{id}/review [put]
func (h *Handlers) ReviewItem(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	var body ReviewItemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, `decision must be "approve" or "reject"`)
		return
	}

	item, err := h.reqSvc.Review(c.Request.Context(), id, userID(c), body.Decision == "approve")
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, item)
}

// RegenerateItem godoc
// @ID          regenerateItem
// @Summary     Regenerate one item
// @Description Replaces the item with a freshly generated version of the same
// @Description slot. The replacement keeps the original position in listings
// @Description and returns to pending review.
// @Tags        Items
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Item ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.GeneratedItem
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Item not found"
// @Failure     500  {object} handlers.ErrorResponse "Generation failed"
// @Router      /items/{id}/regenerate [post]
func (h *Handlers) RegenerateItem(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	item, err := h.reqSvc.Regenerate(c.Request.Context(), id, userID(c))
	if err != nil {
		failService(c, err, ErrCodeGenerationFailed)
		return
	}
	ok(c, http.StatusOK, item)
}
