// Moderation HTTP handlers.
//
// This file exposes the admin endpoints of the review pipeline:
//   - GET  /admin/mods/pending          (queue, oldest first)
//   - POST /admin/mods/{id}/approve     (publish; Idempotency-Key aware)
//   - POST /admin/mods/{id}/reject      (delete; Idempotency-Key aware)
//   - GET  /admin/mods/{id}/reviews     (audit trail)
//   - PUT  /admin/mods/{id}/featured    (toggle featured flag)
//
// A request carrying an Idempotency-Key that was already completed is answered
// from the stored outcome without running the pipeline again.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/http/middleware"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/services"
)

// HeaderIdempotentReplay marks responses served from a stored outcome.
const HeaderIdempotentReplay = "Idempotency-Replayed"

// ReviewRequest carries an optional reason shown to the author.
type ReviewRequest struct {
	Reason string `json:"reason" binding:"max=2000" example:"Missing install instructions"`
}

// ListPendingResponse wraps a page of mods awaiting review.
type ListPendingResponse struct {
	Mods       []domain.Mod `json:"mods"`
	Pagination Pagination   `json:"pagination"`
}

// FeaturedRequest toggles the featured flag.
type FeaturedRequest struct {
	Featured *bool `json:"featured" binding:"required"`
}

// ListPending godoc
// @ID          listPendingMods
// @Summary     Moderation queue
// @Description Unpublished mods without a review, oldest first.
// @Tags        Moderation
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false  "Page number"    minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page" minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListPendingResponse
// @Failure     403  {object} handlers.ErrorResponse "Admin role required"
// @Router      /admin/mods/pending [get]
func (h *Handlers) ListPending(c *gin.Context) {
	page, pageSize := clampPagination(c)
	mods, total, err := h.Reviews.PendingQueue(c.Request.Context(), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListPendingResponse{Mods: mods, Pagination: newPagination(page, pageSize, total)})
}

// ApproveMod godoc
// @ID          approveMod
// @Summary     Approve a mod
// @Description Publishes the mod, records the review, awards mod_upload achievements and notifies the author. Approving an approved mod is a no-op success.
// @Tags        Moderation
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id               path    int                     true   "Mod id"
// @Param       Idempotency-Key  header  string                  false  "Deduplicates retries"
// @Param       body             body    handlers.ReviewRequest  false  "Optional reason"
// @Success     200  {object} services.Decision
// @Failure     404  {object} handlers.ErrorResponse "Mod not found"
// @Failure     409  {object} handlers.ErrorResponse "Already rejected"
// @Router      /admin/mods/{id}/approve [post]
func (h *Handlers) ApproveMod(c *gin.Context) {
	h.decide(c, h.Reviews.Approve, services.Decision{Success: true})
}

// RejectMod godoc
// @ID          rejectMod
// @Summary     Reject a mod
// @Description Deletes the mod, records the review and notifies the author. Files are removed after commit.
// @Tags        Moderation
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id               path    int                     true   "Mod id"
// @Param       Idempotency-Key  header  string                  false  "Deduplicates retries"
// @Param       body             body    handlers.ReviewRequest  false  "Optional reason"
// @Success     200  {object} services.Decision
// @Failure     404  {object} handlers.ErrorResponse "Mod not found"
// @Failure     409  {object} handlers.ErrorResponse "Already reviewed"
// @Router      /admin/mods/{id}/reject [post]
func (h *Handlers) RejectMod(c *gin.Context) {
	h.decide(c, h.Reviews.Reject, services.Decision{Success: true, Removed: true})
}

type decideFunc func(ctx context.Context, modID, adminID uint, reason *string) (services.Decision, error)

func (h *Handlers) decide(c *gin.Context, run decideFunc, replay services.Decision) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if status, found := middleware.ReplayStatus(c); found {
		c.Header(HeaderIdempotentReplay, "true")
		ok(c, status, replay)
		return
	}
	adminID, found := currentUser(c)
	if !found {
		return
	}

	var req ReviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	var reason *string
	if r := strings.TrimSpace(req.Reason); r != "" {
		reason = &r
	}

	d, err := run(c.Request.Context(), id, adminID, reason)
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, adminID, strconv.FormatUint(uint64(id), 10), http.StatusOK)
	ok(c, http.StatusOK, d)
}

// remember stores the outcome of a keyed request. A failure only costs the
// retry protection, so it is logged and the response goes out as usual.
func (h *Handlers) remember(c *gin.Context, userID uint, resourceID string, status int) {
	key, found := middleware.GetIdempotencyKey(c)
	if !found || h.Record == nil {
		return
	}
	err := h.Record(c.Request.Context(), strconv.FormatUint(uint64(userID), 10),
		middleware.GetIdempotencyScope(c), key, resourceID, status)
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		middleware.LoggerFrom(c).Warn().Err(err).Str("resource_id", resourceID).Msg("idempotency record failed")
	}
}

// ListReviews godoc
// @ID          listModReviews
// @Summary     Review history of a mod
// @Tags        Moderation
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  int  true  "Mod id"
// @Success     200  {array}  domain.ModReview
// @Router      /admin/mods/{id}/reviews [get]
func (h *Handlers) ListReviews(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	reviews, err := h.Reviews.Reviews(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, reviews)
}

// SetFeatured godoc
// @ID          setModFeatured
// @Summary     Feature or unfeature a mod
// @Tags        Moderation
// @Accept      json
// @Security    BearerAuth
// @Param       id    path  int                       true  "Mod id"
// @Param       body  body  handlers.FeaturedRequest  true  "Flag"
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Mod not found"
// @Router      /admin/mods/{id}/featured [put]
func (h *Handlers) SetFeatured(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req FeaturedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Featured == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "featured (bool) is required")
		return
	}
	if err := h.Mods.SetFeatured(c.Request.Context(), id, *req.Featured); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
