// Comment HTTP handlers.
//
//   - GET    /mods/{id}/comments   (oldest first, paginated)
//   - POST   /mods/{id}/comments   (authenticated)
//   - DELETE /comments/{id}        (comment author or admin)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vnmodhub/modhub/internal/domain"
)

// CreateCommentRequest is the JSON payload for a new comment.
type CreateCommentRequest struct {
	// Body is 1-2000 characters after trimming.
	Body string `json:"body" binding:"required" example:"Loved the new ending!"`
}

// ListCommentsResponse wraps a page of comments and pagination information.
type ListCommentsResponse struct {
	Comments   []domain.Comment `json:"comments"`
	Pagination Pagination       `json:"pagination"`
}

// ListComments godoc
// @ID          listComments
// @Summary     List comments on a published mod
// @Tags        Comments
// @Produce     json
// @Param       id         path   int  true   "Mod id"
// @Param       page       query  int  false  "Page number"    minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page" minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListCommentsResponse
// @Failure     404  {object} handlers.ErrorResponse "Mod not found"
// @Router      /mods/{id}/comments [get]
func (h *Handlers) ListComments(c *gin.Context) {
	modID, valid := pathID(c, "id")
	if !valid {
		return
	}
	page, pageSize := clampPagination(c)
	items, total, err := h.Comments.List(c.Request.Context(), modID, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListCommentsResponse{Comments: items, Pagination: newPagination(page, pageSize, total)})
}

// CreateComment godoc
// @ID          createComment
// @Summary     Comment on a published mod
// @Description The mod author is notified unless they wrote the comment.
// @Tags        Comments
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  int                            true  "Mod id"
// @Param       body  body  handlers.CreateCommentRequest  true  "Comment"
// @Success     201  {object} domain.Comment
// @Failure     400  {object} handlers.ErrorResponse "Empty or too long"
// @Failure     404  {object} handlers.ErrorResponse "Mod not found"
// @Router      /mods/{id}/comments [post]
func (h *Handlers) CreateComment(c *gin.Context) {
	modID, valid := pathID(c, "id")
	if !valid {
		return
	}
	uid, found := currentUser(c)
	if !found {
		return
	}
	var req CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body is required")
		return
	}
	cm, err := h.Comments.Add(c.Request.Context(), uid, modID, req.Body)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, cm)
}

// DeleteComment godoc
// @ID          deleteComment
// @Summary     Delete a comment
// @Tags        Comments
// @Security    BearerAuth
// @Param       id  path  int  true  "Comment id"
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not the comment author"
// @Failure     404  {object} handlers.ErrorResponse "Comment not found"
// @Router      /comments/{id} [delete]
func (h *Handlers) DeleteComment(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := h.Comments.Delete(c.Request.Context(), actor(c), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
