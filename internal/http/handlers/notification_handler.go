// Notification HTTP handlers (all scoped to the caller).
//
//   - GET    /notifications               (paginated, ?unread=true)
//   - GET    /notifications/unread-count
//   - POST   /notifications/{id}/read
//   - POST   /notifications/read-all
//   - DELETE /notifications/{id}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/sysutil"
)

// ListNotificationsResponse wraps a page of notifications.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Pagination    Pagination            `json:"pagination"`
}

// CountResponse carries a single count.
type CountResponse struct {
	Count int64 `json:"count" example:"3"`
}

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List my notifications, newest first
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Param       unread     query  bool  false  "Only unread"
// @Param       page       query  int   false  "Page number"    minimum(1) default(1)
// @Param       page_size  query  int   false  "Items per page" minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListNotificationsResponse
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	page, pageSize := clampPagination(c)
	items, total, err := h.Notifications.List(c.Request.Context(), uid, sysutil.IsTruthy(c.Query("unread")), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListNotificationsResponse{Notifications: items, Pagination: newPagination(page, pageSize, total)})
}

// UnreadCount godoc
// @ID          unreadNotificationCount
// @Summary     Count my unread notifications
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.CountResponse
// @Router      /notifications/unread-count [get]
func (h *Handlers) UnreadCount(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	n, err := h.Notifications.UnreadCount(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CountResponse{Count: n})
}

// MarkNotificationRead godoc
// @ID          markNotificationRead
// @Summary     Mark one notification read
// @Tags        Notifications
// @Security    BearerAuth
// @Param       id  path  int  true  "Notification id"
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Router      /notifications/{id}/read [post]
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := h.Notifications.MarkRead(c.Request.Context(), uid, id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// MarkAllNotificationsRead godoc
// @ID          markAllNotificationsRead
// @Summary     Mark all my notifications read
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.CountResponse "Number of notifications updated"
// @Router      /notifications/read-all [post]
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	n, err := h.Notifications.MarkAllRead(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CountResponse{Count: n})
}

// DeleteNotification godoc
// @ID          deleteNotification
// @Summary     Delete one of my notifications
// @Tags        Notifications
// @Security    BearerAuth
// @Param       id  path  int  true  "Notification id"
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Router      /notifications/{id} [delete]
func (h *Handlers) DeleteNotification(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := h.Notifications.Delete(c.Request.Context(), uid, id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
