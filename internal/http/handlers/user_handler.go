// User and achievement HTTP handlers.
//
//   - GET   /users/{id}        (public profile: level, title, points, achievements)
//   - GET   /me                (own profile plus mail preferences)
//   - PATCH /me/preferences    (mail opt-ins)
//   - GET   /achievements      (catalog; hidden ones only once earned)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/http/middleware"
	"github.com/vnmodhub/modhub/internal/services"
)

// PreferencesView is the caller's mail settings.
type PreferencesView struct {
	EmailVerified      bool `json:"email_verified"`
	EmailOnModeration  bool `json:"email_on_moderation"`
	EmailOnAchievement bool `json:"email_on_achievement"`
}

// MeResponse is the caller's own profile.
type MeResponse struct {
	*services.Profile
	Preferences PreferencesView `json:"preferences"`
}

// AchievementsResponse lists visible achievements and, for a signed-in
// caller, the ones they hold.
type AchievementsResponse struct {
	Achievements []domain.Achievement     `json:"achievements"`
	Earned       []domain.UserAchievement `json:"earned"`
}

func preferencesOf(u *domain.User) PreferencesView {
	return PreferencesView{
		EmailVerified:      u.EmailVerified,
		EmailOnModeration:  u.EmailOnModeration,
		EmailOnAchievement: u.EmailOnAchievement,
	}
}

// GetProfile godoc
// @ID          getUserProfile
// @Summary     Public user profile
// @Tags        Users
// @Produce     json
// @Param       id  path  int  true  "User id"
// @Success     200  {object} services.Profile
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	p, err := h.Users.Profile(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// GetMe godoc
// @ID          getMe
// @Summary     My profile
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.MeResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /me [get]
func (h *Handlers) GetMe(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	p, err := h.Users.Profile(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MeResponse{Profile: p, Preferences: preferencesOf(p.User)})
}

// UpdatePreferences godoc
// @ID          updatePreferences
// @Summary     Change my mail opt-ins
// @Description Omitted fields are left unchanged. Mail is only sent to verified addresses.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  services.Preferences  true  "Opt-ins"
// @Success     200  {object} handlers.PreferencesView
// @Router      /me/preferences [patch]
func (h *Handlers) UpdatePreferences(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	var req services.Preferences
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.Users.UpdatePreferences(c.Request.Context(), uid, req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, preferencesOf(u))
}

// ListAchievements godoc
// @ID          listAchievements
// @Summary     Achievement catalog
// @Tags        Achievements
// @Produce     json
// @Success     200  {object} handlers.AchievementsResponse
// @Router      /achievements [get]
func (h *Handlers) ListAchievements(c *gin.Context) {
	uid, _ := middleware.UserID(c)
	all, earned, err := h.Achievements.List(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	if earned == nil {
		earned = []domain.UserAchievement{}
	}
	ok(c, http.StatusOK, AchievementsResponse{Achievements: all, Earned: earned})
}
