// Discord login handlers.
//
//   - GET /auth/discord            (redirect to Discord consent)
//   - GET /auth/discord/callback   (exchange code, upsert user, issue JWT)
//
// The OAuth state is a random value mirrored in a short-lived HttpOnly
// cookie; the callback rejects a state that does not match it.
package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/http/middleware"
)

const (
	stateCookie    = "modhub_oauth_state"
	stateCookieTTL = 600 // seconds
)

// LoginResponse carries the session token.
type LoginResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// DiscordLogin godoc
// @ID          discordLogin
// @Summary     Start Discord login
// @Tags        Auth
// @Success     302  {string} string "Redirect to Discord"
// @Failure     503  {object} handlers.ErrorResponse "Login not configured"
// @Router      /auth/discord [get]
func (h *Handlers) DiscordLogin(c *gin.Context) {
	if h.Discord == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "discord login not configured")
		return
	}
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateCookieTTL, "/", "", h.SecureCookies, true)
	c.Redirect(http.StatusFound, h.Discord.AuthCodeURL(state))
}

// DiscordCallback godoc
// @ID          discordCallback
// @Summary     Finish Discord login
// @Tags        Auth
// @Produce     json
// @Param       code   query  string  true  "Authorization code"
// @Param       state  query  string  true  "OAuth state"
// @Success     200  {object} handlers.LoginResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad state or denied consent"
// @Failure     502  {object} handlers.ErrorResponse "Discord exchange failed"
// @Router      /auth/discord/callback [get]
func (h *Handlers) DiscordCallback(c *gin.Context) {
	if h.Discord == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "discord login not configured")
		return
	}
	want, _ := c.Cookie(stateCookie)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, "", -1, "/", "", h.SecureCookies, true)

	got := c.Query("state")
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid oauth state")
		return
	}
	if e := c.Query("error"); e != "" {
		fail(c, http.StatusBadRequest, ErrCodeLoginFailed, "discord login denied: "+e)
		return
	}
	code := c.Query("code")
	if code == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code is required")
		return
	}

	du, err := h.Discord.Exchange(c.Request.Context(), code)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("discord exchange failed")
		fail(c, http.StatusBadGateway, ErrCodeLoginFailed, "discord login failed")
		return
	}
	u, err := h.Users.LoginDiscord(c.Request.Context(), *du)
	if err != nil {
		failErr(c, err)
		return
	}
	token, err := h.Tokens.Issue(u.ID, u.Role)
	if err != nil {
		failErr(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().Uint("user_id", u.ID).Msg("discord login")
	ok(c, http.StatusOK, LoginResponse{Token: token, User: u})
}
