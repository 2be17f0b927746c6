// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's identity. Authenticate parses an optional
// bearer token and stores the user id and role in the Gin context; the
// RequireAuth and RequireAdmin guards are mounted on the groups that need
// them. Anonymous requests pass Authenticate untouched so public routes and
// per-IP rate limiting keep working.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vnmodhub/modhub/internal/auth"
	"github.com/vnmodhub/modhub/internal/domain"
)

// Context keys set by Authenticate.
const (
	ctxKeyUserID = "userID"
	ctxKeyRole   = "role"
)

// TokenParser verifies a raw bearer token.
type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

// Authenticate reads "Authorization: Bearer <token>". A missing header is
// anonymous; a malformed or invalid token is rejected with 401.
func Authenticate(p TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := strings.TrimSpace(c.GetHeader("Authorization"))
		if h == "" {
			c.Next()
			return
		}
		raw, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "malformed Authorization header")
			return
		}
		claims, err := p.Parse(strings.TrimSpace(raw))
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		uid, _ := claims.UserID()
		c.Set(ctxKeyUserID, uid)
		c.Set(ctxKeyRole, claims.Role)
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserID(c); !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects anonymous callers with 401 and non-admins with 403.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserID(c); !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if !IsAdmin(c) {
			abortJSON(c, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return 0, false
	}
	id, _ := v.(uint)
	return id, id != 0
}

// IsAdmin reports whether the caller's token carries the admin role.
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ctxKeyRole) == domain.RoleAdmin
}

// abortJSON writes the standard error envelope. Handlers have their own
// helper; middleware cannot import the handlers package.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
