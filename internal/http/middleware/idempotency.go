// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for unsafe HTTP methods. It
// validates an Idempotency-Key request header, derives the scope of the
// operation (method and path), optionally performs a user-defined lookup to
// detect a previously completed request, and annotates the request context
// so downstream handlers can:
//   - read the normalized key and scope (GetIdempotencyKey, GetIdempotencyScope)
//   - detect replayed requests and their recorded status (ReplayStatus)
//   - bypass rate limiting when a replay is served (via an internal flag)
//
// Persistence is decoupled through the narrow IdempotencyLookup function
// type; handlers record outcomes themselves once an operation succeeded.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for unsafe operations (e.g., POST).
//
// The value is expected to be stable for a given semantic operation so that
// retries (network, client, or server initiated) can be safely deduplicated.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay" // int: recorded status of a stored replay
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// GetIdempotencyScope returns the operation scope the key applies to.
func GetIdempotencyScope(c *gin.Context) string {
	return c.GetString(ctxKeyIdemScope)
}

// ReplayStatus returns the HTTP status recorded for a previously completed
// request with the same (user, scope, key).
func ReplayStatus(c *gin.Context) (int, bool) {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return 0, false
	}
	st, _ := v.(int)
	return st, st != 0
}

// IsReplay reports whether the middleware found a stored outcome for this
// request.
func IsReplay(c *gin.Context) bool {
	_, ok := ReplayStatus(c)
	return ok
}

// IdempotencyOptions configures header validation behavior for
// IdempotencyValidator. TTL enforcement belongs to the lookup function.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative RFC7230-like
	// token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
	// Scope derives the operation scope. Defaults to "METHOD /path".
	Scope func(*gin.Context) string
}

// IdempotencyLookup returns the recorded status for (userID, scope, key) at
// the given time, or exists=false. Lookup errors never block the request.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (status int, exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header (if present) on
// unsafe methods, stashes it with its scope, and checks for a prior completed
// request via the supplied lookup. When a replay is detected, downstream
// handlers see it through ReplayStatus and rate limiting is skipped.
//
// Behavior:
//   - Safe methods and requests without the header pass untouched.
//   - A header failing validation is answered with 400.
//   - The lookup runs only for authenticated callers; keys are per user.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}
	scopeOf := opts.Scope
	if scopeOf == nil {
		scopeOf = func(c *gin.Context) string { return c.Request.Method + " " + c.Request.URL.Path }
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}

		scope := scopeOf(c)
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)

		if uid, ok := UserID(c); ok && lookup != nil {
			status, exists, err := lookup(c.Request.Context(), strconv.FormatUint(uint64(uid), 10), scope, key, time.Now().UTC())
			if err == nil && exists {
				c.Set(ctxKeyIdemReplay, status)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
