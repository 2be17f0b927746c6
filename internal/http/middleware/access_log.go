package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AccessLogOptions configures AccessLog.
type AccessLogOptions struct {
	// Base is the logger requests derive from; nil means the global logger.
	Base *zerolog.Logger

	// SkipPaths are exact paths that are served without an access line
	// (health checks and scrapes). The request logger is still installed.
	SkipPaths []string

	// MaskHeaders are extra request headers logged as "[REDACTED]", on top
	// of Authorization, Cookie and Set-Cookie.
	MaskHeaders []string

	// MaskQueryParams are query parameters whose values are replaced, such
	// as the OAuth "code" and "state" on the Discord callback.
	MaskQueryParams []string
}

var (
	// Order matters: tokens first so their segments are not half-matched
	// by the narrower patterns.
	jwtRE       = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{5,}\b`)
	emailRE     = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	snowflakeRE = regexp.MustCompile(`\b\d{17,20}\b`)
)

// redact scrubs session tokens, email addresses and Discord snowflake ids
// from free text.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = jwtRE.ReplaceAllString(s, "[REDACTED:token]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return snowflakeRE.ReplaceAllString(s, "[REDACTED:discord_id]")
}

// AccessLog installs a request-scoped logger (see LoggerFrom) and writes one
// structured line per request with sensitive values scrubbed. Bodies are
// never logged. The level follows the outcome: error for 5xx or collected
// gin errors, warn for 4xx, info otherwise.
func AccessLog(opts AccessLogOptions) gin.HandlerFunc {
	base := log.Logger
	if opts.Base != nil {
		base = *opts.Base
	}
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}
	maskHeaders := map[string]struct{}{"authorization": {}, "cookie": {}, "set-cookie": {}}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}
	maskParams := make(map[string]struct{}, len(opts.MaskQueryParams))
	for _, p := range opts.MaskQueryParams {
		if p = strings.TrimSpace(p); p != "" {
			maskParams[p] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetString(requestIDKey)
		if rid == "" {
			rid = c.Writer.Header().Get(requestIDHeader)
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		l := base.With().Str("request_id", rid).Str("route", path).Logger()
		c.Set(loggerKey, &l)

		c.Next()

		if _, ok := skip[c.Request.URL.Path]; ok {
			return
		}

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		if uid, ok := UserID(c); ok {
			ev = ev.Uint("user_id", uid)
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", redact(c.Errors.String()))
		}

		query := c.Request.URL.RawQuery
		if query != "" && len(maskParams) > 0 {
			query = maskQuery(query, maskParams)
		}
		if u, err := url.QueryUnescape(query); err == nil {
			query = u
		}

		ev.Str("method", c.Request.Method).
			Str("query", redact(truncate(query, maxQueryLogLength))).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Int64("bytes_in", c.Request.ContentLength).
			Dur("latency", time.Since(start)).
			Interface("headers", scrubHeaders(c.Request.Header, maskHeaders)).
			Msg("http_request")
	}
}

func scrubHeaders(h map[string][]string, mask map[string]struct{}) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := mask[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redact(strings.Join(vv, ", "))
	}
	return out
}

// maskQuery replaces the values of the named parameters. Unparseable queries
// are returned as-is and left to the pattern redactions.
func maskQuery(raw string, names map[string]struct{}) string {
	q, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	changed := false
	for k := range q {
		if _, ok := names[k]; ok {
			q[k] = []string{"REDACTED"}
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return q.Encode()
}
