package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securityEngine(opt SecurityOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	r.GET("/api/v1/mods", ok)
	r.GET("/static/thumbnails/*file", ok)
	r.GET("/cached", func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=60")
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := securityEngine(SecurityOptions{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mods", nil))

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" || h.Get("Permissions-Policy") == "" {
		t.Fatalf("baseline headers missing: %v", h)
	}
	if h.Get("Cache-Control") != "" {
		t.Fatalf("anonymous response should stay cacheable, got %q", h.Get("Cache-Control"))
	}
	if h.Get("Content-Security-Policy") != "" || h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("unexpected CSP/HSTS: %v", h)
	}
}

func TestSecurityHeaders_CredentialedResponsesArePrivate(t *testing.T) {
	r := securityEngine(SecurityOptions{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/mods", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Cache-Control"); got != "private, no-cache" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if !strings.Contains(strings.Join(w.Header().Values("Vary"), ","), "Authorization") {
		t.Fatalf("Vary = %v", w.Header().Values("Vary"))
	}

	// handlers can still pick their own policy
	req = httptest.NewRequest(http.MethodGet, "/cached", nil)
	req.Header.Set("Authorization", "Bearer x")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=60" {
		t.Fatalf("handler override lost: %q", got)
	}
}

func TestSecurityHeaders_UserContentIsSandboxed(t *testing.T) {
	r := securityEngine(SecurityOptions{UserContentPrefixes: []string{"/static/thumbnails"}})

	req := httptest.NewRequest(http.MethodGet, "/static/thumbnails/evil.svg", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "sandbox") || !strings.Contains(csp, "default-src 'none'") {
		t.Fatalf("CSP = %q", csp)
	}
	if w.Header().Get("Cache-Control") != "" {
		t.Fatalf("user content should not be marked private: %q", w.Header().Get("Cache-Control"))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mods", nil))
	if w.Header().Get("Content-Security-Policy") != "" {
		t.Fatal("API responses should not carry the sandbox policy")
	}
}

func TestIsUserContent(t *testing.T) {
	prefixes := []string{"/static/thumbnails/", ""}
	cases := map[string]bool{
		"/static/thumbnails":          true,
		"/static/thumbnails/a.png":    true,
		"/static/thumbnailsfoo/a.png": false,
		"/api/v1/mods":                false,
	}
	for path, want := range cases {
		if got := isUserContent(path, prefixes); got != want {
			t.Errorf("isUserContent(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	r := securityEngine(SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mods", nil))
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must not be sent over plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mods", nil)
	req.TLS = &tls.ConnectionState{}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains" {
		t.Fatalf("HSTS = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/mods", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("proxied HTTPS should get HSTS")
	}

	// default max-age
	r = securityEngine(SecurityOptions{EnableHSTS: true})
	req = httptest.NewRequest(http.MethodGet, "/api/v1/mods", nil)
	req.TLS = &tls.ConnectionState{}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains" {
		t.Fatalf("default HSTS = %q", got)
	}
}
