package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vnmodhub/modhub/internal/auth"
	"github.com/vnmodhub/modhub/internal/domain"
)

// login starts the flow and returns the state cookie the callback expects.
func login(t *testing.T, e *testEnv) *http.Cookie {
	t.Helper()
	w := e.do(t, http.MethodGet, "/auth/discord", "", nil, nil)
	expectStatus(t, w, http.StatusFound)
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookie {
			if !c.HttpOnly || c.Value == "" {
				t.Fatalf("weak state cookie: %+v", c)
			}
			if loc := w.Header().Get("Location"); !strings.HasSuffix(loc, "state="+c.Value) {
				t.Fatalf("redirect does not carry the state: %q", loc)
			}
			return c
		}
	}
	t.Fatal("state cookie not set")
	return nil
}

func callback(e *testEnv, query string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/discord/callback?"+query, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return e.serve(req, "", nil)
}

func TestDiscordLogin_NotConfigured(t *testing.T) {
	e := newTestEnv(t)
	expectError(t, e.do(t, http.MethodGet, "/auth/discord", "", nil, nil), http.StatusServiceUnavailable, ErrCodeUnavailable)
	expectError(t, e.do(t, http.MethodGet, "/auth/discord/callback?code=x&state=y", "", nil, nil), http.StatusServiceUnavailable, ErrCodeUnavailable)
}

func TestDiscordCallback_Success(t *testing.T) {
	d := &stubDiscord{user: &auth.DiscordUser{ID: "80351110224678912", Username: "nelly", Email: "nelly@example.com", Verified: true}}
	e := newTestEnv(t, withDiscord(d))
	cookie := login(t, e)

	w := callback(e, "code=abc&state="+cookie.Value, cookie)
	expectStatus(t, w, http.StatusOK)
	resp := decode[LoginResponse](t, w)
	if d.code != "abc" || resp.User == nil || resp.User.Username != "nelly" {
		t.Fatalf("unexpected login: code=%q resp=%+v", d.code, resp)
	}
	uid, err := e.tokens.ParseUserID(resp.Token)
	if err != nil || uid != resp.User.ID {
		t.Fatalf("token does not identify the user: %d %v", uid, err)
	}

	var u domain.User
	e.db.First(&u, resp.User.ID)
	if !u.EmailVerified || !u.EmailOnModeration {
		t.Fatalf("verified discord email should opt in to moderation mail: %+v", u)
	}

	// The issued token works against the API.
	expectStatus(t, e.do(t, http.MethodGet, "/me", resp.Token, nil, nil), http.StatusOK)
}

func TestDiscordCallback_Failures(t *testing.T) {
	d := &stubDiscord{user: &auth.DiscordUser{ID: "1", Username: "x"}}
	e := newTestEnv(t, withDiscord(d))
	cookie := login(t, e)

	expectError(t, callback(e, "code=abc&state="+cookie.Value, nil), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, callback(e, "code=abc&state=forged", cookie), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, callback(e, "error=access_denied&state="+cookie.Value, cookie), http.StatusBadRequest, ErrCodeLoginFailed)
	expectError(t, callback(e, "state="+cookie.Value, cookie), http.StatusBadRequest, ErrCodeBadRequest)

	d.err = errors.New("discord down")
	expectError(t, callback(e, "code=abc&state="+cookie.Value, cookie), http.StatusBadGateway, ErrCodeLoginFailed)
}
