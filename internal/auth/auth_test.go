package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/vnmodhub/modhub/internal/config"
)

func testTokens() *Tokens {
	return NewTokens(config.AuthConfig{JWTSecret: "0123456789abcdef", JWTIssuer: "modhub", JWTTTL: time.Hour})
}

func TestTokens_IssueParseRoundTrip(t *testing.T) {
	tk := testTokens()
	raw, err := tk.Issue(42, "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	c, err := tk.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id, _ := c.UserID(); id != 42 || c.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", c)
	}
	if id, err := tk.ParseUserID(raw); err != nil || id != 42 {
		t.Fatalf("ParseUserID = %d, %v", id, err)
	}
}

func TestTokens_RejectsTamperedExpiredAndForeign(t *testing.T) {
	tk := testTokens()
	raw, _ := tk.Issue(1, "user")

	if _, err := tk.Parse(raw + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token should fail: %v", err)
	}

	other := NewTokens(config.AuthConfig{JWTSecret: "another-secret-value", JWTIssuer: "modhub", JWTTTL: time.Hour})
	if _, err := other.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret should fail: %v", err)
	}

	wrongIss := NewTokens(config.AuthConfig{JWTSecret: "0123456789abcdef", JWTIssuer: "elsewhere", JWTTTL: time.Hour})
	if _, err := wrongIss.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer should fail: %v", err)
	}

	expired := testTokens()
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Issue(1, "user")
	if _, err := tk.Parse(old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token should fail: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1", Issuer: "modhub"}})
	s, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := tk.Parse(s); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg=none must be refused: %v", err)
	}

	if _, err := tk.ParseUserID(""); err == nil {
		t.Fatalf("empty token should fail")
	}
}

func TestClaims_UserID(t *testing.T) {
	for _, sub := range []string{"", "0", "abc", "-1"} {
		c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub}}
		if _, err := c.UserID(); err == nil {
			t.Fatalf("subject %q should be invalid", sub)
		}
	}
}

func TestNewDiscord_DisabledWithoutClientID(t *testing.T) {
	if d := NewDiscord(config.AuthConfig{}); d != nil {
		t.Fatalf("expected nil Discord without client id")
	}
	var d *Discord
	if _, err := d.Exchange(context.Background(), "x"); !errors.Is(err, ErrDiscordDisabled) {
		t.Fatalf("expected ErrDiscordDisabled, got %v", err)
	}
}

func TestDiscord_AuthURLAndExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			_ = r.ParseForm()
			if r.Form.Get("code") != "good" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
		case "/users/@me":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(DiscordUser{ID: "99", Username: "monika", Email: "m@ddlc.club", Verified: true, Avatar: "abc"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewDiscord(config.AuthConfig{DiscordClientID: "cid", DiscordClientSecret: "sec", DiscordRedirectURL: "http://localhost/cb"})
	d.conf.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/oauth2/token", AuthStyle: oauth2.AuthStyleInParams}
	d.apiBase = srv.URL

	u, err := url.Parse(d.AuthCodeURL("st4te"))
	if err != nil || u.Query().Get("state") != "st4te" || u.Query().Get("client_id") != "cid" {
		t.Fatalf("bad auth url: %v %v", u, err)
	}
	if !strings.Contains(u.Query().Get("scope"), "email") {
		t.Fatalf("email scope missing: %s", u.RawQuery)
	}

	du, err := d.Exchange(context.Background(), "good")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if du.ID != "99" || !du.Verified || du.AvatarURL() != "https://cdn.discordapp.com/avatars/99/abc.png" {
		t.Fatalf("unexpected user: %+v", du)
	}
	if _, err := d.Exchange(context.Background(), "bad"); err == nil {
		t.Fatalf("bad code should fail")
	}
	if (DiscordUser{}).AvatarURL() != "" {
		t.Fatalf("empty avatar should give empty url")
	}
}
