package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/vnmodhub/modhub/internal/config"
)

// ErrDiscordDisabled is returned when no Discord client is configured.
var ErrDiscordDisabled = errors.New("discord login not configured")

const discordAPI = "https://discord.com/api"

// DiscordEndpoint is Discord's OAuth2 endpoint.
var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  discordAPI + "/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// DiscordUser is the subset of /users/@me we store.
type DiscordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
	Email      string `json:"email"`
	Verified   bool   `json:"verified"`
}

// AvatarURL returns the CDN URL of the user's avatar, or "".
func (u DiscordUser) AvatarURL() string {
	if u.Avatar == "" {
		return ""
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", u.ID, u.Avatar)
}

// Discord runs the authorization-code flow.
type Discord struct {
	conf    *oauth2.Config
	apiBase string
}

// NewDiscord returns nil when the client id is unset.
func NewDiscord(cfg config.AuthConfig) *Discord {
	if strings.TrimSpace(cfg.DiscordClientID) == "" {
		return nil
	}
	return &Discord{
		conf: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURL,
			Scopes:       []string{"identify", "email"},
			Endpoint:     DiscordEndpoint,
		},
		apiBase: discordAPI,
	}
}

// AuthCodeURL is where the browser is sent to consent.
func (d *Discord) AuthCodeURL(state string) string {
	return d.conf.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "none"))
}

// Exchange trades the callback code for a token and loads the user.
func (d *Discord) Exchange(ctx context.Context, code string) (*DiscordUser, error) {
	if d == nil {
		return nil, ErrDiscordDisabled
	}
	tok, err := d.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("discord exchange: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiBase+"/users/@me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord user: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord user: status %d", resp.StatusCode)
	}
	var u DiscordUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("discord user: %w", err)
	}
	if u.ID == "" {
		return nil, errors.New("discord user: empty id")
	}
	return &u, nil
}
