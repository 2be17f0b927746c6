// Package services – UserService
//
// UserService links Discord identities to local accounts and serves
// profiles and mail preferences.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/auth"
	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/repo"
)

const maxUsernameRunes = 32

// Profile is the public view of a user.
type Profile struct {
	User         *domain.User             `json:"user"`
	Level        domain.Level             `json:"level"`
	NextLevel    *domain.Level            `json:"next_level,omitempty"`
	Achievements []domain.UserAchievement `json:"achievements"`
}

// Preferences is a partial update of mail opt-ins.
type Preferences struct {
	EmailOnModeration  *bool `json:"email_on_moderation"`
	EmailOnAchievement *bool `json:"email_on_achievement"`
}

// UserService manages accounts.
type UserService struct {
	DB  *gorm.DB
	Log zerolog.Logger
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, log zerolog.Logger) *UserService {
	return &UserService{DB: db, Log: log}
}

// LoginDiscord returns the account linked to du, creating it on first
// login. Avatar and verified email are refreshed on every login. New
// accounts with a verified email are opted in to moderation mail.
func (s *UserService) LoginDiscord(ctx context.Context, du auth.DiscordUser) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "LoginDiscord", trace.WithAttributes(attribute.String("discord.id", du.ID)))
	defer span.End()

	if strings.TrimSpace(du.ID) == "" {
		return nil, errors.New("discord user without id")
	}

	u, err := repo.GetUserByDiscordID(ctx, s.DB, du.ID)
	switch {
	case err == nil:
		fields := map[string]any{"avatar_url": du.AvatarURL()}
		if du.Verified && du.Email != "" {
			fields["email"] = du.Email
			fields["email_verified"] = true
		}
		if err := repo.UpdateUserFields(ctx, s.DB, u.ID, fields); err != nil {
			return nil, err
		}
		return repo.GetUser(ctx, s.DB, u.ID)
	case !errors.Is(err, repo.ErrNotFound):
		span.RecordError(err)
		return nil, err
	}

	discordID := du.ID
	base := sanitizeUsername(du.GlobalName)
	if base == "" {
		base = sanitizeUsername(du.Username)
	}
	if base == "" {
		base = "user"
	}
	for i := 0; i < 5; i++ {
		name, err := s.freeUsername(ctx, base, du.ID, i)
		if err != nil {
			return nil, err
		}
		nu := &domain.User{
			Username:  name,
			DiscordID: &discordID,
			AvatarURL: du.AvatarURL(),
			Role:      domain.RoleUser,
			UserLevel: domain.LevelFor(0).Level,
			UserTitle: domain.LevelFor(0).Title,
		}
		if du.Verified && du.Email != "" {
			nu.Email = du.Email
			nu.EmailVerified = true
			nu.EmailOnModeration = true
		}
		err = repo.CreateUser(ctx, s.DB, nu)
		if err == nil {
			s.Log.Info().Uint("user_id", nu.ID).Str("username", nu.Username).Msg("user registered")
			return nu, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			span.RecordError(err)
			return nil, err
		}
		// A concurrent login may have linked the identity meanwhile.
		if u, err := repo.GetUserByDiscordID(ctx, s.DB, du.ID); err == nil {
			return u, nil
		}
	}
	return nil, fmt.Errorf("register discord user %s: no free username", du.ID)
}

// freeUsername picks base, then base with a discriminator from the Discord
// id, then numbered variants.
func (s *UserService) freeUsername(ctx context.Context, base, discordID string, attempt int) (string, error) {
	cands := []string{base}
	if tail := lastN(discordID, 4); tail != "" {
		cands = append(cands, base+"-"+tail)
	}
	for i := 2; i < 10; i++ {
		cands = append(cands, fmt.Sprintf("%s-%d", base, i+attempt*10))
	}
	for _, c := range cands {
		taken, err := repo.UsernameTaken(ctx, s.DB, c)
		if err != nil {
			return "", err
		}
		if !taken {
			return c, nil
		}
	}
	return fmt.Sprintf("%s-%s", base, discordID), nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id uint) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// Profile returns id's public profile with earned achievements.
func (s *UserService) Profile(ctx context.Context, id uint) (*Profile, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	earned, err := repo.ListUserAchievements(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	p := &Profile{User: u, Level: domain.LevelFor(u.AchievementPoints), Achievements: earned}
	if next, ok := domain.NextLevel(u.AchievementPoints); ok {
		p.NextLevel = &next
	}
	return p, nil
}

// UpdatePreferences changes id's mail opt-ins.
func (s *UserService) UpdatePreferences(ctx context.Context, id uint, p Preferences) (*domain.User, error) {
	fields := map[string]any{}
	if p.EmailOnModeration != nil {
		fields["email_on_moderation"] = *p.EmailOnModeration
	}
	if p.EmailOnAchievement != nil {
		fields["email_on_achievement"] = *p.EmailOnAchievement
	}
	if len(fields) > 0 {
		if err := repo.UpdateUserFields(ctx, s.DB, id, fields); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// SetRole changes the role of the user called username.
func (s *UserService) SetRole(ctx context.Context, username, role string) (*domain.User, error) {
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	u, err := repo.GetUserByUsername(ctx, s.DB, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := repo.UpdateUserFields(ctx, s.DB, u.ID, map[string]any{"role": role}); err != nil {
		return nil, err
	}
	u.Role = role
	return u, nil
}

// sanitizeUsername keeps letters, digits, '_' and '-', folding spaces to '_'.
func sanitizeUsername(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if n >= maxUsernameRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		default:
			continue
		}
		n++
	}
	return strings.Trim(b.String(), "_-")
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
