// Package handlers exposes the hub's REST endpoints.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses
// and idempotent replays). Services are consumed through the narrow interfaces
// below so tests can substitute stubs.
package handlers

import (
	"context"
	"time"

	"github.com/vnmodhub/modhub/internal/auth"
	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/services"
)

//
// Service contracts (context-aware)
//

// ModService defines the mod catalog operations consumed by HTTP handlers.
type ModService interface {
	Create(ctx context.Context, authorID uint, in services.ModInput) (*domain.Mod, error)
	Update(ctx context.Context, actor services.Actor, modID uint, patch services.ModPatch) (*domain.Mod, error)
	Delete(ctx context.Context, actor services.Actor, modID uint) error
	Get(ctx context.Context, viewer services.Actor, modID uint) (*domain.Mod, error)
	GetBySlug(ctx context.Context, viewer services.Actor, slug string) (*domain.Mod, error)
	List(ctx context.Context, q services.ListQuery) ([]domain.Mod, int64, error)
	// ListStats returns the published count and latest update, for ETags.
	ListStats(ctx context.Context) (int64, *time.Time, error)
	ListByAuthor(ctx context.Context, viewer services.Actor, authorID uint) ([]domain.Mod, error)
	Search(ctx context.Context, query string, k int) ([]domain.Mod, error)
	RecordDownload(ctx context.Context, modID uint, userID *uint) (*domain.Mod, error)
	SetFeatured(ctx context.Context, modID uint, featured bool) error
}

// ReviewService is the moderation pipeline.
type ReviewService interface {
	Approve(ctx context.Context, modID, adminID uint, reason *string) (services.Decision, error)
	Reject(ctx context.Context, modID, adminID uint, reason *string) (services.Decision, error)
	PendingQueue(ctx context.Context, page, pageSize int) ([]domain.Mod, int64, error)
	Reviews(ctx context.Context, modID uint) ([]domain.ModReview, error)
}

// CommentService manages comments on published mods.
type CommentService interface {
	Add(ctx context.Context, userID, modID uint, body string) (*domain.Comment, error)
	List(ctx context.Context, modID uint, page, pageSize int) ([]domain.Comment, int64, error)
	Delete(ctx context.Context, actor services.Actor, id uint) error
}

// NotificationService is the user's inbox.
type NotificationService interface {
	List(ctx context.Context, userID uint, unreadOnly bool, page, pageSize int) ([]domain.Notification, int64, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, userID, id uint) error
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
	Delete(ctx context.Context, userID, id uint) error
}

// UserService manages accounts and profiles.
type UserService interface {
	LoginDiscord(ctx context.Context, du auth.DiscordUser) (*domain.User, error)
	Profile(ctx context.Context, id uint) (*services.Profile, error)
	UpdatePreferences(ctx context.Context, id uint, p services.Preferences) (*domain.User, error)
}

// AchievementService lists the achievement catalog.
type AchievementService interface {
	List(ctx context.Context, viewerID uint) ([]domain.Achievement, []domain.UserAchievement, error)
}

// DiscordLogin runs the OAuth2 authorization-code flow.
type DiscordLogin interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.DiscordUser, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(userID uint, role string) (string, error)
}

// IdempotencyRecorder stores the outcome of a keyed request so that a retry
// is answered from the record.
type IdempotencyRecorder func(ctx context.Context, userID, scope, key, resourceID string, status int) error

//
// Handler wiring
//

// Deps lists what the handlers need. Discord, Record and UploadDir are
// optional: without Discord the login endpoints answer 503, without Record
// idempotency keys are validated but never stored.
type Deps struct {
	Mods          ModService
	Reviews       ReviewService
	Comments      CommentService
	Notifications NotificationService
	Users         UserService
	Achievements  AchievementService
	Discord       DiscordLogin
	Tokens        TokenIssuer
	Record        IdempotencyRecorder
	// UploadDir is where archive downloads are served from.
	UploadDir string
	// SecureCookies marks the OAuth state cookie Secure.
	SecureCookies bool
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	Deps
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{Deps: d}
}
