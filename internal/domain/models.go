// Package domain defines the persistence models for users, mods, moderation
// reviews, achievements, notifications, and comments. These types are mapped
// with GORM and form the core data layer of the mod hub.
//
// List and map valued columns (tags, screenshots, requirements) are stored as
// JSON through gorm.io/datatypes, so code above the repository layer only ever
// sees typed Go values.
package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Review statuses.
const (
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Achievement metric types.
const (
	MetricModUpload      = "mod_upload"
	MetricTotalDownloads = "total_downloads"
	MetricCommentCount   = "comment_count"
)

// Notification type tags.
const (
	NotifyModApproved         = "mod_approved"
	NotifyModRejected         = "mod_rejected"
	NotifyModDeleted          = "mod_deleted"
	NotifyAchievementUnlocked = "achievement_unlocked"
	NotifyLevelUp             = "level_up"
	NotifyComment             = "comment"
)

// User is an account holder. Level and title are derived from
// AchievementPoints (see LevelFor) and are always written together with it.
//
// Fields:
//   - DiscordID: external identity from the OAuth login; nil for seeded accounts.
//   - EmailVerified / EmailOnModeration / EmailOnAchievement gate outbound mail.
type User struct {
	ID                 uint      `json:"id"                   gorm:"primaryKey"`
	Username           string    `json:"username"             gorm:"type:varchar(64);not null;uniqueIndex"`
	Email              string    `json:"-"                    gorm:"type:varchar(255);not null;default:''"`
	EmailVerified      bool      `json:"-"                    gorm:"not null;default:false"`
	EmailOnModeration  bool      `json:"-"                    gorm:"not null;default:false"`
	EmailOnAchievement bool      `json:"-"                    gorm:"not null;default:false"`
	DiscordID          *string   `json:"-"                    gorm:"type:varchar(32);uniqueIndex"`
	AvatarURL          string    `json:"avatar_url"           gorm:"type:varchar(512);not null;default:''"`
	Role               string    `json:"role"                 gorm:"type:varchar(16);not null;default:'user';check:role IN ('user','admin')"`
	AchievementPoints  int       `json:"achievement_points"   gorm:"not null;default:0"`
	UserLevel          int       `json:"user_level"           gorm:"not null;default:1"`
	UserTitle          string    `json:"user_title"           gorm:"type:varchar(64);not null;default:'Newcomer'"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// CanEmail reports whether mail may be sent to the user at all.
func (u *User) CanEmail() bool {
	return u != nil && u.EmailVerified && strings.TrimSpace(u.Email) != ""
}

// Mod is a submitted work. Exactly one delivery mechanism is populated:
// a local archive (FilePath + FileSize) or an ExternalURL. PublishedAt is
// non-nil exactly when IsPublished is true; both are enforced by CHECK
// constraints as well as by the service layer.
type Mod struct {
	ID               uint                                  `json:"id"                 gorm:"primaryKey"`
	Slug             string                                `json:"slug"               gorm:"type:varchar(96);not null;uniqueIndex"`
	AuthorID         uint                                  `json:"author_id"          gorm:"not null;index:idx_mods_author"`
	Title            string                                `json:"title"              gorm:"type:varchar(200);not null"`
	Description      string                                `json:"description"        gorm:"type:text;not null;default:''"`
	ShortDescription string                                `json:"short_description"  gorm:"type:varchar(300);not null;default:''"`
	Version          string                                `json:"version"            gorm:"type:varchar(32);not null;default:''"`
	Tags             datatypes.JSONSlice[string]           `json:"tags"`
	Requirements     datatypes.JSONType[map[string]string] `json:"requirements"`
	FilePath         *string                               `json:"-"                  gorm:"type:varchar(512)"`
	FileSize         *int64                                `json:"file_size,omitempty"`
	ExternalURL      *string                               `json:"external_url,omitempty" gorm:"type:varchar(1024);check:chk_mods_delivery,(file_path IS NULL) <> (external_url IS NULL)"`
	ThumbnailURL     string                                `json:"thumbnail_url"      gorm:"type:varchar(1024);not null;default:''"`
	Screenshots      datatypes.JSONSlice[string]           `json:"screenshots"`
	IsPublished      bool                                  `json:"is_published"       gorm:"not null;default:false;index:idx_mods_published,priority:1"`
	PublishedAt      *time.Time                            `json:"published_at"       gorm:"index:idx_mods_published,priority:2;check:chk_mods_published,(is_published AND published_at IS NOT NULL) OR (NOT is_published AND published_at IS NULL)"`
	IsFeatured       bool                                  `json:"is_featured"        gorm:"not null;default:false"`
	DownloadCount    int64                                 `json:"download_count"     gorm:"not null;default:0"`
	IsNSFW           bool                                  `json:"is_nsfw"            gorm:"column:is_nsfw;not null;default:false"`
	CreatedAt        time.Time                             `json:"created_at"`
	UpdatedAt        time.Time                             `json:"updated_at"`

	// Author owns the mod; deleting the account removes its mods.
	Author User `json:"-" gorm:"foreignKey:AuthorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Mod.
func (Mod) TableName() string { return "mods" }

// HasValidDelivery reports whether exactly one delivery mechanism is set.
func (m *Mod) HasValidDelivery() bool {
	hasFile := m.FilePath != nil && strings.TrimSpace(*m.FilePath) != "" && m.FileSize != nil && *m.FileSize >= 0
	hasURL := m.ExternalURL != nil && strings.TrimSpace(*m.ExternalURL) != ""
	return hasFile != hasURL
}

// LocalFile returns the stored archive path or "" for externally hosted mods.
func (m *Mod) LocalFile() string {
	if m.FilePath == nil {
		return ""
	}
	return *m.FilePath
}

// ModReview is the audit record of a moderation decision. A mod carries at
// most one review (unique mod_id), which is what keeps a mod from receiving
// two terminal outcomes.
type ModReview struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	ModID     uint      `json:"mod_id"     gorm:"not null;uniqueIndex:ux_mod_reviews_mod"`
	AdminID   uint      `json:"admin_id"   gorm:"not null;index"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;check:status IN ('approved','rejected')"`
	Reason    *string   `json:"reason,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`

	Mod   Mod  `json:"-" gorm:"foreignKey:ModID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Admin User `json:"-" gorm:"foreignKey:AdminID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ModReview.
func (ModReview) TableName() string { return "mod_reviews" }

// Achievement is an admin-defined unlockable, awarded when the user's value
// for RequirementType reaches RequirementValue.
type Achievement struct {
	ID               uint      `json:"id"                gorm:"primaryKey"`
	Name             string    `json:"name"              gorm:"type:varchar(100);not null;uniqueIndex"`
	Description      string    `json:"description"       gorm:"type:text;not null;default:''"`
	Category         string    `json:"category"          gorm:"type:varchar(32);not null;default:'general'"`
	Icon             string    `json:"icon"              gorm:"type:varchar(64);not null;default:''"`
	Points           int       `json:"points"            gorm:"not null;default:0"`
	RequirementType  string    `json:"requirement_type"  gorm:"type:varchar(32);not null;index:idx_achievements_req,priority:1"`
	RequirementValue int64     `json:"requirement_value" gorm:"not null;index:idx_achievements_req,priority:2"`
	IsHidden         bool      `json:"is_hidden"         gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the database table name for Achievement.
func (Achievement) TableName() string { return "achievements" }

// UserAchievement marks an achievement earned by a user.
type UserAchievement struct {
	ID            uint      `json:"id"             gorm:"primaryKey"`
	UserID        uint      `json:"user_id"        gorm:"not null;uniqueIndex:ux_user_achievement,priority:1"`
	AchievementID uint      `json:"achievement_id" gorm:"not null;uniqueIndex:ux_user_achievement,priority:2"`
	EarnedAt      time.Time `json:"earned_at"`

	User        User        `json:"-"           gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Achievement Achievement `json:"achievement" gorm:"foreignKey:AchievementID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for UserAchievement.
func (UserAchievement) TableName() string { return "user_achievements" }

// Notification is a user-facing message. RelatedID points at the entity the
// message is about (usually a mod) and is deliberately not a foreign key so
// the notification outlives a rejected, deleted mod.
type Notification struct {
	ID        uint      `json:"id"                   gorm:"primaryKey"`
	UserID    uint      `json:"user_id"              gorm:"not null;index:idx_notifications_user,priority:1"`
	Type      string    `json:"type"                 gorm:"type:varchar(50);not null"`
	Title     string    `json:"title"                gorm:"type:varchar(255);not null"`
	Message   string    `json:"message"              gorm:"type:text;not null"`
	RelatedID *uint     `json:"related_id,omitempty"`
	IsRead    bool      `json:"is_read"              gorm:"not null;default:false;index:idx_notifications_user,priority:2"`
	CreatedAt time.Time `json:"created_at"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// Comment is a user comment on a mod page.
type Comment struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	ModID     uint      `json:"mod_id"     gorm:"not null;index:idx_comments_mod,priority:1"`
	UserID    uint      `json:"user_id"    gorm:"not null;index"`
	Body      string    `json:"body"       gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_comments_mod,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`

	Mod  Mod  `json:"-"    gorm:"foreignKey:ModID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	User User `json:"-"    gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Comment.
func (Comment) TableName() string { return "comments" }

// ModDownload records a single download. UserID is nil for anonymous visitors.
type ModDownload struct {
	ID        uint      `json:"id"      gorm:"primaryKey"`
	ModID     uint      `json:"mod_id"  gorm:"not null;index"`
	UserID    *uint     `json:"user_id" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`

	Mod Mod `json:"-" gorm:"foreignKey:ModID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ModDownload.
func (ModDownload) TableName() string { return "mod_downloads" }

// NewRequirements wraps a requirements map for storage.
func NewRequirements(m map[string]string) datatypes.JSONType[map[string]string] {
	if m == nil {
		m = map[string]string{}
	}
	return datatypes.NewJSONType(m)
}
