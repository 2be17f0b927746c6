package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vnmodhub/modhub/internal/domain"
)

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByDiscordID fetches a user by external identity, or ErrNotFound.
func GetUserByDiscordID(ctx context.Context, db *gorm.DB, discordID string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("discord_id = ?", discordID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches a user by username, or ErrNotFound.
func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UsernameTaken reports whether a username is in use.
func UsernameTaken(ctx context.Context, db *gorm.DB, username string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Where("username = ?", username).Count(&n).Error
	return n > 0, err
}

// CreateUser inserts u, returning ErrDuplicate on a username or Discord clash.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateUserFields applies a partial update keyed by column name.
func UpdateUserFields(ctx context.Context, db *gorm.DB, id uint, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserForUpdate locks the user row where supported so that concurrent
// point awards serialize on it.
func GetUserForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*domain.User, error) {
	q := tx.WithContext(ctx)
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var u domain.User
	if err := q.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SaveProgress persists points, level and title together.
func SaveProgress(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return UpdateUserFields(ctx, db, u.ID, map[string]any{
		"achievement_points": u.AchievementPoints,
		"user_level":         u.UserLevel,
		"user_title":         u.UserTitle,
	})
}
