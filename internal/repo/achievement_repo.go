package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vnmodhub/modhub/internal/domain"
)

// GetAchievement fetches an achievement by id, or ErrNotFound.
func GetAchievement(ctx context.Context, db *gorm.DB, id uint) (*domain.Achievement, error) {
	var a domain.Achievement
	if err := db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAchievements returns all achievements; hidden ones only when asked.
func ListAchievements(ctx context.Context, db *gorm.DB, includeHidden bool) ([]domain.Achievement, error) {
	q := db.WithContext(ctx)
	if !includeHidden {
		q = q.Where("is_hidden = ?", false)
	}
	var out []domain.Achievement
	err := q.Order("category asc, requirement_value asc, id asc").Find(&out).Error
	return out, err
}

// UnearnedAchievements returns the achievements of metricType whose threshold
// is at most value and which userID does not hold yet, lowest threshold first.
func UnearnedAchievements(ctx context.Context, db *gorm.DB, userID uint, metricType string, value int64) ([]domain.Achievement, error) {
	var out []domain.Achievement
	err := db.WithContext(ctx).
		Where("requirement_type = ? AND requirement_value <= ?", metricType, value).
		Where("NOT EXISTS (SELECT 1 FROM user_achievements ua WHERE ua.achievement_id = achievements.id AND ua.user_id = ?)", userID).
		Order("requirement_value asc, id asc").
		Find(&out).Error
	return out, err
}

// InsertUserAchievement records the award. A repeated award is reported as
// inserted=false without error.
func InsertUserAchievement(ctx context.Context, db *gorm.DB, userID, achievementID uint, at time.Time) (inserted bool, err error) {
	ua := &domain.UserAchievement{UserID: userID, AchievementID: achievementID, EarnedAt: at.UTC()}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ua)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListUserAchievements returns what a user has earned, newest first, with the
// achievement preloaded.
func ListUserAchievements(ctx context.Context, db *gorm.DB, userID uint) ([]domain.UserAchievement, error) {
	var out []domain.UserAchievement
	err := db.WithContext(ctx).
		Preload("Achievement").
		Where("user_id = ?", userID).
		Order("earned_at desc, id desc").
		Find(&out).Error
	return out, err
}

// UpsertAchievement creates or updates an achievement keyed by name. Used by
// the seed command.
func UpsertAchievement(ctx context.Context, db *gorm.DB, a *domain.Achievement) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "category", "icon", "points", "requirement_type", "requirement_value", "is_hidden"}),
		}).
		Create(a).Error
}
