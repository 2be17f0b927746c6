package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/domain"
)

// CreateComment inserts c.
func CreateComment(ctx context.Context, db *gorm.DB, c *domain.Comment) error {
	return db.WithContext(ctx).Create(c).Error
}

// GetComment fetches a comment by id, or ErrNotFound.
func GetComment(ctx context.Context, db *gorm.DB, id uint) (*domain.Comment, error) {
	var c domain.Comment
	if err := db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListComments returns a page of comments on a mod in posting order.
func ListComments(ctx context.Context, db *gorm.DB, modID uint, offset, limit int) ([]domain.Comment, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Comment{}).Where("mod_id = ?", modID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Comment
	err := db.WithContext(ctx).
		Where("mod_id = ?", modID).
		Order("created_at asc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// CountCommentsByUser is the value of the comment_count metric.
func CountCommentsByUser(ctx context.Context, db *gorm.DB, userID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Comment{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// DeleteComment removes a comment by id.
func DeleteComment(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Delete(&domain.Comment{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
