package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/domain"
)

// InsertNotification persists n.
func InsertNotification(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	return db.WithContext(ctx).Create(n).Error
}

// ListNotifications returns a page of a user's notifications, newest first,
// and the total matching count.
func ListNotifications(ctx context.Context, db *gorm.DB, userID uint, unreadOnly bool, offset, limit int) ([]domain.Notification, int64, error) {
	scope := func(q *gorm.DB) *gorm.DB {
		q = q.Where("user_id = ?", userID)
		if unreadOnly {
			q = q.Where("is_read = ?", false)
		}
		return q
	}
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Notification{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Notification
	err := db.WithContext(ctx).
		Scopes(scope).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// CountUnread returns how many unread notifications userID has.
func CountUnread(ctx context.Context, db *gorm.DB, userID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, err
}

// MarkNotificationRead marks one notification read. Ownership is part of the
// predicate, so a foreign id yields ErrNotFound.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, userID, id uint) error {
	res := db.WithContext(ctx).Model(&domain.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification read and returns
// how many changed.
func MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, userID uint) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// DeleteNotification removes one of the user's notifications.
func DeleteNotification(ctx context.Context, db *gorm.DB, userID, id uint) error {
	res := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
