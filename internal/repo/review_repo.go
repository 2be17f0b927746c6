package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/domain"
)

// ErrDuplicate indicates that a row violating a unique constraint already
// exists: a second review for a mod, a repeated achievement award, or a
// replayed idempotency key.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation normalizes unique-constraint errors across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate entry") || // mysql
		strings.Contains(low, "duplicate key value") // postgres
}

// InsertModReview writes the review row for a decision. Because mod_id is
// unique, a second decision for the same mod fails with ErrDuplicate.
func InsertModReview(ctx context.Context, db *gorm.DB, modID, adminID uint, status string, reason *string) (*domain.ModReview, error) {
	rv := &domain.ModReview{
		ModID:   modID,
		AdminID: adminID,
		Status:  status,
		Reason:  reason,
	}
	if err := db.WithContext(ctx).Create(rv).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rv, nil
}

// GetModReview returns the decision recorded for modID, or ErrNotFound.
func GetModReview(ctx context.Context, db *gorm.DB, modID uint) (*domain.ModReview, error) {
	var rv domain.ModReview
	if err := db.WithContext(ctx).Where("mod_id = ?", modID).First(&rv).Error; err != nil {
		return nil, err
	}
	return &rv, nil
}

// ListModReviews returns the audit trail for a mod, oldest first.
func ListModReviews(ctx context.Context, db *gorm.DB, modID uint) ([]domain.ModReview, error) {
	var out []domain.ModReview
	err := db.WithContext(ctx).
		Where("mod_id = ?", modID).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}
