// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Mod model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a mod is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vnmodhub/modhub/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// Sort orders accepted by ListPublished.
const (
	SortNewest    = "newest"
	SortDownloads = "downloads"
)

// ModQuery filters the public mod listing.
type ModQuery struct {
	Tag      string
	Featured bool
	Sort     string
	Offset   int
	Limit    int
}

// CreateMod inserts m. ID and timestamps are filled in by GORM.
func CreateMod(ctx context.Context, db *gorm.DB, m *domain.Mod) error {
	return db.WithContext(ctx).Create(m).Error
}

// GetMod fetches a mod by primary key, or ErrNotFound.
func GetMod(ctx context.Context, db *gorm.DB, id uint) (*domain.Mod, error) {
	var m domain.Mod
	if err := db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetModForUpdate is GetMod with a row lock on backends that support
// SELECT ... FOR UPDATE. SQLite ignores the clause; its writer lock already
// serializes the surrounding transaction.
func GetModForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*domain.Mod, error) {
	q := tx.WithContext(ctx)
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m domain.Mod
	if err := q.First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetModBySlug fetches a mod by its unique slug, or ErrNotFound.
func GetModBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Mod, error) {
	var m domain.Mod
	if err := db.WithContext(ctx).Where("slug = ?", slug).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// SlugExists reports whether any mod already uses slug.
func SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Mod{}).Where("slug = ?", slug).Count(&n).Error
	return n > 0, err
}

// UpdateModFields applies a partial update. Keys are column names.
// Returns ErrNotFound when no row matched.
func UpdateModFields(ctx context.Context, db *gorm.DB, id uint, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Mod{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetModPublished flips the publish state and keeps published_at in step:
// a timestamp when published, NULL otherwise.
func SetModPublished(ctx context.Context, db *gorm.DB, id uint, published bool, at time.Time) error {
	var ts any
	if published {
		ts = at.UTC()
	}
	return UpdateModFields(ctx, db, id, map[string]any{
		"is_published": published,
		"published_at": ts,
	})
}

// DeleteMod removes the mod row; child rows go with it through ON DELETE
// CASCADE. Returns ErrNotFound when nothing was deleted.
func DeleteMod(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Delete(&domain.Mod{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func publishedScope(q ModQuery) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("is_published = ?", true)
		if q.Featured {
			db = db.Where("is_featured = ?", true)
		}
		if q.Tag != "" {
			// Tags are a JSON array; datatypes builds the dialect-specific predicate.
			db = db.Where(datatypes.JSONArrayQuery("tags").Contains(q.Tag))
		}
		return db
	}
}

// ListPublished returns one page of published mods and the total match count.
func ListPublished(ctx context.Context, db *gorm.DB, q ModQuery) ([]domain.Mod, int64, error) {
	var total int64
	base := db.WithContext(ctx).Model(&domain.Mod{}).Scopes(publishedScope(q))
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "published_at desc, id desc"
	if q.Sort == SortDownloads {
		order = "download_count desc, id desc"
	}
	var out []domain.Mod
	err := db.WithContext(ctx).
		Scopes(publishedScope(q)).
		Order(order).
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&out).Error
	return out, total, err
}

// AllPublished returns every published mod; used to rebuild the search index.
func AllPublished(ctx context.Context, db *gorm.DB) ([]domain.Mod, error) {
	var out []domain.Mod
	err := db.WithContext(ctx).Where("is_published = ?", true).Order("id").Find(&out).Error
	return out, err
}

// GetModsByIDs loads mods by id, preserving no particular order.
func GetModsByIDs(ctx context.Context, db *gorm.DB, ids []uint) ([]domain.Mod, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Mod
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// pendingScope selects mods that are unpublished and have no review row.
func pendingScope(db *gorm.DB) *gorm.DB {
	return db.Where("is_published = ?", false).
		Where("NOT EXISTS (SELECT 1 FROM mod_reviews r WHERE r.mod_id = mods.id)")
}

// ListPending returns the review queue, oldest submission first.
func ListPending(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Mod, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Mod{}).Scopes(pendingScope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Mod
	err := db.WithContext(ctx).
		Scopes(pendingScope).
		Order("created_at asc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// ListModsByAuthor returns an author's mods, newest first. Unpublished mods
// are included only when withUnpublished is set.
func ListModsByAuthor(ctx context.Context, db *gorm.DB, authorID uint, withUnpublished bool) ([]domain.Mod, error) {
	q := db.WithContext(ctx).Where("author_id = ?", authorID)
	if !withUnpublished {
		q = q.Where("is_published = ?", true)
	}
	var out []domain.Mod
	err := q.Order("created_at desc, id desc").Find(&out).Error
	return out, err
}

// CountPublishedByAuthor is the value of the mod_upload metric.
func CountPublishedByAuthor(ctx context.Context, db *gorm.DB, authorID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Mod{}).
		Where("author_id = ? AND is_published = ?", authorID, true).
		Count(&n).Error
	return n, err
}

// SumDownloadsByAuthor is the value of the total_downloads metric.
func SumDownloadsByAuthor(ctx context.Context, db *gorm.DB, authorID uint) (int64, error) {
	var row struct{ Total int64 }
	err := db.WithContext(ctx).Model(&domain.Mod{}).
		Select("COALESCE(SUM(download_count), 0) AS total").
		Where("author_id = ?", authorID).
		Scan(&row).Error
	return row.Total, err
}

// RecordDownload bumps the counter and appends a download row.
func RecordDownload(ctx context.Context, db *gorm.DB, modID uint, userID *uint) error {
	res := db.WithContext(ctx).Model(&domain.Mod{}).
		Where("id = ?", modID).
		UpdateColumn("download_count", gorm.Expr("download_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return db.WithContext(ctx).Create(&domain.ModDownload{ModID: modID, UserID: userID}).Error
}
