package repo

import (
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vnmodhub/modhub/internal/domain"
)

// newTestDB opens a unique in-memory database per test. With migrate=true the
// full schema is created and foreign keys are enforced.
func newTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	// A single connection keeps the shared in-memory DB alive.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, Role: domain.RoleUser, UserLevel: 1, UserTitle: "Newcomer"}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u
}

// seedMod creates an externally hosted mod. Published mods get a timestamp.
func seedMod(t *testing.T, db *gorm.DB, authorID uint, slug string, published bool, created time.Time) *domain.Mod {
	t.Helper()
	url := "https://files.example.com/" + slug + ".zip"
	m := &domain.Mod{
		Slug:        slug,
		AuthorID:    authorID,
		Title:       slug,
		ExternalURL: &url,
		IsPublished: published,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if published {
		at := created
		m.PublishedAt = &at
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed mod %s: %v", slug, err)
	}
	return m
}

func nowUTC() time.Time { return time.Now().UTC() }
