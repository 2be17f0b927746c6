// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for the
// supported SQL backends (pure-Go SQLite, MySQL, PostgreSQL), the optional
// OpenTelemetry plugin, schema migrations, and the transaction helper used by
// the service layer.
package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/vnmodhub/modhub/internal/config"
	"github.com/vnmodhub/modhub/internal/domain"
)

// Open connects to the backend selected by cfg.Driver and applies pool
// settings. SQLite DSNs are file paths and go through OpenSQLite.
func Open(cfg config.DBConfig, gcfg *gorm.Config) (*gorm.DB, error) {
	if gcfg == nil {
		gcfg = &gorm.Config{}
	}
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		return openSQLite(cfg.DSN, gcfg)
	case "mysql":
		db, err = gorm.Open(mysql.Open(cfg.DSN), gcfg)
	case "postgres":
		// lib/pq as the database/sql driver instead of the default pgx.
		db, err = gorm.Open(postgres.New(postgres.Config{
			DriverName: "postgres",
			DSN:        cfg.DSN,
		}), gcfg)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	tunePool(db, 25)
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	return openSQLite(path, &gorm.Config{})
}

func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	file, _, _ := strings.Cut(path, "?")
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(strings.TrimPrefix(file, "file:")); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), gcfg)
	if err != nil {
		return nil, err
	}
	tunePool(db, 10)
	return db, nil
}

// sqliteDSN appends the PRAGMAs to path as _pragma parameters, which the
// driver runs on every new connection of the pool.
func sqliteDSN(path string) string {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)", "synchronous(NORMAL)"}
	if !strings.Contains(path, ":memory:") && !strings.Contains(path, "mode=memory") {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	q := "_pragma=" + strings.Join(pragmas, "&_pragma=")
	if strings.Contains(path, "?") {
		return path + "&" + q
	}
	return path + "?" + q
}

func tunePool(db *gorm.DB, maxOpen int) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
}

// EnableTracing registers the GORM OpenTelemetry plugin so every query
// becomes a child span of the request span carried in ctx.
func EnableTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates every table the application uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Mod{},
		&domain.ModReview{},
		&domain.Achievement{},
		&domain.UserAchievement{},
		&domain.Notification{},
		&domain.Comment{},
		&domain.ModDownload{},
		&domain.Idempotency{},
	)
}

// InTx runs fn inside a transaction on db. If db is already a transaction
// handle, GORM nests the call as a savepoint. A returned error or a panic
// rolls the transaction back.
func InTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}
