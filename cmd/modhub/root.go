package main

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vnmodhub/modhub/internal/config"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	envFile string
	cfg     config.Config
	log     zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "modhub",
	Short:         "Mod sharing hub for visual novel mods",
	Long:          `ModHub serves the mod catalog API, runs the moderation pipeline and hosts maintenance commands.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		log = newLogger(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Error().Err(err).Msg("modhub failed")
		os.Exit(1)
	}
}

// loadEnvFile applies path on top of the environment. A missing file is fine;
// variables already set win over the file.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func newLogger(c config.Config) zerolog.Logger {
	sysutil.SetLogLevel(c.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if c.LogPretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", c.OTEL.ServiceName).Logger()
}

// openDB connects and migrates the schema.
func openDB(c config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if c.LogLevel == "debug" {
		level = logger.Info
	}
	db, err := repo.Open(c.DB, &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, err
	}
	if c.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return nil, err
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
