package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/auth"
	"github.com/vnmodhub/modhub/internal/config"
	httpapi "github.com/vnmodhub/modhub/internal/http"
	"github.com/vnmodhub/modhub/internal/locker"
	"github.com/vnmodhub/modhub/internal/mail"
	"github.com/vnmodhub/modhub/internal/observability"
	"github.com/vnmodhub/modhub/internal/realtime"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/services"
	"github.com/vnmodhub/modhub/internal/storage"
)

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Starts the API server. Migrations run on startup, the search index is
rebuilt in the background and expired idempotency records are purged hourly.
SIGINT or SIGTERM trigger a graceful shutdown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer closeDB(db)

	lock, closeLock, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLock()

	mailer, err := mail.New(cfg.Mail, log)
	if err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	media, err := newMediaStore(cfg.Storage)
	if err != nil {
		return err
	}
	files, err := storage.NewDisk(cfg.Storage.UploadDir, cfg.Storage.MaxUploadBytes, media, log)
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	composer := mail.Composer{SiteURL: cfg.Mail.SiteURL}
	notes := services.NewNotificationService(db, mailer, hub, log)
	ach := services.NewAchievementService(db, notes, composer, log)
	catalog := services.NewCatalog(db, log)
	svcs := httpapi.Services{
		Mods:          services.NewModService(db, lock, files, ach, notes, catalog, log),
		Reviews:       services.NewReviewService(db, lock, ach, notes, files, catalog, composer, log),
		Comments:      services.NewCommentService(db, ach, notes, log),
		Notifications: notes,
		Users:         services.NewUserService(db, log),
		Achievements:  ach,
	}

	go catalog.Run(ctx, cfg.SearchRefresh)
	go purgeIdempotency(ctx, db, purgeInterval)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Config:   cfg,
		DB:       db,
		Services: svcs,
		Tokens:   auth.NewTokens(cfg.Auth),
		Discord:  auth.NewDiscord(cfg.Auth),
		Hub:      hub,
		Log:      log,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("modhub listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newLocker returns the shared Redis lock when REDIS_ADDR is set, otherwise
// an in-process one that only serializes a single instance.
func newLocker(ctx context.Context, c config.Config) (locker.Locker, func(), error) {
	if c.Redis.Addr == "" {
		return locker.NewLocal(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", c.Redis.Addr, err)
	}
	log.Info().Str("addr", c.Redis.Addr).Msg("using redis moderation lock")
	return locker.NewRedis(client, "modhub:lock:", c.LockTTL), func() { _ = client.Close() }, nil
}

func newMediaStore(c config.StorageConfig) (storage.MediaStore, error) {
	if c.CloudName != "" {
		return storage.NewCloudinaryMedia(c.CloudName, c.CloudKey, c.CloudSecret, c.CloudFolder)
	}
	return storage.NewLocalMedia(c.ThumbnailDir, httpapi.ThumbnailsPath)
}

func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency records")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired idempotency records removed")
			}
		}
	}
}
