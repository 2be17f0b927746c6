// Package httpapi assembles the ModHub HTTP server: the middleware pipeline,
// operational endpoints (health, readiness, metrics, docs, websocket) and
// the versioned REST API backed by the application services.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/vnmodhub/modhub/docs" // registers the OpenAPI spec for /swagger
	"github.com/vnmodhub/modhub/internal/auth"
	"github.com/vnmodhub/modhub/internal/config"
	"github.com/vnmodhub/modhub/internal/http/handlers"
	"github.com/vnmodhub/modhub/internal/http/middleware"
	"github.com/vnmodhub/modhub/internal/realtime"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/services"
)

// ThumbnailsPath is where locally stored thumbnails are served.
const ThumbnailsPath = "/static/thumbnails"

const jsonBodyLimit = 1 << 20

// Services are the application services behind the API.
type Services struct {
	Mods          *services.ModService
	Reviews       *services.ReviewService
	Comments      *services.CommentService
	Notifications *services.NotificationService
	Users         *services.UserService
	Achievements  *services.AchievementService
}

// Deps is everything RegisterRoutes needs. Discord may be nil, which
// disables login; Hub may be nil, which disables /ws.
type Deps struct {
	Config   config.Config
	DB       *gorm.DB
	Services Services
	Tokens   *auth.Tokens
	Discord  *auth.Discord
	Hub      *realtime.Hub
	Log      zerolog.Logger
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS, security
// headers and compression, authentication, idempotency and rate limiting,
// health, metrics, docs and websocket endpoints, and then mounts the
// versioned public API under APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. AccessLog: request-scoped logger and scrubbed access lines
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. CORS, security headers and gzip
//  7. Authenticate: resolve the bearer token, if any
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, d Deps) {
	cfg := d.Config
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	base := d.Log
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		Base:            &base,
		SkipPaths:       []string{"/health", "/ready", "/metrics"},
		MaskHeaders:     []string{middleware.HeaderIdempotencyKey},
		MaskQueryParams: []string{"code", "state", "token"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6) CORS, security headers, compression
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:          cfg.Security.EnableHSTS,
		HSTSMaxAge:          cfg.Security.HSTSMaxAge,
		UserContentPrefixes: []string{ThumbnailsPath},
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/ws", "/metrics", ThumbnailsPath}),
		gzip.WithExcludedPathsRegexs([]string{`/mods/[^/]+/download$`}),
	))

	// 7) Identity
	if d.Tokens != nil {
		r.Use(middleware.Authenticate(d.Tokens))
	}

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(d.DB)))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(middleware.RateLimitOptions{
		RPS:       cfg.RateRPS,
		Burst:     cfg.RateBurst,
		WriteCost: cfg.RateWriteCost,
		Key:       middleware.KeyByUserOrIP(),
	})
	r.Use(rl.Handler())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/readiness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(d.DB))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if cfg.Storage.CloudName == "" && cfg.Storage.ThumbnailDir != "" {
		r.Static(ThumbnailsPath, cfg.Storage.ThumbnailDir)
	}
	if d.Hub != nil && d.Tokens != nil {
		r.GET("/ws", realtime.Handler(d.Hub, d.Tokens.ParseUserID, cfg.CORS.AllowedOrigins, d.Log))
	}

	h := handlers.New(handlerDeps(d))
	mount(groupWithPrefix(r, cfg.APIBasePath), h, uploadLimit(cfg.Storage.MaxUploadBytes))
}

// mount registers the API endpoints on api.
func mount(api *gin.RouterGroup, h *handlers.Handlers, uploadBytes int64) {
	// Public
	pub := api.Group("", limitBody(jsonBodyLimit))
	{
		pub.GET("/mods", h.ListMods)
		pub.GET("/mods/search", h.SearchMods)
		pub.GET("/mods/:id", h.GetMod)
		pub.GET("/mods/:id/download", h.DownloadMod)
		pub.GET("/mods/:id/comments", h.ListComments)
		pub.GET("/users/:id", h.GetProfile)
		pub.GET("/users/:id/mods", h.ListUserMods)
		pub.GET("/achievements", h.ListAchievements)

		pub.GET("/auth/discord", h.DiscordLogin)
		pub.GET("/auth/discord/callback", h.DiscordCallback)
	}

	// Signed in
	api.POST("/mods", middleware.RequireAuth(), limitBody(uploadBytes), h.CreateMod)
	user := api.Group("", middleware.RequireAuth(), limitBody(jsonBodyLimit))
	{
		user.PATCH("/mods/:id", h.UpdateMod)
		user.DELETE("/mods/:id", h.DeleteMod)
		user.POST("/mods/:id/comments", h.CreateComment)
		user.DELETE("/comments/:id", h.DeleteComment)

		user.GET("/me", h.GetMe)
		user.PATCH("/me/preferences", h.UpdatePreferences)

		user.GET("/notifications", h.ListNotifications)
		user.GET("/notifications/unread-count", h.UnreadCount)
		user.POST("/notifications/read-all", h.MarkAllNotificationsRead)
		user.POST("/notifications/:id/read", h.MarkNotificationRead)
		user.DELETE("/notifications/:id", h.DeleteNotification)
	}

	// Moderation
	admin := api.Group("/admin", middleware.RequireAdmin(), limitBody(jsonBodyLimit))
	{
		admin.GET("/mods/pending", h.ListPending)
		admin.POST("/mods/:id/approve", h.ApproveMod)
		admin.POST("/mods/:id/reject", h.RejectMod)
		admin.GET("/mods/:id/reviews", h.ListReviews)
		admin.PUT("/mods/:id/featured", h.SetFeatured)
	}
}

func handlerDeps(d Deps) handlers.Deps {
	s := d.Services
	hd := handlers.Deps{
		Mods:          s.Mods,
		Reviews:       s.Reviews,
		Comments:      s.Comments,
		Notifications: s.Notifications,
		Users:         s.Users,
		Achievements:  s.Achievements,
		UploadDir:     d.Config.Storage.UploadDir,
		SecureCookies: d.Config.Security.EnableHSTS,
	}
	// Typed nil pointers must not leak into the interfaces.
	if d.Discord != nil {
		hd.Discord = d.Discord
	}
	if d.Tokens != nil {
		hd.Tokens = d.Tokens
	}
	if d.DB != nil {
		db, ttl := d.DB, d.Config.IdempotencyTTL
		hd.Record = func(ctx context.Context, userID, scope, key, resourceID string, status int) error {
			_, err := repo.CreateIdempotency(ctx, db, userID, scope, key, resourceID, status, ttl)
			return err
		}
	}
	return hd
}

// idempotencyLookup answers from stored, unexpired outcomes. Store errors
// are treated as a miss.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, now time.Time) (int, bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return 0, false, nil
			}
			return 0, false, err
		}
		return rec.Status, true, nil
	}
}

func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "database unavailable")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// corsMiddleware returns the CORS posture (safe defaults: allow all if none
// configured).
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderIdempotentReplay}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// uploadLimit leaves room for the multipart envelope and form fields.
func uploadLimit(maxUpload int64) int64 {
	if maxUpload <= 0 {
		return jsonBodyLimit
	}
	return maxUpload + jsonBodyLimit
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
