package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vnmodhub/modhub/internal/auth"
	"github.com/vnmodhub/modhub/internal/config"
	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/http/middleware"
	"github.com/vnmodhub/modhub/internal/locker"
	"github.com/vnmodhub/modhub/internal/mail"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/services"
	"github.com/vnmodhub/modhub/internal/storage"
)

// ---------- test helpers ----------

type stubDiscord struct {
	user *auth.DiscordUser
	err  error
	code string
}

func (s *stubDiscord) AuthCodeURL(state string) string {
	return "https://discord.example/authorize?state=" + state
}

func (s *stubDiscord) Exchange(_ context.Context, code string) (*auth.DiscordUser, error) {
	s.code = code
	if s.err != nil {
		return nil, s.err
	}
	return s.user, nil
}

type testEnv struct {
	r         *gin.Engine
	db        *gorm.DB
	tokens    *auth.Tokens
	uploadDir string
	discord   *stubDiscord
}

type envOpt func(*envConfig)

type envConfig struct {
	maxUpload int64
	discord   *stubDiscord
}

func withMaxUpload(n int64) envOpt { return func(c *envConfig) { c.maxUpload = n } }

func withDiscord(d *stubDiscord) envOpt { return func(c *envConfig) { c.discord = d } }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newTestEnv wires real services over an in-memory database and mounts the
// handlers the way the API router does.
func newTestEnv(t *testing.T, opts ...envOpt) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ec := envConfig{maxUpload: 1 << 20}
	for _, o := range opts {
		o(&ec)
	}

	db := newTestDB(t)
	log := zerolog.Nop()
	root := t.TempDir()
	media, err := storage.NewLocalMedia(filepath.Join(root, "thumbs"), "/static/thumbnails")
	if err != nil {
		t.Fatal(err)
	}
	files, err := storage.NewDisk(filepath.Join(root, "mods"), ec.maxUpload, media, log)
	if err != nil {
		t.Fatal(err)
	}

	composer := mail.Composer{SiteURL: "https://mods.example.com"}
	notes := services.NewNotificationService(db, mail.LogMailer{Log: log}, nil, log)
	ach := services.NewAchievementService(db, notes, composer, log)
	catalog := services.NewCatalog(db, log)
	lk := locker.NewLocal()
	tokens := auth.NewTokens(config.AuthConfig{JWTSecret: "handlers-test-secret-0123", JWTIssuer: "modhub-test", JWTTTL: time.Hour})

	d := Deps{
		Mods:          services.NewModService(db, lk, files, ach, notes, catalog, log),
		Reviews:       services.NewReviewService(db, lk, ach, notes, files, catalog, composer, log),
		Comments:      services.NewCommentService(db, ach, notes, log),
		Notifications: notes,
		Users:         services.NewUserService(db, log),
		Achievements:  ach,
		Tokens:        tokens,
		Record: func(ctx context.Context, userID, scope, key, resourceID string, status int) error {
			_, err := repo.CreateIdempotency(ctx, db, userID, scope, key, resourceID, status, time.Hour)
			return err
		},
		UploadDir: files.UploadDir,
	}
	if ec.discord != nil {
		d.Discord = ec.discord
	}
	h := New(d)

	r := gin.New()
	r.Use(middleware.Authenticate(tokens))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, func(ctx context.Context, userID, scope, key string, now time.Time) (int, bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		return rec.Status, true, nil
	}))

	r.GET("/mods", h.ListMods)
	r.GET("/mods/search", h.SearchMods)
	r.GET("/mods/:id", h.GetMod)
	r.GET("/mods/:id/download", h.DownloadMod)
	r.GET("/mods/:id/comments", h.ListComments)
	r.GET("/users/:id", h.GetProfile)
	r.GET("/users/:id/mods", h.ListUserMods)
	r.GET("/achievements", h.ListAchievements)
	r.GET("/auth/discord", h.DiscordLogin)
	r.GET("/auth/discord/callback", h.DiscordCallback)

	user := r.Group("", middleware.RequireAuth())
	user.POST("/mods", h.CreateMod)
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

	admin := r.Group("/admin", middleware.RequireAdmin())
	admin.GET("/mods/pending", h.ListPending)
	admin.POST("/mods/:id/approve", h.ApproveMod)
	admin.POST("/mods/:id/reject", h.RejectMod)
	admin.GET("/mods/:id/reviews", h.ListReviews)
	admin.PUT("/mods/:id/featured", h.SetFeatured)

	return &testEnv{r: r, db: db, tokens: tokens, uploadDir: files.UploadDir, discord: ec.discord}
}

func (e *testEnv) serve(req *http.Request, token string, hdr map[string]string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.serve(req, token, hdr)
}

type formFile struct {
	field, name string
	data        []byte
}

func (e *testEnv) multipart(t *testing.T, path, token string, fields map[string]string, files ...formFile) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(f.data)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.serve(req, token, nil)
}

func (e *testEnv) user(t *testing.T, name string, admin bool) (*domain.User, string) {
	t.Helper()
	role := domain.RoleUser
	if admin {
		role = domain.RoleAdmin
	}
	u := &domain.User{Username: name, Role: role, UserLevel: 1, UserTitle: "Newcomer"}
	if err := e.db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	tok, err := e.tokens.Issue(u.ID, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return u, tok
}

type modOpt func(*domain.Mod)

func published() modOpt {
	return func(m *domain.Mod) {
		at := time.Now().UTC()
		m.IsPublished, m.PublishedAt = true, &at
	}
}

// withArchive stores data as the mod's archive under the upload dir.
func (e *testEnv) withArchive(t *testing.T, name string, data []byte) modOpt {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.uploadDir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
	return func(m *domain.Mod) {
		size := int64(len(data))
		m.FilePath, m.FileSize, m.ExternalURL = &name, &size, nil
	}
}

func (e *testEnv) mod(t *testing.T, authorID uint, slug string, opts ...modOpt) *domain.Mod {
	t.Helper()
	url := "https://files.example.com/" + slug + ".zip"
	m := &domain.Mod{Slug: slug, AuthorID: authorID, Title: slug, ExternalURL: &url}
	for _, o := range opts {
		o(m)
	}
	if err := e.db.Create(m).Error; err != nil {
		t.Fatalf("seed mod %s: %v", slug, err)
	}
	return m
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, want, w.Body.String())
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	if got := decode[ErrorResponse](t, w).Code; got != code {
		t.Fatalf("error code = %q, want %q", got, code)
	}
}
