package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/locker"
	"github.com/vnmodhub/modhub/internal/mail"
	"github.com/vnmodhub/modhub/internal/realtime"
	"github.com/vnmodhub/modhub/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
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

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) messages() []mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mail.Message(nil), f.sent...)
}

type fakePusher struct {
	mu     sync.Mutex
	events map[uint][]realtime.Event
}

func (f *fakePusher) SendToUser(userID uint, ev realtime.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = map[uint][]realtime.Event{}
	}
	f.events[userID] = append(f.events[userID], ev)
	return 1
}

type panicPusher struct{}

func (panicPusher) SendToUser(uint, realtime.Event) int { panic("push boom") }

// pushFunc adapts a func to Pusher.
type pushFunc func(uint, realtime.Event) int

func (f pushFunc) SendToUser(id uint, ev realtime.Event) int { return f(id, ev) }

func (f *fakePusher) count(userID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events[userID])
}

// fakeFiles records deletions and stores nothing.
type fakeFiles struct {
	mu      sync.Mutex
	deleted [][2]string
	ok      bool
	saveErr error
}

func (f *fakeFiles) SaveArchive(_ context.Context, r io.Reader, name string) (string, int64, error) {
	if f.saveErr != nil {
		return "", 0, f.saveErr
	}
	n, _ := io.Copy(io.Discard, r)
	return "stored-" + name, n, nil
}

func (f *fakeFiles) SaveThumbnail(_ context.Context, r io.Reader, name string) (string, error) {
	_, _ = io.Copy(io.Discard, r)
	return "/static/thumbnails/" + name, nil
}

func (f *fakeFiles) DeleteModFiles(_ context.Context, filePath, thumb string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, [2]string{filePath, thumb})
	return f.ok
}

// lockSpy counts lock acquisitions on top of a real in-process locker.
type lockSpy struct {
	inner locker.Locker
	mu    sync.Mutex
	keys  []string
}

func (l *lockSpy) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return l.inner.Lock(ctx, key)
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, locker.ErrNotAcquired
}

// env bundles a wired service graph over one database.
type env struct {
	db     *gorm.DB
	mailer *fakeMailer
	pusher *fakePusher
	files  *fakeFiles
	lock   locker.Locker

	notes    *NotificationService
	ach      *AchievementService
	reviews  *ReviewService
	mods     *ModService
	comments *CommentService
	users    *UserService
	catalog  *Catalog
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvOn(t, newSvcDB(t))
}

// newEnvOn wires the service graph over db.
func newEnvOn(t *testing.T, db *gorm.DB) *env {
	t.Helper()
	log := zerolog.Nop()
	e := &env{
		db:     db,
		mailer: &fakeMailer{},
		pusher: &fakePusher{},
		files:  &fakeFiles{ok: true},
	}
	composer := mail.Composer{SiteURL: "https://mods.example.com"}
	e.notes = NewNotificationService(db, e.mailer, e.pusher, log)
	e.ach = NewAchievementService(db, e.notes, composer, log)
	e.catalog = NewCatalog(db, log)
	e.lock = locker.NewLocal()
	e.reviews = NewReviewService(db, e.lock, e.ach, e.notes, e.files, e.catalog, composer, log)
	e.mods = NewModService(db, e.lock, e.files, e.ach, e.notes, e.catalog, log)
	e.comments = NewCommentService(db, e.ach, e.notes, log)
	e.users = NewUserService(db, log)
	return e
}

type userOpt func(*domain.User)

func withEmail(addr string, moderation, achievement bool) userOpt {
	return func(u *domain.User) {
		u.Email = addr
		u.EmailVerified = true
		u.EmailOnModeration = moderation
		u.EmailOnAchievement = achievement
	}
}

func withPoints(p int) userOpt {
	return func(u *domain.User) {
		u.AchievementPoints = p
		lv := domain.LevelFor(p)
		u.UserLevel, u.UserTitle = lv.Level, lv.Title
	}
}

func withUserID(id uint) userOpt { return func(u *domain.User) { u.ID = id } }

func asAdmin() userOpt { return func(u *domain.User) { u.Role = domain.RoleAdmin } }

func seedUser(t *testing.T, db *gorm.DB, name string, opts ...userOpt) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, Role: domain.RoleUser, UserLevel: 1, UserTitle: "Newcomer"}
	for _, o := range opts {
		o(u)
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u
}

type modOpt func(*domain.Mod)

func withID(id uint) modOpt { return func(m *domain.Mod) { m.ID = id } }

func withFile(path, thumb string) modOpt {
	return func(m *domain.Mod) {
		size := int64(10)
		m.FilePath, m.FileSize, m.ExternalURL = &path, &size, nil
		m.ThumbnailURL = thumb
	}
}

func published() modOpt {
	return func(m *domain.Mod) {
		at := time.Now().UTC()
		m.IsPublished, m.PublishedAt = true, &at
	}
}

func seedMod(t *testing.T, db *gorm.DB, authorID uint, slug string, opts ...modOpt) *domain.Mod {
	t.Helper()
	url := "https://files.example.com/" + slug + ".zip"
	m := &domain.Mod{
		Slug:        slug,
		AuthorID:    authorID,
		Title:       slug,
		ExternalURL: &url,
	}
	for _, o := range opts {
		o(m)
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed mod %s: %v", slug, err)
	}
	return m
}

func seedAchievement(t *testing.T, db *gorm.DB, name, metric string, threshold int64, points int) *domain.Achievement {
	t.Helper()
	a := &domain.Achievement{Name: name, RequirementType: metric, RequirementValue: threshold, Points: points}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("seed achievement %s: %v", name, err)
	}
	return a
}

func notificationsOf(t *testing.T, db *gorm.DB, userID uint, typ string) []domain.Notification {
	t.Helper()
	var out []domain.Notification
	q := db.Where("user_id = ?", userID)
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	if err := q.Order("id").Find(&out).Error; err != nil {
		t.Fatalf("load notifications: %v", err)
	}
	return out
}

func reloadUser(t *testing.T, db *gorm.DB, id uint) *domain.User {
	t.Helper()
	u, err := repo.GetUser(context.Background(), db, id)
	if err != nil {
		t.Fatalf("reload user %d: %v", id, err)
	}
	return u
}

func strp(s string) *string { return &s }

var errBoom = errors.New("boom")
