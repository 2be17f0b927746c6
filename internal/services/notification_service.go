// Package services – NotificationService
//
// NotificationService persists user-facing notifications and, once the
// surrounding transaction has committed, pushes them to connected clients and
// forwards an email when the recipient's preferences allow it. Rows are
// written with the caller's transaction handle so that a rolled-back decision
// leaves no notification behind.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/mail"
	"github.com/vnmodhub/modhub/internal/realtime"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/utils"
)

// EmailCategory selects which user preference gates an email.
type EmailCategory int

// Email categories.
const (
	EmailNone EmailCategory = iota
	EmailModeration
	EmailAchievement
)

// Pusher delivers live events to a user's open connections.
type Pusher interface {
	SendToUser(userID uint, ev realtime.Event) int
}

// Notice describes a notification to emit. When Email is set and the
// recipient opted in to Category, the composed message is sent after commit.
type Notice struct {
	UserID    uint
	Type      string
	Title     string
	Message   string
	RelatedID *uint

	Category EmailCategory
	Email    func(u *domain.User) mail.Message
}

// NotificationService creates and manages notifications.
type NotificationService struct {
	DB     *gorm.DB
	Mailer mail.Mailer
	Pusher Pusher
	Log    zerolog.Logger

	// SideEffectTimeout bounds post-commit delivery for standalone calls.
	SideEffectTimeout time.Duration
}

// NewNotificationService constructs a NotificationService. mailer and pusher
// may be nil, which disables the respective channel.
func NewNotificationService(db *gorm.DB, mailer mail.Mailer, pusher Pusher, log zerolog.Logger) *NotificationService {
	return &NotificationService{DB: db, Mailer: mailer, Pusher: pusher, Log: log}
}

// EmailAllowed reports whether u accepts mail of category c.
func EmailAllowed(u *domain.User, c EmailCategory) bool {
	if !u.CanEmail() {
		return false
	}
	switch c {
	case EmailModeration:
		return u.EmailOnModeration
	case EmailAchievement:
		return u.EmailOnAchievement
	default:
		return false
	}
}

// Create persists a notification outside of any ambient transaction and
// delivers it immediately.
func (s *NotificationService) Create(ctx context.Context, userID uint, typ, title, message string, relatedID *uint) (*domain.Notification, error) {
	pc := &postCommit{}
	n, err := s.emit(ctx, s.DB, pc, Notice{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		RelatedID: relatedID,
	})
	if err != nil {
		return nil, err
	}
	pc.run(ctx, s.SideEffectTimeout, s.Log)
	return n, nil
}

// Send is Create for a full Notice, including the optional email.
func (s *NotificationService) Send(ctx context.Context, in Notice) (*domain.Notification, error) {
	pc := &postCommit{}
	n, err := s.emit(ctx, s.DB, pc, in)
	if err != nil {
		return nil, err
	}
	pc.run(ctx, s.SideEffectTimeout, s.Log)
	return n, nil
}

// emit writes the row with tx and schedules push and email on pc.
func (s *NotificationService) emit(ctx context.Context, tx *gorm.DB, pc *postCommit, in Notice) (*domain.Notification, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "Emit", trace.WithAttributes(
		attribute.Int64("user.id", int64(in.UserID)),
		attribute.String("notification.type", in.Type),
	))
	defer span.End()

	n := &domain.Notification{
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     strings.TrimSpace(in.Title),
		Message:   strings.TrimSpace(in.Message),
		RelatedID: in.RelatedID,
	}
	if err := repo.InsertNotification(ctx, tx, n); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.Pusher != nil {
		snapshot := *n
		pc.add(func(context.Context) {
			s.Pusher.SendToUser(snapshot.UserID, realtime.Event{Type: "notification", Data: snapshot})
		})
	}

	if in.Email != nil && in.Category != EmailNone && s.Mailer != nil {
		u, err := repo.GetUser(ctx, tx, in.UserID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		if err == nil && EmailAllowed(u, in.Category) {
			msg := in.Email(u)
			pc.add(func(ctx context.Context) { s.deliver(ctx, in.UserID, n.RelatedID, msg) })
		}
	}
	return n, nil
}

// deliver sends msg and logs failures; email never fails the caller.
func (s *NotificationService) deliver(ctx context.Context, userID uint, relatedID *uint, msg mail.Message) {
	if err := s.Mailer.Send(ctx, msg); err != nil {
		bestEffortFailures.WithLabelValues(failEmail).Inc()
		ev := s.Log.Warn().Err(err).Uint("user_id", userID).Str("subject", msg.Subject)
		if relatedID != nil {
			ev = ev.Uint("related_id", *relatedID)
		}
		ev.Msg("email delivery failed")
	}
}

// List returns a page of userID's notifications, newest first, and the total.
func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, page, pageSize int) ([]domain.Notification, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return repo.ListNotifications(ctx, s.DB, userID, unreadOnly, utils.Offset(page, pageSize), pageSize)
}

// UnreadCount returns how many unread notifications userID has.
func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return repo.CountUnread(ctx, s.DB, userID)
}

// MarkRead marks one of userID's notifications read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id uint) error {
	if err := repo.MarkNotificationRead(ctx, s.DB, userID, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}

// MarkAllRead marks every notification of userID read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return repo.MarkAllNotificationsRead(ctx, s.DB, userID)
}

// Delete removes one of userID's notifications.
func (s *NotificationService) Delete(ctx context.Context, userID, id uint) error {
	if err := repo.DeleteNotification(ctx, s.DB, userID, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}
