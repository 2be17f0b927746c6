// Package services – CommentService
//
// CommentService manages comments on published mods. Posting a comment
// evaluates the commenter's comment_count achievements and notifies the mod
// author when someone else commented.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/utils"
)

// CommentService adds, lists and deletes comments.
type CommentService struct {
	DB           *gorm.DB
	Achievements *AchievementService
	Notifier     *NotificationService
	Log          zerolog.Logger

	// MaxLen caps comment bodies by rune length.
	MaxLen            int
	SideEffectTimeout time.Duration
}

// NewCommentService constructs a CommentService with a 2000 rune limit.
func NewCommentService(db *gorm.DB, achievements *AchievementService, notifier *NotificationService, log zerolog.Logger) *CommentService {
	return &CommentService{
		DB:           db,
		Achievements: achievements,
		Notifier:     notifier,
		Log:          log,
		MaxLen:       2000,
	}
}

// Add posts body on modID as userID.
func (s *CommentService) Add(ctx context.Context, userID, modID uint, body string) (*domain.Comment, error) {
	tr := otel.Tracer("services/CommentService")
	ctx, span := tr.Start(ctx, "Add", trace.WithAttributes(
		attribute.Int64("mod.id", int64(modID)),
		attribute.Int64("user.id", int64(userID)),
	))
	defer span.End()

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyComment
	}
	if s.MaxLen > 0 && utf8.RuneCountInString(body) > s.MaxLen {
		return nil, ErrTooLong
	}

	pc := &postCommit{}
	c := &domain.Comment{ModID: modID, UserID: userID, Body: body}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.GetMod(ctx, tx, modID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrModNotFound
			}
			return err
		}
		if !m.IsPublished {
			return ErrModNotFound
		}
		if err := repo.CreateComment(ctx, tx, c); err != nil {
			return err
		}

		s.Achievements.evaluateTx(ctx, tx, pc, userID, domain.MetricCommentCount, repo.CountCommentsByUser)

		if m.AuthorID != userID && s.Notifier != nil {
			id := m.ID
			if _, err := s.Notifier.emit(ctx, tx, pc, Notice{
				UserID:    m.AuthorID,
				Type:      domain.NotifyComment,
				Title:     "New comment",
				Message:   fmt.Sprintf("Someone commented on %q.", m.Title),
				RelatedID: &id,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	pc.run(ctx, s.SideEffectTimeout, s.Log)
	return c, nil
}

// List returns a page of comments on a published mod, oldest first.
func (s *CommentService) List(ctx context.Context, modID uint, page, pageSize int) ([]domain.Comment, int64, error) {
	m, err := repo.GetMod(ctx, s.DB, modID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrModNotFound
		}
		return nil, 0, err
	}
	if !m.IsPublished {
		return nil, 0, ErrModNotFound
	}
	page, pageSize = normalizePage(page, pageSize)
	return repo.ListComments(ctx, s.DB, modID, utils.Offset(page, pageSize), pageSize)
}

// Stats returns the comment count and latest update time of modID, used for
// conditional GETs.
func (s *CommentService) Stats(ctx context.Context, modID uint) (int64, *time.Time, error) {
	return repo.CommentsStats(ctx, s.DB, modID)
}

// Delete removes a comment. Its author and admins may delete it.
func (s *CommentService) Delete(ctx context.Context, actor Actor, id uint) error {
	c, err := repo.GetComment(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCommentNotFound
		}
		return err
	}
	if !actor.Admin && (actor.ID == 0 || actor.ID != c.UserID) {
		return ErrForbidden
	}
	if err := repo.DeleteComment(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCommentNotFound
		}
		return err
	}
	return nil
}
