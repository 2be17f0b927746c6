// Package services – ReviewService
//
// ReviewService is the moderation pipeline. A decision runs in two phases:
//
//  1. A single transaction that changes the mod (publish or delete), writes
//     the review row, evaluates the author's mod_upload achievements and
//     records the author's notification. Any failure rolls all of it back.
//  2. A post-commit phase of best-effort side effects: email, live push,
//     removing the rejected mod's files, and refreshing the search index.
//     Failures there are logged and counted, never returned.
//
// Decisions on the same mod are serialized through a Locker held for the
// transaction only, and the unique
// review row per mod guarantees that a mod never gets two terminal outcomes
// even when two processes race.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/locker"
	"github.com/vnmodhub/modhub/internal/mail"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/storage"
	"github.com/vnmodhub/modhub/internal/utils"
)

// Decision is the result of a moderation action.
type Decision struct {
	Success bool `json:"success"`
	Removed bool `json:"removed,omitempty"`
}

// ReviewService approves and rejects submitted mods.
type ReviewService struct {
	DB           *gorm.DB
	Locker       locker.Locker
	Achievements *AchievementService
	Notifier     *NotificationService
	Files        storage.Custodian
	Catalog      *Catalog
	Composer     mail.Composer
	Log          zerolog.Logger

	// SideEffectTimeout bounds the post-commit phase of a decision.
	SideEffectTimeout time.Duration
	now               func() time.Time
}

// NewReviewService wires the pipeline. files and catalog may be nil.
func NewReviewService(
	db *gorm.DB,
	lk locker.Locker,
	achievements *AchievementService,
	notifier *NotificationService,
	files storage.Custodian,
	catalog *Catalog,
	composer mail.Composer,
	log zerolog.Logger,
) *ReviewService {
	if lk == nil {
		lk = locker.NewLocal()
	}
	return &ReviewService{
		DB:           db,
		Locker:       lk,
		Achievements: achievements,
		Notifier:     notifier,
		Files:        files,
		Catalog:      catalog,
		Composer:     composer,
		Log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Approve publishes modID on behalf of adminID. Approving a mod that is
// already approved succeeds without writing anything.
func (s *ReviewService) Approve(ctx context.Context, modID, adminID uint, reason *string) (Decision, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "Approve", trace.WithAttributes(
		attribute.Int64("mod.id", int64(modID)),
		attribute.Int64("admin.id", int64(adminID)),
	))
	defer span.End()

	unlock, err := s.Locker.Lock(ctx, locker.ModKey(modID))
	if err != nil {
		span.RecordError(err)
		return Decision{}, fmt.Errorf("approve mod %d: %w", modID, err)
	}
	defer unlock()

	reason = cleanReason(reason)
	pc := &postCommit{}
	var noop bool

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.GetModForUpdate(ctx, tx, modID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrModNotFound
			}
			return err
		}

		switch rv, err := repo.GetModReview(ctx, tx, modID); {
		case err == nil && rv.Status == domain.ReviewApproved:
			noop = true
			return nil
		case err == nil:
			return ErrAlreadyReviewed
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		if m.IsPublished {
			// Published without a review row (e.g. seeded data): nothing to decide.
			noop = true
			return nil
		}

		if err := repo.SetModPublished(ctx, tx, m.ID, true, s.clock()); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		if _, err := repo.InsertModReview(ctx, tx, m.ID, adminID, domain.ReviewApproved, reason); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrAlreadyReviewed
			}
			return fmt.Errorf("insert review: %w", err)
		}

		s.Achievements.evaluateTx(ctx, tx, pc, m.AuthorID, domain.MetricModUpload, repo.CountPublishedByAuthor)

		title := m.Title
		id := m.ID
		if _, err := s.Notifier.emit(ctx, tx, pc, Notice{
			UserID:    m.AuthorID,
			Type:      domain.NotifyModApproved,
			Title:     "Mod approved",
			Message:   withReason(fmt.Sprintf("Your mod %q has been approved and is now published.", title), reason),
			RelatedID: &id,
			Category:  EmailModeration,
			Email: func(u *domain.User) mail.Message {
				return s.Composer.ModApproved(u.Email, u.Username, title, id, deref(reason))
			},
		}); err != nil {
			return fmt.Errorf("notify author: %w", err)
		}
		return nil
	})
	unlock()
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrModNotFound) || errors.Is(err, ErrAlreadyReviewed) {
			return Decision{}, err
		}
		s.Log.Error().Err(err).Uint("mod_id", modID).Uint("admin_id", adminID).Msg("approve failed")
		return Decision{}, fmt.Errorf("approve mod %d: %w", modID, err)
	}
	if noop {
		span.SetAttributes(attribute.Bool("review.noop", true))
		return Decision{Success: true}, nil
	}

	moderationDecisions.WithLabelValues(domain.ReviewApproved).Inc()
	s.Log.Info().Uint("mod_id", modID).Uint("admin_id", adminID).Msg("mod approved")
	pc.add(s.Catalog.refresh)
	pc.run(ctx, s.SideEffectTimeout, s.Log)
	return Decision{Success: true}, nil
}

// Reject removes modID on behalf of adminID. The author is notified, the
// mod row and everything hanging off it are deleted, and the stored files
// are removed after commit. A mod that already has a decision cannot be
// rejected.
func (s *ReviewService) Reject(ctx context.Context, modID, adminID uint, reason *string) (Decision, error) {
	tr := otel.Tracer("services/ReviewService")
	ctx, span := tr.Start(ctx, "Reject", trace.WithAttributes(
		attribute.Int64("mod.id", int64(modID)),
		attribute.Int64("admin.id", int64(adminID)),
	))
	defer span.End()

	unlock, err := s.Locker.Lock(ctx, locker.ModKey(modID))
	if err != nil {
		span.RecordError(err)
		return Decision{}, fmt.Errorf("reject mod %d: %w", modID, err)
	}
	defer unlock()

	reason = cleanReason(reason)
	pc := &postCommit{}
	var filePath, thumb string
	var wasPublished bool

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.GetModForUpdate(ctx, tx, modID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrModNotFound
			}
			return err
		}
		if _, err := repo.GetModReview(ctx, tx, modID); err == nil {
			return ErrAlreadyReviewed
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		filePath, thumb, wasPublished = m.LocalFile(), m.ThumbnailURL, m.IsPublished

		title := m.Title
		id := m.ID
		if _, err := s.Notifier.emit(ctx, tx, pc, Notice{
			UserID:    m.AuthorID,
			Type:      domain.NotifyModRejected,
			Title:     "Mod not approved",
			Message:   withReason(fmt.Sprintf("Your mod %q was not approved and has been removed.", title), reason),
			RelatedID: &id,
			Category:  EmailModeration,
			Email: func(u *domain.User) mail.Message {
				return s.Composer.ModRejected(u.Email, u.Username, title, deref(reason))
			},
		}); err != nil {
			return fmt.Errorf("notify author: %w", err)
		}

		// The review row claims the decision; it goes away with the mod.
		if _, err := repo.InsertModReview(ctx, tx, m.ID, adminID, domain.ReviewRejected, reason); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrAlreadyReviewed
			}
			return fmt.Errorf("insert review: %w", err)
		}
		if err := repo.DeleteMod(ctx, tx, m.ID); err != nil {
			return fmt.Errorf("delete mod: %w", err)
		}
		return nil
	})
	unlock()
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrModNotFound) || errors.Is(err, ErrAlreadyReviewed) {
			return Decision{}, err
		}
		s.Log.Error().Err(err).Uint("mod_id", modID).Uint("admin_id", adminID).Msg("reject failed")
		return Decision{}, fmt.Errorf("reject mod %d: %w", modID, err)
	}

	moderationDecisions.WithLabelValues(domain.ReviewRejected).Inc()
	s.Log.Info().Uint("mod_id", modID).Uint("admin_id", adminID).Msg("mod rejected")
	if s.Files != nil && (filePath != "" || thumb != "") {
		pc.add(func(ctx context.Context) {
			if !s.Files.DeleteModFiles(ctx, filePath, thumb) {
				bestEffortFailures.WithLabelValues(failFiles).Inc()
				s.Log.Warn().Uint("mod_id", modID).Str("file", filePath).Msg("mod files not fully removed")
			}
		})
	}
	if wasPublished {
		pc.add(s.Catalog.refresh)
	}
	pc.run(ctx, s.SideEffectTimeout, s.Log)
	return Decision{Success: true, Removed: true}, nil
}

// PendingQueue returns unpublished mods that have no review yet, oldest
// first, with the total count.
func (s *ReviewService) PendingQueue(ctx context.Context, page, pageSize int) ([]domain.Mod, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return repo.ListPending(ctx, s.DB, utils.Offset(page, pageSize), pageSize)
}

// Reviews returns the moderation history of modID.
func (s *ReviewService) Reviews(ctx context.Context, modID uint) ([]domain.ModReview, error) {
	if _, err := repo.GetMod(ctx, s.DB, modID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrModNotFound
		}
		return nil, err
	}
	return repo.ListModReviews(ctx, s.DB, modID)
}

func (s *ReviewService) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now()
}

func cleanReason(r *string) *string {
	if r == nil {
		return nil
	}
	t := strings.TrimSpace(*r)
	if t == "" {
		return nil
	}
	return &t
}

func withReason(msg string, reason *string) string {
	if reason == nil {
		return msg
	}
	return msg + " Reason: " + *reason
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
