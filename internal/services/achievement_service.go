// Package services – AchievementService
//
// AchievementService evaluates a user's metric against the achievement
// catalog and awards whatever thresholds were crossed. Each award inserts a
// UserAchievement row (idempotent on (user, achievement)), adds the points,
// recomputes level and title, and emits the unlock notification plus a
// level-up notification when the level rose.
//
// Every operation comes in two flavours: a standalone call that opens and
// commits its own transaction, and a Tx variant that joins the caller's
// transaction and defers its side effects to the caller's post-commit phase.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/mail"
	"github.com/vnmodhub/modhub/internal/repo"
)

// AchievementService awards achievements and lists them.
type AchievementService struct {
	DB       *gorm.DB
	Notifier *NotificationService
	Composer mail.Composer
	Log      zerolog.Logger

	SideEffectTimeout time.Duration
	now               func() time.Time
}

// NewAchievementService constructs an AchievementService.
func NewAchievementService(db *gorm.DB, notifier *NotificationService, composer mail.Composer, log zerolog.Logger) *AchievementService {
	return &AchievementService{
		DB:       db,
		Notifier: notifier,
		Composer: composer,
		Log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CheckAndAward awards every achievement of metricType whose threshold is
// at or below value and that userID does not hold yet. It returns the newly
// awarded achievements, in threshold order.
func (s *AchievementService) CheckAndAward(ctx context.Context, userID uint, metricType string, value int64) ([]domain.Achievement, error) {
	pc := &postCommit{}
	var awarded []domain.Achievement
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		awarded, err = s.CheckAndAwardTx(ctx, tx, pc, userID, metricType, value)
		return err
	})
	if err != nil {
		return nil, err
	}
	pc.run(ctx, s.SideEffectTimeout, s.Log)
	return awarded, nil
}

// CheckAndAwardTx is CheckAndAward inside the caller's transaction.
func (s *AchievementService) CheckAndAwardTx(ctx context.Context, tx *gorm.DB, pc *postCommit, userID uint, metricType string, value int64) ([]domain.Achievement, error) {
	tr := otel.Tracer("services/AchievementService")
	ctx, span := tr.Start(ctx, "CheckAndAward", trace.WithAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.String("achievement.metric", metricType),
		attribute.Int64("achievement.value", value),
	))
	defer span.End()

	candidates, err := repo.UnearnedAchievements(ctx, tx, userID, metricType, value)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list unearned achievements: %w", err)
	}

	var awarded []domain.Achievement
	for i := range candidates {
		ok, err := s.award(ctx, tx, pc, userID, &candidates[i])
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if ok {
			awarded = append(awarded, candidates[i])
		}
	}
	span.SetAttributes(attribute.Int("achievement.awarded", len(awarded)))
	return awarded, nil
}

// MetricFunc computes a user's current value for one metric.
type MetricFunc func(ctx context.Context, db *gorm.DB, userID uint) (int64, error)

// evaluateTx runs CheckAndAwardTx for metricType in a savepoint of tx. A
// failure rolls back the awards only, leaving the caller's work intact, and
// is logged instead of returned.
func (s *AchievementService) evaluateTx(ctx context.Context, tx *gorm.DB, pc *postCommit, userID uint, metricType string, value MetricFunc) {
	if s == nil {
		return
	}
	inner := &postCommit{}
	err := tx.Transaction(func(stx *gorm.DB) error {
		n, err := value(ctx, stx, userID)
		if err != nil {
			return err
		}
		_, err = s.CheckAndAwardTx(ctx, stx, inner, userID, metricType, n)
		return err
	})
	if err != nil {
		bestEffortFailures.WithLabelValues(failAchievement).Inc()
		s.Log.Warn().Err(err).Uint("user_id", userID).Str("metric", metricType).Msg("achievement evaluation failed")
		return
	}
	pc.merge(inner)
}

// Award grants achievementID to userID. It reports false, without error,
// when the user already holds it.
func (s *AchievementService) Award(ctx context.Context, userID, achievementID uint) (bool, error) {
	pc := &postCommit{}
	var awarded bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		awarded, err = s.AwardTx(ctx, tx, pc, userID, achievementID)
		return err
	})
	if err != nil {
		return false, err
	}
	pc.run(ctx, s.SideEffectTimeout, s.Log)
	return awarded, nil
}

// AwardTx is Award inside the caller's transaction.
func (s *AchievementService) AwardTx(ctx context.Context, tx *gorm.DB, pc *postCommit, userID, achievementID uint) (bool, error) {
	a, err := repo.GetAchievement(ctx, tx, achievementID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrAchievementNotFound
		}
		return false, err
	}
	return s.award(ctx, tx, pc, userID, a)
}

func (s *AchievementService) award(ctx context.Context, tx *gorm.DB, pc *postCommit, userID uint, a *domain.Achievement) (bool, error) {
	inserted, err := repo.InsertUserAchievement(ctx, tx, userID, a.ID, s.clock())
	if err != nil {
		return false, fmt.Errorf("award achievement %d to user %d: %w", a.ID, userID, err)
	}
	if !inserted {
		return false, nil
	}

	u, err := repo.GetUserForUpdate(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrUserNotFound
		}
		return false, err
	}
	prev, next := u.AddPoints(a.Points)
	if err := repo.SaveProgress(ctx, tx, u); err != nil {
		return false, fmt.Errorf("save progress for user %d: %w", userID, err)
	}

	if next.Level > prev.Level {
		if _, err := s.Notifier.emit(ctx, tx, pc, Notice{
			UserID:  userID,
			Type:    domain.NotifyLevelUp,
			Title:   "Level up!",
			Message: fmt.Sprintf("You reached level %d: %s.", next.Level, next.Title),
		}); err != nil {
			return false, err
		}
	}

	achievementID := a.ID
	name, points := a.Name, a.Points
	if _, err := s.Notifier.emit(ctx, tx, pc, Notice{
		UserID:    userID,
		Type:      domain.NotifyAchievementUnlocked,
		Title:     "Achievement unlocked",
		Message:   fmt.Sprintf("You unlocked %q (+%d points).", name, points),
		RelatedID: &achievementID,
		Category:  EmailAchievement,
		Email: func(u *domain.User) mail.Message {
			return s.Composer.AchievementUnlocked(u.Email, u.Username, name, points)
		},
	}); err != nil {
		return false, err
	}

	pc.add(func(context.Context) { achievementsAwarded.Inc() })
	s.Log.Info().Uint("user_id", userID).Uint("achievement_id", a.ID).Int("points", a.Points).
		Int("level", next.Level).Msg("achievement awarded")
	return true, nil
}

// List returns the catalog visible to viewerID: every non-hidden achievement
// plus the hidden ones viewerID has earned. viewerID 0 means anonymous.
func (s *AchievementService) List(ctx context.Context, viewerID uint) ([]domain.Achievement, []domain.UserAchievement, error) {
	all, err := repo.ListAchievements(ctx, s.DB, true)
	if err != nil {
		return nil, nil, err
	}
	var earned []domain.UserAchievement
	if viewerID != 0 {
		if earned, err = repo.ListUserAchievements(ctx, s.DB, viewerID); err != nil {
			return nil, nil, err
		}
	}
	held := make(map[uint]struct{}, len(earned))
	for _, ua := range earned {
		held[ua.AchievementID] = struct{}{}
	}
	out := make([]domain.Achievement, 0, len(all))
	for _, a := range all {
		if _, ok := held[a.ID]; a.IsHidden && !ok {
			continue
		}
		out = append(out, a)
	}
	return out, earned, nil
}

// Earned returns userID's achievements, each with its definition.
func (s *AchievementService) Earned(ctx context.Context, userID uint) ([]domain.UserAchievement, error) {
	return repo.ListUserAchievements(ctx, s.DB, userID)
}

// Upsert creates or updates an achievement definition by name.
func (s *AchievementService) Upsert(ctx context.Context, a *domain.Achievement) error {
	return repo.UpsertAchievement(ctx, s.DB, a)
}

func (s *AchievementService) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now()
}
