// Package services – ModService
//
// ModService owns the author-facing life of a mod: submission with its
// archive or external link, edits, deletion, visibility rules for unpublished
// mods, public listing, download accounting, and featuring. Moderation
// decisions live in ReviewService.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/locker"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/storage"
	"github.com/vnmodhub/modhub/internal/utils"
)

// Field limits, in runes.
const (
	maxTitleRunes       = 200
	maxShortDescRunes   = 300
	maxDescriptionRunes = 20000
	maxVersionRunes     = 32
	maxTags             = 10
	maxTagRunes         = 32
	maxScreenshots      = 12
	maxSlugAttempts     = 50
)

// Actor is the authenticated caller of an operation. The zero value is an
// anonymous visitor.
type Actor struct {
	ID    uint
	Admin bool
}

// owns reports whether a is the author of m or an admin.
func (a Actor) owns(m *domain.Mod) bool {
	return a.Admin || (a.ID != 0 && a.ID == m.AuthorID)
}

// Upload is a file received from a client.
type Upload struct {
	Name string
	Body io.Reader
}

// ModInput is a new submission. Exactly one of Archive and ExternalURL
// must be provided.
type ModInput struct {
	Title            string
	Description      string
	ShortDescription string
	Version          string
	Tags             []string
	Requirements     map[string]string
	Screenshots      []string
	IsNSFW           bool
	ExternalURL      string

	Archive   *Upload
	Thumbnail *Upload
}

// ModPatch is a partial edit. Nil fields are left unchanged.
type ModPatch struct {
	Title            *string
	Description      *string
	ShortDescription *string
	Version          *string
	Tags             *[]string
	Requirements     *map[string]string
	Screenshots      *[]string
	IsNSFW           *bool
}

// ListQuery selects a page of the public listing.
type ListQuery struct {
	Page     int
	PageSize int
	Tag      string
	Sort     string
	Featured bool
}

// ModService manages mods.
type ModService struct {
	DB           *gorm.DB
	Locker       locker.Locker
	Files        storage.Custodian
	Achievements *AchievementService
	Notifier     *NotificationService
	Catalog      *Catalog
	Log          zerolog.Logger

	SideEffectTimeout time.Duration
}

// NewModService constructs a ModService.
func NewModService(db *gorm.DB, lk locker.Locker, files storage.Custodian, achievements *AchievementService, notifier *NotificationService, catalog *Catalog, log zerolog.Logger) *ModService {
	if lk == nil {
		lk = locker.NewLocal()
	}
	return &ModService{
		DB:           db,
		Locker:       lk,
		Files:        files,
		Achievements: achievements,
		Notifier:     notifier,
		Catalog:      catalog,
		Log:          log,
	}
}

// Create validates in, stores its files and inserts the mod unpublished,
// under a slug derived from the title. Stored files are removed again if
// the insert fails.
func (s *ModService) Create(ctx context.Context, authorID uint, in ModInput) (*domain.Mod, error) {
	tr := otel.Tracer("services/ModService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.Int64("user.id", int64(authorID))))
	defer span.End()

	m, err := s.buildMod(authorID, in)
	if err != nil {
		return nil, err
	}

	if in.Archive != nil {
		if s.Files == nil {
			return nil, fmt.Errorf("%w: uploads are disabled", ErrInvalidMod)
		}
		name, size, err := s.Files.SaveArchive(ctx, in.Archive.Body, in.Archive.Name)
		if err != nil {
			return nil, mapStorageErr(err)
		}
		m.FilePath, m.FileSize = &name, &size
	}
	if in.Thumbnail != nil && s.Files != nil {
		u, err := s.Files.SaveThumbnail(ctx, in.Thumbnail.Body, in.Thumbnail.Name)
		if err != nil {
			s.discardFiles(ctx, m)
			return nil, mapStorageErr(err)
		}
		m.ThumbnailURL = u
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := s.freeSlug(ctx, tx, domain.Slugify(m.Title))
		if err != nil {
			return err
		}
		m.Slug = slug
		return repo.CreateMod(ctx, tx, m)
	})
	if err != nil {
		span.RecordError(err)
		s.discardFiles(ctx, m)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("mod.id", int64(m.ID)))
	s.Log.Info().Uint("mod_id", m.ID).Uint("user_id", authorID).Str("slug", m.Slug).Msg("mod submitted")
	return m, nil
}

func (s *ModService) buildMod(authorID uint, in ModInput) (*domain.Mod, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidMod)
	}
	if err := checkLen("title", title, maxTitleRunes); err != nil {
		return nil, err
	}
	desc := strings.TrimSpace(in.Description)
	short := strings.TrimSpace(in.ShortDescription)
	version := strings.TrimSpace(in.Version)
	for _, f := range []struct {
		name, v string
		max     int
	}{
		{"description", desc, maxDescriptionRunes},
		{"short_description", short, maxShortDescRunes},
		{"version", version, maxVersionRunes},
	} {
		if err := checkLen(f.name, f.v, f.max); err != nil {
			return nil, err
		}
	}
	tags, err := cleanTags(in.Tags)
	if err != nil {
		return nil, err
	}
	shots, err := cleanScreenshots(in.Screenshots)
	if err != nil {
		return nil, err
	}

	ext := strings.TrimSpace(in.ExternalURL)
	switch {
	case in.Archive != nil && ext != "":
		return nil, fmt.Errorf("%w: provide either an archive or an external url, not both", ErrInvalidMod)
	case in.Archive == nil && ext == "":
		return nil, fmt.Errorf("%w: an archive or an external url is required", ErrInvalidMod)
	}

	m := &domain.Mod{
		AuthorID:         authorID,
		Title:            title,
		Description:      desc,
		ShortDescription: short,
		Version:          version,
		Tags:             datatypes.JSONSlice[string](tags),
		Requirements:     domain.NewRequirements(in.Requirements),
		Screenshots:      datatypes.JSONSlice[string](shots),
		IsNSFW:           in.IsNSFW,
	}
	if ext != "" {
		if !isHTTPURL(ext) {
			return nil, fmt.Errorf("%w: external url must be http(s)", ErrInvalidMod)
		}
		m.ExternalURL = &ext
	}
	return m, nil
}

// freeSlug returns base, or base-2, base-3, ... whichever is unused.
func (s *ModService) freeSlug(ctx context.Context, tx *gorm.DB, base string) (string, error) {
	for i := 1; i <= maxSlugAttempts; i++ {
		cand := base
		if i > 1 {
			cand = base + "-" + strconv.Itoa(i)
		}
		taken, err := repo.SlugExists(ctx, tx, cand)
		if err != nil {
			return "", err
		}
		if !taken {
			return cand, nil
		}
	}
	return "", ErrSlugTaken
}

func (s *ModService) discardFiles(ctx context.Context, m *domain.Mod) {
	if s.Files == nil {
		return
	}
	if !s.Files.DeleteModFiles(ctx, m.LocalFile(), m.ThumbnailURL) {
		bestEffortFailures.WithLabelValues(failFiles).Inc()
	}
}

// Update applies patch to modID. Only the author may edit a mod.
func (s *ModService) Update(ctx context.Context, actor Actor, modID uint, patch ModPatch) (*domain.Mod, error) {
	tr := otel.Tracer("services/ModService")
	ctx, span := tr.Start(ctx, "Update", trace.WithAttributes(attribute.Int64("mod.id", int64(modID))))
	defer span.End()

	fields := map[string]any{}
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title is required", ErrInvalidMod)
		}
		if err := checkLen("title", t, maxTitleRunes); err != nil {
			return nil, err
		}
		fields["title"] = t
	}
	for col, f := range map[string]struct {
		v   *string
		max int
	}{
		"description":       {patch.Description, maxDescriptionRunes},
		"short_description": {patch.ShortDescription, maxShortDescRunes},
		"version":           {patch.Version, maxVersionRunes},
	} {
		if f.v == nil {
			continue
		}
		v := strings.TrimSpace(*f.v)
		if err := checkLen(col, v, f.max); err != nil {
			return nil, err
		}
		fields[col] = v
	}
	if patch.Tags != nil {
		tags, err := cleanTags(*patch.Tags)
		if err != nil {
			return nil, err
		}
		fields["tags"] = datatypes.JSONSlice[string](tags)
	}
	if patch.Screenshots != nil {
		shots, err := cleanScreenshots(*patch.Screenshots)
		if err != nil {
			return nil, err
		}
		fields["screenshots"] = datatypes.JSONSlice[string](shots)
	}
	if patch.Requirements != nil {
		fields["requirements"] = domain.NewRequirements(*patch.Requirements)
	}
	if patch.IsNSFW != nil {
		fields["is_nsfw"] = *patch.IsNSFW
	}

	var out *domain.Mod
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.GetModForUpdate(ctx, tx, modID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrModNotFound
			}
			return err
		}
		if actor.ID == 0 || actor.ID != m.AuthorID {
			return ErrForbidden
		}
		if len(fields) > 0 {
			if err := repo.UpdateModFields(ctx, tx, modID, fields); err != nil {
				return err
			}
		}
		out, err = repo.GetMod(ctx, tx, modID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if out.IsPublished && len(fields) > 0 {
		s.Catalog.refresh(ctx)
	}
	return out, nil
}

// Delete removes modID. The author or an admin may delete; when an admin
// removes someone else's mod the author is notified. Files are removed
// after commit.
func (s *ModService) Delete(ctx context.Context, actor Actor, modID uint) error {
	tr := otel.Tracer("services/ModService")
	ctx, span := tr.Start(ctx, "Delete", trace.WithAttributes(attribute.Int64("mod.id", int64(modID))))
	defer span.End()

	// Same lock as moderation so a delete never interleaves with a decision.
	unlock, err := s.Locker.Lock(ctx, locker.ModKey(modID))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete mod %d: %w", modID, err)
	}
	defer unlock()

	pc := &postCommit{}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.GetModForUpdate(ctx, tx, modID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrModNotFound
			}
			return err
		}
		if !actor.owns(m) {
			return ErrForbidden
		}
		if actor.ID != m.AuthorID && s.Notifier != nil {
			id := m.ID
			if _, err := s.Notifier.emit(ctx, tx, pc, Notice{
				UserID:    m.AuthorID,
				Type:      domain.NotifyModDeleted,
				Title:     "Mod removed",
				Message:   fmt.Sprintf("Your mod %q was removed by a moderator.", m.Title),
				RelatedID: &id,
			}); err != nil {
				return err
			}
		}
		if err := repo.DeleteMod(ctx, tx, m.ID); err != nil {
			return err
		}

		filePath, thumb, published := m.LocalFile(), m.ThumbnailURL, m.IsPublished
		if s.Files != nil {
			pc.add(func(ctx context.Context) {
				if !s.Files.DeleteModFiles(ctx, filePath, thumb) {
					bestEffortFailures.WithLabelValues(failFiles).Inc()
					s.Log.Warn().Uint("mod_id", modID).Msg("mod files not fully removed")
				}
			})
		}
		if published {
			pc.add(s.Catalog.refresh)
		}
		return nil
	})
	unlock()
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.Log.Info().Uint("mod_id", modID).Uint("user_id", actor.ID).Msg("mod deleted")
	pc.run(ctx, s.SideEffectTimeout, s.Log)
	return nil
}

// Get returns modID if viewer may see it. Unpublished mods are visible to
// their author and to admins only.
func (s *ModService) Get(ctx context.Context, viewer Actor, modID uint) (*domain.Mod, error) {
	m, err := repo.GetMod(ctx, s.DB, modID)
	return visible(viewer, m, err)
}

// GetBySlug is Get keyed by slug.
func (s *ModService) GetBySlug(ctx context.Context, viewer Actor, slug string) (*domain.Mod, error) {
	m, err := repo.GetModBySlug(ctx, s.DB, strings.TrimSpace(slug))
	return visible(viewer, m, err)
}

func visible(viewer Actor, m *domain.Mod, err error) (*domain.Mod, error) {
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrModNotFound
		}
		return nil, err
	}
	if !m.IsPublished && !viewer.owns(m) {
		return nil, ErrModNotFound
	}
	return m, nil
}

// List returns a page of published mods and the total match count.
func (s *ModService) List(ctx context.Context, q ListQuery) ([]domain.Mod, int64, error) {
	page, size := normalizePage(q.Page, q.PageSize)
	sort := repo.SortNewest
	if q.Sort == repo.SortDownloads {
		sort = repo.SortDownloads
	}
	return repo.ListPublished(ctx, s.DB, repo.ModQuery{
		Tag:      domain.FoldLower(strings.TrimSpace(q.Tag)),
		Featured: q.Featured,
		Sort:     sort,
		Offset:   utils.Offset(page, size),
		Limit:    size,
	})
}

// ListStats returns the published count and latest update time, used for
// conditional GETs of the listing.
func (s *ModService) ListStats(ctx context.Context) (int64, *time.Time, error) {
	return repo.PublishedModsStats(ctx, s.DB)
}

// ListByAuthor returns authorID's mods; unpublished ones only for the author
// and admins.
func (s *ModService) ListByAuthor(ctx context.Context, viewer Actor, authorID uint) ([]domain.Mod, error) {
	all := viewer.Admin || (viewer.ID != 0 && viewer.ID == authorID)
	return repo.ListModsByAuthor(ctx, s.DB, authorID, all)
}

// Search ranks published mods against query.
func (s *ModService) Search(ctx context.Context, query string, k int) ([]domain.Mod, error) {
	if s.Catalog == nil {
		return []domain.Mod{}, nil
	}
	if k <= 0 || k > maxPageSize {
		k = defaultPageSize
	}
	return s.Catalog.Search(ctx, query, k)
}

// RecordDownload counts one download of a published mod and evaluates the
// author's total_downloads achievements. The returned mod carries the
// archive path or external URL to serve.
func (s *ModService) RecordDownload(ctx context.Context, modID uint, userID *uint) (*domain.Mod, error) {
	tr := otel.Tracer("services/ModService")
	ctx, span := tr.Start(ctx, "RecordDownload", trace.WithAttributes(attribute.Int64("mod.id", int64(modID))))
	defer span.End()

	pc := &postCommit{}
	var out *domain.Mod
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
		if err := repo.RecordDownload(ctx, tx, modID, userID); err != nil {
			return err
		}
		s.Achievements.evaluateTx(ctx, tx, pc, m.AuthorID, domain.MetricTotalDownloads, repo.SumDownloadsByAuthor)
		m.DownloadCount++
		out = m
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	pc.run(ctx, s.SideEffectTimeout, s.Log)
	return out, nil
}

// SetFeatured toggles the featured flag of modID.
func (s *ModService) SetFeatured(ctx context.Context, modID uint, featured bool) error {
	if err := repo.UpdateModFields(ctx, s.DB, modID, map[string]any{"is_featured": featured}); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrModNotFound
		}
		return err
	}
	return nil
}

func checkLen(field, v string, max int) error {
	if utf8.RuneCountInString(v) > max {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrTooLong, field, max)
	}
	return nil
}

// cleanTags folds, trims and de-duplicates tags, keeping first-seen order.
func cleanTags(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = domain.FoldLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagRunes {
			return nil, fmt.Errorf("%w: tag %q is too long", ErrInvalidMod, t)
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, fmt.Errorf("%w: at most %d tags", ErrInvalidMod, maxTags)
	}
	return out, nil
}

func cleanScreenshots(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, u := range in {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !isHTTPURL(u) {
			return nil, fmt.Errorf("%w: screenshot %q is not an http(s) url", ErrInvalidMod, u)
		}
		out = append(out, u)
	}
	if len(out) > maxScreenshots {
		return nil, fmt.Errorf("%w: at most %d screenshots", ErrInvalidMod, maxScreenshots)
	}
	return out, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func mapStorageErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return fmt.Errorf("%w: %w", ErrTooLong, err)
	case errors.Is(err, storage.ErrBadExtension), errors.Is(err, storage.ErrUnsafePath):
		return fmt.Errorf("%w: %w", ErrInvalidMod, err)
	default:
		return err
	}
}
