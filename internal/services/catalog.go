// Package services – Catalog
//
// Catalog keeps the in-memory search index in step with the published mods.
// The index is rebuilt wholesale (published mods are few enough for that)
// after approvals and deletions and on a fixed interval, and swapped in
// atomically so readers never block on a rebuild.
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
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/search"
)

// Catalog serves full-text search over published mods.
type Catalog struct {
	DB    *gorm.DB
	Index *search.Holder
	Opts  []search.Option
	Log   zerolog.Logger
}

// NewCatalog constructs a Catalog with the default stop words.
func NewCatalog(db *gorm.DB, log zerolog.Logger) *Catalog {
	return &Catalog{
		DB:    db,
		Index: search.NewHolder(),
		Opts:  []search.Option{search.WithStopwords(search.DefaultStopwords)},
		Log:   log,
	}
}

// Rebuild reloads every published mod into a fresh index.
func (c *Catalog) Rebuild(ctx context.Context) error {
	tr := otel.Tracer("services/Catalog")
	ctx, span := tr.Start(ctx, "Rebuild")
	defer span.End()

	mods, err := repo.AllPublished(ctx, c.DB)
	if err != nil {
		span.RecordError(err)
		return err
	}
	docs := make([]search.Document, 0, len(mods))
	for _, m := range mods {
		docs = append(docs, search.DocumentFor(m))
	}
	idx := search.New(docs, c.Opts...)
	c.Index.Swap(idx)
	span.SetAttributes(attribute.Int("search.docs", idx.Len()))
	return nil
}

// refresh is the post-commit form of Rebuild.
func (c *Catalog) refresh(ctx context.Context) {
	if c == nil {
		return
	}
	if err := c.Rebuild(ctx); err != nil {
		bestEffortFailures.WithLabelValues(failSearch).Inc()
		c.Log.Warn().Err(err).Msg("search index rebuild failed")
	}
}

// Search returns up to k published mods ranked by relevance to query.
func (c *Catalog) Search(ctx context.Context, query string, k int) ([]domain.Mod, error) {
	tr := otel.Tracer("services/Catalog")
	ctx, span := tr.Start(ctx, "Search", trace.WithAttributes(attribute.Int("search.k", k)))
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return []domain.Mod{}, nil
	}
	hits := c.Index.TopK(query, k)
	if len(hits) == 0 {
		return []domain.Mod{}, nil
	}
	ids := make([]uint, len(hits))
	for i, h := range hits {
		ids[i] = h.ModID
	}
	mods, err := repo.GetModsByIDs(ctx, c.DB, ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	byID := make(map[uint]domain.Mod, len(mods))
	for _, m := range mods {
		byID[m.ID] = m
	}
	// Keep rank order; drop mods unpublished or deleted since the last build.
	out := make([]domain.Mod, 0, len(hits))
	for _, id := range ids {
		if m, ok := byID[id]; ok && m.IsPublished {
			out = append(out, m)
		}
	}
	return out, nil
}

// Run rebuilds the index every interval until ctx is done. A non-positive
// interval only performs the initial build.
func (c *Catalog) Run(ctx context.Context, every time.Duration) {
	c.refresh(ctx)
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.Rebuild(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.Log.Warn().Err(err).Msg("periodic search rebuild failed")
			}
		}
	}
}
