package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/locker"
	"github.com/vnmodhub/modhub/internal/repo"
	"github.com/vnmodhub/modhub/internal/storage"
)

func linkInput(title string) ModInput {
	return ModInput{Title: title, ExternalURL: "https://files.example.com/x.zip"}
}

func TestModCreate_Validation(t *testing.T) {
	e := newEnv(t)
	u := seedUser(t, e.db, "author")
	archive := &Upload{Name: "a.zip", Body: strings.NewReader("PK")}

	cases := []struct {
		name string
		in   ModInput
		want error
	}{
		{"blank title", ModInput{Title: "  ", ExternalURL: "https://x.io/a"}, ErrInvalidMod},
		{"no delivery", ModInput{Title: "A"}, ErrInvalidMod},
		{"both deliveries", ModInput{Title: "A", ExternalURL: "https://x.io/a", Archive: archive}, ErrInvalidMod},
		{"ftp link", ModInput{Title: "A", ExternalURL: "ftp://x.io/a"}, ErrInvalidMod},
		{"long title", ModInput{Title: strings.Repeat("あ", maxTitleRunes+1), ExternalURL: "https://x.io/a"}, ErrTooLong},
		{"long version", ModInput{Title: "A", Version: strings.Repeat("1", maxVersionRunes+1), ExternalURL: "https://x.io/a"}, ErrTooLong},
		{"bad screenshot", ModInput{Title: "A", ExternalURL: "https://x.io/a", Screenshots: []string{"javascript:alert(1)"}}, ErrInvalidMod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.mods.Create(context.Background(), u.ID, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
	if _, total, _ := e.reviews.PendingQueue(context.Background(), 1, 10); total != 0 {
		t.Fatalf("invalid submissions must not be stored, pending=%d", total)
	}
}

func TestModCreate_SlugCollisions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.db, "author")

	want := []string{"cafe-route", "cafe-route-2", "cafe-route-3"}
	for i, title := range []string{"Café Route", "cafe route", "CAFÉ  route!"} {
		m, err := e.mods.Create(ctx, u.ID, linkInput(title))
		if err != nil {
			t.Fatalf("Create %q: %v", title, err)
		}
		if m.Slug != want[i] {
			t.Fatalf("slug = %q, want %q", m.Slug, want[i])
		}
		if m.IsPublished || m.PublishedAt != nil {
			t.Fatal("new mods start unpublished")
		}
	}
}

func TestModCreate_CleansTags(t *testing.T) {
	e := newEnv(t)
	u := seedUser(t, e.db, "author")
	in := linkInput("Tagged")
	in.Tags = []string{" Romance ", "romance", "", "Café"}

	m, err := e.mods.Create(context.Background(), u.ID, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := []string(m.Tags); len(got) != 2 || got[0] != "romance" || got[1] != "cafe" {
		t.Fatalf("tags = %v", got)
	}

	in.Tags = make([]string, maxTags+1)
	for i := range in.Tags {
		in.Tags[i] = fmt.Sprintf("t%d", i)
	}
	if _, err := e.mods.Create(context.Background(), u.ID, in); !errors.Is(err, ErrInvalidMod) {
		t.Fatalf("too many tags: want ErrInvalidMod, got %v", err)
	}
}

func TestModCreate_WithArchive(t *testing.T) {
	e := newEnv(t)
	u := seedUser(t, e.db, "author")

	m, err := e.mods.Create(context.Background(), u.ID, ModInput{
		Title:     "Packed",
		Archive:   &Upload{Name: "packed.zip", Body: strings.NewReader("0123456789")},
		Thumbnail: &Upload{Name: "t.png", Body: strings.NewReader("png")},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.LocalFile() != "stored-packed.zip" || m.FileSize == nil || *m.FileSize != 10 || m.ExternalURL != nil {
		t.Fatalf("unexpected delivery %+v", m)
	}
	if m.ThumbnailURL != "/static/thumbnails/t.png" {
		t.Fatalf("thumbnail = %q", m.ThumbnailURL)
	}
}

func TestModCreate_StorageErrorsMapped(t *testing.T) {
	e := newEnv(t)
	u := seedUser(t, e.db, "author")
	in := ModInput{Title: "Big", Archive: &Upload{Name: "big.zip", Body: strings.NewReader("x")}}

	e.files.saveErr = storage.ErrTooLarge
	if _, err := e.mods.Create(context.Background(), u.ID, in); !errors.Is(err, ErrTooLong) {
		t.Fatalf("want ErrTooLong, got %v", err)
	}
	e.files.saveErr = storage.ErrBadExtension
	if _, err := e.mods.Create(context.Background(), u.ID, in); !errors.Is(err, ErrInvalidMod) {
		t.Fatalf("want ErrInvalidMod, got %v", err)
	}
}

func TestModVisibility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := seedUser(t, e.db, "author")
	stranger := seedUser(t, e.db, "stranger")
	draft := seedMod(t, e.db, author.ID, "draft")
	live := seedMod(t, e.db, author.ID, "live", published())

	if _, err := e.mods.Get(ctx, Actor{}, draft.ID); !errors.Is(err, ErrModNotFound) {
		t.Fatalf("anonymous sees draft: %v", err)
	}
	if _, err := e.mods.GetBySlug(ctx, Actor{ID: stranger.ID}, "draft"); !errors.Is(err, ErrModNotFound) {
		t.Fatalf("stranger sees draft: %v", err)
	}
	if _, err := e.mods.Get(ctx, Actor{ID: author.ID}, draft.ID); err != nil {
		t.Fatalf("author must see draft: %v", err)
	}
	if _, err := e.mods.Get(ctx, Actor{ID: 99, Admin: true}, draft.ID); err != nil {
		t.Fatalf("admin must see draft: %v", err)
	}
	if m, err := e.mods.GetBySlug(ctx, Actor{}, " live "); err != nil || m.ID != live.ID {
		t.Fatalf("published mod by slug: %v", err)
	}

	own, _ := e.mods.ListByAuthor(ctx, Actor{ID: author.ID}, author.ID)
	public, _ := e.mods.ListByAuthor(ctx, Actor{ID: stranger.ID}, author.ID)
	if len(own) != 2 || len(public) != 1 {
		t.Fatalf("ListByAuthor own=%d public=%d", len(own), len(public))
	}
}

func TestModUpdate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := seedUser(t, e.db, "author")
	admin := seedUser(t, e.db, "admin", asAdmin())
	m := seedMod(t, e.db, author.ID, "edit-me")

	if _, err := e.mods.Update(ctx, Actor{ID: admin.ID, Admin: true}, m.ID, ModPatch{Title: strp("x")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("only the author edits: %v", err)
	}
	if _, err := e.mods.Update(ctx, Actor{ID: author.ID}, 404, ModPatch{}); !errors.Is(err, ErrModNotFound) {
		t.Fatalf("missing mod: %v", err)
	}
	if _, err := e.mods.Update(ctx, Actor{ID: author.ID}, m.ID, ModPatch{Title: strp(" ")}); !errors.Is(err, ErrInvalidMod) {
		t.Fatalf("blank title: %v", err)
	}

	tags := []string{"Horror"}
	got, err := e.mods.Update(ctx, Actor{ID: author.ID}, m.ID, ModPatch{
		Title:   strp("New title"),
		Version: strp(" 1.2 "),
		Tags:    &tags,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != "New title" || got.Version != "1.2" || len(got.Tags) != 1 || got.Tags[0] != "horror" {
		t.Fatalf("unexpected mod %+v", got)
	}
	if got.Slug != "edit-me" {
		t.Fatalf("slug must be stable across edits, got %q", got.Slug)
	}
}

func TestModDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := seedUser(t, e.db, "author")
	stranger := seedUser(t, e.db, "stranger")
	admin := seedUser(t, e.db, "admin", asAdmin())
	own := seedMod(t, e.db, author.ID, "own", withFile("own.zip", ""))
	other := seedMod(t, e.db, author.ID, "other", published())

	if err := e.mods.Delete(ctx, Actor{ID: stranger.ID}, own.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger delete: %v", err)
	}
	if err := e.mods.Delete(ctx, Actor{ID: author.ID}, own.ID); err != nil {
		t.Fatalf("author delete: %v", err)
	}
	if len(e.files.deleted) != 1 || e.files.deleted[0][0] != "own.zip" {
		t.Fatalf("files not removed: %+v", e.files.deleted)
	}
	if n := len(notificationsOf(t, e.db, author.ID, domain.NotifyModDeleted)); n != 0 {
		t.Fatalf("self delete must not notify, got %d", n)
	}

	if err := e.mods.Delete(ctx, Actor{ID: admin.ID, Admin: true}, other.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	notes := notificationsOf(t, e.db, author.ID, domain.NotifyModDeleted)
	if len(notes) != 1 || notes[0].RelatedID == nil || *notes[0].RelatedID != other.ID {
		t.Fatalf("author must be told about a moderator removal: %+v", notes)
	}
	if err := e.mods.Delete(ctx, Actor{ID: admin.ID, Admin: true}, other.ID); !errors.Is(err, ErrModNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestModDelete_WaitsForModerationLock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := seedUser(t, e.db, "author")
	m := seedMod(t, e.db, author.ID, "locked")

	unlock, err := e.lock.Lock(ctx, locker.ModKey(m.ID))
	if err != nil {
		t.Fatal(err)
	}
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := e.mods.Delete(short, Actor{ID: author.ID}, m.ID); !errors.Is(err, locker.ErrNotAcquired) {
		t.Fatalf("delete under a held lock: %v", err)
	}
	if _, err := repo.GetMod(ctx, e.db, m.ID); err != nil {
		t.Fatalf("mod must survive: %v", err)
	}

	unlock()
	if err := e.mods.Delete(ctx, Actor{ID: author.ID}, m.ID); err != nil {
		t.Fatalf("delete after release: %v", err)
	}
	// The lock is free again once Delete returns.
	quick, cancelQuick := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelQuick()
	again, err := e.lock.Lock(quick, locker.ModKey(m.ID))
	if err != nil {
		t.Fatalf("lock not released by Delete: %v", err)
	}
	again()
}

func TestModList_FiltersAndSorts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.db, "author")
	a := seedMod(t, e.db, u.ID, "a", published())
	b := seedMod(t, e.db, u.ID, "b", published())
	seedMod(t, e.db, u.ID, "hidden")
	if err := repo.UpdateModFields(ctx, e.db, a.ID, map[string]any{"tags": datatypes.JSONSlice[string]{"romance"}, "download_count": 50}); err != nil {
		t.Fatal(err)
	}
	if err := e.mods.SetFeatured(ctx, b.ID, true); err != nil {
		t.Fatal(err)
	}

	all, total, err := e.mods.List(ctx, ListQuery{})
	if err != nil || total != 2 || len(all) != 2 {
		t.Fatalf("List: total=%d err=%v", total, err)
	}
	byDL, _, _ := e.mods.List(ctx, ListQuery{Sort: repo.SortDownloads})
	if byDL[0].ID != a.ID {
		t.Fatalf("downloads sort: first = %d", byDL[0].ID)
	}
	tagged, total, _ := e.mods.List(ctx, ListQuery{Tag: " ROMANCE"})
	if total != 1 || tagged[0].ID != a.ID {
		t.Fatalf("tag filter: %+v", tagged)
	}
	featured, total, _ := e.mods.List(ctx, ListQuery{Featured: true})
	if total != 1 || featured[0].ID != b.ID {
		t.Fatalf("featured filter: %+v", featured)
	}
	if count, latest, err := e.mods.ListStats(ctx); err != nil || count != 2 || latest == nil {
		t.Fatalf("ListStats: %d %v %v", count, latest, err)
	}
	if err := e.mods.SetFeatured(ctx, 999, true); !errors.Is(err, ErrModNotFound) {
		t.Fatalf("SetFeatured missing: %v", err)
	}
}

func TestRecordDownload_AwardsAuthor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	author := seedUser(t, e.db, "author")
	fan := seedUser(t, e.db, "fan")
	m := seedMod(t, e.db, author.ID, "hit", published())
	draft := seedMod(t, e.db, author.ID, "draft")
	a := seedAchievement(t, e.db, "First download", domain.MetricTotalDownloads, 2, 5)

	if _, err := e.mods.RecordDownload(ctx, draft.ID, nil); !errors.Is(err, ErrModNotFound) {
		t.Fatalf("draft download: %v", err)
	}
	got, err := e.mods.RecordDownload(ctx, m.ID, &fan.ID)
	if err != nil || got.DownloadCount != 1 {
		t.Fatalf("first download: %+v %v", got, err)
	}
	if n := len(notificationsOf(t, e.db, author.ID, domain.NotifyAchievementUnlocked)); n != 0 {
		t.Fatal("threshold not reached yet")
	}
	if _, err := e.mods.RecordDownload(ctx, m.ID, nil); err != nil {
		t.Fatal(err)
	}
	earned, _ := repo.ListUserAchievements(ctx, e.db, author.ID)
	if len(earned) != 1 || earned[0].AchievementID != a.ID {
		t.Fatalf("author should hold the download achievement: %+v", earned)
	}
	stored, _ := repo.GetMod(ctx, e.db, m.ID)
	if stored.DownloadCount != 2 {
		t.Fatalf("download_count = %d", stored.DownloadCount)
	}
}

func TestModSearch_PublishedOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := seedUser(t, e.db, "author")
	admin := seedUser(t, e.db, "admin", asAdmin())

	m, err := e.mods.Create(ctx, u.ID, linkInput("Doki Doki Literature Club Plus"))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.catalog.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if hits, _ := e.mods.Search(ctx, "literature", 0); len(hits) != 0 {
		t.Fatalf("pending mods are not searchable: %+v", hits)
	}

	if _, err := e.reviews.Approve(ctx, m.ID, admin.ID, nil); err != nil {
		t.Fatal(err)
	}
	hits, err := e.mods.Search(ctx, "literature club", 0)
	if err != nil || len(hits) != 1 || hits[0].ID != m.ID {
		t.Fatalf("approved mod should be found: %+v %v", hits, err)
	}
	if hits, _ := e.mods.Search(ctx, "   ", 5); len(hits) != 0 {
		t.Fatal("blank query returns nothing")
	}
}
