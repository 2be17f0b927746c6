package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/vnmodhub/modhub/internal/domain"
)

func TestCreateMod_ArchiveUpload(t *testing.T) {
	e := newTestEnv(t)
	u, tok := e.user(t, "natsuki", false)

	w := e.multipart(t, "/mods", tok, map[string]string{
		"title":        "Manga Club",
		"version":      "1.0",
		"tags":         "romance, comedy",
		"requirements": `{"game":"1.1"}`,
	}, formFile{field: "archive", name: "club.zip", data: []byte("PK\x03\x04 archive bytes")})
	expectStatus(t, w, http.StatusCreated)

	m := decode[domain.Mod](t, w)
	if m.Slug != "manga-club" || m.AuthorID != u.ID || m.IsPublished {
		t.Fatalf("unexpected mod: %+v", m)
	}
	if len(m.Tags) != 2 || m.Tags[0] != "romance" {
		t.Fatalf("tags = %v", m.Tags)
	}

	var stored domain.Mod
	if err := e.db.First(&stored, m.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.LocalFile() == "" || stored.ExternalURL != nil {
		t.Fatalf("archive not recorded: %+v", stored)
	}
	if _, err := os.Stat(e.uploadDir + "/" + stored.LocalFile()); err != nil {
		t.Fatalf("archive not on disk: %v", err)
	}
}

func TestCreateMod_Rejections(t *testing.T) {
	e := newTestEnv(t, withMaxUpload(8))
	_, tok := e.user(t, "yuri", false)
	zip := formFile{field: "archive", name: "big.zip", data: bytes.Repeat([]byte("x"), 64)}

	t.Run("anonymous", func(t *testing.T) {
		w := e.multipart(t, "/mods", "", map[string]string{"title": "x", "external_url": "https://x.example"})
		expectStatus(t, w, http.StatusUnauthorized)
	})
	t.Run("missing title", func(t *testing.T) {
		w := e.multipart(t, "/mods", tok, map[string]string{"external_url": "https://x.example"})
		expectError(t, w, http.StatusBadRequest, ErrCodeInvalidMod)
	})
	t.Run("archive and url", func(t *testing.T) {
		w := e.multipart(t, "/mods", tok, map[string]string{"title": "Both", "external_url": "https://x.example"}, zip)
		expectError(t, w, http.StatusBadRequest, ErrCodeInvalidMod)
	})
	t.Run("bad requirements", func(t *testing.T) {
		w := e.multipart(t, "/mods", tok, map[string]string{"title": "Req", "external_url": "https://x.example", "requirements": "[1]"})
		expectError(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	})
	t.Run("unsupported archive", func(t *testing.T) {
		w := e.multipart(t, "/mods", tok, map[string]string{"title": "Exe"}, formFile{field: "archive", name: "run.exe", data: []byte("MZ")})
		expectError(t, w, http.StatusBadRequest, ErrCodeInvalidMod)
	})
	t.Run("too large", func(t *testing.T) {
		w := e.multipart(t, "/mods", tok, map[string]string{"title": "Huge"}, zip)
		expectError(t, w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge)
	})

	var n int64
	e.db.Model(&domain.Mod{}).Count(&n)
	if n != 0 {
		t.Fatalf("no mod should have been stored, got %d", n)
	}
	entries, _ := os.ReadDir(e.uploadDir)
	if len(entries) != 0 {
		t.Fatalf("rejected uploads left files behind: %d", len(entries))
	}
}

func TestListMods_ETagAndPublishedOnly(t *testing.T) {
	e := newTestEnv(t)
	u, _ := e.user(t, "sayori", false)
	e.mod(t, u.ID, "visible", published())
	e.mod(t, u.ID, "pending")

	w := e.do(t, http.MethodGet, "/mods", "", nil, nil)
	expectStatus(t, w, http.StatusOK)
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"mods:`) {
		t.Fatalf("missing weak etag: %q", etag)
	}
	resp := decode[ListModsResponse](t, w)
	if len(resp.Mods) != 1 || resp.Mods[0].Slug != "visible" || resp.Pagination.Total != 1 {
		t.Fatalf("unexpected listing: %+v", resp)
	}

	w = e.do(t, http.MethodGet, "/mods", "", nil, map[string]string{"If-None-Match": etag})
	expectStatus(t, w, http.StatusNotModified)

	// A different page is a different representation.
	w = e.do(t, http.MethodGet, "/mods?page=2", "", nil, map[string]string{"If-None-Match": etag})
	expectStatus(t, w, http.StatusOK)
}

func TestGetMod_VisibilityByIDAndSlug(t *testing.T) {
	e := newTestEnv(t)
	author, authorTok := e.user(t, "monika", false)
	_, otherTok := e.user(t, "mc", false)
	_, adminTok := e.user(t, "admin", true)
	pending := e.mod(t, author.ID, "poem-game")
	live := e.mod(t, author.ID, "live-one", published())

	cases := []struct {
		name, path, token string
		want              int
	}{
		{"pending anonymous by slug", "/mods/poem-game", "", http.StatusNotFound},
		{"pending other user by id", fmt.Sprintf("/mods/%d", pending.ID), otherTok, http.StatusNotFound},
		{"pending author by slug", "/mods/poem-game", authorTok, http.StatusOK},
		{"pending admin by id", fmt.Sprintf("/mods/%d", pending.ID), adminTok, http.StatusOK},
		{"published anonymous", fmt.Sprintf("/mods/%d", live.ID), "", http.StatusOK},
		{"unknown slug", "/mods/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectStatus(t, e.do(t, http.MethodGet, tc.path, tc.token, nil, nil), tc.want)
		})
	}
}

func TestDownloadMod(t *testing.T) {
	e := newTestEnv(t)
	author, _ := e.user(t, "author", false)
	_, fanTok := e.user(t, "fan", false)

	ext := e.mod(t, author.ID, "hosted", published())
	data := []byte("PK\x03\x04 local archive")
	local := e.mod(t, author.ID, "local", published(), e.withArchive(t, "abc.zip", data))
	pending := e.mod(t, author.ID, "pending")
	missing := e.mod(t, author.ID, "missing", published(), func(m *domain.Mod) {
		name, size := "gone.zip", int64(1)
		m.FilePath, m.FileSize, m.ExternalURL = &name, &size, nil
	})

	w := e.do(t, http.MethodGet, fmt.Sprintf("/mods/%d/download", ext.ID), "", nil, nil)
	expectStatus(t, w, http.StatusFound)
	if loc := w.Header().Get("Location"); loc != *ext.ExternalURL {
		t.Fatalf("Location = %q", loc)
	}

	w = e.do(t, http.MethodGet, fmt.Sprintf("/mods/%d/download", local.ID), fanTok, nil, nil)
	expectStatus(t, w, http.StatusOK)
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Fatalf("served %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "local.zip") {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	expectError(t, e.do(t, http.MethodGet, fmt.Sprintf("/mods/%d/download", pending.ID), "", nil, nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, e.do(t, http.MethodGet, fmt.Sprintf("/mods/%d/download", missing.ID), "", nil, nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, e.do(t, http.MethodGet, "/mods/abc/download", "", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)

	var counts []domain.Mod
	e.db.Order("id").Find(&counts, []uint{ext.ID, local.ID})
	if counts[0].DownloadCount != 1 || counts[1].DownloadCount != 1 {
		t.Fatalf("download counts = %d, %d", counts[0].DownloadCount, counts[1].DownloadCount)
	}
}

func TestUpdateAndDeleteMod_Permissions(t *testing.T) {
	e := newTestEnv(t)
	author, authorTok := e.user(t, "author", false)
	_, otherTok := e.user(t, "other", false)
	m := e.mod(t, author.ID, "editable", published())
	path := fmt.Sprintf("/mods/%d", m.ID)

	expectError(t, e.do(t, http.MethodPatch, path, otherTok, map[string]any{"title": "Mine now"}, nil), http.StatusForbidden, ErrCodeForbidden)
	expectError(t, e.do(t, http.MethodPatch, path, authorTok, map[string]any{"title": ""}, nil), http.StatusBadRequest, ErrCodeInvalidMod)
	expectError(t, e.do(t, http.MethodPatch, "/mods/0", authorTok, map[string]any{}, nil), http.StatusBadRequest, ErrCodeBadRequest)

	w := e.do(t, http.MethodPatch, path, authorTok, map[string]any{"title": "Edited", "tags": []string{"drama"}}, nil)
	expectStatus(t, w, http.StatusOK)
	got := decode[domain.Mod](t, w)
	if got.Title != "Edited" || got.Slug != "editable" || len(got.Tags) != 1 {
		t.Fatalf("unexpected update: %+v", got)
	}

	expectError(t, e.do(t, http.MethodDelete, path, otherTok, nil, nil), http.StatusForbidden, ErrCodeForbidden)
	expectStatus(t, e.do(t, http.MethodDelete, path, authorTok, nil, nil), http.StatusNoContent)
	expectStatus(t, e.do(t, http.MethodGet, path, "", nil, nil), http.StatusNotFound)
}

func TestListUserMods_HidesPendingFromOthers(t *testing.T) {
	e := newTestEnv(t)
	author, authorTok := e.user(t, "author", false)
	e.mod(t, author.ID, "out", published())
	e.mod(t, author.ID, "queued")
	path := fmt.Sprintf("/users/%d/mods", author.ID)

	if n := len(decode[[]domain.Mod](t, e.do(t, http.MethodGet, path, "", nil, nil))); n != 1 {
		t.Fatalf("anonymous sees %d mods", n)
	}
	if n := len(decode[[]domain.Mod](t, e.do(t, http.MethodGet, path, authorTok, nil, nil))); n != 2 {
		t.Fatalf("author sees %d mods", n)
	}
}

func TestSearchMods_RequiresQuery(t *testing.T) {
	e := newTestEnv(t)
	expectError(t, e.do(t, http.MethodGet, "/mods/search?q=%20", "", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func Test_splitTags(t *testing.T) {
	got := splitTags([]string{"a, b", " ", "c"})
	if strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("splitTags = %v", got)
	}
}
