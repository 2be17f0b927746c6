// Mod HTTP handlers.
//
// This file exposes REST endpoints for mod resources:
//   - GET    /mods                 (list published, paginated, ETag support)
//   - GET    /mods/search          (ranked search over published mods)
//   - GET    /mods/{id}            (by numeric id or slug)
//   - POST   /mods                 (multipart submission)
//   - PATCH  /mods/{id}            (author edit)
//   - DELETE /mods/{id}            (author or admin)
//   - GET    /mods/{id}/download   (count and serve or redirect)
//   - GET    /users/{id}/mods      (an author's mods)
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/http/middleware"
	"github.com/vnmodhub/modhub/internal/services"
	"github.com/vnmodhub/modhub/internal/sysutil"
	"github.com/vnmodhub/modhub/internal/utils"
)

//
// DTOs
//

// ListModsResponse wraps a page of mods and pagination information.
type ListModsResponse struct {
	Mods       []domain.Mod `json:"mods"`
	Pagination Pagination   `json:"pagination"`
}

// SearchModsResponse carries ranked search hits.
type SearchModsResponse struct {
	Query string       `json:"query"`
	Mods  []domain.Mod `json:"mods"`
}

// UpdateModRequest is the JSON payload for editing a mod. Omitted fields are
// left unchanged.
type UpdateModRequest struct {
	Title            *string            `json:"title"             example:"Café Route"`
	Description      *string            `json:"description"`
	ShortDescription *string            `json:"short_description"`
	Version          *string            `json:"version"           example:"1.2.0"`
	Tags             *[]string          `json:"tags"`
	Requirements     *map[string]string `json:"requirements"`
	Screenshots      *[]string          `json:"screenshots"`
	IsNSFW           *bool              `json:"is_nsfw"`
}

//
// Handlers
//

// ListMods godoc
// @ID          listMods
// @Summary     List published mods (paginated)
// @Description Returns a page of published mods. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Mods
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
// @Param       tag            query   string  false "Filter by tag"
// @Param       sort           query   string  false "newest or downloads" Enums(newest, downloads)
// @Param       featured       query   bool    false "Only featured mods"
//
// @Success     200  {object} handlers.ListModsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /mods [get]
func (h *Handlers) ListMods(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)
	q := services.ListQuery{
		Page:     page,
		PageSize: pageSize,
		Tag:      c.Query("tag"),
		Sort:     c.Query("sort"),
		Featured: sysutil.IsTruthy(c.Query("featured")),
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.Mods.ListStats(ctx); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"mods:%s:%s:%t:%d:%d:%d:%d"`,
			q.Tag, q.Sort, q.Featured, page, pageSize, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.Mods.List(ctx, q)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListModsResponse{Mods: items, Pagination: newPagination(page, pageSize, total)})
}

// SearchMods godoc
// @ID          searchMods
// @Summary     Search published mods
// @Tags        Mods
// @Produce     json
// @Param       q  query  string  true   "Search text"
// @Param       k  query  int     false  "Max results" minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.SearchModsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /mods/search [get]
func (h *Handlers) SearchMods(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q is required")
		return
	}
	mods, err := h.Mods.Search(c.Request.Context(), query, utils.AtoiDefault(c.Query("k"), 0))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SearchModsResponse{Query: query, Mods: mods})
}

// GetMod godoc
// @ID          getMod
// @Summary     Get a mod by id or slug
// @Description Unpublished mods are visible to their author and admins only.
// @Tags        Mods
// @Produce     json
// @Param       id  path  string  true  "Mod id or slug"
// @Success     200  {object} domain.Mod
// @Failure     404  {object} handlers.ErrorResponse "Mod not found"
// @Router      /mods/{id} [get]
func (h *Handlers) GetMod(c *gin.Context) {
	m, err := h.lookupMod(c)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

func (h *Handlers) lookupMod(c *gin.Context) (*domain.Mod, error) {
	ref := c.Param("id")
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil && id > 0 {
		return h.Mods.Get(c.Request.Context(), actor(c), uint(id))
	}
	return h.Mods.GetBySlug(c.Request.Context(), actor(c), ref)
}

// CreateMod godoc
// @ID          createMod
// @Summary     Submit a mod
// @Description Multipart submission. Provide exactly one of the archive file or external_url. The mod awaits review.
// @Tags        Mods
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
//
// @Param       title              formData  string  true   "Title (1-200 chars)"
// @Param       description        formData  string  false  "Long description"
// @Param       short_description  formData  string  false  "One-line summary"
// @Param       version            formData  string  false  "Version label"
// @Param       tags               formData  string  false  "Comma separated tags"
// @Param       requirements       formData  string  false  "JSON object of requirement name to value"
// @Param       screenshots        formData  []string false "Screenshot URLs" collectionFormat(multi)
// @Param       is_nsfw            formData  bool    false  "Adult content"
// @Param       external_url       formData  string  false  "Download hosted elsewhere"
// @Param       archive            formData  file    false  "Mod archive (.zip, .rar, .7z)"
// @Param       thumbnail          formData  file    false  "Thumbnail image"
//
// @Success     201  {object} domain.Mod
// @Failure     400  {object} handlers.ErrorResponse "Invalid mod"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     413  {object} handlers.ErrorResponse "File too large"
// @Router      /mods [post]
func (h *Handlers) CreateMod(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	in := services.ModInput{
		Title:            c.PostForm("title"),
		Description:      c.PostForm("description"),
		ShortDescription: c.PostForm("short_description"),
		Version:          c.PostForm("version"),
		Tags:             splitTags(c.PostFormArray("tags")),
		Screenshots:      c.PostFormArray("screenshots"),
		IsNSFW:           sysutil.IsTruthy(c.PostForm("is_nsfw")),
		ExternalURL:      c.PostForm("external_url"),
	}
	if raw := strings.TrimSpace(c.PostForm("requirements")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Requirements); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "requirements must be a JSON object of strings")
			return
		}
	}

	archive, closeArchive, err := formUpload(c, "archive")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable archive upload")
		return
	}
	defer closeArchive()
	thumb, closeThumb, err := formUpload(c, "thumbnail")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable thumbnail upload")
		return
	}
	defer closeThumb()
	in.Archive, in.Thumbnail = archive, thumb

	m, err := h.Mods.Create(c.Request.Context(), uid, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// formUpload opens an optional multipart file. The returned closer is
// always safe to call.
func formUpload(c *gin.Context, field string) (*services.Upload, func(), error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, func() {}, nil
		}
		return nil, func() {}, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, func() {}, err
	}
	return &services.Upload{Name: fh.Filename, Body: f}, func() { _ = f.Close() }, nil
}

// splitTags accepts repeated fields and comma separated values alike.
func splitTags(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, t := range strings.Split(r, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// UpdateMod godoc
// @ID          updateMod
// @Summary     Edit a mod
// @Description Only the author may edit. The slug never changes.
// @Tags        Mods
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  int                         true  "Mod id"
// @Param       body  body  handlers.UpdateModRequest   true  "Fields to change"
// @Success     200  {object} domain.Mod
// @Failure     400  {object} handlers.ErrorResponse "Invalid mod"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Mod not found"
// @Router      /mods/{id} [patch]
func (h *Handlers) UpdateMod(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req UpdateModRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	m, err := h.Mods.Update(c.Request.Context(), actor(c), id, services.ModPatch{
		Title:            req.Title,
		Description:      req.Description,
		ShortDescription: req.ShortDescription,
		Version:          req.Version,
		Tags:             req.Tags,
		Requirements:     req.Requirements,
		Screenshots:      req.Screenshots,
		IsNSFW:           req.IsNSFW,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// DeleteMod godoc
// @ID          deleteMod
// @Summary     Delete a mod
// @Tags        Mods
// @Security    BearerAuth
// @Param       id  path  int  true  "Mod id"
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Mod not found"
// @Router      /mods/{id} [delete]
func (h *Handlers) DeleteMod(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := h.Mods.Delete(c.Request.Context(), actor(c), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// DownloadMod godoc
// @ID          downloadMod
// @Summary     Download a published mod
// @Description Counts the download, then redirects to the external URL or streams the archive.
// @Tags        Mods
// @Param       id  path  int  true  "Mod id"
// @Success     200  {file}   file
// @Success     302  {string} string "Redirect to the external download"
// @Failure     404  {object} handlers.ErrorResponse "Mod not found"
// @Router      /mods/{id}/download [get]
func (h *Handlers) DownloadMod(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var uidPtr *uint
	if uid, found := middleware.UserID(c); found {
		uidPtr = &uid
	}
	m, err := h.Mods.RecordDownload(c.Request.Context(), id, uidPtr)
	if err != nil {
		failErr(c, err)
		return
	}
	if m.ExternalURL != nil && *m.ExternalURL != "" {
		c.Redirect(http.StatusFound, *m.ExternalURL)
		return
	}

	name := m.LocalFile()
	if name == "" || filepath.Base(name) != name || h.UploadDir == "" {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "archive not available")
		return
	}
	p := filepath.Join(h.UploadDir, name)
	if _, err := os.Stat(p); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Uint("mod_id", m.ID).Msg("archive missing on disk")
		fail(c, http.StatusNotFound, ErrCodeNotFound, "archive not available")
		return
	}
	c.FileAttachment(p, m.Slug+filepath.Ext(name))
}

// ListUserMods godoc
// @ID          listUserMods
// @Summary     List an author's mods
// @Description Unpublished mods are included for the author and admins.
// @Tags        Mods
// @Produce     json
// @Param       id  path  int  true  "User id"
// @Success     200  {array}  domain.Mod
// @Router      /users/{id}/mods [get]
func (h *Handlers) ListUserMods(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	mods, err := h.Mods.ListByAuthor(c.Request.Context(), actor(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, mods)
}
