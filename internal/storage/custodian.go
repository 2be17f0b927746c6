// Package storage keeps mod archives and thumbnails. Archives live on local
// disk under UploadDir; thumbnails go through a MediaStore, which is either a
// local directory served statically or Cloudinary.
//
// Deletion is best-effort and idempotent: a file that is already gone counts
// as deleted. Callers log a false result and carry on; the database row is
// the authoritative record.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrTooLarge is returned when an upload exceeds the configured cap.
	ErrTooLarge = errors.New("file too large")
	// ErrUnsafePath is returned for names that escape the storage root.
	ErrUnsafePath = errors.New("unsafe path")
	// ErrBadExtension is returned for archive types we do not accept.
	ErrBadExtension = errors.New("unsupported file type")
)

// ArchiveExtensions are the accepted mod archive types.
var ArchiveExtensions = map[string]bool{".zip": true, ".rar": true, ".7z": true}

// Custodian is what the services need from storage.
type Custodian interface {
	SaveArchive(ctx context.Context, r io.Reader, originalName string) (name string, size int64, err error)
	SaveThumbnail(ctx context.Context, r io.Reader, originalName string) (url string, err error)
	DeleteModFiles(ctx context.Context, filePath, thumbnailURL string) bool
}

// Disk is the default Custodian.
type Disk struct {
	UploadDir string
	MaxBytes  int64
	Media     MediaStore
	Log       zerolog.Logger
}

// NewDisk creates the upload directory if needed.
func NewDisk(uploadDir string, maxBytes int64, media MediaStore, log zerolog.Logger) (*Disk, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{UploadDir: uploadDir, MaxBytes: maxBytes, Media: media, Log: log}, nil
}

// SaveArchive streams r into UploadDir under a random name that keeps the
// original extension. The returned name is relative to UploadDir.
func (d *Disk) SaveArchive(ctx context.Context, r io.Reader, originalName string) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !ArchiveExtensions[ext] {
		return "", 0, ErrBadExtension
	}
	name := uuid.NewString() + ext
	dst := filepath.Join(d.UploadDir, name)

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, err
	}
	limit := d.MaxBytes
	if limit <= 0 {
		limit = 1 << 62
	}
	n, err := io.Copy(f, io.LimitReader(ctxReader{ctx: ctx, r: r}, limit+1))
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err == nil && n > limit {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", 0, err
	}
	return name, n, nil
}

// SaveThumbnail delegates to the media store.
func (d *Disk) SaveThumbnail(ctx context.Context, r io.Reader, originalName string) (string, error) {
	if d.Media == nil {
		return "", errors.New("no media store configured")
	}
	return d.Media.Upload(ctx, r, originalName)
}

// DeleteModFiles removes the archive and the thumbnail. It returns false only
// if a deletion failed for a reason other than the file being absent.
func (d *Disk) DeleteModFiles(ctx context.Context, filePath, thumbnailURL string) bool {
	ok := true
	if filePath != "" {
		if err := d.removeArchive(filePath); err != nil {
			ok = false
			d.Log.Warn().Err(err).Str("file", filePath).Msg("delete mod archive failed")
		}
	}
	if thumbnailURL != "" && d.Media != nil {
		if err := d.Media.Delete(ctx, thumbnailURL); err != nil {
			ok = false
			d.Log.Warn().Err(err).Str("thumbnail", thumbnailURL).Msg("delete thumbnail failed")
		}
	}
	return ok
}

func (d *Disk) removeArchive(name string) error {
	p, err := within(d.UploadDir, name)
	if err != nil {
		return err
	}
	return removeIfExists(p)
}

// within joins name onto root and rejects results outside root.
func within(root, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", ErrUnsafePath
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	p := filepath.Join(absRoot, filepath.Clean(name))
	rel, err := filepath.Rel(absRoot, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return p, nil
}

func removeIfExists(p string) error {
	err := os.Remove(p)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
