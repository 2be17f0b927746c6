package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	cldconfig "github.com/cloudinary/cloudinary-go/v2/config"
	"github.com/google/uuid"
)

// ImageExtensions are the accepted thumbnail types.
var ImageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true}

// MediaStore stores thumbnails and returns public URLs for them.
type MediaStore interface {
	Upload(ctx context.Context, r io.Reader, originalName string) (url string, err error)
	// Delete removes the object behind url. Unknown or missing objects are
	// not an error.
	Delete(ctx context.Context, url string) error
}

// LocalMedia writes thumbnails into Dir and serves them under BaseURL.
type LocalMedia struct {
	Dir     string
	BaseURL string // e.g. "/static/thumbnails"
}

// NewLocalMedia creates Dir if needed.
func NewLocalMedia(dir, baseURL string) (*LocalMedia, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}
	return &LocalMedia{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (m *LocalMedia) Upload(ctx context.Context, r io.Reader, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !ImageExtensions[ext] {
		return "", ErrBadExtension
	}
	name := uuid.NewString() + ext
	dst := filepath.Join(m.Dir, name)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, ctxReader{ctx: ctx, r: r}); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return m.BaseURL + "/" + name, nil
}

// Delete accepts URLs under BaseURL; anything else (an external image) is
// left alone.
func (m *LocalMedia) Delete(_ context.Context, url string) error {
	prefix := m.BaseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return nil
	}
	p, err := within(m.Dir, strings.TrimPrefix(url, prefix))
	if err != nil {
		return err
	}
	return removeIfExists(p)
}

// destroyer is the subset of the Cloudinary uploader used here.
type destroyer interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// CloudinaryMedia hosts thumbnails on Cloudinary under Folder.
type CloudinaryMedia struct {
	api       destroyer
	cloudName string
	folder    string
}

// NewCloudinaryMedia builds a store from account credentials.
func NewCloudinaryMedia(cloudName, apiKey, apiSecret, folder string) (*CloudinaryMedia, error) {
	cfg, err := cldconfig.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return &CloudinaryMedia{api: up, cloudName: cloudName, folder: strings.Trim(folder, "/")}, nil
}

func (c *CloudinaryMedia) Upload(ctx context.Context, r io.Reader, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !ImageExtensions[ext] {
		return "", ErrBadExtension
	}
	res, err := c.api.Upload(ctx, r, uploader.UploadParams{
		Folder:   c.folder,
		PublicID: uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	if res.Error.Message != "" {
		return "", errors.New(res.Error.Message)
	}
	return res.SecureURL, nil
}

// Delete destroys the image behind url. URLs from another cloud are ignored.
func (c *CloudinaryMedia) Delete(ctx context.Context, url string) error {
	publicID, ok := c.publicID(url)
	if !ok {
		return nil
	}
	res, err := c.api.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return err
	}
	switch res.Result {
	case "ok", "not found":
		return nil
	default:
		if res.Error.Message != "" {
			return errors.New(res.Error.Message)
		}
		return fmt.Errorf("cloudinary destroy %s: %s", publicID, res.Result)
	}
}

// publicID extracts "folder/name" from
// https://res.cloudinary.com/<cloud>/image/upload/[<transforms>/][v<digits>/]folder/name.ext
func (c *CloudinaryMedia) publicID(url string) (string, bool) {
	marker := "res.cloudinary.com/" + c.cloudName + "/image/upload/"
	i := strings.Index(url, marker)
	if i < 0 {
		return "", false
	}
	rest := url[i+len(marker):]
	parts := strings.Split(rest, "/")
	// Drop everything up to and including the version segment, if present.
	for j, p := range parts {
		if len(p) > 1 && p[0] == 'v' && isDigits(p[1:]) {
			parts = parts[j+1:]
			break
		}
	}
	id := strings.Join(parts, "/")
	id = strings.TrimSuffix(id, filepath.Ext(id))
	return id, id != ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
