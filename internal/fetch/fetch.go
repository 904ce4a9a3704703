// Package fetch downloads the media asset behind a WorkItem into a local
// temp file and settles any still-undetermined content kind from the asset's
// response headers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verificaicode/verifica-ai/internal/identify"
	"github.com/verificaicode/verifica-ai/internal/types"
)

// Fetcher materializes remote media on local disk.
type Fetcher struct {
	http   *http.Client
	dir    string
	logger *zap.Logger
}

// New creates a Fetcher writing into dir. An empty dir falls back to the
// system temp directory, a nil client to a 60s-timeout default.
func New(dir string, client *http.Client, logger *zap.Logger) *Fetcher {
	if dir == "" {
		dir = os.TempDir()
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{http: client, dir: dir, logger: logger}
}

// Fetch downloads the item's media and fills in LocalPath, the resolved
// Kind, and a missing PublishedAt from the asset's Last-Modified header.
// Text items pass through untouched.
func (f *Fetcher) Fetch(ctx context.Context, item *types.WorkItem) error {
	if item.Kind == types.KindText {
		return nil
	}

	mediaURL, filename, kind, err := f.plan(item)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidLink, err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: downloading media: %v", types.ErrInvalidLink, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: media download answered %s", types.ErrInvalidLink, resp.Status)
	}

	if kind == types.KindUndetermined {
		if strings.Contains(resp.Header.Get("Content-Type"), "video") {
			kind = types.KindVideo
		} else {
			kind = types.KindImage
		}
	}
	if item.PublishedAt.IsZero() {
		if lm, err := time.Parse(http.TimeFormat, resp.Header.Get("Last-Modified")); err == nil {
			item.PublishedAt = lm
		}
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return types.Internal(err)
	}

	path := filepath.Join(f.dir, filename+extension(kind))
	out, err := os.Create(path)
	if err != nil {
		return types.Internal(err)
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(path)
		return types.Internal(err)
	}

	item.Kind = kind
	item.MediaURL = mediaURL
	item.LocalPath = path

	f.logger.Debug("media fetched",
		zap.String("shortcode", item.Shortcode),
		zap.String("kind", kind.String()),
		zap.Int64("bytes", written),
		zap.String("path", path))

	return nil
}

// plan picks the download URL, the base filename and the kind when it is
// already known. App-shared and gallery media use the v_ prefix; media
// resolved from a post URL uses vl_, with the carousel slot in the name.
func (f *Fetcher) plan(item *types.WorkItem) (mediaURL, filename string, kind types.ContentKind, err error) {
	if item.Remote == nil {
		return item.MediaURL, fmt.Sprintf("v_%s_s1", item.Shortcode), item.Kind, nil
	}

	post := item.Remote
	if post.IsCarousel {
		idx := identify.ImgIndexFromURL(item.OriginalURL)
		if idx > len(post.Items) {
			return "", "", types.KindUndetermined,
				fmt.Errorf("%w: carousel has %d items, index %d", types.ErrInvalidLink, len(post.Items), idx)
		}
		entry := post.Items[idx-1]
		kind = types.KindImage
		if entry.IsVideo {
			kind = types.KindVideo
		}
		return entry.MediaURL, fmt.Sprintf("vl_%s_m%d", item.Shortcode, idx), kind, nil
	}

	kind = types.KindImage
	if post.IsVideo {
		kind = types.KindVideo
	}
	return post.MediaURL, fmt.Sprintf("vl_%s_s1", item.Shortcode), kind, nil
}

func extension(kind types.ContentKind) string {
	if kind == types.KindVideo {
		return ".mp4"
	}
	return ".jpg"
}

// MIMEType reports the upload content type for a fetched file.
func MIMEType(kind types.ContentKind) string {
	if kind == types.KindVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}
