package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mangamirror/internal/source"
)

// PageFetcher downloads the bytes of one page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// BlobStore persists fetched page bytes. The pages table row, not the
// blob, is what marks a page as captured.
type BlobStore interface {
	WritePage(itemID string, chapterIndex float64, pageNumber int, data []byte) error
}

// HTTPFetcher fetches page images directly from the source's file host.
type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *HTTPFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status 429", source.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", source.ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", source.ErrUnavailable, err)
	}
	return data, nil
}

// DirBlobStore lays pages out as
// <root>/<item_id>/chapter_<index>/<page>.img, with dots in fractional
// indices replaced so the path stays portable.
type DirBlobStore struct {
	Root string
}

func NewDirBlobStore(root string) *DirBlobStore {
	return &DirBlobStore{Root: root}
}

func (b *DirBlobStore) WritePage(itemID string, chapterIndex float64, pageNumber int, data []byte) error {
	dir := filepath.Join(b.Root, sanitizeSegment(itemID), "chapter_"+chapterSegment(chapterIndex))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%04d.img", pageNumber))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func chapterSegment(index float64) string {
	return strings.ReplaceAll(strconv.FormatFloat(index, 'f', -1, 64), ".", "_")
}

// sanitizeSegment keeps item ids filesystem-safe: lowercase ascii
// letters, digits, dash and underscore survive, everything else
// becomes a dash.
func sanitizeSegment(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteRune('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(sb.String(), "-")
	if out == "" {
		return "item"
	}
	return out
}
