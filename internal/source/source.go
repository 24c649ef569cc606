package source

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"mangamirror/pkg/models"
)

// Classified adapter failures. Callers test with errors.Is; everything
// an adapter returns that is not one of these is treated as unavailable.
var (
	// ErrUnavailable means a network or parse failure talking to the
	// source. The enclosing sync attempt is abandoned for this pass.
	ErrUnavailable = errors.New("source unavailable")

	// ErrRateLimited is an explicit throttle signal (HTTP 429). The
	// adapter backs off itself; the caller records it separately.
	ErrRateLimited = errors.New("source rate limited")

	// ErrNotFound means the item no longer exists upstream.
	ErrNotFound = errors.New("not found upstream")
)

// Adapter is implemented by each external data source. Each source is
// responsible for fetching its own data format and mapping it into the
// normalized models.
//
// ListItems returns partial items (no chapter data) and an empty slice,
// not an error, when the catalog is exhausted. ListChapters returns
// chapters sorted ascending by numeric index with duplicates collapsed.
// ListPages returns page URLs whose order defines the 1-based page
// number; the URLs are only assumed valid for the fetch that produced
// them.
type Adapter interface {
	Name() string
	RateBackoff() time.Duration
	ListItems(ctx context.Context, offset int) ([]models.Item, error)
	FetchDetail(ctx context.Context, id string) (*models.Item, error)
	ListChapters(ctx context.Context, item models.Item) ([]models.Chapter, error)
	ListPages(ctx context.Context, locator string) ([]string, error)
}

// ParseChapterIndex parses a source chapter label ("12", "12.5", also
// "12_5" and "12-5" spellings) into a numeric index. Non-numeric labels
// are discarded by returning ok=false.
func ParseChapterIndex(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, "_", ".")
	s = strings.ReplaceAll(s, "-", ".")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NormalizeChapters sorts ascending by index and collapses duplicate
// indices, keeping the last-seen locator.
func NormalizeChapters(chapters []models.Chapter) []models.Chapter {
	byIndex := make(map[float64]string, len(chapters))
	for _, ch := range chapters {
		byIndex[ch.Index] = ch.Locator
	}
	out := make([]models.Chapter, 0, len(byIndex))
	for idx, loc := range byIndex {
		out = append(out, models.Chapter{Index: idx, Locator: loc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
