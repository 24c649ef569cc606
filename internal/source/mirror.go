package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"mangamirror/pkg/models"
)

// Mirror reads from a locally hosted JSON mirror (see cmd/mirror-server).
// Useful as a demo-safe source and for end-to-end testing without
// touching live sites.
//
// Expected endpoints:
//
//	GET {base}/titles?offset=N          -> [ {slug, name, tags, summary, image_url}, ... ]
//	GET {base}/titles/{slug}            -> same shape, single object
//	GET {base}/titles/{slug}/chapters   -> [ {"chapter": "1", "url": "..."}, ... ]
//	GET <chapter url>                   -> [ "page url", ... ]
type Mirror struct {
	BaseURL string
	Client  *http.Client
	Backoff time.Duration
}

func NewMirror(baseURL string) *Mirror {
	return &Mirror{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Backoff: 5 * time.Second,
	}
}

func (s *Mirror) Name() string { return "mirror" }

func (s *Mirror) RateBackoff() time.Duration { return s.Backoff }

type mirrorTitle struct {
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	Tags     []string `json:"tags"`
	Summary  string   `json:"summary"`
	ImageURL string   `json:"image_url"`
}

func (t mirrorTitle) toItem(name string) (models.Item, bool) {
	if t.Slug == "" || t.Name == "" {
		return models.Item{}, false
	}
	return models.Item{
		ID:          "mir_" + t.Slug,
		Source:      name,
		Title:       t.Name,
		Description: t.Summary,
		CoverURL:    t.ImageURL,
		Tags:        t.Tags,
	}, true
}

func (s *Mirror) ListItems(ctx context.Context, offset int) ([]models.Item, error) {
	body, err := fetch(ctx, s.Client, fmt.Sprintf("%s/titles?offset=%d", s.BaseURL, offset))
	if err != nil {
		return nil, fmt.Errorf("mirror list: %w", err)
	}

	var raw []mirrorTitle
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("mirror list: %w: decode: %v", ErrUnavailable, err)
	}

	items := make([]models.Item, 0, len(raw))
	for _, t := range raw {
		if item, ok := t.toItem(s.Name()); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *Mirror) FetchDetail(ctx context.Context, id string) (*models.Item, error) {
	slug := mirrorSlug(id)
	body, err := fetch(ctx, s.Client, fmt.Sprintf("%s/titles/%s", s.BaseURL, url.PathEscape(slug)))
	if err != nil {
		return nil, fmt.Errorf("mirror detail: %w", err)
	}

	var t mirrorTitle
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("mirror detail: %w: decode: %v", ErrUnavailable, err)
	}
	item, ok := t.toItem(s.Name())
	if !ok {
		return nil, fmt.Errorf("mirror detail %s: %w", id, ErrNotFound)
	}
	return &item, nil
}

func (s *Mirror) ListChapters(ctx context.Context, item models.Item) ([]models.Chapter, error) {
	slug := mirrorSlug(item.ID)
	body, err := fetch(ctx, s.Client, fmt.Sprintf("%s/titles/%s/chapters", s.BaseURL, url.PathEscape(slug)))
	if err != nil {
		return nil, fmt.Errorf("mirror chapters: %w", err)
	}

	var raw []struct {
		Chapter string `json:"chapter"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("mirror chapters: %w: decode: %v", ErrUnavailable, err)
	}

	chapters := make([]models.Chapter, 0, len(raw))
	for _, ch := range raw {
		idx, ok := ParseChapterIndex(ch.Chapter)
		if !ok {
			continue
		}
		chapters = append(chapters, models.Chapter{Index: idx, Locator: ch.URL})
	}
	return NormalizeChapters(chapters), nil
}

func (s *Mirror) ListPages(ctx context.Context, locator string) ([]string, error) {
	body, err := fetch(ctx, s.Client, locator)
	if err != nil {
		return nil, fmt.Errorf("mirror pages: %w", err)
	}

	var urls []string
	if err := json.Unmarshal(body, &urls); err != nil {
		return nil, fmt.Errorf("mirror pages: %w: decode: %v", ErrUnavailable, err)
	}
	return urls, nil
}

func mirrorSlug(id string) string {
	if len(id) > 4 && id[:4] == "mir_" {
		return id[4:]
	}
	return id
}
