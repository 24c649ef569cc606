package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mangamirror/pkg/models"
)

const mangadexBase = "https://api.mangadex.org"

// MangaDex fetches the catalog from the public MangaDex API.
type MangaDex struct {
	BaseURL   string
	Client    *http.Client
	Limit     int // items per list request
	Languages []string
	Backoff   time.Duration
}

func NewMangaDex(limit int, rateBackoff time.Duration) *MangaDex {
	if limit <= 0 {
		limit = 20
	}
	if rateBackoff <= 0 {
		rateBackoff = time.Minute
	}
	return &MangaDex{
		BaseURL:   mangadexBase,
		Client:    &http.Client{Timeout: 12 * time.Second},
		Limit:     limit,
		Languages: []string{"en"},
		Backoff:   rateBackoff,
	}
}

func (s *MangaDex) Name() string { return "mangadex" }

func (s *MangaDex) RateBackoff() time.Duration { return s.Backoff }

type mdListResponse struct {
	Data []mdManga `json:"data"`
}

type mdDetailResponse struct {
	Data mdManga `json:"data"`
}

type mdManga struct {
	ID         string `json:"id"`
	Attributes struct {
		Title       map[string]string `json:"title"`
		Description map[string]string `json:"description"`
		Tags        []struct {
			Attributes struct {
				Name map[string]string `json:"name"`
			} `json:"attributes"`
		} `json:"tags"`
	} `json:"attributes"`
	Relationships []struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			FileName string `json:"fileName"`
		} `json:"attributes"`
	} `json:"relationships"`
}

func (s *MangaDex) ListItems(ctx context.Context, offset int) ([]models.Item, error) {
	u, _ := url.Parse(s.BaseURL + "/manga")
	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", s.Limit))
	q.Set("offset", fmt.Sprintf("%d", offset))
	q.Add("contentRating[]", "safe")
	q.Add("contentRating[]", "suggestive")
	q.Add("includes[]", "cover_art")
	u.RawQuery = q.Encode()

	body, err := fetch(ctx, s.Client, u.String())
	if err != nil {
		return nil, fmt.Errorf("mangadex list: %w", err)
	}

	var md mdListResponse
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("mangadex list: %w: decode: %v", ErrUnavailable, err)
	}

	items := make([]models.Item, 0, len(md.Data))
	for _, m := range md.Data {
		item, ok := s.mapManga(m)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *MangaDex) FetchDetail(ctx context.Context, id string) (*models.Item, error) {
	body, err := fetch(ctx, s.Client, fmt.Sprintf("%s/manga/%s", s.BaseURL, url.PathEscape(id)))
	if err != nil {
		return nil, fmt.Errorf("mangadex detail: %w", err)
	}

	var md mdDetailResponse
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("mangadex detail: %w: decode: %v", ErrUnavailable, err)
	}

	item, ok := s.mapManga(md.Data)
	if !ok {
		return nil, fmt.Errorf("mangadex detail %s: %w", id, ErrNotFound)
	}
	return &item, nil
}

type mdFeedResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Chapter string `json:"chapter"`
		} `json:"attributes"`
	} `json:"data"`
}

func (s *MangaDex) ListChapters(ctx context.Context, item models.Item) ([]models.Chapter, error) {
	u, _ := url.Parse(fmt.Sprintf("%s/manga/%s/feed", s.BaseURL, url.PathEscape(item.ID)))
	q := u.Query()
	for _, lang := range s.Languages {
		q.Add("translatedLanguage[]", lang)
	}
	u.RawQuery = q.Encode()

	body, err := fetch(ctx, s.Client, u.String())
	if err != nil {
		return nil, fmt.Errorf("mangadex feed: %w", err)
	}

	var feed mdFeedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("mangadex feed: %w: decode: %v", ErrUnavailable, err)
	}

	chapters := make([]models.Chapter, 0, len(feed.Data))
	for _, ch := range feed.Data {
		idx, ok := ParseChapterIndex(ch.Attributes.Chapter)
		if !ok {
			continue
		}
		// locator is the chapter UUID for the at-home server lookup
		chapters = append(chapters, models.Chapter{Index: idx, Locator: ch.ID})
	}
	return NormalizeChapters(chapters), nil
}

type mdAtHomeResponse struct {
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash string   `json:"hash"`
		Data []string `json:"data"`
	} `json:"chapter"`
}

func (s *MangaDex) ListPages(ctx context.Context, locator string) ([]string, error) {
	body, err := fetch(ctx, s.Client, fmt.Sprintf("%s/at-home/server/%s", s.BaseURL, url.PathEscape(locator)))
	if err != nil {
		return nil, fmt.Errorf("mangadex at-home: %w", err)
	}

	var ah mdAtHomeResponse
	if err := json.Unmarshal(body, &ah); err != nil {
		return nil, fmt.Errorf("mangadex at-home: %w: decode: %v", ErrUnavailable, err)
	}
	if ah.BaseURL == "" || ah.Chapter.Hash == "" {
		return nil, fmt.Errorf("mangadex at-home: %w: missing host or hash", ErrUnavailable)
	}

	urls := make([]string, 0, len(ah.Chapter.Data))
	for _, page := range ah.Chapter.Data {
		urls = append(urls, fmt.Sprintf("%s/data/%s/%s", ah.BaseURL, ah.Chapter.Hash, page))
	}
	return urls, nil
}

func (s *MangaDex) mapManga(m mdManga) (models.Item, bool) {
	if m.ID == "" {
		return models.Item{}, false
	}

	title := pickLang(m.Attributes.Title, "en")
	if title == "" {
		for _, v := range m.Attributes.Title {
			title = v
			break
		}
	}
	if title == "" {
		return models.Item{}, false
	}

	tags := make([]string, 0, len(m.Attributes.Tags))
	for _, t := range m.Attributes.Tags {
		if name := pickLang(t.Attributes.Name, "en"); name != "" {
			tags = append(tags, name)
		}
	}

	coverURL := ""
	for _, rel := range m.Relationships {
		if rel.Type == "cover_art" && rel.Attributes.FileName != "" {
			coverURL = fmt.Sprintf("https://uploads.mangadex.org/covers/%s/%s", m.ID, rel.Attributes.FileName)
			break
		}
	}

	return models.Item{
		ID:          m.ID, // MangaDex UUIDs are already globally unique
		Source:      s.Name(),
		Title:       title,
		Description: pickLang(m.Attributes.Description, "en"),
		CoverURL:    coverURL,
		Tags:        tags,
	}, true
}

func pickLang(m map[string]string, lang string) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[lang])
}
