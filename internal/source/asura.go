package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mangamirror/pkg/models"
)

const (
	asuraBase         = "https://asuracomic.net"
	asuraItemsPerPage = 20
)

var (
	asuraSlugRe    = regexp.MustCompile(`/series/([^/?#]+)`)
	asuraChapterRe = regexp.MustCompile(`/chapter/([\d]+(?:[._-][\d]+)?)`)
)

// Asura scrapes an HTML catalog whose item ids do not embed the series
// URL: ids are derived from the title alone (see asuraID), so the
// adapter keeps an id → slug map, filled while listing, to rebuild
// series URLs for later lookups. Detail and chapter fetches for an id
// that was never listed fail with ErrNotFound.
type Asura struct {
	BaseURL string
	Client  *http.Client
	PerPage int
	Backoff time.Duration

	mu    sync.Mutex
	slugs map[string]string
}

func NewAsura(baseURL string, rateBackoff time.Duration) *Asura {
	if baseURL == "" {
		baseURL = asuraBase
	}
	if rateBackoff <= 0 {
		rateBackoff = time.Minute
	}
	return &Asura{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 20 * time.Second},
		PerPage: asuraItemsPerPage,
		Backoff: rateBackoff,
		slugs:   make(map[string]string),
	}
}

func (s *Asura) Name() string { return "asura" }

func (s *Asura) RateBackoff() time.Duration { return s.Backoff }

func (s *Asura) ListItems(ctx context.Context, offset int) ([]models.Item, error) {
	page := offset/s.PerPage + 1
	doc, err := s.getDoc(ctx, fmt.Sprintf("%s/series?page=%d", s.BaseURL, page))
	if err != nil {
		return nil, fmt.Errorf("asura list: %w", err)
	}

	var items []models.Item
	seen := make(map[string]struct{})

	doc.Find("a[href*='/series/']").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		// chapter-level links live under the same path prefix
		if strings.Contains(href, "/chapter/") {
			return
		}
		m := asuraSlugRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		slug := m[1]
		if _, dup := seen[slug]; dup {
			return
		}
		seen[slug] = struct{}{}

		title := squashSpace(sel.Find("span.font-bold, div.font-bold, h3, h2").First().Text())
		if title == "" {
			label, _ := sel.Attr("aria-label")
			title = squashSpace(label)
		}
		if title == "" {
			title = asuraTitleFromSlug(slug)
		}

		id := asuraID(title)
		s.rememberSlug(id, slug)

		cover := ""
		if img := sel.Find("img").First(); img.Length() > 0 {
			cover = firstAttr(img, "src", "data-src", "data-lazy-src")
		}

		items = append(items, models.Item{
			ID:       id,
			Source:   s.Name(),
			Title:    title,
			CoverURL: cover,
		})
	})

	return items, nil
}

func (s *Asura) FetchDetail(ctx context.Context, id string) (*models.Item, error) {
	slug, ok := s.slugFor(id)
	if !ok {
		return nil, fmt.Errorf("asura detail %s: no slug listed for id: %w", id, ErrNotFound)
	}
	doc, err := s.getDoc(ctx, s.seriesURL(slug))
	if err != nil {
		return nil, fmt.Errorf("asura detail: %w", err)
	}

	item := s.parseDetail(doc, id)
	if item.Title == "" {
		return nil, fmt.Errorf("asura detail %s: %w", id, ErrNotFound)
	}
	return &item, nil
}

func (s *Asura) parseDetail(doc *goquery.Document, id string) models.Item {
	title := squashSpace(firstOf(doc, "span.text-xl.font-bold", "h1").Text())

	cover := ""
	if img := firstOf(doc, "img[alt='poster']", "div.relative img"); img.Length() > 0 {
		cover = firstAttr(img, "src", "data-src")
	}

	// The description span's full class list contains bracket characters
	// that break CSS selectors, so match the stable classes plus an
	// attribute substring.
	desc := squashSpace(doc.Find("span.font-medium.text-sm[class*='A2A2A2']").First().Text())

	var tags []string
	seen := make(map[string]struct{})
	doc.Find("div.flex-wrap.gap-3 button").Each(func(_ int, btn *goquery.Selection) {
		t := squashSpace(btn.Text())
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	})

	return models.Item{
		ID:          id,
		Source:      s.Name(),
		Title:       title,
		Description: desc,
		CoverURL:    cover,
		Tags:        tags,
	}
}

func (s *Asura) ListChapters(ctx context.Context, item models.Item) ([]models.Chapter, error) {
	slug, ok := s.slugFor(item.ID)
	if !ok {
		return nil, fmt.Errorf("asura chapters %s: no slug listed for id: %w", item.ID, ErrNotFound)
	}
	doc, err := s.getDoc(ctx, s.seriesURL(slug))
	if err != nil {
		return nil, fmt.Errorf("asura chapters: %w", err)
	}

	anchors := doc.Find(fmt.Sprintf("a[href*='/series/%s/chapter/']", slug))
	if anchors.Length() == 0 {
		anchors = doc.Find("a[href*='/chapter/']")
	}

	var chapters []models.Chapter
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := asuraChapterRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		idx, ok := ParseChapterIndex(m[1])
		if !ok {
			return
		}
		// locator is rebuilt from canonical parts, never the raw href
		chapters = append(chapters, models.Chapter{
			Index:   idx,
			Locator: fmt.Sprintf("%s/series/%s/chapter/%s", s.BaseURL, slug, m[1]),
		})
	})

	return NormalizeChapters(chapters), nil
}

func (s *Asura) ListPages(ctx context.Context, locator string) ([]string, error) {
	doc, err := s.getDoc(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("asura pages: %w", err)
	}

	images := doc.Find("img[alt^='chapter page']")
	for _, fallback := range []string{
		"div.center img",
		"div#chapter-container img",
		"div.chapter-content img",
		"div.reading-content img",
		"img[src*='gg.asuracomic.net']", // CDN catch-all
	} {
		if images.Length() > 0 {
			break
		}
		images = doc.Find(fallback)
	}

	var urls []string
	seen := make(map[string]struct{})
	images.Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(firstAttr(img, "src", "data-src", "data-lazy-src"))
		if !strings.HasPrefix(src, "http") {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		urls = append(urls, src)
	})
	return urls, nil
}

func (s *Asura) getDoc(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := fetch(ctx, s.Client, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrUnavailable, err)
	}
	return doc, nil
}

func (s *Asura) seriesURL(slug string) string {
	return fmt.Sprintf("%s/series/%s", s.BaseURL, url.PathEscape(slug))
}

func (s *Asura) rememberSlug(id, slug string) {
	s.mu.Lock()
	s.slugs[id] = slug
	s.mu.Unlock()
}

func (s *Asura) slugFor(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slug, ok := s.slugs[id]
	return slug, ok
}

// asuraID builds the deterministic item id "as-XXXXXXXX-XXXXXXXX" from
// the title: every character becomes its two-digit lowercase hex code,
// concatenated, zero-padded to sixteen digits and split into two
// groups. "Nano Machine" hashes to as-4e616e6f-204d6163.
func asuraID(title string) string {
	var b strings.Builder
	for _, r := range title {
		fmt.Fprintf(&b, "%02x", r)
	}
	h := b.String()
	for len(h) < 16 {
		h += "0"
	}
	return fmt.Sprintf("as-%s-%s", h[:8], h[8:16])
}

func asuraTitleFromSlug(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && v != "" {
			return v
		}
	}
	return ""
}
