package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mangamirror/pkg/models"
)

const (
	natoBase         = "https://www.natomanga.com"
	natoPrefix       = "nato_"
	natoItemsPerPage = 24
)

var natoChapterRe = regexp.MustCompile(`(?i)chapter[_-]([\d]+(?:[_.-][\d]+)?)`)

// NatoManga scrapes an HTML catalog site. Listing pages, detail pages
// and chapter readers are all parsed with goquery selectors; the site
// has several historical layouts, so each lookup tries the selectors
// in order.
type NatoManga struct {
	BaseURL string
	Client  *http.Client
	PerPage int
	Backoff time.Duration
}

func NewNatoManga(baseURL string, rateBackoff time.Duration) *NatoManga {
	if baseURL == "" {
		baseURL = natoBase
	}
	if rateBackoff <= 0 {
		rateBackoff = time.Minute
	}
	return &NatoManga{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 20 * time.Second},
		PerPage: natoItemsPerPage,
		Backoff: rateBackoff,
	}
}

func (s *NatoManga) Name() string { return "nato" }

func (s *NatoManga) RateBackoff() time.Duration { return s.Backoff }

func (s *NatoManga) ListItems(ctx context.Context, offset int) ([]models.Item, error) {
	page := offset/s.PerPage + 1
	doc, err := s.getDoc(ctx, fmt.Sprintf("%s/manga-list/latest-manga?page=%d", s.BaseURL, page))
	if err != nil {
		return nil, fmt.Errorf("nato list: %w", err)
	}

	var items []models.Item
	seen := make(map[string]struct{})

	cards := doc.Find("a.list-story-item")
	if cards.Length() == 0 {
		cards = doc.Find("div.list-truyen-item-wrap a[href*='/manga/']")
	}
	if cards.Length() == 0 {
		cards = doc.Find("div.itemupdate h3 a")
	}

	cards.Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		slug := natoSlugFromHref(href)
		if slug == "" {
			return
		}
		if _, dup := seen[slug]; dup {
			return
		}
		seen[slug] = struct{}{}

		title := squashSpace(sel.Find("h3").First().Text())
		if title == "" {
			title = squashSpace(sel.Text())
		}

		cover := ""
		if img := sel.Find("img").First(); img.Length() > 0 {
			cover, _ = img.Attr("src")
			if cover == "" {
				cover, _ = img.Attr("data-src")
			}
		}

		items = append(items, models.Item{
			ID:       natoPrefix + slug,
			Source:   s.Name(),
			Title:    title,
			CoverURL: cover,
		})
	})

	return items, nil
}

func (s *NatoManga) FetchDetail(ctx context.Context, id string) (*models.Item, error) {
	slug := strings.TrimPrefix(id, natoPrefix)
	doc, err := s.getDoc(ctx, fmt.Sprintf("%s/manga/%s", s.BaseURL, url.PathEscape(slug)))
	if err != nil {
		return nil, fmt.Errorf("nato detail: %w", err)
	}

	title := squashSpace(firstOf(doc,
		"div.story-info-right h1",
		"h1.story-info-right-extent",
		"h1",
	).Text())
	if title == "" {
		return nil, fmt.Errorf("nato detail %s: %w", id, ErrNotFound)
	}

	cover := ""
	if img := firstOf(doc, "span.info-image img", ".story-info-left img", "div.manga-info-top img"); img.Length() > 0 {
		cover, _ = img.Attr("src")
	}

	desc := ""
	if d := firstOf(doc, "#panel-story-info-description", "div.story-info-description"); d.Length() > 0 {
		d.Find("h3, strong, label").Remove()
		desc = squashSpace(d.Text())
	}

	var tags []string
	genres := doc.Find("td.table-value a[href*='/genre/']")
	if genres.Length() == 0 {
		genres = doc.Find("a.a-h[href*='/genre/']")
	}
	genres.Each(func(_ int, a *goquery.Selection) {
		if g := squashSpace(a.Text()); g != "" {
			tags = append(tags, g)
		}
	})

	return &models.Item{
		ID:          id,
		Source:      s.Name(),
		Title:       title,
		Description: desc,
		CoverURL:    cover,
		Tags:        tags,
	}, nil
}

func (s *NatoManga) ListChapters(ctx context.Context, item models.Item) ([]models.Chapter, error) {
	slug := strings.TrimPrefix(item.ID, natoPrefix)
	doc, err := s.getDoc(ctx, fmt.Sprintf("%s/manga/%s", s.BaseURL, url.PathEscape(slug)))
	if err != nil {
		return nil, fmt.Errorf("nato chapters: %w", err)
	}

	anchors := doc.Find("ul.row-content-chapter li a")
	if anchors.Length() == 0 {
		anchors = doc.Find("div.chapter-list a[href*='/chapter-']")
	}
	if anchors.Length() == 0 {
		anchors = doc.Find("li.a-h a[href*='/chapter-']")
	}

	var chapters []models.Chapter
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if href == "" {
			return
		}
		m := natoChapterRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		idx, ok := ParseChapterIndex(m[1])
		if !ok {
			return
		}
		// locator is the chapter reader URL
		chapters = append(chapters, models.Chapter{Index: idx, Locator: href})
	})

	return NormalizeChapters(chapters), nil
}

func (s *NatoManga) ListPages(ctx context.Context, locator string) ([]string, error) {
	doc, err := s.getDoc(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("nato pages: %w", err)
	}

	images := doc.Find("div.container-chapter-reader img")
	if images.Length() == 0 {
		images = doc.Find("div#vungdoc img")
	}
	if images.Length() == 0 {
		images = doc.Find("div.panel-read-story img")
	}

	var urls []string
	images.Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" {
			src, _ = img.Attr("data-src")
		}
		src = strings.TrimSpace(src)
		if strings.HasPrefix(src, "http") {
			urls = append(urls, src)
		}
	})
	return urls, nil
}

func (s *NatoManga) getDoc(ctx context.Context, pageURL string) (*goquery.Document, error) {
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

func natoSlugFromHref(href string) string {
	if !strings.Contains(href, "/manga/") {
		return ""
	}
	rest := href[strings.Index(href, "/manga/")+len("/manga/"):]
	rest = strings.Trim(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func firstOf(doc *goquery.Document, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	return doc.Find(selectors[len(selectors)-1]).First()
}

var spaceRe = regexp.MustCompile(`\s+`)

func squashSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
