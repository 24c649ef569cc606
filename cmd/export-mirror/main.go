package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"mangamirror/internal/store"
	"mangamirror/pkg/database"
)

type mirrorChapter struct {
	Chapter string   `json:"chapter"`
	Pages   []string `json:"pages"`
}

type mirrorTitle struct {
	Slug     string          `json:"slug"`
	Name     string          `json:"name"`
	Tags     []string        `json:"tags"`
	Summary  string          `json:"summary"`
	ImageURL string          `json:"image_url"`
	Chapters []mirrorChapter `json:"chapters"`
}

func main() {
	var (
		outPath = flag.String("out", "data/mirror.json", "output JSON path")
		limit   = flag.Int("limit", 200, "how many titles to export")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db := database.MustOpen(database.DefaultConfig())
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	snap, err := store.New(db).Snapshot(ctx)
	if err != nil {
		log.Fatalf("snapshot failed: %v", err)
	}

	// group pages by item, then chapter; page numbers are already
	// ordered by the snapshot query
	type chapterKey struct {
		itemID string
		index  float64
	}
	pagesByChapter := make(map[chapterKey][]string)
	for _, page := range snap.Pages {
		key := chapterKey{itemID: page.ItemID, index: page.ChapterIndex}
		pagesByChapter[key] = append(pagesByChapter[key], page.SourceURL)
	}

	var out []mirrorTitle
	for _, item := range snap.Items {
		if len(out) >= *limit {
			break
		}

		var indices []float64
		for key := range pagesByChapter {
			if key.itemID == item.ID {
				indices = append(indices, key.index)
			}
		}
		sort.Float64s(indices)

		chapters := make([]mirrorChapter, 0, len(indices))
		for _, idx := range indices {
			chapters = append(chapters, mirrorChapter{
				Chapter: strconv.FormatFloat(idx, 'f', -1, 64),
				Pages:   pagesByChapter[chapterKey{itemID: item.ID, index: idx}],
			})
		}

		tags := item.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, mirrorTitle{
			Slug:     toSlug(item.ID, item.Title),
			Name:     item.Title,
			Tags:     tags,
			Summary:  item.Description,
			ImageURL: item.CoverURL,
			Chapters: chapters,
		})
	}

	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		log.Fatalf("mkdir failed: %v", err)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Fatalf("marshal failed: %v", err)
	}
	if err := os.WriteFile(*outPath, b, 0o644); err != nil {
		log.Fatalf("write failed: %v", err)
	}

	log.Printf("exported %d titles to %s", len(out), *outPath)
}

func toSlug(id, title string) string {
	// MangaDex ids are UUIDs; a title-based slug reads better in the
	// mirror dataset.
	if looksLikeUUID(id) {
		return slugify(title)
	}
	return slugify(id)
}

func looksLikeUUID(s string) bool {
	return len(s) >= 32 && strings.Count(s, "-") >= 3
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
		} else {
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "untitled"
	}
	return out
}
