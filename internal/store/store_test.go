package store

import (
	"context"
	"path/filepath"
	"testing"

	"mangamirror/pkg/database"
	"mangamirror/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := database.MustOpen(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return New(db)
}

func TestGetLatestChapterUnknownItem(t *testing.T) {
	s := newTestStore(t)

	_, known, err := s.GetLatestChapter(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetLatestChapter failed: %v", err)
	}
	if known {
		t.Fatal("expected unknown item")
	}
}

func TestUpsertItemNeverRegressesLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertItem(ctx, models.Item{ID: "x", Source: "fake", Title: "X", LatestChapter: 5}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := s.UpsertItem(ctx, models.Item{ID: "x", Source: "fake", Title: "X renamed", LatestChapter: 3}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	latest, known, err := s.GetLatestChapter(ctx, "x")
	if err != nil || !known {
		t.Fatalf("GetLatestChapter failed: %v known=%v", err, known)
	}
	if latest != 5 {
		t.Fatalf("latest regressed: expected 5, got %v", latest)
	}
}

func TestUpsertItemFillsEmptyMetadataOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertItem(ctx, models.Item{ID: "x", Source: "fake", Title: "X"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := s.UpsertItem(ctx, models.Item{ID: "x", Source: "fake", Title: "X",
		Description: "filled", Tags: []string{"a"}, CoverURL: "http://c/1.png"}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if err := s.UpsertItem(ctx, models.Item{ID: "x", Source: "fake", Title: "X",
		Description: "overwritten?", CoverURL: "http://c/2.png"}); err != nil {
		t.Fatalf("third upsert failed: %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snap.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(snap.Items))
	}
	item := snap.Items[0]
	if item.Description != "filled" {
		t.Fatalf("description should keep first non-empty value, got %q", item.Description)
	}
	if item.CoverURL != "http://c/1.png" {
		t.Fatalf("cover should keep first non-empty value, got %q", item.CoverURL)
	}
	if len(item.Tags) != 1 || item.Tags[0] != "a" {
		t.Fatalf("unexpected tags %v", item.Tags)
	}
}

func TestInsertPageIfAbsentDetectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	page := models.Page{ItemID: "x", ChapterIndex: 1.5, PageNumber: 2, SourceURL: "http://p/2"}
	inserted, err := s.InsertPageIfAbsent(ctx, page)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should report inserted")
	}

	inserted, err = s.InsertPageIfAbsent(ctx, page)
	if err != nil {
		t.Fatalf("duplicate insert failed: %v", err)
	}
	if inserted {
		t.Fatal("duplicate insert must be a no-op")
	}
}

func TestGetPersistedPagesReturnsSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, n := range []int{1, 3} {
		if _, err := s.InsertPageIfAbsent(ctx, models.Page{ItemID: "x", ChapterIndex: 1, PageNumber: n}); err != nil {
			t.Fatalf("insert page %d failed: %v", n, err)
		}
	}
	if _, err := s.InsertPageIfAbsent(ctx, models.Page{ItemID: "x", ChapterIndex: 2, PageNumber: 1}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	pages, err := s.GetPersistedPages(ctx, "x", 1)
	if err != nil {
		t.Fatalf("GetPersistedPages failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages for chapter 1, got %d", len(pages))
	}
	if _, ok := pages[2]; ok {
		t.Fatal("page 2 was never persisted")
	}
}

func TestCountItemPagesSpansChapters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for ch := 1; ch <= 2; ch++ {
		for n := 1; n <= 3; n++ {
			if _, err := s.InsertPageIfAbsent(ctx, models.Page{
				ItemID: "x", ChapterIndex: float64(ch), PageNumber: n,
			}); err != nil {
				t.Fatalf("insert failed: %v", err)
			}
		}
	}
	if _, err := s.InsertPageIfAbsent(ctx, models.Page{ItemID: "other", ChapterIndex: 1, PageNumber: 1}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	n, err := s.CountItemPages(ctx, "x")
	if err != nil {
		t.Fatalf("CountItemPages failed: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 pages, got %d", n)
	}
}

func TestSnapshotIncludesItemsAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertItem(ctx, models.Item{
		ID: "x", Source: "fake", Title: "X", Tags: []string{"a", "b"}, LatestChapter: 2,
	}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := s.InsertPageIfAbsent(ctx, models.Page{
		ItemID: "x", ChapterIndex: 1, PageNumber: 1, SourceURL: "http://p/1",
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snap.Items) != 1 || len(snap.Pages) != 1 {
		t.Fatalf("expected 1 item and 1 page, got %d/%d", len(snap.Items), len(snap.Pages))
	}
	if snap.Items[0].LatestChapter != 2 {
		t.Fatalf("unexpected latest %v", snap.Items[0].LatestChapter)
	}
	if len(snap.Items[0].Tags) != 2 {
		t.Fatalf("unexpected tags %v", snap.Items[0].Tags)
	}
	if snap.Pages[0].SourceURL != "http://p/1" {
		t.Fatalf("unexpected page %+v", snap.Pages[0])
	}

	items, pages, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts failed: %v", err)
	}
	if items != 1 || pages != 1 {
		t.Fatalf("expected counts 1/1, got %d/%d", items, pages)
	}
}
