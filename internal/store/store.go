// Package store is the durable state store: one items table for
// per-item metadata and one pages table keyed by
// (item_id, chapter_index, page_number) for completion records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"mangamirror/internal/backoff"
	"mangamirror/pkg/models"
)

// ErrUnavailable means the store could not be reached or a write kept
// failing after conflict retries. Fatal to the current sync attempt,
// never to the worker loop.
var ErrUnavailable = errors.New("state store unavailable")

type Store struct {
	db    *sql.DB
	retry backoff.Policy
}

func New(db *sql.DB) *Store {
	return &Store{
		db: db,
		retry: backoff.Policy{
			Attempts:  5,
			BaseDelay: 50 * time.Millisecond,
			Jitter:    50 * time.Millisecond,
			Retryable: isBusy,
		},
	}
}

// isBusy reports whether err is a sqlite write conflict. Conflicts are
// expected under the worker pool, so they are retried, not surfaced.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// GetLatestChapter returns the highest chapter index ever recorded for
// the item. ok=false means the item has never been seen.
func (s *Store) GetLatestChapter(ctx context.Context, itemID string) (float64, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT latest_chapter FROM items WHERE id = ?`, itemID)

	var latest float64
	if err := row.Scan(&latest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: get latest chapter: %v", ErrUnavailable, err)
	}
	return latest, true, nil
}

// GetPersistedPages returns the set of page numbers already captured
// for one (item, chapter).
func (s *Store) GetPersistedPages(ctx context.Context, itemID string, chapterIndex float64) (map[int]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_number FROM pages
		WHERE item_id = ? AND chapter_index = ?
	`, itemID, chapterIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: get persisted pages: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	pages := make(map[int]struct{})
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("%w: scan page number: %v", ErrUnavailable, err)
		}
		pages[n] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows err: %v", ErrUnavailable, err)
	}
	return pages, nil
}

// UpsertItem creates or updates an item's metadata row. Description,
// tags and cover are only filled when previously empty; latest_chapter
// never regresses.
func (s *Store) UpsertItem(ctx context.Context, item models.Item) error {
	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags for %s: %w", item.ID, err)
	}

	err = s.retry.Do(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO items (id, source, title, description, tags, cover_url, latest_chapter, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			  title          = excluded.title,
			  description    = CASE WHEN IFNULL(items.description, '') = '' THEN excluded.description ELSE items.description END,
			  tags           = CASE WHEN IFNULL(items.tags, '[]') IN ('', '[]', 'null') THEN excluded.tags ELSE items.tags END,
			  cover_url      = CASE WHEN IFNULL(items.cover_url, '') = '' THEN excluded.cover_url ELSE items.cover_url END,
			  latest_chapter = MAX(items.latest_chapter, excluded.latest_chapter),
			  updated_at     = excluded.updated_at
		`,
			item.ID, item.Source, item.Title, item.Description,
			string(tagsJSON), item.CoverURL, item.LatestChapter, time.Now().UTC(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("%w: upsert item %s: %v", ErrUnavailable, item.ID, err)
	}
	return nil
}

// InsertPageIfAbsent records one captured page. Returns false when the
// composite key already exists; a duplicate attempt is a no-op, not an
// error.
func (s *Store) InsertPageIfAbsent(ctx context.Context, page models.Page) (bool, error) {
	var inserted bool
	err := s.retry.Do(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO pages (item_id, chapter_index, page_number, source_url, fetched_at)
			VALUES (?, ?, ?, ?, ?)
		`, page.ItemID, page.ChapterIndex, page.PageNumber, page.SourceURL, time.Now().UTC())
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		if execErr != nil {
			return execErr
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: insert page %s/%v/%d: %v",
			ErrUnavailable, page.ItemID, page.ChapterIndex, page.PageNumber, err)
	}
	return inserted, nil
}

// CountItemPages returns how many pages are captured for the item
// across all chapters.
func (s *Store) CountItemPages(ctx context.Context, itemID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pages WHERE item_id = ?`, itemID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count item pages: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Snapshot is the full durable state pushed to the remote replica.
type Snapshot struct {
	Items []models.Item
	Pages []models.Page
	Taken time.Time
}

// Snapshot reads the whole store in one pass. Replication is
// coarse-grained so this runs only on the debounce schedule.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Taken: time.Now().UTC()}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, title, IFNULL(description, ''), IFNULL(tags, '[]'), IFNULL(cover_url, ''), latest_chapter
		FROM items ORDER BY id
	`)
	if err != nil {
		return snap, fmt.Errorf("%w: snapshot items: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item     models.Item
			tagsJSON string
		)
		if err := rows.Scan(&item.ID, &item.Source, &item.Title, &item.Description,
			&tagsJSON, &item.CoverURL, &item.LatestChapter); err != nil {
			return snap, fmt.Errorf("%w: scan item: %v", ErrUnavailable, err)
		}
		_ = json.Unmarshal([]byte(tagsJSON), &item.Tags)
		snap.Items = append(snap.Items, item)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("%w: snapshot items rows: %v", ErrUnavailable, err)
	}

	pageRows, err := s.db.QueryContext(ctx, `
		SELECT item_id, chapter_index, page_number, IFNULL(source_url, ''), fetched_at
		FROM pages ORDER BY item_id, chapter_index, page_number
	`)
	if err != nil {
		return snap, fmt.Errorf("%w: snapshot pages: %v", ErrUnavailable, err)
	}
	defer pageRows.Close()

	for pageRows.Next() {
		var (
			page      models.Page
			fetchedAt sql.NullTime
		)
		if err := pageRows.Scan(&page.ItemID, &page.ChapterIndex, &page.PageNumber,
			&page.SourceURL, &fetchedAt); err != nil {
			return snap, fmt.Errorf("%w: scan page: %v", ErrUnavailable, err)
		}
		page.FetchedAt = fetchedAt.Time
		snap.Pages = append(snap.Pages, page)
	}
	if err := pageRows.Err(); err != nil {
		return snap, fmt.Errorf("%w: snapshot pages rows: %v", ErrUnavailable, err)
	}

	return snap, nil
}

// Counts returns item and page totals for the status endpoint.
func (s *Store) Counts(ctx context.Context) (items, pages int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&items); err != nil {
		return 0, 0, fmt.Errorf("%w: count items: %v", ErrUnavailable, err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages`).Scan(&pages); err != nil {
		return 0, 0, fmt.Errorf("%w: count pages: %v", ErrUnavailable, err)
	}
	return items, pages, nil
}
