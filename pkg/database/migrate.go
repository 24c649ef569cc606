package database

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id             TEXT PRIMARY KEY,
	source         TEXT NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT,
	tags           TEXT, -- JSON array as text
	cover_url      TEXT,
	latest_chapter REAL NOT NULL DEFAULT 0,
	updated_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pages (
	item_id       TEXT NOT NULL,
	chapter_index REAL NOT NULL,
	page_number   INTEGER NOT NULL,
	source_url    TEXT,
	fetched_at    TIMESTAMP,
	PRIMARY KEY (item_id, chapter_index, page_number)
);

CREATE INDEX IF NOT EXISTS idx_pages_item_chapter
	ON pages (item_id, chapter_index);
`

func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
