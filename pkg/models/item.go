package models

import "time"

// Item is the normalized, internal form of one cataloged work.
//
// Every source adapter maps its own data format into this structure
// first, then the engine and store work only with this representation.
// IDs are source-qualified (e.g. "nato_one-piece"), so the same work
// discovered on two sources is two distinct items.
type Item struct {
	ID            string   `json:"id"`
	Source        string   `json:"source"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	CoverURL      string   `json:"cover_url,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	LatestChapter float64  `json:"latest_chapter"` // highest chapter index ever observed
}

// Chapter is one ordered unit within an item. It is never persisted on
// its own: the locator is only valid for the sync pass that produced it,
// and completion state lives in the pages table.
type Chapter struct {
	Index   float64 // may be fractional, e.g. 12.5
	Locator string  // source-specific handle used to fetch the page manifest
}

// Page is the unit of fetch-or-skip granularity. The composite key
// (ItemID, ChapterIndex, PageNumber) is unique in the store.
type Page struct {
	ItemID       string    `json:"item_id"`
	ChapterIndex float64   `json:"chapter_index"`
	PageNumber   int       `json:"page_number"`
	SourceURL    string    `json:"source_url"`
	FetchedAt    time.Time `json:"fetched_at"`
}
