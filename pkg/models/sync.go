package models

// Chapter classifications reported by one sync pass. These exist for
// observability only; the engine never branches on them.
const (
	ChapterNew             = "new"
	ChapterPartial         = "partial"
	ChapterSkippedComplete = "skipped_complete"
)

// ChapterResult describes what one chapter contributed to a sync pass.
type ChapterResult struct {
	Index      float64 `json:"index"`
	Class      string  `json:"class"`
	Total      int     `json:"total"`
	Downloaded int     `json:"downloaded"`
	Skipped    int     `json:"skipped"`
	Failed     int     `json:"failed"`
}

// SyncResult summarizes one execution of the diff & fetch engine for
// one item.
type SyncResult struct {
	ItemID        string          `json:"item_id"`
	Downloaded    int             `json:"downloaded"`
	Skipped       int             `json:"skipped"`
	Failed        int             `json:"failed"`
	Total         int             `json:"total"`
	LatestChapter float64         `json:"latest_chapter"`
	Chapters      []ChapterResult `json:"chapters,omitempty"`
}
