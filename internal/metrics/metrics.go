// Package metrics is the process-wide counter registry backing the
// operator API. One collector is shared by every worker, the engine
// and the replication loop.
package metrics

import (
	"sync"
	"time"
)

// API call kinds.
const (
	CallList     = "item_list"
	CallDetail   = "item_detail"
	CallChapters = "chapter_feed"
	CallPages    = "page_urls"
	CallPageBody = "page_body"
)

// Error kinds.
const (
	ErrRateLimit   = "rate_limits"
	ErrSource      = "source_errors"
	ErrStorage     = "db_errors"
	ErrNotFoundUp  = "not_found"
	ErrReplication = "replica_errors"
)

type ItemStats struct {
	Processed       int `json:"processed"`
	New             int `json:"new"`
	Updated         int `json:"updated"`
	WithNewChapters int `json:"with_new_chapters"`
	Unchanged       int `json:"unchanged"`
}

type ChapterStats struct {
	Total           int `json:"total"`
	New             int `json:"new"`
	Partial         int `json:"partial"`
	SkippedComplete int `json:"skipped_complete"`
}

type PageStats struct {
	Total      int `json:"total"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type ReplicaStats struct {
	Flushes   int        `json:"flushes"`
	Failures  int        `json:"failures"`
	LastFlush *time.Time `json:"last_flush,omitempty"`
}

type WorkerStats struct {
	ItemsProcessed int        `json:"items_processed"`
	CurrentItem    string     `json:"current_item,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

type Snapshot struct {
	UptimeSec float64                `json:"uptime_sec"`
	APICalls  map[string]int         `json:"api_calls"`
	Items     ItemStats              `json:"items"`
	Chapters  ChapterStats           `json:"chapters"`
	Pages     PageStats              `json:"pages"`
	Replica   ReplicaStats           `json:"replica"`
	Errors    map[string]int         `json:"errors"`
	Workers   map[string]WorkerStats `json:"workers"`
	Timestamp time.Time              `json:"timestamp"`
}

type Collector struct {
	mu       sync.Mutex
	started  time.Time
	apiCalls map[string]int
	items    ItemStats
	chapters ChapterStats
	pages    PageStats
	replica  ReplicaStats
	errors   map[string]int
	workers  map[string]WorkerStats
}

func NewCollector() *Collector {
	return &Collector{
		started:  time.Now(),
		apiCalls: make(map[string]int),
		errors:   make(map[string]int),
		workers:  make(map[string]WorkerStats),
	}
}

func (c *Collector) RecordAPICall(kind string) {
	c.mu.Lock()
	c.apiCalls[kind]++
	c.mu.Unlock()
}

func (c *Collector) RecordItem(isNew, hasNewChapters bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Processed++
	if isNew {
		c.items.New++
	} else {
		c.items.Updated++
	}
	if hasNewChapters {
		c.items.WithNewChapters++
	} else {
		c.items.Unchanged++
	}
}

func (c *Collector) RecordChapter(class string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chapters.Total++
	switch class {
	case "new":
		c.chapters.New++
	case "partial":
		c.chapters.Partial++
	case "skipped_complete":
		c.chapters.SkippedComplete++
	}
}

func (c *Collector) RecordPages(total, downloaded, skipped int) {
	c.mu.Lock()
	c.pages.Total += total
	c.pages.Downloaded += downloaded
	c.pages.Skipped += skipped
	c.mu.Unlock()
}

func (c *Collector) RecordPageFailure() {
	c.mu.Lock()
	c.pages.Failed++
	c.mu.Unlock()
}

func (c *Collector) RecordFlush(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.replica.Flushes++
		now := time.Now()
		c.replica.LastFlush = &now
	} else {
		c.replica.Failures++
	}
}

func (c *Collector) RecordError(kind string) {
	c.mu.Lock()
	c.errors[kind]++
	c.mu.Unlock()
}

// RecordWorker notes what a worker is doing right now. Pass an empty
// item id when the worker goes idle.
func (c *Collector) RecordWorker(worker, currentItem string, processedDelta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.workers[worker]
	stats.ItemsProcessed += processedDelta
	stats.CurrentItem = currentItem
	now := time.Now()
	stats.LastActivity = &now
	c.workers[worker] = stats
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		UptimeSec: time.Since(c.started).Seconds(),
		APICalls:  make(map[string]int, len(c.apiCalls)),
		Items:     c.items,
		Chapters:  c.chapters,
		Pages:     c.pages,
		Replica:   c.replica,
		Errors:    make(map[string]int, len(c.errors)),
		Workers:   make(map[string]WorkerStats, len(c.workers)),
		Timestamp: time.Now(),
	}
	for k, v := range c.apiCalls {
		snap.APICalls[k] = v
	}
	for k, v := range c.errors {
		snap.Errors[k] = v
	}
	for k, v := range c.workers {
		snap.Workers[k] = v
	}
	return snap
}
