// Package engine implements the per-item diff & fetch pass: compare
// the live chapter/page manifest against the state store and fetch
// only what is missing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"mangamirror/internal/backoff"
	"mangamirror/internal/metrics"
	"mangamirror/internal/source"
	"mangamirror/pkg/models"
)

// Store is the slice of the state store the engine consumes.
type Store interface {
	GetLatestChapter(ctx context.Context, itemID string) (float64, bool, error)
	GetPersistedPages(ctx context.Context, itemID string, chapterIndex float64) (map[int]struct{}, error)
	CountItemPages(ctx context.Context, itemID string) (int, error)
	UpsertItem(ctx context.Context, item models.Item) error
	InsertPageIfAbsent(ctx context.Context, page models.Page) (bool, error)
}

// Engine runs sync passes against one source adapter. It keeps no
// state of its own between calls.
type Engine struct {
	src         source.Adapter
	store       Store
	fetcher     PageFetcher
	blobs       BlobStore
	metrics     *metrics.Collector
	retry       backoff.Policy
	pageWorkers int
}

func New(src source.Adapter, store Store, fetcher PageFetcher, blobs BlobStore,
	collector *metrics.Collector, retry backoff.Policy, pageWorkers int) *Engine {
	if pageWorkers <= 0 {
		pageWorkers = 4
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Engine{
		src:         src,
		store:       store,
		fetcher:     fetcher,
		blobs:       blobs,
		metrics:     collector,
		retry:       retry,
		pageWorkers: pageWorkers,
	}
}

// Sync runs one incremental pass for item.
//
// The stored latest chapter index acts as the item-level cutoff: when
// the manifest holds nothing newer, the pass returns immediately and
// no page fetch happens. Otherwise chapters are walked in ascending
// index order so that a crash mid-pass always leaves a state the next
// pass can resume from, and the item row (metadata plus new latest
// index) is written once at the end.
func (e *Engine) Sync(ctx context.Context, item models.Item) (models.SyncResult, error) {
	result := models.SyncResult{ItemID: item.ID}

	chapters, err := e.src.ListChapters(ctx, item)
	if err != nil {
		e.recordSourceError(err)
		return result, fmt.Errorf("list chapters for %s: %w", item.ID, err)
	}
	e.metrics.RecordAPICall(metrics.CallChapters)

	if len(chapters) == 0 {
		// Nothing upstream; do not touch the store so latest_chapter
		// cannot regress.
		return result, nil
	}
	maxIndex := chapters[len(chapters)-1].Index

	storedLatest, known, err := e.store.GetLatestChapter(ctx, item.ID)
	if err != nil {
		e.metrics.RecordError(metrics.ErrStorage)
		return result, err
	}
	e.metrics.RecordItem(!known, !known || maxIndex > storedLatest)

	if known && maxIndex <= storedLatest {
		// Nothing new; report the already-captured pages as skipped
		// without touching the source again.
		captured, err := e.store.CountItemPages(ctx, item.ID)
		if err != nil {
			e.metrics.RecordError(metrics.ErrStorage)
			return result, err
		}
		result.Total = captured
		result.Skipped = captured
		result.LatestChapter = storedLatest
		return result, nil
	}

	completedThrough := storedLatest
	for _, chapter := range chapters {
		chResult, err := e.syncChapter(ctx, item, chapter)
		if err != nil {
			// Manifest failure aborts the whole item; latest_chapter is
			// left at its old value so the next pass re-walks from there.
			e.recordSourceError(err)
			return result, fmt.Errorf("chapter %v of %s: %w", chapter.Index, item.ID, err)
		}
		result.Chapters = append(result.Chapters, chResult)
		result.Downloaded += chResult.Downloaded
		result.Skipped += chResult.Skipped
		result.Failed += chResult.Failed
		result.Total += chResult.Total
		e.metrics.RecordChapter(chResult.Class)
		e.metrics.RecordPages(chResult.Total, chResult.Downloaded, chResult.Skipped)
		if result.Failed == 0 {
			completedThrough = chapter.Index
		}
	}

	// The cutoff only advances through fully captured chapters. A page
	// failure freezes it before the failing chapter so the next pass
	// walks that chapter again and fetches just the missing pages.
	item.LatestChapter = completedThrough
	if err := e.store.UpsertItem(ctx, item); err != nil {
		e.metrics.RecordError(metrics.ErrStorage)
		return result, err
	}
	result.LatestChapter = completedThrough

	return result, nil
}

// syncChapter diffs one chapter's manifest against the persisted pages
// and fetches the missing ones with a bounded fan-out. Individual page
// failures are recorded and skipped; only a manifest failure is an
// error.
func (e *Engine) syncChapter(ctx context.Context, item models.Item, chapter models.Chapter) (models.ChapterResult, error) {
	chResult := models.ChapterResult{Index: chapter.Index}

	pageURLs, err := e.src.ListPages(ctx, chapter.Locator)
	if err != nil {
		return chResult, err
	}
	e.metrics.RecordAPICall(metrics.CallPages)

	chResult.Total = len(pageURLs)
	existing, err := e.store.GetPersistedPages(ctx, item.ID, chapter.Index)
	if err != nil {
		e.metrics.RecordError(metrics.ErrStorage)
		return chResult, err
	}

	type pageJob struct {
		number int
		url    string
	}
	var missing []pageJob
	for i, url := range pageURLs {
		number := i + 1 // order defines the 1-based page number
		if _, have := existing[number]; !have {
			missing = append(missing, pageJob{number: number, url: url})
		}
	}
	chResult.Skipped = chResult.Total - len(missing)

	switch {
	case len(missing) == 0:
		chResult.Class = models.ChapterSkippedComplete
		return chResult, nil
	case len(missing) == chResult.Total:
		chResult.Class = models.ChapterNew
	default:
		chResult.Class = models.ChapterPartial
	}

	jobs := make(chan pageJob)
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		downloaded int
		failed     int
	)

	workers := e.pageWorkers
	if workers > len(missing) {
		workers = len(missing)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := e.fetchAndPersist(ctx, item, chapter, job.number, job.url); err != nil {
					log.Printf("[engine] page %d of %s ch.%v failed: %v",
						job.number, item.ID, chapter.Index, err)
					e.metrics.RecordPageFailure()
					mu.Lock()
					failed++
					mu.Unlock()
					continue
				}
				mu.Lock()
				downloaded++
				mu.Unlock()
			}
		}()
	}
	for _, job := range missing {
		jobs <- job
	}
	close(jobs)
	wg.Wait()

	chResult.Downloaded = downloaded
	chResult.Failed = failed
	return chResult, nil
}

func (e *Engine) fetchAndPersist(ctx context.Context, item models.Item, chapter models.Chapter, number int, url string) error {
	var data []byte
	err := e.retry.Do(ctx, func() error {
		var fetchErr error
		data, fetchErr = e.fetcher.FetchPage(ctx, url)
		return fetchErr
	})
	if err != nil {
		if errors.Is(err, source.ErrRateLimited) {
			e.metrics.RecordError(metrics.ErrRateLimit)
		}
		return err
	}
	e.metrics.RecordAPICall(metrics.CallPageBody)

	if e.blobs != nil {
		if err := e.blobs.WritePage(item.ID, chapter.Index, number, data); err != nil {
			return err
		}
	}

	inserted, err := e.store.InsertPageIfAbsent(ctx, models.Page{
		ItemID:       item.ID,
		ChapterIndex: chapter.Index,
		PageNumber:   number,
		SourceURL:    url,
	})
	if err != nil {
		e.metrics.RecordError(metrics.ErrStorage)
		return err
	}
	if !inserted {
		log.Printf("[engine] page %d of %s ch.%v already recorded", number, item.ID, chapter.Index)
	}
	return nil
}

func (e *Engine) recordSourceError(err error) {
	switch {
	case errors.Is(err, source.ErrRateLimited):
		e.metrics.RecordError(metrics.ErrRateLimit)
	case errors.Is(err, source.ErrNotFound):
		e.metrics.RecordError(metrics.ErrNotFoundUp)
	default:
		e.metrics.RecordError(metrics.ErrSource)
	}
}
