package metrics

import "testing"

func TestSnapshotReflectsRecordedCounters(t *testing.T) {
	c := NewCollector()

	c.RecordAPICall(CallChapters)
	c.RecordAPICall(CallChapters)
	c.RecordAPICall(CallPages)
	c.RecordItem(true, true)
	c.RecordItem(false, false)
	c.RecordChapter("new")
	c.RecordChapter("skipped_complete")
	c.RecordPages(6, 4, 2)
	c.RecordPageFailure()
	c.RecordFlush(true)
	c.RecordFlush(false)
	c.RecordError(ErrRateLimit)

	snap := c.Snapshot()

	if snap.APICalls[CallChapters] != 2 || snap.APICalls[CallPages] != 1 {
		t.Fatalf("unexpected api calls %v", snap.APICalls)
	}
	if snap.Items.Processed != 2 || snap.Items.New != 1 || snap.Items.Unchanged != 1 {
		t.Fatalf("unexpected item stats %+v", snap.Items)
	}
	if snap.Chapters.Total != 2 || snap.Chapters.New != 1 || snap.Chapters.SkippedComplete != 1 {
		t.Fatalf("unexpected chapter stats %+v", snap.Chapters)
	}
	if snap.Pages.Downloaded != 4 || snap.Pages.Skipped != 2 || snap.Pages.Failed != 1 {
		t.Fatalf("unexpected page stats %+v", snap.Pages)
	}
	if snap.Replica.Flushes != 1 || snap.Replica.Failures != 1 || snap.Replica.LastFlush == nil {
		t.Fatalf("unexpected replica stats %+v", snap.Replica)
	}
	if snap.Errors[ErrRateLimit] != 1 {
		t.Fatalf("unexpected errors %v", snap.Errors)
	}
}

func TestRecordWorkerTracksCurrentItem(t *testing.T) {
	c := NewCollector()

	c.RecordWorker("stub-0", "item-1", 0)
	snap := c.Snapshot()
	if snap.Workers["stub-0"].CurrentItem != "item-1" {
		t.Fatalf("expected current item recorded, got %+v", snap.Workers["stub-0"])
	}

	c.RecordWorker("stub-0", "", 1)
	snap = c.Snapshot()
	stats := snap.Workers["stub-0"]
	if stats.CurrentItem != "" || stats.ItemsProcessed != 1 {
		t.Fatalf("expected idle worker with one processed item, got %+v", stats)
	}
}
