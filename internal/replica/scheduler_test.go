package replica

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mangamirror/internal/store"
	"mangamirror/pkg/models"
)

type fakeSnapshotSource struct {
	snap store.Snapshot
	err  error
}

func (f *fakeSnapshotSource) Snapshot(context.Context) (store.Snapshot, error) {
	return f.snap, f.err
}

type fakeFlusher struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeFlusher) Flush(context.Context, store.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeFlusher) Close(context.Context) error { return nil }

func (f *fakeFlusher) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFlusher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testSnapshot() store.Snapshot {
	return store.Snapshot{
		Items: []models.Item{{ID: "x", Title: "X"}},
		Taken: time.Now().UTC(),
	}
}

func TestSchedulerFlushesAtCountThreshold(t *testing.T) {
	flusher := &fakeFlusher{}
	sched := NewScheduler(&fakeSnapshotSource{snap: testSnapshot()}, flusher, nil, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	sched.Signal()
	sched.Signal()
	time.Sleep(20 * time.Millisecond)
	if flusher.flushCount() != 0 {
		t.Fatal("flush must not run below the count threshold")
	}

	sched.Signal()
	waitFor(t, "count-triggered flush", func() bool { return flusher.flushCount() == 1 })
	waitFor(t, "pending reset", func() bool { return sched.Pending() == 0 })
}

func TestSchedulerFlushesOnInterval(t *testing.T) {
	flusher := &fakeFlusher{}
	sched := NewScheduler(&fakeSnapshotSource{snap: testSnapshot()}, flusher, nil, 100, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	sched.Signal()
	waitFor(t, "interval-triggered flush", func() bool { return flusher.flushCount() >= 1 })
}

func TestSchedulerIdleIntervalDoesNotFlush(t *testing.T) {
	flusher := &fakeFlusher{}
	sched := NewScheduler(&fakeSnapshotSource{snap: testSnapshot()}, flusher, nil, 100, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	time.Sleep(80 * time.Millisecond)
	if flusher.flushCount() != 0 {
		t.Fatal("interval with no pending syncs must not flush")
	}
}

func TestFailedFlushKeepsPendingCount(t *testing.T) {
	flusher := &fakeFlusher{}
	flusher.setErr(errors.New("replica down"))
	sched := NewScheduler(&fakeSnapshotSource{snap: testSnapshot()}, flusher, nil, 10, time.Hour)

	sched.Signal()
	sched.Signal()

	if err := sched.FlushNow(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if sched.Pending() != 2 {
		t.Fatalf("failed flush must keep pending, got %d", sched.Pending())
	}

	flusher.setErr(nil)
	if err := sched.FlushNow(context.Background()); err != nil {
		t.Fatalf("retry flush failed: %v", err)
	}
	if sched.Pending() != 0 {
		t.Fatalf("successful flush must clear pending, got %d", sched.Pending())
	}
}

func TestFlushNowWorksWithoutSignals(t *testing.T) {
	flusher := &fakeFlusher{}
	sched := NewScheduler(&fakeSnapshotSource{snap: testSnapshot()}, flusher, nil, 10, time.Hour)

	if err := sched.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow failed: %v", err)
	}
	if flusher.flushCount() != 1 {
		t.Fatalf("expected one flush, got %d", flusher.flushCount())
	}
}

func TestOnFlushReportsOutcome(t *testing.T) {
	flusher := &fakeFlusher{}
	sched := NewScheduler(&fakeSnapshotSource{snap: testSnapshot()}, flusher, nil, 10, time.Hour)

	var (
		mu      sync.Mutex
		gotOK   bool
		gotItem int
	)
	sched.OnFlush = func(ok bool, items, pages int) {
		mu.Lock()
		gotOK = ok
		gotItem = items
		mu.Unlock()
	}

	if err := sched.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !gotOK || gotItem != 1 {
		t.Fatalf("expected ok callback with 1 item, got ok=%v items=%d", gotOK, gotItem)
	}
}
