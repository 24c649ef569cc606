package replica

import (
	"context"
	"log"
	"sync"
	"time"

	"mangamirror/internal/metrics"
	"mangamirror/internal/store"
)

// SnapshotSource is the slice of the state store the scheduler reads.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (store.Snapshot, error)
}

// Scheduler debounces replication. Workers call Signal after every
// completed item sync; the loop flushes once the pending count reaches
// the threshold or the interval since the last flush elapses, whichever
// comes first. A failed flush keeps its pending count, so the next
// signal or tick retries with everything still included.
type Scheduler struct {
	source   SnapshotSource
	flusher  Flusher
	metrics  *metrics.Collector
	count    int
	interval time.Duration

	// OnFlush, when set, is called after every flush attempt with the
	// outcome and the snapshot row counts.
	OnFlush func(ok bool, items, pages int)

	mu      sync.Mutex
	pending int
	kick    chan struct{}
}

func NewScheduler(source SnapshotSource, flusher Flusher, collector *metrics.Collector,
	count int, interval time.Duration) *Scheduler {
	if count <= 0 {
		count = 10
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Scheduler{
		source:   source,
		flusher:  flusher,
		metrics:  collector,
		count:    count,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Signal notes one completed item sync. Never blocks.
func (s *Scheduler) Signal() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Pending returns the number of completed syncs not yet replicated.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Run drives the debounce loop until ctx is cancelled. Call FlushNow
// afterwards to push whatever is still pending.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			if s.Pending() >= s.count {
				s.flush(ctx)
				timer.Stop()
				timer.Reset(s.interval)
			}
		case <-timer.C:
			// Zero pending means the snapshot is unchanged since the
			// last flush; the elapsed trigger re-arms either way.
			if s.Pending() > 0 {
				s.flush(ctx)
			}
			timer.Reset(s.interval)
		}
	}
}

// FlushNow replicates immediately regardless of the debounce state.
// Used at shutdown and by the operator API.
func (s *Scheduler) FlushNow(ctx context.Context) error {
	return s.flush(ctx)
}

func (s *Scheduler) flush(ctx context.Context) error {
	s.mu.Lock()
	claimed := s.pending
	s.mu.Unlock()

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		log.Printf("[replica] snapshot failed: %v", err)
		s.metrics.RecordError(metrics.ErrStorage)
		s.metrics.RecordFlush(false)
		if s.OnFlush != nil {
			s.OnFlush(false, 0, 0)
		}
		return err
	}

	if err := s.flusher.Flush(ctx, snap); err != nil {
		// Pending stays as-is so the next trigger retries.
		log.Printf("[replica] flush failed, %d syncs still pending: %v", claimed, err)
		s.metrics.RecordError(metrics.ErrReplication)
		s.metrics.RecordFlush(false)
		if s.OnFlush != nil {
			s.OnFlush(false, len(snap.Items), len(snap.Pages))
		}
		return err
	}

	s.mu.Lock()
	s.pending -= claimed
	if s.pending < 0 {
		s.pending = 0
	}
	s.mu.Unlock()

	s.metrics.RecordFlush(true)
	if s.OnFlush != nil {
		s.OnFlush(true, len(snap.Items), len(snap.Pages))
	}
	return nil
}
