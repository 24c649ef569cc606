// Package orchestrator runs the per-source worker pools: discovery
// cycles feed catalog offsets into each pool's queue, workers claim
// items through the guard and hand them to the engine, and shutdown
// drains in-flight items with one sentinel per worker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"mangamirror/internal/guard"
	"mangamirror/internal/metrics"
	"mangamirror/internal/source"
	"mangamirror/pkg/config"
	"mangamirror/pkg/models"
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrQueueFull     = errors.New("sync queue full")
	ErrStopped       = errors.New("orchestrator is shutting down")
)

// Syncer runs one incremental pass for an item.
type Syncer interface {
	Sync(ctx context.Context, item models.Item) (models.SyncResult, error)
}

// Signaler is notified after an item sync changed the store.
type Signaler interface {
	Signal()
}

// Notifier receives sync outcomes for broadcast.
type Notifier interface {
	SyncCompleted(sourceName string, result models.SyncResult)
	SyncFailed(sourceName, itemID string, err error)
}

type job struct {
	offset    int
	itemID    string // non-empty = out-of-band request
	requestID string
	sentinel  bool
}

type pool struct {
	cfg     config.SourceConfig
	adapter source.Adapter
	engine  Syncer
	jobs    chan job
	cursor  int // rotating discovery window, advanced only by the discovery loop
}

func (p *pool) enqueue(j job) bool {
	select {
	case p.jobs <- j:
		return true
	default:
		return false
	}
}

type Orchestrator struct {
	guard    *guard.Guard
	metrics  *metrics.Collector
	replica  Signaler
	notifier Notifier
	cycle    time.Duration

	pools map[string]*pool
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func New(g *guard.Guard, collector *metrics.Collector, replica Signaler,
	notifier Notifier, cycle time.Duration) *Orchestrator {
	if g == nil {
		g = guard.New()
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if cycle <= 0 {
		cycle = 5 * time.Minute
	}
	return &Orchestrator{
		guard:    g,
		metrics:  collector,
		replica:  replica,
		notifier: notifier,
		cycle:    cycle,
		pools:    make(map[string]*pool),
	}
}

// AddSource registers one source pool. Must be called before Run.
func (o *Orchestrator) AddSource(cfg config.SourceConfig, adapter source.Adapter, eng Syncer) {
	o.pools[cfg.Name] = &pool{
		cfg:     cfg,
		adapter: adapter,
		engine:  eng,
		jobs:    make(chan job, cfg.Workers*4+32),
	}
}

// Sources returns the registered source names.
func (o *Orchestrator) Sources() []string {
	names := make([]string, 0, len(o.pools))
	for name := range o.pools {
		names = append(names, name)
	}
	return names
}

// QueueDepths reports pending jobs per source for the status endpoint.
func (o *Orchestrator) QueueDepths() map[string]int {
	depths := make(map[string]int, len(o.pools))
	for name, p := range o.pools {
		depths[name] = len(p.jobs)
	}
	return depths
}

// Enqueue schedules an out-of-band sync for one item. The request goes
// through the same queue, guard and engine path as discovery work.
func (o *Orchestrator) Enqueue(sourceName, itemID string) (string, error) {
	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()
	if stopped {
		return "", ErrStopped
	}

	p, ok := o.pools[sourceName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSource, sourceName)
	}

	requestID := uuid.NewString()
	if !p.enqueue(job{itemID: itemID, requestID: requestID}) {
		return "", ErrQueueFull
	}
	log.Printf("[orchestrator] request %s queued: %s/%s", requestID, sourceName, itemID)
	return requestID, nil
}

// Run starts every pool and blocks until ctx is cancelled, then drains:
// discovery stops, one sentinel per worker is queued, and workers
// finish whatever item they hold before exiting. Page fetches keep
// their own context so an in-flight item can complete during drain.
func (o *Orchestrator) Run(ctx context.Context) {
	workCtx, workCancel := context.WithCancel(context.Background())
	defer workCancel()

	var discovery sync.WaitGroup
	for name, p := range o.pools {
		for i := 0; i < p.cfg.Workers; i++ {
			o.wg.Add(1)
			go o.worker(workCtx, fmt.Sprintf("%s-%d", name, i), p)
		}
		if p.cfg.DisableDiscovery {
			log.Printf("[orchestrator] %s: discovery disabled, requests only", name)
			continue
		}
		discovery.Add(1)
		go func(p *pool) {
			defer discovery.Done()
			o.discoveryLoop(ctx, p)
		}(p)
	}
	log.Printf("[orchestrator] running %d source pools", len(o.pools))

	<-ctx.Done()

	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	discovery.Wait()

	log.Printf("[orchestrator] draining workers")
	for _, p := range o.pools {
		for i := 0; i < p.cfg.Workers; i++ {
			p.jobs <- job{sentinel: true}
		}
	}
	o.wg.Wait()
	log.Printf("[orchestrator] all workers stopped")
}

// discoveryLoop enqueues one offset window per cycle. Offset 0 is part
// of every window so newly listed items are picked up within one
// cycle; the rest of the window rotates through the catalog.
func (o *Orchestrator) discoveryLoop(ctx context.Context, p *pool) {
	ticker := time.NewTicker(o.cycle)
	defer ticker.Stop()

	o.scheduleCycle(p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.scheduleCycle(p)
		}
	}
}

func (o *Orchestrator) scheduleCycle(p *pool) {
	offsets := []int{0}
	for i := 0; i < p.cfg.Workers-1; i++ {
		p.cursor += p.cfg.ItemsPerPage
		if p.cursor >= p.cfg.MaxOffset {
			p.cursor = p.cfg.ItemsPerPage
		}
		offsets = append(offsets, p.cursor)
	}
	for _, offset := range offsets {
		if !p.enqueue(job{offset: offset}) {
			// The queue still holds last cycle's work; dropping keeps
			// discovery from piling up behind a slow source.
			log.Printf("[orchestrator] %s: queue full, dropping offset %d", p.cfg.Name, offset)
		}
	}
}

func (o *Orchestrator) worker(ctx context.Context, name string, p *pool) {
	defer o.wg.Done()
	for j := range p.jobs {
		if j.sentinel {
			log.Printf("[orchestrator] worker %s stopping", name)
			return
		}
		if j.itemID != "" {
			o.handleRequest(ctx, name, p, j)
		} else {
			o.handleOffset(ctx, name, p, j.offset)
		}
	}
}

func (o *Orchestrator) handleOffset(ctx context.Context, worker string, p *pool, offset int) {
	items, err := p.adapter.ListItems(ctx, offset)
	if err != nil {
		if errors.Is(err, source.ErrRateLimited) {
			o.metrics.RecordError(metrics.ErrRateLimit)
			log.Printf("[orchestrator] %s rate limited at offset %d, backing off %s",
				p.cfg.Name, offset, p.adapter.RateBackoff())
			if !sleep(ctx, p.adapter.RateBackoff()) {
				return
			}
			p.enqueue(job{offset: offset})
			return
		}
		o.metrics.RecordError(metrics.ErrSource)
		log.Printf("[orchestrator] %s list at offset %d failed: %v", p.cfg.Name, offset, err)
		return
	}
	o.metrics.RecordAPICall(metrics.CallList)

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		o.syncItem(ctx, worker, p, item)
		if !sleep(ctx, requestDelay(p.cfg)) {
			return
		}
	}
}

func (o *Orchestrator) handleRequest(ctx context.Context, worker string, p *pool, j job) {
	item, err := p.adapter.FetchDetail(ctx, j.itemID)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			o.metrics.RecordError(metrics.ErrNotFoundUp)
		} else {
			o.metrics.RecordError(metrics.ErrSource)
		}
		log.Printf("[orchestrator] request %s: detail for %s/%s failed: %v",
			j.requestID, p.cfg.Name, j.itemID, err)
		if o.notifier != nil {
			o.notifier.SyncFailed(p.cfg.Name, j.itemID, err)
		}
		return
	}
	o.metrics.RecordAPICall(metrics.CallDetail)
	o.syncItem(ctx, worker, p, *item)
}

// syncItem claims the item through the guard, runs one engine pass and
// publishes the outcome. A guard miss means another worker holds the
// item right now; the item is skipped, never waited on.
func (o *Orchestrator) syncItem(ctx context.Context, worker string, p *pool, item models.Item) {
	if !o.guard.TryAcquire(item.ID) {
		log.Printf("[orchestrator] %s already in flight, skipping", item.ID)
		return
	}
	defer o.guard.Release(item.ID)

	o.metrics.RecordWorker(worker, item.ID, 0)
	result, err := p.engine.Sync(ctx, item)
	o.metrics.RecordWorker(worker, "", 1)

	if err != nil {
		log.Printf("[orchestrator] sync %s/%s failed: %v", p.cfg.Name, item.ID, err)
		if o.notifier != nil {
			o.notifier.SyncFailed(p.cfg.Name, item.ID, err)
		}
		if errors.Is(err, source.ErrRateLimited) {
			sleep(ctx, p.adapter.RateBackoff())
		}
		return
	}

	if result.Downloaded > 0 {
		log.Printf("[orchestrator] synced %s/%s: %d new pages, latest %v",
			p.cfg.Name, item.ID, result.Downloaded, result.LatestChapter)
		if o.replica != nil {
			o.replica.Signal()
		}
	}
	if o.notifier != nil {
		o.notifier.SyncCompleted(p.cfg.Name, result)
	}
}

func requestDelay(cfg config.SourceConfig) time.Duration {
	if cfg.RequestDelayMS <= 0 {
		return 0
	}
	delay := time.Duration(cfg.RequestDelayMS) * time.Millisecond
	if cfg.RequestJitterMS > 0 {
		delay += time.Duration(rand.Intn(cfg.RequestJitterMS)) * time.Millisecond
	}
	return delay
}

// sleep waits for d unless ctx ends first. Returns false when it was
// cut short.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
