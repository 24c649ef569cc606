// Package guard provides the process-wide registry that keeps two
// workers from syncing the same item at the same time.
package guard

import (
	"sort"
	"sync"
)

// Guard is a synchronized set with test-and-set acquire semantics.
// It holds no persistent state; a process restart empties it, which is
// fine because a restart also means no worker is mid-flight.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func New() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// TryAcquire claims processing rights for id. False means another
// worker already owns it; the caller must skip, not wait.
func (g *Guard) TryAcquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.active[id]; held {
		return false
	}
	g.active[id] = struct{}{}
	return true
}

// Release gives up processing rights. Releasing an unheld id is a no-op.
func (g *Guard) Release(id string) {
	g.mu.Lock()
	delete(g.active, id)
	g.mu.Unlock()
}

// Active returns the ids currently being processed, sorted, for the
// operator status endpoint.
func (g *Guard) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.active))
	for id := range g.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
