package replica

import (
	"context"
	"log"

	"mangamirror/internal/store"
)

// Discard stands in when no replica is configured. Flushes succeed
// without leaving the process so the rest of the pipeline behaves the
// same either way.
type Discard struct{}

func (Discard) Flush(_ context.Context, snap store.Snapshot) error {
	log.Printf("[replica] no replica configured, discarding %d items, %d pages",
		len(snap.Items), len(snap.Pages))
	return nil
}

func (Discard) Close(context.Context) error { return nil }
