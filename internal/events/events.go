package events

import (
	"time"

	"mangamirror/pkg/models"
)

type SyncEvent struct {
	Type       string    `json:"type"` // "sync.completed" or "sync.failed"
	Source     string    `json:"source"`
	ItemID     string    `json:"item_id"`
	Downloaded int       `json:"downloaded,omitempty"`
	Skipped    int       `json:"skipped,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Latest     float64   `json:"latest_chapter,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type ReplicaEvent struct {
	Type  string    `json:"type"` // "replica.flushed" or "replica.failed"
	Items int       `json:"items"`
	Pages int       `json:"pages"`
	At    time.Time `json:"at"`
}

// Publisher turns sync and replication outcomes into hub broadcasts.
type Publisher struct {
	hub *Hub
}

func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub}
}

func (p *Publisher) SyncCompleted(sourceName string, result models.SyncResult) {
	p.hub.BroadcastJSON(SyncEvent{
		Type:       "sync.completed",
		Source:     sourceName,
		ItemID:     result.ItemID,
		Downloaded: result.Downloaded,
		Skipped:    result.Skipped,
		Failed:     result.Failed,
		Latest:     result.LatestChapter,
		At:         time.Now().UTC(),
	})
}

func (p *Publisher) SyncFailed(sourceName, itemID string, err error) {
	p.hub.BroadcastJSON(SyncEvent{
		Type:   "sync.failed",
		Source: sourceName,
		ItemID: itemID,
		Error:  err.Error(),
		At:     time.Now().UTC(),
	})
}

// ReplicaFlushed matches the replica scheduler's OnFlush signature.
func (p *Publisher) ReplicaFlushed(ok bool, items, pages int) {
	evt := ReplicaEvent{
		Type:  "replica.flushed",
		Items: items,
		Pages: pages,
		At:    time.Now().UTC(),
	}
	if !ok {
		evt.Type = "replica.failed"
	}
	p.hub.BroadcastJSON(evt)
}
