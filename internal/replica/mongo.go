// Package replica pushes the state store to a remote MongoDB replica
// on a debounced schedule. The replica is a read-only mirror; nothing
// in the sync path ever reads it back.
package replica

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mangamirror/internal/store"
)

// Flusher writes one full store snapshot to the remote replica.
type Flusher interface {
	Flush(ctx context.Context, snap store.Snapshot) error
	Close(ctx context.Context) error
}

type Mongo struct {
	client *mongo.Client
	items  *mongo.Collection
	pages  *mongo.Collection
}

func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to replica: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping replica: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client: client,
		items:  db.Collection("items"),
		pages:  db.Collection("pages"),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create replica indexes: %w", err)
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	idxCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.items.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = m.pages.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "item_id", Value: 1},
			{Key: "chapter_index", Value: 1},
			{Key: "page_number", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

type itemDoc struct {
	ID            string    `bson:"id"`
	Source        string    `bson:"source"`
	Title         string    `bson:"title"`
	Description   string    `bson:"description"`
	Tags          []string  `bson:"tags"`
	CoverURL      string    `bson:"cover_url"`
	LatestChapter float64   `bson:"latest_chapter"`
	SyncedAt      time.Time `bson:"synced_at"`
}

type pageDoc struct {
	ItemID       string    `bson:"item_id"`
	ChapterIndex float64   `bson:"chapter_index"`
	PageNumber   int       `bson:"page_number"`
	SourceURL    string    `bson:"source_url"`
	FetchedAt    time.Time `bson:"fetched_at"`
	SyncedAt     time.Time `bson:"synced_at"`
}

// Flush upserts every snapshot row. Upserts keyed on the same ids the
// store uses keep the flush idempotent, so a retried flush after a
// partial failure cannot duplicate documents.
func (m *Mongo) Flush(ctx context.Context, snap store.Snapshot) error {
	if len(snap.Items) == 0 && len(snap.Pages) == 0 {
		return nil
	}

	itemModels := make([]mongo.WriteModel, 0, len(snap.Items))
	for _, item := range snap.Items {
		doc := itemDoc{
			ID:            item.ID,
			Source:        item.Source,
			Title:         item.Title,
			Description:   item.Description,
			Tags:          item.Tags,
			CoverURL:      item.CoverURL,
			LatestChapter: item.LatestChapter,
			SyncedAt:      snap.Taken,
		}
		itemModels = append(itemModels, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"id": item.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	pageModels := make([]mongo.WriteModel, 0, len(snap.Pages))
	for _, page := range snap.Pages {
		doc := pageDoc{
			ItemID:       page.ItemID,
			ChapterIndex: page.ChapterIndex,
			PageNumber:   page.PageNumber,
			SourceURL:    page.SourceURL,
			FetchedAt:    page.FetchedAt,
			SyncedAt:     snap.Taken,
		}
		pageModels = append(pageModels, mongo.NewReplaceOneModel().
			SetFilter(bson.M{
				"item_id":       page.ItemID,
				"chapter_index": page.ChapterIndex,
				"page_number":   page.PageNumber,
			}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	opts := options.BulkWrite().SetOrdered(false)
	if len(itemModels) > 0 {
		if _, err := m.items.BulkWrite(ctx, itemModels, opts); err != nil {
			return fmt.Errorf("flush items: %w", err)
		}
	}
	if len(pageModels) > 0 {
		if _, err := m.pages.BulkWrite(ctx, pageModels, opts); err != nil {
			return fmt.Errorf("flush pages: %w", err)
		}
	}

	log.Printf("[replica] flushed %d items, %d pages", len(snap.Items), len(snap.Pages))
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Disconnect(closeCtx)
}
