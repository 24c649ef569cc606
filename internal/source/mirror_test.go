package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mangamirror/pkg/models"
)

func newMirrorServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/titles", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"slug":"one-piece","name":"One Piece","tags":["Adventure"],"summary":"pirates","image_url":"http://img/op.png"},
			{"slug":"","name":"broken"}
		]`))
	})
	mux.HandleFunc("/titles/one-piece", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"slug":"one-piece","name":"One Piece","summary":"pirates"}`))
	})
	mux.HandleFunc("/titles/one-piece/chapters", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"chapter":"2","url":"http://pages/2"},
			{"chapter":"1","url":"http://pages/1"}
		]`))
	})
	return httptest.NewServer(mux)
}

func TestMirrorListItemsPrefixesIds(t *testing.T) {
	srv := newMirrorServer(t)
	defer srv.Close()

	items, err := NewMirror(srv.URL).ListItems(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item (slugless entry dropped), got %d", len(items))
	}
	if items[0].ID != "mir_one-piece" {
		t.Fatalf("expected prefixed id mir_one-piece, got %q", items[0].ID)
	}
	if items[0].Source != "mirror" {
		t.Fatalf("expected source mirror, got %q", items[0].Source)
	}
}

func TestMirrorFetchDetailStripsPrefix(t *testing.T) {
	srv := newMirrorServer(t)
	defer srv.Close()

	item, err := NewMirror(srv.URL).FetchDetail(context.Background(), "mir_one-piece")
	if err != nil {
		t.Fatalf("FetchDetail failed: %v", err)
	}
	if item.Title != "One Piece" {
		t.Fatalf("expected title One Piece, got %q", item.Title)
	}
}

func TestMirrorFetchDetailMissingIsNotFound(t *testing.T) {
	srv := newMirrorServer(t)
	defer srv.Close()

	_, err := NewMirror(srv.URL).FetchDetail(context.Background(), "mir_nothing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMirrorListChaptersNormalizes(t *testing.T) {
	srv := newMirrorServer(t)
	defer srv.Close()

	chapters, err := NewMirror(srv.URL).ListChapters(context.Background(), models.Item{ID: "mir_one-piece"})
	if err != nil {
		t.Fatalf("ListChapters failed: %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(chapters))
	}
	if chapters[0].Index != 1 || chapters[1].Index != 2 {
		t.Fatalf("expected ascending order, got %+v", chapters)
	}
	if chapters[0].Locator != "http://pages/1" {
		t.Fatalf("unexpected locator %q", chapters[0].Locator)
	}
}
