package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"mangamirror/internal/source"
)

func TestHTTPFetcherReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	data, err := NewHTTPFetcher().FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestHTTPFetcherClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher().FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, source.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestDirBlobStoreLaysOutPages(t *testing.T) {
	root := t.TempDir()
	blobs := NewDirBlobStore(root)

	if err := blobs.WritePage("nato_one-piece", 12.5, 3, []byte("img")); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}

	path := filepath.Join(root, "nato_one-piece", "chapter_12_5", "0003.img")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected page at %s: %v", path, err)
	}
	if string(data) != "img" {
		t.Fatalf("unexpected blob content %q", data)
	}
}

func TestSanitizeSegment(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"nato_one-piece", "nato_one-piece"},
		{"AAA 111/..", "aaa-111"},
		{"", "item"},
		{"///", "item"},
	}
	for _, tc := range cases {
		if got := sanitizeSegment(tc.in); got != tc.want {
			t.Fatalf("sanitizeSegment(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
