package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
)

// mirror.json layout, produced by cmd/export-mirror:
//
//	[ {slug, name, tags, summary, image_url,
//	   chapters: [ {chapter, pages: [url, ...]}, ... ]}, ... ]

type mirrorChapter struct {
	Chapter string   `json:"chapter"`
	Pages   []string `json:"pages"`
}

type mirrorTitle struct {
	Slug     string          `json:"slug"`
	Name     string          `json:"name"`
	Tags     []string        `json:"tags"`
	Summary  string          `json:"summary"`
	ImageURL string          `json:"image_url"`
	Chapters []mirrorChapter `json:"chapters"`
}

const listPageSize = 24

func main() {
	var (
		dataPath = flag.String("data", "data/mirror.json", "mirror dataset path")
		addr     = flag.String("addr", ":9000", "listen address")
	)
	flag.Parse()

	// Re-read per request so the file can be re-exported while serving.
	load := func(w http.ResponseWriter) ([]mirrorTitle, bool) {
		b, err := os.ReadFile(*dataPath)
		if err != nil {
			http.Error(w, "cannot read mirror.json: "+err.Error(), http.StatusInternalServerError)
			return nil, false
		}
		var titles []mirrorTitle
		if err := json.Unmarshal(b, &titles); err != nil {
			http.Error(w, "mirror.json invalid JSON: "+err.Error(), http.StatusInternalServerError)
			return nil, false
		}
		return titles, true
	}

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	find := func(titles []mirrorTitle, slug string) *mirrorTitle {
		for i := range titles {
			if titles[i].Slug == slug {
				return &titles[i]
			}
		}
		return nil
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /titles", func(w http.ResponseWriter, r *http.Request) {
		titles, ok := load(w)
		if !ok {
			return
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset < 0 || offset >= len(titles) {
			writeJSON(w, []mirrorTitle{})
			return
		}
		end := offset + listPageSize
		if end > len(titles) {
			end = len(titles)
		}
		writeJSON(w, titles[offset:end])
	})

	mux.HandleFunc("GET /titles/{slug}", func(w http.ResponseWriter, r *http.Request) {
		titles, ok := load(w)
		if !ok {
			return
		}
		t := find(titles, r.PathValue("slug"))
		if t == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, t)
	})

	mux.HandleFunc("GET /titles/{slug}/chapters", func(w http.ResponseWriter, r *http.Request) {
		titles, ok := load(w)
		if !ok {
			return
		}
		t := find(titles, r.PathValue("slug"))
		if t == nil {
			http.NotFound(w, r)
			return
		}

		type chapterRef struct {
			Chapter string `json:"chapter"`
			URL     string `json:"url"`
		}
		refs := make([]chapterRef, 0, len(t.Chapters))
		for _, ch := range t.Chapters {
			refs = append(refs, chapterRef{
				Chapter: ch.Chapter,
				URL: fmt.Sprintf("http://%s/titles/%s/chapters/%s/pages",
					r.Host, url.PathEscape(t.Slug), url.PathEscape(ch.Chapter)),
			})
		}
		writeJSON(w, refs)
	})

	mux.HandleFunc("GET /titles/{slug}/chapters/{chapter}/pages", func(w http.ResponseWriter, r *http.Request) {
		titles, ok := load(w)
		if !ok {
			return
		}
		t := find(titles, r.PathValue("slug"))
		if t == nil {
			http.NotFound(w, r)
			return
		}
		want := r.PathValue("chapter")
		for _, ch := range t.Chapters {
			if ch.Chapter == want {
				writeJSON(w, ch.Pages)
				return
			}
		}
		http.NotFound(w, r)
	})

	log.Printf("mirror-server listening on %s, serving %s", *addr, *dataPath)
	log.Fatal(http.ListenAndServe(*addr, mux))
}
