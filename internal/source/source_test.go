package source

import (
	"testing"

	"mangamirror/pkg/models"
)

func TestParseChapterIndex(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12", 12, true},
		{"12.5", 12.5, true},
		{"12_5", 12.5, true},
		{"12-5", 12.5, true},
		{" 7 ", 7, true},
		{"0", 0, true},
		{"", 0, false},
		{"extra", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseChapterIndex(tc.in)
		if ok != tc.ok {
			t.Fatalf("ParseChapterIndex(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("ParseChapterIndex(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeChaptersSortsAscending(t *testing.T) {
	got := NormalizeChapters([]models.Chapter{
		{Index: 3, Locator: "c"},
		{Index: 1, Locator: "a"},
		{Index: 2.5, Locator: "b"},
	})
	want := []float64{1, 2.5, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d chapters, got %d", len(want), len(got))
	}
	for i, idx := range want {
		if got[i].Index != idx {
			t.Fatalf("position %d: expected index %v, got %v", i, idx, got[i].Index)
		}
	}
}

func TestNormalizeChaptersCollapsesDuplicates(t *testing.T) {
	got := NormalizeChapters([]models.Chapter{
		{Index: 1, Locator: "first"},
		{Index: 1, Locator: "second"},
	})
	if len(got) != 1 {
		t.Fatalf("expected 1 chapter after dedup, got %d", len(got))
	}
	if got[0].Locator != "second" {
		t.Fatalf("expected last-seen locator to win, got %q", got[0].Locator)
	}
}
