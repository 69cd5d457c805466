package segment

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/medtext/medrag/engine/domain"
)

func words(n int, prefix string) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(w, " ")
}

func mustNew(t *testing.T, opts Options) *Segmenter {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New(%+v): %v", opts, err)
	}
	return s
}

func TestDefaultWindowMath(t *testing.T) {
	o := DefaultOptions()
	if o.WindowWords() != 900 {
		t.Fatalf("window = %d, want 900", o.WindowWords())
	}
	if o.OverlapWords() != 150 {
		t.Fatalf("overlap = %d, want 150", o.OverlapWords())
	}
	if o.StepWords() != 750 {
		t.Fatalf("step = %d, want 750", o.StepWords())
	}
}

func TestOptionsValidate(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"defaults", DefaultOptions(), true},
		{"overlap equals size", Options{ChunkSizeTokens: 200, ChunkOverlapTokens: 200, MinParagraphWords: 20}, false},
		{"overlap above size", Options{ChunkSizeTokens: 200, ChunkOverlapTokens: 300, MinParagraphWords: 20}, false},
		{"zero size", Options{ChunkSizeTokens: 0, ChunkOverlapTokens: 0, MinParagraphWords: 20}, false},
		{"negative overlap", Options{ChunkSizeTokens: 100, ChunkOverlapTokens: -1, MinParagraphWords: 20}, false},
		{"rounds to zero step", Options{ChunkSizeTokens: 5, ChunkOverlapTokens: 4, MinParagraphWords: 20}, false},
		{"sub-word window", Options{ChunkSizeTokens: 1, ChunkOverlapTokens: 0, MinParagraphWords: 20}, false},
		{"zero min words", Options{ChunkSizeTokens: 100, ChunkOverlapTokens: 10, MinParagraphWords: 0}, false},
		{"no overlap", Options{ChunkSizeTokens: 100, ChunkOverlapTokens: 0, MinParagraphWords: 20}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok {
				var ce *domain.ConfigError
				if !errors.As(err, &ce) || !errors.Is(err, domain.ErrInvalidConfig) {
					t.Fatalf("expected ConfigError, got %v", err)
				}
			}
		})
	}
}

func TestNewRejectsDegenerateConfigBeforeChunking(t *testing.T) {
	s, err := New(Options{ChunkSizeTokens: 200, ChunkOverlapTokens: 200, MinParagraphWords: 20})
	if err == nil || s != nil {
		t.Fatalf("expected rejection, got segmenter=%v err=%v", s, err)
	}
}

func TestSplitParagraphs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"double newline", "alpha\n\nbeta", []string{"alpha", "beta"}},
		{"many newlines", "alpha\n\n\n\nbeta", []string{"alpha", "beta"}},
		{"whitespace line", "alpha\n   \t\nbeta", []string{"alpha", "beta"}},
		{"single newline kept", "alpha\nbeta", []string{"alpha\nbeta"}},
		{"trimmed and empty dropped", "\n\n  alpha  \n\n\n\n beta \n\n", []string{"alpha", "beta"}},
		{"empty", "", nil},
		{"blank", "  \n\n  ", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitParagraphs(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d paragraphs %+v, want %d", len(got), got, len(tc.want))
			}
			for i, p := range got {
				if p.Text != tc.want[i] {
					t.Errorf("paragraph %d = %q, want %q", i, p.Text, tc.want[i])
				}
				if p.Ordinal != i+1 {
					t.Errorf("paragraph %d ordinal = %d, want %d", i, p.Ordinal, i+1)
				}
			}
		})
	}
}

func expectedCount(l, w, s int) int {
	if l <= w {
		return 1
	}
	return (l-w+s-1)/s + 1
}

func TestWindowsCountFormula(t *testing.T) {
	for _, w := range []int{1, 2, 3, 7, 10, 900} {
		for s := 1; s <= w; s++ {
			for _, l := range []int{1, 2, w - 1, w, w + 1, 2 * w, 3*w + 1, 1000, 2651} {
				if l <= 0 {
					continue
				}
				got := len(Windows(l, w, s))
				if want := expectedCount(l, w, s); got != want {
					t.Fatalf("Windows(%d, %d, %d): %d spans, want %d", l, w, s, got, want)
				}
			}
		}
	}
}

func TestWindowsRoundTrip(t *testing.T) {
	for _, w := range []int{2, 3, 5, 8, 900} {
		for s := 1; s < w; s++ {
			for _, l := range []int{1, w - 1, w, w + 1, 3*w + 2, 1777} {
				if l <= 0 {
					continue
				}
				spans := Windows(l, w, s)
				overlap := w - s
				var rebuilt []int
				for i, sp := range spans {
					from := sp.Start
					if i > 0 {
						from += overlap
					}
					for j := from; j < sp.End; j++ {
						rebuilt = append(rebuilt, j)
					}
				}
				if len(rebuilt) != l {
					t.Fatalf("W=%d S=%d L=%d: rebuilt %d words", w, s, l, len(rebuilt))
				}
				for i, v := range rebuilt {
					if v != i {
						t.Fatalf("W=%d S=%d L=%d: position %d holds word %d", w, s, l, i, v)
					}
				}
			}
		}
	}
}

func TestWindowsDegenerate(t *testing.T) {
	if Windows(0, 10, 5) != nil {
		t.Fatal("expected nil for empty input")
	}
	if Windows(10, 10, 0) != nil {
		t.Fatal("expected nil for zero step")
	}
}

func TestSegmentShortParagraphsProduceNothing(t *testing.T) {
	s := mustNew(t, DefaultOptions())
	for n := 1; n < DefaultMinParagraphWords; n++ {
		chunks := s.Segment([]domain.Page{{PageNumber: 1, Text: words(n, "w")}}, "B")
		if len(chunks) != 0 {
			t.Fatalf("%d words produced %d chunks", n, len(chunks))
		}
	}
	for _, n := range []int{20, 21, 899, 900, 901, 5000} {
		chunks := s.Segment([]domain.Page{{PageNumber: 1, Text: words(n, "w")}}, "B")
		if len(chunks) == 0 {
			t.Fatalf("%d words produced no chunks", n)
		}
	}
}

func TestSegmentTwoPageScenario(t *testing.T) {
	s := mustNew(t, DefaultOptions())
	pages := []domain.Page{
		{PageNumber: 1, Text: words(500, "a")},
		{PageNumber: 2, Text: words(10, "b")},
	}
	chunks := s.Segment(pages, "TestBook")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Book != "TestBook" || c.Page != 1 || c.Paragraph != 1 || c.ChunkIndex != 0 {
		t.Fatalf("unexpected chunk metadata: %+v", c)
	}
	if c.ID != "TestBook_page1_para1_chunk0" {
		t.Fatalf("unexpected id %q", c.ID)
	}
	if c.Text != words(500, "a") {
		t.Fatal("single-window paragraph should be kept whole")
	}
}

func TestSegmentOrdinalsAndGlobalIndex(t *testing.T) {
	s := mustNew(t, Options{ChunkSizeTokens: 40, ChunkOverlapTokens: 8, MinParagraphWords: 20})
	// window 30 words, step 24
	page1 := strings.Join([]string{"Chapter 4", words(25, "p"), words(60, "q")}, "\n\n")
	page3 := words(20, "r")
	pages := []domain.Page{
		{PageNumber: 1, Text: page1},
		{PageNumber: 2, Text: "   "},
		{PageNumber: 3, Text: page3},
	}
	chunks := s.Segment(pages, "Guyton")

	type key struct{ page, para int }
	var got []key
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.ID != ChunkID("Guyton", c.Page, c.Paragraph, i) {
			t.Fatalf("chunk %d id %q", i, c.ID)
		}
		got = append(got, key{c.Page, c.Paragraph})
	}
	// the heading consumes ordinal 1 on page 1 but yields no chunk
	want := []key{{1, 2}, {1, 3}, {1, 3}, {1, 3}, {3, 1}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSegmentChunkTextComesFromOneParagraph(t *testing.T) {
	s := mustNew(t, Options{ChunkSizeTokens: 40, ChunkOverlapTokens: 8, MinParagraphWords: 20})
	text := words(45, "x") + "\n\n" + words(45, "y")
	for _, c := range s.Segment([]domain.Page{{PageNumber: 9, Text: text}}, "B") {
		hasX := strings.Contains(c.Text, "x")
		hasY := strings.Contains(c.Text, "y")
		if hasX == hasY {
			t.Fatalf("chunk %s mixes paragraphs: %q", c.ID, c.Text)
		}
		if n := len(strings.Fields(c.Text)); n > 30 {
			t.Fatalf("chunk %s has %d words, window is 30", c.ID, n)
		}
	}
}

func TestSegmentIDsUnique(t *testing.T) {
	s := mustNew(t, Options{ChunkSizeTokens: 40, ChunkOverlapTokens: 8, MinParagraphWords: 20})
	var pages []domain.Page
	for p := 1; p <= 20; p++ {
		pages = append(pages, domain.Page{PageNumber: p, Text: words(70, "w") + "\n\n" + words(33, "v")})
	}
	seen := map[string]bool{}
	for _, c := range s.Segment(pages, "Robbins") {
		if seen[c.ID] {
			t.Fatalf("duplicate id %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestSegmentNoPages(t *testing.T) {
	s := mustNew(t, DefaultOptions())
	if got := s.Segment(nil, "B"); len(got) != 0 {
		t.Fatalf("expected no chunks, got %d", len(got))
	}
}
