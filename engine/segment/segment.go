// Package segment turns page text into overlapping word-window chunks.
//
// A page is split into paragraphs on blank lines, paragraphs with fewer than
// MinParagraphWords words are dropped as noise, and every remaining paragraph
// is cut into windows of WindowWords words that advance by StepWords words.
// Token sizes are converted to word counts with a fixed 0.75 words-per-token
// ratio; no tokenizer is involved.
package segment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/medtext/medrag/engine/domain"
)

const (
	// DefaultChunkSize is the window size in tokens.
	DefaultChunkSize = 1200
	// DefaultChunkOverlap is the overlap between neighbouring windows in tokens.
	DefaultChunkOverlap = 200
	// DefaultMinParagraphWords is the shortest paragraph that gets chunked.
	DefaultMinParagraphWords = 20

	wordsPerToken = 0.75
)

// paragraphBreak matches two or more newlines, or a newline followed by a
// whitespace-only line.
var paragraphBreak = regexp.MustCompile(`\n\n+|\n\s+\n`)

// Options configures a Segmenter.
type Options struct {
	ChunkSizeTokens    int
	ChunkOverlapTokens int
	MinParagraphWords  int
}

// DefaultOptions returns the production window settings (~900-word windows
// advancing by ~750 words).
func DefaultOptions() Options {
	return Options{
		ChunkSizeTokens:    DefaultChunkSize,
		ChunkOverlapTokens: DefaultChunkOverlap,
		MinParagraphWords:  DefaultMinParagraphWords,
	}
}

// WindowWords is the number of words per chunk.
func (o Options) WindowWords() int { return int(float64(o.ChunkSizeTokens) * wordsPerToken) }

// OverlapWords is the number of words shared by neighbouring chunks.
func (o Options) OverlapWords() int { return int(float64(o.ChunkOverlapTokens) * wordsPerToken) }

// StepWords is how far the window advances between chunks.
func (o Options) StepWords() int { return o.WindowWords() - o.OverlapWords() }

// Validate rejects settings that would produce a non-advancing window.
// Floor rounding can collapse the step to zero even when overlap < size,
// so the derived word counts are checked as well.
func (o Options) Validate() error {
	switch {
	case o.ChunkSizeTokens <= 0:
		return domain.NewConfigError("CHUNK_SIZE", "must be positive, got %d", o.ChunkSizeTokens)
	case o.ChunkOverlapTokens < 0:
		return domain.NewConfigError("CHUNK_OVERLAP", "must not be negative, got %d", o.ChunkOverlapTokens)
	case o.ChunkOverlapTokens >= o.ChunkSizeTokens:
		return domain.NewConfigError("CHUNK_OVERLAP", "must be smaller than CHUNK_SIZE (%d >= %d)", o.ChunkOverlapTokens, o.ChunkSizeTokens)
	case o.WindowWords() <= 0:
		return domain.NewConfigError("CHUNK_SIZE", "%d tokens is less than one word", o.ChunkSizeTokens)
	case o.StepWords() <= 0:
		return domain.NewConfigError("CHUNK_OVERLAP", "window of %d words would not advance with %d words of overlap", o.WindowWords(), o.OverlapWords())
	case o.MinParagraphWords < 1:
		return domain.NewConfigError("MIN_PARAGRAPH_WORDS", "must be at least 1, got %d", o.MinParagraphWords)
	}
	return nil
}

// Segmenter splits pages into chunks. It holds no per-run state and is safe
// for concurrent use.
type Segmenter struct {
	opts   Options
	window int
	step   int
}

// New validates opts and returns a Segmenter.
func New(opts Options) (*Segmenter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{opts: opts, window: opts.WindowWords(), step: opts.StepWords()}, nil
}

// Options returns the settings the Segmenter was built with.
func (s *Segmenter) Options() Options { return s.opts }

// Segment chunks every page of one book. ChunkIndex runs from 0 across the
// whole call, in page, paragraph, window order.
func (s *Segmenter) Segment(pages []domain.Page, book string) []domain.Chunk {
	var chunks []domain.Chunk
	next := 0
	for _, page := range pages {
		for _, para := range SplitParagraphs(page.Text) {
			words := strings.Fields(para.Text)
			if len(words) < s.opts.MinParagraphWords {
				continue
			}
			for _, w := range Windows(len(words), s.window, s.step) {
				chunks = append(chunks, domain.Chunk{
					ID:         ChunkID(book, page.PageNumber, para.Ordinal, next),
					Text:       strings.Join(words[w.Start:w.End], " "),
					Book:       book,
					Page:       page.PageNumber,
					Paragraph:  para.Ordinal,
					ChunkIndex: next,
				})
				next++
			}
		}
	}
	return chunks
}

// Paragraph is a trimmed, non-empty block of page text.
type Paragraph struct {
	Ordinal int // 1-based within its page
	Text    string
}

// SplitParagraphs splits text on blank lines. Empty blocks are dropped before
// ordinals are assigned; short blocks keep their ordinal.
func SplitParagraphs(text string) []Paragraph {
	var out []Paragraph
	for _, part := range paragraphBreak.Split(text, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, Paragraph{Ordinal: len(out) + 1, Text: part})
	}
	return out
}

// Span is a half-open word range [Start, End).
type Span struct {
	Start, End int
}

// Windows returns the windows covering n words. The last window may be
// shorter than window; a sequence no longer than one window yields exactly
// one span. step must be in (0, window].
func Windows(n, window, step int) []Span {
	if n <= 0 || window <= 0 || step <= 0 {
		return nil
	}
	var spans []Span
	for start := 0; ; start += step {
		end := min(start+window, n)
		spans = append(spans, Span{Start: start, End: end})
		if end == n {
			return spans
		}
	}
}

// ChunkID derives the chunk id. The global chunk index alone makes it unique
// within one run; book, page and paragraph make it readable.
func ChunkID(book string, page, paragraph, index int) string {
	return fmt.Sprintf("%s_page%d_para%d_chunk%d", book, page, paragraph, index)
}
