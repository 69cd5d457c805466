// Package pdftext extracts page-level text from PDF files.
//
// Text is rebuilt from positioned rows so that vertical gaps larger than the
// usual line spacing become blank lines, which is what paragraph splitting
// downstream relies on.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/medtext/medrag/engine/domain"
)

// DefaultMaxBytes is the size ceiling applied before any parsing (500 MB).
const DefaultMaxBytes int64 = 500 << 20

// Extractor reads PDFs from the local filesystem.
type Extractor struct {
	maxBytes int64
	logger   *slog.Logger
}

// New creates an Extractor. maxBytes <= 0 selects DefaultMaxBytes.
func New(maxBytes int64, logger *slog.Logger) *Extractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{maxBytes: maxBytes, logger: logger}
}

// Metadata describes a PDF file.
type Metadata struct {
	Title    string
	Author   string
	Pages    int
	FileSize int64
}

// ExtractPages returns one Page per non-blank page, in file order.
func (e *Extractor) ExtractPages(ctx context.Context, path string) ([]domain.Page, error) {
	if _, err := e.check(path); err != nil {
		return nil, err
	}
	f, r, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	total := r.NumPage()
	e.logger.Info("pdf opened", "path", path, "pages", total)

	var pages []domain.Page
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(r.Page(i))
		if err != nil {
			return nil, &domain.InputError{Path: path, Err: fmt.Errorf("%w: page %d: %v", domain.ErrUnparseable, i, err)}
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{PageNumber: i, Text: text, CharCount: len([]rune(text))})
	}
	e.logger.Info("pdf extracted", "path", path, "pages", total, "non_blank", len(pages))
	return pages, nil
}

// Metadata reads the document info dictionary and page count.
func (e *Extractor) Metadata(path string) (Metadata, error) {
	size, err := e.check(path)
	if err != nil {
		return Metadata{}, err
	}
	f, r, err := open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()

	info := r.Trailer().Key("Info")
	return Metadata{
		Title:    strings.TrimSpace(info.Key("Title").Text()),
		Author:   strings.TrimSpace(info.Key("Author").Text()),
		Pages:    r.NumPage(),
		FileSize: size,
	}, nil
}

// check enforces existence and the size ceiling without reading the file.
func (e *Extractor) check(path string) (int64, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return 0, &domain.InputError{Path: path, Err: domain.ErrNotFound}
	case err != nil:
		return 0, &domain.InputError{Path: path, Err: err}
	case info.IsDir():
		return 0, &domain.InputError{Path: path, Err: fmt.Errorf("%w: is a directory", domain.ErrUnparseable)}
	case info.Size() > e.maxBytes:
		return 0, &domain.InputError{Path: path, Err: fmt.Errorf("%w: %.1f MB exceeds %.1f MB", domain.ErrTooLarge, mb(info.Size()), mb(e.maxBytes))}
	}
	return info.Size(), nil
}

func open(path string) (f *os.File, r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if f != nil {
				f.Close()
			}
			f, r, err = nil, nil, &domain.InputError{Path: path, Err: fmt.Errorf("%w: %v", domain.ErrUnparseable, rec)}
		}
	}()
	f, r, err = pdf.Open(path)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, nil, &domain.InputError{Path: path, Err: fmt.Errorf("%w: %v", domain.ErrUnparseable, err)}
	}
	return f, r, nil
}

func pageText(p pdf.Page) (text string, err error) {
	if p.V.IsNull() {
		return "", nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	rows, err := p.GetTextByRow()
	if err != nil || len(rows) == 0 {
		plain, perr := p.GetPlainText(nil)
		if perr != nil {
			return "", perr
		}
		return sanitize(plain), nil
	}
	lines := make([]line, 0, len(rows))
	for _, row := range rows {
		l := line{Y: float64(row.Position)}
		for _, t := range row.Content {
			l.Frags = append(l.Frags, fragment{X: t.X, W: t.W, FontSize: t.FontSize, S: t.S})
		}
		lines = append(lines, l)
	}
	return sanitize(layout(lines)), nil
}

type fragment struct {
	X, W, FontSize float64
	S              string
}

type line struct {
	Y     float64
	Frags []fragment
}

// paragraphGapRatio is how much larger than the median line gap a vertical
// gap must be to count as a paragraph break.
const paragraphGapRatio = 1.5

// layout joins rows top to bottom. A gap wider than paragraphGapRatio times
// the median line spacing becomes a blank line.
func layout(lines []line) string {
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Y > lines[j].Y })

	var texts []string
	var ys []float64
	for _, l := range lines {
		s := strings.TrimSpace(joinFragments(l.Frags))
		if s == "" {
			continue
		}
		texts = append(texts, s)
		ys = append(ys, l.Y)
	}
	if len(texts) == 0 {
		return ""
	}

	gaps := make([]float64, 0, len(ys))
	for i := 1; i < len(ys); i++ {
		if g := ys[i-1] - ys[i]; g > 0 {
			gaps = append(gaps, g)
		}
	}
	typical := median(gaps)

	var b strings.Builder
	b.WriteString(texts[0])
	for i := 1; i < len(texts); i++ {
		if typical > 0 && ys[i-1]-ys[i] > typical*paragraphGapRatio {
			b.WriteString("\n\n")
		} else {
			b.WriteByte('\n')
		}
		b.WriteString(texts[i])
	}
	return b.String()
}

// joinFragments concatenates the fragments of one row, inserting a space
// where the horizontal gap is wider than a fraction of the font size.
func joinFragments(frags []fragment) string {
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].X < frags[j].X })
	var b strings.Builder
	for i, f := range frags {
		if i > 0 {
			prev := frags[i-1]
			gap := f.X - (prev.X + prev.W)
			size := max(f.FontSize, 1)
			if gap > size*0.15 && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(f.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(f.S)
	}
	return b.String()
}

func median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	s := append([]float64(nil), vs...)
	sort.Float64s(s)
	return s[len(s)/2]
}

// sanitize drops NUL bytes and other control characters some PDF producers
// emit, keeping newlines and tabs.
func sanitize(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\r' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s))
}

func mb(n int64) float64 { return float64(n) / (1 << 20) }
