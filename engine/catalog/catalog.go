// Package catalog records which books were ingested, in Neo4j.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/repo"
)

// Label is the node label of catalog entries.
const Label = "Book"

// ErrUnknownBook is returned for a book that was never recorded.
var ErrUnknownBook = errors.New("catalog: unknown book")

// Catalog keeps one entry per book name.
type Catalog struct {
	repo repo.Repository[domain.Book, string]
}

// New creates a Catalog over any repository.
func New(r repo.Repository[domain.Book, string]) *Catalog {
	return &Catalog{repo: r}
}

// NewNeo4j creates a Catalog over a Neo4j driver and ensures the name
// constraint exists.
func NewNeo4j(ctx context.Context, driver neo4j.DriverWithContext) (*Catalog, error) {
	r := repo.NewNeo4jRepo[domain.Book, string](driver, Label, toProps, fromRecord,
		repo.WithIDKey[domain.Book, string]("name"))
	if err := r.EnsureConstraint(ctx); err != nil {
		return nil, domain.WrapService("catalog", "ensure constraint", err)
	}
	return New(r), nil
}

// Record creates or replaces the entry for b.Name.
func (c *Catalog) Record(ctx context.Context, b domain.Book) error {
	if err := domain.ValidateBookName(b.Name); err != nil {
		return err
	}
	if _, err := c.repo.Upsert(ctx, b); err != nil {
		return domain.WrapService("catalog", "record "+b.Name, err)
	}
	return nil
}

// List returns every entry, ordered by name.
func (c *Catalog) List(ctx context.Context) ([]domain.Book, error) {
	books, err := c.repo.List(ctx, repo.ListOpts{Limit: 1000})
	if err != nil {
		return nil, domain.WrapService("catalog", "list", err)
	}
	return books, nil
}

// Get returns the entry for name.
func (c *Catalog) Get(ctx context.Context, name string) (domain.Book, error) {
	b, err := c.repo.Get(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Book{}, fmt.Errorf("%w: %s", ErrUnknownBook, name)
	}
	if err != nil {
		return domain.Book{}, domain.WrapService("catalog", "get "+name, err)
	}
	return b, nil
}

// Forget removes the entry for name. It does not touch the vector index.
func (c *Catalog) Forget(ctx context.Context, name string) error {
	err := c.repo.Delete(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownBook, name)
	}
	if err != nil {
		return domain.WrapService("catalog", "forget "+name, err)
	}
	return nil
}

func toProps(b domain.Book) map[string]any {
	return map[string]any{
		"name":        b.Name,
		"source_path": b.SourcePath,
		"title":       b.Title,
		"author":      b.Author,
		"pages":       int64(b.Pages),
		"chunks":      int64(b.Chunks),
		"file_size":   b.FileSize,
		"ingested_at": b.IngestedAt.UTC(),
	}
}

func fromRecord(rec *neo4j.Record) (domain.Book, error) {
	p, err := repo.Props(rec, "n")
	if err != nil {
		return domain.Book{}, err
	}
	b := domain.Book{
		Name:       str(p["name"]),
		SourcePath: str(p["source_path"]),
		Title:      str(p["title"]),
		Author:     str(p["author"]),
		Pages:      int(num(p["pages"])),
		Chunks:     int(num(p["chunks"])),
		FileSize:   num(p["file_size"]),
	}
	if t, ok := p["ingested_at"].(time.Time); ok {
		b.IngestedAt = t.UTC()
	}
	if b.Name == "" {
		return domain.Book{}, errors.New("catalog: book node without name")
	}
	return b, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
