package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/repo"
)

// memRepo is an in-memory repo.Repository keyed by book name.
type memRepo struct {
	books map[string]domain.Book
	err   error
}

func newMemRepo() *memRepo { return &memRepo{books: map[string]domain.Book{}} }

func (m *memRepo) Get(_ context.Context, id string) (domain.Book, error) {
	if m.err != nil {
		return domain.Book{}, m.err
	}
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, fmt.Errorf("Book %s: %w", id, repo.ErrNotFound)
	}
	return b, nil
}

func (m *memRepo) List(_ context.Context, opts repo.ListOpts) ([]domain.Book, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) Upsert(_ context.Context, b domain.Book) (domain.Book, error) {
	if m.err != nil {
		return domain.Book{}, m.err
	}
	m.books[b.Name] = b
	return b, nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.books[id]; !ok {
		return fmt.Errorf("Book %s: %w", id, repo.ErrNotFound)
	}
	delete(m.books, id)
	return nil
}

func TestCatalogLifecycle(t *testing.T) {
	ctx := context.Background()
	c := New(newMemRepo())

	require.NoError(t, c.Record(ctx, domain.Book{Name: "Harrison", Chunks: 10}))
	require.NoError(t, c.Record(ctx, domain.Book{Name: "Guyton", Chunks: 4}))
	require.NoError(t, c.Record(ctx, domain.Book{Name: "Guyton", Chunks: 6}))

	books, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Guyton", books[0].Name)
	assert.Equal(t, 6, books[0].Chunks, "re-recording replaces the entry")

	b, err := c.Get(ctx, "Harrison")
	require.NoError(t, err)
	assert.Equal(t, 10, b.Chunks)

	require.NoError(t, c.Forget(ctx, "Harrison"))
	_, err = c.Get(ctx, "Harrison")
	assert.ErrorIs(t, err, ErrUnknownBook)
	assert.ErrorIs(t, c.Forget(ctx, "Harrison"), ErrUnknownBook)
}

func TestCatalogValidatesName(t *testing.T) {
	err := New(newMemRepo()).Record(context.Background(), domain.Book{Name: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCatalogServiceErrors(t *testing.T) {
	r := newMemRepo()
	r.err = errors.New("connection refused")
	c := New(r)
	ctx := context.Background()

	var se *domain.ServiceError
	assert.ErrorAs(t, c.Record(ctx, domain.Book{Name: "A"}), &se)
	_, err := c.List(ctx)
	assert.ErrorAs(t, err, &se)
	_, err = c.Get(ctx, "A")
	assert.ErrorAs(t, err, &se)
	assert.ErrorAs(t, c.Forget(ctx, "A"), &se)
}

func TestNodeMapping(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := domain.Book{
		Name: "Robbins", SourcePath: "/data/robbins.pdf", Title: "Pathologic Basis", Author: "Kumar",
		Pages: 1400, Chunks: 5200, FileSize: 98765432, IngestedAt: at,
	}
	rec := &neo4j.Record{
		Values: []any{neo4j.Node{Labels: []string{Label}, Props: toProps(in)}},
		Keys:   []string{"n"},
	}
	out, err := fromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = fromRecord(&neo4j.Record{Values: []any{map[string]any{"title": "x"}}, Keys: []string{"n"}})
	assert.Error(t, err)
}
