package semantic

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/medtext/medrag/engine/domain"
)

// pgDB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PGIndex stores vectors in a PostgreSQL table using the pgvector extension.
type PGIndex struct {
	pool   *pgxpool.Pool
	db     pgDB
	table  string
	metric Metric
	opts   options
}

// NewPG connects to dsn. The table is named after the index.
func NewPG(ctx context.Context, dsn, index string, opts ...Option) (*PGIndex, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("semantic: parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("semantic: connect postgres: %w", err)
	}
	p := NewPGWithDB(pool, index, opts...)
	p.pool = pool
	return p, nil
}

// NewPGWithDB builds an index over an existing connection.
func NewPGWithDB(db pgDB, index string, opts ...Option) *PGIndex {
	o := buildOptions(opts)
	return &PGIndex{db: db, table: TableName(index), metric: o.metric, opts: o}
}

// Close releases the pool, if this index owns one.
func (p *PGIndex) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// TableName turns an index name such as "medical-rag-aiims" into a safe
// table identifier.
func TableName(index string) string {
	s := nonIdent.ReplaceAllString(strings.ToLower(index), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "chunks"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "idx_" + s
	}
	return s
}

func (p *PGIndex) ident() string { return pgx.Identifier{p.table}.Sanitize() }

// EnsureIndex creates the extension, table and indexes. DDL is synchronous,
// so the table is queryable when this returns.
func (p *PGIndex) EnsureIndex(ctx context.Context, dim int, metric Metric) error {
	stored, err := p.storedDim(ctx)
	if err != nil {
		return err
	}
	if stored != 0 && stored != dim {
		return fmt.Errorf("semantic: table %s: %w: stores %d, configured %d", p.table, domain.ErrDimensionMismatch, stored, dim)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id          TEXT PRIMARY KEY,
    book        TEXT NOT NULL,
    page        INTEGER NOT NULL,
    paragraph   INTEGER NOT NULL,
    chunk_index INTEGER NOT NULL,
    text        TEXT NOT NULL,
    embedding   vector(%d) NOT NULL
)`, p.ident(), dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (book)`, pgx.Identifier{p.table + "_book_idx"}.Sanitize(), p.ident()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s)`,
			pgx.Identifier{p.table + "_embedding_idx"}.Sanitize(), p.ident(), opsClass(metric)),
	}
	for _, s := range stmts {
		if _, err := p.db.Exec(ctx, s); err != nil {
			return domain.WrapService("postgres", "ensure index", err)
		}
	}
	p.metric = metric
	p.opts.logger.Info("pgvector table ready", "table", p.table, "dim", dim, "metric", metric)
	return nil
}

// storedDim returns the declared vector size of an existing table, or 0.
func (p *PGIndex) storedDim(ctx context.Context) (int, error) {
	var dim int
	err := p.db.QueryRow(ctx, `
SELECT a.atttypmod
FROM pg_attribute a
WHERE a.attrelid = to_regclass($1::text) AND a.attname = 'embedding'`, p.table).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.WrapService("postgres", "inspect table", err)
	}
	return max(dim, 0), nil
}

func (p *PGIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	return upsertBatched(ctx, records, p.opts.batchSize, p.upsertBatch)
}

func (p *PGIndex) upsertBatch(ctx context.Context, records []domain.VectorRecord) error {
	sql := fmt.Sprintf(`
INSERT INTO %s (id, book, page, paragraph, chunk_index, text, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    book = EXCLUDED.book,
    page = EXCLUDED.page,
    paragraph = EXCLUDED.paragraph,
    chunk_index = EXCLUDED.chunk_index,
    text = EXCLUDED.text,
    embedding = EXCLUDED.embedding`, p.ident())

	batch := &pgx.Batch{}
	for _, r := range records {
		m := r.Metadata
		batch.Queue(sql, r.ID, m.Book, m.Page, m.Paragraph, m.ChunkIndex, m.Text, pgvector.NewVector(r.Values))
	}
	br := p.db.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return domain.WrapService("postgres", fmt.Sprintf("upsert %d rows", len(records)), err)
		}
	}
	return nil
}

func (p *PGIndex) Query(ctx context.Context, vector []float32, topK int) ([]domain.RetrievedDocument, error) {
	if topK <= 0 {
		return nil, nil
	}
	op, scoreExpr := operator(p.metric)
	sql := fmt.Sprintf(`
SELECT id, text, book, page, paragraph, (%s)::real AS score
FROM %s
ORDER BY embedding %s $1, id
LIMIT $2`, scoreExpr, p.ident(), op)

	rows, err := p.db.Query(ctx, sql, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, domain.WrapService("postgres", "query", err)
	}
	defer rows.Close()

	var docs []domain.RetrievedDocument
	for rows.Next() {
		var d domain.RetrievedDocument
		if err := rows.Scan(&d.ID, &d.Text, &d.Book, &d.Page, &d.Paragraph, &d.Score); err != nil {
			return nil, fmt.Errorf("semantic: scan row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapService("postgres", "query", err)
	}
	return docs, nil
}

func (p *PGIndex) DeleteAll(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, p.ident())); err != nil && !undefinedTable(err) {
		return domain.WrapService("postgres", "delete all", err)
	}
	return nil
}

func (p *PGIndex) DeleteBook(ctx context.Context, book string) error {
	if _, err := p.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE book = $1`, p.ident()), book); err != nil && !undefinedTable(err) {
		return domain.WrapService("postgres", "delete book", err)
	}
	return nil
}

// Stats counts rows. A missing table counts as empty.
func (p *PGIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	var n int64
	err := p.db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.ident())).Scan(&n)
	if undefinedTable(err) {
		return domain.IndexStats{}, nil
	}
	if err != nil {
		return domain.IndexStats{}, domain.WrapService("postgres", "stats", err)
	}
	dim, err := p.storedDim(ctx)
	if err != nil {
		return domain.IndexStats{}, err
	}
	return domain.IndexStats{TotalVectorCount: n, Dimension: dim}, nil
}

func undefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

func opsClass(m Metric) string {
	switch m {
	case MetricDot:
		return "vector_ip_ops"
	case MetricEuclidean:
		return "vector_l2_ops"
	}
	return "vector_cosine_ops"
}

// operator returns the ordering operator and a higher-is-better score
// expression for m.
func operator(m Metric) (op, score string) {
	switch m {
	case MetricDot:
		return "<#>", "-(embedding <#> $1)"
	case MetricEuclidean:
		return "<->", "-(embedding <-> $1)"
	}
	return "<=>", "1 - (embedding <=> $1)"
}
