package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

type mockRunner struct {
	results []*mockResult
	err     error
	cyphers []string
	params  []map[string]any
	modes   []neo4j.AccessMode
}

func (m *mockRunner) Run(_ context.Context, cypher string, params map[string]any) (result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return &mockResult{}, nil
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r, nil
}

func (m *mockRunner) Close(context.Context) error { return nil }

type entity struct {
	ID   string
	Name string
}

func nodeRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{neo4j.Node{Labels: []string{"Entity"}, Props: map[string]any{"id": id, "name": name}}},
		Keys:   []string{"n"},
	}
}

func newTestRepo(r *mockRunner, opts ...Neo4jOption[entity, string]) *Neo4jRepo[entity, string] {
	repo := NewNeo4jRepo[entity, string](
		nil, "Entity",
		func(e entity) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (entity, error) {
			p, err := Props(rec, "n")
			if err != nil {
				return entity{}, err
			}
			id, _ := p["id"].(string)
			name, _ := p["name"].(string)
			return entity{ID: id, Name: name}, nil
		},
		opts...,
	)
	repo.newSession = func(_ context.Context, mode neo4j.AccessMode) runner {
		r.modes = append(r.modes, mode)
		return r
	}
	return repo
}

func TestNewNeo4jRepoDefaults(t *testing.T) {
	r := NewNeo4jRepo[entity, string](nil, "Node", nil, nil)
	if r.idKey != "id" || r.orderKey != "id" {
		t.Fatalf("unexpected keys: id=%s order=%s", r.idKey, r.orderKey)
	}
	r = NewNeo4jRepo[entity, string](nil, "Node", nil, nil,
		WithIDKey[entity, string]("name"), WithOrderKey[entity, string]("ingested_at"), WithDatabase[entity, string]("books"))
	if r.idKey != "name" || r.orderKey != "ingested_at" || r.database != "books" {
		t.Fatalf("options not applied: %+v", r)
	}
}

func TestGet(t *testing.T) {
	r := &mockRunner{results: []*mockResult{{records: []*neo4j.Record{nodeRecord("1", "Alice")}}}}
	e, err := newTestRepo(r).Get(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != "1" || e.Name != "Alice" {
		t.Fatalf("got %+v", e)
	}
	if r.modes[0] != neo4j.AccessModeRead {
		t.Fatalf("expected read session, got %v", r.modes[0])
	}
}

func TestGetNotFound(t *testing.T) {
	_, err := newTestRepo(&mockRunner{}).Get(context.Background(), "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetResultError(t *testing.T) {
	r := &mockRunner{results: []*mockResult{{err: errors.New("stream broken")}}}
	_, err := newTestRepo(r).Get(context.Background(), "x")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestRunError(t *testing.T) {
	r := &mockRunner{err: errors.New("db down")}
	repo := newTestRepo(r)
	ctx := context.Background()
	if _, err := repo.Get(ctx, "x"); err == nil {
		t.Fatal("Get: expected error")
	}
	if _, err := repo.List(ctx, ListOpts{}); err == nil {
		t.Fatal("List: expected error")
	}
	if _, err := repo.Upsert(ctx, entity{ID: "x"}); err == nil {
		t.Fatal("Upsert: expected error")
	}
	if err := repo.Delete(ctx, "x"); err == nil {
		t.Fatal("Delete: expected error")
	}
}

func TestList(t *testing.T) {
	r := &mockRunner{results: []*mockResult{{records: []*neo4j.Record{nodeRecord("1", "A"), nodeRecord("2", "B")}}}}
	items, err := newTestRepo(r).List(context.Background(), ListOpts{Offset: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1].Name != "B" {
		t.Fatalf("got %+v", items)
	}
	if r.params[0]["limit"] != DefaultListLimit || r.params[0]["offset"] != 5 {
		t.Fatalf("unexpected params: %v", r.params[0])
	}
}

func TestListEmptyIsNotNil(t *testing.T) {
	items, err := newTestRepo(&mockRunner{}).List(context.Background(), ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", items)
	}
}

func TestListFromRecordError(t *testing.T) {
	bad := &neo4j.Record{Values: []any{"not a node"}, Keys: []string{"n"}}
	r := &mockRunner{results: []*mockResult{{records: []*neo4j.Record{bad}}}}
	if _, err := newTestRepo(r).List(context.Background(), ListOpts{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert(t *testing.T) {
	r := &mockRunner{results: []*mockResult{{records: []*neo4j.Record{nodeRecord("3", "C")}}}}
	e, err := newTestRepo(r).Upsert(context.Background(), entity{ID: "3", Name: "C"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Name != "C" {
		t.Fatalf("got %+v", e)
	}
	if r.params[0]["id"] != "3" {
		t.Fatalf("unexpected params: %v", r.params[0])
	}
	if r.modes[0] != neo4j.AccessModeWrite {
		t.Fatalf("expected write session")
	}
}

func TestUpsertMissingID(t *testing.T) {
	repo := newTestRepo(&mockRunner{}, WithIDKey[entity, string]("vin"))
	if _, err := repo.Upsert(context.Background(), entity{ID: "1"}); err == nil {
		t.Fatal("expected error for missing id property")
	}
}

func deletedRecord(n int64) *neo4j.Record {
	return &neo4j.Record{Values: []any{n}, Keys: []string{"deleted"}}
}

func TestDelete(t *testing.T) {
	r := &mockRunner{results: []*mockResult{
		{records: []*neo4j.Record{deletedRecord(1)}},
		{records: []*neo4j.Record{deletedRecord(0)}},
	}}
	repo := newTestRepo(r)
	if err := repo.Delete(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(context.Background(), "2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCypherGeneration(t *testing.T) {
	r := &mockRunner{}
	repo := newTestRepo(r, WithIDKey[entity, string]("id"), WithOrderKey[entity, string]("name"))
	ctx := context.Background()

	_, _ = repo.Get(ctx, "ABC")
	_, _ = repo.List(ctx, ListOpts{Limit: 50})
	_, _ = repo.Upsert(ctx, entity{ID: "ABC", Name: "A"})
	_ = repo.Delete(ctx, "ABC")
	_ = repo.EnsureConstraint(ctx)

	expected := []string{
		"MATCH (n:Entity {id: $id}) RETURN n",
		"MATCH (n:Entity) RETURN n ORDER BY n.name SKIP $offset LIMIT $limit",
		"MERGE (n:Entity {id: $id}) SET n += $props RETURN n",
		"MATCH (n:Entity {id: $id}) DETACH DELETE n RETURN count(n) AS deleted",
		"CREATE CONSTRAINT Entity_id_unique IF NOT EXISTS FOR (n:Entity) REQUIRE n.id IS UNIQUE",
	}
	if len(r.cyphers) != len(expected) {
		t.Fatalf("got %d cyphers, want %d", len(r.cyphers), len(expected))
	}
	for i, want := range expected {
		if r.cyphers[i] != want {
			t.Errorf("[%d] got %q, want %q", i, r.cyphers[i], want)
		}
	}
}

func TestProps(t *testing.T) {
	rec := &neo4j.Record{Values: []any{map[string]any{"a": 1}}, Keys: []string{"n"}}
	p, err := Props(rec, "n")
	if err != nil || p["a"] != 1 {
		t.Fatalf("map props: %v %v", p, err)
	}
	if _, err := Props(rec, "missing"); err == nil {
		t.Fatal("expected error for missing key")
	}
}
