package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr  error
	callCount int
	perDoc    []float32
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	vec := m.perDoc
	if vec == nil {
		vec = []float32{0.1, 0.2, 0.3}
	}
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// fakeRow is one canned search result row.
type fakeRow struct {
	id         uuid.UUID
	content    string
	meta       Metadata
	createdAt  time.Time
	similarity float64
}

// fakeRows implements pgx.Rows over canned data.
type fakeRows struct {
	rows []fakeRow
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	if len(dest) != 5 {
		return fmt.Errorf("unexpected scan arity %d", len(dest))
	}
	metaJSON, err := json.Marshal(row.meta)
	if err != nil {
		return err
	}
	*(dest[0].(*uuid.UUID)) = row.id
	*(dest[1].(*string)) = row.content
	*(dest[2].(*[]byte)) = metaJSON
	*(dest[3].(*time.Time)) = row.createdAt
	*(dest[4].(*float64)) = row.similarity
	return nil
}

func (r *fakeRows) Values() ([]any, error) { return nil, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

// fakeQuerier implements Querier with canned responses. Search filtering
// happens in SQL in production; the fake applies the same threshold/city/topK
// semantics so the contract stays testable without a database.
type fakeQuerier struct {
	rows     []fakeRow
	queryErr error
	execErr  error
	execs    []string
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	city, _ := args[1].(string)
	threshold, _ := args[2].(float64)
	topK, _ := args[3].(int)

	var out []fakeRow
	for _, r := range q.rows {
		if city != "" && r.meta.City != city {
			continue
		}
		if r.similarity < threshold {
			continue
		}
		out = append(out, r)
		if len(out) == topK {
			break
		}
	}
	return &fakeRows{rows: out}, nil
}

type fakeCountRow struct{ n int64 }

func (r fakeCountRow) Scan(dest ...any) error {
	if len(dest) == 1 {
		if p, ok := dest[0].(*int64); ok {
			*p = r.n
		}
	}
	return nil
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeCountRow{n: int64(len(q.rows))}
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if q.execErr != nil {
		return pgconn.CommandTag{}, q.execErr
	}
	q.execs = append(q.execs, sql)
	return pgconn.CommandTag{}, nil
}

func newTestStore(t *testing.T, db Querier, embedder ai.Embedder) *Store {
	t.Helper()
	s, err := NewStore(Config{DB: db, Embedder: embedder})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestNewStore_Validation(t *testing.T) {
	if _, err := NewStore(Config{Embedder: &mockEmbedder{}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewStore() without DB error = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewStore(Config{DB: &fakeQuerier{}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewStore() without embedder error = %v, want ErrInvalidConfig", err)
	}
}

func TestStore_AddBatch(t *testing.T) {
	db := &fakeQuerier{}
	emb := &mockEmbedder{}
	s := newTestStore(t, db, emb)

	ids, err := s.AddBatch(context.Background(),
		[]string{"doc one", "doc two"},
		[]Metadata{{Name: "故宫", City: "北京"}, {Name: "天坛", City: "北京"}})
	if err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("AddBatch() returned %d ids, want 2", len(ids))
	}
	if emb.callCount != 1 {
		t.Errorf("AddBatch() embedder calls = %d, want 1 (batched)", emb.callCount)
	}
	if len(db.execs) != 2 {
		t.Errorf("AddBatch() inserts = %d, want 2", len(db.execs))
	}
}

func TestStore_AddBatch_EmptyContent(t *testing.T) {
	s := newTestStore(t, &fakeQuerier{}, &mockEmbedder{})

	_, err := s.AddBatch(context.Background(), []string{""}, []Metadata{{}})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("AddBatch() error = %v, want ErrEmptyContent", err)
	}
}

func TestStore_AddBatch_LengthMismatch(t *testing.T) {
	s := newTestStore(t, &fakeQuerier{}, &mockEmbedder{})

	_, err := s.AddBatch(context.Background(), []string{"a", "b"}, []Metadata{{}})
	if err == nil {
		t.Error("AddBatch() with mismatched lengths should fail")
	}
}

func TestStore_Search_ThresholdExcludesLowSimilarity(t *testing.T) {
	db := &fakeQuerier{rows: []fakeRow{
		{id: uuid.New(), content: "a", meta: Metadata{City: "三亚"}, similarity: 0.9},
		{id: uuid.New(), content: "b", meta: Metadata{City: "三亚"}, similarity: 0.66},
		{id: uuid.New(), content: "c", meta: Metadata{City: "三亚"}, similarity: 0.64},
		{id: uuid.New(), content: "d", meta: Metadata{City: "三亚"}, similarity: 0.2},
	}}
	s := newTestStore(t, db, &mockEmbedder{})

	results, err := s.Search(context.Background(), "三亚好玩的",
		WithThreshold(0.65), WithTopK(10))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2 (threshold 0.65)", len(results))
	}
	for _, r := range results {
		if r.Similarity < 0.65 {
			t.Errorf("Search() returned similarity %.2f below threshold", r.Similarity)
		}
	}
}

func TestStore_Search_CityFilter(t *testing.T) {
	db := &fakeQuerier{rows: []fakeRow{
		{id: uuid.New(), content: "sanya doc", meta: Metadata{City: "三亚"}, similarity: 0.9},
		{id: uuid.New(), content: "beijing doc", meta: Metadata{City: "北京"}, similarity: 0.95},
	}}
	s := newTestStore(t, db, &mockEmbedder{})

	results, err := s.Search(context.Background(), "好玩的", WithCity("三亚"), WithTopK(5))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Metadata.City != "三亚" {
		t.Errorf("Search() with city filter = %+v, want only 三亚 docs", results)
	}
}

func TestStore_Search_TopK(t *testing.T) {
	var rows []fakeRow
	for i := 0; i < 10; i++ {
		rows = append(rows, fakeRow{id: uuid.New(), content: "doc", similarity: 0.9})
	}
	s := newTestStore(t, &fakeQuerier{rows: rows}, &mockEmbedder{})

	results, err := s.Search(context.Background(), "query", WithTopK(3))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Search() returned %d results, want 3", len(results))
	}
}

func TestStore_Search_EmbedderFailure(t *testing.T) {
	s := newTestStore(t, &fakeQuerier{}, &mockEmbedder{embedErr: errors.New("quota exceeded")})

	if _, err := s.Search(context.Background(), "query"); err == nil {
		t.Error("Search() with failing embedder should return error")
	}
}

func TestStore_Search_EmptyQuery(t *testing.T) {
	s := newTestStore(t, &fakeQuerier{}, &mockEmbedder{})

	if _, err := s.Search(context.Background(), ""); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("Search(\"\") error = %v, want ErrEmptyContent", err)
	}
}

func TestStore_Clear(t *testing.T) {
	db := &fakeQuerier{}
	s := newTestStore(t, db, &mockEmbedder{})

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if len(db.execs) != 1 {
		t.Errorf("Clear() executed %d statements, want 1", len(db.execs))
	}
}
