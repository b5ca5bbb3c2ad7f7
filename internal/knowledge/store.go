// Package knowledge provides the persistent document-vector index backing
// the retrieval pipeline. Documents live in PostgreSQL with pgvector
// embeddings; search is cosine similarity with an optional city pre-filter.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

var (
	// ErrEmptyContent indicates an attempt to index an empty document.
	ErrEmptyContent = errors.New("document content is empty")

	// ErrNoEmbedding indicates the embedder returned no vectors.
	ErrNoEmbedding = errors.New("embedder returned no embeddings")

	// ErrInvalidConfig indicates missing store dependencies.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// Querier is the subset of pgx operations the store needs.
// *pgxpool.Pool satisfies it; tests provide a fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store indexes and searches knowledge documents.
type Store struct {
	db       Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// Config holds Store dependencies.
type Config struct {
	DB       Querier
	Embedder ai.Embedder
	Logger   *slog.Logger
}

// NewStore creates a document store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("%w: DB is required", ErrInvalidConfig)
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("%w: Embedder is required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: cfg.DB, embedder: cfg.Embedder, logger: logger}, nil
}

// Add embeds one document and inserts it into the index.
func (s *Store) Add(ctx context.Context, content string, meta Metadata) (uuid.UUID, error) {
	ids, err := s.AddBatch(ctx, []string{content}, []Metadata{meta})
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

// AddBatch embeds a batch of documents in one embedder call and inserts
// them. contents and metas must have equal length.
func (s *Store) AddBatch(ctx context.Context, contents []string, metas []Metadata) ([]uuid.UUID, error) {
	if len(contents) == 0 {
		return nil, nil
	}
	if len(contents) != len(metas) {
		return nil, fmt.Errorf("contents/metadata length mismatch: %d != %d", len(contents), len(metas))
	}

	input := make([]*ai.Document, 0, len(contents))
	for _, c := range contents {
		if c == "" {
			return nil, ErrEmptyContent
		}
		input = append(input, ai.DocumentFromText(c, nil))
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("embedding batch: %w", err)
	}
	if len(resp.Embeddings) != len(contents) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d documents", ErrNoEmbedding, len(resp.Embeddings), len(contents))
	}

	ids := make([]uuid.UUID, len(contents))
	for i, content := range contents {
		metaJSON, err := json.Marshal(metas[i])
		if err != nil {
			return nil, fmt.Errorf("marshaling metadata: %w", err)
		}

		id := uuid.New()
		vec := pgvector.NewVector(resp.Embeddings[i].Embedding)
		_, err = s.db.Exec(ctx,
			`INSERT INTO knowledge_documents (id, content, metadata, embedding) VALUES ($1, $2, $3, $4)`,
			id, content, metaJSON, vec)
		if err != nil {
			return nil, fmt.Errorf("inserting document %d: %w", i, err)
		}
		ids[i] = id
	}

	s.logger.Debug("indexed documents", "count", len(ids))
	return ids, nil
}

// SearchOption configures a similarity search.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK      int
	threshold float64
	city      string
}

// WithTopK limits the number of results (default 3).
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithThreshold sets the minimum cosine similarity for a hit (default 0).
func WithThreshold(threshold float64) SearchOption {
	return func(c *searchConfig) { c.threshold = threshold }
}

// WithCity pre-filters results to documents whose metadata city matches.
func WithCity(city string) SearchOption {
	return func(c *searchConfig) { c.city = city }
}

// Search embeds the query and returns the most similar documents, ordered
// by descending similarity. Candidates below the threshold are excluded
// before the top-K cut.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]SearchResult, error) {
	if query == "" {
		return nil, ErrEmptyContent
	}

	cfg := searchConfig{topK: 3}
	for _, opt := range opts {
		opt(&cfg)
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, ErrNoEmbedding
	}
	vec := pgvector.NewVector(resp.Embeddings[0].Embedding)

	// <=> is cosine distance; similarity = 1 - distance.
	rows, err := s.db.Query(ctx, `
		SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS similarity
		FROM knowledge_documents
		WHERE ($2 = '' OR metadata ->> 'city' = $2)
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		vec, cfg.city, cfg.threshold, cfg.topK)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	return rowsToResults(rows)
}

func rowsToResults(rows pgx.Rows) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		var (
			r        SearchResult
			metaJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata: %w", err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return results, nil
}

// Count returns the number of indexed documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM knowledge_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// Clear removes every document from the index.
func (s *Store) Clear(ctx context.Context) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM knowledge_documents`)
	if err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	s.logger.Info("cleared knowledge index", "deleted", tag.RowsAffected())
	return nil
}

// Stats returns document counts, total and per city.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT coalesce(metadata ->> 'city', ''), count(*)
		FROM knowledge_documents
		GROUP BY 1
		ORDER BY 2 DESC`)
	if err != nil {
		return nil, fmt.Errorf("collecting stats: %w", err)
	}
	defer rows.Close()

	byCity := make(map[string]int64)
	for rows.Next() {
		var (
			city string
			n    int64
		)
		if err := rows.Scan(&city, &n); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		byCity[city] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stats rows: %w", err)
	}

	return &Stats{TotalDocuments: total, ByCity: byCity}, nil
}
