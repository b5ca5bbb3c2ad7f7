package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Metadata describes the source record a knowledge document was built from.
// It is stored as JSONB next to the embedding and doubles as the filter
// surface for locality-scoped search.
type Metadata struct {
	Name        string   `json:"name"`
	City        string   `json:"city"`
	Type        string   `json:"type,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	ReviewCount int      `json:"reviewCount,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	PlayTime    string   `json:"playTime,omitempty"`
	OpenTime    string   `json:"openTime,omitempty"`
	ChunkIndex  int      `json:"chunkIndex"`
	ChunkTotal  int      `json:"chunkTotal"`
}

// Document is one stored knowledge chunk.
type Document struct {
	ID        uuid.UUID
	Content   string
	Metadata  Metadata
	CreatedAt time.Time
}

// SearchResult is a Document with its similarity to the search query.
// Similarity is cosine similarity mapped to [0, 1].
type SearchResult struct {
	Document
	Similarity float64
}

// Stats summarizes the index contents.
type Stats struct {
	TotalDocuments int64
	ByCity         map[string]int64
}
