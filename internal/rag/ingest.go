package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/banlv/banlv/internal/knowledge"
)

// Ingestion batch tuning. The embedding provider caps batch requests at
// ten inputs, so batches stay small and failures retry with escalating
// delays instead of aborting the whole run.
const (
	ingestBatchSize  = 10
	ingestMaxRetries = 3
	ingestRetryDelay = 2 * time.Second
	interBatchDelay  = 500 * time.Millisecond
)

// Chunk is a split piece of a source document, ready for embedding.
type Chunk struct {
	Content  string
	Metadata knowledge.Metadata
}

// IngestResult reports how many chunks were stored and how many were
// lost to batches that exhausted their retries.
type IngestResult struct {
	Success int
	Failed  int
}

// Estimate describes an ingestion run without touching the store.
type Estimate struct {
	Documents        int
	Chunks           int
	EmbeddingBatches int
}

// ProgressFunc receives the number of chunks processed so far out of
// the total. It is called after every batch, including failed ones.
type ProgressFunc func(current, total int)

// Ingestor splits documents and writes the resulting chunks to the
// knowledge store in batches.
type Ingestor struct {
	store    ChunkAdder
	splitter *Splitter
	logger   *slog.Logger

	retryDelay time.Duration
	batchDelay time.Duration
}

// ChunkAdder is the subset of the knowledge store the ingestor needs.
type ChunkAdder interface {
	AddBatch(ctx context.Context, contents []string, metas []knowledge.Metadata) ([]uuid.UUID, error)
}

// NewIngestor wires an ingestor. A nil splitter gets the defaults.
func NewIngestor(store ChunkAdder, splitter *Splitter, logger *slog.Logger) *Ingestor {
	if splitter == nil {
		splitter = NewSplitter()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ingestor{
		store:      store,
		splitter:   splitter,
		logger:     logger,
		retryDelay: ingestRetryDelay,
		batchDelay: interBatchDelay,
	}
}

// SplitDocuments turns loaded documents into chunks, stamping each
// chunk's position within its source document into the metadata.
func (in *Ingestor) SplitDocuments(docs []POIDocument) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		pieces := in.splitter.Split(doc.Content)
		for i, piece := range pieces {
			meta := doc.Metadata
			meta.ChunkIndex = i
			meta.ChunkTotal = len(pieces)
			chunks = append(chunks, Chunk{Content: piece, Metadata: meta})
		}
	}
	return chunks
}

// EstimateRun previews an ingestion without calling the embedder or
// the database.
func (in *Ingestor) EstimateRun(docs []POIDocument) Estimate {
	chunks := in.SplitDocuments(docs)
	batches := (len(chunks) + ingestBatchSize - 1) / ingestBatchSize
	return Estimate{
		Documents:        len(docs),
		Chunks:           len(chunks),
		EmbeddingBatches: batches,
	}
}

// Ingest stores chunks in batches. A batch that keeps failing after
// the retry budget is counted as failed and the run continues.
func (in *Ingestor) Ingest(ctx context.Context, chunks []Chunk, onProgress ProgressFunc) (IngestResult, error) {
	var result IngestResult
	total := len(chunks)

	for start := 0; start < total; start += ingestBatchSize {
		end := min(start+ingestBatchSize, total)
		batch := chunks[start:end]
		batchNum := start/ingestBatchSize + 1

		contents := make([]string, len(batch))
		metas := make([]knowledge.Metadata, len(batch))
		for i, c := range batch {
			contents[i] = c.Content
			metas[i] = c.Metadata
		}

		stored := false
		for attempt := 1; attempt <= ingestMaxRetries && !stored; attempt++ {
			_, err := in.store.AddBatch(ctx, contents, metas)
			if err == nil {
				result.Success += len(batch)
				stored = true
				break
			}
			if attempt < ingestMaxRetries {
				delay := in.retryDelay * time.Duration(attempt)
				in.logger.Warn("批次写入失败，准备重试",
					"batch", batchNum,
					"attempt", attempt,
					"delay", delay,
					"error", err)
				if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
					return result, sleepErr
				}
				continue
			}
			in.logger.Error("批次最终失败", "batch", batchNum, "error", err)
			result.Failed += len(batch)
		}

		if onProgress != nil {
			onProgress(end, total)
		}

		if end < total {
			if err := sleepCtx(ctx, in.batchDelay); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("ingest interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
