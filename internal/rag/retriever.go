package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/banlv/banlv/internal/knowledge"
)

// Retriever configuration defaults.
const (
	// DefaultTopK is the default number of results returned per query.
	DefaultTopK = 3

	// DefaultThreshold is the default minimum similarity. Lowered from the
	// usual 0.7 to surface more results.
	DefaultThreshold = 0.65

	// MaxContentLength caps one document's contribution to the context
	// block, in runes.
	MaxContentLength = 2000
)

// noResultsContext is the context block used when the search comes back empty.
const noResultsContext = "未找到相关的旅行知识。"

// unavailableContext is the placeholder used when the search itself failed.
const unavailableContext = "知识库检索暂时不可用。"

// Searcher is the slice of the knowledge store the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.SearchResult, error)
}

// Source identifies where a retrieval result came from.
type Source struct {
	Name   string
	City   string
	Rating float64
	Tags   []string
}

// Result is one formatted retrieval hit.
type Result struct {
	Content    string
	Source     Source
	Similarity float64
}

// Context is the retrieval outcome for one query, consumed as an
// additional system-level instruction by the orchestrator. It lives only
// for the duration of the request.
type Context struct {
	Query            string
	HasResults       bool
	Results          []Result
	FormattedContext string
}

// Options configures one retrieval.
type Options struct {
	TopK      int
	Threshold float64
	City      string
}

// Retriever turns similarity-search hits into a prompt-ready context block.
type Retriever struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewRetriever creates a Retriever over the given searcher.
func NewRetriever(searcher Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{searcher: searcher, logger: logger}
}

// Retrieve runs a thresholded top-K similarity search and formats the hits.
//
// Retrieval is best-effort enrichment, never a hard dependency: any search
// failure degrades to HasResults=false with a placeholder context instead
// of failing the turn.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) *Context {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	searchOpts := []knowledge.SearchOption{
		knowledge.WithTopK(topK),
		knowledge.WithThreshold(threshold),
	}
	if opts.City != "" {
		searchOpts = append(searchOpts, knowledge.WithCity(opts.City))
	}

	hits, err := r.searcher.Search(ctx, query, searchOpts...)
	if err != nil {
		r.logger.Warn("knowledge retrieval failed (continuing without context)",
			"error", err,
			"query_length", len(query))
		return &Context{
			Query:            query,
			HasResults:       false,
			FormattedContext: unavailableContext,
		}
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{
			Content: hit.Content,
			Source: Source{
				Name:   hit.Metadata.Name,
				City:   hit.Metadata.City,
				Rating: hit.Metadata.Rating,
				Tags:   hit.Metadata.Tags,
			},
			Similarity: hit.Similarity,
		}
	}

	rc := &Context{
		Query:            query,
		HasResults:       len(results) > 0,
		Results:          results,
		FormattedContext: formatResultsAsContext(hits),
	}

	r.logger.Debug("knowledge retrieval completed",
		"query_length", len(query),
		"results", len(results))

	return rc
}

// formatResultsAsContext renders hits as a markdown context block, each
// annotated with a relevance percentage and the source rating.
func formatResultsAsContext(hits []knowledge.SearchResult) string {
	if len(hits) == 0 {
		return noResultsContext
	}

	blocks := make([]string, len(hits))
	for i, hit := range hits {
		relevance := int(hit.Similarity*100 + 0.5)

		content := hit.Content
		if runes := []rune(content); len(runes) > MaxContentLength {
			content = string(runes[:MaxContentLength]) + "..."
		}

		rating := "暂无"
		if hit.Metadata.Rating > 0 {
			rating = strconv.FormatFloat(hit.Metadata.Rating, 'f', -1, 64)
		}

		blocks[i] = fmt.Sprintf("### 参考 %d：%s（%s）\n> 相关度：%d%% | 评分：%s分\n\n%s",
			i+1, hit.Metadata.Name, hit.Metadata.City, relevance, rating, content)
	}

	return strings.Join(blocks, "\n\n---\n\n")
}
