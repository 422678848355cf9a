// Package search answers queries from the vector store.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/llm"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/vector"
)

// Answers used when no generated answer is possible.
const (
	AnswerNoDocuments = "No documents have been indexed yet. Please index some documents first."
	answerNoResults   = "No relevant documents were found for your query %q. Try a different wording or make sure relevant documents have been indexed."
	answerDisabled    = "Answer generation is disabled."
	answerFailed      = "An error occurred while generating an answer for %q."
)

// Engine runs semantic search and optional answer generation. It holds no locks;
// searches run concurrently with indexing.
type Engine struct {
	store     *vector.Adapter
	embedder  embedding.Embedder
	generator llm.Generator
	config    *config.SearchConfig
	logger    *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithGenerator enables answer generation.
func WithGenerator(g llm.Generator) EngineOption {
	return func(e *Engine) { e.generator = g }
}

// NewEngine creates a search engine.
func NewEngine(store *vector.Adapter, embedder embedding.Embedder, cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns up to topK chunks closest to query, best first. An empty store
// yields no results without embedding the query. Store failures also yield no
// results; embedding failures are returned.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]*models.ScoredChunk, error) {
	if e.store.Count(ctx) == 0 {
		return []*models.ScoredChunk{}, nil
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vec) != e.store.Dimensions() {
		return nil, fmt.Errorf("%w: query vector has %d, collection expects %d",
			vector.ErrDimensionMismatch, len(vec), e.store.Dimensions())
	}
	hits := e.store.Search(ctx, vec, topK)
	out := make([]*models.ScoredChunk, len(hits))
	for i, h := range hits {
		out[i] = models.NewScoredChunk(h)
	}
	return out, nil
}

// Answer validates q, searches and asks the generator for an answer grounded in
// the hits. When generation is disabled or fails the answer lists the hits.
func (e *Engine) Answer(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{Query: q.Query, Results: []*models.ScoredChunk{}}
	finish := func() *models.SearchResponse {
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp
	}

	if len(e.store.ListDocumentIDs(ctx)) == 0 {
		resp.Answer = AnswerNoDocuments
		return finish(), nil
	}
	hits, err := e.Search(ctx, q.Query, q.TopK)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("search finished", zap.String("query", q.Query), zap.Int("hits", len(hits)))
	if len(hits) == 0 {
		resp.Answer = fmt.Sprintf(answerNoResults, q.Query)
		return finish(), nil
	}
	resp.Results = hits

	if e.generator == nil {
		resp.Answer = llm.FallbackAnswer(q.Query, hits, answerDisabled)
		return finish(), nil
	}
	answer, err := e.generator.Generate(ctx, q.Query, llm.BuildContext(hits))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		e.logger.Warn("answer generation failed, returning raw hits", zap.Error(err))
		answer = llm.FallbackAnswer(q.Query, hits, fmt.Sprintf(answerFailed, q.Query))
	}
	resp.Answer = answer
	return finish(), nil
}
