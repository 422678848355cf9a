// Package indexer turns documents into chunked, embedded points in the vector store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/pointid"
	"github.com/hyperjump/docrag/internal/vector"
)

var (
	// ErrEmptyContent is returned for documents without text.
	ErrEmptyContent = errors.New("document has no content")
	// ErrNoChunks is returned when chunking produced nothing to index.
	ErrNoChunks = errors.New("document produced no chunks")
	// ErrNothingPersisted is returned when not a single point could be stored.
	ErrNothingPersisted = errors.New("no point of the document was stored")
	// ErrContentTooShort is returned by IndexPath for documents below the minimum length.
	ErrContentTooShort = errors.New("document content is too short")
)

// Downloader fetches a document's text by path.
type Downloader interface {
	DownloadFile(ctx context.Context, path string) (string, error)
}

// Indexer indexes and deletes documents. Work on the same document is serialized;
// different documents proceed in parallel.
type Indexer struct {
	store            *vector.Adapter
	embedder         embedding.Embedder
	chunker          *Chunker
	downloader       Downloader
	minContentLength int
	verify           bool
	locks            *keyedLock
	logger           *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithDownloader enables IndexPath.
func WithDownloader(d Downloader) IndexerOption {
	return func(idx *Indexer) { idx.downloader = d }
}

// WithVerify makes IndexDocument check that the document is listed after upserting.
func WithVerify(v bool) IndexerOption {
	return func(idx *Indexer) { idx.verify = v }
}

// NewIndexer creates an indexer writing to store.
func NewIndexer(store *vector.Adapter, embedder embedding.Embedder, cfg *config.IndexingConfig, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:            store,
		embedder:         embedder,
		chunker:          NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		minContentLength: cfg.MinContentLength,
		locks:            newKeyedLock(),
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexDocument replaces all points of doc with freshly chunked and embedded ones.
// The previous points are deleted first; if that fails nothing else happens.
// Points that could not be embedded or stored are listed in the result; the call
// only fails when none were stored.
func (idx *Indexer) IndexDocument(ctx context.Context, doc *models.Document) (*models.IndexResult, error) {
	if Preprocess(doc.Content) == "" {
		return nil, ErrEmptyContent
	}

	unlock, err := idx.locks.Lock(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := idx.logger.With(zap.String("document_id", doc.ID))
	removed, err := idx.store.DeleteDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove previous points: %w", err)
	}
	if removed > 0 {
		log.Debug("previous points removed", zap.Int("points", removed))
	}

	chunks := idx.chunker.ChunkDocument(doc.ID, doc.Content)
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	res := &models.IndexResult{DocumentID: doc.ID, Chunks: len(chunks)}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	name := doc.Name
	if name == "" {
		name = pointid.DocumentName(doc.ID)
	}
	docPath := doc.Path
	if docPath == "" {
		docPath = pointid.DocumentPath(doc.ID)
	}
	dims := idx.store.Dimensions()
	points := make([]*models.IndexedPoint, 0, len(chunks))
	for i, ch := range chunks {
		id := pointid.PointID(doc.ID, ch.Index)
		if i >= len(vectors) || len(vectors[i]) != dims {
			log.Warn("skipping chunk with unusable embedding",
				zap.Int("chunk_index", ch.Index), zap.Int("expected_dimensions", dims))
			res.Skipped++
			res.Failed = append(res.Failed, id)
			continue
		}
		points = append(points, &models.IndexedPoint{
			ID:     id,
			Vector: vectors[i],
			Payload: models.Payload{
				DocumentID:   doc.ID,
				DocumentPath: docPath,
				DocumentName: name,
				ChunkIndex:   ch.Index,
				Text:         ch.Text,
			},
		})
	}
	if len(points) == 0 {
		return res, ErrNothingPersisted
	}

	up, err := idx.store.UpsertPoints(ctx, points)
	if up != nil {
		res.Persisted = up.Persisted
		res.Failed = append(res.Failed, up.Failed...)
	}
	if res.Persisted == 0 {
		if err == nil {
			return res, ErrNothingPersisted
		}
		return res, fmt.Errorf("%w: %w", ErrNothingPersisted, err)
	}
	if err != nil {
		log.Warn("document partially indexed", zap.Int("persisted", res.Persisted),
			zap.Int("failed", len(res.Failed)), zap.Error(err))
	}

	if idx.verify && !slices.Contains(idx.store.ListDocumentIDs(ctx), doc.ID) {
		log.Warn("document missing from store after indexing")
	}
	log.Info("document indexed", zap.Int("chunks", res.Chunks), zap.Int("persisted", res.Persisted))
	return res, nil
}

// DeleteDocument removes every point of the document and returns how many were removed.
func (idx *Indexer) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	unlock, err := idx.locks.Lock(ctx, documentID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	n, err := idx.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return n, err
	}
	idx.logger.Info("document deleted", zap.String("document_id", documentID), zap.Int("points", n))
	return n, nil
}

// IndexPath downloads the document at path and indexes it under the identity
// derived from the path.
func (idx *Indexer) IndexPath(ctx context.Context, path string) (*models.IndexResult, error) {
	if idx.downloader == nil {
		return nil, errors.New("indexer has no document source")
	}
	text, err := idx.downloader.DownloadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}
	if len([]rune(strings.TrimSpace(text))) < idx.minContentLength {
		return nil, fmt.Errorf("%w: %s", ErrContentTooShort, path)
	}
	id := pointid.DocumentID(path)
	return idx.IndexDocument(ctx, &models.Document{
		ID:      id,
		Name:    pointid.DocumentName(id),
		Path:    pointid.DocumentPath(id),
		Type:    models.EntryTypeFile,
		Content: text,
	})
}
