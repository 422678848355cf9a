// Package vector stores embedded chunks in a vector collection and searches them.
//
// A Backend speaks to one concrete store (Qdrant, SQLite, memory) with a small,
// quirk-free contract. The Adapter layers timeouts, retries, a circuit breaker,
// batching and the degraded-read policy on top of any Backend.
package vector

import (
	"context"
	"errors"

	"github.com/hyperjump/docrag/internal/models"
)

var (
	// ErrCollectionNotFound is returned by a Backend when the collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrCollectionExists is returned by CreateCollection when the collection is already there.
	ErrCollectionExists = errors.New("collection already exists")
	// ErrFilterUnsupported is returned by Scroll when the store cannot filter on payload fields.
	ErrFilterUnsupported = errors.New("payload filter not supported")
	// ErrDimensionMismatch is returned for vectors whose length differs from the collection's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrStoreUnavailable is returned by writes while the circuit breaker is open.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrPartialUpsert is returned by UpsertPoints when some points were not stored.
	ErrPartialUpsert = errors.New("not all points were stored")
)

// Metric is the distance function of a collection.
type Metric string

// MetricCosine ranks by cosine similarity, higher is closer.
const MetricCosine Metric = "cosine"

// CollectionSpec identifies a collection and its vector geometry.
type CollectionSpec struct {
	Name       string
	Dimensions int
	Metric     Metric
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name       string
	Dimensions int
	Points     int
}

// PointRecord is a stored point without its vector.
type PointRecord struct {
	ID      string
	Payload models.Payload
}

// ScrollRequest asks for one page of points ordered by point ID.
type ScrollRequest struct {
	Limit int
	// Offset is the first point ID of the page; empty starts at the beginning.
	Offset string
	// DocumentID restricts the page to one document when set.
	DocumentID string
}

// ScrollPage is one page of a scroll. NextOffset is empty on the last page.
type ScrollPage struct {
	Points     []PointRecord
	NextOffset string
}

// Backend is a concrete vector store.
type Backend interface {
	DescribeCollection(ctx context.Context, name string) (*CollectionInfo, error)
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	Upsert(ctx context.Context, collection string, points []*models.IndexedPoint) error
	Scroll(ctx context.Context, collection string, req ScrollRequest) (*ScrollPage, error)
	Delete(ctx context.Context, collection string, ids []string) error
	Query(ctx context.Context, collection string, vector []float32, limit int) ([]*models.ScoredPoint, error)
	Close() error
}
