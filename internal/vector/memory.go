package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/docrag/internal/models"
)

// MemoryBackend is an in-process Backend using brute-force cosine search.
// Suitable for tests and small datasets.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	filterable  bool
}

type memoryCollection struct {
	spec   CollectionSpec
	points map[string]*models.IndexedPoint
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithoutPayloadFilter makes Scroll reject document filters, like stores that
// cannot filter on payload fields.
func WithoutPayloadFilter() MemoryOption {
	return func(m *MemoryBackend) { m.filterable = false }
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		collections: make(map[string]*memoryCollection),
		filterable:  true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DescribeCollection implements Backend.
func (m *MemoryBackend) DescribeCollection(ctx context.Context, name string) (*CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return &CollectionInfo{Name: name, Dimensions: c.spec.Dimensions, Points: len(c.points)}, nil
}

// CreateCollection implements Backend.
func (m *MemoryBackend) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	if spec.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrCollectionExists, spec.Name)
	}
	m.collections[spec.Name] = &memoryCollection{spec: spec, points: make(map[string]*models.IndexedPoint)}
	return nil
}

// Upsert implements Backend. The whole batch is rejected if any vector has the wrong length.
func (m *MemoryBackend) Upsert(ctx context.Context, collection string, points []*models.IndexedPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != c.spec.Dimensions {
			return fmt.Errorf("%w: point %s has %d, expected %d", ErrDimensionMismatch, p.ID, len(p.Vector), c.spec.Dimensions)
		}
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		c.points[p.ID] = &models.IndexedPoint{ID: p.ID, Vector: vec, Payload: p.Payload}
	}
	return nil
}

// Scroll implements Backend. Points are ordered by ID.
func (m *MemoryBackend) Scroll(ctx context.Context, collection string, req ScrollRequest) (*ScrollPage, error) {
	if req.DocumentID != "" && !m.filterable {
		return nil, ErrFilterUnsupported
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = len(c.points)
	}
	page := &ScrollPage{}
	for _, id := range c.sortedIDs() {
		if id < req.Offset {
			continue
		}
		p := c.points[id]
		if req.DocumentID != "" && p.Payload.DocumentID != req.DocumentID {
			continue
		}
		if len(page.Points) == limit {
			page.NextOffset = id
			break
		}
		page.Points = append(page.Points, PointRecord{ID: id, Payload: p.Payload})
	}
	return page, nil
}

// Delete implements Backend. Unknown IDs are ignored.
func (m *MemoryBackend) Delete(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

// Query implements Backend.
func (m *MemoryBackend) Query(ctx context.Context, collection string, vector []float32, limit int) ([]*models.ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.spec.Dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(vector), c.spec.Dimensions)
	}
	if limit <= 0 || len(c.points) == 0 {
		return nil, nil
	}
	hits := make([]*models.ScoredPoint, 0, len(c.points))
	for _, id := range c.sortedIDs() {
		p := c.points[id]
		hits = append(hits, &models.ScoredPoint{ID: id, Payload: p.Payload, Score: Cosine(vector, p.Vector)})
	}
	sortByScore(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Close is a no-op for MemoryBackend.
func (m *MemoryBackend) Close() error {
	return nil
}

func (m *MemoryBackend) collection(name string) (*memoryCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (c *memoryCollection) sortedIDs() []string {
	ids := make([]string, 0, len(c.points))
	for id := range c.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
