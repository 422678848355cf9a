package vector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/docrag/internal/models"
)

const testCollection = "test_docs"

func testPoint(id, docID string, idx int, vec ...float32) *models.IndexedPoint {
	return &models.IndexedPoint{
		ID:     id,
		Vector: vec,
		Payload: models.Payload{
			DocumentID:   docID,
			DocumentPath: "/" + docID,
			DocumentName: docID,
			ChunkIndex:   idx,
			Text:         docID + " chunk",
		},
	}
}

// runBackendContract checks the behaviour every Backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("collection lifecycle", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.DescribeCollection(ctx, testCollection)
		assert.ErrorIs(t, err, ErrCollectionNotFound)

		spec := CollectionSpec{Name: testCollection, Dimensions: 3, Metric: MetricCosine}
		require.NoError(t, b.CreateCollection(ctx, spec))
		assert.ErrorIs(t, b.CreateCollection(ctx, spec), ErrCollectionExists)

		info, err := b.DescribeCollection(ctx, testCollection)
		require.NoError(t, err)
		assert.Equal(t, 3, info.Dimensions)
		assert.Zero(t, info.Points)
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.CreateCollection(ctx, CollectionSpec{Name: testCollection, Dimensions: 2}))
		require.NoError(t, b.Upsert(ctx, testCollection, []*models.IndexedPoint{
			testPoint("p1", "a.txt", 0, 1, 0),
			testPoint("p2", "a.txt", 1, 0, 1),
		}))
		updated := testPoint("p1", "a.txt", 0, 0, 1)
		updated.Payload.Text = "new text"
		require.NoError(t, b.Upsert(ctx, testCollection, []*models.IndexedPoint{updated}))

		info, err := b.DescribeCollection(ctx, testCollection)
		require.NoError(t, err)
		assert.Equal(t, 2, info.Points)

		page, err := b.Scroll(ctx, testCollection, ScrollRequest{Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Points, 2)
		assert.Equal(t, "new text", page.Points[0].Payload.Text)
	})

	t.Run("upsert rejects wrong dimensions", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.CreateCollection(ctx, CollectionSpec{Name: testCollection, Dimensions: 2}))
		err := b.Upsert(ctx, testCollection, []*models.IndexedPoint{testPoint("p1", "a.txt", 0, 1, 0, 0)})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("scroll pages in id order", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.CreateCollection(ctx, CollectionSpec{Name: testCollection, Dimensions: 2}))
		require.NoError(t, b.Upsert(ctx, testCollection, []*models.IndexedPoint{
			testPoint("p3", "b.txt", 0, 1, 1),
			testPoint("p1", "a.txt", 0, 1, 0),
			testPoint("p2", "a.txt", 1, 0, 1),
		}))

		page, err := b.Scroll(ctx, testCollection, ScrollRequest{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, recordIDs(page.Points))
		assert.Equal(t, "p3", page.NextOffset)

		page, err = b.Scroll(ctx, testCollection, ScrollRequest{Limit: 2, Offset: page.NextOffset})
		require.NoError(t, err)
		assert.Equal(t, []string{"p3"}, recordIDs(page.Points))
		assert.Empty(t, page.NextOffset)
	})

	t.Run("scroll missing collection", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Scroll(ctx, "nope", ScrollRequest{Limit: 1})
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})

	t.Run("delete and query", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.CreateCollection(ctx, CollectionSpec{Name: testCollection, Dimensions: 2}))
		require.NoError(t, b.Upsert(ctx, testCollection, []*models.IndexedPoint{
			testPoint("p1", "a.txt", 0, 1, 0),
			testPoint("p2", "b.txt", 0, 0, 1),
			testPoint("p3", "c.txt", 0, 0.7, 0.7),
		}))

		hits, err := b.Query(ctx, testCollection, []float32{1, 0}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "p1", hits[0].ID)
		assert.Equal(t, "p3", hits[1].ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.Equal(t, "a.txt", hits[0].Payload.DocumentID)

		require.NoError(t, b.Delete(ctx, testCollection, []string{"p1", "missing"}))
		hits, err = b.Query(ctx, testCollection, []float32{1, 0}, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"p3", "p2"}, scoredIDs(hits))
	})

	t.Run("query wrong dimensions", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.CreateCollection(ctx, CollectionSpec{Name: testCollection, Dimensions: 2}))
		_, err := b.Query(ctx, testCollection, []float32{1, 0, 0}, 1)
		assert.True(t, errors.Is(err, ErrDimensionMismatch))
	})
}

func TestMemoryBackend(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend { return NewMemoryBackend() })
}

func TestSQLiteBackend(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "vectors.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestBackends_ScrollFilter(t *testing.T) {
	ctx := context.Background()
	sqliteBackend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer sqliteBackend.Close()

	for name, b := range map[string]Backend{"memory": NewMemoryBackend(), "sqlite": sqliteBackend} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.CreateCollection(ctx, CollectionSpec{Name: testCollection, Dimensions: 2}))
			require.NoError(t, b.Upsert(ctx, testCollection, []*models.IndexedPoint{
				testPoint("p1", "a.txt", 0, 1, 0),
				testPoint("p2", "b.txt", 0, 0, 1),
				testPoint("p3", "a.txt", 1, 1, 1),
			}))
			page, err := b.Scroll(ctx, testCollection, ScrollRequest{Limit: 1, DocumentID: "a.txt"})
			require.NoError(t, err)
			assert.Equal(t, []string{"p1"}, recordIDs(page.Points))
			assert.Equal(t, "p3", page.NextOffset)
		})
	}
}

func TestSQLiteBackend_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "vectors.db")
	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, b.CreateCollection(ctx, CollectionSpec{Name: testCollection, Dimensions: 2}))
	require.NoError(t, b.Upsert(ctx, testCollection, []*models.IndexedPoint{testPoint("p1", "a.txt", 0, 0.5, 0.25)}))
	require.NoError(t, b.Close())

	reopened, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer reopened.Close()
	hits, err := reopened.Query(ctx, testCollection, []float32{0.5, 0.25}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.txt", hits[0].Payload.DocumentID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestMemoryBackend_WithoutPayloadFilter(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(WithoutPayloadFilter())
	require.NoError(t, b.CreateCollection(ctx, CollectionSpec{Name: testCollection, Dimensions: 2}))
	_, err := b.Scroll(ctx, testCollection, ScrollRequest{Limit: 1, DocumentID: "a.txt"})
	assert.ErrorIs(t, err, ErrFilterUnsupported)
	_, err = b.Scroll(ctx, testCollection, ScrollRequest{Limit: 1})
	assert.NoError(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 0}))
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
}

func recordIDs(points []PointRecord) []string {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	return ids
}

func scoredIDs(hits []*models.ScoredPoint) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}
