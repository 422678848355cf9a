package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/pointid"
	"github.com/hyperjump/docrag/internal/resilience"
	"github.com/hyperjump/docrag/internal/vector"
)

func BenchmarkEngineSearch(b *testing.B) {
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(384)
	store := vector.NewAdapter(vector.NewMemoryBackend(), vector.CollectionSpec{Name: "docs", Dimensions: 384},
		vector.WithRetry(resilience.RetryConfig{}))
	if err := store.EnsureCollection(ctx); err != nil {
		b.Fatal(err)
	}
	points := make([]*models.IndexedPoint, 0, 1000)
	for i := range 1000 {
		text := fmt.Sprintf("Objekt %d mit %d Zimmern und Balkon", i, i%6+1)
		vec, err := emb.Embed(ctx, text)
		if err != nil {
			b.Fatal(err)
		}
		docID := fmt.Sprintf("objekte/%d.txt", i/10)
		points = append(points, &models.IndexedPoint{
			ID:     pointid.PointID(docID, i%10),
			Vector: vec,
			Payload: models.Payload{
				DocumentID:   docID,
				DocumentPath: pointid.DocumentPath(docID),
				DocumentName: pointid.DocumentName(docID),
				ChunkIndex:   i % 10,
				Text:         text,
			},
		})
	}
	if _, err := store.UpsertPoints(ctx, points); err != nil {
		b.Fatal(err)
	}
	engine := NewEngine(store, emb, &config.SearchConfig{DefaultTopK: 5, MaxTopK: 50})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = engine.Search(ctx, "drei Zimmer mit Balkon", 10)
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
