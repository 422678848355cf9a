// Package embedding turns text into vectors through a remote API, a local ONNX
// model or a deterministic mock, with an LRU cache in front.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyEmbedding is returned when a backend answers without a vector.
var ErrEmptyEmbedding = errors.New("embedder returned an empty vector")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector length, or 0 while it is still unknown.
	Dimensions() int
	Close() error
}

const dimensionProbe = "dimension probe"

// DiscoverDimensions embeds a probe string once and returns the vector length.
func DiscoverDimensions(ctx context.Context, e Embedder) (int, error) {
	vec, err := e.Embed(ctx, dimensionProbe)
	if err != nil {
		return 0, fmt.Errorf("failed to embed dimension probe: %w", err)
	}
	if len(vec) == 0 {
		return 0, ErrEmptyEmbedding
	}
	return len(vec), nil
}
