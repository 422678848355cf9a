package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/config"
)

// Provider names accepted in embedding.provider.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// New builds the configured embedder wrapped in a CachedEmbedder. A negative
// cache size disables caching.
func New(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		inner, err = NewOpenAIEmbedder(cfg, logger)
	case ProviderONNX:
		inner, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case ProviderMock:
		inner = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.Provider+":"+cfg.Model, cfg.CacheSize), nil
}
