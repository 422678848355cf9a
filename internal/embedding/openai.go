package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/resilience"
	"github.com/hyperjump/docrag/pkg/utils"
)

// maxInputsPerRequest bounds how many texts go into one embeddings request.
const maxInputsPerRequest = 64

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. Requests are
// rate limited, bounded in concurrency and retried on 429 and 5xx answers.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	dims    int
	timeout time.Duration
	limiter *rate.Limiter
	workers int
	retry   resilience.RetryConfig
	logger  *zap.Logger

	mu       sync.RWMutex
	observed int
}

// NewOpenAIEmbedder builds an embedder from cfg. APIKey may be empty for local
// OpenAI-compatible servers.
func NewOpenAIEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	workers := cfg.MaxConcurrent
	if workers <= 0 {
		workers = 1
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = func(attempt int, err error) {
		logger.Warn("Retrying embedding request", zap.Int("attempt", attempt), zap.Error(err))
	}
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		timeout: cfg.RequestTimeout,
		limiter: rate.NewLimiter(limit, burst),
		workers: workers,
		retry:   retry,
		logger:  logger,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into requests of at most maxInputsPerRequest inputs and
// runs them concurrently. Output order matches input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for start := 0; start < len(texts); start += maxInputsPerRequest {
		end := min(start+maxInputsPerRequest, len(texts))
		g.Go(func() error {
			vecs, err := e.embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return resilience.RetryValue(ctx, e.retry, func(ctx context.Context) ([][]float32, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, resilience.Permanent(err)
		}
		if e.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		req := openai.EmbeddingRequest{
			Input: inputs,
			Model: openai.EmbeddingModel(e.model),
		}
		if e.dims > 0 {
			req.Dimensions = e.dims
		}
		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, classifyOpenAI(err)
		}
		return e.collect(resp, len(inputs))
	})
}

func (e *OpenAIEmbedder) collect(resp openai.EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, resilience.Permanent(fmt.Errorf("embedding response has %d vectors, expected %d", len(resp.Data), want))
	}
	out := make([][]float32, want)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= want || out[d.Index] != nil {
			return nil, resilience.Permanent(fmt.Errorf("embedding response has invalid index %d", d.Index))
		}
		if len(d.Embedding) == 0 {
			return nil, resilience.Permanent(ErrEmptyEmbedding)
		}
		vec := d.Embedding
		utils.NormalizeL2(vec)
		out[d.Index] = vec
	}
	e.mu.Lock()
	e.observed = len(out[0])
	e.mu.Unlock()
	return out, nil
}

// Dimensions returns the configured size, or the size of the last vector seen.
func (e *OpenAIEmbedder) Dimensions() int {
	if e.dims > 0 {
		return e.dims
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.observed
}

func (e *OpenAIEmbedder) Close() error { return nil }

// classifyOpenAI marks client errors other than 408 and 429 as permanent.
func classifyOpenAI(err error) error {
	if errors.Is(err, context.Canceled) {
		return resilience.Permanent(err)
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return resilience.Permanent(err)
	}
	return err
}
