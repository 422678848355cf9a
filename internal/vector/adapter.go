package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/resilience"
)

// UpsertResult reports which points were stored.
type UpsertResult struct {
	Persisted int
	Failed    []string
}

// Adapter is the index store used by indexing and search. Reads degrade to empty
// results when the store misbehaves; writes return errors. Every backend call runs
// with a timeout, transient errors are retried and repeated failures open a
// circuit breaker so later calls fail fast.
type Adapter struct {
	backend   Backend
	spec      CollectionSpec
	batchSize int
	pageSize  int
	timeout   time.Duration
	retry     resilience.RetryConfig
	breaker   *resilience.Breaker
	logger    *zap.Logger

	mu     sync.RWMutex
	finder pointFinder
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the logger for degraded reads, retries and partial failures.
func WithLogger(l *zap.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// WithBatchSize sets how many points go into one upsert or delete call.
func WithBatchSize(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithPageSize sets the scroll page size.
func WithPageSize(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// WithRequestTimeout bounds each backend call.
func WithRequestTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithRetry replaces the retry policy for transient errors.
func WithRetry(cfg resilience.RetryConfig) AdapterOption {
	return func(a *Adapter) { a.retry = cfg }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(b *resilience.Breaker) AdapterOption {
	return func(a *Adapter) { a.breaker = b }
}

// WithConfig applies the batching, timeout, retry and breaker settings of cfg.
func WithConfig(cfg *config.VectorConfig) AdapterOption {
	return func(a *Adapter) {
		WithBatchSize(cfg.BatchSize)(a)
		WithPageSize(cfg.PageSize)(a)
		WithRequestTimeout(cfg.RequestTimeout)(a)
		retry := resilience.DefaultRetryConfig()
		retry.MaxRetries = cfg.MaxRetries
		if cfg.RetryInitialDelay > 0 {
			retry.InitialDelay = cfg.RetryInitialDelay
		}
		a.retry = retry
		a.breaker = resilience.NewBreaker(
			resilience.WithMaxFailures(cfg.BreakerFailures),
			resilience.WithResetTimeout(cfg.BreakerReset),
		)
	}
}

// NewAdapter creates an adapter for the collection described by spec.
func NewAdapter(backend Backend, spec CollectionSpec, opts ...AdapterOption) *Adapter {
	if spec.Metric == "" {
		spec.Metric = MetricCosine
	}
	a := &Adapter{
		backend:   backend,
		spec:      spec,
		batchSize: 64,
		pageSize:  256,
		timeout:   30 * time.Second,
		retry:     resilience.DefaultRetryConfig(),
		breaker:   resilience.NewBreaker(),
		logger:    zap.NewNop(),
		finder:    filterFinder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collection returns the collection the adapter works on.
func (a *Adapter) Collection() CollectionSpec {
	return a.spec
}

// Dimensions returns the vector length of the collection.
func (a *Adapter) Dimensions() int {
	return a.spec.Dimensions
}

// EnsureCollection creates the collection if it does not exist. Losing a creation
// race to another process counts as success. An existing collection with a
// different dimensionality is an error. Afterwards the document lookup strategy
// is chosen by probing the store.
func (a *Adapter) EnsureCollection(ctx context.Context) error {
	info, err := a.describe(ctx)
	switch {
	case err == nil:
		if info.Dimensions != 0 && info.Dimensions != a.spec.Dimensions {
			return fmt.Errorf("collection %q has %d dimensions, embedder produces %d: %w",
				a.spec.Name, info.Dimensions, a.spec.Dimensions, ErrDimensionMismatch)
		}
		a.logger.Info("vector collection ready",
			zap.String("collection", a.spec.Name), zap.Int("points", info.Points))
	case errors.Is(err, ErrCollectionNotFound):
		err = a.call(ctx, "create", a.retry, func(ctx context.Context) error {
			return a.backend.CreateCollection(ctx, a.spec)
		})
		if err != nil && !errors.Is(err, ErrCollectionExists) {
			return fmt.Errorf("failed to create collection %q: %w", a.spec.Name, err)
		}
		a.logger.Info("vector collection created",
			zap.String("collection", a.spec.Name), zap.Int("dimensions", a.spec.Dimensions))
	default:
		return fmt.Errorf("failed to describe collection %q: %w", a.spec.Name, err)
	}

	f := a.probeFinder(ctx)
	a.setFinder(f)
	a.logger.Debug("vector document lookup strategy", zap.String("strategy", f.name()))
	return nil
}

// ListDocumentIDs returns the sorted distinct document IDs that have at least one point.
// A missing collection or a store failure yields an empty slice.
func (a *Adapter) ListDocumentIDs(ctx context.Context) []string {
	seen := make(map[string]struct{})
	err := a.scrollAll(ctx, "", func(p PointRecord) {
		if p.Payload.DocumentID != "" {
			seen[p.Payload.DocumentID] = struct{}{}
		}
	})
	if err != nil {
		if !errors.Is(err, ErrCollectionNotFound) {
			a.logger.Warn("listing indexed documents failed, returning empty set", zap.Error(err))
		}
		return []string{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeleteDocument removes every point of documentID and returns how many were removed.
// Deleting a document without points, or from a missing collection, is not an error.
func (a *Adapter) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, errors.New("document id is required")
	}
	ids, err := a.findPoints(ctx, documentID)
	if errors.Is(err, ErrCollectionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find points of %q: %w", documentID, err)
	}
	deleted := 0
	for _, batch := range batches(ids, a.batchSize) {
		err := a.call(ctx, "delete", a.retry, func(ctx context.Context) error {
			return a.backend.Delete(ctx, a.spec.Name, batch)
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete points of %q: %w", documentID, err)
		}
		deleted += len(batch)
	}
	if deleted > 0 {
		a.logger.Debug("vector points deleted", zap.String("document_id", documentID), zap.Int("points", deleted))
	}
	return deleted, nil
}

// UpsertPoints stores points in batches. A batch that fails after retries is
// retried once point by point; points stored before a failure stay stored.
// When some points could not be stored the result lists them and the error
// wraps ErrPartialUpsert.
func (a *Adapter) UpsertPoints(ctx context.Context, points []*models.IndexedPoint) (*UpsertResult, error) {
	res := &UpsertResult{}
	var lastErr error
	valid := make([]*models.IndexedPoint, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != a.spec.Dimensions {
			res.Failed = append(res.Failed, p.ID)
			lastErr = fmt.Errorf("%w: point %s has %d, expected %d", ErrDimensionMismatch, p.ID, len(p.Vector), a.spec.Dimensions)
			continue
		}
		valid = append(valid, p)
	}

	all := batches(valid, a.batchSize)
	for i, batch := range all {
		err := a.call(ctx, "upsert", a.retry, func(ctx context.Context) error {
			return a.backend.Upsert(ctx, a.spec.Name, batch)
		})
		if err == nil {
			res.Persisted += len(batch)
			continue
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrStoreUnavailable) {
			for _, rest := range all[i:] {
				res.Failed = append(res.Failed, pointIDs(rest)...)
			}
			break
		}
		a.logger.Warn("vector batch upsert failed, retrying points individually",
			zap.Int("points", len(batch)), zap.Error(err))
		for _, p := range batch {
			err := a.call(ctx, "upsert-point", resilience.RetryConfig{}, func(ctx context.Context) error {
				return a.backend.Upsert(ctx, a.spec.Name, []*models.IndexedPoint{p})
			})
			if err != nil {
				res.Failed = append(res.Failed, p.ID)
				lastErr = err
				continue
			}
			res.Persisted++
		}
	}

	if len(res.Failed) > 0 {
		return res, fmt.Errorf("%w: %d of %d failed: %w", ErrPartialUpsert, len(res.Failed), len(points), lastErr)
	}
	return res, nil
}

// Search returns up to topK points nearest to vector, best first. Points with
// equal scores keep the order the store returned them in. Failures yield an
// empty slice.
func (a *Adapter) Search(ctx context.Context, vector []float32, topK int) []*models.ScoredPoint {
	if topK <= 0 || len(vector) == 0 {
		return []*models.ScoredPoint{}
	}
	if len(vector) != a.spec.Dimensions {
		a.logger.Warn("search vector has wrong dimensions",
			zap.Int("got", len(vector)), zap.Int("want", a.spec.Dimensions))
		return []*models.ScoredPoint{}
	}
	var hits []*models.ScoredPoint
	err := a.call(ctx, "query", a.retry, func(ctx context.Context) error {
		var err error
		hits, err = a.backend.Query(ctx, a.spec.Name, vector, topK)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrCollectionNotFound) {
			a.logger.Warn("vector search failed, returning no results", zap.Error(err))
		}
		return []*models.ScoredPoint{}
	}
	sortByScore(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	if hits == nil {
		hits = []*models.ScoredPoint{}
	}
	return hits
}

// Count returns the number of points in the collection, or 0 when it cannot be determined.
func (a *Adapter) Count(ctx context.Context) int {
	info, err := a.describe(ctx)
	if err != nil {
		if !errors.Is(err, ErrCollectionNotFound) {
			a.logger.Warn("counting vector points failed", zap.Error(err))
		}
		return 0
	}
	return info.Points
}

// Healthy returns nil when the collection can be described.
func (a *Adapter) Healthy(ctx context.Context) error {
	_, err := a.describe(ctx)
	return err
}

// BreakerState exposes the circuit breaker state for status reporting.
func (a *Adapter) BreakerState() resilience.State {
	return a.breaker.State()
}

// Close closes the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}

func (a *Adapter) describe(ctx context.Context) (*CollectionInfo, error) {
	var info *CollectionInfo
	err := a.call(ctx, "describe", a.retry, func(ctx context.Context) error {
		var err error
		info, err = a.backend.DescribeCollection(ctx, a.spec.Name)
		return err
	})
	return info, err
}

// scrollAll visits every point page by page. documentID restricts the scan when set.
func (a *Adapter) scrollAll(ctx context.Context, documentID string, visit func(PointRecord)) error {
	offset := ""
	for {
		var page *ScrollPage
		err := a.call(ctx, "scroll", a.retry, func(ctx context.Context) error {
			var err error
			page, err = a.backend.Scroll(ctx, a.spec.Name, ScrollRequest{
				Limit:      a.pageSize,
				Offset:     offset,
				DocumentID: documentID,
			})
			return err
		})
		if err != nil {
			return err
		}
		for _, p := range page.Points {
			visit(p)
		}
		if page.NextOffset == "" || page.NextOffset == offset {
			return nil
		}
		offset = page.NextOffset
	}
}

// call runs fn with the request timeout through the breaker, retrying transient errors.
func (a *Adapter) call(ctx context.Context, op string, retry resilience.RetryConfig, fn func(ctx context.Context) error) error {
	retry.OnRetry = func(attempt int, err error) {
		a.logger.Warn("vector store call failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return resilience.Retry(ctx, retry, func(ctx context.Context) error {
		err := a.breaker.Do(func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			return markPermanent(fn(callCtx))
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return resilience.Permanent(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}
		return err
	})
}

// markPermanent flags backend sentinels that a retry cannot change.
func markPermanent(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCollectionNotFound),
		errors.Is(err, ErrCollectionExists),
		errors.Is(err, ErrFilterUnsupported),
		errors.Is(err, ErrDimensionMismatch):
		return resilience.Permanent(err)
	}
	return err
}

func (a *Adapter) currentFinder() pointFinder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.finder
}

func (a *Adapter) setFinder(f pointFinder) {
	a.mu.Lock()
	a.finder = f
	a.mu.Unlock()
}

func batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

func pointIDs(points []*models.IndexedPoint) []string {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	return ids
}
