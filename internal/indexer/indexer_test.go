package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/pointid"
	"github.com/hyperjump/docrag/internal/resilience"
	"github.com/hyperjump/docrag/internal/vector"
)

const testDims = 8

// scrollFailing fails every scroll, which makes deleting a document impossible.
type scrollFailing struct {
	*vector.MemoryBackend
	upserts atomic.Int32
}

func (s *scrollFailing) Scroll(context.Context, string, vector.ScrollRequest) (*vector.ScrollPage, error) {
	return nil, errors.New("scroll broken")
}

func (s *scrollFailing) Upsert(ctx context.Context, c string, points []*models.IndexedPoint) error {
	s.upserts.Add(1)
	return s.MemoryBackend.Upsert(ctx, c, points)
}

type fakeDownloader map[string]string

func (f fakeDownloader) DownloadFile(_ context.Context, path string) (string, error) {
	text, ok := f[path]
	if !ok {
		return "", fmt.Errorf("%s: not found", path)
	}
	return text, nil
}

func testAdapter(t *testing.T, backend vector.Backend) *vector.Adapter {
	t.Helper()
	a := vector.NewAdapter(backend, vector.CollectionSpec{Name: "docs", Dimensions: testDims},
		vector.WithRetry(resilience.RetryConfig{}))
	if err := a.EnsureCollection(context.Background()); err != nil {
		t.Fatal(err)
	}
	return a
}

func testIndexer(t *testing.T, store *vector.Adapter, embedder embedding.Embedder, opts ...IndexerOption) *Indexer {
	t.Helper()
	cfg := &config.IndexingConfig{ChunkSize: 10, ChunkOverlap: 1, MinContentLength: 10}
	return NewIndexer(store, embedder, cfg, opts...)
}

func longText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Die Wohnung Nummer %d hat zwei Zimmer und einen Balkon. ", i)
	}
	return b.String()
}

func TestIndexDocument(t *testing.T) {
	ctx := context.Background()
	store := testAdapter(t, vector.NewMemoryBackend())
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims), WithVerify(true))

	res, err := idx.IndexDocument(ctx, &models.Document{ID: "a/expose.txt", Content: longText(6)})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success() || res.Chunks < 2 || res.Persisted != res.Chunks {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := store.Count(ctx); got != res.Chunks {
		t.Errorf("Count = %d, want %d", got, res.Chunks)
	}
	ids := store.ListDocumentIDs(ctx)
	if len(ids) != 1 || ids[0] != "a/expose.txt" {
		t.Errorf("ListDocumentIDs = %v", ids)
	}

	vec, _ := embedding.NewMockEmbedder(testDims).Embed(ctx, "Wohnung Nummer 0")
	hits := store.Search(ctx, vec, 1)
	if len(hits) != 1 {
		t.Fatalf("expected one hit, got %d", len(hits))
	}
	if hits[0].Payload.DocumentName != "expose.txt" || hits[0].Payload.DocumentPath != "/a/expose.txt" {
		t.Errorf("payload defaults not derived from id: %+v", hits[0].Payload)
	}
}

func TestIndexDocument_ReplacesPreviousPoints(t *testing.T) {
	ctx := context.Background()
	store := testAdapter(t, vector.NewMemoryBackend())
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims))
	doc := &models.Document{ID: "b.txt", Content: longText(10)}
	first, err := idx.IndexDocument(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	doc.Content = "Nur noch ein kurzer Satz."
	second, err := idx.IndexDocument(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if first.Chunks <= second.Chunks {
		t.Fatalf("test needs a shorter second version: %d vs %d", first.Chunks, second.Chunks)
	}
	if got := store.Count(ctx); got != second.Chunks {
		t.Errorf("Count = %d, want %d after reindex", got, second.Chunks)
	}
}

func TestIndexDocument_EmptyContent(t *testing.T) {
	store := testAdapter(t, vector.NewMemoryBackend())
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims))
	_, err := idx.IndexDocument(context.Background(), &models.Document{ID: "e.txt", Content: " \n\t "})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}

func TestIndexDocument_WrongDimensionsPersistNothing(t *testing.T) {
	store := testAdapter(t, vector.NewMemoryBackend())
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims+1))
	res, err := idx.IndexDocument(context.Background(), &models.Document{ID: "w.txt", Content: longText(3)})
	if !errors.Is(err, ErrNothingPersisted) {
		t.Fatalf("expected ErrNothingPersisted, got %v", err)
	}
	if res.Skipped != res.Chunks || len(res.Failed) != res.Chunks {
		t.Errorf("every chunk should be skipped: %+v", res)
	}
}

func TestIndexDocument_DeleteFailureAborts(t *testing.T) {
	backend := &scrollFailing{MemoryBackend: vector.NewMemoryBackend()}
	store := testAdapter(t, backend)
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims))
	_, err := idx.IndexDocument(context.Background(), &models.Document{ID: "d.txt", Content: longText(2)})
	if err == nil {
		t.Fatal("expected error when previous points cannot be removed")
	}
	if n := backend.upserts.Load(); n != 0 {
		t.Errorf("no upsert should happen after a failed delete, got %d", n)
	}
}

func TestIndexDocument_CanceledWhileWaitingForLock(t *testing.T) {
	store := testAdapter(t, vector.NewMemoryBackend())
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims))
	unlock, err := idx.locks.Lock(context.Background(), "busy.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = idx.IndexDocument(ctx, &models.Document{ID: "busy.txt", Content: longText(1)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if store.Count(context.Background()) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestIndexDocument_ConcurrentDocuments(t *testing.T) {
	ctx := context.Background()
	store := testAdapter(t, vector.NewMemoryBackend())
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims))
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := idx.IndexDocument(ctx, &models.Document{ID: fmt.Sprintf("doc%d.txt", i), Content: longText(4)})
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := len(store.ListDocumentIDs(ctx)); got != 10 {
		t.Errorf("expected 10 documents, got %d", got)
	}
	one := idx.chunker.ChunkDocument("x", longText(4))
	if got := store.Count(ctx); got != 10*len(one) {
		t.Errorf("Count = %d, want %d", got, 10*len(one))
	}
	if idx.locks.size() != 0 {
		t.Error("locks should be released")
	}
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := testAdapter(t, vector.NewMemoryBackend())
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims))
	res, err := idx.IndexDocument(ctx, &models.Document{ID: "del.txt", Content: longText(5)})
	if err != nil {
		t.Fatal(err)
	}
	n, err := idx.DeleteDocument(ctx, "del.txt")
	if err != nil {
		t.Fatal(err)
	}
	if n != res.Persisted {
		t.Errorf("deleted %d, want %d", n, res.Persisted)
	}
	if store.Count(ctx) != 0 {
		t.Error("store should be empty")
	}
}

func TestIndexPath(t *testing.T) {
	ctx := context.Background()
	store := testAdapter(t, vector.NewMemoryBackend())
	docs := fakeDownloader{
		"/Objekte/Haus.txt": longText(3),
		"/kurz.txt":         "zu kurz",
	}
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims), WithDownloader(docs))

	res, err := idx.IndexPath(ctx, "/Objekte/Haus.txt")
	if err != nil {
		t.Fatal(err)
	}
	if res.DocumentID != pointid.DocumentID("/Objekte/Haus.txt") {
		t.Errorf("DocumentID = %q", res.DocumentID)
	}

	if _, err := idx.IndexPath(ctx, "/kurz.txt"); !errors.Is(err, ErrContentTooShort) {
		t.Errorf("expected ErrContentTooShort, got %v", err)
	}
	if _, err := idx.IndexPath(ctx, "/missing.txt"); err == nil {
		t.Error("expected download error")
	}
}

func TestIndexPath_NoDownloader(t *testing.T) {
	store := testAdapter(t, vector.NewMemoryBackend())
	idx := testIndexer(t, store, embedding.NewMockEmbedder(testDims))
	if _, err := idx.IndexPath(context.Background(), "/a.txt"); err == nil {
		t.Error("expected error without downloader")
	}
}

func TestKeyedLock(t *testing.T) {
	l := newKeyedLock()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	unlockB, err := l.Lock(context.Background(), "b")
	if err != nil {
		t.Fatal("different keys must not block each other")
	}
	unlockB()

	acquired := make(chan struct{})
	go func() {
		unlock, err := l.Lock(context.Background(), "a")
		if err == nil {
			close(acquired)
			unlock()
		}
	}()
	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired too early")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}
