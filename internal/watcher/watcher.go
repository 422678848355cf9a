// Package watcher keeps the index of a local document folder current with fsnotify.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/indexer"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/pointid"
	"github.com/hyperjump/docrag/internal/provider"
)

const defaultDebounce = 400 * time.Millisecond

// Indexer is the part of the indexer the watcher drives.
type Indexer interface {
	IndexPath(ctx context.Context, path string) (*models.IndexResult, error)
	DeleteDocument(ctx context.Context, documentID string) (int, error)
}

// Watcher indexes files below the root of a local provider when they are
// created or written and deletes their documents when they disappear.
type Watcher struct {
	local    *provider.Local
	target   Indexer
	allow    func(path string) bool
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must stay quiet before it is indexed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher for the root of local. allow filters file paths; nil allows all.
func New(local *provider.Local, target Indexer, allow func(path string) bool, opts ...Option) *Watcher {
	if allow == nil {
		allow = func(string) bool { return true }
	}
	w := &Watcher{
		local:    local,
		target:   target,
		allow:    allow,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It returns once all folders are registered; events are
// handled in the background until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addTree(fsw, w.local.Root()); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(w.ctx, fsw)
	w.logger.Info("watching documents", zap.String("root", w.local.Root()))
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(fsw, ev.Name)
			return
		}
		if info.Mode().IsRegular() && w.allow(ev.Name) {
			w.schedule(ev.Name)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelPending(ev.Name)
		if w.allow(ev.Name) {
			w.remove(ctx, ev.Name)
		}
	}
}

// handleNewDirectory watches a folder that appeared below the root and indexes
// the files that were moved or copied in with it.
func (w *Watcher) handleNewDirectory(fsw *fsnotify.Watcher, dir string) {
	if err := addTree(fsw, dir); err != nil {
		w.logger.Warn("failed to watch new folder", zap.String("path", dir), zap.Error(err))
	}
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.allow(p) {
			w.schedule(p)
		}
		return nil
	})
}

func (w *Watcher) schedule(abs string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil || w.ctx.Err() != nil {
		return
	}
	if t, ok := w.pending[abs]; ok {
		t.Stop()
	}
	ctx := w.ctx
	w.pending[abs] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, abs)
		w.mu.Unlock()
		if ctx.Err() == nil {
			w.index(ctx, abs)
		}
	})
}

func (w *Watcher) cancelPending(abs string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[abs]; ok {
		t.Stop()
		delete(w.pending, abs)
	}
}

func (w *Watcher) index(ctx context.Context, abs string) {
	p, err := w.local.ProviderPath(abs)
	if err != nil {
		return
	}
	res, err := w.target.IndexPath(ctx, p)
	switch {
	case err == nil:
		w.logger.Info("indexed changed document", zap.String("path", p), zap.Int("chunks", res.Persisted))
	case errors.Is(err, indexer.ErrContentTooShort), errors.Is(err, indexer.ErrEmptyContent),
		errors.Is(err, provider.ErrNotFound):
		w.logger.Debug("changed document not indexed", zap.String("path", p), zap.Error(err))
	default:
		w.logger.Warn("failed to index changed document", zap.String("path", p), zap.Error(err))
	}
}

func (w *Watcher) remove(ctx context.Context, abs string) {
	p, err := w.local.ProviderPath(abs)
	if err != nil {
		return
	}
	n, err := w.target.DeleteDocument(ctx, pointid.DocumentID(p))
	if err != nil {
		w.logger.Warn("failed to delete removed document", zap.String("path", p), zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("deleted removed document", zap.String("path", p), zap.Int("chunks", n))
	}
}

// Stop stops watching and drops pending index operations. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	w.cancel()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	_ = fsw.Close()
	w.wg.Wait()
}

// addTree registers dir and every non-hidden folder below it.
func addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fsw.Add(p)
	})
}
