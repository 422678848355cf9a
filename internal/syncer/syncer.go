// Package syncer mirrors the documents of a provider into the vector store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/indexer"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/pointid"
	"github.com/hyperjump/docrag/internal/provider"
	"github.com/hyperjump/docrag/internal/vector"
)

// Report summarizes one sync run.
type Report struct {
	Full     bool     `json:"full"`
	Found    int      `json:"found"`
	Indexed  int      `json:"indexed"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Removed  int      `json:"removed"`
	Errors   []string `json:"errors,omitempty"`
	Duration string   `json:"duration"`
}

// Syncer walks a provider, indexes new documents and removes vanished ones.
// Only one run is active at a time.
type Syncer struct {
	provider    provider.Provider
	indexer     *indexer.Indexer
	store       *vector.Adapter
	extensions  []string
	concurrency int
	statusPath  string
	logger      *zap.Logger

	running sync.Mutex
	now     func() time.Time
}

// ErrAlreadyRunning is returned when a sync is started while another one runs.
var ErrAlreadyRunning = errors.New("sync already running")

// New creates a syncer.
func New(p provider.Provider, idx *indexer.Indexer, store *vector.Adapter, cfg *config.IndexingConfig, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	exts := make([]string, 0, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}
	return &Syncer{
		provider:    p,
		indexer:     idx,
		store:       store,
		extensions:  exts,
		concurrency: workers,
		statusPath:  cfg.StatusPath,
		logger:      logger,
		now:         time.Now,
	}
}

// Allowed reports whether a file path has one of the configured extensions.
// An empty extension list allows everything.
func (s *Syncer) Allowed(p string) bool {
	if len(s.extensions) == 0 {
		return true
	}
	return slices.Contains(s.extensions, strings.ToLower(path.Ext(p)))
}

// Run performs one sync. Without full, documents already in the store are skipped.
// Documents in the store that the provider no longer lists are removed, unless
// part of the provider tree could not be listed.
func (s *Syncer) Run(ctx context.Context, full bool) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Unlock()

	start := s.now()
	rep := &Report{Full: full}
	files, walkErrs, err := s.walk(ctx)
	if err != nil {
		return nil, err
	}
	rep.Found = len(files)
	for _, e := range walkErrs {
		rep.Errors = append(rep.Errors, e.Error())
	}

	indexed := s.store.ListDocumentIDs(ctx)
	var (
		mu      sync.Mutex
		current = make(map[string]bool, len(files))
		done    = make([]string, 0, len(files))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, f := range files {
		id := pointid.DocumentID(f.Path)
		current[id] = true
		if !full {
			if _, found := slices.BinarySearch(indexed, id); found {
				mu.Lock()
				rep.Skipped++
				done = append(done, id)
				mu.Unlock()
				continue
			}
		}
		g.Go(func() error {
			_, err := s.indexer.IndexPath(gctx, f.Path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rep.Indexed++
				done = append(done, id)
			case errors.Is(err, context.Canceled):
				return err
			case errors.Is(err, indexer.ErrContentTooShort), errors.Is(err, indexer.ErrEmptyContent):
				rep.Skipped++
			default:
				rep.Failed++
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", f.Path, err))
				s.logger.Warn("indexing during sync failed", zap.String("path", f.Path), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(walkErrs) == 0 {
		for _, id := range indexed {
			if current[id] {
				continue
			}
			if _, err := s.indexer.DeleteDocument(ctx, id); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("remove %s: %v", id, err))
				continue
			}
			rep.Removed++
		}
	}

	rep.Duration = s.now().Sub(start).Round(time.Millisecond).String()
	s.saveStatus(start, full, done)
	s.logger.Info("sync finished",
		zap.Bool("full", full), zap.Int("found", rep.Found), zap.Int("indexed", rep.Indexed),
		zap.Int("skipped", rep.Skipped), zap.Int("failed", rep.Failed), zap.Int("removed", rep.Removed))
	return rep, nil
}

func (s *Syncer) saveStatus(at time.Time, full bool, done []string) {
	if s.statusPath == "" {
		return
	}
	st, err := LoadStatus(s.statusPath)
	if err != nil {
		s.logger.Warn("sync status unreadable, starting fresh", zap.Error(err))
		st = &Status{}
	}
	st.LastSync = &at
	if full {
		st.LastFullSync = &at
	}
	slices.Sort(done)
	st.IndexedDocuments = done
	if err := SaveStatus(s.statusPath, st); err != nil {
		s.logger.Warn("failed to save sync status", zap.Error(err))
	}
}

// walk lists the provider tree breadth first and returns the allowed files.
// A failure on the root folder is fatal; failures on sub-folders are collected.
func (s *Syncer) walk(ctx context.Context) ([]*models.FileEntry, []error, error) {
	var (
		out  []*models.FileEntry
		errs []error
	)
	queue := []string{"/"}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		dir := queue[0]
		queue = queue[1:]
		entries, err := s.provider.ListFiles(ctx, dir)
		if err != nil {
			if dir == "/" {
				return nil, nil, fmt.Errorf("failed to list provider root: %w", err)
			}
			s.logger.Warn("skipping unreadable folder", zap.String("path", dir), zap.Error(err))
			errs = append(errs, fmt.Errorf("list %s: %w", dir, err))
			continue
		}
		for _, e := range entries {
			switch {
			case e.IsFolder():
				queue = append(queue, e.Path)
			case s.Allowed(e.Path):
				out = append(out, e)
			default:
				s.logger.Debug("skipping unsupported file", zap.String("path", e.Path))
			}
		}
	}
	return out, errs, nil
}
