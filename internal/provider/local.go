package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/models"
)

// Local serves documents from a folder on disk. Paths are relative to the root;
// paths leaving the root are rejected.
type Local struct {
	root      string
	extractor *extract.Extractor
	logger    *zap.Logger
}

// NewLocal creates a provider rooted at root, which must be an existing directory.
func NewLocal(root string, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}
	return &Local{root: abs, extractor: extract.NewExtractor(), logger: logger}, nil
}

func (l *Local) Name() string { return "local" }

// Root returns the absolute root folder.
func (l *Local) Root() string { return l.root }

// resolve maps a provider path to a file system path below the root.
func (l *Local) resolve(p string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// ProviderPath maps an absolute file system path below the root to a provider path.
func (l *Local) ProviderPath(abs string) (string, error) {
	rel, err := filepath.Rel(l.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidPath, abs, l.root)
	}
	return "/" + filepath.ToSlash(rel), nil
}

func (l *Local) ListFiles(ctx context.Context, p string) ([]*models.FileEntry, error) {
	dir, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", p, err)
	}
	entries := make([]*models.FileEntry, 0, len(items))
	for _, it := range items {
		if strings.HasPrefix(it.Name(), ".") {
			continue
		}
		info, err := it.Info()
		if err != nil {
			continue
		}
		rel, err := l.ProviderPath(filepath.Join(dir, it.Name()))
		if err != nil {
			continue
		}
		e := &models.FileEntry{ID: rel, Name: it.Name(), Path: rel, Type: models.EntryTypeFile, Size: info.Size()}
		switch {
		case info.IsDir():
			e.Type = models.EntryTypeFolder
			e.Size = 0
		case !info.Mode().IsRegular():
			continue
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func (l *Local) DownloadFile(ctx context.Context, p string) (string, error) {
	file, err := l.resolve(p)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(file)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInvalidPath, p)
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return extractText(l.extractor, file, content)
}

// Check verifies that the root folder is still readable.
func (l *Local) Check(context.Context) error {
	_, err := os.ReadDir(l.root)
	return err
}

// sortEntries orders folders before files, each by case-insensitive name.
func sortEntries(entries []*models.FileEntry) {
	slices.SortStableFunc(entries, func(a, b *models.FileEntry) int {
		if a.IsFolder() != b.IsFolder() {
			if a.IsFolder() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
}
