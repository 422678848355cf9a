// Package provider lists and downloads documents from a storage backend.
package provider

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/models"
)

var (
	// ErrNotFound is returned for paths that do not exist.
	ErrNotFound = errors.New("path not found")
	// ErrInvalidPath is returned for paths that escape the provider root.
	ErrInvalidPath = errors.New("invalid path")
)

// Provider is a source of documents addressed by slash-separated paths.
type Provider interface {
	// ListFiles returns the direct children of the folder at p, folders first.
	ListFiles(ctx context.Context, p string) ([]*models.FileEntry, error)
	// DownloadFile returns the extracted text of the file at p.
	DownloadFile(ctx context.Context, p string) (string, error)
	// Check verifies that the provider is reachable and authorized.
	Check(ctx context.Context) error
	Name() string
}

// New returns the provider selected by cfg.Type.
func New(cfg *config.ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "dropbox":
		return NewDropbox(cfg.Dropbox, logger)
	case "local":
		return NewLocal(cfg.Local.Root, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// cleanPath normalizes p to a slash-rooted path and rejects parent references.
func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return path.Clean("/" + p), nil
}

// extractText runs the extractor on content using the extension of name.
func extractText(ex *extract.Extractor, name string, content []byte) (string, error) {
	text, err := ex.ExtractBytes(content, path.Ext(name))
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return text, nil
}
