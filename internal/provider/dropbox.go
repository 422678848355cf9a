package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"
	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/models"
)

// dropboxFiles is the part of the Dropbox files API the provider uses.
type dropboxFiles interface {
	ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error)
	ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
}

type dropboxUsers interface {
	GetCurrentAccount() (*users.FullAccount, error)
}

// Dropbox reads documents from a Dropbox account, optionally below a root folder.
// The SDK calls take no context; cancellation is checked between requests.
type Dropbox struct {
	files     dropboxFiles
	users     dropboxUsers
	root      string
	extractor *extract.Extractor
	logger    *zap.Logger
}

// NewDropbox creates a Dropbox provider authenticated with cfg.AccessToken.
func NewDropbox(cfg config.DropboxConfig, logger *zap.Logger) (*Dropbox, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("dropbox access token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	dbxCfg := dropbox.Config{
		Token:    cfg.AccessToken,
		LogLevel: dropbox.LogOff,
		Client:   &http.Client{Timeout: timeout},
	}
	return newDropbox(files.New(dbxCfg), users.New(dbxCfg), cfg.Root, logger)
}

func newDropbox(f dropboxFiles, u dropboxUsers, root string, logger *zap.Logger) (*Dropbox, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r, err := cleanPath(root)
	if err != nil {
		return nil, err
	}
	if r == "/" {
		r = ""
	}
	return &Dropbox{files: f, users: u, root: r, extractor: extract.NewExtractor(), logger: logger}, nil
}

func (d *Dropbox) Name() string { return "dropbox" }

// apiPath maps a provider path to a Dropbox path. The Dropbox root is "".
func (d *Dropbox) apiPath(p string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	full := d.root + clean
	if full == "/" {
		return "", nil
	}
	return strings.TrimSuffix(full, "/"), nil
}

// relPath maps a Dropbox display path back below the configured root.
func (d *Dropbox) relPath(display string) string {
	if d.root != "" && len(display) >= len(d.root) && strings.EqualFold(display[:len(d.root)], d.root) {
		display = display[len(d.root):]
	}
	if display == "" {
		return "/"
	}
	return display
}

func (d *Dropbox) ListFiles(ctx context.Context, p string) ([]*models.FileEntry, error) {
	apiPath, err := d.apiPath(p)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := d.files.ListFolder(files.NewListFolderArg(apiPath))
	if err != nil {
		return nil, d.wrap("list", p, err)
	}
	var entries []*models.FileEntry
	for {
		for _, m := range res.Entries {
			if e := d.entry(m); e != nil {
				entries = append(entries, e)
			}
		}
		if !res.HasMore {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err = d.files.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, d.wrap("list", p, err)
		}
	}
	sortEntries(entries)
	d.logger.Debug("dropbox folder listed", zap.String("path", p), zap.Int("entries", len(entries)))
	return entries, nil
}

func (d *Dropbox) entry(m files.IsMetadata) *models.FileEntry {
	switch v := m.(type) {
	case *files.FileMetadata:
		return &models.FileEntry{
			ID:   v.Id,
			Name: v.Name,
			Path: d.relPath(v.PathDisplay),
			Type: models.EntryTypeFile,
			Size: int64(v.Size),
		}
	case *files.FolderMetadata:
		return &models.FileEntry{
			ID:   v.Id,
			Name: v.Name,
			Path: d.relPath(v.PathDisplay),
			Type: models.EntryTypeFolder,
		}
	default:
		// Deleted entries only appear in incremental listings.
		return nil
	}
}

func (d *Dropbox) DownloadFile(ctx context.Context, p string) (string, error) {
	if clean, err := cleanPath(p); err != nil {
		return "", err
	} else if clean == "/" {
		return "", fmt.Errorf("%w: %q is a folder", ErrInvalidPath, p)
	}
	apiPath, err := d.apiPath(p)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	meta, body, err := d.files.Download(files.NewDownloadArg(apiPath))
	if err != nil {
		return "", d.wrap("download", p, err)
	}
	defer body.Close()
	content, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", p, err)
	}
	name := path.Base(apiPath)
	if meta != nil && meta.Name != "" {
		name = meta.Name
	}
	d.logger.Debug("dropbox file downloaded", zap.String("path", p), zap.Int("bytes", len(content)))
	return extractText(d.extractor, name, content)
}

// Check fetches the current account to verify the token.
func (d *Dropbox) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	acc, err := d.users.GetCurrentAccount()
	if err != nil {
		return fmt.Errorf("dropbox account check failed: %w", err)
	}
	d.logger.Debug("dropbox account verified", zap.String("account_id", acc.AccountId))
	return nil
}

// wrap maps Dropbox "not_found" API errors to ErrNotFound.
func (d *Dropbox) wrap(op, p string, err error) error {
	if strings.Contains(err.Error(), "not_found") {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return fmt.Errorf("dropbox %s %s: %w", op, p, err)
}
