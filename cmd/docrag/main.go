// Package main is the docrag CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/auth"
	"github.com/hyperjump/docrag/internal/cli"
	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/indexer"
	"github.com/hyperjump/docrag/internal/llm"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/provider"
	"github.com/hyperjump/docrag/internal/search"
	"github.com/hyperjump/docrag/internal/server"
	"github.com/hyperjump/docrag/internal/syncer"
	"github.com/hyperjump/docrag/internal/vector"
	"github.com/hyperjump/docrag/internal/watcher"
	"github.com/hyperjump/docrag/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/docrag/config.yaml"
	startupTimeout    = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "index":
		runIndex()
	case "delete":
		runDelete()
	case "sync":
		runSync()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("docrag version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads the config, builds the logger and initializes all components.
// It exits the process on failure.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		logger.Fatal("Failed to initialize authentication", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if local, ok := components.Provider.(*provider.Local); ok && cfg.Provider.Local.Watch {
		w := watcher.New(local, components.Indexer, components.Syncer.Allowed, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(server.Deps{
		Engine:    components.Engine,
		Indexer:   components.Indexer,
		Store:     components.Store,
		Provider:  components.Provider,
		Syncer:    components.Syncer,
		Generator: components.Generator,
		Auth:      authn,
	}, &cfg.Server, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: docrag search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  docrag search Kaltmiete Wohnung
  docrag search --top-k 10 "Balkon mit Südausrichtung"
  docrag search --server http://localhost:8000 --output json Kaution
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func parseOutputFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "text", "":
		return cli.OutputText, nil
	case "json":
		return cli.OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; empty searches the vector store directly")
	topK := fs.Int("top-k", 0, "number of results (0 = search.default_top_k)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	query := &models.SearchQuery{Query: queryStr, TopK: *topK}

	var response *models.SearchResponse
	if *serverURL != "" {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		c := &apiClient{baseURL: strings.TrimRight(*serverURL, "/"), http: &http.Client{Timeout: cfg.LLM.Timeout + 30*time.Second}}
		if err := c.login(cfg.Auth.Username, cfg.Auth.Password); err != nil {
			fmt.Fprintf(os.Stderr, "Login failed: %v\n", err)
			os.Exit(1)
		}
		response, err = c.search(query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		response, err = components.Engine.Answer(context.Background(), query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// apiClient talks to a running docrag server.
type apiClient struct {
	baseURL string
	http    *http.Client
	token   string
}

func (c *apiClient) login(username, password string) error {
	var tok auth.Token
	if err := c.post("/api/auth/token", map[string]string{"username": username, "password": password}, &tok); err != nil {
		return err
	}
	c.token = tok.AccessToken
	return nil
}

func (c *apiClient) search(query *models.SearchQuery) (*models.SearchResponse, error) {
	var response models.SearchResponse
	if err := c.post("/api/documents/search", query, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *apiClient) post(path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: docrag index [flags] <provider-path>...")
		os.Exit(1)
	}
	_, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	failed := 0
	for _, p := range fs.Args() {
		res, err := components.Indexer.IndexPath(context.Background(), p)
		if err != nil {
			fmt.Printf("Indexing %s failed: %v\n", p, err)
			failed++
			continue
		}
		fmt.Printf("Document indexed: %s (%d of %d chunks stored)\n", res.DocumentID, res.Persisted, res.Chunks)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: docrag delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	n, err := components.Indexer.DeleteDocument(context.Background(), docID)
	if err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s (%d chunks)\n", docID, n)
}

func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	full := fs.Bool("full", false, "reindex documents that are already indexed")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	_, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rep, err := components.Syncer.Run(ctx, *full)
	if err != nil {
		fmt.Printf("Sync failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteSyncReport(os.Stdout, rep, format)
	if rep.Failed > 0 {
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	st := collectStatus(context.Background(), cfg, components, logger)
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func collectStatus(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) *cli.Status {
	st := &cli.Status{
		Backend:    cfg.Vector.Backend,
		Collection: c.Store.Collection().Name,
		Dimensions: c.Store.Dimensions(),
		Points:     c.Store.Count(ctx),
		Documents:  c.Store.ListDocumentIDs(ctx),
		Breaker:    c.Store.BreakerState().String(),
	}
	local := []string{cfg.Indexing.StatusPath}
	if cfg.Vector.Backend == string(vector.BackendSQLite) {
		local = append(local, utils.SQLiteFiles(cfg.Vector.SQLitePath)...)
	}
	if n, err := utils.DiskUsage(local...); err == nil {
		st.DiskUsage = &n
	} else {
		logger.Warn("disk usage unavailable", zap.Error(err))
	}
	sync, err := syncer.LoadStatus(cfg.Indexing.StatusPath)
	if err != nil {
		logger.Warn("sync status unreadable", zap.Error(err))
		return st
	}
	st.LastSync = sync.LastSync
	st.LastFullSync = sync.LastFullSync
	return st
}

// Components holds initialized services.
type Components struct {
	Embedder  embedding.Embedder
	Store     *vector.Adapter
	Provider  provider.Provider
	Indexer   *indexer.Indexer
	Engine    *search.Engine
	Generator llm.Generator
	Syncer    *syncer.Syncer
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	var err error
	c.Embedder, err = embedding.New(&cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	dims := cfg.Embedding.Dimensions
	if dims <= 0 {
		dims, err = embedding.DiscoverDimensions(ctx, c.Embedder)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to discover embedding dimensions: %w", err)
		}
		logger.Info("embedding dimensions discovered", zap.Int("dimensions", dims))
	}

	backend, err := vector.NewBackend(&cfg.Vector)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector backend: %w", err)
	}
	c.Store = vector.NewAdapter(backend,
		vector.CollectionSpec{Name: cfg.Vector.Collection, Dimensions: dims},
		vector.WithLogger(logger),
		vector.WithConfig(&cfg.Vector),
	)
	if err := c.Store.EnsureCollection(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to prepare collection %s: %w", cfg.Vector.Collection, err)
	}

	c.Provider, err = provider.New(&cfg.Provider, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}

	c.Indexer = indexer.NewIndexer(c.Store, c.Embedder, &cfg.Indexing,
		indexer.WithLogger(logger),
		indexer.WithDownloader(c.Provider),
		indexer.WithVerify(cfg.Vector.VerifyAfterIndex),
	)

	c.Generator, err = llm.New(&cfg.LLM, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize answer generator: %w", err)
	}
	engineOpts := []search.EngineOption{search.WithLogger(logger)}
	if c.Generator != nil {
		engineOpts = append(engineOpts, search.WithGenerator(c.Generator))
	}
	c.Engine = search.NewEngine(c.Store, c.Embedder, &cfg.Search, engineOpts...)
	c.Syncer = syncer.New(c.Provider, c.Indexer, c.Store, &cfg.Indexing, logger)

	logger.Info("components initialized",
		zap.String("provider", c.Provider.Name()),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("collection", cfg.Vector.Collection),
		zap.Int("dimensions", dims),
		zap.Bool("answers", c.Generator != nil))
	return c, nil
}

func printUsage() {
	fmt.Println(`docrag - Document search and question answering over Dropbox or local folders

Usage:
  docrag server [flags]                 Start the HTTP server
  docrag search [flags] <query>         Search documents and generate an answer
  docrag index [flags] <path>...        Index documents by provider path
  docrag delete [flags] <document-id>   Delete a document from the index
  docrag sync [flags]                   Index new documents and remove vanished ones
  docrag status [flags]                 Show collection and sync status
  docrag version                        Show version
  docrag help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/docrag/config.yaml,
                     or ./config.yaml when present)

Server Flags:
  --debug            Enable debug logging

Search Flags:
  --server string    Server URL; when set, logs in with auth.username/password and searches via the API
  --top-k int        Number of results (default: search.default_top_k)
  --output string    Output format: text or json (default: text)

Sync Flags:
  --full             Reindex documents that are already indexed
  --output string    Output format: text or json (default: text)

Examples:
  docrag server
  docrag search "Wie hoch ist die Kaltmiete?"
  docrag index /Objekte/expose.pdf
  docrag delete Objekte/expose.pdf
  docrag sync --full
  docrag status --output json`)
}
