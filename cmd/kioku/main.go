// Package main is the Kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
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

	"github.com/joho/godotenv"
	"github.com/studyhall/kioku/internal/chunker"
	"github.com/studyhall/kioku/internal/config"
	"github.com/studyhall/kioku/internal/embedding"
	"github.com/studyhall/kioku/internal/extract"
	"github.com/studyhall/kioku/internal/ingest"
	"github.com/studyhall/kioku/internal/models"
	"github.com/studyhall/kioku/internal/registry"
	"github.com/studyhall/kioku/internal/search"
	"github.com/studyhall/kioku/internal/server"
	"github.com/studyhall/kioku/internal/store"
	"github.com/studyhall/kioku/internal/watch"
	"github.com/studyhall/kioku/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists it
// is used. Returns the config and the path actually loaded.
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
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "documents":
		runDocuments()
	case "delete":
		runDelete()
	case "stats":
		runStats()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watch.Watcher
	if cfg.Watch.Directory != "" {
		watchSvc = watch.NewWatcher(&cfg.Watch, components.Ingest, logger)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go watchSvc.SyncExisting(watchCtx)
	}

	srv := server.NewServer(
		components.Engine,
		components.Ingest,
		components.Registry,
		components.Store,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenant := fs.String("tenant", "demo", "tenant id")
	subject := fs.String("subject", "", "subject tag for the ingested document(s)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		extractor := extract.NewExtractor()
		count := 0
		walkErr := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || !extractor.Supported(filepath.Ext(p)) {
				return err
			}
			rec, added, err := components.Ingest.IngestFile(ctx, *tenant, p, *subject)
			if err != nil {
				fmt.Printf("Skipped %s: %v\n", p, err)
				return nil
			}
			fmt.Printf("Ingested %s: %s (%d chunks)\n", p, rec.ID, added)
			count++
			return nil
		})
		if walkErr != nil {
			fmt.Printf("Ingesting directory failed: %v\n", walkErr)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d file(s) from %s\n", count, path)
		return
	}
	rec, added, err := components.Ingest.IngestFile(ctx, *tenant, path, *subject)
	if err != nil {
		fmt.Printf("Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document ingested: %s (%d chunks)\n", rec.ID, added)
}

// buildQuery joins all positional args with spaces so multi-word queries work
// with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	tenant := fs.String("tenant", "demo", "tenant id")
	limit := fs.Int("limit", 0, "number of results (0 = server default)")
	subject := fs.String("subject", "", "restrict results to a subject")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku search [flags] <query>")
		os.Exit(1)
	}
	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: kioku search [flags] <query>")
		os.Exit(1)
	}

	var results []models.SearchResult
	if *serverURL != "" {
		res, err := searchViaHTTP(*serverURL, *tenant, query, *limit, *subject)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		results = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		results, err = components.Engine.Search(context.Background(), *tenant, query, *limit, *subject)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		if len(results) == 0 {
			fmt.Println("No results.")
			return
		}
		for i, r := range results {
			fmt.Printf("%d. [%.3f] %s / %s\n", i+1, r.RelevanceScore,
				r.Metadata[store.MetaSubject], r.Metadata[store.MetaFilename])
			fmt.Printf("   %s\n", snippet(r.Text, 200))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func searchViaHTTP(serverURL, tenant, query string, limit int, subject string) ([]models.SearchResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"tenant_id": tenant,
		"query":     query,
		"n_results": limit,
		"subject":   subject,
	})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/knowledge/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		Results []models.SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Results, nil
}

func runDocuments() {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	tenant := fs.String("tenant", "demo", "tenant id")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/knowledge/documents?tenant_id=" + *tenant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Documents []models.DocumentRecord `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out.Documents)
	case "text":
		if len(out.Documents) == 0 {
			fmt.Println("No documents.")
			return
		}
		for _, d := range out.Documents {
			fmt.Printf("%s  %-12s %-30s %d chunks  %s\n",
				d.ID, d.Subject, d.Filename, d.ChunkCount, d.UploadedAt.Format(time.RFC3339))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenant := fs.String("tenant", "demo", "tenant id")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if err := components.Ingest.DeleteDocument(context.Background(), *tenant, docID); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	tenant := fs.String("tenant", "demo", "tenant id")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/knowledge/stats?tenant_id=" + *tenant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		TotalChunks int `json:"total_chunks"`
		Documents   int `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("documents:     %d\n", out.Documents)
	fmt.Printf("total_chunks:  %d\n", out.TotalChunks)
}

// Components holds initialized services.
type Components struct {
	Registry *registry.Registry
	Embedder embedding.Embedder
	Store    *store.Store
	Engine   *search.Engine
	Ingest   *ingest.Service
}

func (c *Components) Close() {
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder := embedding.New(&cfg.Embedding, logger)

	st := store.NewStore(embedder, cfg.Storage.SnapshotPath, logger)
	if err := st.LoadSnapshot(cfg.Storage.SnapshotPath); err != nil {
		logger.Warn("snapshot load failed, starting with empty collections",
			zap.String("path", cfg.Storage.SnapshotPath), zap.Error(err))
	}

	reg, err := registry.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document registry: %w", err)
	}

	chk, err := chunker.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}

	svc := ingest.NewService(extract.NewExtractor(), chk, reg, st, cfg.Storage.UploadDir, logger)
	engine := search.NewEngine(st, embedder, &cfg.Search, logger)

	return &Components{
		Registry: reg,
		Embedder: embedder,
		Store:    st,
		Engine:   engine,
		Ingest:   svc,
	}, nil
}

func printUsage() {
	fmt.Println(`kioku - Semantic knowledge store for study notes

Usage:
  kioku server [flags]            Start the HTTP server
  kioku ingest [flags] <path>     Ingest a file or directory
  kioku search [flags] <query>    Search the knowledge store
  kioku documents [flags]         List ingested documents
  kioku delete [flags] <id>       Delete a document
  kioku stats [flags]             Show collection statistics
  kioku version                   Show version
  kioku help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path
  --tenant string    Tenant id (default: demo)
  --subject string   Subject tag; empty derives nothing and stores "general"

Search Flags:
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --tenant string    Tenant id (default: demo)
  --limit int        Number of results (0 = server default)
  --subject string   Restrict results to a subject
  --output string    Output format: text or json (default: text)

Examples:
  kioku server
  kioku ingest --subject biology notes/cells.pdf
  kioku search "krebs cycle"
  kioku search --subject biology --limit 3 atp production
  kioku documents
  kioku delete 6e1f8d0a-...
  kioku stats`)
}
