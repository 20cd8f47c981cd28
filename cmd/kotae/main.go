// Package main is the kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kotae/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

var httpClient = &http.Client{Timeout: 2 * time.Minute}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving, etc.).
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
	case "submit":
		runSubmit()
	case "status":
		runStatus()
	case "delete":
		runDelete()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// openLocal loads config and initializes components for commands that work
// without a running server.
func openLocal(configPath string) (*config.Config, *Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return cfg, components, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inbox := watcher.New(cfg.Watch, components.Pipeline, watcher.WithLogger(logger))
	if err := inbox.Start(ctx); err != nil {
		logger.Fatal("failed to start inbox", zap.Error(err))
	}
	defer inbox.Stop()

	srv := server.NewServer(
		components.Engine,
		components.Pipeline,
		components.Storage(),
		cfg.Server,
		logger,
		server.WithWatch(inbox, resolvedConfigPath, cfg),
		server.WithMetrics(components.Metrics),
		server.WithDiskPaths(cfg.Storage.DatabasePath, cfg.Storage.BlobDir, cfg.Storage.VectorIndexPath),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return components.Pipeline.Run(gctx) })
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	go inbox.SyncExisting()

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotae search [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces. Quotes are optional.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Tiers trade latency for thoroughness:
  basic          vector search only
  improved       adds a relevance floor
  advanced       adds keyword fusion and re-ranking (default)
  comprehensive  adds query expansion and a wider candidate pool

Examples:
  kotae search how do I reset the router
  kotae search --tier basic "warranty period"
  kotae search --output json -n 3 refund policy
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchTierDefaultFromConfig returns the configured default tier, or advanced
// when the config cannot be loaded.
func searchTierDefaultFromConfig(path string) string {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil || cfg.Retrieval.DefaultTier == "" {
		return string(models.TierAdvanced)
	}
	return cfg.Retrieval.DefaultTier
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

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])
	configPath := searchConfigPathFromArgs(searchArgs, defaultConfigPath)

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage when server is not running)")
	tier := fs.String("tier", searchTierDefaultFromConfig(configPath), "retrieval tier: basic, improved, advanced, comprehensive")
	count := fs.Int("n", 0, "number of citations (0 = tier default)")
	user := fs.String("user", "", "user recorded with the query")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	q := &models.SearchQuery{
		Query:       queryStr,
		Tier:        models.Tier(*tier),
		ResultCount: *count,
		User:        *user,
	}
	ctx := context.Background()

	var (
		resp *models.SearchResponse
		err  error
	)
	if *serverURL != "" {
		resp, err = searchViaHTTP(ctx, *serverURL, q)
	} else {
		_, components, logger := openLocal(*configPathFlag)
		defer logger.Sync()
		defer components.Close()
		resp, err = components.Engine.Search(ctx, q)
	}
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResponse(os.Stdout, resp, cli.ParseFormat(*outputFormat)); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// apiError is returned for non-2xx API responses.
type apiError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *apiError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("server returned %d (retryable): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func doJSON(req *http.Request, want int, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		var body struct {
			Error     string `json:"error"`
			Retryable bool   `json:"retryable"`
		}
		if json.Unmarshal(b, &body) == nil && body.Error != "" {
			return &apiError{Status: resp.StatusCode, Message: body.Error, Retryable: body.Retryable}
		}
		return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func searchViaHTTP(ctx context.Context, serverURL string, q *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var resp models.SearchResponse
	if err := doJSON(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func runSubmit() {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = process locally and wait)")
	uploadedBy := fs.String("uploaded-by", os.Getenv("USER"), "uploader recorded with the submission")
	outputFormat := fs.String("output", "text", "output format: text or json")
	wait := fs.Duration("wait", 10*time.Minute, "local mode: how long to wait for processing")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatalf("Usage: kotae submit [flags] <file-or-directory>...")
	}
	format := cli.ParseFormat(*outputFormat)
	ctx := context.Background()

	if *serverURL != "" {
		paths, err := collectFiles(fs.Args(), submitExtensionsFromConfig(*configPath))
		if err != nil {
			fatalf("%v", err)
		}
		outcomes, err := submitViaHTTP(ctx, *serverURL, paths, *uploadedBy)
		if err != nil {
			fatalf("Submit failed: %v", err)
		}
		if err := cli.WriteBulkOutcomes(os.Stdout, outcomes, format); err != nil {
			fatalf("Output failed: %v", err)
		}
		return
	}

	cfg, components, logger := openLocal(*configPath)
	defer logger.Sync()
	defer components.Close()

	var outcomes []indexer.BulkOutcome
	for _, arg := range fs.Args() {
		info, err := os.Stat(arg)
		if err != nil {
			outcomes = append(outcomes, indexer.BulkOutcome{Name: arg, Status: indexer.OutcomeError, Error: err.Error()})
			continue
		}
		if info.IsDir() {
			res, err := components.Pipeline.SubmitDirectory(ctx, arg, cfg.Watch.Extensions, *uploadedBy)
			if err != nil {
				outcomes = append(outcomes, indexer.BulkOutcome{Name: arg, Status: indexer.OutcomeError, Error: err.Error()})
			}
			outcomes = append(outcomes, res...)
			continue
		}
		res, err := components.Pipeline.SubmitPath(ctx, arg, nil, *uploadedBy)
		outcomes = append(outcomes, outcomeOf(filepath.Base(arg), res, err))
	}

	runCtx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()
	statuses := processLocally(runCtx, components.Pipeline, outcomes)

	if err := cli.WriteBulkOutcomes(os.Stdout, outcomes, format); err != nil {
		fatalf("Output failed: %v", err)
	}
	if len(statuses) > 0 {
		fmt.Println()
		_ = cli.WriteStatusList(os.Stdout, statuses, format)
	}
}

// submitExtensionsFromConfig returns the configured inbox extensions used to
// filter directory walks, or nil (no filter) when the config cannot be loaded.
func submitExtensionsFromConfig(path string) []string {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil {
		return nil
	}
	return cfg.Watch.Extensions
}

func outcomeOf(name string, res indexer.SubmitResult, err error) indexer.BulkOutcome {
	switch {
	case err != nil:
		return indexer.BulkOutcome{Name: name, Status: indexer.OutcomeError, Error: err.Error()}
	case res.Duplicate:
		return indexer.BulkOutcome{Name: name, Status: indexer.OutcomeDuplicate, DocumentID: res.DocumentID}
	default:
		return indexer.BulkOutcome{Name: name, Status: indexer.OutcomeSuccess, DocumentID: res.DocumentID}
	}
}

// processLocally runs the pipeline until every submitted document is terminal
// or ctx expires, and returns their final statuses.
func processLocally(ctx context.Context, p *indexer.Pipeline, outcomes []indexer.BulkOutcome) []models.DocumentStatus {
	pending := map[string]bool{}
	for _, o := range outcomes {
		if o.DocumentID != "" {
			pending[o.DocumentID] = true
		}
	}
	if len(pending) == 0 {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	statuses := map[string]models.DocumentStatus{}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for len(pending) > 0 {
		for id := range pending {
			st, err := p.Status(ctx, id)
			if err != nil {
				delete(pending, id)
				continue
			}
			statuses[id] = st
			if st.State.Terminal() {
				delete(pending, id)
			}
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			pending = nil
		case <-ticker.C:
		}
	}
	out := make([]models.DocumentStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st)
	}
	return out
}

// collectFiles expands directories into the files below them with an allowed extension.
func collectFiles(args []string, exts []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			if len(exts) > 0 && !hasExtension(path, exts) {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func hasExtension(path string, exts []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range exts {
		if strings.ToLower(strings.TrimPrefix(e, ".")) == ext {
			return true
		}
	}
	return false
}

func submitViaHTTP(ctx context.Context, serverURL string, paths []string, uploadedBy string) ([]indexer.BulkOutcome, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range paths {
		if err := addFilePart(mw, p); err != nil {
			return nil, err
		}
	}
	if uploadedBy != "" {
		if err := mw.WriteField("uploaded_by", uploadedBy); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/v1/documents/bulk", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out struct {
		Results []indexer.BulkOutcome `json:"results"`
	}
	if err := doJSON(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func addFilePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// healthResponse is the shape of the GET /health response.
type healthResponse struct {
	Status           string         `json:"status"`
	Documents        int            `json:"documents"`
	DocumentsByState map[string]int `json:"documents_by_state"`
	Chunks           int64          `json:"chunks"`
	ReadyEmbeddings  int64          `json:"ready_embeddings"`
	DiskUsageBytes   *int64         `json:"disk_usage_bytes,omitempty"`
	WatchDirectories []string       `json:"watch_directories,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	list := fs.Bool("list", false, "list documents")
	state := fs.String("state", "", "with --list: only documents in this state")
	limit := fs.Int("limit", 50, "with --list: maximum documents")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := cli.ParseFormat(*outputFormat)
	ctx := context.Background()

	if *serverURL == "" {
		statusLocal(ctx, *configPath, fs.Args(), *list, models.State(*state), *limit, format)
		return
	}

	switch {
	case fs.NArg() > 0:
		for _, id := range fs.Args() {
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, *serverURL+"/api/v1/documents/"+url.PathEscape(id), nil)
			var st models.DocumentStatus
			if err := doJSON(req, http.StatusOK, &st); err != nil {
				fatalf("Status failed: %v", err)
			}
			_ = cli.WriteStatus(os.Stdout, st, format)
		}
	case *list:
		v := url.Values{}
		if *state != "" {
			v.Set("state", *state)
		}
		v.Set("limit", strconv.Itoa(*limit))
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, *serverURL+"/api/v1/documents?"+v.Encode(), nil)
		var out struct {
			Documents []models.DocumentStatus `json:"documents"`
		}
		if err := doJSON(req, http.StatusOK, &out); err != nil {
			fatalf("List failed: %v", err)
		}
		_ = cli.WriteStatusList(os.Stdout, out.Documents, format)
	default:
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, *serverURL+"/health", nil)
		var h healthResponse
		if err := doJSON(req, http.StatusOK, &h); err != nil {
			fatalf("Status failed: %v", err)
		}
		writeHealth(os.Stdout, h, format)
	}
}

func statusLocal(ctx context.Context, configPath string, ids []string, list bool, state models.State, limit int, format cli.OutputFormat) {
	cfg, components, logger := openLocal(configPath)
	defer logger.Sync()
	defer components.Close()

	switch {
	case len(ids) > 0:
		for _, id := range ids {
			st, err := components.Pipeline.Status(ctx, id)
			if err != nil {
				fatalf("Status failed: %v", err)
			}
			_ = cli.WriteStatus(os.Stdout, st, format)
		}
	case list:
		docs, err := components.Pipeline.List(ctx, state, 0, limit)
		if err != nil {
			fatalf("List failed: %v", err)
		}
		_ = cli.WriteStatusList(os.Stdout, docs, format)
	default:
		db := components.Storage()
		counts, err := db.CountDocuments(ctx)
		if err != nil {
			fatalf("Count documents failed: %v", err)
		}
		chunks, err := db.CountChunks(ctx)
		if err != nil {
			fatalf("Count chunks failed: %v", err)
		}
		embeddings, err := db.CountReadyEmbeddings(ctx)
		if err != nil {
			fatalf("Count embeddings failed: %v", err)
		}
		h := healthResponse{
			Status:           "ok",
			DocumentsByState: map[string]int{},
			Chunks:           chunks,
			ReadyEmbeddings:  embeddings,
			WatchDirectories: cfg.Watch.Directories,
		}
		for _, st := range models.States {
			h.DocumentsByState[string(st)] = counts[st]
			h.Documents += counts[st]
		}
		if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BlobDir, cfg.Storage.VectorIndexPath); err == nil {
			h.DiskUsageBytes = &n
		}
		writeHealth(os.Stdout, h, format)
	}
}

func writeHealth(w io.Writer, h healthResponse, format cli.OutputFormat) {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(h)
		return
	}
	fmt.Fprintf(w, "documents:          %d\n", h.Documents)
	for _, st := range models.States {
		fmt.Fprintf(w, "  %-20s %d\n", st, h.DocumentsByState[string(st)])
	}
	fmt.Fprintf(w, "chunks:             %d\n", h.Chunks)
	fmt.Fprintf(w, "ready_embeddings:   %d\n", h.ReadyEmbeddings)
	if h.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *h.DiskUsageBytes)
	}
	for _, d := range h.WatchDirectories {
		fmt.Fprintf(w, "watching:           %s\n", d)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kotae watch <add|remove|list> [path]")
		fmt.Println("  kotae watch add <path>     Add an inbox directory")
		fmt.Println("  kotae watch remove <path>  Stop watching an inbox directory")
		fmt.Println("  kotae watch list           List inbox directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	syncExisting := fs.Bool("sync", true, "add: submit files already in the directory")
	_ = fs.Parse(os.Args[3:])
	ctx := context.Background()
	endpoint := *serverURL + "/api/v1/watch/directories"

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fatalf("Usage: kotae watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": *syncExisting})
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if err := doJSON(req, http.StatusCreated, nil); err != nil {
			fatalf("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: kotae watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint+"?path="+url.QueryEscape(path), nil)
		if err := doJSON(req, http.StatusOK, nil); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := doJSON(req, http.StatusOK, &out); err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatalf("Usage: kotae delete [flags] <document-id>...")
	}
	ctx := context.Background()

	if *serverURL != "" {
		for _, id := range fs.Args() {
			req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, *serverURL+"/api/v1/documents/"+url.PathEscape(id), nil)
			if err := doJSON(req, http.StatusOK, nil); err != nil {
				fatalf("Deletion failed: %v", err)
			}
			fmt.Printf("Document deleted: %s\n", id)
		}
		return
	}

	_, components, logger := openLocal(*configPath)
	defer logger.Sync()
	defer components.Close()
	for _, id := range fs.Args() {
		if err := components.Pipeline.Delete(ctx, id); err != nil {
			fatalf("Deletion failed: %v", err)
		}
		fmt.Printf("Document deleted: %s\n", id)
	}
}

func printUsage() {
	fmt.Println(`kotae - Document question answering over your own files

Usage:
  kotae server [flags]                 Start the HTTP server, ingestion workers, and inbox
  kotae submit [flags] <path>...       Submit files or directories for ingestion
  kotae status [flags] [id...]         Show corpus health, or the status of documents
  kotae search [flags] <question>      Answer a question from the ingested documents
  kotae delete [flags] <id>...         Delete documents
  kotae watch <add|remove|list>        Manage inbox directories
  kotae version                        Show version
  kotae help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to work
                     directly on local storage when the server is not running.
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Search Flags:
  --tier string      basic, improved, advanced, or comprehensive (default from config)
  -n int             Number of citations (default: tier default)

Submit Flags:
  --uploaded-by      Uploader recorded with the submission (default: $USER)
  --wait duration    Local mode: how long to wait for processing (default: 10m)

Status Flags:
  --list             List documents instead of showing corpus health
  --state string     With --list: only documents in this state
  --limit int        With --list: maximum documents (default: 50)

Examples:
  kotae server
  kotae submit ~/manuals
  kotae status 6f1c...
  kotae status --list --state failed
  kotae search how do I reset the router
  kotae search --tier basic --output json "warranty period"
  kotae delete 6f1c...
  kotae watch add ~/inbox`)
}
