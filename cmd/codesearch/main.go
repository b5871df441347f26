// Package main is the codesearch CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/codesearch/internal/cli"
	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/indexer"
	"github.com/hyperjump/codesearch/internal/mcp"
	"github.com/hyperjump/codesearch/internal/models"
	"github.com/hyperjump/codesearch/internal/server"
	"github.com/hyperjump/codesearch/internal/status"
	"github.com/hyperjump/codesearch/internal/watcher"
	"github.com/hyperjump/codesearch/pkg/utils"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var version = "dev"

const defaultServerURL = "http://localhost:3000"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "index":
		runIndex(os.Args[2:])
	case "server":
		runServer(os.Args[2:])
	case "search":
		runSearch(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "mcp":
		runMCP(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("codesearch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads configuration and builds a logger. --debug overrides the config file.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func parseFormat(s string) cli.OutputFormat {
	f, err := cli.ParseFormat(s)
	if err != nil {
		exitf("%v", err)
	}
	return f
}

func runIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: ./config.yaml when present)")
	serverURL := fs.String("server", "", "trigger the run on a running server instead of in-process")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var report *indexer.RunReport
	if *serverURL != "" {
		r, err := cli.NewClient(*serverURL, nil).Index(ctx)
		if err != nil {
			exitf("Indexing failed: %v", err)
		}
		report = r
	} else {
		cfg, logger := setup(*configPath, *debug)
		defer logger.Sync()
		c, err := initializeComponents(cfg, logger)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer c.Close()
		report, err = c.Pipeline.Run(ctx)
		if err != nil {
			c.Close()
			exitf("Indexing failed: %v", err)
		}
	}
	if err := cli.WriteRunReport(os.Stdout, report, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: ./config.yaml when present)")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "re-index when files under the roots change")
	indexOnStart := fs.Bool("index", false, "run one indexing pass before serving")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer c.Close()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *indexOnStart {
		go func() {
			if _, err := c.Pipeline.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("startup indexing failed", zap.Error(err))
			}
		}()
	}

	if *watch || cfg.Watch.Enabled {
		roots, err := cfg.Roots()
		if err != nil {
			logger.Fatal("Failed to resolve roots for watching", zap.Error(err))
		}
		w := watcher.NewWatcher(roots, c.Scanner.Match, c.Pipeline,
			watcher.WithDebounce(cfg.Watch.Debounce),
			watcher.WithFollowSymlinks(cfg.Index.FollowSymlinksOrDefault()),
			watcher.WithLogger(logger),
		)
		if err := w.Start(runCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(c.Search, c.Pipeline, c.Vectors, c.State, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Stop(ctx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: codesearch search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  codesearch search apply catalog price rules
  codesearch search --top-k 10 "customer address validation"
  codesearch search --server "" --output json save order   # without a running server
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

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (direct mode only)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search the vector store directly)")
	topK := fs.Int("top-k", 0, "number of results (default from config)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(args))

	query := buildSearchQuery(fs.Args())
	if query == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	req := models.SearchRequest{Query: query, TopK: *topK}
	ctx := context.Background()

	var response *models.SearchResponse
	if *serverURL != "" {
		r, err := cli.NewClient(*serverURL, nil).Search(ctx, req)
		if err != nil {
			exitf("Search failed: %v", err)
		}
		response = r
	} else {
		cfg, logger := setup(*configPath, false)
		defer logger.Sync()
		c, err := initializeComponents(cfg, logger)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer c.Close()
		response, err = c.Search.Search(ctx, req)
		if err != nil {
			c.Close()
			exitf("Search failed: %v", err)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (direct mode only)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the stores directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)
	ctx := context.Background()

	var report *status.Report
	if *serverURL != "" {
		r, err := cli.NewClient(*serverURL, nil).Status(ctx)
		if err != nil {
			exitf("Status failed: %v", err)
		}
		report = r
	} else {
		cfg, logger := setup(*configPath, false)
		defer logger.Sync()
		c, err := initializeComponents(cfg, logger)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer c.Close()
		report = status.Collect(ctx, cfg, c.Vectors, c.State, nil, logger)
	}
	if err := cli.WriteStatus(os.Stdout, report, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: ./config.yaml when present)")
	debug := fs.Bool("debug", false, "enable debug logging (stderr)")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer c.Close()

	s := mcp.NewServer(c.Search, c.Pipeline, c.Vectors, c.State, cfg, version, logger)
	if err := s.Serve(context.Background()); err != nil {
		c.Close()
		exitf("MCP server failed: %v", err)
	}
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: ./config.yaml when present)")
	write := fs.String("write", "", "write the effective configuration to this file instead of stdout")
	_ = fs.Parse(args)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	if *write != "" {
		if err := config.Save(*write, cfg); err != nil {
			exitf("%v", err)
		}
		fmt.Printf("Configuration written to %s\n", *write)
		return
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		exitf("Failed to encode config: %v", err)
	}
	fmt.Print(string(out))
}

func printUsage() {
	fmt.Println(`codesearch - incremental semantic search over PHP source trees

Usage:
  codesearch index [flags]           Run one incremental indexing pass
  codesearch server [flags]          Start the HTTP API (POST /search, POST /index, GET /status, GET /health)
  codesearch search [flags] <query>  Search indexed code
  codesearch status [flags]          Show collection, state and pipeline status
  codesearch mcp [flags]             Serve search_code, index_codebase and get_status over MCP stdio
  codesearch config [flags]          Print the effective configuration
  codesearch version                 Show version
  codesearch help                    Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml when present, else built-in defaults)
  --debug            Enable debug logging (stderr)

Index Flags:
  --server string    Trigger the run on a running server instead of in-process
  --output string    text or json (default: text)

Server Flags:
  --watch            Re-index when files under the roots change (debounced)
  --index            Run one indexing pass at startup

Search Flags:
  --server string    Server URL (default: http://localhost:3000). Use --server "" to search directly.
  --top-k int        Number of results (default from config)
  --output string    text, compact, or json (default: text)

Status Flags:
  --server string    Server URL (default: http://localhost:3000). Use --server "" to read the stores directly.
  --output string    text or json (default: text)

Config Flags:
  --write string     Write the effective configuration to a file

Environment (also read from .env):
  QDRANT_URL, QDRANT_COLLECTION, QDRANT_API_KEY, EMBED_SERVER, OPENAI_API_KEY,
  CHUNK_SIZE, CHUNK_OVERLAP, BATCH_SIZE, SERVER_PORT, TOP_K, PATHS_FILE, STATE_FILE

Examples:
  codesearch index
  codesearch server --watch
  codesearch search "where are catalog price rules applied"
  codesearch search --output json --top-k 3 customer address validation
  codesearch status --output json`)
}
