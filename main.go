package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheetstack/duckfed/federation"
	"github.com/sheetstack/duckfed/httpapi"
)

// env returns the environment variable value or a default
func env(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	configFile := flag.String("config", env("DUCKFED_CONFIG", ""), "Path to YAML config file (env: DUCKFED_CONFIG)")
	host := flag.String("host", "", "Host to bind to (env: DUCKFED_HOST)")
	port := flag.Int("port", 0, "Port to listen on (env: DUCKFED_PORT)")
	workspaceDir := flag.String("workspace-dir", "", "Workspace directory for session databases (env: DUCKFED_WORKSPACE_DIR)")
	maxConnections := flag.Int("max-connections", 0, "Connections per session pool (env: DUCKFED_MAX_CONNECTIONS)")
	acquireTimeout := flag.String("acquire-timeout", "", "Pool acquire timeout, e.g. 30s (env: DUCKFED_ACQUIRE_TIMEOUT)")
	probeTables := flag.Bool("probe-tables", true, "Probe foreign tables for accessibility on attach (env: DUCKFED_PROBE_TABLES)")
	describeColumns := flag.Bool("describe-columns", true, "Describe columns of foreign tables on attach (env: DUCKFED_DESCRIBE_COLUMNS)")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Duckfed - datasource federation session manager for conversational analytics\n\n")
		fmt.Fprintf(os.Stderr, "Usage: duckfedd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  DUCKFED_CONFIG            Path to YAML config file\n")
		fmt.Fprintf(os.Stderr, "  DUCKFED_HOST              Host to bind to (default: 127.0.0.1)\n")
		fmt.Fprintf(os.Stderr, "  DUCKFED_PORT              Port to listen on (default: 8388)\n")
		fmt.Fprintf(os.Stderr, "  DUCKFED_WORKSPACE_DIR     Workspace directory (default: ./workspace)\n")
		fmt.Fprintf(os.Stderr, "  DUCKFED_MAX_CONNECTIONS   Connections per session pool (default: 4)\n")
		fmt.Fprintf(os.Stderr, "  DUCKFED_ACQUIRE_TIMEOUT   Pool acquire timeout (default: 30s)\n")
		fmt.Fprintf(os.Stderr, "  DUCKFED_OTLP_ENDPOINT     OTLP log collector endpoint (optional)\n")
		fmt.Fprintf(os.Stderr, "\nPrecedence: CLI flags > environment variables > config file > defaults\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	shutdownLogging := initLogging()
	defer shutdownLogging()

	var fileCfg *FileConfig
	if *configFile != "" {
		var err error
		fileCfg, err = loadConfigFile(*configFile)
		if err != nil {
			slog.Error("Failed to load config file.", "path", *configFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded configuration.", "path", *configFile)
	}

	cli := configCLIInputs{
		Set:             map[string]bool{},
		Host:            *host,
		Port:            *port,
		WorkspaceDir:    *workspaceDir,
		MaxConnections:  *maxConnections,
		AcquireTimeout:  *acquireTimeout,
		ProbeTables:     *probeTables,
		DescribeColumns: *describeColumns,
	}
	flag.Visit(func(f *flag.Flag) { cli.Set[f.Name] = true })

	cfg := resolveEffectiveConfig(fileCfg, cli, os.Getenv, func(msg string) {
		slog.Warn(msg)
	})

	if err := os.MkdirAll(cfg.WorkspaceDir, 0755); err != nil {
		slog.Error("Failed to create workspace directory.", "path", cfg.WorkspaceDir, "error", err)
		os.Exit(1)
	}

	repo := federation.NewYAMLRepository(cfg.WorkspaceDir)
	mgr := federation.NewManager(cfg.Federation, repo, &federation.FileIngestor{}, nil)
	defer mgr.CloseAll()

	api := httpapi.New(cfg.WorkspaceDir, mgr)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: api.Handler(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutting down.")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("Shutdown did not complete cleanly.", "error", err)
		}
	}()

	slog.Info("Starting duckfed server.",
		"addr", srv.Addr, "workspace", cfg.WorkspaceDir,
		"max_connections", cfg.Federation.MaxConnections)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error.", "error", err)
		os.Exit(1)
	}
}
