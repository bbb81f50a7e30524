// Command exportd serves the document export pipeline over HTTP and,
// optionally, MCP on stdio.
//
// Usage:
//
//	exportd -config exportd.yaml
//	exportd -listen :8090 -db exportd.db
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docexport/dbopen"
	"github.com/hazyhaar/docexport/exportcfg"
	"github.com/hazyhaar/docexport/exporter"
	"github.com/hazyhaar/docexport/idgen"
	"github.com/hazyhaar/docexport/kit"
	"github.com/hazyhaar/docexport/observability"
)

func main() {
	configPath := flag.String("config", "", "path to exportd.yaml config file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			slog.Error("exportd: config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// Stderr so that MCP on stdio keeps stdout to itself.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("exportd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *serverConfig) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DocumentsDir, 0o755); err != nil {
		return err
	}
	// App DB: presets and custom defaults.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	// Observability DB is separate to avoid write contention.
	obsPath := filepath.Join(filepath.Dir(cfg.DBPath), "observability.db")
	obsDB, err := dbopen.Open(obsPath, dbopen.WithSchema(observability.Schema))
	if err != nil {
		return err
	}
	defer obsDB.Close()

	events := observability.NewRecorder(obsDB, 1000)
	defer events.Close()
	metrics := observability.NewMetrics(obsDB, 100, 5*time.Second)
	defer metrics.Close()

	store, err := exportcfg.NewStore(db)
	if err != nil {
		return err
	}
	configs, err := exportcfg.New(exportcfg.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}

	// Seed the server's output directory as the default, unless the
	// operator already persisted custom defaults.
	if configs.GetCustomDefaults() == nil {
		dir := cfg.OutputDir
		overlay := &exportcfg.Overlay{Output: &exportcfg.OutputOverlay{Directory: &dir}}
		if err := configs.SetCustomDefaults(overlay); err != nil {
			return err
		}
	}

	engine, err := exporter.New(exporter.Config{
		Configs:            configs,
		Documents:          &fileSource{dir: cfg.DocumentsDir},
		Events:             events,
		Logger:             logger,
		CompletedRetention: cfg.completedRetention(),
		CancelledRetention: cfg.cancelledRetention(),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "exportd",
			Version: "1.0.0",
		}, nil)
		engine.RegisterMCP(mcpSrv)
		go func() {
			logger.Info("exportd: MCP on stdio")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("exportd: mcp", "error", err)
			}
		}()
	}

	r := chi.NewRouter()
	r.Use(requestContext(idgen.Prefixed("req_", idgen.Default)))
	r.Use(requestMetrics(metrics))
	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	engine.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("exportd: listening", "addr", cfg.Listen, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("exportd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("exportd: shutdown", "error", err)
	}
	logger.Info("exportd: stopped")
	return nil
}

// requestContext stamps every request with an ID so that log lines and
// recorded events can be correlated.
func requestContext(newID idgen.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := newID()
			ctx = kit.WithRequestID(ctx, reqID)
			ctx = kit.WithTransport(ctx, "http")

			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestMetrics records per-request durations.
func requestMetrics(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			metrics.RecordDuration("http_request_duration", time.Since(start), map[string]string{
				"method": r.Method,
				"path":   r.URL.Path,
			})
		})
	}
}
