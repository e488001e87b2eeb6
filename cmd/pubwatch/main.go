// Command pubwatch runs the competitor ad pipeline: periodic ingestion,
// landing-page snapshots, and the query API, in one process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pubwatch/adsource"
	"github.com/hazyhaar/pubwatch/api"
	"github.com/hazyhaar/pubwatch/catalog"
	"github.com/hazyhaar/pubwatch/dbopen"
	"github.com/hazyhaar/pubwatch/ingest"
	"github.com/hazyhaar/pubwatch/kv"
	"github.com/hazyhaar/pubwatch/objectstore"
	"github.com/hazyhaar/pubwatch/ratelimit"
	"github.com/hazyhaar/pubwatch/snapshot"
)

func main() {
	port := env("PORT", "8086")
	catalogPath := env("CATALOG_DB", "db/catalog.db")
	targetsPath := env("TARGETS_FILE", "targets.yaml")
	mcpTransport := env("MCP_TRANSPORT", "")

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Catalog.
	db, err := dbopen.Open(catalogPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("catalog db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := catalog.ApplySchema(db); err != nil {
		slog.Error("catalog schema", "error", err)
		os.Exit(1)
	}
	store := catalog.NewStore(db)

	// Shared counter store: Redis when configured, in-process otherwise.
	var counters kv.Store
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redis, err := kv.NewRedis(ctx, addr, os.Getenv("REDIS_PASSWORD"), envInt("REDIS_DB", 0))
		if err != nil {
			slog.Error("redis", "error", err)
			os.Exit(1)
		}
		counters = redis
		slog.Info("counter store: redis", "addr", addr)
	} else {
		counters = kv.NewMemory()
		slog.Info("counter store: in-memory")
	}

	// Watch list.
	targets, err := ingest.LoadTargets(targetsPath)
	if err != nil {
		slog.Error("targets", "error", err)
		os.Exit(1)
	}
	slog.Info("watch list loaded", "competitors", len(targets))

	// Rate limiter shared by every source adapter.
	limiter := ratelimit.New(counters, ratelimit.Config{
		TokensPerInterval: float64(envInt("RATE_TOKENS", 10)),
		Interval:          time.Duration(envInt("RATE_INTERVAL_MS", 1000)) * time.Millisecond,
		MaxBurst:          float64(envInt("RATE_BURST", 20)),
		Logger:            logger,
	})

	// Source adapters. Offline mode swaps the Meta archive for the
	// deterministic adapter; google/tiktok adapters plug in here when
	// credentials land.
	var meta adsource.Adapter
	if os.Getenv("OFFLINE_MODE") != "" {
		meta = &adsource.Offline{}
		slog.Info("source adapters: offline mode")
	} else {
		meta = adsource.NewMetaArchive(os.Getenv("META_ACCESS_TOKEN"))
	}
	sources := map[string]ingest.Source{
		"meta": adsource.NewFetcher(meta, limiter, adsource.FetcherConfig{Logger: logger}),
	}

	// Ingestion coordinator.
	coordinator := ingest.NewCoordinator(
		store,
		ingest.NewDeduplicator(counters, time.Duration(envInt("DEDUP_TTL_SECONDS", 30))*time.Second, logger),
		sources,
		targets,
		ingest.Config{
			Interval: time.Duration(envInt("INGEST_INTERVAL_MINUTES", 30)) * time.Minute,
			Logger:   logger,
		},
	)
	go coordinator.Run(ctx)

	// Object storage for snapshots.
	var objects objectstore.Store
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		s3, err := objectstore.NewS3(ctx, objectstore.S3Config{
			Endpoint:      endpoint,
			AccessKey:     os.Getenv("S3_ACCESS_KEY"),
			SecretKey:     os.Getenv("S3_SECRET_KEY"),
			Bucket:        env("S3_BUCKET", "pubwatch-snapshots"),
			UseSSL:        os.Getenv("S3_USE_SSL") != "",
			PublicBaseURL: os.Getenv("S3_PUBLIC_URL"),
		})
		if err != nil {
			slog.Error("object storage", "error", err)
			os.Exit(1)
		}
		objects = s3
		slog.Info("object storage: s3", "endpoint", endpoint)
	} else {
		objects = objectstore.NewMemory()
		slog.Info("object storage: in-memory")
	}

	// Snapshot worker. SNAPSHOT_MODE=probe skips Chrome entirely.
	var nav snapshot.Navigator
	if env("SNAPSHOT_MODE", "browser") == "probe" {
		nav = snapshot.NewProber()
		slog.Info("snapshot capturer: http probe")
	} else {
		browser := snapshot.NewBrowser(snapshot.BrowserConfig{
			RemoteURL: os.Getenv("CHROME_URL"),
			Logger:    logger,
		})
		if err := browser.Start(ctx); err != nil {
			slog.Error("browser", "error", err)
			os.Exit(1)
		}
		defer browser.Close()
		nav = browser
	}
	worker := snapshot.NewWorker(store, nav, objects, snapshot.Config{
		Concurrency: envInt("SNAPSHOT_CONCURRENCY", 3),
		Interval:    time.Duration(envInt("SNAPSHOT_INTERVAL_MINUTES", 5)) * time.Minute,
		Logger:      logger,
	})
	go worker.Run(ctx)

	// Query API.
	svc := api.NewService(store, logger)
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	svc.RegisterHTTP(r)

	// Optional MCP over stdio.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "pubwatch",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("mcp stdio", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
