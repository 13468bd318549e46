// Command giggle-worker is a translation worker node. It registers itself in
// the Redis node registry, consumes tasks from its per-node queue, runs
// speech recognition and translation, and records terminal task states in
// PostgreSQL.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redislib "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/cnyy99/giggle/internal/config"
	"github.com/cnyy99/giggle/internal/health"
	"github.com/cnyy99/giggle/internal/observe"
	"github.com/cnyy99/giggle/internal/registry"
	"github.com/cnyy99/giggle/internal/store"
	"github.com/cnyy99/giggle/internal/transcribe"
	"github.com/cnyy99/giggle/internal/translate"
	"github.com/cnyy99/giggle/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; environment variables always win)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "giggle-worker: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Node.LogLevel)
	slog.SetDefault(logger)

	slog.Info("giggle worker starting",
		"node_id", cfg.Node.ID,
		"listen_addr", fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.Port),
		"log_level", cfg.Node.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		NodeID: cfg.Node.ID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── PostgreSQL task store ─────────────────────────────────────────────────
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		slog.Error("invalid database configuration", "err", err)
		return 1
	}
	// One connection per in-flight handler plus headroom for the registry's
	// claim and retry writes.
	poolCfg.MaxConns = int32(cfg.Worker.MaxConcurrentTasks + 2)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		return 1
	}
	defer pool.Close()

	taskStore := store.New(pool)
	if err := taskStore.Migrate(ctx); err != nil {
		slog.Error("failed to migrate task table", "err", err)
		return 1
	}

	// ── Redis registry ────────────────────────────────────────────────────────
	rdb := redislib.NewClient(&redislib.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to reach redis", "addr", cfg.Redis.Addr(), "err", err)
		return 1
	}

	reg := registry.New(rdb, taskStore, cfg, logger)

	// ── Speech recognition ────────────────────────────────────────────────────
	// A missing model is not fatal; the node keeps serving text-only tasks and
	// audio tasks fail with an explicit error.
	var stt worker.Transcriber
	if t, err := transcribe.New(cfg.Whisper, logger); err != nil {
		slog.Warn("speech model unavailable, running text-only", "err", err)
	} else {
		stt = t
		defer t.Close()
	}

	// ── Translation chain ─────────────────────────────────────────────────────
	router := translate.NewRouter(cfg.Translate, reg, logger)

	// ── Engine ────────────────────────────────────────────────────────────────
	eng := worker.New(reg, taskStore, stt, router, metrics, cfg, logger)

	if err := reg.Register(ctx); err != nil {
		slog.Error("failed to register node", "err", err)
		return 1
	}

	// ── Operational HTTP server ───────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(cfg.Node.ID,
		health.Registry(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
		health.TaskStore(pool.Ping),
	).Register(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.Port),
		Handler:           observe.Middleware(metrics, logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, stt != nil)

	// ── Run ───────────────────────────────────────────────────────────────────
	go reg.HeartbeatLoop(ctx)
	go reg.ControlLoop(ctx)

	slog.Info("worker ready — press Ctrl+C to shut down")
	eng.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	grace := time.Duration(cfg.Worker.TaskTimeout)*time.Second + 30*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	eng.Shutdown(shutdownCtx)

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, sttLoaded bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      giggle worker — startup          ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Node ID", cfg.Node.ID)
	printRow("Redis", cfg.Redis.Addr())
	printRow("Database", fmt.Sprintf("%s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name))
	if sttLoaded {
		printRow("Whisper", cfg.Whisper.ModelSize)
	} else {
		printRow("Whisper", "(text-only)")
	}
	printRow("Translators", translatorSummary(cfg.Translate))
	printRow("Max tasks", fmt.Sprintf("%d", cfg.Worker.MaxConcurrentTasks))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len([]rune(value)) > 21 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s : %-21s ║\n", label, value)
}

// translatorSummary lists the providers that will join the fallback chain.
func translatorSummary(cfg config.TranslateConfig) string {
	names := []string{}
	if cfg.LLMAPIKey != "" {
		names = append(names, "llm")
	}
	if cfg.GoogleAPIKey != "" {
		names = append(names, "google")
	}
	if cfg.DeepLAPIKey != "" {
		names = append(names, "deepl")
	}
	if cfg.LibreURL != "" {
		names = append(names, "libre")
	}
	names = append(names, "literal")
	summary := names[0]
	for _, n := range names[1:] {
		summary += "," + n
	}
	return summary
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
