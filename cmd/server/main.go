package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/config"
	"github.com/agrex/futures-ledger/internal/exposure"
	"github.com/agrex/futures-ledger/internal/fhe"
	"github.com/agrex/futures-ledger/internal/ledger"
	"github.com/agrex/futures-ledger/internal/metrics"
	"github.com/agrex/futures-ledger/internal/pricing"
	"github.com/agrex/futures-ledger/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	// --- Confidential-computation engine ---
	var engine *fhe.LocalEngine
	if cfg.FHE.MasterKey != "" {
		key, err := hex.DecodeString(cfg.FHE.MasterKey)
		if err != nil {
			slog.Error("invalid FHE master key", "err", err)
			os.Exit(1)
		}
		engine, err = fhe.NewLocalEngine(key)
		if err != nil {
			slog.Error("engine init failed", "err", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("FHE master key not set, generating ephemeral key (encrypted state will not survive restart)")
		engine, err = fhe.NewLocalEngineRandomKey()
		if err != nil {
			slog.Error("engine init failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(context.Background(), cfg.Store.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Store.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Store.RedisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}

	case config.BackendLevelDB:
		ldb, err := store.NewLevelDBStore(cfg.Store.LevelDBPath)
		if err != nil {
			slog.Error("leveldb open failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { ldb.Close() })
		st = ldb
		slog.Info("LevelDB store opened", "path", cfg.Store.LevelDBPath)

	default:
		slog.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exposure limits ---
	limiter := exposure.NewLimiter(cfg.Exposure.MaxActivePerTrader, cfg.Exposure.MaxOpenPerCrop)

	// --- Reference price index ---
	alpha, err := decimal.NewFromString(cfg.Pricing.IndexAlpha)
	if err != nil {
		slog.Error("invalid index alpha", "err", err)
		os.Exit(1)
	}
	index, err := pricing.NewIndex(alpha, cfg.Pricing.HistorySize)
	if err != nil {
		slog.Error("price index init failed", "err", err)
		os.Exit(1)
	}

	// --- Event hub ---
	hub := ledger.NewEventHub()
	go hub.Run()

	// --- Lifecycle engine ---
	svc := ledger.NewService(st, engine, limiter, index, hub, cfg.Admin.Account)
	if err := svc.EnsureMarkets(context.Background()); err != nil {
		slog.Error("market init failed", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"futures-ledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time lifecycle events.
		r.Get("/ws", hub.HandleWS)

		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("futures-ledger listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	slog.Info("shutting down futures-ledger...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("futures-ledger stopped")
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
