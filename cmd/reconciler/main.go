package main

import (
	"context"
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

	"github.com/ptrader/corpact-engine/internal/batch"
	"github.com/ptrader/corpact-engine/internal/config"
	"github.com/ptrader/corpact-engine/internal/market"
	"github.com/ptrader/corpact-engine/internal/metrics"
	"github.com/ptrader/corpact-engine/internal/scheduler"
	"github.com/ptrader/corpact-engine/internal/source"
	"github.com/ptrader/corpact-engine/internal/store"
)

func main() {
	once := flag.Bool("once", false, "run one batch pass and exit (for external schedulers)")
	asOf := flag.String("as-of", "", "as-of trade date YYYYMMDD (default: yesterday)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
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
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis ledger cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Record source ---
	var src source.RecordSource = source.NewHTTPSource(cfg.ProviderURL, cfg.ProviderTimeout)
	if rdb != nil {
		src = source.NewCachedSource(src, rdb, cfg.CacheTTL)
		slog.Info("Redis corporate-action cache enabled", "ttl", cfg.CacheTTL.String())
	}

	// --- WebSocket hub ---
	hub := batch.NewHub()
	go hub.Run()

	// --- Reconciler ---
	rec := batch.NewReconciler(st, src, hub, batch.Options{
		LookupWorkers: cfg.LookupWorkers,
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
	})

	// Single-pass mode for external schedulers.
	if *once {
		date := *asOf
		if date == "" {
			date = market.FormatTradeDate(time.Now().AddDate(0, 0, -1))
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
		defer cancel()

		report, err := rec.Run(ctx, date)
		if err != nil {
			slog.Error("batch run failed", "err", err)
			os.Exit(1)
		}
		if report.AccountsFailed > 0 {
			slog.Warn("batch run partially completed", "failed", report.AccountsFailed)
			os.Exit(2)
		}
		return
	}

	// --- Daily schedule ---
	if cfg.CronEnabled {
		sched := scheduler.New()
		if err := sched.AddJob(cfg.CronSchedule, batch.NewDailyJob(rec, cfg.RunTimeout)); err != nil {
			slog.Error("invalid cron schedule", "schedule", cfg.CronSchedule, "err", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"corpact-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for adjustment events.
		r.Get("/ws", hub.HandleWS)

		// Manual batch trigger and run reports.
		r.Post("/reconcile", rec.HandleTrigger)
		r.Get("/runs/latest", rec.HandleLatestRun)

		// Ledger queries.
		r.Post("/accounts", rec.HandleCreateAccount)
		r.Get("/accounts/{accountID}", rec.HandleGetAccount)
		r.Get("/accounts/{accountID}/positions", rec.HandleListPositions)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Minute, // manual reconcile runs synchronously
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("corpact-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down corpact-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("corpact-engine stopped")
}
