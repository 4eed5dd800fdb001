/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fleet ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration, apply command-line overrides
  2. Open the store (SQLite or PostgreSQL)
  3. Connect the Redis projection cache when REDIS_ADDR is set
  4. Build the ledger engine with metrics as its observer
  5. Start the in-process integrity scheduler when no worker runs
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -addr    Listen address (overrides APP_ADDR)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, close cache and database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/fleet.db"

  # Run against PostgreSQL with the Redis cache
  STORE_DRIVER=postgres PG_DSN=postgres://... REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - cmd/worker/main.go: Scheduled integrity checks via asynq
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/warp/fleet-ledger/api"
	"github.com/warp/fleet-ledger/cache"
	"github.com/warp/fleet-ledger/config"
	"github.com/warp/fleet-ledger/fleet"
	"github.com/warp/fleet-ledger/jobs"
	"github.com/warp/fleet-ledger/ledger"
	"github.com/warp/fleet-ledger/observability"
	"github.com/warp/fleet-ledger/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Flags
	addr := flag.String("addr", cfg.AppAddr, "HTTP listen address")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()
	cfg.AppAddr = *addr
	cfg.SQLitePath = *dbPath

	logger := config.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics := observability.NewMetrics()
	engineCfg := ledger.Config{
		Logger:     logger,
		Observer:   metrics,
		TxTimeout:  cfg.TxTimeout,
		MaxRetries: cfg.SequenceMaxRetries,
		Tolerance:  cfg.Tolerance(),
	}

	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		engineCfg.Cache = cache.NewProjectionCache(client, cfg.CacheTTL, logger)
		logger.Info("projection cache enabled", slog.String("addr", cfg.RedisAddr))
	}

	engine := ledger.New(st, engineCfg)
	if n, err := fleet.EnsureDefaultCategories(ctx, engine); err != nil {
		return err
	} else if n > 0 {
		logger.Info("default categories created", slog.Int("count", n))
	}

	verifier := jobs.NewVerifier(engine, metrics, logger)
	handlerOpts := []api.HandlerOption{api.WithVerifier(verifier), api.WithLogger(logger)}

	// Without Redis there is no worker; run the integrity check in-process.
	if cfg.RedisAddr == "" {
		scheduler := jobs.NewScheduler(verifier, cfg.IntegrityInterval, logger)
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer queue.Close()
		handlerOpts = append(handlerOpts, api.WithJobQueue(queue))
	}

	handler := api.NewHandler(engine, handlerOpts...)
	router := api.NewRouter(handler, api.RouterOptions{
		Metrics:            metrics,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Production:         cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
