package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/warp/fleet-ledger/config"
	"github.com/warp/fleet-ledger/jobs"
	"github.com/warp/fleet-ledger/ledger"
	"github.com/warp/fleet-ledger/observability"
	"github.com/warp/fleet-ledger/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required for the worker")
		os.Exit(1)
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	metrics := observability.NewMetrics()
	engine := ledger.New(st, ledger.Config{
		Logger:     logger,
		Observer:   metrics,
		TxTimeout:  cfg.TxTimeout,
		MaxRetries: cfg.SequenceMaxRetries,
		Tolerance:  cfg.Tolerance(),
	})
	verifier := jobs.NewVerifier(engine, metrics, logger)

	verifyTask, err := jobs.NewVerifyBalancesTask()
	if err != nil {
		logger.Error("build verify task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskVerifyBalances, Handler: jobs.VerifyBalancesHandler(verifier, metrics.TrackJob)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.VerifyEvery(cfg.IntegrityInterval), Task: verifyTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
