package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/jobs"
	"creator-sync/api/internal/repos"
	"creator-sync/shared/cachex"
	"creator-sync/shared/config"
	"creator-sync/shared/dbx"
	"creator-sync/shared/influxx"
	"creator-sync/shared/logx"
	"creator-sync/shared/metricsx"
	"creator-sync/shared/observability"
)

func main() {
	cfg, problems := config.Load("repair-worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		cfg.AsynqRedisAddr = cfg.RedisAddr
		cfg.AsynqRedisPass = cfg.RedisPassword
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), cfg)
	if err == nil {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}
	metricsx.Register()

	dbPool, err := dbx.NewPool(context.Background(), cfg)
	if err != nil {
		fatal(logger, "db_init_failed", "db init failed", err)
	}
	defer dbPool.Close()
	var db repos.DBTX = dbPool
	if cfg.StoreBreakerEnabled {
		db = repos.WithBreaker(dbPool, logger)
	}

	cache, err := cachex.New(cfg)
	if err != nil {
		fatal(logger, "redis_init_failed", "redis init failed", err)
	}
	defer func() { _ = cache.Close() }()

	opts := consistency.Options{
		SampleSize: cfg.ConsistencySampleSize,
		MaxRetries: cfg.FailedWriteMaxRetries,
		Locker:     cache,
	}
	if influx, err := influxx.New(cfg); err != nil {
		logger.Warn(context.Background(), "influx_init_failed", "report history disabled",
			slog.String("error", err.Error()),
		)
	} else if influx != nil {
		defer influx.Close()
		opts.Sink = influx
	}
	auditor := consistency.NewService(repos.NewStore(db), cache, logger, opts)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskConsistencyRepair, jobs.RepairHandler(auditor, logger))

	task, err := jobs.NewRepairTask(cfg.AsynqQueue, false)
	if err != nil {
		fatal(logger, "scheduler_init_failed", "scheduler init failed", err)
	}
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.RepairIntervalSec)+"s", task, asynq.Unique(time.Duration(cfg.RepairIntervalSec)*time.Second)); err != nil {
		fatal(logger, "scheduler_init_failed", "scheduler init failed", err)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	metricsServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           metricsx.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "metrics_server_failed", "metrics server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "repair worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Int("repair_interval_seconds", cfg.RepairIntervalSec),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info(context.Background(), "worker_stop", "repair worker stopped")
}

func fatal(logger logx.Logger, event string, msg string, err error) {
	logger.Error(context.Background(), event, msg,
		slog.String("error_code", "FAILED_PRECONDITION"),
		slog.String("error", err.Error()),
	)
	os.Exit(1)
}
