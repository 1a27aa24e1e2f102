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

	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/deadletter"
	"creator-sync/api/internal/dispatch"
	"creator-sync/api/internal/handlers"
	"creator-sync/api/internal/repos"
	"creator-sync/shared/cachex"
	"creator-sync/shared/config"
	"creator-sync/shared/dbx"
	"creator-sync/shared/httpx"
	"creator-sync/shared/influxx"
	"creator-sync/shared/logx"
	"creator-sync/shared/metricsx"
	"creator-sync/shared/mqx"
	"creator-sync/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, problems := config.Load("sync-consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg)
	if err != nil {
		logger.Warn(ctx, "otel_init_failed", "tracing disabled",
			slog.String("error", err.Error()),
		)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}
	metricsx.Register()

	dbPool, err := dbx.NewPool(ctx, cfg)
	if err != nil {
		fatal(logger, "db_init_failed", "db init failed", err)
	}
	defer dbPool.Close()
	if cfg.DBAutoMigrate {
		if err := repos.Migrate(ctx, dbPool); err != nil {
			fatal(logger, "db_migrate_failed", "schema migration failed", err)
		}
	}

	var db repos.DBTX = dbPool
	if cfg.StoreBreakerEnabled {
		db = repos.WithBreaker(dbPool, logger)
	}
	store := repos.NewStore(db)

	cache, err := cachex.New(cfg)
	if err != nil {
		fatal(logger, "redis_init_failed", "redis init failed", err)
	}
	defer func() { _ = cache.Close() }()

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		fatal(logger, "kafka_init_failed", "kafka producer init failed", err)
	}
	defer func() { _ = producer.Close() }()

	bus, err := mqx.NewConsumer(cfg, logger)
	if err != nil {
		fatal(logger, "kafka_init_failed", "kafka consumer init failed", err)
	}

	opts := consistency.Options{
		Interval:   cfg.RetryInterval(),
		MaxRetries: cfg.FailedWriteMaxRetries,
		SampleSize: cfg.ConsistencySampleSize,
		LockTTL:    cfg.SweepLockTTL(),
		Locker:     cache,
	}
	influx, err := influxx.New(cfg)
	if err != nil {
		logger.Warn(ctx, "influx_init_failed", "report history disabled",
			slog.String("error", err.Error()),
		)
	}
	if influx != nil {
		defer influx.Close()
		opts.Sink = influx
	}

	retrier := consistency.NewService(store, cache, logger, opts)
	dlq := deadletter.NewService(cache, producer, logger, cfg.DLQAlertThreshold)
	h := handlers.New(store, cache, retrier, logger)
	dispatcher := dispatch.New(bus, dlq, logger, h.Routes())

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           probes(cfg, version, dbPool.Ping, cache.Ping, problems),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http_server_failed", "probe server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
	}()

	retrier.Start(ctx)

	logger.Info(ctx, "service_start", "sync consumer starting",
		slog.String("group", cfg.KafkaGroupID),
		slog.Int("routes", len(h.Routes())),
		slog.Int("http_port", cfg.HTTPPort),
		slog.Bool("store_breaker", cfg.StoreBreakerEnabled),
	)
	runErr := dispatcher.Start(ctx)

	retrier.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	if runErr != nil {
		logger.Error(context.Background(), "consumer_failed", "consumer stopped with error",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", runErr.Error()),
		)
		os.Exit(1)
	}
	logger.Info(context.Background(), "service_stop", "sync consumer stopped")
}

func probes(cfg config.Config, version string, pingDB func(context.Context) error, pingCache func(context.Context) error, problems []config.Problem) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsx.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(problems) > 0 {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "service not ready: invalid configuration",
				map[string]any{"problems": problems})
			return
		}
		if err := pingDB(r.Context()); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"})
			return
		}
		if err := pingCache(r.Context()); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "service not ready: cache unavailable",
				map[string]any{"problem": "redis_ping_failed"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ready", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	return httpx.WithRequestID(mux)
}

func fatal(logger logx.Logger, event string, msg string, err error) {
	logger.Error(context.Background(), event, msg,
		slog.String("error_code", "FAILED_PRECONDITION"),
		slog.String("error", err.Error()),
	)
	os.Exit(1)
}
