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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"creator-sync/api/internal/admin"
	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/deadletter"
	"creator-sync/api/internal/middleware"
	"creator-sync/api/internal/repos"
	"creator-sync/shared/authx"
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
	cfg, readyProblems := config.Load("sync-admin", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	for _, req := range []struct{ field, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"REDIS_ADDR", cfg.RedisAddr},
		{"OIDC_ISSUER", cfg.OIDCIssuer},
		{"OIDC_AUDIENCE", cfg.OIDCAudience},
	} {
		if strings.TrimSpace(req.value) == "" {
			readyProblems = append(readyProblems, config.Problem{Field: req.field, Message: req.field + " is required"})
		}
	}
	if len(cfg.KafkaBrokers) == 0 {
		readyProblems = append(readyProblems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if len(readyProblems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", readyProblems),
		)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdownTracer, err := observability.InitTracer(ctx, cfg)
	if err != nil {
		logger.Warn(ctx, "otel_init_failed", "tracing disabled", slog.String("error", err.Error()))
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}
	metricsx.Register()

	dbPool, err := dbx.NewPool(ctx, cfg)
	if err != nil {
		fatal(logger, "db_init_failed", "database init failed", err)
	}
	var db repos.DBTX = dbPool
	if cfg.StoreBreakerEnabled {
		db = repos.WithBreaker(dbPool, logger)
	}

	cache, err := cachex.New(cfg)
	if err != nil {
		fatal(logger, "redis_init_failed", "redis init failed", err)
	}
	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		fatal(logger, "kafka_init_failed", "kafka producer init failed", err)
	}
	verifier, err := authx.NewJWTVerifier(cfg)
	if err != nil {
		fatal(logger, "auth_init_failed", "failed to initialize JWT verifier", err)
	}

	opts := consistency.Options{
		MaxRetries: cfg.FailedWriteMaxRetries,
		SampleSize: cfg.ConsistencySampleSize,
		LockTTL:    cfg.SweepLockTTL(),
		Locker:     cache,
	}
	var history admin.History
	influx, err := influxx.New(cfg)
	if err != nil {
		logger.Warn(ctx, "influx_init_failed", "report history disabled", slog.String("error", err.Error()))
	}
	if influx != nil {
		opts.Sink = influx
		history = influx
	}

	checker := consistency.NewService(repos.NewStore(db), cache, logger, opts)
	dlq := deadletter.NewService(cache, producer, logger, cfg.DLQAlertThreshold)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsx.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"})
			return
		}
		if err := cache.Ping(r.Context()); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "service not ready: cache unavailable",
				map[string]any{"problem": "redis_ping_failed"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ready", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	admin.New(checker, dlq, history, logger).Register(mux)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	public := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}

	var handler http.Handler = httpx.WrapServeMux(mux, notFound)
	handler = middleware.AuditMiddleware{Enabled: true, Logger: logger, Skip: public}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewRateLimiter(float64(cfg.AdminRateLimitRPS), cfg.AdminRateLimitBurst, 2*time.Minute),
		Skip:    public,
	}.Wrap(handler)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		Role:     cfg.AdminRole,
		Logger:   logger,
		Skip:     public,
	}.Wrap(handler)
	handler = httpx.Chain(logger, cfg.RequestTimeout, handler)
	handler = otelhttp.NewHandler(handler, "admin-http")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting admin service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
			slog.Bool("report_history", history != nil),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if influx != nil {
		influx.Close()
	}
	_ = producer.Close()
	_ = cache.Close()
	dbPool.Close()
	logger.Info(context.Background(), "service_stop", "service stopped")
}

func fatal(logger logx.Logger, event string, msg string, err error) {
	logger.Error(context.Background(), event, msg,
		slog.String("error_code", "FAILED_PRECONDITION"),
		slog.String("error", err.Error()),
	)
	os.Exit(1)
}
