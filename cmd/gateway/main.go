package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/relayworks/mirage-gateway/internal/auth"
	"github.com/relayworks/mirage-gateway/internal/config"
	"github.com/relayworks/mirage-gateway/internal/dump"
	"github.com/relayworks/mirage-gateway/internal/gateway"
	"github.com/relayworks/mirage-gateway/internal/policy"
	"github.com/relayworks/mirage-gateway/internal/ratelimit"
	"github.com/relayworks/mirage-gateway/internal/reqctx"
	"github.com/relayworks/mirage-gateway/internal/router"
	"github.com/relayworks/mirage-gateway/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(bootstrapLogger)

	loader := config.NewLoader(*configDir, bootstrapLogger)
	if err := loader.Load(); err != nil {
		bootstrapLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.Watch(); err != nil {
		bootstrapLogger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()
	logger := buildLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	// PostgreSQL: API key storage.
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (gateway will start but auth will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Redis: key cache, rate limits, token budgets.
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (cache and rate limits fail open)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	health := router.NewHealthTracker(
		cfg.Routing.CircuitBreaker.FailureThreshold,
		cfg.Routing.CircuitBreaker.RecoveryProbeInterval,
	)
	rt := router.New(loader.Models(), router.BuildFromConfig(loader.Providers()), health)
	loader.OnReload(func() {
		rt.SetModels(loader.Models())
		rt.SetRegistry(router.BuildFromConfig(loader.Providers()))
		logger.Info("routing configuration reloaded")
	})

	evaluator := policy.NewEvaluator(func() config.PolicyConfig { return loader.Config().Policy })
	if loader.Config().Policy.Enabled {
		if err := evaluator.Load(); err != nil {
			logger.Error("failed to load policies (policy gate fails closed)", "error", err)
		}
		loader.OnReload(func() {
			if err := evaluator.Load(); err != nil {
				logger.Error("policy reload failed", "error", err)
			}
		})
	}

	dumper := dump.New(
		func() config.DumpConfig { return loader.Config().Dump },
		metrics.RecordDumpFailure,
	)

	keyStore := auth.NewCachedKeyStore(dbPool, rdb)
	limiter := ratelimit.NewLimiter(rdb)
	budget := ratelimit.NewBudgetTracker(rdb)

	handler := gateway.NewHandler(rt,
		func() *config.Config { return loader.Config() },
		dumper, evaluator, budget, metrics)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestContextMiddleware)

	r.Get("/mirage/v1/health", healthHandler(rt))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(keyStore))
		r.Use(ratelimit.Middleware(limiter, budget, metrics))
		r.Post("/v1/messages", handler.Messages)
		r.Post("/v1/chat/completions", handler.ChatCompletions)
		r.Get("/v1/models", handler.ListModels)
	})

	// Metrics on their own listener, never exposed on the serving port.
	if port := cfg.Telemetry.MetricsPort; port > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", port)
			logger.Info("metrics listener starting", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func buildLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
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
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// requestContextMiddleware binds a fresh request context with a new
// correlation id into every request and echoes the id to the client.
func requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := reqctx.New()
		w.Header().Set("X-Request-ID", rc.CorrelationID)
		next.ServeHTTP(w, r.WithContext(reqctx.WithRequestContext(r.Context(), rc)))
	})
}

func healthHandler(rt *router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"version":   version,
			"providers": rt.Health().Snapshot(),
		})
	}
}
