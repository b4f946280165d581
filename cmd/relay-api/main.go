// Relay API — операционный HTTP API.
//
// Endpoints: здоровье процесса и БД, глубина очередей, сводки runs,
// статистика и сброс per-page rate limit, удаление jobs по run.
// Состояние circuit breaker и log writer отдаёт каждый воркер сам.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Relay/internal/api"
	"github.com/shaiso/Relay/internal/config"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/purge"
	"github.com/shaiso/Relay/internal/ratelimit"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

var startTime = time.Now()

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(telemetry.LogOptions{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting relay-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DatabaseURL(), MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	apiCfg := api.Config{
		Service:   "relay-api",
		DB:        pool,
		Summaries: repo.NewSummaryRepo(pool),
		Logger:    logger,
	}

	// RabbitMQ нужен только для /stats/queue
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "relay-api", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, queue stats disabled", "error", err)
	} else {
		defer mqConn.Close()
		apiCfg.Queue = mq.NewInspector(mqConn)
	}

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		logger.Error("invalid redis configuration", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
	}
	apiCfg.RateLimits = ratelimit.New(rdb, ratelimit.Config{
		Limit:  cfg.RateLimitPerPage,
		Window: cfg.RateLimitWindow(),
		Logger: logger,
	})
	apiCfg.Purger = purge.New(rdb, purge.DefaultTTL, logger)

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	api.NewHandler(apiCfg).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
