// Relay Run Scheduler — продвигает bulk runs.
//
// Каждый цикл:
//   - Выбирает due runs (queued с наступившим start_at, waiting с
//     наступившим next_step_at)
//   - Атомарно захватывает run
//   - Обходит flow до wait или конца
//   - Публикует jobs для всех активных подписчиков страниц run
//
// Несколько экземпляров безопасны: run обрабатывает тот, кто его захватил.
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

	"github.com/shaiso/Relay/internal/api"
	"github.com/shaiso/Relay/internal/config"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/scheduler"
	"github.com/shaiso/Relay/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(telemetry.LogOptions{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting relay-run-scheduler")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	schedule, err := scheduler.ParseSchedule(cfg.PollSchedule, cfg.PollInterval())
	if err != nil {
		logger.Error("invalid poll schedule", "error", err)
		os.Exit(1)
	}

	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DatabaseURL(), MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "relay-run-scheduler", logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	publisher := mq.NewPublisher(mqConn, logger)
	defer publisher.Close()

	processor := scheduler.NewBulkProcessor(scheduler.BulkConfig{
		Runs:         repo.NewRunRepo(pool),
		Flows:        repo.NewFlowRepo(pool),
		Pages:        repo.NewPageRepo(pool),
		Subscribers:  repo.NewSubscriberRepo(pool),
		Publisher:    publisher,
		Engine:       engine.New(),
		Logger:       logger,
		BatchSize:    cfg.RunBatchSize,
		MessageDelay: cfg.MessageDelay(),
	})

	poller := &scheduler.Poller{
		Name:     "run",
		Schedule: schedule,
		Cycle:    processor.Cycle,
		Logger:   logger,
	}

	// HTTP: /healthz, /health, /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	api.NewHandler(api.Config{Service: "relay-run-scheduler", DB: pool, Logger: logger}).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.SchedulerPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Run блокируется до сигнала и дожидается текущего цикла
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("poller stopped", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("relay-run-scheduler stopped")
}
