package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cartloom/conveyor/internal/config"
	"github.com/cartloom/conveyor/internal/logging"
	"github.com/cartloom/conveyor/internal/pipeline"
	"github.com/cartloom/conveyor/internal/profiles/catalog"
	"github.com/cartloom/conveyor/internal/queue"
	"github.com/cartloom/conveyor/internal/store/postgres"
	"github.com/cartloom/conveyor/internal/web"
	"github.com/cartloom/conveyor/internal/worker"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"workers", cfg.Pipeline.Workers,
		"job_timeout", cfg.Pipeline.JobTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns), int32(cfg.Database.MinConns))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("connected to database")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to redis", "addr", cfg.Redis.Addr)

	jobs := postgres.NewJobStore(pool)
	rows := postgres.NewRowStore(pool)
	msgQueue := queue.NewRedis(rdb, cfg.Redis.QueueKey)

	state := pipeline.NewStateService(jobs)
	state.Subscribe(func(n pipeline.Notification) {
		slog.Info("job state changed",
			"job_id", n.JobID,
			"profile", n.Profile,
			"from", n.From,
			"to", n.To,
		)
	})

	sched := pipeline.NewScheduler(jobs, rows, msgQueue, state, pipeline.SchedulerOptions{
		JobTimeout:       cfg.Pipeline.JobTimeout,
		DefaultChunkSize: cfg.Pipeline.ChunkSize,
	})
	sched.Use(func(_ pipeline.Message, metadata map[string]string) error {
		metadata["enqueued_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		return nil
	})

	service := pipeline.NewService(jobs, rows, sched)

	// Register business profiles.
	filesDir := os.Getenv("CONVEYOR_FILES_DIR")
	if filesDir == "" {
		filesDir = "files"
	}
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		slog.Error("failed to create files directory", "dir", filesDir, "error", err)
		os.Exit(1)
	}
	catalog.Register(rows, catalog.NewPGProductStore(pool), catalog.Dir{Root: filesDir})
	slog.Info("profiles registered", "profiles", pipeline.Profiles())

	// Message consumption: worker pool plus the stale-message reaper.
	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	workers := worker.NewPool(msgQueue, sched, cfg.Pipeline.Workers)
	go func() {
		if err := workers.Run(pipelineCtx); err != nil {
			slog.Error("worker pool exited", "error", err)
		}
	}()
	go worker.RunReaper(pipelineCtx, msgQueue, cfg.Pipeline.ReaperInterval, cfg.Pipeline.ReaperBatch)

	server := web.NewServer(service, cfg.Server)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		cancelPipeline()
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
