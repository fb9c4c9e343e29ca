// The worker binary claims queued scan jobs and runs the drift
// detection pipeline for each.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/detect"
	"github.com/driftscope/backend/internal/metrics"
	"github.com/driftscope/backend/internal/pipeline"
	"github.com/driftscope/backend/internal/snapshot"
	"github.com/driftscope/backend/internal/store"
	"github.com/driftscope/backend/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx, db); err != nil {
		slog.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("Invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("Redis connected", "addr", opts.Addr)

	clk := clock.System{}
	behaviors := store.NewBehaviorRepo(db)
	conflicts := store.NewConflictRepo(db)
	events := store.NewDriftEventRepo(db)
	jobs := store.NewScanJobRepo(db)

	m := metrics.NewMetrics()
	builder := snapshot.NewBuilder(behaviors, conflicts, cfg, clk)
	writer := pipeline.NewEventWriter(events, rdb, cfg.DriftEventsStream)
	writer.SetMetrics(m)
	orchestrator := detect.NewOrchestrator(builder, events, writer, cfg, clk)

	pool := worker.NewPool(jobs, orchestrator, cfg, clk)
	pool.SetMetrics(m)
	if err := pool.Run(ctx); err != nil {
		slog.Error("Worker pool exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker stopped")
}
