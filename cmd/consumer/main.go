// The consumer binary reads behavior events from the inbound stream and
// projects them into the store, enqueueing scans as users become
// eligible.
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
	"github.com/driftscope/backend/internal/consumer"
	"github.com/driftscope/backend/internal/metrics"
	"github.com/driftscope/backend/internal/store"
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
	jobs := store.NewScanJobRepo(db)

	m := metrics.NewMetrics()
	handler := consumer.NewEventHandler(behaviors, conflicts, jobs, cfg, clk)
	handler.SetMetrics(m)
	stream := consumer.NewStreamConsumer(rdb, handler, cfg)
	stream.SetMetrics(m)

	if err := stream.Run(ctx); err != nil {
		slog.Error("Consumer exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Consumer stopped")
}
