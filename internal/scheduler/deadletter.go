package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/metrics"
)

const (
	deadLetterStreamMaxLen = 1000
	deadLetterScanBatch    = 100
)

// DeadLetterStream derives the DLQ stream name from the inbound stream.
func DeadLetterStream(inbound string) string {
	return inbound + ".deadletter"
}

// DeadLetterReaper moves messages stuck in the consumer group's
// pending-entries list to a capped dead-letter stream for inspection.
type DeadLetterReaper struct {
	rdb     *redis.Client
	cfg     *config.Config
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewDeadLetterReaper(rdb *redis.Client, cfg *config.Config, clk clock.Clock) *DeadLetterReaper {
	return &DeadLetterReaper{rdb: rdb, cfg: cfg, clock: clk, log: slog.Default()}
}

// SetMetrics attaches optional Prometheus instruments.
func (r *DeadLetterReaper) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Reap inspects pending entries and dead-letters those idle beyond the
// threshold with too many delivery attempts. Returns the count moved.
// Redis problems are logged and swallowed so the scheduler keeps going.
func (r *DeadLetterReaper) Reap(ctx context.Context) int {
	pending, err := r.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.BehaviorEventsStream,
		Group:  r.cfg.ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  deadLetterScanBatch,
	}).Result()
	if err != nil {
		if !isNoGroupError(err) {
			r.log.Error("[DeadLetter] Failed to read pending entries", "error", err)
		}
		return 0
	}

	nowMS := r.clock.Now().UnixMilli()
	moved := 0
	for _, entry := range pending {
		idleMS := entry.Idle.Milliseconds()
		if idleMS <= r.cfg.DeadLetterIdleThresholdMS ||
			entry.RetryCount < r.cfg.DeadLetterMaxDeliveryAttempts {
			continue
		}

		r.log.Warn("[DeadLetter] Found dead letter",
			"message_id", entry.ID,
			"idle_ms", idleMS,
			"delivery_attempts", entry.RetryCount)

		if err := r.moveToDeadLetter(ctx, entry, nowMS); err != nil {
			r.log.Error("[DeadLetter] Failed to dead-letter message",
				"message_id", entry.ID, "error", err)
			continue
		}
		moved++
		if r.metrics != nil {
			r.metrics.DeadLetters.Inc()
		}
	}

	if moved > 0 {
		r.log.Warn("[DeadLetter] Messages moved to dead letter queue, inspection required",
			"count", moved)
	}
	return moved
}

func (r *DeadLetterReaper) moveToDeadLetter(ctx context.Context, entry redis.XPendingExt, nowMS int64) error {
	// Forcibly take ownership before re-reading the payload.
	messages, _, err := r.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   r.cfg.BehaviorEventsStream,
		Group:    r.cfg.ConsumerGroup,
		Consumer: r.cfg.ConsumerName,
		MinIdle:  time.Duration(r.cfg.DeadLetterIdleThresholdMS) * time.Millisecond,
		Start:    entry.ID,
		Count:    1,
	}).Result()
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if len(messages) == 0 {
		return fmt.Errorf("message %s no longer claimable", entry.ID)
	}
	message := messages[0]

	values := make(map[string]any, len(message.Values)+4)
	for k, v := range message.Values {
		values[k] = v
	}
	values["failed_at"] = nowMS
	values["delivery_attempts"] = entry.RetryCount
	values["idle_time_ms"] = entry.Idle.Milliseconds()
	values["original_stream"] = r.cfg.BehaviorEventsStream

	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(r.cfg.BehaviorEventsStream),
		MaxLen: deadLetterStreamMaxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("append to dead letter stream: %w", err)
	}

	if err := r.rdb.XAck(ctx, r.cfg.BehaviorEventsStream, r.cfg.ConsumerGroup, message.ID).Err(); err != nil {
		return fmt.Errorf("ack original: %w", err)
	}

	r.log.Info("[DeadLetter] Moved message to dead letter queue",
		"message_id", message.ID,
		"stream", DeadLetterStream(r.cfg.BehaviorEventsStream))
	return nil
}

// DeadLetterCount returns the current DLQ stream length, 0 when the
// stream does not exist yet.
func (r *DeadLetterReaper) DeadLetterCount(ctx context.Context) int64 {
	length, err := r.rdb.XLen(ctx, DeadLetterStream(r.cfg.BehaviorEventsStream)).Result()
	if err != nil {
		return 0
	}
	return length
}

// InspectDeadLetters returns the newest dead letters for debugging.
func (r *DeadLetterReaper) InspectDeadLetters(ctx context.Context, limit int64) []redis.XMessage {
	messages, err := r.rdb.XRevRangeN(ctx, DeadLetterStream(r.cfg.BehaviorEventsStream), "+", "-", limit).Result()
	if err != nil {
		return nil
	}
	return messages
}

func isNoGroupError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}
