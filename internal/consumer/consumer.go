package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/metrics"
)

const (
	reconnectBaseDelay   = time.Second
	reconnectMaxDelay    = 30 * time.Second
	reconnectMaxAttempts = 5
)

// Handler processes one parsed inbound event.
type Handler interface {
	HandleEvent(ctx context.Context, eventID string, data map[string]any) error
}

// StreamConsumer reads the inbound behavior stream in consumer-group
// mode. Multiple instances may coexist; the group guarantees each entry
// is delivered to exactly one live consumer at a time.
type StreamConsumer struct {
	rdb     *redis.Client
	handler Handler
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewStreamConsumer(rdb *redis.Client, handler Handler, cfg *config.Config) *StreamConsumer {
	return &StreamConsumer{rdb: rdb, handler: handler, cfg: cfg, log: slog.Default()}
}

// SetMetrics attaches optional Prometheus instruments.
func (c *StreamConsumer) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Run drives the consume loop until ctx is cancelled. Connection errors
// trigger reconnects with exponential backoff; after too many
// consecutive failures the loop stops with the last error.
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.log.Info("[Consumer] Started",
		"stream", c.cfg.BehaviorEventsStream,
		"group", c.cfg.ConsumerGroup,
		"consumer", c.cfg.ConsumerName)

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			c.log.Info("[Consumer] Shutting down")
			return nil
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.ConsumerGroup,
			Consumer: c.cfg.ConsumerName,
			Streams:  []string{c.cfg.BehaviorEventsStream, ">"},
			Count:    int64(c.cfg.MaxEventsPerRead),
			Block:    time.Duration(c.cfg.RedisBlockMS) * time.Millisecond,
		}).Result()

		if err == redis.Nil {
			failures = 0
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.log.Info("[Consumer] Shutting down")
				return nil
			}
			failures++
			if failures >= reconnectMaxAttempts {
				c.log.Error("[Consumer] Giving up after repeated read failures",
					"attempts", failures, "error", err)
				return err
			}
			delay := backoffDelay(failures)
			c.log.Warn("[Consumer] Stream read failed, backing off",
				"attempt", failures, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			// The group may have been lost along with the connection.
			if err := c.ensureGroup(ctx); err != nil {
				c.log.Warn("[Consumer] Group ensure failed during reconnect", "error", err)
			}
			continue
		}
		failures = 0

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.processMessage(ctx, message)
			}
		}
	}
}

// ensureGroup creates the consumer group from the start of the stream,
// creating the stream itself if needed. An existing group is fine.
func (c *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.BehaviorEventsStream, c.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// processMessage parses and dispatches one entry, acking only on
// success. Failed messages stay in the pending-entries list for
// redelivery or the dead-letter reaper.
func (c *StreamConsumer) processMessage(ctx context.Context, message redis.XMessage) {
	data := parseFields(message.Values)
	eventType, _ := data["event_type"].(string)

	if err := c.handler.HandleEvent(ctx, message.ID, data); err != nil {
		c.log.Error("[Consumer] Event handling failed, leaving pending",
			"message_id", message.ID, "error", err)
		if c.metrics != nil {
			c.metrics.RecordEventConsumed(eventType, "failed")
		}
		return
	}
	if c.metrics != nil {
		c.metrics.RecordEventConsumed(eventType, "handled")
	}

	if err := c.rdb.XAck(ctx, c.cfg.BehaviorEventsStream, c.cfg.ConsumerGroup, message.ID).Err(); err != nil {
		c.log.Error("[Consumer] Failed to ack message",
			"message_id", message.ID, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.EventsAcked.Inc()
	}
}

// parseFields converts raw stream fields into typed values: JSON
// objects/arrays are decoded, numeric strings become numbers, the rest
// stay strings.
func parseFields(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, raw := range values {
		s, ok := raw.(string)
		if !ok {
			out[key] = raw
			continue
		}
		out[key] = parseValue(s)
	}
	return out
}

func parseValue(s string) any {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return s
}

func backoffDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay << (attempt - 1)
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}
	return delay
}
