// Package pipeline connects detection output to storage and the
// outbound stream.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/driftscope/backend/internal/metrics"
	"github.com/driftscope/backend/internal/model"
)

// Outbound stream retention cap, trimmed approximately on every add.
const outboundStreamMaxLen = 10000

// EventInserter is the slice of the drift-event repository the writer
// needs.
type EventInserter interface {
	Insert(ctx context.Context, e *model.DriftEvent) (string, error)
}

// EventWriter persists drift events and publishes drift.detected
// messages. The store is the authoritative record: publish failures are
// logged but never un-persist an event.
type EventWriter struct {
	repo    EventInserter
	rdb     redis.Cmdable
	stream  string
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewEventWriter(repo EventInserter, rdb redis.Cmdable, stream string) *EventWriter {
	return &EventWriter{repo: repo, rdb: rdb, stream: stream, log: slog.Default()}
}

// SetMetrics attaches optional Prometheus instruments.
func (w *EventWriter) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

// Write persists each event, then publishes the ones that stuck.
// Individual insert failures are logged and skipped, never abort the
// batch. Returns the ids that were persisted.
func (w *EventWriter) Write(ctx context.Context, events []*model.DriftEvent, ref, cur *model.Snapshot) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}
	w.log.Info("[EventWriter] Writing drift events", "count", len(events))

	persisted := make([]string, 0, len(events))
	for _, event := range events {
		id, err := w.repo.Insert(ctx, event)
		if err != nil {
			w.log.Error("[EventWriter] Failed to persist drift event",
				"drift_event_id", event.DriftEventID, "error", err)
			continue
		}
		persisted = append(persisted, id)
		if w.metrics != nil {
			w.metrics.RecordDriftEvent(string(event.DriftType), string(event.Severity), event.DriftScore)
		}

		if err := w.publish(ctx, event, ref, cur); err != nil {
			w.log.Error("[EventWriter] Failed to publish drift event",
				"drift_event_id", id, "error", err)
			continue
		}
		if w.metrics != nil {
			w.metrics.EventsPublished.Inc()
		}
	}
	return persisted, nil
}

func (w *EventWriter) publish(ctx context.Context, event *model.DriftEvent, ref, cur *model.Snapshot) error {
	targets, err := json.Marshal(event.AffectedTargets)
	if err != nil {
		return err
	}
	refWindow, err := json.Marshal(map[string]int64{
		"start": event.ReferenceWindowStart,
		"end":   event.ReferenceWindowEnd,
	})
	if err != nil {
		return err
	}
	curWindow, err := json.Marshal(map[string]int64{
		"start": event.CurrentWindowStart,
		"end":   event.CurrentWindowEnd,
	})
	if err != nil {
		return err
	}

	values := map[string]any{
		"event_type":       "drift.detected",
		"drift_event_id":   event.DriftEventID,
		"user_id":          event.UserID,
		"drift_type":       string(event.DriftType),
		"drift_score":      event.DriftScore,
		"confidence":       event.Confidence,
		"severity":         string(event.Severity),
		"affected_targets": string(targets),
		"detected_at":      event.DetectedAt,
		"reference_window": string(refWindow),
		"current_window":   string(curWindow),
	}
	if len(event.Evidence) > 0 {
		evidence, err := json.Marshal(event.Evidence)
		if err != nil {
			return err
		}
		values["evidence"] = string(evidence)
	}
	if ref != nil {
		values["reference_behavior_count"] = len(ref.Behaviors)
	}
	if cur != nil {
		values["current_behavior_count"] = len(cur.Behaviors)
	}

	messageID, err := w.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: w.stream,
		MaxLen: outboundStreamMaxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return err
	}

	w.log.Info("[EventWriter] Published drift event",
		"drift_event_id", event.DriftEventID,
		"stream", w.stream,
		"message_id", messageID)
	return nil
}
