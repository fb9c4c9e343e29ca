// Package consumer reads behavior events from the inbound stream and
// projects them into the store, enqueuing drift scans as data arrives.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/metrics"
	"github.com/driftscope/backend/internal/model"
)

// Event types accepted from the inbound stream.
const (
	EventBehaviorCreated    = "behavior.created"
	EventBehaviorReinforced = "behavior.reinforced"
	EventBehaviorSuperseded = "behavior.superseded"
	EventConflictResolved   = "behavior.conflict.resolved"
)

// seenCacheCap bounds the idempotency set; the oldest half is evicted
// when full. Process-local only: cross-process duplicates stay safe
// because every projection write is idempotent against the store.
const seenCacheCap = 10000

// BehaviorStore is the projection surface the handler writes behaviors to.
type BehaviorStore interface {
	Upsert(ctx context.Context, b *model.Behavior) error
	Get(ctx context.Context, userID, behaviorID string) (*model.Behavior, error)
	UpdateReinforcement(ctx context.Context, userID, behaviorID string, count int, credibility float64, lastSeenAt, updatedAt int64) error
	MarkSuperseded(ctx context.Context, userID, behaviorID string, updatedAt int64) error
	CountActive(ctx context.Context, userID string) (int, error)
}

// ConflictStore records resolved conflicts.
type ConflictStore interface {
	Insert(ctx context.Context, c *model.Conflict) error
}

// JobQueue is the scan-enqueue surface.
type JobQueue interface {
	Enqueue(ctx context.Context, userID, triggerEvent, priority string, scheduledAt int64) (string, error)
	HasNonTerminal(ctx context.Context, userID string) (bool, error)
	LastCompletedAt(ctx context.Context, userID string) (int64, error)
}

// EventHandler dispatches parsed inbound events by type and applies the
// scan-enqueue gate.
type EventHandler struct {
	behaviors BehaviorStore
	conflicts ConflictStore
	jobs      JobQueue
	cfg       *config.Config
	clock     clock.Clock
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	seen     map[string]struct{}
	seenList []string
}

func NewEventHandler(behaviors BehaviorStore, conflicts ConflictStore, jobs JobQueue, cfg *config.Config, clk clock.Clock) *EventHandler {
	return &EventHandler{
		behaviors: behaviors,
		conflicts: conflicts,
		jobs:      jobs,
		cfg:       cfg,
		clock:     clk,
		log:       slog.Default(),
		seen:      make(map[string]struct{}),
	}
}

// SetMetrics attaches optional Prometheus instruments.
func (h *EventHandler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// HandleEvent processes one inbound event. A nil return means the
// message may be acked; errors leave it pending for redelivery.
func (h *EventHandler) HandleEvent(ctx context.Context, eventID string, data map[string]any) error {
	if h.alreadySeen(eventID) {
		h.log.Debug("[EventHandler] Skipping duplicate event", "event_id", eventID)
		return nil
	}

	eventType := getString(data, "event_type")
	if eventType == "" {
		h.log.Warn("[EventHandler] Event missing event_type, dropping", "event_id", eventID)
		return nil
	}

	// Fields may sit at the top level or be packed as a JSON string
	// under "payload". Accept both shapes.
	payload := data
	if raw, ok := data["payload"]; ok {
		switch v := raw.(type) {
		case map[string]any:
			payload = v
		case string:
			var parsed map[string]any
			if err := json.Unmarshal([]byte(v), &parsed); err != nil {
				return fmt.Errorf("parse payload of event %s: %w", eventID, err)
			}
			payload = parsed
		}
	}

	var err error
	switch eventType {
	case EventBehaviorCreated:
		err = h.onBehaviorCreated(ctx, payload)
	case EventBehaviorReinforced:
		err = h.onBehaviorReinforced(ctx, payload)
	case EventBehaviorSuperseded:
		err = h.onBehaviorSuperseded(ctx, payload)
	case EventConflictResolved:
		err = h.onConflictResolved(ctx, payload)
	default:
		h.log.Warn("[EventHandler] Unknown event type, dropping",
			"event_id", eventID, "event_type", eventType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("handle %s event %s: %w", eventType, eventID, err)
	}

	h.markSeen(eventID)
	return nil
}

func (h *EventHandler) onBehaviorCreated(ctx context.Context, payload map[string]any) error {
	userID := getString(payload, "user_id")
	behaviorID := getString(payload, "behavior_id")
	if userID == "" || behaviorID == "" {
		h.log.Warn("[EventHandler] behavior.created missing user_id or behavior_id")
		return nil
	}

	now := h.clock.Now().Unix()
	createdAt := getInt64(payload, "created_at", now)
	b := &model.Behavior{
		UserID:             userID,
		BehaviorID:         behaviorID,
		Target:             getString(payload, "target"),
		Intent:             getString(payload, "intent"),
		Context:            getString(payload, "context"),
		Polarity:           getStringDefault(payload, "polarity", model.PolarityNeutral),
		Credibility:        getFloat(payload, "credibility", 0.5),
		ReinforcementCount: getInt(payload, "reinforcement_count", 1),
		State:              getStringDefault(payload, "state", model.StateActive),
		CreatedAt:          createdAt,
		LastSeenAt:         getInt64(payload, "last_seen_at", createdAt),
		SnapshotUpdatedAt:  now,
	}
	if err := h.behaviors.Upsert(ctx, b); err != nil {
		return err
	}
	h.MaybeEnqueueScan(ctx, userID, EventBehaviorCreated, model.PriorityNormal)
	return nil
}

func (h *EventHandler) onBehaviorReinforced(ctx context.Context, payload map[string]any) error {
	userID := getString(payload, "user_id")
	behaviorID := getString(payload, "behavior_id")
	if userID == "" || behaviorID == "" {
		h.log.Warn("[EventHandler] behavior.reinforced missing user_id or behavior_id")
		return nil
	}

	behavior, err := h.behaviors.Get(ctx, userID, behaviorID)
	if err != nil {
		return err
	}
	if behavior == nil {
		h.log.Warn("[EventHandler] Cannot reinforce unknown behavior",
			"user_id", userID, "behavior_id", behaviorID)
		return nil
	}

	now := h.clock.Now().Unix()
	count := getInt(payload, "new_reinforcement_count", behavior.ReinforcementCount+1)
	credibility := getFloat(payload, "new_credibility", behavior.Credibility)
	lastSeenAt := getInt64(payload, "last_seen_at", now)

	if err := h.behaviors.UpdateReinforcement(ctx, userID, behaviorID, count, credibility, lastSeenAt, now); err != nil {
		return err
	}
	h.MaybeEnqueueScan(ctx, userID, EventBehaviorReinforced, model.PriorityNormal)
	return nil
}

func (h *EventHandler) onBehaviorSuperseded(ctx context.Context, payload map[string]any) error {
	userID := getString(payload, "user_id")
	behaviorID := getString(payload, "old_behavior_id")
	if userID == "" || behaviorID == "" {
		h.log.Warn("[EventHandler] behavior.superseded missing user_id or old_behavior_id")
		return nil
	}

	if err := h.behaviors.MarkSuperseded(ctx, userID, behaviorID, h.clock.Now().Unix()); err != nil {
		return err
	}
	h.MaybeEnqueueScan(ctx, userID, EventBehaviorSuperseded, model.PriorityNormal)
	return nil
}

func (h *EventHandler) onConflictResolved(ctx context.Context, payload map[string]any) error {
	userID := getString(payload, "user_id")
	conflictID := getString(payload, "conflict_id")
	if userID == "" || conflictID == "" {
		h.log.Warn("[EventHandler] conflict.resolved missing user_id or conflict_id")
		return nil
	}

	c := &model.Conflict{
		UserID:           userID,
		ConflictID:       conflictID,
		BehaviorID1:      getString(payload, "behavior_id_1"),
		BehaviorID2:      getString(payload, "behavior_id_2"),
		ConflictType:     getStringDefault(payload, "conflict_type", "UNKNOWN"),
		ResolutionStatus: getStringDefault(payload, "resolution_status", "UNRESOLVED"),
		OldPolarity:      getString(payload, "old_polarity"),
		NewPolarity:      getString(payload, "new_polarity"),
		OldTarget:        getString(payload, "old_target"),
		NewTarget:        getString(payload, "new_target"),
		CreatedAt:        getInt64(payload, "created_at", h.clock.Now().Unix()),
	}
	if err := h.conflicts.Insert(ctx, c); err != nil {
		return err
	}
	// Conflicts are strong drift signals.
	h.MaybeEnqueueScan(ctx, userID, EventConflictResolved, model.PriorityHigh)
	return nil
}

// MaybeEnqueueScan enqueues a drift scan when all three gates hold: no
// non-terminal job for the user, scan cooldown elapsed, and enough
// active behaviors. Enqueue problems are logged, not returned: the
// projection write already succeeded and must be acked.
func (h *EventHandler) MaybeEnqueueScan(ctx context.Context, userID, trigger, priority string) {
	busy, err := h.jobs.HasNonTerminal(ctx, userID)
	if err != nil {
		h.log.Error("[EventHandler] Scan gate check failed", "user_id", userID, "error", err)
		return
	}
	if busy {
		h.log.Debug("[EventHandler] Scan already queued or running", "user_id", userID)
		return
	}

	last, err := h.jobs.LastCompletedAt(ctx, userID)
	if err != nil {
		h.log.Error("[EventHandler] Cooldown check failed", "user_id", userID, "error", err)
		return
	}
	if last > 0 {
		elapsed := h.clock.Now().Unix() - last
		if elapsed < h.cfg.ScanCooldownSeconds {
			h.log.Debug("[EventHandler] Scan cooldown not met",
				"user_id", userID, "elapsed_seconds", elapsed)
			return
		}
	}

	count, err := h.behaviors.CountActive(ctx, userID)
	if err != nil {
		h.log.Error("[EventHandler] Behavior count check failed", "user_id", userID, "error", err)
		return
	}
	if count < h.cfg.MinBehaviorsForDrift {
		h.log.Debug("[EventHandler] Too few behaviors to scan",
			"user_id", userID, "count", count)
		return
	}

	jobID, err := h.jobs.Enqueue(ctx, userID, trigger, priority, h.clock.Now().Unix())
	if err != nil {
		h.log.Error("[EventHandler] Failed to enqueue scan", "user_id", userID, "error", err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordJobEnqueued(trigger)
	}
	h.log.Info("[EventHandler] Enqueued drift scan",
		"job_id", jobID, "user_id", userID, "trigger", trigger, "priority", priority)
}

func (h *EventHandler) alreadySeen(eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.seen[eventID]
	return ok
}

func (h *EventHandler) markSeen(eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.seenList) >= seenCacheCap {
		keep := h.seenList[seenCacheCap/2:]
		evicted := h.seenList[:seenCacheCap/2]
		for _, id := range evicted {
			delete(h.seen, id)
		}
		h.seenList = append([]string(nil), keep...)
	}
	h.seen[eventID] = struct{}{}
	h.seenList = append(h.seenList, eventID)
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getStringDefault(m map[string]any, key, fallback string) string {
	if s := getString(m, key); s != "" {
		return s
	}
	return fallback
}

func getFloat(m map[string]any, key string, fallback float64) float64 {
	v, ok := m[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(m map[string]any, key string, fallback int) int {
	return int(getInt64(m, key, int64(fallback)))
}

func getInt64(m map[string]any, key string, fallback int64) int64 {
	v, ok := m[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}
