// Package snapshot builds windowed views of a user's behaviors and
// conflicts for the detection pipeline.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/model"
)

// BehaviorSource is the slice of the behavior repository the builder needs.
type BehaviorSource interface {
	ListInWindow(ctx context.Context, userID string, start, end int64, includeSuperseded bool) ([]*model.Behavior, error)
	CountActive(ctx context.Context, userID string) (int, error)
	EarliestCreatedAt(ctx context.Context, userID string) (int64, error)
}

// ConflictSource is the slice of the conflict repository the builder needs.
type ConflictSource interface {
	ListInWindow(ctx context.Context, userID string, start, end int64) ([]*model.Conflict, error)
}

// Builder loads window data from the store and assembles snapshots.
type Builder struct {
	behaviors BehaviorSource
	conflicts ConflictSource
	cfg       *config.Config
	clock     clock.Clock
	log       *slog.Logger
}

func NewBuilder(behaviors BehaviorSource, conflicts ConflictSource, cfg *config.Config, clk clock.Clock) *Builder {
	return &Builder{
		behaviors: behaviors,
		conflicts: conflicts,
		cfg:       cfg,
		clock:     clk,
		log:       slog.Default(),
	}
}

// Build assembles a snapshot for [windowStart, windowEnd]. Reference
// windows pass includeSuperseded=true so reinforcement earned before a
// supersession still counts; current windows see ACTIVE behaviors only.
func (b *Builder) Build(ctx context.Context, userID string, windowStart, windowEnd int64, includeSuperseded bool) (*model.Snapshot, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}
	if windowStart >= windowEnd {
		return nil, fmt.Errorf("invalid time window: start %d must precede end %d", windowStart, windowEnd)
	}
	if days := (windowEnd - windowStart) / 86400; days > 365 {
		b.log.Warn("[SnapshotBuilder] Large time window", "user_id", userID, "window_days", days)
	}

	behaviors, err := b.behaviors.ListInWindow(ctx, userID, windowStart, windowEnd, includeSuperseded)
	if err != nil {
		return nil, fmt.Errorf("load behaviors: %w", err)
	}
	conflicts, err := b.conflicts.ListInWindow(ctx, userID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("load conflicts: %w", err)
	}

	snap := model.NewSnapshot(userID, windowStart, windowEnd, behaviors, conflicts, includeSuperseded)
	b.log.Debug("[SnapshotBuilder] Snapshot built",
		"user_id", userID,
		"behaviors", len(behaviors),
		"conflicts", len(conflicts),
		"targets", len(snap.Targets()))
	return snap, nil
}

// BuildReferenceAndCurrent builds the configured window pair:
// reference = [now-S, now-E] with superseded included, current = [now-C, now]
// with ACTIVE behaviors only.
func (b *Builder) BuildReferenceAndCurrent(ctx context.Context, userID string) (ref, cur *model.Snapshot, err error) {
	now := b.clock.Now().Unix()
	day := int64((24 * time.Hour).Seconds())

	refStart := now - int64(b.cfg.ReferenceWindowStartDays)*day
	refEnd := now - int64(b.cfg.ReferenceWindowEndDays)*day
	curStart := now - int64(b.cfg.CurrentWindowDays)*day

	ref, err = b.Build(ctx, userID, refStart, refEnd, true)
	if err != nil {
		return nil, nil, err
	}
	cur, err = b.Build(ctx, userID, curStart, now, false)
	if err != nil {
		return nil, nil, err
	}
	return ref, cur, nil
}

// HasSufficientData checks the minimum-behavior and minimum-history gates.
func (b *Builder) HasSufficientData(ctx context.Context, userID string) (bool, error) {
	count, err := b.behaviors.CountActive(ctx, userID)
	if err != nil {
		return false, err
	}
	if count < b.cfg.MinBehaviorsForDrift {
		b.log.Warn("[SnapshotBuilder] Too few behaviors for drift detection",
			"user_id", userID, "count", count, "minimum", b.cfg.MinBehaviorsForDrift)
		return false, nil
	}

	earliest, err := b.behaviors.EarliestCreatedAt(ctx, userID)
	if err != nil {
		return false, err
	}
	if earliest == 0 {
		return false, nil
	}
	daysOfHistory := float64(b.clock.Now().Unix()-earliest) / 86400
	if daysOfHistory < float64(b.cfg.MinDaysOfHistory) {
		b.log.Warn("[SnapshotBuilder] Too little history for drift detection",
			"user_id", userID, "days", daysOfHistory, "minimum", b.cfg.MinDaysOfHistory)
		return false, nil
	}
	return true, nil
}
