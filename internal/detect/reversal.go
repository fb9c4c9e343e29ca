package detect

import (
	"log/slog"

	"github.com/driftscope/backend/internal/model"
)

// ReversalDetector signals polarity flips recorded as resolved conflicts
// in the current window.
type ReversalDetector struct {
	log *slog.Logger
}

func NewReversalDetector() *ReversalDetector {
	return &ReversalDetector{log: slog.Default()}
}

func (d *ReversalDetector) Name() string { return "PreferenceReversal" }

func (d *ReversalDetector) Detect(ref, cur *model.Snapshot, now int64) ([]*model.Signal, error) {
	if err := validateSnapshots(ref, cur); err != nil {
		return nil, err
	}

	var signals []*model.Signal
	for _, conflict := range cur.Conflicts {
		if !conflict.IsPolarityReversal() {
			continue
		}
		sig := d.reversalSignal(conflict, ref, cur)
		if sig == nil {
			continue
		}
		signals = append(signals, sig)
		d.log.Info("[PreferenceReversal] Detected preference reversal",
			"user_id", cur.UserID,
			"conflict_id", conflict.ConflictID,
			"old_polarity", conflict.OldPolarity,
			"new_polarity", conflict.NewPolarity,
			"drift_score", sig.DriftScore)
	}
	return signals, nil
}

func (d *ReversalDetector) reversalSignal(conflict *model.Conflict, ref, cur *model.Snapshot) *model.Signal {
	// The old side should come from history, the new side from now, but
	// either may live in the other snapshot near window boundaries.
	oldBehavior := ref.BehaviorByID(conflict.BehaviorID1)
	if oldBehavior == nil {
		oldBehavior = cur.BehaviorByID(conflict.BehaviorID1)
	}
	newBehavior := cur.BehaviorByID(conflict.BehaviorID2)
	if newBehavior == nil {
		newBehavior = ref.BehaviorByID(conflict.BehaviorID2)
	}
	if oldBehavior == nil || newBehavior == nil {
		d.log.Warn("[PreferenceReversal] Conflict references unknown behaviors",
			"conflict_id", conflict.ConflictID,
			"behavior_id_1", conflict.BehaviorID1,
			"behavior_id_2", conflict.BehaviorID2)
		return nil
	}

	score := (oldBehavior.Credibility + newBehavior.Credibility) / 2

	target := conflict.OldTarget
	if target == "" {
		target = conflict.NewTarget
	}
	if target == "" {
		target = oldBehavior.Target
	}
	if target == "" {
		target = newBehavior.Target
	}

	evidence := model.Evidence{
		"conflict_id":     conflict.ConflictID,
		"old_polarity":    conflict.OldPolarity,
		"new_polarity":    conflict.NewPolarity,
		"old_credibility": round3(oldBehavior.Credibility),
		"new_credibility": round3(newBehavior.Credibility),
		"old_behavior_id": conflict.BehaviorID1,
		"new_behavior_id": conflict.BehaviorID2,
		"target":          target,
	}
	if conflict.IsTargetMigration() {
		evidence["old_target"] = conflict.OldTarget
		evidence["new_target"] = conflict.NewTarget
		evidence["is_target_migration"] = true
	}

	return &model.Signal{
		DriftType:       model.PreferenceReversal,
		DriftScore:      score,
		AffectedTargets: []string{target},
		Confidence:      score,
		Evidence:        evidence,
	}
}
