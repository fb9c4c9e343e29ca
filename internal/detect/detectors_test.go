package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/model"
)

const (
	testNow = int64(1_700_000_000)
	day     = int64(86400)
)

func snapPair(refBehaviors, curBehaviors []*model.Behavior, curConflicts []*model.Conflict) (ref, cur *model.Snapshot) {
	ref = model.NewSnapshot("user-1", testNow-60*day, testNow-30*day, refBehaviors, nil, true)
	cur = model.NewSnapshot("user-1", testNow-30*day, testNow, curBehaviors, curConflicts, false)
	return ref, cur
}

func activeBehavior(id, target, context string, cred float64, count int, lastSeen int64) *model.Behavior {
	return &model.Behavior{
		UserID:             "user-1",
		BehaviorID:         id,
		Target:             target,
		Intent:             model.IntentPreference,
		Context:            context,
		Polarity:           model.PolarityPositive,
		Credibility:        cred,
		ReinforcementCount: count,
		State:              model.StateActive,
		CreatedAt:          lastSeen,
		LastSeenAt:         lastSeen,
	}
}

func TestDetectors_RejectMismatchedSnapshots(t *testing.T) {
	ref := model.NewSnapshot("user-1", 0, 100, nil, nil, true)
	cur := model.NewSnapshot("user-2", 100, 200, nil, nil, false)

	detectors := []Detector{
		NewEmergenceDetector(config.Default()),
		NewAbandonmentDetector(config.Default()),
		NewReversalDetector(),
		NewIntensityDetector(config.Default()),
		NewContextShiftDetector(),
	}
	for _, d := range detectors {
		_, err := d.Detect(ref, cur, testNow)
		assert.Error(t, err, d.Name())
	}
}

func TestEmergence_NewTargetSignals(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "cooking", "general", 0.8, 5, testNow-40*day)},
		[]*model.Behavior{
			activeBehavior("c1", "cooking", "general", 0.8, 5, testNow-5*day),
			activeBehavior("c2", "fitness", "general", 0.9, 3, testNow-2*day),
			activeBehavior("c3", "fitness", "work", 0.7, 2, testNow-2*day),
		},
		nil,
	)

	signals, err := NewEmergenceDetector(config.Default()).Detect(ref, cur, testNow)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, model.TopicEmergence, sig.DriftType)
	assert.Equal(t, []string{"fitness"}, sig.AffectedTargets)
	// importance 5/10, recency 1 - 2/30
	assert.InDelta(t, 0.5*(1-2.0/30), sig.DriftScore, 1e-9)
	assert.Equal(t, 1.0, sig.Confidence)
	assert.Equal(t, "fitness", sig.Evidence["emerging_target"])
	assert.Equal(t, 5, sig.Evidence["reinforcement_count"])
	assert.Equal(t, 2, sig.Evidence["behavior_count"])
	assert.ElementsMatch(t, []string{"general", "work"}, sig.Evidence["contexts"])
}

func TestEmergence_BelowReinforcementFloorIgnored(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "cooking", "general", 0.8, 5, testNow-40*day)},
		[]*model.Behavior{
			activeBehavior("c1", "cooking", "general", 0.8, 5, testNow-5*day),
			activeBehavior("c2", "fitness", "general", 0.9, 1, testNow-2*day),
		},
		nil,
	)

	signals, err := NewEmergenceDetector(config.Default()).Detect(ref, cur, testNow)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestEmergence_RecencyClampsAtFloor(t *testing.T) {
	// Mentions far older than recency_weight_days keep a 0.1 floor
	// instead of going negative.
	ref, cur := snapPair(
		nil,
		[]*model.Behavior{activeBehavior("c1", "stale", "general", 0.8, 5, testNow-200*day)},
		nil,
	)

	signals, err := NewEmergenceDetector(config.Default()).Detect(ref, cur, testNow)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.InDelta(t, 0.1, signals[0].Evidence["recency_weight"], 1e-9)
	assert.Greater(t, signals[0].DriftScore, 0.0)
}

func TestAbandonment_SilentTargetSignals(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "gaming", "general", 0.8, 5, testNow-40*day)},
		[]*model.Behavior{activeBehavior("c1", "reading", "general", 0.8, 3, testNow-2*day)},
		nil,
	)

	signals, err := NewAbandonmentDetector(config.Default()).Detect(ref, cur, testNow)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, model.TopicAbandonment, sig.DriftType)
	assert.Equal(t, []string{"gaming"}, sig.AffectedTargets)
	// historical weight min(5/5,1)=1, silence weight min(40/30,1)=1
	assert.InDelta(t, 1.0, sig.DriftScore, 1e-9)
	assert.Equal(t, 40, sig.Evidence["days_silent"])
	assert.Equal(t, 5, sig.Evidence["historical_reinforcement_count"])
}

func TestAbandonment_TargetStillPresentIgnored(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "gaming", "general", 0.8, 5, testNow-40*day)},
		[]*model.Behavior{activeBehavior("c1", "gaming", "general", 0.8, 1, testNow-2*day)},
		nil,
	)

	signals, err := NewAbandonmentDetector(config.Default()).Detect(ref, cur, testNow)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestAbandonment_RecentMentionIgnored(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "gaming", "general", 0.8, 5, testNow-10*day)},
		nil,
		nil,
	)

	signals, err := NewAbandonmentDetector(config.Default()).Detect(ref, cur, testNow)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestReversal_PolarityFlipSignals(t *testing.T) {
	old := activeBehavior("b-old", "meat", "general", 0.85, 4, testNow-45*day)
	updated := activeBehavior("b-new", "meat", "general", 0.9, 2, testNow-3*day)
	updated.Polarity = model.PolarityNegative

	ref, cur := snapPair(
		[]*model.Behavior{old},
		[]*model.Behavior{updated},
		[]*model.Conflict{{
			UserID:      "user-1",
			ConflictID:  "c1",
			BehaviorID1: "b-old",
			BehaviorID2: "b-new",
			OldPolarity: model.PolarityPositive,
			NewPolarity: model.PolarityNegative,
			OldTarget:   "meat",
		}},
	)

	signals, err := NewReversalDetector().Detect(ref, cur, testNow)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, model.PreferenceReversal, sig.DriftType)
	assert.InDelta(t, 0.875, sig.DriftScore, 1e-9)
	assert.InDelta(t, 0.875, sig.Confidence, 1e-9)
	assert.Equal(t, []string{"meat"}, sig.AffectedTargets)
	assert.Equal(t, model.PolarityPositive, sig.Evidence["old_polarity"])
	assert.NotContains(t, sig.Evidence, "is_target_migration")
}

func TestReversal_TargetMigrationAnnotated(t *testing.T) {
	old := activeBehavior("b-old", "twitter", "general", 0.8, 4, testNow-45*day)
	updated := activeBehavior("b-new", "mastodon", "general", 0.8, 2, testNow-3*day)

	ref, cur := snapPair(
		[]*model.Behavior{old},
		[]*model.Behavior{updated},
		[]*model.Conflict{{
			ConflictID:  "c1",
			BehaviorID1: "b-old",
			BehaviorID2: "b-new",
			OldPolarity: model.PolarityPositive,
			NewPolarity: model.PolarityNegative,
			OldTarget:   "twitter",
			NewTarget:   "mastodon",
		}},
	)

	signals, err := NewReversalDetector().Detect(ref, cur, testNow)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, true, signals[0].Evidence["is_target_migration"])
	assert.Equal(t, "mastodon", signals[0].Evidence["new_target"])
}

func TestReversal_UnknownBehaviorsSkipped(t *testing.T) {
	ref, cur := snapPair(nil, nil, []*model.Conflict{{
		ConflictID:  "c1",
		BehaviorID1: "ghost-1",
		BehaviorID2: "ghost-2",
		OldPolarity: model.PolarityPositive,
		NewPolarity: model.PolarityNegative,
	}})

	signals, err := NewReversalDetector().Detect(ref, cur, testNow)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestIntensity_CredibilityShiftSignals(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "running", "general", 0.3, 2, testNow-45*day)},
		[]*model.Behavior{activeBehavior("c1", "running", "general", 0.85, 6, testNow-2*day)},
		nil,
	)

	signals, err := NewIntensityDetector(config.Default()).Detect(ref, cur, testNow)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, model.IntensityShift, sig.DriftType)
	assert.InDelta(t, 0.55, sig.DriftScore, 1e-9)
	assert.InDelta(t, 0.3, sig.Confidence, 1e-9)
	assert.Equal(t, "INCREASE", sig.Evidence["direction"])
	assert.InDelta(t, 183.3, sig.Evidence["relative_change_pct"].(float64), 0.05)
}

func TestIntensity_SmallDeltaIgnored(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "running", "general", 0.6, 2, testNow-45*day)},
		[]*model.Behavior{activeBehavior("c1", "running", "general", 0.7, 6, testNow-2*day)},
		nil,
	)

	signals, err := NewIntensityDetector(config.Default()).Detect(ref, cur, testNow)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestIntensity_ExactThresholdSignals(t *testing.T) {
	// A delta equal to intensity_delta_threshold still counts as a shift.
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "running", "general", 0.5, 2, testNow-45*day)},
		[]*model.Behavior{activeBehavior("c1", "running", "general", 0.75, 6, testNow-2*day)},
		nil,
	)

	signals, err := NewIntensityDetector(config.Default()).Detect(ref, cur, testNow)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.InDelta(t, 0.25, signals[0].DriftScore, 1e-9)
}

func TestContextShift_ExpansionSignals(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "yoga", "work", 0.8, 3, testNow-45*day)},
		[]*model.Behavior{
			activeBehavior("c1", "yoga", "work", 0.8, 3, testNow-2*day),
			activeBehavior("c2", "yoga", "general", 0.8, 1, testNow-1*day),
		},
		nil,
	)

	signals, err := NewContextShiftDetector().Detect(ref, cur, testNow)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, model.ContextExpansion, sig.DriftType)
	assert.Equal(t, "EXPANSION", sig.Evidence["shift_type"])
	// diversity 1 -> 2: |delta|/5 * 1.5
	assert.InDelta(t, 0.3, sig.DriftScore, 1e-9)
	assert.Equal(t, []string{"general"}, sig.Evidence["contexts_added"])
	assert.Equal(t, []string{}, sig.Evidence["contexts_removed"])
}

func TestContextShift_ContractionSignals(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{
			activeBehavior("r1", "yoga", "general", 0.8, 3, testNow-45*day),
			activeBehavior("r2", "yoga", "work", 0.8, 2, testNow-44*day),
		},
		[]*model.Behavior{activeBehavior("c1", "yoga", "work", 0.8, 3, testNow-2*day)},
		nil,
	)

	signals, err := NewContextShiftDetector().Detect(ref, cur, testNow)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, model.ContextContraction, signals[0].DriftType)
	assert.Equal(t, "CONTRACTION", signals[0].Evidence["shift_type"])
}

func TestContextShift_PureAdditionIsNotDrift(t *testing.T) {
	ref, cur := snapPair(
		[]*model.Behavior{activeBehavior("r1", "yoga", "work", 0.8, 3, testNow-45*day)},
		[]*model.Behavior{
			activeBehavior("c1", "yoga", "work", 0.8, 3, testNow-2*day),
			activeBehavior("c2", "yoga", "home", 0.8, 1, testNow-1*day),
		},
		nil,
	)

	signals, err := NewContextShiftDetector().Detect(ref, cur, testNow)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
