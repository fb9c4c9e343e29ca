package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func behavior(id, target, context, polarity string, cred float64, count int, state string, lastSeen int64) *Behavior {
	return &Behavior{
		UserID:             "user-1",
		BehaviorID:         id,
		Target:             target,
		Intent:             IntentPreference,
		Context:            context,
		Polarity:           polarity,
		Credibility:        cred,
		ReinforcementCount: count,
		State:              state,
		CreatedAt:          lastSeen,
		LastSeenAt:         lastSeen,
	}
}

func TestSnapshot_TopicDistribution(t *testing.T) {
	snap := NewSnapshot("user-1", 0, 1000, []*Behavior{
		behavior("b1", "coffee", "general", PolarityPositive, 0.8, 3, StateActive, 500),
		behavior("b2", "tea", "general", PolarityPositive, 0.7, 1, StateActive, 500),
	}, nil, false)

	dist := snap.TopicDistribution()
	require.Len(t, dist, 2)
	assert.InDelta(t, 0.75, dist["coffee"], 1e-9)
	assert.InDelta(t, 0.25, dist["tea"], 1e-9)
}

func TestSnapshot_SupersededExcludedFromCurrentWindow(t *testing.T) {
	behaviors := []*Behavior{
		behavior("b1", "coffee", "general", PolarityPositive, 0.8, 3, StateActive, 500),
		behavior("b2", "tea", "general", PolarityPositive, 0.7, 5, StateSuperseded, 400),
	}

	current := NewSnapshot("user-1", 0, 1000, behaviors, nil, false)
	assert.NotContains(t, current.Targets(), "tea")
	assert.False(t, current.HasTarget("tea"))
	assert.Equal(t, 0, current.ReinforcementCount("tea"))

	reference := NewSnapshot("user-1", 0, 1000, behaviors, nil, true)
	assert.Contains(t, reference.Targets(), "tea")
	assert.Equal(t, 5, reference.ReinforcementCount("tea"))
}

func TestSnapshot_PolarityByTarget_MostRecentWins(t *testing.T) {
	snap := NewSnapshot("user-1", 0, 1000, []*Behavior{
		behavior("b1", "coffee", "general", PolarityPositive, 0.8, 1, StateActive, 100),
		behavior("b2", "coffee", "general", PolarityNegative, 0.8, 1, StateActive, 900),
	}, nil, false)

	assert.Equal(t, PolarityNegative, snap.PolarityByTarget()["coffee"])
}

func TestSnapshot_AvgCredibility(t *testing.T) {
	snap := NewSnapshot("user-1", 0, 1000, []*Behavior{
		behavior("b1", "coffee", "general", PolarityPositive, 0.6, 1, StateActive, 500),
		behavior("b2", "coffee", "work", PolarityPositive, 0.8, 1, StateActive, 500),
	}, nil, false)

	assert.InDelta(t, 0.7, snap.AvgCredibility("coffee"), 1e-9)
	assert.Zero(t, snap.AvgCredibility("absent"))
}

func TestSnapshot_ContextsForTarget(t *testing.T) {
	snap := NewSnapshot("user-1", 0, 1000, []*Behavior{
		behavior("b1", "coffee", "general", PolarityPositive, 0.6, 1, StateActive, 500),
		behavior("b2", "coffee", "work", PolarityPositive, 0.8, 1, StateActive, 500),
		behavior("b3", "tea", "home", PolarityPositive, 0.8, 1, StateActive, 500),
	}, nil, false)

	contexts := snap.ContextsForTarget("coffee")
	assert.Len(t, contexts, 2)
	assert.Contains(t, contexts, "general")
	assert.Contains(t, contexts, "work")
}

func TestSnapshot_ConflictFilters(t *testing.T) {
	conflicts := []*Conflict{
		{ConflictID: "c1", OldPolarity: PolarityPositive, NewPolarity: PolarityNegative},
		{ConflictID: "c2", OldPolarity: PolarityPositive, NewPolarity: PolarityPositive},
		{ConflictID: "c3", OldTarget: "coffee", NewTarget: "tea"},
	}
	snap := NewSnapshot("user-1", 0, 1000, nil, conflicts, false)

	reversals := snap.PolarityReversals()
	require.Len(t, reversals, 1)
	assert.Equal(t, "c1", reversals[0].ConflictID)

	migrations := snap.TargetMigrations()
	require.Len(t, migrations, 1)
	assert.Equal(t, "c3", migrations[0].ConflictID)
}

func TestSnapshot_BehaviorByID(t *testing.T) {
	snap := NewSnapshot("user-1", 0, 1000, []*Behavior{
		behavior("b1", "coffee", "general", PolarityPositive, 0.6, 1, StateActive, 500),
	}, nil, false)

	require.NotNil(t, snap.BehaviorByID("b1"))
	assert.Nil(t, snap.BehaviorByID("missing"))
}

func TestSnapshot_ActiveBehaviorCount(t *testing.T) {
	snap := NewSnapshot("user-1", 0, 1000, []*Behavior{
		behavior("b1", "coffee", "general", PolarityPositive, 0.6, 1, StateActive, 500),
		behavior("b2", "tea", "general", PolarityPositive, 0.6, 1, StateSuperseded, 500),
	}, nil, true)

	assert.Equal(t, 1, snap.ActiveBehaviorCount())
}
