package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/model"
	"github.com/driftscope/backend/internal/snapshot"
)

type fakeBehaviorSource struct {
	refBehaviors []*model.Behavior
	curBehaviors []*model.Behavior
	count        int
	earliest     int64
}

func (f *fakeBehaviorSource) ListInWindow(_ context.Context, _ string, _, _ int64, includeSuperseded bool) ([]*model.Behavior, error) {
	if includeSuperseded {
		return f.refBehaviors, nil
	}
	return f.curBehaviors, nil
}

func (f *fakeBehaviorSource) CountActive(context.Context, string) (int, error) {
	return f.count, nil
}

func (f *fakeBehaviorSource) EarliestCreatedAt(context.Context, string) (int64, error) {
	return f.earliest, nil
}

type fakeConflictSource struct{}

func (fakeConflictSource) ListInWindow(context.Context, string, int64, int64) ([]*model.Conflict, error) {
	return nil, nil
}

type fakeDetectionLog struct {
	latest int64
}

func (f *fakeDetectionLog) LatestDetectionAt(context.Context, string) (int64, error) {
	return f.latest, nil
}

type capturingSink struct {
	events []*model.DriftEvent
}

func (s *capturingSink) Write(_ context.Context, events []*model.DriftEvent, _, _ *model.Snapshot) ([]string, error) {
	s.events = append(s.events, events...)
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.DriftEventID
	}
	return ids, nil
}

func newTestOrchestrator(src *fakeBehaviorSource, log *fakeDetectionLog, sink *capturingSink) *Orchestrator {
	cfg := config.Default()
	clk := &clock.Fixed{T: time.Unix(testNow, 0)}
	builder := snapshot.NewBuilder(src, fakeConflictSource{}, cfg, clk)
	return NewOrchestrator(builder, log, sink, cfg, clk)
}

func TestDetectDrift_RejectsEmptyUser(t *testing.T) {
	o := newTestOrchestrator(&fakeBehaviorSource{}, &fakeDetectionLog{}, &capturingSink{})

	_, err := o.DetectDrift(context.Background(), "  ", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_id")
}

func TestDetectDrift_InsufficientData(t *testing.T) {
	src := &fakeBehaviorSource{count: 2, earliest: testNow - 100*day}
	o := newTestOrchestrator(src, &fakeDetectionLog{}, &capturingSink{})

	_, err := o.DetectDrift(context.Background(), "user-1", false)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDetectDrift_CooldownActive(t *testing.T) {
	src := &fakeBehaviorSource{count: 5, earliest: testNow - 100*day}
	log := &fakeDetectionLog{latest: testNow - 100}
	o := newTestOrchestrator(src, log, &capturingSink{})

	_, err := o.DetectDrift(context.Background(), "user-1", false)
	assert.ErrorIs(t, err, ErrCooldownActive)
}

func TestDetectDrift_ForceSkipsCooldown(t *testing.T) {
	src := &fakeBehaviorSource{
		count:    5,
		earliest: testNow - 100*day,
		refBehaviors: []*model.Behavior{
			activeBehavior("r1", "gaming", "general", 0.8, 5, testNow-40*day),
		},
		curBehaviors: []*model.Behavior{
			activeBehavior("c1", "reading", "general", 0.8, 3, testNow-2*day),
		},
	}
	log := &fakeDetectionLog{latest: testNow - 100}
	sink := &capturingSink{}
	o := newTestOrchestrator(src, log, sink)

	events, err := o.DetectDrift(context.Background(), "user-1", true)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestDetectDrift_FullPipeline(t *testing.T) {
	src := &fakeBehaviorSource{
		count:    5,
		earliest: testNow - 100*day,
		refBehaviors: []*model.Behavior{
			activeBehavior("r1", "gaming", "general", 0.8, 5, testNow-40*day),
		},
		curBehaviors: []*model.Behavior{
			activeBehavior("c1", "reading", "general", 0.8, 3, testNow-2*day),
		},
	}
	sink := &capturingSink{}
	o := newTestOrchestrator(src, &fakeDetectionLog{}, sink)

	events, err := o.DetectDrift(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Strongest first: gaming abandonment at 1.0, then reading emergence.
	assert.Equal(t, model.TopicAbandonment, events[0].DriftType)
	assert.Equal(t, []string{"gaming"}, events[0].AffectedTargets)
	assert.Equal(t, model.TopicEmergence, events[1].DriftType)

	for _, e := range events {
		assert.Equal(t, "user-1", e.UserID)
		assert.Equal(t, testNow, e.DetectedAt)
		assert.Equal(t, testNow-60*day, e.ReferenceWindowStart)
		assert.Equal(t, testNow-30*day, e.ReferenceWindowEnd)
		assert.Equal(t, testNow-30*day, e.CurrentWindowStart)
		assert.Equal(t, testNow, e.CurrentWindowEnd)
		assert.GreaterOrEqual(t, e.DriftScore, 0.3)
	}
	assert.Equal(t, events, sink.events)
}

func TestDetectDrift_NoSignalsMeansNoEvents(t *testing.T) {
	src := &fakeBehaviorSource{
		count:    5,
		earliest: testNow - 100*day,
		refBehaviors: []*model.Behavior{
			activeBehavior("r1", "gaming", "general", 0.8, 5, testNow-35*day),
		},
		curBehaviors: []*model.Behavior{
			activeBehavior("c1", "gaming", "general", 0.8, 6, testNow-2*day),
		},
	}
	sink := &capturingSink{}
	o := newTestOrchestrator(src, &fakeDetectionLog{}, sink)

	events, err := o.DetectDrift(context.Background(), "user-1", false)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, sink.events)
}
