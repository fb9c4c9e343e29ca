package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftscope/backend/internal/model"
)

type fakeEventInserter struct {
	inserted []*model.DriftEvent
	failOn   string
}

func (f *fakeEventInserter) Insert(_ context.Context, e *model.DriftEvent) (string, error) {
	if e.DriftEventID == f.failOn {
		return "", errors.New("insert failed")
	}
	f.inserted = append(f.inserted, e)
	return e.DriftEventID, nil
}

func newTestWriter(t *testing.T, repo EventInserter) (*EventWriter, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewEventWriter(repo, rdb, "drift:events"), mr, rdb
}

func testEvent(id string) *model.DriftEvent {
	return &model.DriftEvent{
		DriftEventID:         id,
		UserID:               "user-1",
		DriftType:            model.TopicEmergence,
		DriftScore:           0.72,
		Confidence:           0.9,
		Severity:             model.SeverityModerate,
		AffectedTargets:      []string{"fitness"},
		Evidence:             model.Evidence{"emerging_target": "fitness"},
		ReferenceWindowStart: 100,
		ReferenceWindowEnd:   200,
		CurrentWindowStart:   200,
		CurrentWindowEnd:     300,
		DetectedAt:           305,
	}
}

func TestWrite_PersistsThenPublishes(t *testing.T) {
	repo := &fakeEventInserter{}
	writer, _, rdb := newTestWriter(t, repo)

	ref := &model.Snapshot{UserID: "user-1", Behaviors: make([]*model.Behavior, 4)}
	cur := &model.Snapshot{UserID: "user-1", Behaviors: make([]*model.Behavior, 6)}

	ids, err := writer.Write(context.Background(), []*model.DriftEvent{testEvent("drift_a")}, ref, cur)
	require.NoError(t, err)
	assert.Equal(t, []string{"drift_a"}, ids)
	require.Len(t, repo.inserted, 1)

	messages, err := rdb.XRange(context.Background(), "drift:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, messages, 1)

	values := messages[0].Values
	assert.Equal(t, "drift.detected", values["event_type"])
	assert.Equal(t, "drift_a", values["drift_event_id"])
	assert.Equal(t, "user-1", values["user_id"])
	assert.Equal(t, "TOPIC_EMERGENCE", values["drift_type"])
	assert.Equal(t, "MODERATE_DRIFT", values["severity"])
	assert.Equal(t, `["fitness"]`, values["affected_targets"])
	assert.JSONEq(t, `{"start":100,"end":200}`, values["reference_window"].(string))
	assert.JSONEq(t, `{"start":200,"end":300}`, values["current_window"].(string))
	assert.JSONEq(t, `{"emerging_target":"fitness"}`, values["evidence"].(string))
	assert.Equal(t, "4", values["reference_behavior_count"])
	assert.Equal(t, "6", values["current_behavior_count"])
}

func TestWrite_EmptyBatchIsNoOp(t *testing.T) {
	repo := &fakeEventInserter{}
	writer, _, rdb := newTestWriter(t, repo)

	ids, err := writer.Write(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, ids)

	count, err := rdb.XLen(context.Background(), "drift:events").Result()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWrite_InsertFailureSkipsEventButContinues(t *testing.T) {
	repo := &fakeEventInserter{failOn: "drift_bad"}
	writer, _, rdb := newTestWriter(t, repo)

	ids, err := writer.Write(context.Background(),
		[]*model.DriftEvent{testEvent("drift_bad"), testEvent("drift_ok")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"drift_ok"}, ids)

	count, err := rdb.XLen(context.Background(), "drift:events").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWrite_PublishFailureStillReturnsPersistedID(t *testing.T) {
	repo := &fakeEventInserter{}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	writer := NewEventWriter(repo, rdb, "drift:events")

	mr.Close()

	ids, err := writer.Write(context.Background(), []*model.DriftEvent{testEvent("drift_a")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"drift_a"}, ids)
	require.Len(t, repo.inserted, 1)
}

func TestWrite_OmitsSnapshotCountsWhenNil(t *testing.T) {
	repo := &fakeEventInserter{}
	writer, _, rdb := newTestWriter(t, repo)

	_, err := writer.Write(context.Background(), []*model.DriftEvent{testEvent("drift_a")}, nil, nil)
	require.NoError(t, err)

	messages, err := rdb.XRange(context.Background(), "drift:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.NotContains(t, messages[0].Values, "reference_behavior_count")
	assert.NotContains(t, messages[0].Values, "current_behavior_count")
}
