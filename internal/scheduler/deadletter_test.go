package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
)

func newTestReaper(t *testing.T) (*DeadLetterReaper, *redis.Client, *config.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := config.Default()
	clk := &clock.Fixed{T: time.Unix(schedNow, 0)}
	return NewDeadLetterReaper(rdb, cfg, clk), rdb, cfg
}

func TestDeadLetterStream_Naming(t *testing.T) {
	assert.Equal(t, "behavior.events.deadletter", DeadLetterStream("behavior.events"))
}

func TestReap_MissingGroupIsQuiet(t *testing.T) {
	reaper, _, _ := newTestReaper(t)

	moved := reaper.Reap(context.Background())
	assert.Zero(t, moved)
}

func TestReap_NoPendingEntries(t *testing.T) {
	reaper, rdb, cfg := newTestReaper(t)
	ctx := context.Background()
	require.NoError(t, rdb.XGroupCreateMkStream(ctx, cfg.BehaviorEventsStream, cfg.ConsumerGroup, "0").Err())

	moved := reaper.Reap(ctx)
	assert.Zero(t, moved)
}

func TestDeadLetterCount_MissingStreamIsZero(t *testing.T) {
	reaper, _, _ := newTestReaper(t)
	assert.Zero(t, reaper.DeadLetterCount(context.Background()))
}

func TestDeadLetterCount_ReflectsStreamLength(t *testing.T) {
	reaper, rdb, cfg := newTestReaper(t)
	ctx := context.Background()

	dlq := DeadLetterStream(cfg.BehaviorEventsStream)
	for i := 0; i < 3; i++ {
		require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: dlq,
			Values: map[string]any{"event_type": "behavior.created"},
		}).Err())
	}

	assert.Equal(t, int64(3), reaper.DeadLetterCount(ctx))
}

func TestInspectDeadLetters_NewestFirst(t *testing.T) {
	reaper, rdb, cfg := newTestReaper(t)
	ctx := context.Background()

	dlq := DeadLetterStream(cfg.BehaviorEventsStream)
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: dlq, Values: map[string]any{"seq": "first"},
	}).Err())
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: dlq, Values: map[string]any{"seq": "second"},
	}).Err())

	messages := reaper.InspectDeadLetters(ctx, 1)
	require.Len(t, messages, 1)
	assert.Equal(t, "second", messages[0].Values["seq"])
}

func TestInspectDeadLetters_MissingStreamIsEmpty(t *testing.T) {
	reaper, _, _ := newTestReaper(t)
	assert.Empty(t, reaper.InspectDeadLetters(context.Background(), 10))
}

func TestIsNoGroupError(t *testing.T) {
	assert.True(t, isNoGroupError(errors.New("NOGROUP No such consumer group")))
	assert.False(t, isNoGroupError(errors.New("connection refused")))
	assert.False(t, isNoGroupError(nil))
}
