package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseValue(t *testing.T) {
	assert.Equal(t, int64(42), parseValue("42"))
	assert.Equal(t, 0.85, parseValue("0.85"))
	assert.Equal(t, "coffee", parseValue("coffee"))

	obj, ok := parseValue(`{"user_id":"user-1","count":3}`).(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "user-1", obj["user_id"])

	arr, ok := parseValue(`["a","b"]`).([]any)
	assert.True(t, ok)
	assert.Len(t, arr, 2)

	// Malformed JSON falls back to the raw string.
	assert.Equal(t, "{broken", parseValue("{broken"))
}

func TestParseFields(t *testing.T) {
	out := parseFields(map[string]any{
		"event_type": "behavior.created",
		"payload":    `{"behavior_id":"b1"}`,
		"created_at": "1700000000",
		"raw":        7,
	})

	assert.Equal(t, "behavior.created", out["event_type"])
	assert.Equal(t, int64(1700000000), out["created_at"])
	assert.Equal(t, 7, out["raw"])

	payload, ok := out["payload"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "b1", payload["behavior_id"])
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 16*time.Second, backoffDelay(5))
	assert.Equal(t, reconnectMaxDelay, backoffDelay(10))
}
