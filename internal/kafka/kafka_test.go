package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg, err := buildMessage(Message{
		Key:     "CA1",
		Value:   map[string]string{"callSid": "CA1"},
		Headers: map[string]string{"job_type": "audio:mix"},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, []byte("CA1"), msg.Key)
	assert.JSONEq(t, `{"callSid":"CA1"}`, string(msg.Value))
	assert.Equal(t, now, msg.Time)

	headers := headersToMap(msg.Headers)
	assert.Equal(t, "audio:mix", headers["job_type"])
	assert.Equal(t, "voice-bridge", headers["producer"])
	assert.Equal(t, now.Format(time.RFC3339), headers["produced_at"])
	assert.NotEmpty(t, headers["message_id"])
}

func TestBuildMessage_ExplicitTimestamp(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	msg, err := buildMessage(Message{Key: "k", Value: 1, Timestamp: ts}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, ts, msg.Time)
}

func TestBuildMessage_UnencodableValue(t *testing.T) {
	_, err := buildMessage(Message{Key: "k", Value: make(chan int)}, time.Now())
	assert.Error(t, err)
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	err := Permanent(base)

	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, base)
}
