package consumer

import (
	"context"
	"errors"
	"testing"

	"voice-bridge/internal/jobs"
	"voice-bridge/internal/kafka"
	"voice-bridge/internal/observability"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	jobs []jobs.MixJob
	err  error
}

func (r *recordingProcessor) Process(_ context.Context, job jobs.MixJob) error {
	r.jobs = append(r.jobs, job)
	return r.err
}

func TestHandle_DecodesAndProcesses(t *testing.T) {
	t.Parallel()
	proc := &recordingProcessor{}
	c := New(proc, observability.NewNopLogger())

	err := c.Handle(context.Background(), kafkago.Message{
		Key:   []byte("CA1"),
		Value: []byte(`{"callSid":"CA1","streamSid":"MZ1","callerPath":"a.wav","agentPath":"b.wav","outputPath":"c.wav"}`),
	})
	require.NoError(t, err)
	require.Len(t, proc.jobs, 1)
	assert.Equal(t, "MZ1", proc.jobs[0].StreamSid)
}

func TestHandle_MalformedIsPermanent(t *testing.T) {
	t.Parallel()
	proc := &recordingProcessor{}
	c := New(proc, observability.NewNopLogger())

	err := c.Handle(context.Background(), kafkago.Message{Value: []byte(`nope`)})
	assert.ErrorIs(t, err, kafka.ErrPermanent)
	assert.Empty(t, proc.jobs)
}

func TestHandle_ProcessorErrorIsRetryable(t *testing.T) {
	t.Parallel()
	boom := errors.New("ffmpeg crashed")
	c := New(&recordingProcessor{err: boom}, observability.NewNopLogger())

	err := c.Handle(context.Background(), kafkago.Message{
		Value: []byte(`{"callSid":"CA2","callerPath":"a","agentPath":"b","outputPath":"c"}`),
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, kafka.ErrPermanent)
}
