package workers

import (
	"context"
	"fmt"
	"time"

	"voice-bridge/internal/jobs"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/store"
	"voice-bridge/internal/voice/audio"

	"github.com/hibiken/asynq"
)

// MixWorker turns a finished call into a stored transcript
type MixWorker struct {
	mixer       Mixer
	transcriber Transcriber
	store       TranscriptStore
	logger      *observability.Logger
	metrics     *metrics.Metrics
}

// NewMixWorker creates a new mix worker
func NewMixWorker(mixer Mixer, transcriber Transcriber, store TranscriptStore, logger *observability.Logger, m *metrics.Metrics) *MixWorker {
	return &MixWorker{
		mixer:       mixer,
		transcriber: transcriber,
		store:       store,
		logger:      logger,
		metrics:     metrics.OrDiscard(m),
	}
}

// ProcessMixTask processes a mix task (for Asynq). Undecodable payloads are not retried.
func (w *MixWorker) ProcessMixTask(ctx context.Context, task *asynq.Task) error {
	job, err := jobs.DecodeMixJob(task.Payload())
	if err != nil {
		w.logger.Error(ctx, "failed to decode mix job payload", err)
		w.metrics.MixJobsProcessed.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.Process(ctx, job)
}

// Process mixes, transcribes and stores one call. Any error is retryable.
func (w *MixWorker) Process(ctx context.Context, job jobs.MixJob) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "call_sid", Value: job.CallSid},
		observability.Field{Key: "stream_sid", Value: job.StreamSid},
	)
	start := time.Now()

	if err := w.process(ctx, job); err != nil {
		w.metrics.MixJobsProcessed.WithLabelValues("failed").Inc()
		return err
	}

	w.metrics.MixJobsProcessed.WithLabelValues("success").Inc()
	w.metrics.MixJobDuration.Observe(time.Since(start).Seconds())
	w.logger.Info(ctx, fmt.Sprintf("mix job completed in %v", time.Since(start)))
	return nil
}

func (w *MixWorker) process(ctx context.Context, job jobs.MixJob) error {
	header, err := audio.ReadHeader(job.CallerPath)
	if err != nil {
		w.logger.Error(ctx, "invalid caller recording", err)
		return fmt.Errorf("invalid caller recording: %w", err)
	}
	if _, err := audio.ReadHeader(job.AgentPath); err != nil {
		w.logger.Error(ctx, "invalid agent recording", err)
		return fmt.Errorf("invalid agent recording: %w", err)
	}
	w.logger.Debug(ctx, fmt.Sprintf("caller track holds %d bytes", header.Subchunk2Size))

	if err := w.mixer.Mix(ctx, job.CallerPath, job.AgentPath, job.OutputPath); err != nil {
		w.logger.Error(ctx, "failed to mix call audio", err)
		return fmt.Errorf("failed to mix call audio: %w", err)
	}

	transcript, err := w.transcriber.Transcribe(ctx, job.OutputPath)
	if err != nil {
		w.logger.Error(ctx, "failed to transcribe call", err)
		return fmt.Errorf("failed to transcribe call: %w", err)
	}

	id, err := w.store.SaveTranscription(ctx, store.SaveTranscriptionParams{
		CallSid:    job.CallSid,
		StreamSid:  job.StreamSid,
		OutputPath: job.OutputPath,
		Transcript: transcript,
	})
	if err != nil {
		w.logger.Error(ctx, "failed to save transcription", err)
		return fmt.Errorf("failed to save transcription: %w", err)
	}

	w.logger.Info(ctx, fmt.Sprintf("saved transcription %d", id))
	return nil
}
