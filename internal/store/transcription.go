package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Transcription struct {
	ID         int64           `db:"id"`
	CallSid    string          `db:"call_sid"`
	StreamSid  string          `db:"stream_sid"`
	OutputPath string          `db:"output_path"`
	Transcript json.RawMessage `db:"transcript"`
	CreatedAt  time.Time       `db:"created_at"`
}

type SaveTranscriptionParams struct {
	CallSid    string
	StreamSid  string
	OutputPath string
	Transcript json.RawMessage
}

const sqlSaveTranscription = `
INSERT INTO transcriptions (call_sid, stream_sid, output_path, transcript)
VALUES ($1, $2, $3, $4::jsonb)
ON CONFLICT (call_sid) DO UPDATE
SET stream_sid = EXCLUDED.stream_sid,
    output_path = EXCLUDED.output_path,
    transcript = EXCLUDED.transcript
RETURNING id`

// SaveTranscription stores the transcript of one call and returns its row id.
// Saving the same call again replaces the earlier transcript.
func (s *Store) SaveTranscription(ctx context.Context, params SaveTranscriptionParams) (int64, error) {
	if !json.Valid(params.Transcript) {
		return 0, fmt.Errorf("transcript for call %s is not valid JSON", params.CallSid)
	}

	var id int64
	err := s.db.GetContext(ctx, &id, sqlSaveTranscription,
		params.CallSid, params.StreamSid, params.OutputPath, string(params.Transcript))
	if err != nil {
		s.logger.Error(ctx, "failed to save transcription", err)
		return 0, fmt.Errorf("failed to save transcription: %w", err)
	}
	return id, nil
}
