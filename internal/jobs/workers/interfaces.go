package workers

import (
	"context"
	"encoding/json"

	"voice-bridge/internal/store"
)

//go:generate go run go.uber.org/mock/mockgen@latest -source=interfaces.go -destination=mocks_test.go -package=workers

// Mixer combines the two call tracks into one file
type Mixer interface {
	Mix(ctx context.Context, callerPath, agentPath, outputPath string) error
}

// Transcriber produces a JSON transcript of an audio file
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (json.RawMessage, error)
}

// TranscriptStore persists transcripts
type TranscriptStore interface {
	SaveTranscription(ctx context.Context, params store.SaveTranscriptionParams) (int64, error)
}
