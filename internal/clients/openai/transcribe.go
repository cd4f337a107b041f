package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"voice-bridge/internal/observability"

	openaisdk "github.com/openai/openai-go"
	openaiOption "github.com/openai/openai-go/option"
)

// Transcriber sends recorded calls to the OpenAI transcription API.
type Transcriber struct {
	options []openaiOption.RequestOption
	model   openaisdk.AudioModel
	logger  *observability.Logger
}

// NewTranscriber returns a transcriber for model (whisper-1 when empty).
// Extra options are passed to the SDK client, e.g. a base URL in tests.
func NewTranscriber(apiKey, model string, logger *observability.Logger, opts ...openaiOption.RequestOption) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = string(openaisdk.AudioModelWhisper1)
	}
	options := append([]openaiOption.RequestOption{openaiOption.WithAPIKey(apiKey)}, opts...)
	return &Transcriber{
		options: options,
		model:   openaisdk.AudioModel(model),
		logger:  logger,
	}, nil
}

// Transcribe returns the verbose JSON transcript of the audio file at path,
// with word-level timestamps.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	params := openaisdk.AudioTranscriptionNewParams{
		Model:                  t.model,
		File:                   openaisdk.File(f, filepath.Base(path), "audio/wav"),
		ResponseFormat:         openaisdk.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word"},
	}
	client := openaisdk.NewClient(t.options...)
	resp, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		t.logger.Error(ctx, "failed to transcribe recording", err)
		return nil, fmt.Errorf("failed to transcribe %s: %w", path, err)
	}

	if raw := resp.RawJSON(); raw != "" && json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	body, err := json.Marshal(map[string]string{"text": resp.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript: %w", err)
	}
	return body, nil
}
