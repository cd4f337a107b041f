package mixer

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"voice-bridge/internal/observability"

	"github.com/stretchr/testify/assert"
)

func TestArgs(t *testing.T) {
	args := Args("in/caller.wav", "in/agent.wav", "out/mixed.wav")

	assert.Equal(t, []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", "in/caller.wav",
		"-i", "in/agent.wav",
		"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=first:dropout_transition=0[mixed]",
		"-map", "[mixed]",
		"out/mixed.wav",
	}, args)
}

func TestMix_MissingBinary(t *testing.T) {
	m := NewFFmpegMixer(filepath.Join(t.TempDir(), "no-ffmpeg"), observability.NewNopLogger())

	err := m.Mix(context.Background(), "a.wav", "b.wav", filepath.Join(t.TempDir(), "out.wav"))
	assert.Error(t, err)
}

func TestMix_FailsOnMissingInputs(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	m := NewFFmpegMixer("ffmpeg", observability.NewNopLogger())
	dir := t.TempDir()

	err := m.Mix(context.Background(), filepath.Join(dir, "nope_caller.wav"), filepath.Join(dir, "nope_agent.wav"), filepath.Join(dir, "out.wav"))
	assert.Error(t, err)
}
