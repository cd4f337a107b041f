// Package mixer combines the caller and agent tracks of a call into one file.
package mixer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"voice-bridge/internal/observability"
)

const defaultTimeout = 2 * time.Minute

// FFmpegMixer runs the ffmpeg binary to mix two mono tracks with amix.
type FFmpegMixer struct {
	binary  string
	timeout time.Duration
	logger  *observability.Logger
}

// NewFFmpegMixer returns a mixer using the binary at path ("ffmpeg" resolves via PATH).
func NewFFmpegMixer(path string, logger *observability.Logger) *FFmpegMixer {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegMixer{binary: path, timeout: defaultTimeout, logger: logger}
}

// Args returns the ffmpeg arguments for mixing caller and agent into output.
// The mix lasts as long as the caller track.
func Args(callerPath, agentPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", callerPath,
		"-i", agentPath,
		"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=first:dropout_transition=0[mixed]",
		"-map", "[mixed]",
		outputPath,
	}
}

// Mix writes the mixed track to outputPath.
func (m *FFmpegMixer) Mix(ctx context.Context, callerPath, agentPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	args := Args(callerPath, agentPath, outputPath)
	cmd := exec.CommandContext(ctx, m.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	m.logger.Debug(ctx, fmt.Sprintf("ffmpeg command: %s %s", m.binary, strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out after %s", m.timeout)
		}
		m.logger.Error(ctx, fmt.Sprintf("ffmpeg failed: %s", strings.TrimSpace(stderr.String())), err)
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}
