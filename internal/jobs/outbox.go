package jobs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Outbox is a JSON-lines file of MixJobs that could not be published.
type Outbox struct {
	path string
	mu   sync.Mutex
}

func NewOutbox(path string) *Outbox {
	return &Outbox{path: path}
}

// Path returns the outbox file path.
func (o *Outbox) Path() string {
	return o.path
}

// Append records job as one line.
func (o *Outbox) Append(job MixJob) error {
	line, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal mix job: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return fmt.Errorf("failed to create outbox dir: %w", err)
	}
	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open outbox: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to outbox: %w", err)
	}
	return nil
}

// Pending returns the jobs currently recorded. Unparseable lines are skipped.
func (o *Outbox) Pending() ([]MixJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	jobs, _, err := o.read()
	return jobs, err
}

// Replay publishes every recorded job once. Jobs that fail again stay in the
// file; the file is removed when nothing is left.
func (o *Outbox) Replay(ctx context.Context, publish func(context.Context, MixJob) error) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pending, skipped, err := o.read()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 && skipped == 0 {
		return 0, nil
	}

	var remaining []MixJob
	var publishErrs []error
	replayed := 0
	for _, job := range pending {
		if ctx.Err() != nil {
			remaining = append(remaining, job)
			continue
		}
		if err := publish(ctx, job); err != nil {
			remaining = append(remaining, job)
			publishErrs = append(publishErrs, fmt.Errorf("call %s: %w", job.CallSid, err))
			continue
		}
		replayed++
	}

	if err := o.rewrite(remaining); err != nil {
		return replayed, err
	}
	return replayed, errors.Join(publishErrs...)
}

func (o *Outbox) read() ([]MixJob, int, error) {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read outbox: %w", err)
	}

	var jobs []MixJob
	skipped := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		job, err := DecodeMixJob(line)
		if err != nil {
			skipped++
			continue
		}
		jobs = append(jobs, job)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to scan outbox: %w", err)
	}
	return jobs, skipped, nil
}

func (o *Outbox) rewrite(jobs []MixJob) error {
	if len(jobs) == 0 {
		if err := os.Remove(o.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove outbox: %w", err)
		}
		return nil
	}

	var buf bytes.Buffer
	for _, job := range jobs {
		line, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal mix job: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write outbox: %w", err)
	}
	if err := os.Rename(tmp, o.path); err != nil {
		return fmt.Errorf("failed to replace outbox: %w", err)
	}
	return nil
}
