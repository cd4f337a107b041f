package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Job type constants
const (
	TypeMixJob = "audio:mix"
)

// Queue names
const (
	QueueMixJobs = "audio_mix_jobs"
)

// DefaultMaxRetry bounds asynq redeliveries of one MixJob.
const DefaultMaxRetry = 5

// MixJob asks a worker to mix, transcribe and store one finished call.
type MixJob struct {
	CallSid    string `json:"callSid"`
	StreamSid  string `json:"streamSid"`
	CallerPath string `json:"callerPath"`
	AgentPath  string `json:"agentPath"`
	OutputPath string `json:"outputPath"`
}

// Validate reports a job that no worker could process.
func (j MixJob) Validate() error {
	switch {
	case j.CallSid == "":
		return fmt.Errorf("mix job missing callSid")
	case j.CallerPath == "" || j.AgentPath == "" || j.OutputPath == "":
		return fmt.Errorf("mix job %s missing file paths", j.CallSid)
	}
	return nil
}

// NewMixTask creates a MixJob task. The task id is the call sid so the broker
// rejects a second enqueue of the same call.
func NewMixTask(job MixJob, queue string, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = QueueMixJobs
	}
	return asynq.NewTask(TypeMixJob, data,
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(job.CallSid),
	), nil
}

// DecodeMixJob parses and validates a MixJob payload.
func DecodeMixJob(data []byte) (MixJob, error) {
	var job MixJob
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("failed to unmarshal mix job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return job, err
	}
	return job, nil
}
