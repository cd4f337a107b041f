package kafka

// Topic definitions for the voice bridge
const (
	// TopicMixJobs carries one MixJob per finished call, keyed by call sid
	TopicMixJobs = "audio-mix-jobs"

	// TopicDeadLetter receives MixJobs that exhausted their retries
	TopicDeadLetter = "audio-mix-jobs.dlq"
)

// Consumer group IDs
const (
	ConsumerGroupMixWorkers = "audio-mix-workers"
)
