package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch result labels
const (
	DispatchPublished = "published"
	DispatchDuplicate = "duplicate"
	DispatchFailed    = "failed"
	DispatchReplayed  = "replayed"
)

// Metrics contains the Prometheus collectors for the voice bridge
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionDuration prometheus.Histogram

	// Capture metrics
	CallerBytes  prometheus.Counter
	AgentBytes   prometheus.Counter
	FillerFrames prometheus.Counter
	SinkErrors   *prometheus.CounterVec

	// Realtime link metrics
	LinkFailures   prometheus.Counter
	LinkReconnects prometheus.Counter

	// Dispatch metrics
	DispatchResults *prometheus.CounterVec

	// Worker metrics
	MixJobsProcessed *prometheus.CounterVec
	MixJobDuration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_sessions",
			Help: "Current number of active call sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_sessions_started_total",
			Help: "Total number of call sessions started",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_session_duration_seconds",
			Help:    "Call session duration from start to close",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		CallerBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_caller_audio_bytes_total",
			Help: "Total caller audio bytes captured",
		}),
		AgentBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_agent_audio_bytes_total",
			Help: "Total agent audio bytes captured, excluding filler",
		}),
		FillerFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_filler_frames_total",
			Help: "Total silence frames written to agent tracks",
		}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_sink_errors_total",
			Help: "Capture sink write or finalize failures",
		}, []string{"track"}),

		LinkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_realtime_link_failures_total",
			Help: "Realtime link dials that exhausted their retries",
		}),
		LinkReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_realtime_link_reconnects_total",
			Help: "Mid-call realtime link reconnect attempts",
		}),

		DispatchResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_dispatch_total",
			Help: "MixJob dispatch outcomes",
		}, []string{"result"}),

		MixJobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_mix_jobs_processed_total",
			Help: "MixJobs handled by workers",
		}, []string{"status"}),
		MixJobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_mix_job_duration_seconds",
			Help:    "Time to mix, transcribe and store one call",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

// OrDiscard returns m, or collectors on a private registry when m is nil.
func OrDiscard(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return NewMetrics(prometheus.NewRegistry())
}
