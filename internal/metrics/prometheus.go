package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the streaming transcription service
type Metrics struct {
	// Ingest metrics
	ChunksReceived  prometheus.Counter
	ChunkBytes      prometheus.Counter
	FramesProcessed prometheus.Counter
	ChunksRejected  prometheus.Counter

	// VAD metrics
	VADFramesClassified prometheus.Counter
	VADSpeechFrames     prometheus.Counter
	VADErrors           prometheus.Counter

	// Segmentation metrics
	SegmentsEmitted  prometheus.Counter
	SegmentDuration  prometheus.Histogram
	SegmentSize      prometheus.Histogram
	SegmentsFlushed  prometheus.Counter
	SegmentsCapped   prometheus.Counter

	// Job metrics
	ActiveJobs    prometheus.Gauge
	JobsCreated   prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobDuration   prometheus.Histogram

	// Dispatch metrics
	DispatchQueueDepth    prometheus.Gauge
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	// Summarization metrics
	SummaryRequests prometheus.Counter
	SummaryFailures prometheus.Counter
	SummaryDuration prometheus.Histogram

	// Event relay metrics
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	SubscriberConflicts prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_chunks_received_total",
			Help: "Total number of audio chunks received",
		}),
		ChunkBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_chunk_bytes_total",
			Help: "Total audio bytes received",
		}),
		FramesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_frames_processed_total",
			Help: "Total number of audio frames sliced and processed",
		}),
		ChunksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_chunks_rejected_total",
			Help: "Total number of chunks rejected for jobs not accepting audio",
		}),

		VADFramesClassified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_vad_frames_classified_total",
			Help: "Total number of frames classified by the voice activity classifier",
		}),
		VADSpeechFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_vad_speech_frames_total",
			Help: "Total number of frames classified as speech",
		}),
		VADErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_vad_errors_total",
			Help: "Total number of classifier errors (frames treated as silence)",
		}),

		SegmentsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_segments_emitted_total",
			Help: "Total number of speech segments emitted",
		}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_segment_duration_seconds",
			Help:    "Duration of emitted speech segments",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to ~1 minute
		}),
		SegmentSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_segment_size_bytes",
			Help:    "Size of emitted speech segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		SegmentsFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_segments_flushed_total",
			Help: "Total number of segments emitted by finalize flush",
		}),
		SegmentsCapped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_segments_capped_total",
			Help: "Total number of segments force-emitted at the max duration cap",
		}),

		ActiveJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stt_active_jobs",
			Help: "Current number of registered jobs",
		}),
		JobsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_jobs_created_total",
			Help: "Total number of jobs created",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_jobs_completed_total",
			Help: "Total number of jobs that reached COMPLETED",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_jobs_failed_total",
			Help: "Total number of jobs that reached FAILED",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_job_duration_seconds",
			Help:    "Duration of jobs from creation to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		DispatchQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stt_dispatch_queue_depth",
			Help: "Current number of segments waiting for a transcription worker",
		}),
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		SummaryRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_summary_requests_total",
			Help: "Total number of summarization requests sent",
		}),
		SummaryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_summary_failures_total",
			Help: "Total number of summarization requests that failed after retries",
		}),
		SummaryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_summary_duration_seconds",
			Help:    "Duration of summarization requests",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~4 minutes
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_events_published_total",
			Help: "Total number of events published, by type",
		}, []string{"type"}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_events_dropped_total",
			Help: "Total number of undelivered events dropped on queue overflow",
		}),
		SubscriberConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_subscriber_conflicts_total",
			Help: "Total number of rejected second-subscriber attach attempts",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
