// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "caption_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram

	// Segment metrics
	SegmentsCreated   prometheus.Counter
	SegmentsCompleted prometheus.Counter
	SegmentsDropped   *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTLatency         *prometheus.HistogramVec
	STTErrors          *prometheus.CounterVec
	STTUtteranceCount  prometheus.Counter
	STTPartialLatency  prometheus.Histogram
	STTFinalLatency    prometheus.Histogram

	// Backpressure metrics
	SegmentLimitExceeded *prometheus.CounterVec

	// Segment state machine metrics
	SegmentForcedBuffered     prometheus.Counter
	SegmentRecoverySuperseded prometheus.Counter
	SegmentRecoveryApplied    prometheus.Counter

	// Translation metrics
	TranslationRequests     *prometheus.CounterVec
	TranslationErrors       *prometheus.CounterVec
	TranslationCacheHits    *prometheus.CounterVec
	TranslationTruncations  *prometheus.CounterVec
	TranslationLatency      *prometheus.HistogramVec

	// Broadcaster metrics
	ListenersConnected   prometheus.Gauge
	BroadcastDropped     *prometheus.CounterVec
	BroadcastDelivered   *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Stream metrics
		StreamsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of gRPC streams started",
		}),
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active gRPC streams",
		}),
		StreamsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_success_total",
			Help:      "Total number of successfully completed streams",
		}),
		StreamsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of failed streams",
		}),
		StreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of gRPC streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		// Segment metrics
		SegmentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_created_total",
			Help:      "Total number of segments created",
		}),
		SegmentsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_completed_total",
			Help:      "Total number of segments completed with final transcript",
		}),
		SegmentsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_dropped_total",
			Help:      "Total number of segments dropped",
		}, []string{"reason"}),

		// Transcript metrics
		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),

		// Audio metrics
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// STT metrics
		STTLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Speech-to-text processing latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider", "type"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),
		STTUtteranceCount: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_utterances_total",
			Help:      "Total number of utterances detected",
		}),
		STTPartialLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_partial_latency_seconds",
			Help:      "Time from audio send to partial transcript",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1},
		}),
		STTFinalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_final_latency_seconds",
			Help:      "Time from audio send to final transcript",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5},
		}),

		// Backpressure metrics
		SegmentLimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_limit_exceeded_total",
			Help:      "Total number of times segment limits were exceeded",
		}, []string{"limit_type"}),

		// Segment state machine metrics
		SegmentForcedBuffered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_forced_buffered_total",
			Help:      "Total number of forced finals buffered pending the capture window",
		}),
		SegmentRecoverySuperseded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_recovery_superseded_total",
			Help:      "Total number of recovery results discarded due to a stale epoch",
		}),
		SegmentRecoveryApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_recovery_applied_total",
			Help:      "Total number of recovery results successfully applied to a forced buffer",
		}),

		// Translation metrics
		TranslationRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_requests_total",
			Help:      "Total number of translation requests by worker and target language",
		}, []string{"worker", "target_lang"}),
		TranslationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_errors_total",
			Help:      "Total number of translation request failures",
		}, []string{"worker", "target_lang"}),
		TranslationCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_cache_hits_total",
			Help:      "Total number of translation cache hits",
		}, []string{"worker"}),
		TranslationTruncations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_truncations_total",
			Help:      "Total number of translation responses truncated by token limits",
		}, []string{"worker", "target_lang"}),
		TranslationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_latency_seconds",
			Help:      "Translation request latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"worker", "target_lang"}),

		// Broadcaster metrics
		ListenersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners_connected",
			Help:      "Number of currently connected listeners across all sessions",
		}),
		BroadcastDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Total number of events dropped from a listener's outbound queue",
		}, []string{"event_kind"}),
		BroadcastDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_delivered_total",
			Help:      "Total number of events delivered to listeners",
		}, []string{"event_kind"}),
	}
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordSegmentCreated records a new segment being created.
func (m *Metrics) RecordSegmentCreated() {
	m.SegmentsCreated.Inc()
}

// RecordSegmentCompleted records a segment completed with final transcript.
func (m *Metrics) RecordSegmentCompleted() {
	m.SegmentsCompleted.Inc()
}

// RecordSegmentDropped records a segment being dropped.
func (m *Metrics) RecordSegmentDropped(reason string) {
	m.SegmentsDropped.WithLabelValues(reason).Inc()
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordUtterance records an utterance boundary detection.
func (m *Metrics) RecordUtterance() {
	m.STTUtteranceCount.Inc()
}

// RecordLimitExceeded records when a segment limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.SegmentLimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordForcedBuffered records a forced final entering the capture window.
func (m *Metrics) RecordForcedBuffered() {
	m.SegmentForcedBuffered.Inc()
}

// RecordRecoverySuperseded records a recovery result discarded for a stale epoch.
func (m *Metrics) RecordRecoverySuperseded() {
	m.SegmentRecoverySuperseded.Inc()
}

// RecordRecoveryApplied records a recovery result successfully committed.
func (m *Metrics) RecordRecoveryApplied() {
	m.SegmentRecoveryApplied.Inc()
}

// RecordTranslation records a translation request outcome.
func (m *Metrics) RecordTranslation(worker, targetLang string, err error, latencySeconds float64) {
	m.TranslationRequests.WithLabelValues(worker, targetLang).Inc()
	m.TranslationLatency.WithLabelValues(worker, targetLang).Observe(latencySeconds)
	if err != nil {
		m.TranslationErrors.WithLabelValues(worker, targetLang).Inc()
	}
}

// RecordTranslationCacheHit records a translation cache hit for a worker.
func (m *Metrics) RecordTranslationCacheHit(worker string) {
	m.TranslationCacheHits.WithLabelValues(worker).Inc()
}

// RecordTranslationTruncation records a translation response truncated by token limits.
func (m *Metrics) RecordTranslationTruncation(worker, targetLang string) {
	m.TranslationTruncations.WithLabelValues(worker, targetLang).Inc()
}

// RecordListenerJoined increments the connected-listener gauge.
func (m *Metrics) RecordListenerJoined() {
	m.ListenersConnected.Inc()
}

// RecordListenerLeft decrements the connected-listener gauge.
func (m *Metrics) RecordListenerLeft() {
	m.ListenersConnected.Dec()
}

// RecordBroadcastDropped records an event dropped from a listener's outbound queue.
func (m *Metrics) RecordBroadcastDropped(eventKind string) {
	m.BroadcastDropped.WithLabelValues(eventKind).Inc()
}

// RecordBroadcastDelivered records an event delivered to a listener.
func (m *Metrics) RecordBroadcastDelivered(eventKind string) {
	m.BroadcastDelivered.WithLabelValues(eventKind).Inc()
}

