// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_call_speech"

// Metrics holds all Prometheus metrics for the service. All Record helpers
// are nil-safe so tests can pass a nil *Metrics.
type Metrics struct {
	// Session metrics
	SessionsTotal        prometheus.Counter
	SessionsActive       prometheus.Gauge
	SessionCloseTimeouts prometheus.Counter

	// Audio ingest metrics
	FramesAccepted     prometheus.Counter
	FramesRejected     *prometheus.CounterVec
	AudioBytesAccepted prometheus.Counter
	QueueDepth         prometheus.Gauge

	// Barge-in metrics
	BargeIns prometheus.Counter

	// Transcript metrics
	TranscriptsInterim prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	TranscriptLatency  prometheus.Histogram

	// Utterance metrics
	UtterancesFired *prometheus.CounterVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of call sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active call sessions",
		}),
		SessionCloseTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_close_timeouts_total",
			Help:      "Total number of session closes that exceeded the wait bound",
		}),

		FramesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_accepted_total",
			Help:      "Total audio frames accepted into the queue",
		}),
		FramesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Total audio frames rejected before the queue",
		}, []string{"reason"}),
		AudioBytesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_accepted_total",
			Help:      "Total audio bytes accepted into the queue",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_queue_depth",
			Help:      "Frame queue depth sampled at the periodic ingest log",
		}),

		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total barge-in detections while a prompt was playing",
		}),

		TranscriptsInterim: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_interim_total",
			Help:      "Total interim transcript events received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total final transcript events received",
		}),
		TranscriptLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcript_latency_seconds",
			Help:      "Time from first event of an utterance to each transcript event",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		UtterancesFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_fired_total",
			Help:      "Total utterance-ready events by fire path",
		}, []string{"via"}),

		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total recognition stream errors by gRPC code",
		}, []string{"code"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(timedOut bool) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	if timedOut {
		m.SessionCloseTimeouts.Inc()
	}
}

// RecordFrameAccepted records an audio frame entering the queue.
func (m *Metrics) RecordFrameAccepted(bytes, queueDepth int) {
	if m == nil {
		return
	}
	m.FramesAccepted.Inc()
	m.AudioBytesAccepted.Add(float64(bytes))
	m.QueueDepth.Set(float64(queueDepth))
}

// RecordFrameRejected records an audio frame dropped before the queue.
func (m *Metrics) RecordFrameRejected(reason string) {
	if m == nil {
		return
	}
	m.FramesRejected.WithLabelValues(reason).Inc()
}

// RecordBargeIn records a barge-in detection.
func (m *Metrics) RecordBargeIn() {
	if m == nil {
		return
	}
	m.BargeIns.Inc()
}

// RecordTranscript records a classified transcript event and its latency.
func (m *Metrics) RecordTranscript(isFinal bool, latencySeconds float64) {
	if m == nil {
		return
	}
	if isFinal {
		m.TranscriptsFinal.Inc()
	} else {
		m.TranscriptsInterim.Inc()
	}
	m.TranscriptLatency.Observe(latencySeconds)
}

// RecordUtteranceFired records an utterance-ready event by fire path.
func (m *Metrics) RecordUtteranceFired(via string) {
	if m == nil {
		return
	}
	m.UtterancesFired.WithLabelValues(via).Inc()
}

// RecordSTTError records a recognition stream error.
func (m *Metrics) RecordSTTError(code string) {
	if m == nil {
		return
	}
	m.STTErrors.WithLabelValues(code).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.KafkaPublishTotal.WithLabelValues(topic).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic).Inc()
	}
}
