package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Media metrics
	MediaFramesReceived *prometheus.CounterVec
	MediaBytesDecoded   *prometheus.CounterVec
	DecodeErrors        prometheus.Counter
	DroppedMessages     *prometheus.CounterVec
	VADSilenceEvents    prometheus.Counter

	// Transcription backend metrics
	BackendRequests *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	BackendErrors   *prometheus.CounterVec

	// Fanout metrics
	EventsPublished *prometheus.CounterVec
	FanoutDropped   *prometheus.CounterVec

	// AMQP metrics
	AMQPPublished        prometheus.Counter
	AMQPConnectionErrors prometheus.Counter
)

// Init registers all pipeline metrics. Safe to call more than once.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotline_active_sessions",
			Help: "Number of live call sessions",
		})

		SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotline_sessions_started_total",
			Help: "Total number of call sessions created",
		})

		SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotline_sessions_ended_total",
			Help: "Total number of call sessions torn down, by reason",
		}, []string{"reason"})

		SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hotline_session_duration_seconds",
			Help:    "Lifetime of call sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		})

		MediaFramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotline_media_frames_received_total",
			Help: "Total media frames received from the transport",
		}, []string{"stream_sid"})

		MediaBytesDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotline_media_bytes_decoded_total",
			Help: "Total PCM bytes produced by the frame decoder",
		}, []string{"stream_sid"})

		DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotline_decode_errors_total",
			Help: "Total malformed media frames dropped",
		})

		DroppedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotline_dropped_messages_total",
			Help: "Total transport messages dropped, by reason",
		}, []string{"reason"})

		VADSilenceEvents = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotline_vad_silence_events_total",
			Help: "Total silence events emitted by voice activity detection",
		})

		BackendRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotline_backend_requests_total",
			Help: "Total transcription backend operations",
		}, []string{"backend", "operation"})

		BackendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hotline_backend_latency_seconds",
			Help:    "Latency of transcription backend submits",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"backend"})

		BackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotline_backend_errors_total",
			Help: "Total transcription backend errors, by class",
		}, []string{"backend", "class"})

		EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotline_events_published_total",
			Help: "Total events published to the fanout",
		}, []string{"kind"})

		FanoutDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotline_fanout_dropped_total",
			Help: "Total fanout deliveries dropped for slow listeners",
		}, []string{"kind"})

		AMQPPublished = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotline_amqp_published_total",
			Help: "Total messages published to AMQP",
		})

		AMQPConnectionErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotline_amqp_connection_errors_total",
			Help: "Total AMQP connection failures",
		})

		registry.MustRegister(
			ActiveSessions, SessionsStarted, SessionsEnded, SessionDuration,
			MediaFramesReceived, MediaBytesDecoded, DecodeErrors, DroppedMessages,
			VADSilenceEvents, BackendRequests, BackendLatency, BackendErrors,
			EventsPublished, FanoutDropped, AMQPPublished, AMQPConnectionErrors,
		)

		if logger != nil {
			logger.Info("Prometheus metrics registered")
		}
	})
}

// Handler returns the HTTP handler serving the metrics registry.
func Handler() http.Handler {
	Init(nil)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so that library code can record metrics
// without caring whether Init ran first (tests often skip it).

// IncFanoutDropped records a dropped fanout delivery.
func IncFanoutDropped(kind string) {
	if FanoutDropped != nil {
		FanoutDropped.WithLabelValues(kind).Inc()
	}
}

// IncEventPublished records a published event.
func IncEventPublished(kind string) {
	if EventsPublished != nil {
		EventsPublished.WithLabelValues(kind).Inc()
	}
}

// IncDecodeError records a dropped malformed frame.
func IncDecodeError() {
	if DecodeErrors != nil {
		DecodeErrors.Inc()
	}
}

// IncDroppedMessage records a dropped transport message.
func IncDroppedMessage(reason string) {
	if DroppedMessages != nil {
		DroppedMessages.WithLabelValues(reason).Inc()
	}
}

// IncVADSilence records an emitted silence event.
func IncVADSilence() {
	if VADSilenceEvents != nil {
		VADSilenceEvents.Inc()
	}
}

// SessionOpened records session creation.
func SessionOpened() {
	if ActiveSessions != nil {
		ActiveSessions.Inc()
	}
	if SessionsStarted != nil {
		SessionsStarted.Inc()
	}
}

// SessionClosed records session teardown.
func SessionClosed(reason string, lifetime time.Duration) {
	if ActiveSessions != nil {
		ActiveSessions.Dec()
	}
	if SessionsEnded != nil {
		SessionsEnded.WithLabelValues(reason).Inc()
	}
	if SessionDuration != nil {
		SessionDuration.Observe(lifetime.Seconds())
	}
}

// ObserveMediaFrame records one received frame and its decoded size.
func ObserveMediaFrame(streamSid string, pcmBytes int) {
	if MediaFramesReceived != nil {
		MediaFramesReceived.WithLabelValues(streamSid).Inc()
	}
	if MediaBytesDecoded != nil {
		MediaBytesDecoded.WithLabelValues(streamSid).Add(float64(pcmBytes))
	}
}

// ObserveBackendSubmit returns a func recording the latency and outcome of a
// backend submit when called.
func ObserveBackendSubmit(backend string) func(errClass string) {
	start := time.Now()
	if BackendRequests != nil {
		BackendRequests.WithLabelValues(backend, "submit").Inc()
	}
	return func(errClass string) {
		if BackendLatency != nil {
			BackendLatency.WithLabelValues(backend).Observe(time.Since(start).Seconds())
		}
		if errClass != "" && BackendErrors != nil {
			BackendErrors.WithLabelValues(backend, errClass).Inc()
		}
	}
}

// IncBackendOp records a non-submit backend operation (open, push, close).
func IncBackendOp(backend, operation string) {
	if BackendRequests != nil {
		BackendRequests.WithLabelValues(backend, operation).Inc()
	}
}

// IncAMQPPublished records one published AMQP message.
func IncAMQPPublished() {
	if AMQPPublished != nil {
		AMQPPublished.Inc()
	}
}

// IncAMQPConnectionError records one AMQP connection failure.
func IncAMQPConnectionError() {
	if AMQPConnectionErrors != nil {
		AMQPConnectionErrors.Inc()
	}
}
