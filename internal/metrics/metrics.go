// Package metrics exposes Prometheus collectors for the capture pipeline and
// the realtime session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "realtime_voice"

// Flush reasons.
const (
	FlushReasonSize  = "size"
	FlushReasonTime  = "time"
	FlushReasonFinal = "final"
)

// Wire directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

var (
	captureFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_flushes_total",
			Help:      "Total number of capture buffer flushes",
		},
		[]string{"reason"}, // reason: size, time, final
	)

	captureSamplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_samples_total",
			Help:      "Total number of 24 kHz mono samples flushed by the capture pipeline",
		},
	)

	captureDroppedSamplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_dropped_samples_total",
			Help:      "Samples discarded because the delivery queue was full",
		},
	)

	wireEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wire_events_total",
			Help:      "Total number of realtime protocol events by direction and type",
		},
		[]string{"direction", "type"},
	)

	malformedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Inbound messages dropped because they could not be decoded",
		},
	)

	playbackDroppedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_dropped_chunks_total",
			Help:      "Audio chunks discarded because the playback queue was full",
		},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions in the Active state",
		},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished sessions by outcome",
		},
		[]string{"outcome"}, // outcome: stopped, cancelled, error
	)

	responseTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_tokens_total",
			Help:      "Tokens billed for finished responses",
		},
		[]string{"kind"}, // kind: input, output
	)

	allMetrics = []prometheus.Collector{
		captureFlushesTotal,
		captureSamplesTotal,
		captureDroppedSamplesTotal,
		wireEventsTotal,
		malformedMessagesTotal,
		playbackDroppedChunksTotal,
		sessionsActive,
		sessionsTotal,
		responseTokensTotal,
	}
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range allMetrics {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordCaptureFlush records a flushed capture buffer.
func RecordCaptureFlush(samples int, reason string) {
	captureFlushesTotal.WithLabelValues(reason).Inc()
	captureSamplesTotal.Add(float64(samples))
}

// RecordCaptureDrop records samples lost to a full delivery queue.
func RecordCaptureDrop(samples int) {
	captureDroppedSamplesTotal.Add(float64(samples))
}

// RecordWireEvent records one protocol event crossing the connection.
func RecordWireEvent(direction, eventType string) {
	wireEventsTotal.WithLabelValues(direction, eventType).Inc()
}

// RecordMalformedMessage records an undecodable inbound message.
func RecordMalformedMessage() {
	malformedMessagesTotal.Inc()
}

// RecordPlaybackDrop records an audio chunk lost to a full playback queue.
func RecordPlaybackDrop() {
	playbackDroppedChunksTotal.Inc()
}

// RecordSessionActive marks a session as having reached Active.
func RecordSessionActive() {
	sessionsActive.Inc()
}

// RecordSessionEnd records a finished session. wasActive reports whether the
// session had been counted by RecordSessionActive.
func RecordSessionEnd(outcome string, wasActive bool) {
	if wasActive {
		sessionsActive.Dec()
	}
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordResponseUsage records the token usage of a finished response.
func RecordResponseUsage(inputTokens, outputTokens int) {
	responseTokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	responseTokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}
