// Package observe provides application-wide observability primitives for
// livetutor: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livetutor metrics.
const meterName = "github.com/skillpath/livetutor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long a live session takes to open.
	ConnectDuration metric.Float64Histogram

	// PlaybackChunkDuration tracks the audio length of each scheduled chunk.
	PlaybackChunkDuration metric.Float64Histogram

	// --- Counters ---

	// AudioBlocksSent counts capture blocks handed to the live session.
	AudioBlocksSent metric.Int64Counter

	// AudioBlocksDropped counts capture blocks dropped because the outbound
	// queue was full or the send failed.
	AudioBlocksDropped metric.Int64Counter

	// VideoFramesSent counts camera frames handed to the live session.
	VideoFramesSent metric.Int64Counter

	// PlaybackScheduled counts inbound audio chunks scheduled for playback.
	PlaybackScheduled metric.Int64Counter

	// PlaybackInterruptions counts barge-in flushes.
	PlaybackInterruptions metric.Int64Counter

	// --- Error counters ---

	// DecodeErrors counts inbound payloads that could not be decoded.
	DecodeErrors metric.Int64Counter

	// SessionErrors counts sessions that ended in the Error state. Use with
	// attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// handshake and chunk lengths.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("livetutor.session.connect.duration",
		metric.WithDescription("Time from connect request to an open live session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunkDuration, err = m.Float64Histogram("livetutor.playback.chunk.duration",
		metric.WithDescription("Audio length of scheduled playback chunks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioBlocksSent, err = m.Int64Counter("livetutor.audio.blocks_sent",
		metric.WithDescription("Total capture blocks sent to the live session."),
	); err != nil {
		return nil, err
	}
	if met.AudioBlocksDropped, err = m.Int64Counter("livetutor.audio.blocks_dropped",
		metric.WithDescription("Total capture blocks dropped before sending."),
	); err != nil {
		return nil, err
	}
	if met.VideoFramesSent, err = m.Int64Counter("livetutor.video.frames_sent",
		metric.WithDescription("Total camera frames sent to the live session."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackScheduled, err = m.Int64Counter("livetutor.playback.scheduled",
		metric.WithDescription("Total inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterruptions, err = m.Int64Counter("livetutor.playback.interruptions",
		metric.WithDescription("Total playback flushes caused by barge-in."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DecodeErrors, err = m.Int64Counter("livetutor.decode.errors",
		metric.WithDescription("Total inbound audio payloads dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("livetutor.session.errors",
		metric.WithDescription("Total sessions ended in error by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livetutor.active_sessions",
		metric.WithDescription("Number of open live tutor sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livetutor.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionError records a session error counter increment for kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordPlayback records one scheduled chunk of length seconds.
func (m *Metrics) RecordPlayback(ctx context.Context, seconds float64) {
	m.PlaybackScheduled.Add(ctx, 1)
	m.PlaybackChunkDuration.Record(ctx, seconds)
}
