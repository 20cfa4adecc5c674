// Package observe provides the OpenTelemetry instruments recorded by the
// capture pipeline and the Prometheus bridge that exposes them.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is built
// from the global meter provider; tests should use [NewMetrics] with a
// provider backed by a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pcmcapture metrics.
const meterName = "github.com/audiolibrelab/pcmcapture"

// Metrics holds the metric instruments for the capture pipeline. All
// fields are safe for concurrent use.
type Metrics struct {
	// FramesCaptured counts frames read from the device and written to the sink.
	FramesCaptured metric.Int64Counter

	// BytesWritten counts payload bytes handed to the sink.
	BytesWritten metric.Int64Counter

	// Pauses counts pause requests that changed the gate state.
	Pauses metric.Int64Counter

	// CaptureErrors counts errors by kind. Use with attribute:
	//   attribute.String("kind", "device"|"io"|"state"|"observer")
	CaptureErrors metric.Int64Counter

	// ActiveSessions tracks capture loops currently recording.
	ActiveSessions metric.Int64UpDownCounter

	// FinalizeDuration tracks the flush, seal and header patch of Complete.
	FinalizeDuration metric.Float64Histogram
}

var finalizeBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("pcmcapture.frames.captured",
		metric.WithDescription("Frames read from the input device."),
	); err != nil {
		return nil, err
	}
	if met.BytesWritten, err = m.Int64Counter("pcmcapture.bytes.written",
		metric.WithDescription("PCM payload bytes written to the destination."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Pauses, err = m.Int64Counter("pcmcapture.pauses",
		metric.WithDescription("Capture pauses."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("pcmcapture.capture.errors",
		metric.WithDescription("Capture errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("pcmcapture.sessions.active",
		metric.WithDescription("Capture sessions currently recording."),
	); err != nil {
		return nil, err
	}
	if met.FinalizeDuration, err = m.Float64Histogram("pcmcapture.finalize.duration",
		metric.WithDescription("Time spent sealing the payload and patching the header."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(finalizeBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider].
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

// RecordFrame records one captured frame of n payload bytes.
func (m *Metrics) RecordFrame(ctx context.Context, n int) {
	m.FramesCaptured.Add(ctx, 1)
	m.BytesWritten.Add(ctx, int64(n))
}

// RecordError records a capture error of the given kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFinalize records how long a finalize took.
func (m *Metrics) RecordFinalize(ctx context.Context, d time.Duration) {
	m.FinalizeDuration.Record(ctx, d.Seconds())
}
