package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func int64Sum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q: expected Sum[int64], got %T", name, m.Data)
	}
	return sum
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, 640)
	m.RecordFrame(ctx, 640)

	rm := collect(t, reader)

	frames := int64Sum(t, rm, "pcmcapture.frames.captured")
	if len(frames.DataPoints) != 1 || frames.DataPoints[0].Value != 2 {
		t.Errorf("frames.captured: expected 2, got %+v", frames.DataPoints)
	}
	bytes := int64Sum(t, rm, "pcmcapture.bytes.written")
	if len(bytes.DataPoints) != 1 || bytes.DataPoints[0].Value != 1280 {
		t.Errorf("bytes.written: expected 1280, got %+v", bytes.DataPoints)
	}
}

func TestRecordError_ByKind(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordError(ctx, "device")
	m.RecordError(ctx, "io")
	m.RecordError(ctx, "io")

	sum := int64Sum(t, collect(t, reader), "pcmcapture.capture.errors")
	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		kind, ok := dp.Attributes.Value(attribute.Key("kind"))
		if !ok {
			t.Fatalf("data point without kind attribute: %+v", dp)
		}
		got[kind.AsString()] = dp.Value
	}
	if got["device"] != 1 || got["io"] != 2 {
		t.Errorf("unexpected error counts: %v", got)
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	sum := int64Sum(t, collect(t, reader), "pcmcapture.sessions.active")
	if sum.IsMonotonic {
		t.Error("sessions.active should not be monotonic")
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("sessions.active: expected 1, got %+v", sum.DataPoints)
	}
}

func TestRecordFinalize(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordFinalize(context.Background(), 20*time.Millisecond)

	rm := collect(t, reader)
	found := findMetric(rm, "pcmcapture.finalize.duration")
	if found == nil {
		t.Fatal("finalize.duration not found")
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", found.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one observation, got %+v", hist.DataPoints)
	}
	if found.Unit != "s" {
		t.Errorf("expected unit s, got %q", found.Unit)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
