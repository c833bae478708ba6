package observe

import (
	"context"
	"testing"

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

func TestProviderRequestCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "llm", "format", "ok")
	m.RecordProviderRequest(ctx, "llm", "format", "ok")
	m.RecordProviderRequest(ctx, "stt", "stream", "error")

	rm := collect(t, reader)
	met := findMetric(rm, "radscribe.provider.requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "kind" && kv.Value.AsString() == "format" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with kind=format not found")
}

func TestReportsCreatedCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReportCreated(ctx, "CT")
	m.RecordReportCreated(ctx, "CT")
	m.RecordReportCreated(ctx, "MRI")

	rm := collect(t, reader)
	met := findMetric(rm, "radscribe.reports.created")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "modality" && kv.Value.AsString() == "CT" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with modality=CT not found")
}

func TestRecognitionErrorCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecognitionError(ctx, "no-speech")

	rm := collect(t, reader)
	met := findMetric(rm, "radscribe.recognition.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("data points = %v", sum.DataPoints)
	}
}

func TestDurationHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.STTDuration.Record(ctx, 4.2)
	m.FormatDuration.Record(ctx, 1.1)
	m.FormatDuration.Record(ctx, 0.9)

	rm := collect(t, reader)
	for name, wantCount := range map[string]uint64{
		"radscribe.stt.duration":    1,
		"radscribe.format.duration": 2,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatalf("metric %q is not a histogram", name)
		}
		if len(hist.DataPoints) == 0 {
			t.Fatalf("metric %q has no data points", name)
		}
		if got := hist.DataPoints[0].Count; got != wantCount {
			t.Errorf("%s sample count = %d, want %d", name, got, wantCount)
		}
	}
}

func TestActiveDictationSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveDictationSessions.Add(ctx, 1)
	m.ActiveDictationSessions.Add(ctx, 1)
	m.ActiveDictationSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "radscribe.active_dictation_sessions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("gauge value = %v, want 1", sum.DataPoints)
	}
}

func TestDefaultMetricsReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
