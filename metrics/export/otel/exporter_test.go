package otel

import (
	"context"
	"sync"
	"testing"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/authtest"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goAuthClient.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goAuthClient.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goAuthClient.MetricsSnapshot{
		Counters:   make(map[goAuthClient.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goAuthClient.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("goauthclient-test")

	src := &fakeSource{
		snapshot: goAuthClient.MetricsSnapshot{
			Counters: map[goAuthClient.MetricID]uint64{
				goAuthClient.MetricLoginSuccess: 3,
			},
			Histograms: map[goAuthClient.MetricID][]uint64{
				goAuthClient.MetricRequestLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("goauthclient-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("goauthclient-test")

	src := &fakeSource{
		snapshot: goAuthClient.MetricsSnapshot{
			Counters: map[goAuthClient.MetricID]uint64{
				goAuthClient.MetricLoginSuccess: 1,
			},
			Histograms: map[goAuthClient.MetricID][]uint64{
				goAuthClient.MetricRequestLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goAuthClient.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func collectValues(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	values := map[string]int64{}
	record := func(name string, points []metricdata.DataPoint[int64]) {
		for _, dp := range points {
			key := name
			if le, ok := dp.Attributes.Value(BucketKey); ok {
				key += "{le=" + le.AsString() + "}"
			}
			values[key] = dp.Value
		}
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				record(m.Name, data.DataPoints)
			case metricdata.Gauge[int64]:
				record(m.Name, data.DataPoints)
			}
		}
	}
	return values
}

func TestExporterPublishesCumulativeBuckets(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("goauthclient-test")

	src := &fakeSource{
		snapshot: goAuthClient.MetricsSnapshot{
			Counters: map[goAuthClient.MetricID]uint64{goAuthClient.MetricRefreshSuccess: 4},
			Histograms: map[goAuthClient.MetricID][]uint64{
				goAuthClient.MetricRequestLatency: {2, 0, 1, 0, 0, 0, 0, 5},
			},
		},
		dropped: 6,
	}
	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	values := collectValues(t, reader)
	checks := map[string]int64{
		"goauthclient_refresh_success_total":                   4,
		"goauthclient_audit_dropped_total":                     6,
		"goauthclient_request_latency_seconds_bucket{le=0_01}": 2,
		"goauthclient_request_latency_seconds_bucket{le=0_05}": 3,
		"goauthclient_request_latency_seconds_bucket{le=inf}":  8,
		"goauthclient_request_latency_seconds_count":           8,
	}
	for name, want := range checks {
		if got, ok := values[name]; !ok || got != want {
			t.Fatalf("%s = %d (present=%v), want %d", name, got, ok, want)
		}
	}
}

func TestExporterTagsEngineAppID(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	cfg := goAuthClient.DefaultConfig()
	cfg.App.ID = "otel-app"
	engine, err := goAuthClient.New().
		WithConfig(cfg).
		WithTransport(authtest.MustNewServer(authtest.Options{AppID: "otel-app"})).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, err := engine.LoginWithCredential(context.Background(), goAuthClient.AnonymousCredential{}); err != nil {
		t.Fatalf("login: %v", err)
	}

	exp, err := NewOTelExporter(provider.Meter("goauthclient-test"), engine)
	if err != nil {
		t.Fatalf("NewOTelExporter failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || m.Name != "goauthclient_login_success_total" {
				continue
			}
			dp := sum.DataPoints[0]
			if app, _ := dp.Attributes.Value(AppIDKey); app.AsString() != "otel-app" || dp.Value != 1 {
				t.Fatalf("unexpected data point %+v", dp)
			}
			return
		}
	}
	t.Fatal("login counter not collected")
}
