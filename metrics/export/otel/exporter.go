package otel

import (
	"context"
	"errors"
	"fmt"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// BucketKey is the attribute carrying a histogram bucket's upper bound.
const BucketKey = attribute.Key("le")

// AppIDKey is the attribute NewOTelExporter sets to the engine's app id.
const AppIDKey = attribute.Key("app_id")

type metricsSource interface {
	MetricsSnapshot() goAuthClient.MetricsSnapshot
	AuditDropped() uint64
}

type sourceCounter struct {
	id         goAuthClient.MetricID
	instrument metric.Int64ObservableCounter
}

type sourceHistogram struct {
	id      goAuthClient.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableCounter
}

// OTelExporter publishes one engine's metrics as observable instruments. Each histogram
// becomes a gauge of cumulative bucket counts keyed by the "le" attribute plus a
// sample counter named <histogram>_count.
type OTelExporter struct {
	source       metricsSource
	attrs        metric.MeasurementOption
	bucketAttrs  []metric.MeasurementOption
	registration metric.Registration
	counters     []sourceCounter
	histograms   []sourceHistogram
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read engine on each collection.
// Every measurement carries the engine's app id.
func NewOTelExporter(meter metric.Meter, engine *goAuthClient.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine, AppIDKey.String(engine.Config().App.ID))
}

// NewOTelExporterFromSource registers instruments reading source. attrs are attached to
// every measurement.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource, attrs ...attribute.KeyValue) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source: source,
		attrs:  metric.WithAttributes(attrs...),
	}
	for _, suffix := range internaldefs.HistogramBoundSuffix {
		kv := append(append([]attribute.KeyValue(nil), attrs...), BucketKey.String(suffix))
		e.bucketAttrs = append(e.bucketAttrs, metric.WithAttributes(kv...))
	}

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, sourceCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("histogram %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableCounter(def.Name+"_count",
			metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("histogram %s count: %w", def.Name, err)
		}
		e.histograms = append(e.histograms, sourceHistogram{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	dropped, err := meter.Int64ObservableCounter(
		"goauthclient_audit_dropped_total",
		metric.WithDescription("Audit events dropped due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]), e.attrs)
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, v := range cumulative {
			o.ObserveInt64(h.buckets, int64(v), e.bucketAttrs[i])
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), e.attrs)
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()), e.attrs)
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
