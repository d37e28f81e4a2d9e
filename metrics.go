package goAuthClient

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	// MetricLoginReused counts anonymous logins served by an existing anonymous user.
	MetricLoginReused
	MetricLinkSuccess
	MetricLinkFailure
	MetricLogout
	// MetricServerLogoutFailure counts best-effort server session deletes that failed.
	MetricServerLogoutFailure
	MetricUserRemoved
	MetricSwitch
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricRefreshCoalesced counts callers that joined an in-flight refresh.
	MetricRefreshCoalesced
	// MetricRefreshDiscarded counts refresh results dropped because the user changed mid-flight.
	MetricRefreshDiscarded
	MetricProactiveRefresh
	MetricRequestSuccess
	MetricRequestFailure
	MetricRequestRetried
	MetricRequestFatalAuth
	MetricPersistFailure
	MetricLoadFailure
	MetricListenerPanic
	MetricRequestLatency
	// MetricRefreshLatency times the refresh exchange, excluding callers that joined it.
	MetricRefreshLatency
	metricIDCount
)

// histogramIDs are the metrics recorded as latency histograms rather than counters.
var histogramIDs = [...]MetricID{MetricRequestLatency, MetricRefreshLatency}

func histogramSlot(id MetricID) int {
	for i, h := range histogramIDs {
		if h == id {
			return i
		}
	}
	return -1
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type latencyHistogram struct {
	buckets [histBucketCount]atomic.Uint64
}

type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free set of counters plus the request and refresh latency
// histograms.
//
// A nil or disabled *Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [len(histogramIDs)]latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to counter id. Histogram ids are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount || histogramSlot(id) >= 0 {
		return
	}
	m.counters[id].value.Add(1)
}

// Observe records d in the histogram of id. Counter ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() {
		return
	}
	if slot := histogramSlot(id); slot >= 0 {
		m.histograms[slot].buckets[bucketIndex(d)].Add(1)
	}
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].value.Load()
}

// Snapshot copies every counter and, when latency is enabled, every histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if histogramSlot(id) < 0 {
			s.Counters[id] = m.counters[id].value.Load()
		}
	}
	if m.enableLatency {
		for slot, id := range histogramIDs {
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = m.histograms[slot].buckets[i].Load()
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}

// bucketIndex maps d to the histogram buckets 10ms, 25ms, 50ms, 100ms, 250ms, 500ms,
// 1s and +Inf.
func bucketIndex(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}

var bucketBounds = [histBucketCount - 1]time.Duration{
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}
