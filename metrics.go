package qcomtee

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the invocation latency histogram buckets in
// nanoseconds, from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks invocation and callback statistics for a root.
type Metrics struct {
	// Forward path
	Invokes             atomic.Uint64 // total forward invocations
	InvokeTransportErrs atomic.Uint64 // invocations that failed at the transport
	InvokeDomainErrs    atomic.Uint64 // invocations with a non-OK domain result

	// Reverse path
	CallbackRequests atomic.Uint64 // dispatched reverse requests
	CallbackErrors   atomic.Uint64 // reverse requests answered with an error

	// Performance tracking (forward path)
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Cumulative bucket counts: bucket[i] counts invocations with
	// latency <= LatencyBuckets[i].
	Latency [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordInvoke records one forward invocation.
func (m *Metrics) RecordInvoke(latencyNs uint64, transportOK bool, result Result) {
	m.Invokes.Add(1)
	if !transportOK {
		m.InvokeTransportErrs.Add(1)
	} else if result != OK {
		m.InvokeDomainErrs.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordCallback records one dispatched reverse request.
func (m *Metrics) RecordCallback(latencyNs uint64, success bool) {
	m.CallbackRequests.Add(1)
	if !success {
		m.CallbackErrors.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.Latency[i].Add(1)
		}
	}
}

// MetricsSnapshot is a point-in-time view of a Metrics.
type MetricsSnapshot struct {
	Invokes             uint64
	InvokeTransportErrs uint64
	InvokeDomainErrs    uint64
	CallbackRequests    uint64
	CallbackErrors      uint64

	AvgLatencyNs     uint64
	UptimeNs         uint64
	InvokesPerSecond float64
	ErrorRate        float64 // percentage of failed forward invocations

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Invokes:             m.Invokes.Load(),
		InvokeTransportErrs: m.InvokeTransportErrs.Load(),
		InvokeDomainErrs:    m.InvokeDomainErrs.Load(),
		CallbackRequests:    m.CallbackRequests.Load(),
		CallbackErrors:      m.CallbackErrors.Load(),
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	snap.UptimeNs = uint64(time.Now().UnixNano() - m.StartTime.Load())
	if snap.UptimeNs > 0 {
		snap.InvokesPerSecond = float64(snap.Invokes) / (float64(snap.UptimeNs) / 1e9)
	}

	if snap.Invokes > 0 {
		failed := snap.InvokeTransportErrs + snap.InvokeDomainErrs
		snap.ErrorRate = float64(failed) / float64(snap.Invokes) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.Latency[i].Load()
	}

	return snap
}

// Reset resets all counters (useful for testing)
func (m *Metrics) Reset() {
	m.Invokes.Store(0)
	m.InvokeTransportErrs.Store(0)
	m.InvokeDomainErrs.Store(0)
	m.CallbackRequests.Store(0)
	m.CallbackErrors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.Latency[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
}

// Observer allows pluggable metrics collection. Implementations must be
// thread-safe: methods are called from the invoking goroutine and from
// supplicant workers.
type Observer interface {
	// ObserveInvoke is called for each forward invocation.
	ObserveInvoke(op Op, latencyNs uint64, transportOK bool, result Result)

	// ObserveCallback is called for each reverse request whose target
	// object was found, after its response has been submitted. Release
	// requests and requests for unknown objects are not observed.
	ObserveCallback(op Op, latencyNs uint64, success bool)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveInvoke(Op, uint64, bool, Result) {}
func (NoOpObserver) ObserveCallback(Op, uint64, bool)       {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveInvoke(_ Op, latencyNs uint64, transportOK bool, result Result) {
	o.metrics.RecordInvoke(latencyNs, transportOK, result)
}

func (o *MetricsObserver) ObserveCallback(_ Op, latencyNs uint64, success bool) {
	o.metrics.RecordCallback(latencyNs, success)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
