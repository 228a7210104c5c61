package rpc

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the dispatch-latency histogram buckets in
// nanoseconds, from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for an RPC
// server or client. It implements Observer.
type Metrics struct {
	// Call counters
	Calls  atomic.Uint64 // Total dispatched calls
	Faults atomic.Uint64 // Calls that produced a fault

	// Connection statistics
	ConnectionsOpened atomic.Uint64
	ConnectionsClosed atomic.Uint64
	OpenConnections   atomic.Int64

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative dispatch latency
	OpCount        atomic.Uint64 // Operations counted for the average

	// Latency histogram buckets (cumulative counts); bucket[i] counts
	// operations with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// ObserveCall implements Observer.
func (m *Metrics) ObserveCall(method string, latencyNs uint64, fault bool) {
	m.Calls.Add(1)
	if fault {
		m.Faults.Add(1)
	}
	m.recordLatency(latencyNs)
}

// ObserveConnection implements Observer.
func (m *Metrics) ObserveConnection(open bool) {
	if open {
		m.ConnectionsOpened.Add(1)
		m.OpenConnections.Add(1)
	} else {
		m.ConnectionsClosed.Add(1)
		m.OpenConnections.Add(-1)
	}
}

// recordLatency records operation latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Calls  uint64
	Faults uint64

	ConnectionsOpened uint64
	ConnectionsClosed uint64
	OpenConnections   int64

	AvgLatencyNs   uint64
	LatencyBuckets [numLatencyBuckets]uint64

	Uptime time.Duration
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Calls:             m.Calls.Load(),
		Faults:            m.Faults.Load(),
		ConnectionsOpened: m.ConnectionsOpened.Load(),
		ConnectionsClosed: m.ConnectionsClosed.Load(),
		OpenConnections:   m.OpenConnections.Load(),
		Uptime:            time.Duration(time.Now().UnixNano() - m.StartTime.Load()),
	}
	if ops := m.OpCount.Load(); ops > 0 {
		s.AvgLatencyNs = m.TotalLatencyNs.Load() / ops
	}
	for i := range s.LatencyBuckets {
		s.LatencyBuckets[i] = m.LatencyBuckets[i].Load()
	}
	return s
}
