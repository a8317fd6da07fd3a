package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	passesRun       atomic.Uint64
	ordersExecuted  atomic.Uint64
	ordersCancelled atomic.Uint64
	ordersSkipped   atomic.Uint64
	walletsRevalued atomic.Uint64
	priceFetches    atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking for matching passes
	passLatencySumNs atomic.Int64
	passLatencyCount atomic.Uint64

	// Gauges
	streamConnected atomic.Int32 // 1 = connected, 0 = down
}

// RecordPass records one completed matching pass with its latency.
func (m *Metrics) RecordPass(latencyNs int64) {
	m.passesRun.Add(1)
	m.passLatencySumNs.Add(latencyNs)
	m.passLatencyCount.Add(1)
}

// RecordOrderExecuted records a filled order.
func (m *Metrics) RecordOrderExecuted() {
	m.ordersExecuted.Add(1)
}

// RecordOrderCancelled records an order cancelled at trigger time.
func (m *Metrics) RecordOrderCancelled() {
	m.ordersCancelled.Add(1)
}

// RecordOrderSkipped records an order left open for the next pass.
func (m *Metrics) RecordOrderSkipped() {
	m.ordersSkipped.Add(1)
}

// RecordWalletRevalued records one wallet snapshot appended.
func (m *Metrics) RecordWalletRevalued() {
	m.walletsRevalued.Add(1)
}

// RecordPriceFetch records one REST batch request to the price feed.
func (m *Metrics) RecordPriceFetch() {
	m.priceFetches.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetStreamConnected sets the ticker stream connection state.
func (m *Metrics) SetStreamConnected(connected bool) {
	if connected {
		m.streamConnected.Store(1)
	} else {
		m.streamConnected.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	PassesRun        uint64
	OrdersExecuted   uint64
	OrdersCancelled  uint64
	OrdersSkipped    uint64
	WalletsRevalued  uint64
	PriceFetches     uint64
	ErrorsTotal      uint64
	AvgPassLatencyNs int64
	StreamConnected  bool
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.passLatencyCount.Load()
	if count > 0 {
		avgLatency = m.passLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		PassesRun:        m.passesRun.Load(),
		OrdersExecuted:   m.ordersExecuted.Load(),
		OrdersCancelled:  m.ordersCancelled.Load(),
		OrdersSkipped:    m.ordersSkipped.Load(),
		WalletsRevalued:  m.walletsRevalued.Load(),
		PriceFetches:     m.priceFetches.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		AvgPassLatencyNs: avgLatency,
		StreamConnected:  m.streamConnected.Load() == 1,
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.passesRun.Store(0)
	m.ordersExecuted.Store(0)
	m.ordersCancelled.Store(0)
	m.ordersSkipped.Store(0)
	m.walletsRevalued.Store(0)
	m.priceFetches.Store(0)
	m.errorsTotal.Store(0)
	m.passLatencySumNs.Store(0)
	m.passLatencyCount.Store(0)
	m.streamConnected.Store(0)
}
