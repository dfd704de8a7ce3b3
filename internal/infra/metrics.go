package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	diffsApplied    atomic.Uint64
	staleDiffs      atomic.Uint64
	gapsDetected    atomic.Uint64
	resyncs         atomic.Uint64
	snapshotFetches atomic.Uint64
	snapshotErrors  atomic.Uint64
	unknownSymbols  atomic.Uint64
	malformedEvents atomic.Uint64
	tradesSeen      atomic.Uint64

	// Gauges
	trackedSymbols    atomic.Int32
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordDiffApplied records one diff that passed the gate.
func (m *Metrics) RecordDiffApplied() {
	m.diffsApplied.Add(1)
}

// RecordStaleDiff records one duplicate/late diff dropped by the gate.
func (m *Metrics) RecordStaleDiff() {
	m.staleDiffs.Add(1)
}

// RecordGapDetected records one missed-update detection.
func (m *Metrics) RecordGapDetected() {
	m.gapsDetected.Add(1)
}

// RecordResync records one snapshot-driven resynchronization trigger.
func (m *Metrics) RecordResync() {
	m.resyncs.Add(1)
}

// RecordSnapshotFetch records one snapshot fetch attempt.
func (m *Metrics) RecordSnapshotFetch() {
	m.snapshotFetches.Add(1)
}

// RecordSnapshotError records one failed snapshot fetch.
func (m *Metrics) RecordSnapshotError() {
	m.snapshotErrors.Add(1)
}

// RecordUnknownSymbol records one event routed for an untracked symbol.
func (m *Metrics) RecordUnknownSymbol() {
	m.unknownSymbols.Add(1)
}

// RecordMalformedEvent records one dropped undecodable event.
func (m *Metrics) RecordMalformedEvent() {
	m.malformedEvents.Add(1)
}

// RecordTrade records one trade print processed.
func (m *Metrics) RecordTrade() {
	m.tradesSeen.Add(1)
}

// SetTrackedSymbols sets the current tracked symbol count.
func (m *Metrics) SetTrackedSymbols(count int32) {
	m.trackedSymbols.Store(count)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	DiffsApplied      uint64
	StaleDiffs        uint64
	GapsDetected      uint64
	Resyncs           uint64
	SnapshotFetches   uint64
	SnapshotErrors    uint64
	UnknownSymbols    uint64
	MalformedEvents   uint64
	TradesSeen        uint64
	TrackedSymbols    int32
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		DiffsApplied:      m.diffsApplied.Load(),
		StaleDiffs:        m.staleDiffs.Load(),
		GapsDetected:      m.gapsDetected.Load(),
		Resyncs:           m.resyncs.Load(),
		SnapshotFetches:   m.snapshotFetches.Load(),
		SnapshotErrors:    m.snapshotErrors.Load(),
		UnknownSymbols:    m.unknownSymbols.Load(),
		MalformedEvents:   m.malformedEvents.Load(),
		TradesSeen:        m.tradesSeen.Load(),
		TrackedSymbols:    m.trackedSymbols.Load(),
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.diffsApplied.Store(0)
	m.staleDiffs.Store(0)
	m.gapsDetected.Store(0)
	m.resyncs.Store(0)
	m.snapshotFetches.Store(0)
	m.snapshotErrors.Store(0)
	m.unknownSymbols.Store(0)
	m.malformedEvents.Store(0)
	m.tradesSeen.Store(0)
	m.trackedSymbols.Store(0)
	m.activeConnections.Store(0)
}
