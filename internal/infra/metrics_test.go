package infra

import (
	"testing"
)

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordDiffApplied()
	m.RecordDiffApplied()
	m.RecordStaleDiff()
	m.RecordGapDetected()
	m.RecordResync()
	m.RecordTrade()
	m.RecordUnknownSymbol()
	m.RecordMalformedEvent()

	snap := m.Snapshot()
	if snap.DiffsApplied != 2 {
		t.Errorf("Expected 2 diffs applied, got %d", snap.DiffsApplied)
	}
	if snap.StaleDiffs != 1 || snap.GapsDetected != 1 || snap.Resyncs != 1 {
		t.Errorf("Unexpected gate counters: %+v", snap)
	}
	if snap.TradesSeen != 1 || snap.UnknownSymbols != 1 || snap.MalformedEvents != 1 {
		t.Errorf("Unexpected event counters: %+v", snap)
	}
}

func TestMetrics_SnapshotFetches(t *testing.T) {
	m := &Metrics{}

	m.RecordSnapshotFetch()
	m.RecordSnapshotFetch()
	m.RecordSnapshotError()

	snap := m.Snapshot()
	if snap.SnapshotFetches != 2 {
		t.Errorf("Expected 2 fetches, got %d", snap.SnapshotFetches)
	}
	if snap.SnapshotErrors != 1 {
		t.Errorf("Expected 1 error, got %d", snap.SnapshotErrors)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_TrackedSymbols(t *testing.T) {
	m := &Metrics{}

	m.SetTrackedSymbols(5)
	if snap := m.Snapshot(); snap.TrackedSymbols != 5 {
		t.Errorf("Expected 5 tracked symbols, got %d", snap.TrackedSymbols)
	}

	m.SetTrackedSymbols(0)
	if snap := m.Snapshot(); snap.TrackedSymbols != 0 {
		t.Errorf("Expected 0 tracked symbols, got %d", snap.TrackedSymbols)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordDiffApplied()
	m.RecordGapDetected()
	m.IncrementConnections()
	m.SetTrackedSymbols(3)

	m.Reset()
	snap := m.Snapshot()

	if snap.DiffsApplied != 0 {
		t.Error("Expected 0 diffs after reset")
	}
	if snap.GapsDetected != 0 {
		t.Error("Expected 0 gaps after reset")
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
	if snap.TrackedSymbols != 0 {
		t.Error("Expected 0 tracked symbols after reset")
	}
}
