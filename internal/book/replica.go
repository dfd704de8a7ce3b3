package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"depthwatch/internal/domain"
)

// ApplyResult classifies the outcome of offering a diff to a replica.
type ApplyResult int

const (
	// ApplyOK means the diff passed the gate and mutated the book.
	ApplyOK ApplyResult = iota
	// ApplyStale means the diff's final update ID is at or below the
	// replica's. Expected under at-least-once delivery; dropped silently.
	ApplyStale
	// ApplyGap means the diff starts beyond lastUpdateID+1: an update was
	// missed. The book is NOT mutated; the caller must resynchronize.
	ApplyGap
)

// String returns the string representation of ApplyResult
func (r ApplyResult) String() string {
	switch r {
	case ApplyOK:
		return "APPLIED"
	case ApplyStale:
		return "STALE"
	case ApplyGap:
		return "GAP"
	default:
		return "UNKNOWN"
	}
}

// Replica is the local copy of one symbol's book. It is owned by exactly
// one SyncController; all writes arrive on that controller's goroutine.
// The mutex exists only for external reads (Snapshot), mirroring how the
// sequencing hotpath never contends with itself.
type Replica struct {
	symbol string

	mu            sync.RWMutex
	bids          *LevelMap
	asks          *LevelMap
	lastUpdateID  uint64
	lastAppliedAt time.Time
}

// NewReplica creates an empty replica for symbol.
func NewReplica(symbol string) *Replica {
	return &Replica{
		symbol: symbol,
		bids:   NewLevelMap(domain.SideBid),
		asks:   NewLevelMap(domain.SideAsk),
	}
}

// Symbol returns the replica's symbol.
func (r *Replica) Symbol() string {
	return r.symbol
}

// LastUpdateID returns the ID of the last applied snapshot or diff.
func (r *Replica) LastUpdateID() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdateID
}

// ApplySnapshot fully replaces book state from a snapshot. The update-ID
// clock restarts at the snapshot's; it may move backward here (a fresh
// snapshot after a gap supersedes whatever the replica held).
func (r *Replica) ApplySnapshot(snap *domain.SnapshotEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bids.Clear()
	for _, lvl := range snap.Bids {
		r.bids.Upsert(lvl.Price, lvl.Quantity)
	}

	r.asks.Clear()
	for _, lvl := range snap.Asks {
		r.asks.Upsert(lvl.Price, lvl.Quantity)
	}

	r.lastUpdateID = snap.LastUpdateID
	r.lastAppliedAt = time.Now()
}

// ApplyDiff offers one diff to the replica under the update-ID gate:
//
//	final <= lastUpdateID          -> ApplyStale, no mutation
//	first >  lastUpdateID+1        -> ApplyGap, no mutation
//	otherwise apply, lastUpdateID = final
//
// The gate makes duplicate delivery a no-op and keeps lastUpdateID
// monotonically non-decreasing across any delivery order.
func (r *Replica) ApplyDiff(diff *domain.DiffEvent) ApplyResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if diff.FinalUpdateID <= r.lastUpdateID {
		return ApplyStale
	}
	if diff.FirstUpdateID > r.lastUpdateID+1 {
		return ApplyGap
	}

	for _, lvl := range diff.BidChanges {
		r.bids.Upsert(lvl.Price, lvl.Quantity)
	}
	for _, lvl := range diff.AskChanges {
		r.asks.Upsert(lvl.Price, lvl.Quantity)
	}

	r.lastUpdateID = diff.FinalUpdateID
	r.lastAppliedAt = time.Now()
	return ApplyOK
}

// BestBid returns the highest bid price, ok=false when the side is empty.
func (r *Replica) BestBid() (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bids.Best()
}

// BestAsk returns the lowest ask price, ok=false when the side is empty.
func (r *Replica) BestAsk() (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.asks.Best()
}

// BookSnapshot is an immutable copy of replica state at one instant.
// Sides are ordered best-first. Derived views read only these; they never
// touch the live maps.
type BookSnapshot struct {
	Symbol        string
	LastUpdateID  uint64
	LastAppliedAt time.Time
	Bids          []domain.PriceLevel // descending price
	Asks          []domain.PriceLevel // ascending price
	BestBid       decimal.Decimal
	BestAsk       decimal.Decimal
	HasBid        bool
	HasAsk        bool
}

// Snapshot copies current state out under the read lock. The copy is what
// makes the aggregation refresh safe to run off the ingestion goroutine:
// it holds the lock only for the duration of the copy.
func (r *Replica) Snapshot() BookSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := BookSnapshot{
		Symbol:        r.symbol,
		LastUpdateID:  r.lastUpdateID,
		LastAppliedAt: r.lastAppliedAt,
		Bids:          r.bids.Sorted(),
		Asks:          r.asks.Sorted(),
	}
	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
		snap.HasBid = true
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
		snap.HasAsk = true
	}
	return snap
}
