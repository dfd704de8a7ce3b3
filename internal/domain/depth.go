package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book a level belongs to.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

// String returns the string representation of Side
func (s Side) String() string {
	if s == SideBid {
		return "BID"
	}
	return "ASK"
}

// PriceLevel is one resting price level. Quantity is authoritative: an
// update carrying a level replaces the stored quantity, it never adds to it.
// Quantity zero means the level is gone.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Amount returns the notional value (price * quantity) of the level.
func (l PriceLevel) Amount() decimal.Decimal {
	return l.Price.Mul(l.Quantity)
}

// DiffEvent is one atomic batch of level replacements from the stream.
// FirstUpdateID..FinalUpdateID is the inclusive range of update IDs the
// batch subsumes.
type DiffEvent struct {
	Symbol        string
	FirstUpdateID uint64
	FinalUpdateID uint64
	BidChanges    []PriceLevel
	AskChanges    []PriceLevel
	EventTime     time.Time
}

// SnapshotEvent is a full replacement of book state as of LastUpdateID.
type SnapshotEvent struct {
	Symbol       string
	LastUpdateID uint64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// TradeEvent is one trade print from the stream.
type TradeEvent struct {
	Symbol       string
	TradeID      int64
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	BuyerIsMaker bool
	TradeTime    time.Time
}

// Amount returns the trade notional (price * quantity).
func (t TradeEvent) Amount() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// IsBuy reports whether the taker was the buyer.
func (t TradeEvent) IsBuy() bool {
	return !t.BuyerIsMaker
}

// SyncState is the per-symbol replication state.
type SyncState int

const (
	// SyncUnsynced means no replica exists yet (or it was discarded).
	SyncUnsynced SyncState = iota
	// SyncSnapshotPending means a snapshot fetch is outstanding and diffs
	// are being buffered.
	SyncSnapshotPending
	// SyncBuffering means the snapshot arrived and the buffer is being
	// reconciled against it.
	SyncBuffering
	// SyncLive means diffs apply immediately as they arrive.
	SyncLive
	// SyncStale means a gap was detected; a fresh snapshot is required
	// before the book can be trusted again.
	SyncStale
)

// String returns the string representation of SyncState
func (s SyncState) String() string {
	switch s {
	case SyncUnsynced:
		return "UNSYNCED"
	case SyncSnapshotPending:
		return "SNAPSHOT_PENDING"
	case SyncBuffering:
		return "BUFFERING"
	case SyncLive:
		return "LIVE"
	case SyncStale:
		return "STALE"
	default:
		return "UNKNOWN"
	}
}
