// Package book maintains per-symbol replicas of a venue limit order book,
// reconciling REST snapshots against the incremental diff stream.
package book

import (
	"slices"

	"github.com/shopspring/decimal"

	"depthwatch/internal/domain"
)

// LevelMap is one side of a book: a mapping from price to the resting
// level. No ordering is stored; Sorted derives it on every call, so there
// is no partially-resorted state to go stale.
//
// Keys are canonical decimal strings. decimal.Decimal values that are
// numerically equal can carry different exponents ("100" vs "100.00");
// String() normalizes trailing zeros so equal prices collide.
type LevelMap struct {
	levels map[string]domain.PriceLevel
	side   domain.Side
}

// NewLevelMap creates an empty side.
func NewLevelMap(side domain.Side) *LevelMap {
	return &LevelMap{
		levels: make(map[string]domain.PriceLevel),
		side:   side,
	}
}

func priceKey(p decimal.Decimal) string {
	return p.String()
}

// Upsert replaces the quantity resting at price. A zero quantity removes
// the level (no-op if absent); the map never holds a zero-quantity level.
func (m *LevelMap) Upsert(price, quantity decimal.Decimal) {
	key := priceKey(price)
	if quantity.IsZero() {
		delete(m.levels, key)
		return
	}
	m.levels[key] = domain.PriceLevel{Price: price, Quantity: quantity}
}

// Len returns the number of resting levels.
func (m *LevelMap) Len() int {
	return len(m.levels)
}

// Clear removes all levels.
func (m *LevelMap) Clear() {
	clear(m.levels)
}

// Best returns the touch price for this side: the highest bid or the
// lowest ask. ok is false when the side is empty; callers must treat that
// as "no data", never as zero.
func (m *LevelMap) Best() (best decimal.Decimal, ok bool) {
	for _, lvl := range m.levels {
		if !ok {
			best = lvl.Price
			ok = true
			continue
		}
		if m.side == domain.SideBid && lvl.Price.GreaterThan(best) {
			best = lvl.Price
		} else if m.side == domain.SideAsk && lvl.Price.LessThan(best) {
			best = lvl.Price
		}
	}
	return best, ok
}

// Sorted returns the levels ordered best-first: descending price for bids,
// ascending for asks. The slice is freshly built on every call.
func (m *LevelMap) Sorted() []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(m.levels))
	for _, lvl := range m.levels {
		out = append(out, lvl)
	}
	side := m.side
	slices.SortFunc(out, func(a, b domain.PriceLevel) int {
		if side == domain.SideBid {
			return b.Price.Cmp(a.Price)
		}
		return a.Price.Cmp(b.Price)
	})
	return out
}
