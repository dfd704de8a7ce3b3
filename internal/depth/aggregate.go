// Package depth derives read-only analytical views from a book snapshot:
// top-N ladders, price-bucketed aggregates and percentage-band defence
// ratios. Every function recomputes fully from its inputs; nothing here is
// maintained incrementally, so no drift can accumulate between refreshes.
package depth

import (
	"github.com/shopspring/decimal"

	"depthwatch/internal/domain"
)

// LadderRow is one display row of an aggregate ladder.
type LadderRow struct {
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	Amount           decimal.Decimal `json:"amount"`
	CumulativeAmount decimal.Decimal `json:"cumulative_amount"`
}

// DefenceBand is the liquidity-imbalance measurement for one percentage
// window around the touch. Bands are independent, not cumulative.
type DefenceBand struct {
	PercentBps int64           `json:"percent_bps"`
	BidAmount  decimal.Decimal `json:"bid_amount"`
	AskAmount  decimal.Decimal `json:"ask_amount"`
	Ratio      float64         `json:"ratio"`
}

// TopN builds a ladder from levels already ordered best-first. Rows whose
// notional amount is at or below minAmount are excluded before truncating
// to n rows. Each kept row carries the running notional sum in traversal
// order.
func TopN(levels []domain.PriceLevel, n int, minAmount decimal.Decimal) []LadderRow {
	rows := make([]LadderRow, 0, min(n, len(levels)))
	cumulative := decimal.Zero
	for _, lvl := range levels {
		if len(rows) >= n {
			break
		}
		amount := lvl.Amount()
		if amount.LessThanOrEqual(minAmount) {
			continue
		}
		cumulative = cumulative.Add(amount)
		rows = append(rows, LadderRow{
			Price:            lvl.Price,
			Quantity:         lvl.Quantity,
			Amount:           amount,
			CumulativeAmount: cumulative,
		})
	}
	return rows
}

// BucketedTopN groups levels into price buckets of width increment before
// building the ladder. Bids round down and asks round up to the bucket
// boundary, which biases every bucket toward the touch: the label is the
// most conservative execution price inside the bucket. Quantity and
// notional are summed per bucket; the min-amount filter then applies to
// the bucket sums, not the raw levels.
//
// A zero or negative increment disables bucketing.
func BucketedTopN(levels []domain.PriceLevel, side domain.Side, increment decimal.Decimal, n int, minAmount decimal.Decimal) []LadderRow {
	if increment.Sign() <= 0 {
		return TopN(levels, n, minAmount)
	}

	// levels are sorted best-first, so bucket prices are monotone and
	// equal buckets are always adjacent.
	buckets := make([]LadderRow, 0, len(levels))
	for _, lvl := range levels {
		bucket := bucketPrice(lvl.Price, side, increment)
		amount := lvl.Amount()
		if last := len(buckets) - 1; last >= 0 && buckets[last].Price.Equal(bucket) {
			buckets[last].Quantity = buckets[last].Quantity.Add(lvl.Quantity)
			buckets[last].Amount = buckets[last].Amount.Add(amount)
			continue
		}
		buckets = append(buckets, LadderRow{Price: bucket, Quantity: lvl.Quantity, Amount: amount})
	}

	rows := make([]LadderRow, 0, min(n, len(buckets)))
	cumulative := decimal.Zero
	for _, b := range buckets {
		if len(rows) >= n {
			break
		}
		if b.Amount.LessThanOrEqual(minAmount) {
			continue
		}
		cumulative = cumulative.Add(b.Amount)
		b.CumulativeAmount = cumulative
		rows = append(rows, b)
	}
	return rows
}

func bucketPrice(price decimal.Decimal, side domain.Side, increment decimal.Decimal) decimal.Decimal {
	steps := price.Div(increment)
	if side == domain.SideBid {
		return steps.Floor().Mul(increment)
	}
	return steps.Ceil().Mul(increment)
}

// DefenceBands sums resting notional inside each configured band anchored
// to the current touch: asks within [bestAsk, bestAsk*(1+band)] and bids
// within [bestBid*(1-band), bestBid], both bounds inclusive. The ratio is
// bid/(bid+ask), 0 when both sums are zero. The anchors are whatever the
// caller read from the live book this tick, so the windows legitimately
// drift with the touch.
func DefenceBands(bids, asks []domain.PriceLevel, bestBid, bestAsk decimal.Decimal, bandsBps []int64) []DefenceBand {
	tenThousand := decimal.NewFromInt(10000)

	out := make([]DefenceBand, 0, len(bandsBps))
	for _, bps := range bandsBps {
		band := decimal.NewFromInt(bps).Div(tenThousand)

		askMax := bestAsk.Mul(decimal.NewFromInt(1).Add(band))
		askSum := decimal.Zero
		for _, lvl := range asks {
			// asks are ascending; everything past the window is out too
			if lvl.Price.GreaterThan(askMax) {
				break
			}
			askSum = askSum.Add(lvl.Amount())
		}

		bidMin := bestBid.Mul(decimal.NewFromInt(1).Sub(band))
		bidSum := decimal.Zero
		for _, lvl := range bids {
			// bids are descending
			if lvl.Price.LessThan(bidMin) {
				break
			}
			bidSum = bidSum.Add(lvl.Amount())
		}

		ratio := 0.0
		total := bidSum.Add(askSum)
		if total.Sign() > 0 {
			ratio, _ = bidSum.Div(total).Float64()
		}

		out = append(out, DefenceBand{
			PercentBps: bps,
			BidAmount:  bidSum,
			AskAmount:  askSum,
			Ratio:      ratio,
		})
	}
	return out
}
