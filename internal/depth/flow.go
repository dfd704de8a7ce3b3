package depth

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"depthwatch/internal/domain"
)

// FlowStep is one closed trade-flow interval: buy/sell notional sums, the
// per-second rates over the interval, and the volume-weighted average
// price. When no trade printed during the interval the previous average
// price is carried forward and HasPrice stays true.
type FlowStep struct {
	BuySum   decimal.Decimal `json:"buy_sum"`
	SellSum  decimal.Decimal `json:"sell_sum"`
	BuyRate  decimal.Decimal `json:"buy_rate"`
	SellRate decimal.Decimal `json:"sell_rate"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	HasPrice bool            `json:"has_price"`
}

// FlowAccumulator aggregates trade prints for one symbol between steps.
// Trades arrive on the symbol's controller goroutine; Step is called from
// the refresh side, so the accumulator carries its own lock.
type FlowAccumulator struct {
	mu sync.Mutex

	buySum    decimal.Decimal
	sellSum   decimal.Decimal
	qtySum    decimal.Decimal
	amountSum decimal.Decimal

	lastAvgPrice decimal.Decimal
	hasAvg       bool
}

// NewFlowAccumulator creates an empty accumulator.
func NewFlowAccumulator() *FlowAccumulator {
	return &FlowAccumulator{
		buySum:    decimal.Zero,
		sellSum:   decimal.Zero,
		qtySum:    decimal.Zero,
		amountSum: decimal.Zero,
	}
}

// AddTrade folds one trade print into the open interval.
func (f *FlowAccumulator) AddTrade(t domain.TradeEvent) {
	amount := t.Amount()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.qtySum = f.qtySum.Add(t.Quantity)
	f.amountSum = f.amountSum.Add(amount)
	if t.IsBuy() {
		f.buySum = f.buySum.Add(amount)
	} else {
		f.sellSum = f.sellSum.Add(amount)
	}
}

// Step closes the open interval and resets the sums. elapsed is the
// interval length used for the per-second rates.
func (f *FlowAccumulator) Step(elapsed time.Duration) FlowStep {
	f.mu.Lock()
	defer f.mu.Unlock()

	step := FlowStep{
		BuySum:   f.buySum,
		SellSum:  f.sellSum,
		BuyRate:  decimal.Zero,
		SellRate: decimal.Zero,
	}

	if secs := decimal.NewFromFloat(elapsed.Seconds()); secs.Sign() > 0 {
		step.BuyRate = f.buySum.Div(secs)
		step.SellRate = f.sellSum.Div(secs)
	}

	if f.qtySum.Sign() > 0 {
		f.lastAvgPrice = f.amountSum.Div(f.qtySum)
		f.hasAvg = true
	}
	step.AvgPrice = f.lastAvgPrice
	step.HasPrice = f.hasAvg

	f.buySum = decimal.Zero
	f.sellSum = decimal.Zero
	f.qtySum = decimal.Zero
	f.amountSum = decimal.Zero

	return step
}
