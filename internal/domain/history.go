package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefenceSample is one persisted defence-band measurement, recorded on the
// sampling cadence so historical averages can be charted later.
type DefenceSample struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Symbol     string          `gorm:"index:idx_defence_symbol_time" json:"symbol"`
	PercentBps int64           `json:"percent_bps"`
	BidAmount  decimal.Decimal `gorm:"type:text" json:"bid_amount"`
	AskAmount  decimal.Decimal `gorm:"type:text" json:"ask_amount"`
	Ratio      float64         `json:"ratio"`
	CreatedAt  time.Time       `gorm:"index:idx_defence_symbol_time" json:"created_at"`
}

// FlowSample is one persisted trade-flow step: buy/sell notional sums and
// the volume-weighted average price over one flow interval.
type FlowSample struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Symbol    string          `gorm:"index:idx_flow_symbol_time" json:"symbol"`
	BuySum    decimal.Decimal `gorm:"type:text" json:"buy_sum"`
	SellSum   decimal.Decimal `gorm:"type:text" json:"sell_sum"`
	AvgPrice  decimal.Decimal `gorm:"type:text" json:"avg_price"`
	CreatedAt time.Time       `gorm:"index:idx_flow_symbol_time" json:"created_at"`
}
