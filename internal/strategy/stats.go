package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleStatistics accumulates over the life of the process. Counters and
// volumes only grow.
type CycleStatistics struct {
	Symbol              string          `json:"symbol"`
	Leverage            int             `json:"leverage"`
	HoldSeconds         int             `json:"hold_seconds"`
	Phase               State           `json:"phase"`
	TradeCount          int64           `json:"trade_count"`
	FailedCycles        int64           `json:"failed_cycles"`
	CurrentFundingRate  decimal.Decimal `json:"current_funding_rate"`
	LastTradeTime       time.Time       `json:"last_trade_time"`
	LastOrderPrice      decimal.Decimal `json:"last_order_price"`
	LastQuantity        decimal.Decimal `json:"last_quantity"`
	TotalVolumeBase     decimal.Decimal `json:"total_volume_base"`
	TotalVolumeQuote    decimal.Decimal `json:"total_volume_quote"`
	InitialTotalBalance decimal.Decimal `json:"initial_total_balance"`
}

// RecordOpen books one cycle's opening. legs is the number of legs the
// exchange accepted; a cycle with none is not a trade.
func (s *CycleStatistics) RecordOpen(qty, price, funding decimal.Decimal, legs int, at time.Time) {
	if legs <= 0 {
		return
	}
	base := qty.Mul(decimal.NewFromInt(int64(legs)))
	s.TradeCount++
	s.TotalVolumeBase = s.TotalVolumeBase.Add(base)
	s.TotalVolumeQuote = s.TotalVolumeQuote.Add(base.Mul(price))
	s.CurrentFundingRate = funding
	s.LastOrderPrice = price
	s.LastQuantity = qty
	s.LastTradeTime = at
}

// CaptureInitialBalance freezes the combined balance the first time both
// accounts report a non-zero wallet.
func (s *CycleStatistics) CaptureInitialBalance(first, second decimal.Decimal) bool {
	if !s.InitialTotalBalance.IsZero() {
		return false
	}
	if first.IsZero() || second.IsZero() {
		return false
	}
	s.InitialTotalBalance = first.Add(second)
	return true
}
