package monitor

import (
	"time"

	"aster-hedge-bot/internal/account"
	"aster-hedge-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

// Model is a point-in-time view of both accounts and the cycle statistics.
type Model struct {
	Time           time.Time                `json:"time"`
	Price          decimal.Decimal          `json:"price"`
	TotalPnl       decimal.Decimal          `json:"total_pnl"`
	TotalBalance   decimal.Decimal          `json:"total_balance"`
	InitialBalance decimal.Decimal          `json:"initial_balance"`
	Accounts       []account.Snapshot       `json:"accounts"`
	Stats          strategy.CycleStatistics `json:"stats"`
}

// Build aggregates snapshots without touching them. TotalPnl is the sum of
// (wallet - initial) over the accounts.
func Build(accounts []account.Snapshot, stats strategy.CycleStatistics, now time.Time) Model {
	m := Model{
		Time:     now,
		Accounts: append([]account.Snapshot(nil), accounts...),
		Stats:    stats,
		Price:    stats.LastOrderPrice,
	}
	var freshest time.Time
	for _, snap := range accounts {
		m.TotalPnl = m.TotalPnl.Add(snap.WalletBalance.Sub(snap.InitialBalance))
		m.TotalBalance = m.TotalBalance.Add(snap.WalletBalance)
		m.InitialBalance = m.InitialBalance.Add(snap.InitialBalance)
		if snap.MarkPrice.IsPositive() && snap.UpdatedAt.After(freshest) {
			freshest = snap.UpdatedAt
			m.Price = snap.MarkPrice
		}
	}
	return m
}
