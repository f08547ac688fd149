package app

import (
	"aster-hedge-bot/internal/monitor"
	"aster-hedge-bot/internal/timescale"
)

func (a *App) recordTimescale(m monitor.Model) {
	if a.timescale == nil {
		return
	}
	accounts, stats := timescaleSamples(m)
	for _, sample := range accounts {
		a.timescale.EnqueueAccount(sample)
	}
	a.timescale.EnqueueStats(stats)
}

func timescaleSamples(m monitor.Model) ([]timescale.AccountSample, timescale.StatsSample) {
	now := m.Time.UTC()
	st := m.Stats
	accounts := make([]timescale.AccountSample, 0, len(m.Accounts))
	for _, snap := range m.Accounts {
		accounts = append(accounts, timescale.AccountSample{
			Time:             now,
			Account:          snap.Account,
			Symbol:           st.Symbol,
			PositionSide:     string(snap.PositionSide),
			Quantity:         snap.Quantity.InexactFloat64(),
			EntryPrice:       snap.EntryPrice.InexactFloat64(),
			MarkPrice:        snap.MarkPrice.InexactFloat64(),
			UnrealizedPnl:    snap.UnrealizedPnl.InexactFloat64(),
			WalletBalance:    snap.WalletBalance.InexactFloat64(),
			MarginBalance:    snap.MarginBalance.InexactFloat64(),
			LiquidationPrice: snap.LiquidationPrice.InexactFloat64(),
			InitialBalance:   snap.InitialBalance.InexactFloat64(),
			Status:           snap.StatusText,
		})
	}
	stats := timescale.StatsSample{
		Time:                now,
		Symbol:              st.Symbol,
		Phase:               string(st.Phase),
		TradeCount:          st.TradeCount,
		FailedCycles:        st.FailedCycles,
		FundingRate:         st.CurrentFundingRate.InexactFloat64(),
		LastPrice:           m.Price.InexactFloat64(),
		VolumeBase:          st.TotalVolumeBase.InexactFloat64(),
		VolumeQuote:         st.TotalVolumeQuote.InexactFloat64(),
		TotalPnl:            m.TotalPnl.InexactFloat64(),
		InitialTotalBalance: st.InitialTotalBalance.InexactFloat64(),
	}
	return accounts, stats
}
