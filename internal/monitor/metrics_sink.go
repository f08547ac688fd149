package monitor

import "aster-hedge-bot/internal/metrics"

// MetricsSink mirrors the model into gauges.
type MetricsSink struct {
	m *metrics.Metrics
}

func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{m: metrics.OrNoop(m)}
}

func (s *MetricsSink) Observe(model Model) {
	st := model.Stats
	s.m.TradeCount.Set(float64(st.TradeCount))
	s.m.VolumeBase.Set(st.TotalVolumeBase.InexactFloat64())
	s.m.VolumeQuote.Set(st.TotalVolumeQuote.InexactFloat64())
	s.m.FundingRate.Set(st.CurrentFundingRate.InexactFloat64())
	s.m.LastPrice.Set(model.Price.InexactFloat64())
	s.m.TotalPnl.Set(model.TotalPnl.InexactFloat64())
	for _, snap := range model.Accounts {
		s.m.WalletBalance.Set(snap.Account, snap.WalletBalance.InexactFloat64())
		s.m.PositionQuantity.Set(snap.Account, snap.Quantity.InexactFloat64())
		s.m.UnrealizedPnl.Set(snap.Account, snap.UnrealizedPnl.InexactFloat64())
	}
}
