package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

// AccountGauge is a gauge partitioned by account name.
type AccountGauge interface {
	Set(account string, v float64)
}

type Metrics struct {
	CyclesCompleted Counter
	CyclesFailed    Counter
	OrdersPlaced    Counter
	OrdersFailed    Counter
	TrackerErrors   Counter
	ReconcileOrders Counter
	ReconcileFailed Counter

	TradeCount       Gauge
	VolumeBase       Gauge
	VolumeQuote      Gauge
	FundingRate      Gauge
	LastPrice        Gauge
	TotalPnl         Gauge
	WalletBalance    AccountGauge
	PositionQuantity AccountGauge
	UnrealizedPnl    AccountGauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

type noopAccountGauge struct{}

func (noopAccountGauge) Set(string, float64) {}

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	a := noopAccountGauge{}
	return &Metrics{
		CyclesCompleted:  c,
		CyclesFailed:     c,
		OrdersPlaced:     c,
		OrdersFailed:     c,
		TrackerErrors:    c,
		ReconcileOrders:  c,
		ReconcileFailed:  c,
		TradeCount:       g,
		VolumeBase:       g,
		VolumeQuote:      g,
		FundingRate:      g,
		LastPrice:        g,
		TotalPnl:         g,
		WalletBalance:    a,
		PositionQuantity: a,
		UnrealizedPnl:    a,
	}
}

// OrNoop lets components accept a nil *Metrics.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
