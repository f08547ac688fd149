package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "aster_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type promAccountGauge struct {
	vec *prometheus.GaugeVec
}

func (p promAccountGauge) Set(account string, v float64) {
	p.vec.WithLabelValues(account).Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	cyclesCompleted prometheus.Counter
	cyclesFailed    prometheus.Counter
	ordersPlaced    prometheus.Counter
	ordersFailed    prometheus.Counter
	trackerErrors   prometheus.Counter
	reconcileOrders prometheus.Counter
	reconcileFailed prometheus.Counter
	tradeCount      prometheus.Gauge
	totalPnl        prometheus.Gauge
	walletBalance   *prometheus.GaugeVec
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newAccountGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	}, []string{"account"})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cyclesCompleted := newCounter("cycles_completed_total", "Total number of hedge cycles that reached cooldown.")
	cyclesFailed := newCounter("cycles_failed_total", "Total number of hedge cycles aborted by an error.")
	ordersPlaced := newCounter("orders_placed_total", "Total number of orders accepted by the exchange.")
	ordersFailed := newCounter("orders_failed_total", "Total number of order placement failures.")
	trackerErrors := newCounter("tracker_errors_total", "Total number of failed account refresh ticks.")
	reconcileOrders := newCounter("reconcile_orders_total", "Total number of residual positions flattened.")
	reconcileFailed := newCounter("reconcile_failed_total", "Total number of accounts that could not be reconciled.")

	tradeCount := newGauge("trade_count", "Hedge cycles that opened at least one leg.")
	volumeBase := newGauge("volume_base", "Accumulated traded volume in base asset.")
	volumeQuote := newGauge("volume_quote", "Accumulated traded volume in USDT.")
	fundingRate := newGauge("funding_rate", "Last observed funding rate.")
	lastPrice := newGauge("last_price", "Price used to size the last cycle.")
	totalPnl := newGauge("total_pnl", "Wallet balance change across both accounts since start.")

	walletBalance := newAccountGauge("wallet_balance", "USDT wallet balance per account.")
	positionQty := newAccountGauge("position_quantity", "Absolute position size per account.")
	unrealized := newAccountGauge("unrealized_pnl", "Unrealized PnL per account.")

	registry.MustRegister(
		cyclesCompleted, cyclesFailed, ordersPlaced, ordersFailed, trackerErrors, reconcileOrders, reconcileFailed,
		tradeCount, volumeBase, volumeQuote, fundingRate, lastPrice, totalPnl,
		walletBalance, positionQty, unrealized,
	)

	m := &Metrics{
		CyclesCompleted:  promCounter{cyclesCompleted},
		CyclesFailed:     promCounter{cyclesFailed},
		OrdersPlaced:     promCounter{ordersPlaced},
		OrdersFailed:     promCounter{ordersFailed},
		TrackerErrors:    promCounter{trackerErrors},
		ReconcileOrders:  promCounter{reconcileOrders},
		ReconcileFailed:  promCounter{reconcileFailed},
		TradeCount:       promGauge{tradeCount},
		VolumeBase:       promGauge{volumeBase},
		VolumeQuote:      promGauge{volumeQuote},
		FundingRate:      promGauge{fundingRate},
		LastPrice:        promGauge{lastPrice},
		TotalPnl:         promGauge{totalPnl},
		WalletBalance:    promAccountGauge{walletBalance},
		PositionQuantity: promAccountGauge{positionQty},
		UnrealizedPnl:    promAccountGauge{unrealized},
	}

	return &Prometheus{
		Metrics:         m,
		registry:        registry,
		cyclesCompleted: cyclesCompleted,
		cyclesFailed:    cyclesFailed,
		ordersPlaced:    ordersPlaced,
		ordersFailed:    ordersFailed,
		trackerErrors:   trackerErrors,
		reconcileOrders: reconcileOrders,
		reconcileFailed: reconcileFailed,
		tradeCount:      tradeCount,
		totalPnl:        totalPnl,
		walletBalance:   walletBalance,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
