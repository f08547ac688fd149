package account

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = time.Second

	StatusInitializing = "Initializing"
	StatusRunning      = "Running"
	StatusNoQuoteAsset = "No USDT asset"
)

type PositionSide string

const (
	SideNone  PositionSide = "NONE"
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Reader is the subset of the REST client a tracker polls.
type Reader interface {
	Position(ctx context.Context, symbol string) (rest.PositionRisk, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Account(ctx context.Context) (rest.AccountInfo, error)
}

type Snapshot struct {
	Account          string          `json:"account"`
	PositionSide     PositionSide    `json:"position_side"`
	Quantity         decimal.Decimal `json:"quantity"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	UnrealizedPnl    decimal.Decimal `json:"unrealized_pnl"`
	WalletBalance    decimal.Decimal `json:"wallet_balance"`
	MarginBalance    decimal.Decimal `json:"margin_balance"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	InitialBalance   decimal.Decimal `json:"initial_balance"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	StatusText       string          `json:"status"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Healthy reports whether the last tick produced real data.
func (s Snapshot) Healthy() bool {
	return s.StatusText == StatusRunning
}

// Tracker polls one account and publishes the latest Snapshot. Only Run writes
// the snapshot; readers get an immutable copy.
type Tracker struct {
	name     string
	symbol   string
	reader   Reader
	interval time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	initial OnceDecimal
	current atomic.Pointer[Snapshot]
}

func NewTracker(name, symbol string, reader Reader, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		name:     name,
		symbol:   symbol,
		reader:   reader,
		interval: interval,
		metrics:  metrics.OrNoop(m),
		log:      log.With(zap.String("account", name)),
		now:      time.Now,
	}
	t.current.Store(&Snapshot{Account: name, PositionSide: SideNone, StatusText: StatusInitializing})
	return t
}

func (t *Tracker) Snapshot() Snapshot {
	return *t.current.Load()
}

// Run refreshes the snapshot every interval until ctx is cancelled. Tick
// failures are published as an error snapshot and never end the loop.
func (t *Tracker) Run(ctx context.Context) error {
	if t.reader == nil {
		return errors.New("account reader is required")
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		t.Refresh(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh performs one tick and returns the snapshot it published.
func (t *Tracker) Refresh(ctx context.Context) Snapshot {
	snap, err := t.read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return t.Snapshot()
		}
		t.metrics.TrackerErrors.Inc()
		t.log.Warn("account refresh failed", zap.Error(err))
		snap = errorSnapshot(t.name, err, t.now())
	}
	t.current.Store(&snap)
	return snap
}

func (t *Tracker) read(ctx context.Context) (Snapshot, error) {
	pos, err := t.reader.Position(ctx, t.symbol)
	if err != nil {
		return Snapshot{}, err
	}
	price, err := t.reader.TickerPrice(ctx, t.symbol)
	if err != nil {
		return Snapshot{}, err
	}
	info, err := t.reader.Account(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Account:          t.name,
		PositionSide:     sideOf(pos.PositionAmt),
		Quantity:         pos.PositionAmt.Abs(),
		EntryPrice:       pos.EntryPrice,
		LiquidationPrice: pos.LiquidationPrice,
		MarkPrice:        price,
		StatusText:       StatusRunning,
		UpdatedAt:        t.now(),
	}
	if asset, ok := info.Asset(rest.QuoteAsset); ok {
		snap.WalletBalance = asset.WalletBalance
		snap.MarginBalance = asset.MarginBalance
		snap.UnrealizedPnl = asset.UnrealizedProfit
	} else {
		snap.StatusText = StatusNoQuoteAsset
	}
	snap.InitialBalance = t.initial.SetIfUnset(snap.WalletBalance)
	return snap, nil
}

func sideOf(amount decimal.Decimal) PositionSide {
	switch amount.Sign() {
	case 1:
		return SideLong
	case -1:
		return SideShort
	default:
		return SideNone
	}
}

func errorSnapshot(name string, err error, now time.Time) Snapshot {
	return Snapshot{
		Account:      name,
		PositionSide: SideNone,
		StatusText:   "Error: " + err.Error(),
		UpdatedAt:    now,
	}
}
