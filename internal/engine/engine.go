package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"aster-hedge-bot/internal/alerts"
	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/exec"
	"aster-hedge-bot/internal/metrics"
	"aster-hedge-bot/internal/state"
	"aster-hedge-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	leverageAttempts = 3
	leverageBackoff  = 500 * time.Millisecond
)

// Venue is the read and account-setup surface of one account.
type Venue interface {
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) (rest.LeverageResponse, error)
	WalletBalance(ctx context.Context) (decimal.Decimal, error)
}

type OrderExecutor interface {
	PlaceOrder(ctx context.Context, order exec.Order) (rest.OrderResponse, error)
}

// Leg binds one account to its side of the hedge.
type Leg struct {
	Name   string
	Venue  Venue
	Orders OrderExecutor
}

type Deps struct {
	Store    state.Store
	Notifier alerts.Notifier
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// Engine drives SIZE → OPEN → HOLD → CLOSE → COOLDOWN. The long leg buys on
// open, the short leg sells; both use the long leg's price for sizing.
type Engine struct {
	cfg      config.TradingConfig
	long     Leg
	short    Leg
	store    state.Store
	notifier alerts.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	sm       *strategy.StateMachine

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu    sync.Mutex
	stats strategy.CycleStatistics
	cycle int64
}

func New(cfg config.TradingConfig, long, short Leg, deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = alerts.Nop{}
	}
	return &Engine{
		cfg:      cfg,
		long:     long,
		short:    short,
		store:    deps.Store,
		notifier: notifier,
		metrics:  metrics.OrNoop(deps.Metrics),
		log:      log.With(zap.String("symbol", cfg.Symbol)),
		sm:       strategy.NewStateMachine(),
		sleep:    sleepContext,
		now:      time.Now,
		stats: strategy.CycleStatistics{
			Symbol:      cfg.Symbol,
			Leverage:    cfg.Leverage,
			HoldSeconds: cfg.HoldSeconds,
			Phase:       strategy.StateSize,
		},
	}
}

// Stats returns a copy of the cycle statistics.
func (e *Engine) Stats() strategy.CycleStatistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.stats
	out.Phase = e.sm.State()
	return out
}

// Prepare sets leverage on both accounts and checks the exchange echoed it.
// Any error here is fatal.
func (e *Engine) Prepare(ctx context.Context) error {
	for _, leg := range []Leg{e.long, e.short} {
		var resp rest.LeverageResponse
		err := exec.Retry(ctx, leverageAttempts, leverageBackoff, func() error {
			var err error
			resp, err = leg.Venue.SetLeverage(ctx, e.cfg.Symbol, e.cfg.Leverage)
			return err
		})
		if err != nil {
			return fmt.Errorf("set leverage on %s: %w", leg.Name, err)
		}
		if resp.Leverage != e.cfg.Leverage {
			return &LeverageMismatch{Account: leg.Name, Requested: e.cfg.Leverage, Got: resp.Leverage}
		}
		e.log.Info("leverage set", zap.String("account", leg.Name), zap.Int("leverage", resp.Leverage))
	}
	e.captureInitialBalance(ctx)
	return nil
}

// Run repeats cycles until ctx is cancelled. A failed cycle is reported,
// followed by the error backoff, and the next cycle starts at SIZE.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := e.RunCycle(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		e.mu.Lock()
		e.stats.FailedCycles++
		e.mu.Unlock()
		e.metrics.CyclesFailed.Inc()
		e.log.Error("cycle failed", zap.Error(err), zap.Duration("backoff", e.cfg.ErrorBackoff()))
		e.notifier.Notify(ctx, "cycle failed: "+err.Error())
		if err := e.sleep(ctx, e.cfg.ErrorBackoff()); err != nil {
			return nil
		}
	}
}

// RunCycle runs one full cycle. Errors before any leg opens abort the cycle;
// errors after that are reported and leave residuals to the reconciler.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	e.mu.Unlock()
	log := e.log.With(zap.Int64("cycle", cycle))
	e.sm.SetState(strategy.StateSize)

	price, err := e.long.Venue.TickerPrice(ctx, e.cfg.Symbol)
	if err != nil {
		return e.abort(fmt.Errorf("fetch price: %w", err))
	}
	qty, err := strategy.SizeQuantity(e.cfg.NotionalUSDT, price, e.cfg.MinQuantity, e.cfg.QuantityPrecision)
	if err != nil {
		return e.abort(err)
	}
	funding, err := e.long.Venue.FundingRate(ctx, e.cfg.Symbol)
	if err != nil {
		return e.abort(fmt.Errorf("fetch funding rate: %w", err))
	}
	log.Info("cycle sized",
		zap.String("price", price.String()),
		zap.String("quantity", qty.String()),
		zap.String("funding_rate", funding.String()),
	)
	e.sm.Apply(strategy.EventSized)
	snap := state.CycleSnapshot{
		Cycle:    cycle,
		Phase:    string(strategy.StateOpen),
		Symbol:   e.cfg.Symbol,
		Quantity: qty.String(),
		Price:    price.String(),
	}
	e.persist(ctx, snap)

	longSide, shortSide := rest.SideBuy, rest.SideSell
	_, longErr := e.place(ctx, e.long, longSide, qty, exec.PurposeOpen)
	_, shortErr := e.place(ctx, e.short, shortSide, qty, exec.PurposeOpen)
	longOpen, shortOpen := longErr == nil, shortErr == nil
	legs := 0
	if longOpen {
		legs++
	}
	if shortOpen {
		legs++
	}
	e.mu.Lock()
	e.stats.RecordOpen(qty, price, funding, legs, e.now())
	e.mu.Unlock()
	if legs == 0 {
		return e.abort(fmt.Errorf("open: %w", errors.Join(longErr, shortErr)))
	}
	if legs == 1 {
		err := longErr
		if err == nil {
			err = shortErr
		}
		log.Error("partial open, holding unhedged leg", zap.Error(err))
		e.notifier.Notify(ctx, "partial open: "+err.Error())
	}
	e.captureInitialBalance(ctx)

	e.sm.Apply(strategy.EventOpened)
	snap.Phase = string(strategy.StateHold)
	snap.LongOpen, snap.ShortOpen = longOpen, shortOpen
	e.persist(ctx, snap)
	if err := e.sleep(ctx, e.cfg.HoldDuration()); err != nil {
		return err
	}

	e.sm.Apply(strategy.EventHeld)
	snap.Phase = string(strategy.StateClose)
	e.persist(ctx, snap)
	var closeErrs []error
	if longOpen {
		if _, err := e.place(ctx, e.long, longSide.Opposite(), qty, exec.PurposeClose); err != nil {
			closeErrs = append(closeErrs, err)
		} else {
			snap.LongOpen = false
		}
	}
	if shortOpen {
		if _, err := e.place(ctx, e.short, shortSide.Opposite(), qty, exec.PurposeClose); err != nil {
			closeErrs = append(closeErrs, err)
		} else {
			snap.ShortOpen = false
		}
	}
	if len(closeErrs) > 0 {
		err := errors.Join(closeErrs...)
		log.Error("close failed, residual left for reconciliation", zap.Error(err))
		e.notifier.Notify(ctx, "close failed: "+err.Error())
	}

	e.sm.Apply(strategy.EventClosed)
	snap.Phase = string(strategy.StateCooldown)
	e.persist(ctx, snap)
	if err := e.sleep(ctx, e.cfg.Cooldown()); err != nil {
		return err
	}
	e.sm.Apply(strategy.EventCooled)
	e.metrics.CyclesCompleted.Inc()
	log.Info("cycle complete", zap.Int("legs", legs))
	return nil
}

func (e *Engine) place(ctx context.Context, leg Leg, side rest.Side, qty decimal.Decimal, purpose string) (rest.OrderResponse, error) {
	return leg.Orders.PlaceOrder(ctx, exec.Order{
		Symbol:       e.cfg.Symbol,
		Side:         side,
		Type:         e.cfg.OrderType,
		Quantity:     qty,
		PositionSide: e.cfg.PositionSide,
		Purpose:      purpose,
	})
}

func (e *Engine) abort(err error) error {
	e.sm.Apply(strategy.EventAbort)
	return err
}

// captureInitialBalance reads both wallets until the combined starting
// balance has been frozen.
func (e *Engine) captureInitialBalance(ctx context.Context) {
	e.mu.Lock()
	captured := !e.stats.InitialTotalBalance.IsZero()
	e.mu.Unlock()
	if captured {
		return
	}
	first, err := e.long.Venue.WalletBalance(ctx)
	if err != nil {
		e.log.Warn("initial balance read failed", zap.String("account", e.long.Name), zap.Error(err))
		return
	}
	second, err := e.short.Venue.WalletBalance(ctx)
	if err != nil {
		e.log.Warn("initial balance read failed", zap.String("account", e.short.Name), zap.Error(err))
		return
	}
	e.mu.Lock()
	ok := e.stats.CaptureInitialBalance(first, second)
	total := e.stats.InitialTotalBalance
	e.mu.Unlock()
	if ok {
		e.log.Info("initial total balance captured", zap.String("balance", total.String()))
	}
}

func (e *Engine) persist(ctx context.Context, snap state.CycleSnapshot) {
	if e.store == nil {
		return
	}
	snap.UpdatedAtMS = e.now().UnixMilli()
	if err := state.SaveCycleSnapshot(context.WithoutCancel(ctx), e.store, snap); err != nil {
		e.log.Warn("failed to persist cycle snapshot", zap.String("phase", snap.Phase), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LeverageMismatch means the exchange did not apply the requested leverage.
type LeverageMismatch struct {
	Account   string
	Requested int
	Got       int
}

func (e *LeverageMismatch) Error() string {
	return "leverage mismatch on " + e.Account + ": requested " + strconv.Itoa(e.Requested) + ", exchange reports " + strconv.Itoa(e.Got)
}
