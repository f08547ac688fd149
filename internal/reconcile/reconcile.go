package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/exec"
	"aster-hedge-bot/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 15 * time.Second

	readAttempts      = 3
	readBackoff       = 250 * time.Millisecond
	closeType         = "MARKET"
	closePositionSide = "BOTH"
)

type PositionReader interface {
	Position(ctx context.Context, symbol string) (rest.PositionRisk, error)
}

type OrderExecutor interface {
	PlaceOrder(ctx context.Context, order exec.Order) (rest.OrderResponse, error)
}

type Account struct {
	Name      string
	Positions PositionReader
	Orders    OrderExecutor
}

// Result describes what happened to one account.
type Result struct {
	Account  string
	Residual decimal.Decimal
	Side     rest.Side
	OrderID  int64
	Err      error
}

// Flattened reports whether an order was sent for a residual.
func (r Result) Flattened() bool {
	return r.Err == nil && !r.Residual.IsZero()
}

type Reconciler struct {
	accounts []Account
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func New(accounts []Account, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Reconciler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{accounts: accounts, timeout: timeout, metrics: metrics.OrNoop(m), log: log}
}

// Reconcile closes any open position on every account with one market order
// opposite to the residual. It runs on a context detached from parent's
// cancellation, bounded by the reconciler timeout, so it still works during
// shutdown. A failure on one account does not stop the others.
func (r *Reconciler) Reconcile(parent context.Context, symbol string) []Result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()
	results := make([]Result, 0, len(r.accounts))
	for _, acct := range r.accounts {
		res := r.reconcileAccount(ctx, acct, symbol)
		log := r.log.With(zap.String("account", acct.Name))
		switch {
		case res.Err != nil:
			r.metrics.ReconcileFailed.Inc()
			log.Error("reconcile failed", zap.Error(res.Err))
		case res.Residual.IsZero():
			log.Info("no residual position")
		default:
			r.metrics.ReconcileOrders.Inc()
			log.Info("residual position closed",
				zap.String("residual", res.Residual.String()),
				zap.String("side", string(res.Side)),
				zap.Int64("order_id", res.OrderID),
			)
		}
		results = append(results, res)
	}
	return results
}

func (r *Reconciler) reconcileAccount(ctx context.Context, acct Account, symbol string) Result {
	res := Result{Account: acct.Name}
	var pos rest.PositionRisk
	err := exec.Retry(ctx, readAttempts, readBackoff, func() error {
		var err error
		pos, err = acct.Positions.Position(ctx, symbol)
		return err
	})
	if err != nil {
		res.Err = fmt.Errorf("read position: %w", err)
		return res
	}
	res.Residual = pos.PositionAmt
	if pos.PositionAmt.IsZero() {
		return res
	}
	res.Side = ClosingSide(pos.PositionAmt)
	resp, err := acct.Orders.PlaceOrder(ctx, exec.Order{
		Symbol:       symbol,
		Side:         res.Side,
		Type:         closeType,
		Quantity:     pos.PositionAmt.Abs(),
		PositionSide: closePositionSide,
		Purpose:      exec.PurposeReconcile,
	})
	if err != nil {
		res.Err = fmt.Errorf("close residual %s: %w", pos.PositionAmt, err)
		return res
	}
	res.OrderID = resp.OrderID
	return res
}

// ClosingSide is the side that flattens a signed position amount.
func ClosingSide(amount decimal.Decimal) rest.Side {
	if amount.IsNegative() {
		return rest.SideBuy
	}
	return rest.SideSell
}

// Err joins the per-account errors, nil when every account reconciled.
func Err(results []Result) error {
	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Account, res.Err))
		}
	}
	return errors.Join(errs...)
}
