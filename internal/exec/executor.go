package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/metrics"
	"aster-hedge-bot/internal/state"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const journalPrefix = "order:"

const (
	PurposeOpen      = "open"
	PurposeClose     = "close"
	PurposeReconcile = "reconcile"
)

const (
	statusPending = "pending"
	statusPlaced  = "placed"
	statusFailed  = "failed"
)

type Order struct {
	Symbol        string
	Side          rest.Side
	Type          string
	Quantity      decimal.Decimal
	PositionSide string
	Purpose      string
}

// InvalidOrderQuantity is returned before any request is made.
type InvalidOrderQuantity struct {
	Quantity decimal.Decimal
}

func (e *InvalidOrderQuantity) Error() string {
	return fmt.Sprintf("invalid order quantity %s", e.Quantity)
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order rest.OrderRequest) (rest.OrderResponse, error)
}

// Record is the journal entry kept for every order an executor sends.
type Record struct {
	Account       string `json:"account"`
	ClientOrderID string `json:"client_order_id"`
	OrderID       int64  `json:"order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Quantity      string `json:"quantity"`
	Purpose       string `json:"purpose"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	CreatedAtMS   int64  `json:"created_at_ms"`
}

// Executor submits orders for one account. Placement is never retried: a
// timed-out order may still have filled. Every attempt gets a fresh client
// order id and one journal entry keyed by it.
type Executor struct {
	account string
	rest    OrderPlacer
	store   state.Store
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
	newID   func() string
}

func New(account string, placer OrderPlacer, store state.Store, m *metrics.Metrics, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		account: account,
		rest:    placer,
		store:   store,
		metrics: metrics.OrNoop(m),
		log:     log.With(zap.String("account", account)),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (e *Executor) PlaceOrder(ctx context.Context, order Order) (rest.OrderResponse, error) {
	if !order.Quantity.IsPositive() {
		return rest.OrderResponse{}, &InvalidOrderQuantity{Quantity: order.Quantity}
	}
	clientOrderID := e.newID()

	record := Record{
		Account:       e.account,
		ClientOrderID: clientOrderID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Quantity:      order.Quantity.String(),
		Purpose:       order.Purpose,
		Status:        statusPending,
		CreatedAtMS:   e.now().UnixMilli(),
	}
	e.journal(ctx, record)

	resp, err := e.rest.PlaceOrder(ctx, rest.OrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Quantity:      order.Quantity,
		PositionSide:  order.PositionSide,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		record.Status = statusFailed
		record.Error = err.Error()
		e.journal(ctx, record)
		return rest.OrderResponse{}, fmt.Errorf("%s %s %s: %w", e.account, order.Side, order.Quantity, err)
	}
	e.metrics.OrdersPlaced.Inc()
	record.Status = statusPlaced
	record.OrderID = resp.OrderID
	e.journal(ctx, record)

	e.log.Info("order placed",
		zap.String("purpose", order.Purpose),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()),
		zap.Int64("order_id", resp.OrderID),
		zap.String("client_order_id", clientOrderID),
	)
	return resp, nil
}

func (e *Executor) journal(ctx context.Context, rec Record) {
	if e.store == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := e.store.Set(ctx, journalPrefix+rec.ClientOrderID, string(payload)); err != nil {
		e.log.Warn("failed to persist order record", zap.Error(err))
	}
}

// Journal returns the recorded orders, oldest first.
func Journal(ctx context.Context, store state.Store) ([]Record, error) {
	if store == nil {
		return nil, nil
	}
	raw, err := store.List(ctx, journalPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for _, value := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAtMS < out[j].CreatedAtMS
	})
	return out, nil
}
