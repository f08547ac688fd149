package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const DefaultQuantityPrecision int32 = 3

var ErrInvalidPrice = errors.New("price must be positive")

// SizeQuantity converts a USDT notional into an order quantity:
// round(max(minQty, notional/price), precision). Both legs of a cycle use the
// same result.
func SizeQuantity(notional, price, minQty decimal.Decimal, precision int32) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("size quantity at %s: %w", price, ErrInvalidPrice)
	}
	if precision < 0 {
		precision = DefaultQuantityPrecision
	}
	qty := notional.DivRound(price, precision+8)
	if qty.LessThan(minQty) {
		qty = minQty
	}
	return qty.Round(precision), nil
}

// MinQuantity is the smallest lot for precision, e.g. 0.001 for 3.
func MinQuantity(precision int32) decimal.Decimal {
	return decimal.New(1, -precision)
}
