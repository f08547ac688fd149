package account

import (
	"sync"

	"github.com/shopspring/decimal"
)

// OnceDecimal holds a value that can be set exactly once. Zero candidates are
// ignored so an empty reading never freezes the value.
type OnceDecimal struct {
	mu    sync.Mutex
	value decimal.Decimal
	set   bool
}

// SetIfUnset stores v when nothing has been captured yet and v is non-zero.
// It returns the captured value.
func (o *OnceDecimal) SetIfUnset(v decimal.Decimal) decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.set && !v.IsZero() {
		o.value = v
		o.set = true
	}
	return o.value
}
