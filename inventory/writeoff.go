package inventory

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrWriteoffReason is returned when a write-off has no reason.
var ErrWriteoffReason = errors.New("write-off reason is required")

type WriteoffInput struct {
	Date   time.Time
	Reason string
	Notes  string
}

// WriteOff removes qty from item outside of any job card (damage, loss,
// expiry), pricing it under policy. Unlike Consume it enforces
// availability itself, since no settlement sits in front of it.
func WriteOff(item *StockItem, qty decimal.Decimal, policy CostingPolicy, in WriteoffInput) (Writeoff, error) {
	if err := positive("quantity", qty); err != nil {
		return Writeoff{}, err
	}
	if strings.TrimSpace(in.Reason) == "" {
		return Writeoff{}, ErrWriteoffReason
	}
	if err := RequireAvailable(item, qty); err != nil {
		return Writeoff{}, err
	}

	preview, err := PreviewCost(item, qty, policy)
	if err != nil {
		return Writeoff{}, err
	}
	strategy, _ := StrategyFor(policy)
	strategy.Deplete(item, qty)

	w := Writeoff{
		ID:       NewWriteoffID(),
		Date:     in.Date,
		Quantity: qty,
		Cost:     preview.Cost,
		Reason:   strings.TrimSpace(in.Reason),
		Notes:    in.Notes,
	}
	item.Writeoffs = append(item.Writeoffs, w)
	return w, nil
}
