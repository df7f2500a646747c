/*
ledger.go - Batch ledger for a single stock item

PURPOSE:
  Keeps a stock item's purchase batches organised for costing. Every
  purchase lands here; every consumption leaves through consumption.go.
  The cached TotalQuantity and AverageCost are always derived from the
  batch set, never adjusted independently.

COMPACTION:
  A purchase whose unit cost matches an existing batch (within 0.01) is
  merged into that batch: quantity is added and the batch takes the new
  purchase date. Repeat purchases at a stable price therefore do not grow
  the ledger. The merged batch keeps its original unit cost.

ORDERING:
  Batches are kept sorted by purchase date, oldest first, so FIFO is a
  linear scan. Sorting is stable: batches bought on the same day keep
  their insertion order.

EXAMPLE FLOW:
  1. Buy 5 @ 10 on Jan 1   -> [(5@10 Jan1)]
  2. Buy 5 @ 20 on Feb 1   -> [(5@10 Jan1), (5@20 Feb1)]
  3. Buy 2 @ 10.005 Mar 1  -> [(5@20 Feb1), (7@10 Mar1)]   merged, re-dated

SEE ALSO:
  - costing.go: Reads the ledger to price consumption
  - consumption.go: Drains the ledger
*/
package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CompactionEpsilon is the unit-cost distance under which two purchases
// are considered the same price.
var CompactionEpsilon = decimal.New(1, -2)

// invariantEpsilon tolerates the residue left by 2-decimal quantity
// rounding in weighted-average consumption.
var invariantEpsilon = decimal.New(1, -2)

// PurchaseInput describes one purchase of an item.
type PurchaseInput struct {
	Date       time.Time
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	InvoiceRef string
}

// AddBatch records a purchase against item and returns the batch that now
// holds it (either a new batch or the compacted one).
func AddBatch(item *StockItem, in PurchaseInput) (Batch, error) {
	if err := positive("quantity", in.Quantity); err != nil {
		return Batch{}, err
	}
	if in.UnitCost.IsNegative() {
		return Batch{}, &InvalidQuantityError{Field: "unit_cost", Value: in.UnitCost}
	}

	var id BatchID
	if i := findSamePrice(item.Batches, in.UnitCost); i >= 0 {
		b := &item.Batches[i]
		b.Quantity = b.Quantity.Add(in.Quantity)
		b.Date = in.Date
		if in.InvoiceRef != "" {
			b.InvoiceRef = in.InvoiceRef
		}
		id = b.ID
	} else {
		id = NewBatchID()
		item.Batches = append(item.Batches, Batch{
			ID:         id,
			Date:       in.Date,
			Quantity:   in.Quantity,
			UnitCost:   in.UnitCost,
			InvoiceRef: in.InvoiceRef,
		})
	}

	SortBatches(item.Batches)
	Recompute(item)

	for _, b := range item.Batches {
		if b.ID == id {
			return b, nil
		}
	}
	// unreachable: the batch was just inserted or merged
	return Batch{}, fmt.Errorf("batch %s vanished after insert", id)
}

func findSamePrice(batches []Batch, unitCost decimal.Decimal) int {
	for i, b := range batches {
		if b.UnitCost.Sub(unitCost).Abs().LessThan(CompactionEpsilon) {
			return i
		}
	}
	return -1
}

// SortBatches orders batches oldest first, keeping insertion order for ties.
func SortBatches(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].Date.Before(batches[j].Date)
	})
}

// Recompute derives TotalQuantity and AverageCost from the batches and
// drops any batch that has been drained to zero.
func Recompute(item *StockItem) {
	kept := item.Batches[:0]
	for _, b := range item.Batches {
		if b.Quantity.IsPositive() {
			kept = append(kept, b)
		}
	}
	item.Batches = kept

	item.TotalQuantity = sumQuantity(item.Batches)
	item.AverageCost = averageCost(item.Batches)
}

func sumQuantity(batches []Batch) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.Quantity)
	}
	return total
}

func sumValue(batches []Batch) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.Value())
	}
	return total
}

func averageCost(batches []Batch) decimal.Decimal {
	qty := sumQuantity(batches)
	if qty.IsZero() {
		return decimal.Zero
	}
	return sumValue(batches).Div(qty)
}

// valueTolerance bounds the value drift that 2-decimal rounding of every
// batch quantity can introduce: one rounding step per batch at the dearest
// unit cost.
func valueTolerance(batches []Batch) decimal.Decimal {
	maxCost := decimal.NewFromInt(1)
	for _, b := range batches {
		maxCost = decimal.Max(maxCost, b.UnitCost)
	}
	n := decimal.NewFromInt(int64(len(batches)))
	return invariantEpsilon.Mul(n).Mul(maxCost)
}

// CheckInvariants verifies the cached aggregates against the batch set.
// AverageCost is compared by value (avg*qty vs sum of batch values) within
// the rounding tolerance, since weighted-average consumption keeps the
// average fixed while batch quantities are rounded.
func CheckInvariants(item *StockItem) error {
	for i, b := range item.Batches {
		if !b.Quantity.IsPositive() {
			return fmt.Errorf("%w: batch %s has quantity %s", ErrLedgerMismatch, b.ID, b.Quantity)
		}
		if i > 0 && b.Date.Before(item.Batches[i-1].Date) {
			return fmt.Errorf("%w: batch %s out of date order", ErrLedgerMismatch, b.ID)
		}
	}

	qty := sumQuantity(item.Batches)
	if !qty.Equal(item.TotalQuantity) {
		return fmt.Errorf("%w: total quantity %s, batches sum to %s",
			ErrLedgerMismatch, item.TotalQuantity, qty)
	}

	value := sumValue(item.Batches)
	cached := item.AverageCost.Mul(item.TotalQuantity)
	if qty.IsZero() {
		if !item.AverageCost.IsZero() {
			return fmt.Errorf("%w: empty ledger with average cost %s", ErrLedgerMismatch, item.AverageCost)
		}
		return nil
	}
	if cached.Sub(value).Abs().GreaterThan(valueTolerance(item.Batches)) {
		return fmt.Errorf("%w: average cost %s implies value %s, batches are worth %s",
			ErrLedgerMismatch, item.AverageCost, cached, value)
	}
	return nil
}
