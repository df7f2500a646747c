package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Strategy implements one costing policy: a read-only preview and the
// matching destructive depletion of the batch ledger.
type Strategy interface {
	Policy() CostingPolicy
	Preview(item *StockItem, qty decimal.Decimal) CostPreview
	// Deplete removes qty from the batches and restores the ledger invariants.
	// The caller has already checked that qty is available.
	Deplete(item *StockItem, qty decimal.Decimal)
}

var strategies = map[CostingPolicy]Strategy{
	PolicyFIFO:            fifoStrategy{},
	PolicyWeightedAverage: weightedAverageStrategy{},
}

// StrategyFor returns the implementation of policy.
func StrategyFor(policy CostingPolicy) (Strategy, error) {
	s, ok := strategies[policy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolicy, string(policy))
	}
	return s, nil
}

// =============================================================================
// FIFO
// =============================================================================

type fifoStrategy struct{}

func (fifoStrategy) Policy() CostingPolicy { return PolicyFIFO }

func (fifoStrategy) Preview(item *StockItem, qty decimal.Decimal) CostPreview {
	batches := append([]Batch(nil), item.Batches...)
	SortBatches(batches)

	remaining := qty
	cost := decimal.Zero
	var draws []BatchDraw
	for _, b := range batches {
		if !remaining.IsPositive() {
			break
		}
		if !b.Quantity.IsPositive() {
			continue
		}
		take := decimal.Min(b.Quantity, remaining)
		cost = cost.Add(take.Mul(b.UnitCost))
		draws = append(draws, BatchDraw{BatchID: b.ID, Quantity: take, UnitCost: b.UnitCost})
		remaining = remaining.Sub(take)
	}

	return CostPreview{
		Policy:    PolicyFIFO,
		Quantity:  qty,
		Cost:      cost,
		Draws:     draws,
		Shortfall: decimal.Max(remaining, decimal.Zero),
	}
}

func (fifoStrategy) Deplete(item *StockItem, qty decimal.Decimal) {
	SortBatches(item.Batches)

	remaining := qty
	kept := make([]Batch, 0, len(item.Batches))
	for _, b := range item.Batches {
		switch {
		case !remaining.IsPositive():
			kept = append(kept, b)
		case b.Quantity.LessThanOrEqual(remaining):
			remaining = remaining.Sub(b.Quantity)
		default:
			b.Quantity = b.Quantity.Sub(remaining)
			remaining = decimal.Zero
			kept = append(kept, b)
		}
	}
	item.Batches = kept
	Recompute(item)
}

// =============================================================================
// WEIGHTED AVERAGE
// =============================================================================

type weightedAverageStrategy struct{}

func (weightedAverageStrategy) Policy() CostingPolicy { return PolicyWeightedAverage }

func (weightedAverageStrategy) Preview(item *StockItem, qty decimal.Decimal) CostPreview {
	return CostPreview{
		Policy:   PolicyWeightedAverage,
		Quantity: qty,
		Cost:     qty.Mul(item.AverageCost),
		Draws: []BatchDraw{{
			Quantity:  qty,
			UnitCost:  item.AverageCost,
			Synthetic: true,
		}},
		Shortfall: decimal.Max(qty.Sub(item.TotalQuantity), decimal.Zero),
	}
}

// Deplete shrinks every batch by the ratio (total-qty)/total, rounding each
// quantity to 2 decimals and dropping batches that reach zero. AverageCost
// is kept: proportional shrinking leaves the cost mix unchanged.
//
// Rounding moves value between batches of different cost. The quantity
// residue goes to the batch that keeps the ledger value closest to
// AverageCost*(total-qty), then whole 0.01 steps are shifted between the
// dearest and cheapest batches until the value is within half a step.
func (weightedAverageStrategy) Deplete(item *StockItem, qty decimal.Decimal) {
	total := sumQuantity(item.Batches)
	if !total.IsPositive() {
		Recompute(item)
		return
	}
	target := total.Sub(qty)
	if !target.IsPositive() {
		item.Batches = nil
		Recompute(item)
		return
	}

	want := item.AverageCost.Mul(target)
	ratio := target.Div(total)
	before := make(map[BatchID]decimal.Decimal, len(item.Batches))
	kept := make([]Batch, 0, len(item.Batches))
	for _, b := range item.Batches {
		before[b.ID] = b.Quantity
		b.Quantity = b.Quantity.Mul(ratio).Round(2)
		if b.Quantity.IsPositive() {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		b := closestToCost(item.Batches, item.AverageCost)
		b.Quantity = target
		kept = append(kept, b)
	}

	kept = placeResidue(kept, target.Sub(sumQuantity(kept)), want, before)
	kept = rebalance(kept, want, before)

	item.Batches = kept
	item.TotalQuantity = sumQuantity(kept)
	if item.TotalQuantity.IsZero() {
		item.AverageCost = decimal.Zero
		return
	}
	// Reached only when no batch can absorb the drift.
	if want.Sub(sumValue(kept)).Abs().GreaterThan(valueTolerance(kept)) {
		item.AverageCost = averageCost(kept)
	}
}

// quantityStep is the granularity of weighted-average batch quantities.
var quantityStep = decimal.New(1, -2)

// placeResidue adds residue to the batch that leaves the ledger value
// nearest to want. A batch may not go negative or grow past its quantity
// before depletion.
func placeResidue(batches []Batch, residue, want decimal.Decimal, before map[BatchID]decimal.Decimal) []Batch {
	if residue.IsZero() {
		return batches
	}
	value := sumValue(batches)
	best := -1
	var bestMiss decimal.Decimal
	for i, b := range batches {
		q := b.Quantity.Add(residue)
		if q.IsNegative() || q.GreaterThan(before[b.ID]) {
			continue
		}
		miss := value.Add(residue.Mul(b.UnitCost)).Sub(want).Abs()
		if best < 0 || miss.LessThan(bestMiss) {
			best, bestMiss = i, miss
		}
	}
	if best < 0 {
		best = largestBatch(batches)
	}
	batches[best].Quantity = batches[best].Quantity.Add(residue)
	return dropEmpty(batches)
}

// rebalance moves quantity from the dearest batch to the cheapest one (or
// back) until the ledger value is within half a step of want. Each pass
// either settles, drains one batch or fills one back to its old quantity.
func rebalance(batches []Batch, want decimal.Decimal, before map[BatchID]decimal.Decimal) []Batch {
	for pass := 2 * len(batches); pass >= 0 && len(batches) > 1; pass-- {
		hi, lo := costExtremes(batches)
		spread := batches[hi].UnitCost.Sub(batches[lo].UnitCost)
		if !spread.IsPositive() {
			return batches
		}
		steps := sumValue(batches).Sub(want).Div(quantityStep.Mul(spread)).Round(0)
		if steps.IsZero() {
			return batches
		}
		from, to := hi, lo
		if steps.IsNegative() {
			from, to = lo, hi
			steps = steps.Neg()
		}
		room := before[batches[to].ID].Sub(batches[to].Quantity)
		move := decimal.Min(steps.Mul(quantityStep), batches[from].Quantity, room)
		if !move.IsPositive() {
			return batches
		}
		batches[from].Quantity = batches[from].Quantity.Sub(move)
		batches[to].Quantity = batches[to].Quantity.Add(move)
		batches = dropEmpty(batches)
	}
	return batches
}

func costExtremes(batches []Batch) (hi, lo int) {
	for i, b := range batches {
		if b.UnitCost.GreaterThan(batches[hi].UnitCost) {
			hi = i
		}
		if b.UnitCost.LessThan(batches[lo].UnitCost) {
			lo = i
		}
	}
	return hi, lo
}

func largestBatch(batches []Batch) int {
	largest := 0
	for i := range batches {
		if batches[i].Quantity.GreaterThan(batches[largest].Quantity) {
			largest = i
		}
	}
	return largest
}

func closestToCost(batches []Batch, cost decimal.Decimal) Batch {
	best := batches[0]
	for _, b := range batches[1:] {
		if b.UnitCost.Sub(cost).Abs().LessThan(best.UnitCost.Sub(cost).Abs()) {
			best = b
		}
	}
	return best
}

func dropEmpty(batches []Batch) []Batch {
	kept := batches[:0]
	for _, b := range batches {
		if b.Quantity.IsPositive() {
			kept = append(kept, b)
		}
	}
	return kept
}
