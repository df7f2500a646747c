/*
costing.go - Non-mutating cost preview

PURPOSE:
  Answers "what would it cost to take N units of this item right now?"
  without touching the item. Job-card drafts, settlement and write-offs all
  price consumption through here.

POLICIES:
  FIFO:
    Walk batches oldest to newest, take min(remaining, still needed) from
    each at its own unit cost. The draws list names every batch touched.

  WEIGHTED_AVERAGE:
    cost = quantity * AverageCost. No specific batch is identified, so the
    draws list holds a single synthetic entry at the average cost.

ADVISORY ONLY:
  The preview never fails for lack of stock. If the ledger holds less than
  requested, the FIFO cost covers what is there and Shortfall reports the
  rest. Rejecting short requests is the settlement's job.

ROUNDING:
  Nothing is rounded here. Presentation code rounds to 2 decimals.

SEE ALSO:
  - strategy.go: Per-policy implementations
  - consumption.go: Applies the same walk destructively
*/
package inventory

import (
	"github.com/shopspring/decimal"
)

// BatchDraw is one slice of a consumption: how much would be taken from
// which batch at what unit cost. Synthetic draws (weighted average) have
// no BatchID.
type BatchDraw struct {
	BatchID   BatchID         `json:"batch_id,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Synthetic bool            `json:"synthetic,omitempty"`
}

// Cost is the draw quantity at its unit cost.
func (d BatchDraw) Cost() decimal.Decimal { return d.Quantity.Mul(d.UnitCost) }

// CostPreview is the result of pricing a consumption.
type CostPreview struct {
	Policy    CostingPolicy
	Quantity  decimal.Decimal
	Cost      decimal.Decimal
	Draws     []BatchDraw
	Shortfall decimal.Decimal // requested quantity the ledger could not cover
}

// UnitCost is the effective per-unit cost of the preview.
func (p CostPreview) UnitCost() decimal.Decimal {
	covered := p.Quantity.Sub(p.Shortfall)
	if !covered.IsPositive() {
		return decimal.Zero
	}
	return p.Cost.Div(covered)
}

// Sufficient reports whether the ledger could cover the whole quantity.
func (p CostPreview) Sufficient() bool { return !p.Shortfall.IsPositive() }

// PreviewCost prices qty units of item under policy. The item is not modified.
func PreviewCost(item *StockItem, qty decimal.Decimal, policy CostingPolicy) (CostPreview, error) {
	if err := positive("quantity", qty); err != nil {
		return CostPreview{}, err
	}
	strategy, err := StrategyFor(policy)
	if err != nil {
		return CostPreview{}, err
	}
	return strategy.Preview(item, qty), nil
}
