/*
settlement.go - Settling and unwinding job cards

PURPOSE:
  Turns a draft job card into a completed one: every stock line is priced
  under the costing policy, its stock is consumed, and the card is frozen
  with the policy it was settled under. Deleting a completed card puts
  the consumed stock back.

SETTLEMENT STEPS:
  1. Reject completed cards (no double consumption)
  2. Validate every line and the labor cost
  3. Check availability per stock item, summing lines that share an item
  4. For each stock line in order: cost it, consume it, freeze ActualCost
  5. Stamp status=completed and CostingMethod

ATOMICITY:
  Settle works on clones of the stock items. If any step fails, nothing
  passed in has been touched. The caller persists the returned clones
  and the settled card in one transaction.

RESTORATION:
  A completed card's consumption cannot be traced back to the batches it
  drained (weighted average shrinks all of them). Restore therefore puts
  the quantity back as a new batch, priced by RestorationMode:
    - RestoreChargedCost: at the unit cost the card was charged
      (ActualCost / Quantity). Average cost stays consistent with value.
    - RestoreAverageCost: at the item's current average cost, which
      reproduces the old "add the quantity back" behaviour without
      moving the average.
  Either way a reversal usage record is appended.

SEE ALSO:
  - service.go: Locking, retries and persistence around these functions
  - inventory/consumption.go: Consume and RecordReversal
*/
package jobcard

import (
	"fmt"
	"strings"
	"time"

	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTLEMENT
// =============================================================================

// Items is the working set of stock items a settlement or restoration
// reads, keyed by id.
type Items map[inventory.StockID]*inventory.StockItem

// Settlement is the result of settling a card: the frozen card and the
// stock items it changed, ready to persist.
type Settlement struct {
	Card  *JobCard
	Items []*inventory.StockItem
	Usage []inventory.UsageRecord
}

// Settle settles card against items under policy. Neither card nor items
// are modified; assetName labels the usage records.
func Settle(card *JobCard, items Items, policy inventory.CostingPolicy, assetName string, at time.Time) (*Settlement, error) {
	if card.IsCompleted() {
		return nil, fmt.Errorf("%w: %s", inventory.ErrJobCardCompleted, card.ID)
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: %q", inventory.ErrInvalidPolicy, policy)
	}
	if err := Validate(card); err != nil {
		return nil, err
	}

	// Availability is checked for the whole card before anything is consumed.
	need := card.StockQuantities()
	for _, id := range card.StockIDs() {
		item, ok := items[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", inventory.ErrStockItemNotFound, id)
		}
		if err := inventory.RequireAvailable(item, need[id]); err != nil {
			return nil, err
		}
	}

	settled := card.Clone()
	working := make(Items)
	var order []*inventory.StockItem
	var usage []inventory.UsageRecord

	if strings.TrimSpace(assetName) == "" {
		assetName = UnknownAsset
	}
	label := inventory.UsageInput{
		Date:         settled.Date,
		JobCardID:    settled.ID,
		JobCardTitle: settled.Title,
		AssetID:      settled.AssetID,
		AssetName:    assetName,
	}
	if label.Date.IsZero() {
		label.Date = at
	}

	for i := range settled.Items {
		line := &settled.Items[i]
		if !line.FromStock() {
			continue
		}
		work, ok := working[line.StockID]
		if !ok {
			work = items[line.StockID].Clone()
			working[line.StockID] = work
			order = append(order, work)
		}
		rec, _, err := inventory.Consume(work, line.Quantity, policy, label)
		if err != nil {
			return nil, err
		}
		line.ActualCost = rec.Cost
		usage = append(usage, rec)
	}

	settled.Status = StatusCompleted
	settled.CostingMethod = policy
	settledAt := at
	settled.SettledAt = &settledAt

	return &Settlement{Card: settled, Items: order, Usage: usage}, nil
}

// Validate checks a card's lines and labor cost. Stock lines need a
// positive quantity; free-text lines need a non-negative cost.
func Validate(card *JobCard) error {
	if strings.TrimSpace(card.Title) == "" {
		return fmt.Errorf("%w: title is required", inventory.ErrInvalidJobCard)
	}
	if card.LaborCost.IsNegative() {
		return &inventory.InvalidQuantityError{Field: "labor_cost", Value: card.LaborCost}
	}
	for i, l := range card.Items {
		if l.FromStock() {
			if !l.Quantity.IsPositive() {
				return &inventory.InvalidQuantityError{Field: fmt.Sprintf("items[%d].quantity", i), Value: l.Quantity}
			}
			continue
		}
		if l.ActualCost.IsNegative() {
			return &inventory.InvalidQuantityError{Field: fmt.Sprintf("items[%d].actual_cost", i), Value: l.ActualCost}
		}
		if l.Quantity.IsNegative() {
			return &inventory.InvalidQuantityError{Field: fmt.Sprintf("items[%d].quantity", i), Value: l.Quantity}
		}
	}
	return nil
}

// =============================================================================
// DRAFT PREVIEW
// =============================================================================

// LinePreview is the provisional cost of one stock line.
type LinePreview struct {
	Index     int                   `json:"index"`
	StockID   inventory.StockID     `json:"stock_id,omitempty"`
	Quantity  decimal.Decimal       `json:"quantity"`
	Cost      decimal.Decimal       `json:"cost"`
	Shortfall decimal.Decimal       `json:"shortfall"`
	Draws     []inventory.BatchDraw `json:"draws,omitempty"`
}

// DraftPreview is what settling the card right now would charge.
type DraftPreview struct {
	Policy     inventory.CostingPolicy `json:"policy"`
	Lines      []LinePreview           `json:"lines"`
	PartsCost  decimal.Decimal         `json:"parts_cost"`
	LaborCost  decimal.Decimal         `json:"labor_cost"`
	Total      decimal.Decimal         `json:"total"`
	Sufficient bool                    `json:"sufficient"`
}

// Preview prices every line of card the way Settle would, without
// modifying anything. Lines sharing a stock item see the stock left by
// the lines before them. Missing stock is reported as a shortfall.
func Preview(card *JobCard, items Items, policy inventory.CostingPolicy) (DraftPreview, error) {
	if _, err := inventory.StrategyFor(policy); err != nil {
		return DraftPreview{}, err
	}

	out := DraftPreview{
		Policy:     policy,
		PartsCost:  decimal.Zero,
		LaborCost:  card.LaborCost,
		Sufficient: true,
	}
	working := make(Items)

	for i, l := range card.Items {
		lp := LinePreview{Index: i, StockID: l.StockID, Quantity: l.Quantity, Cost: l.ActualCost}
		if l.FromStock() {
			lp.Cost = decimal.Zero
		}
		if l.FromStock() && l.Quantity.IsPositive() {
			work, ok := working[l.StockID]
			if !ok {
				item, found := items[l.StockID]
				if !found {
					return DraftPreview{}, fmt.Errorf("%w: %s", inventory.ErrStockItemNotFound, l.StockID)
				}
				work = item.Clone()
				working[l.StockID] = work
			}
			_, p, err := inventory.Consume(work, l.Quantity, policy, inventory.UsageInput{})
			if err != nil {
				return DraftPreview{}, err
			}
			lp.Cost, lp.Shortfall, lp.Draws = p.Cost, p.Shortfall, p.Draws
			if !p.Sufficient() {
				out.Sufficient = false
			}
		}
		out.PartsCost = out.PartsCost.Add(lp.Cost)
		out.Lines = append(out.Lines, lp)
	}
	out.Total = out.PartsCost.Add(out.LaborCost)
	return out, nil
}

// =============================================================================
// RESTORATION
// =============================================================================

type RestorationMode string

const (
	RestoreChargedCost RestorationMode = "charged_cost"
	RestoreAverageCost RestorationMode = "average_cost"
)

func ParseRestorationMode(s string) (RestorationMode, error) {
	switch RestorationMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", RestoreChargedCost:
		return RestoreChargedCost, nil
	case RestoreAverageCost:
		return RestoreAverageCost, nil
	}
	return "", fmt.Errorf("unknown restoration mode %q", s)
}

// RestoredLine records what was put back for one card line.
type RestoredLine struct {
	StockID  inventory.StockID `json:"stock_id"`
	Quantity decimal.Decimal   `json:"quantity"`
	UnitCost decimal.Decimal   `json:"unit_cost"`
	BatchID  inventory.BatchID `json:"batch_id"`
}

type Restoration struct {
	Items    []*inventory.StockItem
	Restored []RestoredLine
	// Skipped lists stock items the card used that no longer exist.
	Skipped []inventory.StockID
}

// Restore computes the stock to put back when a completed card is
// deleted. Drafts consumed nothing and restore nothing.
func Restore(card *JobCard, items Items, mode RestorationMode, at time.Time) (*Restoration, error) {
	out := &Restoration{}
	if !card.IsCompleted() {
		return out, nil
	}

	working := make(Items)
	for _, l := range card.Items {
		if !l.FromStock() || !l.Quantity.IsPositive() {
			continue
		}
		work, ok := working[l.StockID]
		if !ok {
			item, found := items[l.StockID]
			if !found {
				out.Skipped = append(out.Skipped, l.StockID)
				continue
			}
			work = item.Clone()
			working[l.StockID] = work
			out.Items = append(out.Items, work)
		}

		charged := l.ActualCost.Div(l.Quantity)
		unitCost := charged
		if mode == RestoreAverageCost && work.AverageCost.IsPositive() {
			unitCost = work.AverageCost
		}

		date := card.Date
		if date.IsZero() {
			date = at
		}
		batch, err := inventory.AddBatch(work, inventory.PurchaseInput{
			Date:       date,
			Quantity:   l.Quantity,
			UnitCost:   unitCost,
			InvoiceRef: "jobcard:" + string(card.ID),
		})
		if err != nil {
			return nil, err
		}
		cost := l.ActualCost
		if !unitCost.Equal(charged) {
			cost = l.Quantity.Mul(unitCost)
		}
		inventory.RecordReversal(work, l.Quantity, cost, inventory.UsageInput{
			Date:         at,
			JobCardID:    card.ID,
			JobCardTitle: card.Title,
			AssetID:      card.AssetID,
		})
		out.Restored = append(out.Restored, RestoredLine{
			StockID:  l.StockID,
			Quantity: l.Quantity,
			UnitCost: unitCost,
			BatchID:  batch.ID,
		})
	}
	return out, nil
}

// =============================================================================
// ASSET EXPENSES
// =============================================================================

// AssetExpenseSummary totals completed job cards for one asset.
type AssetExpenseSummary struct {
	AssetID      inventory.AssetID `json:"asset_id"`
	JobCardCount int               `json:"job_card_count"`
	PartsCost    decimal.Decimal   `json:"parts_cost"`
	LaborCost    decimal.Decimal   `json:"labor_cost"`
	TotalCost    decimal.Decimal   `json:"total_cost"`
}

// AssetExpenses sums the frozen costs of completed cards for assetID.
// Drafts are ignored since their costs are provisional.
func AssetExpenses(cards []*JobCard, assetID inventory.AssetID) AssetExpenseSummary {
	sum := AssetExpenseSummary{
		AssetID:   assetID,
		PartsCost: decimal.Zero,
		LaborCost: decimal.Zero,
		TotalCost: decimal.Zero,
	}
	for _, c := range cards {
		if c.AssetID != assetID || !c.IsCompleted() {
			continue
		}
		sum.JobCardCount++
		sum.PartsCost = sum.PartsCost.Add(c.PartsCost())
		sum.LaborCost = sum.LaborCost.Add(c.LaborCost)
	}
	sum.TotalCost = sum.PartsCost.Add(sum.LaborCost)
	return sum
}
