/*
consumption.go - Applying consumption to a batch ledger

PURPOSE:
  Mutates a stock item to reflect stock that has actually left the shelf
  and records why. The cost charged is always the Costing Engine's preview
  taken immediately before the batches are drained, so the history and the
  job card agree to the cent.

PRECONDITION:
  The caller has verified qty <= TotalQuantity. Consume does not re-check;
  settlement and write-off validation happen before any item is touched.

SIDE EFFECTS:
  - FIFO: oldest batches removed or reduced until qty is covered
  - WEIGHTED_AVERAGE: all batches reduced proportionally
  - One UsageRecord appended to UsageHistory

SEE ALSO:
  - strategy.go: Deplete implementations
  - writeoff.go: Same drain, recorded as a write-off instead
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageInput carries the labels recorded with a consumption. Names are
// resolved by the caller so history stays readable if the asset is renamed.
type UsageInput struct {
	Date         time.Time
	JobCardID    JobCardID
	JobCardTitle string
	AssetID      AssetID
	AssetName    string
}

// Consume drains qty from item under policy and appends the usage record.
// It returns the record and the preview it was priced from.
func Consume(item *StockItem, qty decimal.Decimal, policy CostingPolicy, in UsageInput) (UsageRecord, CostPreview, error) {
	preview, err := PreviewCost(item, qty, policy)
	if err != nil {
		return UsageRecord{}, CostPreview{}, err
	}
	strategy, _ := StrategyFor(policy)
	strategy.Deplete(item, qty)

	rec := UsageRecord{
		ID:           NewUsageID(),
		Kind:         UsageConsumption,
		Date:         in.Date,
		Quantity:     qty,
		Cost:         preview.Cost,
		JobCardID:    in.JobCardID,
		JobCardTitle: in.JobCardTitle,
		AssetID:      in.AssetID,
		AssetName:    in.AssetName,
	}
	item.UsageHistory = append(item.UsageHistory, rec)
	return rec, preview, nil
}

// RecordReversal appends a negative usage record for stock returned to the
// ledger. The batches themselves are restored by the caller via AddBatch.
func RecordReversal(item *StockItem, qty, cost decimal.Decimal, in UsageInput) UsageRecord {
	rec := UsageRecord{
		ID:           NewUsageID(),
		Kind:         UsageReversal,
		Date:         in.Date,
		Quantity:     qty.Neg(),
		Cost:         cost.Neg(),
		JobCardID:    in.JobCardID,
		JobCardTitle: in.JobCardTitle,
		AssetID:      in.AssetID,
		AssetName:    in.AssetName,
	}
	item.UsageHistory = append(item.UsageHistory, rec)
	return rec
}

// NetUsage sums the usage history: quantity and cost consumed net of reversals.
func NetUsage(item *StockItem) (qty, cost decimal.Decimal) {
	qty, cost = decimal.Zero, decimal.Zero
	for _, u := range item.UsageHistory {
		qty = qty.Add(u.Quantity)
		cost = cost.Add(u.Cost)
	}
	return qty, cost
}

// RequireAvailable returns InsufficientStockError when item cannot cover qty.
func RequireAvailable(item *StockItem, qty decimal.Decimal) error {
	if qty.GreaterThan(item.TotalQuantity) {
		return &InsufficientStockError{
			StockID:   item.ID,
			Name:      item.Name,
			Available: item.TotalQuantity,
			Requested: qty,
		}
	}
	return nil
}
