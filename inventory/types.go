/*
Package inventory provides the stock valuation and costing engine.

PURPOSE:
  This package owns everything that touches a stock item's purchase batches:
  how purchases are organised into cost batches, how the cost of consuming
  stock is computed under a costing policy, and how the batches are drained
  when stock is actually used or written off.

KEY CONCEPTS IN THIS FILE (types.go):
  - StockItem: A part or consumable with its batch ledger and history
  - Batch: One purchase event (date, remaining quantity, unit cost)
  - UsageRecord / Writeoff: Append-only history of stock leaving the shelf
  - CostingPolicy: FIFO or weighted average, passed explicitly by callers
  - Typed IDs: One identifier type per entity, never coerced

DESIGN PRINCIPLES:
  1. Precision: Quantities and money use decimal.Decimal
  2. Preview vs apply: Costing never mutates, consumption always recomputes
  3. Explicit policy: No ambient costing setting, callers pass it in
  4. Type Safety: StockID, BatchID, JobCardID... cannot be mixed up

USAGE:
  item := &inventory.StockItem{ID: "oil-5w30", Name: "Engine oil 5W-30"}
  inventory.AddBatch(item, inventory.PurchaseInput{
      Date:     time.Now(),
      Quantity: decimal.NewFromInt(20),
      UnitCost: decimal.NewFromInt(85),
  })
  preview, _ := inventory.PreviewCost(item, decimal.NewFromInt(4), inventory.PolicyFIFO)

SEE ALSO:
  - ledger.go: Batch ledger (add, compact, recompute)
  - costing.go: Non-mutating cost preview
  - consumption.go: Mutating consumption and usage history
*/
package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StockID string
type BatchID string
type SupplierID string
type AssetID string
type JobCardID string
type UsageID string
type WriteoffID string

// NewStockID returns a fresh random stock identifier.
func NewStockID() StockID { return StockID(uuid.NewString()) }

func NewBatchID() BatchID       { return BatchID(uuid.NewString()) }
func NewUsageID() UsageID       { return UsageID(uuid.NewString()) }
func NewWriteoffID() WriteoffID { return WriteoffID(uuid.NewString()) }
func NewJobCardID() JobCardID   { return JobCardID(uuid.NewString()) }
func NewAssetID() AssetID       { return AssetID(uuid.NewString()) }
func NewSupplierID() SupplierID { return SupplierID(uuid.NewString()) }

// =============================================================================
// BATCH - One purchase event
// =============================================================================

// Batch is a discrete purchase of stock. Quantity is what is still on the
// shelf from this purchase; UnitCost never changes once the batch exists.
type Batch struct {
	ID         BatchID         `json:"batch_id"`
	Date       time.Time       `json:"date"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	InvoiceRef string          `json:"invoice_ref,omitempty"`
}

// Value is the remaining quantity priced at the batch cost.
func (b Batch) Value() decimal.Decimal { return b.Quantity.Mul(b.UnitCost) }

// =============================================================================
// HISTORY RECORDS - Append-only
// =============================================================================

type UsageKind string

const (
	UsageConsumption UsageKind = "consumption" // Stock drawn by a settled job card
	UsageReversal    UsageKind = "reversal"    // Stock returned when a settled job card is deleted
)

// UsageRecord is one consumption (or reversal) event. Reversals carry
// negative quantity and cost so the history sums to the net usage.
type UsageRecord struct {
	ID           UsageID         `json:"id"`
	Kind         UsageKind       `json:"kind"`
	Date         time.Time       `json:"date"`
	Quantity     decimal.Decimal `json:"quantity"`
	Cost         decimal.Decimal `json:"cost"`
	JobCardID    JobCardID       `json:"job_card_id,omitempty"`
	JobCardTitle string          `json:"job_card_title,omitempty"`
	AssetID      AssetID         `json:"asset_id,omitempty"`
	AssetName    string          `json:"asset_name,omitempty"`
}

// Writeoff records stock removed without a job card (damage, loss, expiry).
type Writeoff struct {
	ID       WriteoffID      `json:"id"`
	Date     time.Time       `json:"date"`
	Quantity decimal.Decimal `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
	Reason   string          `json:"reason"`
	Notes    string          `json:"notes,omitempty"`
}

// =============================================================================
// STOCK ITEM
// =============================================================================

// StockItem is a part or consumable and its batch ledger.
//
// INVARIANTS (restored by Recompute after every mutation):
//   - TotalQuantity == sum(batch.Quantity)
//   - AverageCost == sum(batch.Quantity*batch.UnitCost) / TotalQuantity, 0 when empty
//   - Batches sorted oldest first, no batch with quantity <= 0
//
// Version is the optimistic-concurrency token of the persisted row. Zero
// means the item has never been saved.
type StockItem struct {
	ID            StockID         `json:"id"`
	Name          string          `json:"name"`
	PartNumber    string          `json:"part_number,omitempty"`
	Category      string          `json:"category,omitempty"`
	Description   string          `json:"description,omitempty"`
	SupplierID    SupplierID      `json:"supplier_id,omitempty"`
	Batches       []Batch         `json:"batches"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	UsageHistory  []UsageRecord   `json:"usage_history"`
	Writeoffs     []Writeoff      `json:"writeoffs"`
	Version       int64           `json:"-"`
}

// Clone returns a deep copy, so a working copy can be mutated without
// touching the original until a commit succeeds.
func (s *StockItem) Clone() *StockItem {
	if s == nil {
		return nil
	}
	c := *s
	c.Batches = append([]Batch(nil), s.Batches...)
	c.UsageHistory = append([]UsageRecord(nil), s.UsageHistory...)
	c.Writeoffs = append([]Writeoff(nil), s.Writeoffs...)
	return &c
}

// Value is the stock on hand priced at the cached average cost.
func (s *StockItem) Value() decimal.Decimal {
	return s.TotalQuantity.Mul(s.AverageCost)
}

// HasBatch reports whether a batch with the given ID is still in the ledger.
func (s *StockItem) HasBatch(id BatchID) bool {
	for _, b := range s.Batches {
		if b.ID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// SUPPLIER
// =============================================================================

// Supplier is who stock is bought from. Invoices reference it by ID.
type Supplier struct {
	ID      SupplierID `json:"id"`
	Name    string     `json:"name"`
	Contact string     `json:"contact,omitempty"`
}
