/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types keep the
  engine types free of HTTP concerns: request bodies carry validation tags,
  responses carry presentation rounding.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND QUANTITIES:
  All decimals travel as JSON strings ("12.50"), which shopspring/decimal
  reads and writes natively. Requests also accept plain JSON numbers.
  Derived money values (average cost, value, totals) are rounded to two
  places here and nowhere else.

VALIDATION:
  Structural checks use go-playground/validator tags (see validate.go).
  Business rules (availability, frozen cards, compaction) stay in the
  engine and come back as typed errors.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Custom decimal validators
*/
package api

import (
	"time"

	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/oneshot/workshop-ledger/jobcard"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STOCK
// =============================================================================

// PurchaseRequest books one purchase batch.
type PurchaseRequest struct {
	Date       *time.Time      `json:"date"`
	Quantity   decimal.Decimal `json:"quantity" validate:"dgt0"`
	UnitCost   decimal.Decimal `json:"unit_cost" validate:"dgte0"`
	InvoiceRef string          `json:"invoice_ref"`
}

func (r PurchaseRequest) toInput() inventory.PurchaseInput {
	in := inventory.PurchaseInput{Quantity: r.Quantity, UnitCost: r.UnitCost, InvoiceRef: r.InvoiceRef}
	if r.Date != nil {
		in.Date = *r.Date
	}
	return in
}

// CreateStockRequest creates an item, optionally with its first purchase.
type CreateStockRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	PartNumber  string           `json:"part_number" validate:"max=100"`
	Category    string           `json:"category" validate:"max=100"`
	Description string           `json:"description"`
	SupplierID  string           `json:"supplier_id"`
	Purchase    *PurchaseRequest `json:"purchase"`
}

// WriteoffRequest removes damaged, lost or expired stock.
type WriteoffRequest struct {
	Date     *time.Time      `json:"date"`
	Quantity decimal.Decimal `json:"quantity" validate:"dgt0"`
	Reason   string          `json:"reason" validate:"required"`
	Notes    string          `json:"notes"`
}

// StockItemDTO is a stock item with its ledger.
type StockItemDTO struct {
	ID            inventory.StockID       `json:"id"`
	Name          string                  `json:"name"`
	PartNumber    string                  `json:"part_number,omitempty"`
	Category      string                  `json:"category,omitempty"`
	Description   string                  `json:"description,omitempty"`
	SupplierID    inventory.SupplierID    `json:"supplier_id,omitempty"`
	TotalQuantity decimal.Decimal         `json:"total_quantity"`
	AverageCost   decimal.Decimal         `json:"average_cost"`
	Value         decimal.Decimal         `json:"value"`
	Batches       []inventory.Batch       `json:"batches"`
	UsageHistory  []inventory.UsageRecord `json:"usage_history,omitempty"`
	Writeoffs     []inventory.Writeoff    `json:"writeoffs,omitempty"`
}

func toStockItemDTO(item *inventory.StockItem, withHistory bool) StockItemDTO {
	dto := StockItemDTO{
		ID:            item.ID,
		Name:          item.Name,
		PartNumber:    item.PartNumber,
		Category:      item.Category,
		Description:   item.Description,
		SupplierID:    item.SupplierID,
		TotalQuantity: item.TotalQuantity,
		AverageCost:   item.AverageCost.Round(2),
		Value:         item.Value().Round(2),
		Batches:       item.Batches,
	}
	if dto.Batches == nil {
		dto.Batches = []inventory.Batch{}
	}
	if withHistory {
		dto.UsageHistory = item.UsageHistory
		dto.Writeoffs = item.Writeoffs
	}
	return dto
}

func toStockItemDTOs(items []*inventory.StockItem) []StockItemDTO {
	out := make([]StockItemDTO, 0, len(items))
	for _, item := range items {
		out = append(out, toStockItemDTO(item, false))
	}
	return out
}

// CostPreviewDTO is the price of consuming a quantity right now.
type CostPreviewDTO struct {
	Policy     inventory.CostingPolicy `json:"policy"`
	Quantity   decimal.Decimal         `json:"quantity"`
	Cost       decimal.Decimal         `json:"cost"`
	UnitCost   decimal.Decimal         `json:"unit_cost"`
	Shortfall  decimal.Decimal         `json:"shortfall"`
	Sufficient bool                    `json:"sufficient"`
	Draws      []inventory.BatchDraw   `json:"draws"`
}

func toCostPreviewDTO(p inventory.CostPreview) CostPreviewDTO {
	draws := p.Draws
	if draws == nil {
		draws = []inventory.BatchDraw{}
	}
	return CostPreviewDTO{
		Policy:     p.Policy,
		Quantity:   p.Quantity,
		Cost:       p.Cost.Round(2),
		UnitCost:   p.UnitCost().Round(2),
		Shortfall:  p.Shortfall,
		Sufficient: p.Sufficient(),
		Draws:      draws,
	}
}

// ValuationDTO summarises stock on hand.
type ValuationDTO struct {
	Items      int             `json:"items"`
	TotalUnits decimal.Decimal `json:"total_units"`
	TotalValue decimal.Decimal `json:"total_value"`
	Threshold  decimal.Decimal `json:"low_stock_threshold"`
	LowStock   []StockItemDTO  `json:"low_stock"`
}

func toValuationDTO(r inventory.ValuationReport) ValuationDTO {
	return ValuationDTO{
		Items:      r.Items,
		TotalUnits: r.TotalUnits,
		TotalValue: r.TotalValue.Round(2),
		Threshold:  r.Threshold,
		LowStock:   toStockItemDTOs(r.LowStock),
	}
}

// =============================================================================
// INVOICES
// =============================================================================

// NewItemRequest describes an item an invoice line creates.
type NewItemRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	PartNumber  string `json:"part_number"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// InvoiceLineRequest restocks either an existing item (stock_id) or a new
// one (new_item), never both.
type InvoiceLineRequest struct {
	StockID  string          `json:"stock_id" validate:"required_without=NewItem,excluded_with=NewItem"`
	NewItem  *NewItemRequest `json:"new_item"`
	Quantity decimal.Decimal `json:"quantity" validate:"dgt0"`
	UnitCost decimal.Decimal `json:"unit_cost" validate:"dgt0"`
}

type InvoiceRequest struct {
	SupplierID string               `json:"supplier_id" validate:"required"`
	Number     string               `json:"number" validate:"required"`
	Date       *time.Time           `json:"date"`
	Notes      string               `json:"notes"`
	Lines      []InvoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (r InvoiceRequest) toInvoice() inventory.Invoice {
	inv := inventory.Invoice{
		SupplierID: inventory.SupplierID(r.SupplierID),
		Number:     r.Number,
		Notes:      r.Notes,
	}
	if r.Date != nil {
		inv.Date = *r.Date
	}
	for _, l := range r.Lines {
		line := inventory.InvoiceLine{Quantity: l.Quantity, UnitCost: l.UnitCost}
		if l.NewItem != nil {
			line.Target = inventory.NewItem{
				Name:        l.NewItem.Name,
				PartNumber:  l.NewItem.PartNumber,
				Category:    l.NewItem.Category,
				Description: l.NewItem.Description,
			}
		} else {
			line.Target = inventory.ExistingItem{StockID: inventory.StockID(l.StockID)}
		}
		inv.Lines = append(inv.Lines, line)
	}
	return inv
}

// InvoiceDTO is the result of receiving an invoice.
type InvoiceDTO struct {
	SupplierID string         `json:"supplier_id"`
	Number     string         `json:"number"`
	Total      string         `json:"total"`
	Items      []StockItemDTO `json:"items"`
}

// =============================================================================
// JOB CARDS
// =============================================================================

// LineItemRequest is a stock line (stock_id + quantity) or a free-text
// charge (description + actual_cost).
type LineItemRequest struct {
	StockID     string          `json:"stock_id"`
	Description string          `json:"description" validate:"required_without=StockID"`
	Quantity    decimal.Decimal `json:"quantity" validate:"dgte0"`
	ActualCost  decimal.Decimal `json:"actual_cost" validate:"dgte0"`
}

type JobCardRequest struct {
	Title     string            `json:"title" validate:"required,max=200"`
	AssetID   string            `json:"asset_id"`
	Date      *time.Time        `json:"date"`
	LaborCost decimal.Decimal   `json:"labor_cost" validate:"dgte0"`
	Notes     string            `json:"notes"`
	Items     []LineItemRequest `json:"items" validate:"dive"`
}

func (r JobCardRequest) toJobCard(id inventory.JobCardID) *jobcard.JobCard {
	card := &jobcard.JobCard{
		ID:        id,
		Title:     r.Title,
		AssetID:   inventory.AssetID(r.AssetID),
		LaborCost: r.LaborCost,
		Notes:     r.Notes,
		Status:    jobcard.StatusDraft,
		Items:     make([]jobcard.LineItem, 0, len(r.Items)),
	}
	if r.Date != nil {
		card.Date = *r.Date
	}
	for _, l := range r.Items {
		card.Items = append(card.Items, jobcard.LineItem{
			StockID:     inventory.StockID(l.StockID),
			Description: l.Description,
			Quantity:    l.Quantity,
			ActualCost:  l.ActualCost,
		})
	}
	return card
}

// JobCardDTO is a card with its derived totals.
type JobCardDTO struct {
	*jobcard.JobCard
	PartsCost decimal.Decimal `json:"parts_cost"`
	Total     decimal.Decimal `json:"total"`
}

func toJobCardDTO(c *jobcard.JobCard) JobCardDTO {
	if c.Items == nil {
		c.Items = []jobcard.LineItem{}
	}
	return JobCardDTO{JobCard: c, PartsCost: c.PartsCost().Round(2), Total: c.Total().Round(2)}
}

func toJobCardDTOs(cards []*jobcard.JobCard) []JobCardDTO {
	out := make([]JobCardDTO, 0, len(cards))
	for _, c := range cards {
		out = append(out, toJobCardDTO(c))
	}
	return out
}

// DeleteJobCardDTO reports what deleting a card put back into stock.
type DeleteJobCardDTO struct {
	ID       inventory.JobCardID    `json:"id"`
	Restored []jobcard.RestoredLine `json:"restored"`
	Skipped  []inventory.StockID    `json:"skipped"`
}

// =============================================================================
// ASSETS, SUPPLIERS AND SETTINGS
// =============================================================================

type AssetRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name" validate:"required,max=200"`
	Registration string `json:"registration"`
}

type SupplierRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required,max=200"`
	Contact string `json:"contact" validate:"max=200"`
}

type CostingPolicyDTO struct {
	Policy inventory.CostingPolicy `json:"policy"`
	Label  string                  `json:"label"`
}

type CostingPolicyRequest struct {
	Policy string `json:"policy" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
