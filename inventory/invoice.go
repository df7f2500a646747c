package inventory

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PURCHASE INVOICE
// =============================================================================

// ItemTarget says which stock item an invoice line restocks. It is either
// NewItem (create the item from the line) or ExistingItem (add a batch).
type ItemTarget interface {
	isItemTarget()
}

// NewItem creates a stock item from an invoice line.
type NewItem struct {
	Name        string
	PartNumber  string
	Category    string
	Description string
}

// ExistingItem restocks an item that is already in the ledger.
type ExistingItem struct {
	StockID StockID
}

func (NewItem) isItemTarget()      {}
func (ExistingItem) isItemTarget() {}

type InvoiceLine struct {
	Target   ItemTarget
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

func (l InvoiceLine) Total() decimal.Decimal { return l.Quantity.Mul(l.UnitCost) }

// Invoice is a supplier invoice received into stock. Every line becomes a
// batch carrying the invoice number.
type Invoice struct {
	SupplierID SupplierID
	Number     string
	Date       time.Time
	Notes      string
	Lines      []InvoiceLine
}

// Total is the invoice value, sum of quantity*unit cost.
func (inv Invoice) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range inv.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// Validate checks the invoice before any stock is touched.
func (inv Invoice) Validate() error {
	if inv.SupplierID == "" {
		return &InvalidInvoiceError{Line: -1, Reason: "supplier is required"}
	}
	if len(inv.Lines) == 0 {
		return &InvalidInvoiceError{Line: -1, Reason: "at least one line is required"}
	}
	for i, l := range inv.Lines {
		switch t := l.Target.(type) {
		case NewItem:
			if strings.TrimSpace(t.Name) == "" {
				return &InvalidInvoiceError{Line: i, Reason: "new item needs a name"}
			}
		case ExistingItem:
			if t.StockID == "" {
				return &InvalidInvoiceError{Line: i, Reason: "existing item needs a stock id"}
			}
		default:
			return &InvalidInvoiceError{Line: i, Reason: "line has no target item"}
		}
		if !l.Quantity.IsPositive() {
			return &InvalidInvoiceError{Line: i, Reason: "quantity must be positive"}
		}
		if !l.UnitCost.IsPositive() {
			return &InvalidInvoiceError{Line: i, Reason: "unit cost must be positive"}
		}
	}
	return nil
}

// ApplyInvoice books every line of inv against working copies of the
// referenced items. lookup returns the current item for an existing line.
// The returned items (new ones first seen first) are ready to be saved
// together; nothing passed in through lookup is modified.
func ApplyInvoice(inv Invoice, lookup func(StockID) (*StockItem, error)) ([]*StockItem, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	working := make(map[StockID]*StockItem)
	var order []*StockItem

	for i, l := range inv.Lines {
		var item *StockItem
		switch t := l.Target.(type) {
		case NewItem:
			item = &StockItem{
				ID:          NewStockID(),
				Name:        strings.TrimSpace(t.Name),
				PartNumber:  t.PartNumber,
				Category:    t.Category,
				Description: t.Description,
				SupplierID:  inv.SupplierID,
			}
			working[item.ID] = item
			order = append(order, item)
		case ExistingItem:
			if w, ok := working[t.StockID]; ok {
				item = w
				break
			}
			current, err := lookup(t.StockID)
			if err != nil {
				return nil, err
			}
			item = current.Clone()
			working[item.ID] = item
			order = append(order, item)
		}

		if _, err := AddBatch(item, PurchaseInput{
			Date:       inv.Date,
			Quantity:   l.Quantity,
			UnitCost:   l.UnitCost,
			InvoiceRef: inv.Number,
		}); err != nil {
			return nil, &InvalidInvoiceError{Line: i, Reason: err.Error()}
		}
	}
	return order, nil
}
