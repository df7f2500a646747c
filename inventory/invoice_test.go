package inventory_test

import (
	"encoding/json"
	"testing"

	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PURCHASE INVOICES
// =============================================================================

func lookupIn(items ...*inventory.StockItem) func(inventory.StockID) (*inventory.StockItem, error) {
	return func(id inventory.StockID) (*inventory.StockItem, error) {
		for _, it := range items {
			if it.ID == id {
				return it, nil
			}
		}
		return nil, inventory.ErrStockItemNotFound
	}
}

func TestApplyInvoice_NewAndExistingItems(t *testing.T) {
	// GIVEN: an existing item and an invoice restocking it plus a new part
	existing := twoBatchItem(t)
	before := existing.Clone()
	inv := inventory.Invoice{
		SupplierID: "acme",
		Number:     "INV-100",
		Date:       day(7),
		Lines: []inventory.InvoiceLine{
			{Target: inventory.ExistingItem{StockID: existing.ID}, Quantity: d("4"), UnitCost: d("25")},
			{Target: inventory.NewItem{Name: " Wiper blade ", Category: "Body"}, Quantity: d("2"), UnitCost: d("8.50")},
			{Target: inventory.ExistingItem{StockID: existing.ID}, Quantity: d("1"), UnitCost: d("10")},
		},
	}

	// WHEN: applying it
	items, err := inventory.ApplyInvoice(inv, lookupIn(existing))
	require.NoError(t, err)

	// THEN: the existing item is restocked on a copy and the new item created
	require.Len(t, items, 2)
	restocked, created := items[0], items[1]

	assert.Equal(t, existing.ID, restocked.ID)
	assertDecimal(t, "15", restocked.TotalQuantity)
	require.Len(t, restocked.Batches, 3, "the 10 line compacts into the existing 10 batch")
	for _, b := range restocked.Batches {
		if b.UnitCost.Equal(d("25")) {
			assert.Equal(t, "INV-100", b.InvoiceRef)
		}
	}
	assert.Equal(t, before, existing, "lookup results are never modified")

	assert.Equal(t, "Wiper blade", created.Name)
	assert.Equal(t, inventory.SupplierID("acme"), created.SupplierID)
	assertDecimal(t, "2", created.TotalQuantity)
	assertDecimal(t, "8.5", created.AverageCost)
	assert.Zero(t, created.Version)

	assertDecimal(t, "127", inv.Total())
}

func TestInvoice_Validate(t *testing.T) {
	line := inventory.InvoiceLine{Target: inventory.NewItem{Name: "Fuse"}, Quantity: d("1"), UnitCost: d("1")}

	cases := []struct {
		name string
		inv  inventory.Invoice
		line int
	}{
		{"no supplier", inventory.Invoice{Lines: []inventory.InvoiceLine{line}}, -1},
		{"no lines", inventory.Invoice{SupplierID: "acme"}, -1},
		{"new item without name", inventory.Invoice{SupplierID: "acme", Lines: []inventory.InvoiceLine{
			line, {Target: inventory.NewItem{}, Quantity: d("1"), UnitCost: d("1")},
		}}, 1},
		{"no target", inventory.Invoice{SupplierID: "acme", Lines: []inventory.InvoiceLine{
			{Quantity: d("1"), UnitCost: d("1")},
		}}, 0},
		{"zero quantity", inventory.Invoice{SupplierID: "acme", Lines: []inventory.InvoiceLine{
			{Target: inventory.ExistingItem{StockID: "x"}, Quantity: d("0"), UnitCost: d("1")},
		}}, 0},
		{"zero unit cost", inventory.Invoice{SupplierID: "acme", Lines: []inventory.InvoiceLine{
			{Target: inventory.ExistingItem{StockID: "x"}, Quantity: d("1"), UnitCost: d("0")},
		}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.inv.Validate()
			var invErr *inventory.InvalidInvoiceError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, tc.line, invErr.Line)
			assert.ErrorIs(t, err, inventory.ErrInvalidInvoice)
		})
	}
}

func TestApplyInvoice_UnknownItem(t *testing.T) {
	inv := inventory.Invoice{SupplierID: "acme", Lines: []inventory.InvoiceLine{
		{Target: inventory.ExistingItem{StockID: "ghost"}, Quantity: d("1"), UnitCost: d("1")},
	}}

	_, err := inventory.ApplyInvoice(inv, lookupIn())
	assert.ErrorIs(t, err, inventory.ErrStockItemNotFound)
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

func TestExportImport_RoundTrip(t *testing.T) {
	// GIVEN: an item with consumption history under weighted average
	item := twoBatchItem(t)
	_, _, err := inventory.Consume(item, d("7"), inventory.PolicyWeightedAverage, inventory.UsageInput{Date: day(3), JobCardID: "jc-1"})
	require.NoError(t, err)
	_, err = inventory.WriteOff(item, d("1"), inventory.PolicyFIFO, inventory.WriteoffInput{Date: day(4), Reason: "damaged"})
	require.NoError(t, err)

	// WHEN: exporting and importing
	data, err := inventory.ExportLedger(item)
	require.NoError(t, err)
	back, err := inventory.ImportLedger(data)
	require.NoError(t, err)

	// THEN: aggregates and batches are identical
	assertDecimal(t, item.TotalQuantity.String(), back.TotalQuantity)
	assertDecimal(t, item.AverageCost.String(), back.AverageCost)
	require.Len(t, back.Batches, len(item.Batches))
	for i := range item.Batches {
		assert.Equal(t, item.Batches[i].ID, back.Batches[i].ID)
		assertDecimal(t, item.Batches[i].Quantity.String(), back.Batches[i].Quantity)
		assertDecimal(t, item.Batches[i].UnitCost.String(), back.Batches[i].UnitCost)
		assert.True(t, item.Batches[i].Date.Equal(back.Batches[i].Date))
	}
	require.Len(t, back.UsageHistory, 1)
	assertDecimal(t, "105", back.UsageHistory[0].Cost)
	require.Len(t, back.Writeoffs, 1)
}

func TestImportLedger_Rejects(t *testing.T) {
	item := twoBatchItem(t)
	item.AverageCost = d("99")
	data, err := inventory.ExportLedger(item)
	require.NoError(t, err)

	_, err = inventory.ImportLedger(data)
	assert.ErrorIs(t, err, inventory.ErrLedgerMismatch)

	bad, _ := json.Marshal(map[string]any{"format_version": 42})
	_, err = inventory.ImportLedger(bad)
	assert.ErrorIs(t, err, inventory.ErrInvalidExport)

	_, err = inventory.ImportLedger([]byte("{"))
	assert.ErrorIs(t, err, inventory.ErrInvalidExport)
}

// =============================================================================
// VALUATION
// =============================================================================

func TestValuationAndLowStock(t *testing.T) {
	pads := twoBatchItem(t)
	oil := &inventory.StockItem{ID: "oil", Name: "Oil"}
	_, err := inventory.AddBatch(oil, inventory.PurchaseInput{Date: day(1), Quantity: d("3"), UnitCost: d("12")})
	require.NoError(t, err)
	empty := &inventory.StockItem{ID: "fuse", Name: "Fuse"}

	items := []*inventory.StockItem{pads, oil, empty}

	assertDecimal(t, "186", inventory.Valuation(items))
	assertDecimal(t, "13", inventory.TotalUnits(items))

	low := inventory.LowStock(items, inventory.DefaultLowStockThreshold)
	require.Len(t, low, 2)
	assert.Equal(t, inventory.StockID("fuse"), low[0].ID)
	assert.Equal(t, inventory.StockID("oil"), low[1].ID)
}
