/*
handlers_test.go - HTTP tests for the workshop API

Tests for:
- Stock creation, purchases, previews and valuation
- Request validation and error mapping (400/404/409)
- Job-card settlement, preview and deletion over HTTP
- Invoices, suppliers, ledger export/import, assets and the costing policy setting
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oneshot/workshop-ledger/events"
	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/oneshot/workshop-ledger/jobcard"
	"github.com/oneshot/workshop-ledger/locking"
	"github.com/oneshot/workshop-ledger/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type apiFixture struct {
	router http.Handler
	store  *memory.Memory
	pub    *events.Memory
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st := memory.New()
	pub := events.NewMemory()
	logger := zaptest.NewLogger(t)
	now := func() time.Time { return time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, st.SaveSupplier(context.Background(), inventory.Supplier{ID: "acme", Name: "Acme Parts"}))

	stock := inventory.NewStockService(inventory.StockServiceConfig{
		Store:     st,
		Policy:    st,
		Suppliers: st,
		Locker:    locking.NewLocal(time.Second),
		Publisher: pub,
		Logger:    logger,
		Now:       now,
	})
	cards := jobcard.NewService(jobcard.Config{
		Store:     st,
		Assets:    st,
		Policy:    st,
		Locker:    locking.NewLocal(time.Second),
		Publisher: pub,
		Logger:    logger,
		Now:       now,
	})
	h := NewHandler(stock, cards, st, st, st)
	return &apiFixture{router: NewRouter(h, RouterOptions{Logger: logger}), store: st, pub: pub}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// seedPads creates brake pads with batches 5@10 (1 March) and 5@20 (2 March).
func (f *apiFixture) seedPads(t *testing.T) StockItemDTO {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/stock", map[string]any{
		"name":        "Brake pads",
		"part_number": "BP-100",
		"purchase":    map[string]any{"date": "2024-03-01T00:00:00Z", "quantity": "5", "unit_cost": "10"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decodeBody[StockItemDTO](t, rec)

	rec = f.do(t, http.MethodPost, "/api/stock/"+string(item.ID)+"/batches", map[string]any{
		"date": "2024-03-02T00:00:00Z", "quantity": "5", "unit_cost": "20", "invoice_ref": "INV-7",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return item
}

func (f *apiFixture) createCard(t *testing.T, stockID inventory.StockID, qty string) JobCardDTO {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/jobcards", map[string]any{
		"title":      "Brake service",
		"asset_id":   "truck-1",
		"labor_cost": "50",
		"items":      []map[string]any{{"stock_id": stockID, "quantity": qty}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[JobCardDTO](t, rec)
}

// =============================================================================
// STOCK
// =============================================================================

func TestStock_CreatePurchasePreviewAndValue(t *testing.T) {
	// GIVEN: pads bought in two batches
	f := newAPIFixture(t)
	item := f.seedPads(t)

	// WHEN: the item is fetched
	rec := f.do(t, http.MethodGet, "/api/stock/"+string(item.ID), nil)

	// THEN: both batches are on the ledger
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[StockItemDTO](t, rec)
	assert.Equal(t, "Brake pads", got.Name)
	assertDecimal(t, "10", got.TotalQuantity)
	assertDecimal(t, "15", got.AverageCost)
	assertDecimal(t, "150", got.Value)
	require.Len(t, got.Batches, 2)
	assert.Equal(t, "INV-7", got.Batches[1].InvoiceRef)

	// AND: a FIFO preview for 7 costs 5*10 + 2*20
	rec = f.do(t, http.MethodGet, "/api/stock/"+string(item.ID)+"/preview?quantity=7", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[CostPreviewDTO](t, rec)
	assert.Equal(t, inventory.PolicyFIFO, preview.Policy)
	assertDecimal(t, "90", preview.Cost)
	assert.True(t, preview.Sufficient)
	assert.Len(t, preview.Draws, 2)

	// AND: the valuation lists it as not low on stock
	rec = f.do(t, http.MethodGet, "/api/stock/valuation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	val := decodeBody[ValuationDTO](t, rec)
	assert.Equal(t, 1, val.Items)
	assertDecimal(t, "150", val.TotalValue)
	assert.Empty(t, val.LowStock)

	// AND: the list endpoint returns the item
	rec = f.do(t, http.MethodGet, "/api/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]StockItemDTO](t, rec), 1)
}

func TestStock_PreviewReportsShortfall(t *testing.T) {
	f := newAPIFixture(t)
	item := f.seedPads(t)

	rec := f.do(t, http.MethodGet, "/api/stock/"+string(item.ID)+"/preview?quantity=12", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	preview := decodeBody[CostPreviewDTO](t, rec)
	assert.False(t, preview.Sufficient)
	assertDecimal(t, "2", preview.Shortfall)
}

func TestStock_PreviewRejectsBadQuantity(t *testing.T) {
	f := newAPIFixture(t)
	item := f.seedPads(t)

	rec := f.do(t, http.MethodGet, "/api/stock/"+string(item.ID)+"/preview?quantity=lots", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/stock/"+string(item.ID)+"/preview?quantity=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quantity", decodeBody[ErrorResponse](t, rec).Code)
}

func TestStock_Validation(t *testing.T) {
	f := newAPIFixture(t)

	cases := map[string]struct {
		body  any
		field string
	}{
		"missing name": {
			body:  map[string]any{"name": ""},
			field: "name",
		},
		"zero purchase quantity": {
			body:  map[string]any{"name": "Oil", "purchase": map[string]any{"quantity": "0", "unit_cost": "4"}},
			field: "purchase.quantity",
		},
		"negative unit cost": {
			body:  map[string]any{"name": "Oil", "purchase": map[string]any{"quantity": "1", "unit_cost": "-4"}},
			field: "purchase.unit_cost",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/stock", tc.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, "validation_failed", resp.Code)
			details, ok := resp.Details.([]any)
			require.True(t, ok, rec.Body.String())
			require.NotEmpty(t, details)
			assert.Equal(t, tc.field, details[0].(map[string]any)["field"])
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/stock", "{")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/stock", map[string]any{"name": "Oil", "colour": "red"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStock_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/api/stock/ghost", "/api/stock/ghost/export", "/api/stock/ghost/preview?quantity=1"} {
		rec := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code, path)
	}
}

func TestStock_WriteOff(t *testing.T) {
	// GIVEN
	f := newAPIFixture(t)
	item := f.seedPads(t)
	path := "/api/stock/" + string(item.ID) + "/writeoffs"

	// WHEN: 6 pads are written off under FIFO
	rec := f.do(t, http.MethodPost, path, map[string]any{"quantity": "6", "reason": "damaged"})

	// THEN: the oldest batch goes first
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decodeBody[struct {
		Writeoff inventory.Writeoff `json:"writeoff"`
		Item     StockItemDTO       `json:"item"`
	}](t, rec)
	assertDecimal(t, "70", got.Writeoff.Cost)
	assertDecimal(t, "4", got.Item.TotalQuantity)

	// AND: a reason is mandatory
	rec = f.do(t, http.MethodPost, path, map[string]any{"quantity": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// AND: writing off more than is on hand fails without change
	rec = f.do(t, http.MethodPost, path, map[string]any{"quantity": "5", "reason": "lost"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "insufficient_stock", decodeBody[ErrorResponse](t, rec).Code)
}

// =============================================================================
// INVOICES
// =============================================================================

func TestInvoice_RestocksExistingAndCreatesNew(t *testing.T) {
	// GIVEN
	f := newAPIFixture(t)
	pads := f.seedPads(t)

	// WHEN: an invoice restocks pads and introduces filters
	rec := f.do(t, http.MethodPost, "/api/invoices", map[string]any{
		"supplier_id": "acme",
		"number":      "INV-900",
		"date":        "2024-03-05T00:00:00Z",
		"lines": []map[string]any{
			{"stock_id": pads.ID, "quantity": "2", "unit_cost": "25"},
			{"new_item": map[string]any{"name": "Oil filter"}, "quantity": "4", "unit_cost": "8"},
		},
	})

	// THEN
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decodeBody[InvoiceDTO](t, rec)
	assert.Equal(t, "82.00", got.Total)
	require.Len(t, got.Items, 2)

	rec = f.do(t, http.MethodGet, "/api/stock/"+string(pads.ID), nil)
	item := decodeBody[StockItemDTO](t, rec)
	assertDecimal(t, "12", item.TotalQuantity)
	assert.Equal(t, "INV-900", item.Batches[len(item.Batches)-1].InvoiceRef)

	published := f.pub.Events()
	assert.Equal(t, events.InvoiceReceived, published[len(published)-1].Type)
}

func TestInvoice_Validation(t *testing.T) {
	f := newAPIFixture(t)
	pads := f.seedPads(t)

	invoice := func(supplier string, lines ...map[string]any) map[string]any {
		return map[string]any{"supplier_id": supplier, "number": "INV-1", "lines": append([]map[string]any{}, lines...)}
	}
	existing := map[string]any{"stock_id": pads.ID, "quantity": "1", "unit_cost": "1"}

	cases := map[string]map[string]any{
		"no lines":     invoice("acme"),
		"no supplier":  invoice("", existing),
		"both targets": invoice("acme", map[string]any{"stock_id": pads.ID, "new_item": map[string]any{"name": "x"}, "quantity": "1", "unit_cost": "1"}),
		"no target":    invoice("acme", map[string]any{"quantity": "1", "unit_cost": "1"}),
		"zero cost":    invoice("acme", map[string]any{"stock_id": pads.ID, "quantity": "1", "unit_cost": "0"}),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/invoices", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	t.Run("unknown item leaves stock untouched", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/invoices", map[string]any{
			"supplier_id": "acme",
			"number":      "INV-2",
			"lines": []map[string]any{
				{"stock_id": pads.ID, "quantity": "1", "unit_cost": "1"},
				{"stock_id": "ghost", "quantity": "1", "unit_cost": "1"},
			},
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)

		item, err := f.store.LoadStockItem(context.Background(), pads.ID)
		require.NoError(t, err)
		assertDecimal(t, "10", item.TotalQuantity)
	})
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

func TestStock_ExportImport(t *testing.T) {
	// GIVEN: an exported ledger
	f := newAPIFixture(t)
	item := f.seedPads(t)
	rec := f.do(t, http.MethodGet, "/api/stock/"+string(item.ID)+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), string(item.ID))
	exported := rec.Body.String()

	// WHEN: it is imported into a fresh server
	other := newAPIFixture(t)
	rec = other.do(t, http.MethodPost, "/api/stock/import", exported)

	// THEN: the ledger is identical
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[StockItemDTO](t, rec)
	assert.Equal(t, item.ID, got.ID)
	assertDecimal(t, "150", got.Value)
	assert.Len(t, got.Batches, 2)

	// AND: garbage is rejected as a client error
	rec = other.do(t, http.MethodPost, "/api/stock/import", "not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_export", decodeBody[ErrorResponse](t, rec).Code)
}

// =============================================================================
// JOB CARDS
// =============================================================================

func TestJobCard_SettleFreezesCosts(t *testing.T) {
	// GIVEN: a named asset and a draft using 7 pads
	f := newAPIFixture(t)
	pads := f.seedPads(t)
	rec := f.do(t, http.MethodPost, "/api/assets", map[string]any{"id": "truck-1", "name": "Truck 1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	card := f.createCard(t, pads.ID, "7")
	assert.Equal(t, jobcard.StatusDraft, card.Status)

	// WHEN
	rec = f.do(t, http.MethodPost, "/api/jobcards/"+string(card.ID)+"/settle", nil)

	// THEN: FIFO charges 5*10 + 2*20, plus labor
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decodeBody[JobCardDTO](t, rec)
	assert.Equal(t, jobcard.StatusCompleted, settled.Status)
	assert.Equal(t, inventory.PolicyFIFO, settled.CostingMethod)
	assertDecimal(t, "90", settled.PartsCost)
	assertDecimal(t, "140", settled.Total)

	// AND: the usage record names the asset
	item, err := f.store.LoadStockItem(context.Background(), pads.ID)
	require.NoError(t, err)
	require.Len(t, item.UsageHistory, 1)
	assert.Equal(t, "Truck 1", item.UsageHistory[0].AssetName)
	assertDecimal(t, "3", item.TotalQuantity)

	// AND: settling again is a conflict
	rec = f.do(t, http.MethodPost, "/api/jobcards/"+string(card.ID)+"/settle", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "job_card_completed", decodeBody[ErrorResponse](t, rec).Code)

	// AND: editing the completed card is a conflict
	rec = f.do(t, http.MethodPut, "/api/jobcards/"+string(card.ID), map[string]any{"title": "Changed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: the asset's expenses include it
	rec = f.do(t, http.MethodGet, "/api/assets/truck-1/expenses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[jobcard.AssetExpenseSummary](t, rec)
	assert.Equal(t, 1, summary.JobCardCount)
	assertDecimal(t, "140", summary.TotalCost)
}

func TestJobCard_SettleInsufficientStock(t *testing.T) {
	// GIVEN: a draft asking for more pads than exist
	f := newAPIFixture(t)
	pads := f.seedPads(t)
	card := f.createCard(t, pads.ID, "12")

	// WHEN
	rec := f.do(t, http.MethodPost, "/api/jobcards/"+string(card.ID)+"/settle", nil)

	// THEN: nothing changes and the shortfall is reported
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", resp.Code)
	details := resp.Details.(map[string]any)
	assert.Equal(t, string(pads.ID), details["stock_id"])
	assert.Equal(t, "2", details["shortfall"])

	rec = f.do(t, http.MethodGet, "/api/jobcards/"+string(card.ID), nil)
	assert.Equal(t, jobcard.StatusDraft, decodeBody[JobCardDTO](t, rec).Status)
}

func TestJobCard_Previews(t *testing.T) {
	// GIVEN: weighted average is the current policy
	f := newAPIFixture(t)
	pads := f.seedPads(t)
	rec := f.do(t, http.MethodPut, "/api/settings/costing-policy", map[string]any{"policy": "weighted-average"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: an unsaved draft is previewed
	rec = f.do(t, http.MethodPost, "/api/jobcards/preview", map[string]any{
		"title":      "Quote",
		"labor_cost": "20",
		"items":      []map[string]any{{"stock_id": pads.ID, "quantity": "4"}},
	})

	// THEN: it is priced at the average cost of 15
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[jobcard.DraftPreview](t, rec)
	assert.Equal(t, inventory.PolicyWeightedAverage, preview.Policy)
	assertDecimal(t, "60", preview.PartsCost)
	assertDecimal(t, "80", preview.Total)
	assert.True(t, preview.Sufficient)

	// AND: a stored draft previews the same way without consuming stock
	card := f.createCard(t, pads.ID, "4")
	rec = f.do(t, http.MethodGet, "/api/jobcards/"+string(card.ID)+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDecimal(t, "60", decodeBody[jobcard.DraftPreview](t, rec).PartsCost)

	item, err := f.store.LoadStockItem(context.Background(), pads.ID)
	require.NoError(t, err)
	assertDecimal(t, "10", item.TotalQuantity)
}

func TestJobCard_UpdateDraft(t *testing.T) {
	f := newAPIFixture(t)
	pads := f.seedPads(t)
	card := f.createCard(t, pads.ID, "1")

	rec := f.do(t, http.MethodPut, "/api/jobcards/"+string(card.ID), map[string]any{
		"title": "Brake service and oil",
		"items": []map[string]any{
			{"stock_id": pads.ID, "quantity": "2"},
			{"description": "Shop supplies", "actual_cost": "12.5"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[JobCardDTO](t, rec)
	assert.Equal(t, card.ID, got.ID)
	require.Len(t, got.Items, 2)
	assertDecimal(t, "12.5", got.PartsCost)

	rec = f.do(t, http.MethodPut, "/api/jobcards/ghost", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/jobcards", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]JobCardDTO](t, rec), 1)
}

func TestJobCard_LineValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/jobcards", map[string]any{
		"title": "Bad",
		"items": []map[string]any{{"quantity": "1"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/jobcards", map[string]any{
		"title":      "Bad",
		"labor_cost": "-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobCard_DeleteCompletedRestoresStock(t *testing.T) {
	// GIVEN: a settled card that used 7 pads
	f := newAPIFixture(t)
	pads := f.seedPads(t)
	card := f.createCard(t, pads.ID, "7")
	rec := f.do(t, http.MethodPost, "/api/jobcards/"+string(card.ID)+"/settle", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// WHEN
	rec = f.do(t, http.MethodDelete, "/api/jobcards/"+string(card.ID), nil)

	// THEN: the stock comes back and the card is gone
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[DeleteJobCardDTO](t, rec)
	require.NotEmpty(t, resp.Restored)
	assert.Empty(t, resp.Skipped)

	item, err := f.store.LoadStockItem(context.Background(), pads.ID)
	require.NoError(t, err)
	assertDecimal(t, "10", item.TotalQuantity)
	assertDecimal(t, "150", item.Value())

	rec = f.do(t, http.MethodGet, "/api/jobcards/"+string(card.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/jobcards/"+string(card.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ASSETS AND SETTINGS
// =============================================================================

func TestAssets(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/assets", map[string]any{"name": "Forklift"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[jobcard.Asset](t, rec)
	assert.NotEmpty(t, created.ID)

	rec = f.do(t, http.MethodGet, "/api/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]jobcard.Asset](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/assets/ghost/expenses", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSuppliers(t *testing.T) {
	f := newAPIFixture(t)

	// GIVEN: a new supplier
	rec := f.do(t, http.MethodPost, "/api/suppliers", map[string]any{"name": "Globex", "contact": "parts@globex.test"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[inventory.Supplier](t, rec)
	assert.NotEmpty(t, created.ID)

	rec = f.do(t, http.MethodGet, "/api/suppliers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody[[]inventory.Supplier](t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, "Acme Parts", all[0].Name)
	assert.Equal(t, "Globex", all[1].Name)

	rec = f.do(t, http.MethodPost, "/api/suppliers", map[string]any{"contact": "nobody"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// WHEN: invoices arrive from the new supplier and from an unknown one
	invoice := func(supplier string) map[string]any {
		return map[string]any{
			"supplier_id": supplier,
			"number":      "INV-5",
			"lines":       []map[string]any{{"new_item": map[string]any{"name": "Wiper"}, "quantity": "2", "unit_cost": "6"}},
		}
	}
	rec = f.do(t, http.MethodPost, "/api/invoices", invoice(string(created.ID)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/invoices", invoice("initech"))

	// THEN: the unknown supplier is a 404 and books nothing
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)
	rec = f.do(t, http.MethodGet, "/api/stock", nil)
	assert.Len(t, decodeBody[[]StockItemDTO](t, rec), 1)
}

func TestCostingPolicySetting(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/settings/costing-policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[CostingPolicyDTO](t, rec)
	assert.Equal(t, inventory.PolicyFIFO, got.Policy)
	assert.Equal(t, "FIFO", got.Label)

	rec = f.do(t, http.MethodPut, "/api/settings/costing-policy", map[string]any{"policy": "WEIGHTED_AVERAGE"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Weighted Avg", decodeBody[CostingPolicyDTO](t, rec).Label)

	rec = f.do(t, http.MethodPut, "/api/settings/costing-policy", map[string]any{"policy": "LIFO"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_policy", decodeBody[ErrorResponse](t, rec).Code)

	policy, err := f.store.CostingPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, inventory.PolicyWeightedAverage, policy)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
