/*
handlers.go - HTTP API handlers for the workshop ledger

PURPOSE:
  Exposes stock valuation and job-card costing via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the services.

ENDPOINTS:
  Stock:
    GET    /api/stock                   List stock items
    POST   /api/stock                   Create item (optional first purchase)
    GET    /api/stock/valuation         Total value and low-stock items
    POST   /api/stock/import            Restore an exported ledger
    GET    /api/stock/{id}              Item with usage and write-off history
    POST   /api/stock/{id}/batches      Book a purchase batch
    POST   /api/stock/{id}/writeoffs    Write off damaged/lost stock
    GET    /api/stock/{id}/preview      Price ?quantity= under current policy
    GET    /api/stock/{id}/export       Download the full ledger

  Invoices:
    POST   /api/invoices                Receive a supplier invoice

  Job cards:
    GET    /api/jobcards                List cards, newest first
    POST   /api/jobcards                Create a draft
    POST   /api/jobcards/preview        Price an unsaved draft
    GET    /api/jobcards/{id}           Get card
    PUT    /api/jobcards/{id}           Replace a draft
    DELETE /api/jobcards/{id}           Delete (completed cards restore stock)
    POST   /api/jobcards/{id}/settle    Consume stock and freeze costs
    GET    /api/jobcards/{id}/preview   Price a stored card

  Assets, suppliers and settings:
    GET    /api/assets                  List assets
    POST   /api/assets                  Create or rename asset
    GET    /api/assets/{id}/expenses    Completed job-card totals
    GET    /api/suppliers               List suppliers
    POST   /api/suppliers               Create or rename supplier
    GET    /api/settings/costing-policy Current policy
    PUT    /api/settings/costing-policy Change policy for future operations

REQUEST FLOW:
  1. Decode JSON body
  2. Validate structure (validator tags)
  3. Call StockService / jobcard.Service
  4. Map result to DTO
  5. Map domain errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, insufficient stock, invalid quantities
  - 404: Stock item, job card, asset or invoice supplier not found
  - 409: Card already completed, concurrent modification, lock timeout
  - 500: Internal errors (logged with the request id)

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/oneshot/workshop-ledger/jobcard"
	"github.com/oneshot/workshop-ledger/logging"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxImportBytes bounds ledger uploads.
const maxImportBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Stock     *inventory.StockService
	JobCards  *jobcard.Service
	Assets    jobcard.AssetDirectory
	Suppliers inventory.SupplierDirectory
	Policy    inventory.PolicySetting

	validate *validator.Validate
}

// NewHandler creates a handler over the given services.
func NewHandler(stock *inventory.StockService, cards *jobcard.Service, assets jobcard.AssetDirectory,
	suppliers inventory.SupplierDirectory, policy inventory.PolicySetting) *Handler {
	return &Handler{
		Stock:     stock,
		JobCards:  cards,
		Assets:    assets,
		Suppliers: suppliers,
		Policy:    policy,
		validate:  newValidator(),
	}
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// ListStock returns all stock items ordered by name.
func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Stock.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemDTOs(items))
}

// GetStock returns one item with its usage and write-off history.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	item, err := h.Stock.Get(r.Context(), stockID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get stock item", err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemDTO(item, true))
}

// CreateStock creates an item, optionally booking its first batch.
func (h *Handler) CreateStock(w http.ResponseWriter, r *http.Request) {
	var req CreateStockRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := inventory.NewStockInput{
		Name:        req.Name,
		PartNumber:  req.PartNumber,
		Category:    req.Category,
		Description: req.Description,
		SupplierID:  inventory.SupplierID(req.SupplierID),
	}
	if req.Purchase != nil {
		p := req.Purchase.toInput()
		in.Purchase = &p
	}

	item, err := h.Stock.Create(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, "Failed to create stock item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockItemDTO(item, true))
}

// PurchaseStock books a purchase batch against an item.
func (h *Handler) PurchaseStock(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, batch, err := h.Stock.Purchase(r.Context(), stockID(r), req.toInput())
	if err != nil {
		h.writeDomainError(w, r, "Failed to book purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"batch": batch,
		"item":  toStockItemDTO(item, false),
	})
}

// WriteOffStock removes stock that was damaged, lost or expired.
func (h *Handler) WriteOffStock(w http.ResponseWriter, r *http.Request) {
	var req WriteoffRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := inventory.WriteoffInput{Reason: req.Reason, Notes: req.Notes}
	if req.Date != nil {
		in.Date = *req.Date
	}
	item, wo, err := h.Stock.WriteOff(r.Context(), stockID(r), req.Quantity, in)
	if err != nil {
		h.writeDomainError(w, r, "Failed to write off stock", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"writeoff": wo,
		"item":     toStockItemDTO(item, false),
	})
}

// PreviewStockCost prices ?quantity= without consuming anything.
func (h *Handler) PreviewStockCost(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("quantity")
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quantity", err)
		return
	}

	preview, err := h.Stock.Preview(r.Context(), stockID(r), qty)
	if err != nil {
		h.writeDomainError(w, r, "Failed to preview cost", err)
		return
	}
	writeJSON(w, http.StatusOK, toCostPreviewDTO(preview))
}

// Valuation returns the total stock value and items below the low-stock
// threshold.
func (h *Handler) Valuation(w http.ResponseWriter, r *http.Request) {
	report, err := h.Stock.Valuation(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to value stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toValuationDTO(report))
}

// ExportStock downloads an item's full ledger as JSON.
func (h *Handler) ExportStock(w http.ResponseWriter, r *http.Request) {
	id := stockID(r)
	data, err := h.Stock.Export(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to export ledger", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="stock-%s.json"`, id))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportStock restores a ledger produced by ExportStock.
func (h *Handler) ImportStock(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read ledger", err)
		return
	}
	item, err := h.Stock.Import(r.Context(), data)
	if err != nil {
		h.writeDomainError(w, r, "Failed to import ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemDTO(item, true))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ReceiveInvoice books every invoice line as a batch, creating items for
// lines that name a new part. All lines apply or none do.
func (h *Handler) ReceiveInvoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv := req.toInvoice()
	items, err := h.Stock.ReceiveInvoice(r.Context(), inv)
	if err != nil {
		h.writeDomainError(w, r, "Failed to receive invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, InvoiceDTO{
		SupplierID: req.SupplierID,
		Number:     req.Number,
		Total:      inv.Total().StringFixed(2),
		Items:      toStockItemDTOs(items),
	})
}

// =============================================================================
// JOB CARD HANDLERS
// =============================================================================

// ListJobCards returns all cards, newest first.
func (h *Handler) ListJobCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.JobCards.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list job cards", err)
		return
	}
	writeJSON(w, http.StatusOK, toJobCardDTOs(cards))
}

func (h *Handler) GetJobCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.JobCards.Get(r.Context(), jobCardID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get job card", err)
		return
	}
	writeJSON(w, http.StatusOK, toJobCardDTO(card))
}

// CreateJobCard saves a new draft.
func (h *Handler) CreateJobCard(w http.ResponseWriter, r *http.Request) {
	var req JobCardRequest
	if !h.decode(w, r, &req) {
		return
	}

	card, err := h.JobCards.SaveDraft(r.Context(), req.toJobCard(""))
	if err != nil {
		h.writeDomainError(w, r, "Failed to create job card", err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobCardDTO(card))
}

// UpdateJobCard replaces an existing draft. Completed cards are frozen.
func (h *Handler) UpdateJobCard(w http.ResponseWriter, r *http.Request) {
	id := jobCardID(r)
	var req JobCardRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.JobCards.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Failed to get job card", err)
		return
	}

	card, err := h.JobCards.SaveDraft(r.Context(), req.toJobCard(id))
	if err != nil {
		h.writeDomainError(w, r, "Failed to update job card", err)
		return
	}
	writeJSON(w, http.StatusOK, toJobCardDTO(card))
}

// SettleJobCard consumes the card's stock under the current policy and
// freezes its costs.
func (h *Handler) SettleJobCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.JobCards.Settle(r.Context(), jobCardID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to settle job card", err)
		return
	}
	writeJSON(w, http.StatusOK, toJobCardDTO(card))
}

// DeleteJobCard removes a card. A completed card's stock goes back into
// the ledger first.
func (h *Handler) DeleteJobCard(w http.ResponseWriter, r *http.Request) {
	id := jobCardID(r)
	restored, err := h.JobCards.Delete(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to delete job card", err)
		return
	}

	resp := DeleteJobCardDTO{ID: id, Restored: restored.Restored, Skipped: restored.Skipped}
	if resp.Restored == nil {
		resp.Restored = []jobcard.RestoredLine{}
	}
	if resp.Skipped == nil {
		resp.Skipped = []inventory.StockID{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// PreviewJobCard prices a stored card as settling it now would.
func (h *Handler) PreviewJobCard(w http.ResponseWriter, r *http.Request) {
	preview, err := h.JobCards.Preview(r.Context(), jobCardID(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to preview job card", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// PreviewDraft prices a card that has not been saved.
func (h *Handler) PreviewDraft(w http.ResponseWriter, r *http.Request) {
	var req JobCardRequest
	if !h.decode(w, r, &req) {
		return
	}

	preview, err := h.JobCards.PreviewDraft(r.Context(), req.toJobCard(""))
	if err != nil {
		h.writeDomainError(w, r, "Failed to preview job card", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// =============================================================================
// ASSET AND SETTINGS HANDLERS
// =============================================================================

func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Assets.LoadAssets(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list assets", err)
		return
	}
	if assets == nil {
		assets = []jobcard.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

// CreateAsset saves an asset. Renaming only changes future usage labels.
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if !h.decode(w, r, &req) {
		return
	}

	asset := jobcard.Asset{
		ID:           inventory.AssetID(req.ID),
		Name:         req.Name,
		Registration: req.Registration,
	}
	if asset.ID == "" {
		asset.ID = inventory.NewAssetID()
	}
	if err := h.Assets.SaveAsset(r.Context(), asset); err != nil {
		h.writeDomainError(w, r, "Failed to save asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (h *Handler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.Suppliers.LoadSuppliers(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list suppliers", err)
		return
	}
	if suppliers == nil {
		suppliers = []inventory.Supplier{}
	}
	writeJSON(w, http.StatusOK, suppliers)
}

// CreateSupplier saves a supplier invoices can then be received from.
func (h *Handler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req SupplierRequest
	if !h.decode(w, r, &req) {
		return
	}

	supplier := inventory.Supplier{
		ID:      inventory.SupplierID(req.ID),
		Name:    req.Name,
		Contact: req.Contact,
	}
	if supplier.ID == "" {
		supplier.ID = inventory.NewSupplierID()
	}
	if err := h.Suppliers.SaveSupplier(r.Context(), supplier); err != nil {
		h.writeDomainError(w, r, "Failed to save supplier", err)
		return
	}
	writeJSON(w, http.StatusCreated, supplier)
}

func (h *Handler) AssetExpenses(w http.ResponseWriter, r *http.Request) {
	id := inventory.AssetID(chi.URLParam(r, "id"))
	summary, err := h.JobCards.AssetExpenses(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to total asset expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetCostingPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.Policy.CostingPolicy(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to read costing policy", err)
		return
	}
	writeJSON(w, http.StatusOK, CostingPolicyDTO{Policy: policy, Label: policy.Label()})
}

// SetCostingPolicy changes the policy for operations started afterwards.
// Settled cards keep the policy they were settled with.
func (h *Handler) SetCostingPolicy(w http.ResponseWriter, r *http.Request) {
	var req CostingPolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	policy, err := inventory.ParseCostingPolicy(req.Policy)
	if err != nil {
		h.writeDomainError(w, r, "Invalid costing policy", err)
		return
	}
	if err := h.Policy.SetCostingPolicy(r.Context(), policy); err != nil {
		h.writeDomainError(w, r, "Failed to save costing policy", err)
		return
	}
	logging.FromContext(r.Context()).Info("costing policy changed", zap.String("policy", string(policy)))
	writeJSON(w, http.StatusOK, CostingPolicyDTO{Policy: policy, Label: policy.Label()})
}

// =============================================================================
// HELPERS
// =============================================================================

func stockID(r *http.Request) inventory.StockID {
	return inventory.StockID(chi.URLParam(r, "id"))
}

func jobCardID(r *http.Request) inventory.JobCardID {
	return inventory.JobCardID(chi.URLParam(r, "id"))
}

// decode reads a JSON body into dst and validates it. On failure it
// writes a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "validation_failed",
			Details: fieldErrors(err),
		})
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var short *inventory.InsufficientStockError
	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: message,
			Code:  "insufficient_stock",
			Details: map[string]any{
				"stock_id":  short.StockID,
				"name":      short.Name,
				"available": short.Available,
				"requested": short.Requested,
				"shortfall": short.Shortfall(),
			},
		})
	case inventory.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: message, Code: "not_found", Details: err.Error()})
	case errors.Is(err, inventory.ErrJobCardCompleted):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "job_card_completed", Details: err.Error()})
	case inventory.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "conflict", Details: err.Error()})
	case inventory.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: errorCode(err), Details: err.Error()})
	default:
		logging.FromContext(r.Context()).Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, inventory.ErrInvalidPolicy):
		return "invalid_policy"
	case errors.Is(err, inventory.ErrInvalidInvoice):
		return "invalid_invoice"
	case errors.Is(err, inventory.ErrInvalidJobCard):
		return "invalid_job_card"
	case errors.Is(err, inventory.ErrWriteoffReason):
		return "writeoff_reason_required"
	case errors.Is(err, inventory.ErrLedgerMismatch):
		return "ledger_mismatch"
	case errors.Is(err, inventory.ErrInvalidExport):
		return "invalid_export"
	default:
		return "invalid_request"
	}
}
