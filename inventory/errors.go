/*
errors.go - Centralized error types for the costing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The jobcard package and the stores wrap these with more context.

ERROR CATEGORIES:
  1. Input errors - Invalid quantities, unknown policies, malformed invoices
  2. Stock errors - Not enough stock to settle or write off
  3. Concurrency errors - Optimistic version conflicts, locks not obtained
  4. Lookup errors - Missing stock items, job cards, assets

USAGE:
  var short *inventory.InsufficientStockError
  if errors.As(err, &short) {
      fmt.Printf("only %s of %s left\n", short.Available, short.Name)
  }
  if inventory.IsRetryable(err) {
      // re-run the whole operation
  }

SEE ALSO:
  - jobcard/settlement.go: The sole enforcement point for stock sufficiency
  - store/sqlite/sqlite.go: Produces StaleReferenceError on version conflicts
*/
package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientStock is returned when a consumption exceeds the quantity on hand.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidQuantity is returned for zero or negative quantities (and negative costs).
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrStaleReference is returned when a stock item changed since it was loaded.
	// The whole operation should be retried.
	ErrStaleReference = errors.New("stale reference")

	ErrInvalidPolicy    = errors.New("invalid costing policy")
	ErrInvalidInvoice   = errors.New("invalid purchase invoice")
	ErrInvalidStockItem = errors.New("invalid stock item")

	// ErrLedgerMismatch is returned when cached aggregates disagree with the batches.
	ErrLedgerMismatch = errors.New("ledger aggregates do not match batches")
	ErrInvalidExport  = errors.New("invalid ledger export")

	ErrStockItemNotFound = errors.New("stock item not found")
	ErrJobCardNotFound   = errors.New("job card not found")
	ErrAssetNotFound     = errors.New("asset not found")
	ErrSupplierNotFound  = errors.New("supplier not found")

	// ErrJobCardCompleted is returned when settling or editing an already settled card.
	ErrJobCardCompleted = errors.New("job card already completed")
	ErrInvalidJobCard   = errors.New("invalid job card")

	// ErrLockNotObtained is returned when a stock lock could not be acquired in time.
	ErrLockNotObtained = errors.New("stock lock not obtained")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError names the item that cannot cover a request.
type InsufficientStockError struct {
	StockID   StockID
	Name      string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s",
		e.label(), e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

func (e *InsufficientStockError) label() string {
	if e.Name != "" {
		return e.Name
	}
	return string(e.StockID)
}

// Shortfall is how much more stock would have been needed.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// InvalidQuantityError rejects a non-positive quantity before any state change.
type InvalidQuantityError struct {
	Field string
	Value decimal.Decimal
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Value)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// StaleReferenceError reports an optimistic-concurrency conflict on save.
type StaleReferenceError struct {
	StockID         StockID
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("stock item %s changed concurrently (expected version %d, found %d)",
		e.StockID, e.ExpectedVersion, e.ActualVersion)
}

func (e *StaleReferenceError) Unwrap() error { return ErrStaleReference }

// InvalidInvoiceError points at the invoice line that failed validation.
// Line is -1 for header-level problems.
type InvalidInvoiceError struct {
	Line   int
	Reason string
}

func (e *InvalidInvoiceError) Error() string {
	if e.Line < 0 {
		return fmt.Sprintf("invalid invoice: %s", e.Reason)
	}
	return fmt.Sprintf("invalid invoice line %d: %s", e.Line+1, e.Reason)
}

func (e *InvalidInvoiceError) Unwrap() error { return ErrInvalidInvoice }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleReference) || errors.Is(err, ErrLockNotObtained)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrInvalidInvoice) ||
		errors.Is(err, ErrInvalidStockItem) ||
		errors.Is(err, ErrLedgerMismatch) ||
		errors.Is(err, ErrInvalidExport) ||
		errors.Is(err, ErrWriteoffReason) ||
		errors.Is(err, ErrInvalidJobCard) ||
		errors.Is(err, ErrJobCardCompleted)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStockItemNotFound) ||
		errors.Is(err, ErrJobCardNotFound) ||
		errors.Is(err, ErrAssetNotFound) ||
		errors.Is(err, ErrSupplierNotFound)
}

func positive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return &InvalidQuantityError{Field: field, Value: v}
	}
	return nil
}
