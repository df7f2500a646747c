/*
store.go - Persistence gateway and policy source interfaces

PURPOSE:
  The engine never talks to a database. It loads stock items, works on
  clones in memory, and hands the finished items back through these
  interfaces at a single commit point.

KEY INTERFACES:
  StockStore:    Load and save stock items (batches, usage, write-offs)
  TxStockStore:  All-or-nothing saves across several items
  PolicySource:  The current costing policy (policy.go)
  PolicySetting: A policy source that can also be changed
  Locker:        Per-stock-item mutual exclusion across processes

OPTIMISTIC CONCURRENCY:
  Every StockItem carries a Version. SaveStockItem succeeds only when the
  stored version still equals item.Version (0 for a new item) and then
  increments item.Version. Otherwise it returns *StaleReferenceError and
  the caller retries the whole operation from a fresh load.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for tests and dev

SEE ALSO:
  - service.go: Uses these to run write-offs, purchases and invoices
  - jobcard/store.go: Extends StockStore with job cards
*/
package inventory

import (
	"context"
	"sort"
	"time"
)

// =============================================================================
// STOCK STORE
// =============================================================================

type StockStore interface {
	// LoadStockItems returns every stock item, ordered by name.
	LoadStockItems(ctx context.Context) ([]*StockItem, error)

	// LoadStockItem returns ErrStockItemNotFound for an unknown id.
	LoadStockItem(ctx context.Context, id StockID) (*StockItem, error)

	// SaveStockItem inserts or updates item, checking and bumping Version.
	SaveStockItem(ctx context.Context, item *StockItem) error
}

// TxStockStore runs several saves atomically.
type TxStockStore interface {
	StockStore

	// WithStockTx executes fn within a transaction.
	// If fn returns error, every write made through the passed store is rolled back.
	WithStockTx(ctx context.Context, fn func(StockStore) error) error
}

// SupplierDirectory holds the suppliers invoices are received from.
type SupplierDirectory interface {
	// LoadSuppliers returns every supplier, ordered by name.
	LoadSuppliers(ctx context.Context) ([]Supplier, error)

	// LoadSupplier returns ErrSupplierNotFound for an unknown id.
	LoadSupplier(ctx context.Context, id SupplierID) (Supplier, error)

	SaveSupplier(ctx context.Context, supplier Supplier) error
}

// PolicySetting is a PolicySource backed by a setting that can be changed.
// Changes only affect settlements started afterwards.
type PolicySetting interface {
	PolicySource
	SetCostingPolicy(ctx context.Context, policy CostingPolicy) error
}

// =============================================================================
// LOCKER
// =============================================================================

// Locker serialises work on the same stock items. Lock blocks until every
// key is held or ctx is done, and returns a func releasing all of them.
// Implementations return an error wrapping ErrLockNotObtained on timeout.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// NopLocker takes no locks. Services fall back to it when no Locker is
// configured; the stores' version checks still catch concurrent writers.
type NopLocker struct{}

func (NopLocker) Lock(context.Context, ...string) (func(), error) { return func() {}, nil }

// LockKeys maps stock ids to sorted, de-duplicated lock keys. Taking locks
// in this order keeps two settlements from deadlocking on each other.
func LockKeys(ids ...StockID) []string {
	seen := make(map[StockID]bool, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, "stock:"+string(id))
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// RETRY
// =============================================================================

// Retry runs fn up to attempts times while it fails with a retryable
// error (stale version, lock not obtained), backing off a little longer
// each time.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return err
}
