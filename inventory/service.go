/*
service.go - Stock operations with locking, retries and persistence

PURPOSE:
  StockService is what the API calls for everything that is not a job
  card: creating items, recording purchases, receiving invoices, writing
  stock off, previewing costs and moving ledgers in and out.

FLOW OF A MUTATION:
  1. Lock the affected stock items (sorted keys)
  2. Inside a store transaction, reload them (fresh Version)
  3. Apply the engine functions to clones
  4. Save every clone; a version conflict aborts the transaction
  5. On a retryable error, go back to 1 (bounded by Retries)
  6. After commit, publish an event (failures are only logged)

SEE ALSO:
  - store.go: Gateway interfaces
  - jobcard/service.go: The same flow for settlement
*/
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oneshot/workshop-ledger/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultRetries is how often a conflicting mutation is attempted.
const DefaultRetries = 3

type StockServiceConfig struct {
	Store     TxStockStore
	Policy    PolicySource
	Locker    Locker
	Publisher events.Publisher
	Logger    *zap.Logger

	// Suppliers, when set, must know the supplier of every received invoice.
	Suppliers SupplierDirectory

	Retries           int
	LowStockThreshold decimal.Decimal

	// Now is the clock used for dates the caller leaves empty.
	Now func() time.Time
}

type StockService struct {
	store     TxStockStore
	policy    PolicySource
	suppliers SupplierDirectory
	locker    Locker
	publisher events.Publisher
	logger    *zap.Logger
	retries   int
	lowStock  decimal.Decimal
	now       func() time.Time
}

func NewStockService(cfg StockServiceConfig) *StockService {
	s := &StockService{
		store:     cfg.Store,
		policy:    cfg.Policy,
		suppliers: cfg.Suppliers,
		locker:    cfg.Locker,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		retries:   cfg.Retries,
		lowStock:  cfg.LowStockThreshold,
		now:       cfg.Now,
	}
	if s.policy == nil {
		s.policy = StaticPolicy(PolicyFIFO)
	}
	if s.locker == nil {
		s.locker = NopLocker{}
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.retries <= 0 {
		s.retries = DefaultRetries
	}
	if !s.lowStock.IsPositive() {
		s.lowStock = DefaultLowStockThreshold
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *StockService) List(ctx context.Context) ([]*StockItem, error) {
	return s.store.LoadStockItems(ctx)
}

func (s *StockService) Get(ctx context.Context, id StockID) (*StockItem, error) {
	return s.store.LoadStockItem(ctx, id)
}

// Preview prices qty units of an item under the current policy without
// touching it. A shortfall is reported, not rejected.
func (s *StockService) Preview(ctx context.Context, id StockID, qty decimal.Decimal) (CostPreview, error) {
	policy, err := s.policy.CostingPolicy(ctx)
	if err != nil {
		return CostPreview{}, err
	}
	item, err := s.store.LoadStockItem(ctx, id)
	if err != nil {
		return CostPreview{}, err
	}
	return PreviewCost(item, qty, policy)
}

// ValuationReport summarises stock on hand.
type ValuationReport struct {
	Items      int             `json:"items"`
	TotalUnits decimal.Decimal `json:"total_units"`
	TotalValue decimal.Decimal `json:"total_value"`
	Threshold  decimal.Decimal `json:"low_stock_threshold"`
	LowStock   []*StockItem    `json:"low_stock"`
}

func (s *StockService) Valuation(ctx context.Context) (ValuationReport, error) {
	items, err := s.store.LoadStockItems(ctx)
	if err != nil {
		return ValuationReport{}, err
	}
	return ValuationReport{
		Items:      len(items),
		TotalUnits: TotalUnits(items),
		TotalValue: Valuation(items),
		Threshold:  s.lowStock,
		LowStock:   LowStock(items, s.lowStock),
	}, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// NewStockInput creates a stock item, optionally with its first purchase.
type NewStockInput struct {
	Name        string
	PartNumber  string
	Category    string
	Description string
	SupplierID  SupplierID
	Purchase    *PurchaseInput
}

func (s *StockService) Create(ctx context.Context, in NewStockInput) (*StockItem, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidStockItem)
	}
	item := &StockItem{
		ID:          NewStockID(),
		Name:        strings.TrimSpace(in.Name),
		PartNumber:  in.PartNumber,
		Category:    in.Category,
		Description: in.Description,
		SupplierID:  in.SupplierID,
	}
	if in.Purchase != nil {
		if _, err := AddBatch(item, s.dated(*in.Purchase)); err != nil {
			return nil, err
		}
	}
	if err := s.store.SaveStockItem(ctx, item); err != nil {
		return nil, err
	}
	s.logger.Info("stock item created",
		zap.String("stock_id", string(item.ID)),
		zap.String("name", item.Name),
		zap.String("quantity", item.TotalQuantity.String()))
	return item, nil
}

// Purchase books a purchase batch onto an existing item.
func (s *StockService) Purchase(ctx context.Context, id StockID, in PurchaseInput) (*StockItem, Batch, error) {
	var (
		saved *StockItem
		batch Batch
	)
	err := s.mutate(ctx, []StockID{id}, func(tx StockStore) error {
		item, err := tx.LoadStockItem(ctx, id)
		if err != nil {
			return err
		}
		work := item.Clone()
		if batch, err = AddBatch(work, s.dated(in)); err != nil {
			return err
		}
		if err := tx.SaveStockItem(ctx, work); err != nil {
			return err
		}
		saved = work
		return nil
	})
	if err != nil {
		return nil, Batch{}, err
	}
	s.logger.Info("purchase recorded",
		zap.String("stock_id", string(id)),
		zap.String("batch_id", string(batch.ID)),
		zap.String("quantity", in.Quantity.String()),
		zap.String("unit_cost", in.UnitCost.String()))
	return saved, batch, nil
}

// WriteOff removes damaged or lost stock under the current policy.
func (s *StockService) WriteOff(ctx context.Context, id StockID, qty decimal.Decimal, in WriteoffInput) (*StockItem, Writeoff, error) {
	policy, err := s.policy.CostingPolicy(ctx)
	if err != nil {
		return nil, Writeoff{}, err
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}

	var (
		saved *StockItem
		w     Writeoff
	)
	err = s.mutate(ctx, []StockID{id}, func(tx StockStore) error {
		item, err := tx.LoadStockItem(ctx, id)
		if err != nil {
			return err
		}
		work := item.Clone()
		if w, err = WriteOff(work, qty, policy, in); err != nil {
			return err
		}
		if err := tx.SaveStockItem(ctx, work); err != nil {
			return err
		}
		saved = work
		return nil
	})
	if err != nil {
		return nil, Writeoff{}, err
	}

	s.logger.Info("stock written off",
		zap.String("stock_id", string(id)),
		zap.String("quantity", qty.String()),
		zap.String("cost", w.Cost.StringFixed(2)),
		zap.String("policy", policy.String()),
		zap.String("reason", w.Reason))
	s.publish(ctx, events.Event{
		Type:       events.StockWrittenOff,
		Key:        string(id),
		OccurredAt: s.now(),
		Payload: map[string]any{
			"stock_id": id,
			"writeoff": w,
			"policy":   policy,
		},
	})
	return saved, w, nil
}

// ReceiveInvoice books every invoice line atomically: either all lines
// become batches or none do.
func (s *StockService) ReceiveInvoice(ctx context.Context, inv Invoice) ([]*StockItem, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	supplier, err := s.supplier(ctx, inv.SupplierID)
	if err != nil {
		return nil, err
	}
	if inv.Date.IsZero() {
		inv.Date = s.now()
	}

	var existing []StockID
	for _, l := range inv.Lines {
		if t, ok := l.Target.(ExistingItem); ok {
			existing = append(existing, t.StockID)
		}
	}

	var touched []*StockItem
	err = s.mutate(ctx, existing, func(tx StockStore) error {
		items, err := ApplyInvoice(inv, func(id StockID) (*StockItem, error) {
			return tx.LoadStockItem(ctx, id)
		})
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.SaveStockItem(ctx, item); err != nil {
				return err
			}
		}
		touched = items
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice received",
		zap.String("supplier_id", string(inv.SupplierID)),
		zap.String("supplier", supplier.Name),
		zap.String("invoice", inv.Number),
		zap.Int("lines", len(inv.Lines)),
		zap.String("total", inv.Total().StringFixed(2)))
	s.publish(ctx, events.Event{
		Type:       events.InvoiceReceived,
		Key:        string(inv.SupplierID),
		OccurredAt: s.now(),
		Payload: map[string]any{
			"supplier_id":   inv.SupplierID,
			"supplier_name": supplier.Name,
			"number":        inv.Number,
			"lines":         len(inv.Lines),
			"total":         inv.Total(),
		},
	})
	return touched, nil
}

// supplier resolves the invoice supplier. Without a directory every
// supplier is accepted under its ID.
func (s *StockService) supplier(ctx context.Context, id SupplierID) (Supplier, error) {
	if s.suppliers == nil {
		return Supplier{ID: id, Name: string(id)}, nil
	}
	return s.suppliers.LoadSupplier(ctx, id)
}

// Export serialises one item's full ledger.
func (s *StockService) Export(ctx context.Context, id StockID) ([]byte, error) {
	item, err := s.store.LoadStockItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return ExportLedger(item)
}

// Import restores an exported ledger, replacing the item if it exists.
func (s *StockService) Import(ctx context.Context, data []byte) (*StockItem, error) {
	item, err := ImportLedger(data)
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, []StockID{item.ID}, func(tx StockStore) error {
		current, err := tx.LoadStockItem(ctx, item.ID)
		switch {
		case err == nil:
			item.Version = current.Version
		case IsNotFound(err):
			item.Version = 0
		default:
			return err
		}
		return tx.SaveStockItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("ledger imported",
		zap.String("stock_id", string(item.ID)),
		zap.Int("batches", len(item.Batches)),
		zap.Int("usage_records", len(item.UsageHistory)))
	return item, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// mutate runs fn under the stock locks and a store transaction, retrying
// the whole thing on version conflicts.
func (s *StockService) mutate(ctx context.Context, ids []StockID, fn func(tx StockStore) error) error {
	keys := LockKeys(ids...)
	return Retry(ctx, s.retries, func() error {
		unlock, err := s.locker.Lock(ctx, keys...)
		if err != nil {
			return err
		}
		defer unlock()
		err = s.store.WithStockTx(ctx, fn)
		if IsRetryable(err) {
			s.logger.Warn("stock mutation conflicted, retrying", zap.Strings("keys", keys), zap.Error(err))
		}
		return err
	})
}

func (s *StockService) dated(in PurchaseInput) PurchaseInput {
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	return in
}

func (s *StockService) publish(ctx context.Context, evts ...events.Event) {
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		s.logger.Error("publish events", zap.Int("count", len(evts)), zap.Error(err))
	}
}
