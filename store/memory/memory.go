// Package memory provides an in-memory Persistence Gateway (for tests/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/oneshot/workshop-ledger/jobcard"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps clones of everything it is given, so callers can never
// mutate stored state except through Save*.
type Memory struct {
	mu        sync.RWMutex
	items     map[inventory.StockID]*inventory.StockItem
	cards     map[inventory.JobCardID]*jobcard.JobCard
	assets    map[inventory.AssetID]jobcard.Asset
	suppliers map[inventory.SupplierID]inventory.Supplier
	policy    inventory.CostingPolicy
	failNext  error
}

var (
	_ jobcard.TxStore             = (*Memory)(nil)
	_ inventory.TxStockStore      = (*Memory)(nil)
	_ jobcard.AssetDirectory      = (*Memory)(nil)
	_ inventory.SupplierDirectory = (*Memory)(nil)
	_ inventory.PolicySetting     = (*Memory)(nil)
)

func New() *Memory {
	return &Memory{
		items:     make(map[inventory.StockID]*inventory.StockItem),
		cards:     make(map[inventory.JobCardID]*jobcard.JobCard),
		assets:    make(map[inventory.AssetID]jobcard.Asset),
		suppliers: make(map[inventory.SupplierID]inventory.Supplier),
		policy:    inventory.PolicyFIFO,
	}
}

// FailNextSave makes the next SaveJobCard or SaveStockItem return err.
// Tests use it to simulate a persistence failure mid-transaction.
func (m *Memory) FailNextSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// ===== Stock items =====

func (m *Memory) LoadStockItems(_ context.Context) ([]*inventory.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stockItemsLocked(), nil
}

func (m *Memory) LoadStockItem(_ context.Context, id inventory.StockID) (*inventory.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stockItemLocked(id)
}

func (m *Memory) SaveStockItem(_ context.Context, item *inventory.StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveStockItemLocked(item)
}

func (m *Memory) stockItemsLocked() []*inventory.StockItem {
	out := make([]*inventory.StockItem, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) stockItemLocked(id inventory.StockID) (*inventory.StockItem, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", inventory.ErrStockItemNotFound, id)
	}
	return it.Clone(), nil
}

func (m *Memory) saveStockItemLocked(item *inventory.StockItem) error {
	if err := m.takeFailure(); err != nil {
		return err
	}
	var stored int64
	if cur, ok := m.items[item.ID]; ok {
		stored = cur.Version
	}
	if stored != item.Version {
		return &inventory.StaleReferenceError{StockID: item.ID, ExpectedVersion: item.Version, ActualVersion: stored}
	}
	item.Version++
	m.items[item.ID] = item.Clone()
	return nil
}

// ===== Job cards =====

func (m *Memory) LoadJobCards(_ context.Context) ([]*jobcard.JobCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobCardsLocked(), nil
}

func (m *Memory) LoadJobCard(_ context.Context, id inventory.JobCardID) (*jobcard.JobCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobCardLocked(id)
}

func (m *Memory) SaveJobCard(_ context.Context, card *jobcard.JobCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveJobCardLocked(card)
}

func (m *Memory) DeleteJobCard(_ context.Context, id inventory.JobCardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteJobCardLocked(id)
}

func (m *Memory) jobCardsLocked() []*jobcard.JobCard {
	out := make([]*jobcard.JobCard, 0, len(m.cards))
	for _, c := range m.cards {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) jobCardLocked(id inventory.JobCardID) (*jobcard.JobCard, error) {
	c, ok := m.cards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", inventory.ErrJobCardNotFound, id)
	}
	return c.Clone(), nil
}

func (m *Memory) saveJobCardLocked(card *jobcard.JobCard) error {
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.cards[card.ID] = card.Clone()
	return nil
}

func (m *Memory) deleteJobCardLocked(id inventory.JobCardID) error {
	if _, ok := m.cards[id]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrJobCardNotFound, id)
	}
	delete(m.cards, id)
	return nil
}

func (m *Memory) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

// ===== Assets =====

func (m *Memory) LoadAssets(_ context.Context) ([]jobcard.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]jobcard.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) LoadAsset(_ context.Context, id inventory.AssetID) (jobcard.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return jobcard.Asset{}, fmt.Errorf("%w: %s", inventory.ErrAssetNotFound, id)
	}
	return a, nil
}

func (m *Memory) SaveAsset(_ context.Context, asset jobcard.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[asset.ID] = asset
	return nil
}

// ===== Suppliers =====

func (m *Memory) LoadSuppliers(_ context.Context) ([]inventory.Supplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]inventory.Supplier, 0, len(m.suppliers))
	for _, s := range m.suppliers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) LoadSupplier(_ context.Context, id inventory.SupplierID) (inventory.Supplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.suppliers[id]
	if !ok {
		return inventory.Supplier{}, fmt.Errorf("%w: %s", inventory.ErrSupplierNotFound, id)
	}
	return s, nil
}

func (m *Memory) SaveSupplier(_ context.Context, supplier inventory.Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppliers[supplier.ID] = supplier
	return nil
}

// ===== Costing policy =====

func (m *Memory) CostingPolicy(_ context.Context) (inventory.CostingPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy, nil
}

func (m *Memory) SetCostingPolicy(_ context.Context, policy inventory.CostingPolicy) error {
	if !policy.Valid() {
		return fmt.Errorf("%w: %q", inventory.ErrInvalidPolicy, policy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = policy
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(jobcard.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// WithStockTx is WithTx restricted to stock items.
func (m *Memory) WithStockTx(ctx context.Context, fn func(inventory.StockStore) error) error {
	return m.WithTx(ctx, func(tx jobcard.Store) error { return fn(tx) })
}

type memorySnapshot struct {
	items map[inventory.StockID]*inventory.StockItem
	cards map[inventory.JobCardID]*jobcard.JobCard
}

// snapshot copies the maps; stored values are never mutated in place, so
// sharing the pointers is safe.
func (m *Memory) snapshot() memorySnapshot {
	items := make(map[inventory.StockID]*inventory.StockItem, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	cards := make(map[inventory.JobCardID]*jobcard.JobCard, len(m.cards))
	for k, v := range m.cards {
		cards[k] = v
	}
	return memorySnapshot{items: items, cards: cards}
}

func (m *Memory) restore(s memorySnapshot) {
	m.items = s.items
	m.cards = s.cards
}

// txView runs against the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (tv *txView) LoadStockItems(context.Context) ([]*inventory.StockItem, error) {
	return tv.parent.stockItemsLocked(), nil
}

func (tv *txView) LoadStockItem(_ context.Context, id inventory.StockID) (*inventory.StockItem, error) {
	return tv.parent.stockItemLocked(id)
}

func (tv *txView) SaveStockItem(_ context.Context, item *inventory.StockItem) error {
	return tv.parent.saveStockItemLocked(item)
}

func (tv *txView) LoadJobCards(context.Context) ([]*jobcard.JobCard, error) {
	return tv.parent.jobCardsLocked(), nil
}

func (tv *txView) LoadJobCard(_ context.Context, id inventory.JobCardID) (*jobcard.JobCard, error) {
	return tv.parent.jobCardLocked(id)
}

func (tv *txView) SaveJobCard(_ context.Context, card *jobcard.JobCard) error {
	return tv.parent.saveJobCardLocked(card)
}

func (tv *txView) DeleteJobCard(_ context.Context, id inventory.JobCardID) error {
	return tv.parent.deleteJobCardLocked(id)
}
