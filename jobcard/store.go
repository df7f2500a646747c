package jobcard

import (
	"context"

	"github.com/oneshot/workshop-ledger/inventory"
)

// =============================================================================
// STORE - Persistence gateway for job cards and the stock they consume
// =============================================================================

// Store extends the stock gateway with job cards, so one transaction can
// cover the stock mutation and the card it belongs to.
type Store interface {
	inventory.StockStore

	// LoadJobCards returns all cards, newest first.
	LoadJobCards(ctx context.Context) ([]*JobCard, error)

	// LoadJobCard returns ErrJobCardNotFound for an unknown id.
	LoadJobCard(ctx context.Context, id inventory.JobCardID) (*JobCard, error)

	// SaveJobCard inserts or replaces a card with its line items.
	SaveJobCard(ctx context.Context, card *JobCard) error

	// DeleteJobCard returns ErrJobCardNotFound for an unknown id.
	DeleteJobCard(ctx context.Context, id inventory.JobCardID) error
}

// TxStore wraps Store with transaction support.
// Settlement and deletion always go through WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// AssetDirectory resolves asset labels for usage records.
type AssetDirectory interface {
	LoadAssets(ctx context.Context) ([]Asset, error)

	// LoadAsset returns ErrAssetNotFound for an unknown id.
	LoadAsset(ctx context.Context, id inventory.AssetID) (Asset, error)

	SaveAsset(ctx context.Context, asset Asset) error
}
