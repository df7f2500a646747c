package jobcard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oneshot/workshop-ledger/events"
	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SERVICE - Job-card lifecycle with locking, retries and persistence
// =============================================================================

type Config struct {
	Store     TxStore
	Assets    AssetDirectory
	Policy    inventory.PolicySource
	Locker    inventory.Locker
	Publisher events.Publisher
	Logger    *zap.Logger

	// Retries bounds how often a settlement is re-run after a version conflict.
	Retries     int
	Restoration RestorationMode
	Now         func() time.Time
}

type Service struct {
	store       TxStore
	assets      AssetDirectory
	policy      inventory.PolicySource
	locker      inventory.Locker
	publisher   events.Publisher
	logger      *zap.Logger
	retries     int
	restoration RestorationMode
	now         func() time.Time
}

func NewService(cfg Config) *Service {
	s := &Service{
		store:       cfg.Store,
		assets:      cfg.Assets,
		policy:      cfg.Policy,
		locker:      cfg.Locker,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		retries:     cfg.Retries,
		restoration: cfg.Restoration,
		now:         cfg.Now,
	}
	if s.policy == nil {
		s.policy = inventory.StaticPolicy(inventory.PolicyFIFO)
	}
	if s.locker == nil {
		s.locker = inventory.NopLocker{}
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.retries <= 0 {
		s.retries = inventory.DefaultRetries
	}
	if s.restoration == "" {
		s.restoration = RestoreChargedCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) List(ctx context.Context) ([]*JobCard, error) {
	return s.store.LoadJobCards(ctx)
}

func (s *Service) Get(ctx context.Context, id inventory.JobCardID) (*JobCard, error) {
	return s.store.LoadJobCard(ctx, id)
}

// Preview prices a stored card under the current policy. Completed cards
// report their frozen costs.
func (s *Service) Preview(ctx context.Context, id inventory.JobCardID) (DraftPreview, error) {
	card, err := s.store.LoadJobCard(ctx, id)
	if err != nil {
		return DraftPreview{}, err
	}
	if card.IsCompleted() {
		return frozenPreview(card), nil
	}
	return s.PreviewDraft(ctx, card)
}

// PreviewDraft prices an unsaved card under the current policy.
func (s *Service) PreviewDraft(ctx context.Context, card *JobCard) (DraftPreview, error) {
	policy, err := s.policy.CostingPolicy(ctx)
	if err != nil {
		return DraftPreview{}, err
	}
	items, err := loadItems(ctx, s.store, card.StockIDs(), false)
	if err != nil {
		return DraftPreview{}, err
	}
	return Preview(card, items, policy)
}

func frozenPreview(card *JobCard) DraftPreview {
	out := DraftPreview{
		Policy:     card.CostingMethod,
		PartsCost:  card.PartsCost(),
		LaborCost:  card.LaborCost,
		Total:      card.Total(),
		Sufficient: true,
	}
	for i, l := range card.Items {
		out.Lines = append(out.Lines, LinePreview{Index: i, StockID: l.StockID, Quantity: l.Quantity, Cost: l.ActualCost})
	}
	return out
}

// AssetExpenses totals the completed cards raised against an asset.
func (s *Service) AssetExpenses(ctx context.Context, assetID inventory.AssetID) (AssetExpenseSummary, error) {
	if s.assets != nil {
		if _, err := s.assets.LoadAsset(ctx, assetID); err != nil {
			return AssetExpenseSummary{}, err
		}
	}
	cards, err := s.store.LoadJobCards(ctx)
	if err != nil {
		return AssetExpenseSummary{}, err
	}
	return AssetExpenses(cards, assetID), nil
}

// =============================================================================
// DRAFTS
// =============================================================================

// SaveDraft creates or replaces a draft card. Stock line costs are
// provisional and cleared; they are only set by settlement.
func (s *Service) SaveDraft(ctx context.Context, card *JobCard) (*JobCard, error) {
	draft := card.Clone()
	if err := Validate(draft); err != nil {
		return nil, err
	}
	for i := range draft.Items {
		if draft.Items[i].FromStock() {
			draft.Items[i].ActualCost = decimal.Zero
		}
	}
	draft.Status = StatusDraft
	draft.CostingMethod = ""
	draft.SettledAt = nil
	if draft.Date.IsZero() {
		draft.Date = s.now()
	}

	err := s.store.WithTx(ctx, func(tx Store) error {
		if draft.ID == "" {
			draft.ID = inventory.NewJobCardID()
		} else {
			existing, err := tx.LoadJobCard(ctx, draft.ID)
			switch {
			case err == nil && existing.IsCompleted():
				return fmt.Errorf("%w: %s", inventory.ErrJobCardCompleted, draft.ID)
			case err != nil && !errors.Is(err, inventory.ErrJobCardNotFound):
				return err
			}
		}
		return tx.SaveJobCard(ctx, draft)
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// Settle completes a draft card: all of its stock is consumed and its
// costs frozen, or nothing changes. The costing policy is read once, when
// the settlement starts.
func (s *Service) Settle(ctx context.Context, id inventory.JobCardID) (*JobCard, error) {
	policy, err := s.policy.CostingPolicy(ctx)
	if err != nil {
		return nil, err
	}
	card, err := s.store.LoadJobCard(ctx, id)
	if err != nil {
		return nil, err
	}
	if card.IsCompleted() {
		return nil, fmt.Errorf("%w: %s", inventory.ErrJobCardCompleted, id)
	}
	assetName, err := s.assetName(ctx, card.AssetID)
	if err != nil {
		return nil, err
	}

	var result *Settlement
	keys := inventory.LockKeys(card.StockIDs()...)
	err = inventory.Retry(ctx, s.retries, func() error {
		unlock, err := s.locker.Lock(ctx, keys...)
		if err != nil {
			return err
		}
		defer unlock()

		err = s.store.WithTx(ctx, func(tx Store) error {
			// Reload under the lock: the card may have been settled or
			// edited meanwhile.
			current, err := tx.LoadJobCard(ctx, id)
			if err != nil {
				return err
			}
			if err := checkLocked(current, keys); err != nil {
				keys = inventory.LockKeys(current.StockIDs()...)
				return err
			}
			items, err := loadItems(ctx, tx, current.StockIDs(), false)
			if err != nil {
				return err
			}
			settled, err := Settle(current, items, policy, assetName, s.now())
			if err != nil {
				return err
			}
			for _, item := range settled.Items {
				if err := tx.SaveStockItem(ctx, item); err != nil {
					return err
				}
			}
			if err := tx.SaveJobCard(ctx, settled.Card); err != nil {
				return err
			}
			result = settled
			return nil
		})
		if inventory.IsRetryable(err) {
			s.logger.Warn("settlement conflicted, retrying",
				zap.String("job_card_id", string(id)), zap.Error(err))
		}
		return err
	})
	if err != nil {
		s.logger.Info("settlement rejected",
			zap.String("job_card_id", string(id)),
			zap.String("policy", policy.String()),
			zap.Error(err))
		return nil, err
	}

	done := result.Card
	s.logger.Info("job card settled",
		zap.String("job_card_id", string(done.ID)),
		zap.String("policy", policy.String()),
		zap.Int("stock_lines", len(result.Usage)),
		zap.String("parts_cost", done.PartsCost().StringFixed(2)),
		zap.String("total", done.Total().StringFixed(2)))
	s.publish(ctx, events.Event{
		Type:       events.JobCardSettled,
		Key:        string(done.ID),
		OccurredAt: s.now(),
		Payload: map[string]any{
			"job_card_id":    done.ID,
			"asset_id":       done.AssetID,
			"costing_method": done.CostingMethod,
			"parts_cost":     done.PartsCost(),
			"labor_cost":     done.LaborCost,
			"total":          done.Total(),
			"usage":          result.Usage,
		},
	})
	return done, nil
}

// =============================================================================
// DELETION
// =============================================================================

// Delete removes a card. For a completed card the consumed stock is put
// back first, in the same transaction.
func (s *Service) Delete(ctx context.Context, id inventory.JobCardID) (*Restoration, error) {
	card, err := s.store.LoadJobCard(ctx, id)
	if err != nil {
		return nil, err
	}

	var restored *Restoration
	keys := inventory.LockKeys(card.StockIDs()...)
	err = inventory.Retry(ctx, s.retries, func() error {
		unlock, err := s.locker.Lock(ctx, keys...)
		if err != nil {
			return err
		}
		defer unlock()

		err = s.store.WithTx(ctx, func(tx Store) error {
			current, err := tx.LoadJobCard(ctx, id)
			if err != nil {
				return err
			}
			if err := checkLocked(current, keys); err != nil {
				keys = inventory.LockKeys(current.StockIDs()...)
				return err
			}
			items, err := loadItems(ctx, tx, current.StockIDs(), true)
			if err != nil {
				return err
			}
			r, err := Restore(current, items, s.restoration, s.now())
			if err != nil {
				return err
			}
			for _, item := range r.Items {
				if err := tx.SaveStockItem(ctx, item); err != nil {
					return err
				}
			}
			if err := tx.DeleteJobCard(ctx, id); err != nil {
				return err
			}
			restored = r
			return nil
		})
		if inventory.IsRetryable(err) {
			s.logger.Warn("deletion conflicted, retrying",
				zap.String("job_card_id", string(id)), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, missing := range restored.Skipped {
		s.logger.Warn("stock item gone, quantity not restored",
			zap.String("job_card_id", string(id)),
			zap.String("stock_id", string(missing)))
	}
	s.logger.Info("job card deleted",
		zap.String("job_card_id", string(id)),
		zap.String("status", string(card.Status)),
		zap.String("restoration", string(s.restoration)),
		zap.Int("restored_lines", len(restored.Restored)))
	s.publish(ctx, events.Event{
		Type:       events.JobCardDeleted,
		Key:        string(id),
		OccurredAt: s.now(),
		Payload: map[string]any{
			"job_card_id": id,
			"status":      card.Status,
			"restoration": s.restoration,
			"restored":    restored.Restored,
			"skipped":     restored.Skipped,
		},
	})
	return restored, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkLocked fails with a retryable error when card has stock lines
// outside keys. The caller relocks with the card's current items.
func checkLocked(card *JobCard, keys []string) error {
	held := make(map[string]bool, len(keys))
	for _, k := range keys {
		held[k] = true
	}
	for _, k := range inventory.LockKeys(card.StockIDs()...) {
		if !held[k] {
			return fmt.Errorf("%w: job card %s stock lines changed before %s was locked",
				inventory.ErrStaleReference, card.ID, k)
		}
	}
	return nil
}

// loadItems loads the distinct stock items in ids. With skipMissing,
// unknown items are left out instead of failing.
func loadItems(ctx context.Context, st inventory.StockStore, ids []inventory.StockID, skipMissing bool) (Items, error) {
	items := make(Items, len(ids))
	for _, id := range ids {
		if _, ok := items[id]; ok {
			continue
		}
		item, err := st.LoadStockItem(ctx, id)
		if err != nil {
			if skipMissing && errors.Is(err, inventory.ErrStockItemNotFound) {
				continue
			}
			return nil, err
		}
		items[id] = item
	}
	return items, nil
}

func (s *Service) assetName(ctx context.Context, id inventory.AssetID) (string, error) {
	if id == "" || s.assets == nil {
		return UnknownAsset, nil
	}
	asset, err := s.assets.LoadAsset(ctx, id)
	if errors.Is(err, inventory.ErrAssetNotFound) {
		return UnknownAsset, nil
	}
	if err != nil {
		return "", err
	}
	return asset.Name, nil
}

func (s *Service) publish(ctx context.Context, evts ...events.Event) {
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		s.logger.Error("publish events", zap.Int("count", len(evts)), zap.Error(err))
	}
}
