// Package jobcard settles workshop job cards against the stock ledger.
// It uses the inventory engine for costing and consumption and adds the
// job-card lifecycle on top: draft editing, settlement, and the
// compensating restoration when a settled card is deleted.
package jobcard

import (
	"time"

	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/shopspring/decimal"
)

// =============================================================================
// JOB CARD
// =============================================================================

type Status string

const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
)

// LineItem is one part or consumable used on a job. Lines without a
// StockID are free-text charges (sublet work, sundries) whose ActualCost
// is entered by hand. For stock lines ActualCost is computed at
// settlement and frozen afterwards.
type LineItem struct {
	StockID     inventory.StockID `json:"stock_id,omitempty"`
	Description string            `json:"description"`
	Quantity    decimal.Decimal   `json:"quantity"`
	ActualCost  decimal.Decimal   `json:"actual_cost"`
}

// FromStock reports whether the line draws on a stock item.
func (l LineItem) FromStock() bool { return l.StockID != "" }

type JobCard struct {
	ID        inventory.JobCardID `json:"id"`
	Title     string              `json:"title"`
	AssetID   inventory.AssetID   `json:"asset_id,omitempty"`
	Date      time.Time           `json:"date"`
	Items     []LineItem          `json:"items"`
	LaborCost decimal.Decimal     `json:"labor_cost"`
	Notes     string              `json:"notes,omitempty"`
	Status    Status              `json:"status"`

	// CostingMethod is the policy the card was settled under. Empty for drafts.
	CostingMethod inventory.CostingPolicy `json:"costing_method,omitempty"`
	SettledAt     *time.Time              `json:"settled_at,omitempty"`
}

func (c *JobCard) IsCompleted() bool { return c.Status == StatusCompleted }

// PartsCost sums the line costs. For a draft these are provisional.
func (c *JobCard) PartsCost() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Items {
		total = total.Add(l.ActualCost)
	}
	return total
}

// Total is parts plus labor.
func (c *JobCard) Total() decimal.Decimal {
	return c.PartsCost().Add(c.LaborCost)
}

// StockIDs lists the stock items the card draws on, in line order.
func (c *JobCard) StockIDs() []inventory.StockID {
	var ids []inventory.StockID
	for _, l := range c.Items {
		if l.FromStock() {
			ids = append(ids, l.StockID)
		}
	}
	return ids
}

// StockQuantities aggregates requested quantity per stock item.
func (c *JobCard) StockQuantities() map[inventory.StockID]decimal.Decimal {
	out := make(map[inventory.StockID]decimal.Decimal)
	for _, l := range c.Items {
		if l.FromStock() {
			out[l.StockID] = out[l.StockID].Add(l.Quantity)
		}
	}
	return out
}

func (c *JobCard) Clone() *JobCard {
	cp := *c
	cp.Items = append([]LineItem(nil), c.Items...)
	if c.SettledAt != nil {
		at := *c.SettledAt
		cp.SettledAt = &at
	}
	return &cp
}

// =============================================================================
// ASSET
// =============================================================================

// Asset is a vehicle or machine job cards are raised against.
type Asset struct {
	ID           inventory.AssetID `json:"id"`
	Name         string            `json:"name"`
	Registration string            `json:"registration,omitempty"`
}

// UnknownAsset labels usage records whose asset cannot be resolved.
const UnknownAsset = "Unknown"
