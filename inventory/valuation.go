package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultLowStockThreshold flags items with fewer than five units on hand.
var DefaultLowStockThreshold = decimal.NewFromInt(5)

// Valuation is the value of all stock on hand at average cost.
func Valuation(items []*StockItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Value())
	}
	return total
}

// TotalUnits sums the quantity on hand across items.
func TotalUnits(items []*StockItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.TotalQuantity)
	}
	return total
}

// LowStock returns the items holding less than threshold, lowest first.
func LowStock(items []*StockItem, threshold decimal.Decimal) []*StockItem {
	var low []*StockItem
	for _, it := range items {
		if it.TotalQuantity.LessThan(threshold) {
			low = append(low, it)
		}
	}
	sort.SliceStable(low, func(i, j int) bool {
		return low[i].TotalQuantity.LessThan(low[j].TotalQuantity)
	})
	return low
}
