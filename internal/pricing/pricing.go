// Package pricing resolves effective item prices and the loyalty points a purchase earns.
//
// All arithmetic is integer-only so the same base price always produces the same
// discounted price and the same points, whether the engine runs against a host or in demo mode.
package pricing

import (
	"math/rand"

	"github.com/punchamoorthee/marketops/internal/domain"
)

// Daily discount is 5% off, points are 5% of the paid total. Both floor.
const (
	DiscountPercent = 5
	PointsPercent   = 5
)

// EffectivePrice returns the price of item given the active daily-discount item id.
func EffectivePrice(item domain.MarketItem, dailyDiscountItemID string) int64 {
	if dailyDiscountItemID != "" && item.ID == dailyDiscountItemID {
		return Discounted(item.BasePrice)
	}
	return item.BasePrice
}

// Discounted applies the daily discount to a base price: floor(base * 0.95).
func Discounted(base int64) int64 {
	return base * (100 - DiscountPercent) / 100
}

// PointsEarned returns floor(total * 0.05).
func PointsEarned(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return total * PointsPercent / 100
}

// RollDiscount picks one item uniformly at random. It returns "" when there are no items.
func RollDiscount(rng *rand.Rand, items []domain.MarketItem) string {
	if len(items) == 0 {
		return ""
	}
	return items[rng.Intn(len(items))].ID
}

// Resolver maps an item id to its effective price. ok is false when the item is
// not in the active catalog.
type Resolver func(itemID string) (price int64, ok bool)

// NewResolver builds a Resolver over cfg with the given discount selection.
func NewResolver(cfg domain.MarketConfig, dailyDiscountItemID string) Resolver {
	index := make(map[string]domain.MarketItem, len(cfg.Items))
	for _, it := range cfg.Items {
		index[it.ID] = it
	}
	return func(itemID string) (int64, bool) {
		it, ok := index[itemID]
		if !ok {
			return 0, false
		}
		return EffectivePrice(it, dailyDiscountItemID), true
	}
}
