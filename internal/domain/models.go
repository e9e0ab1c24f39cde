package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCatalog is returned when a market configuration fails validation at load time.
var ErrInvalidCatalog = errors.New("invalid market catalog")

// DefaultMinPointWithdraw is the withdrawal threshold used when the host does not send one.
const DefaultMinPointWithdraw int64 = 500

// MaxItemPrice bounds a catalog base price.
const MaxItemPrice int64 = 1_000_000_000

// PaymentMethod selects which balance pays for a purchase.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentBank PaymentMethod = "bank"
)

// Valid reports whether m is one of the two supported currencies.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentBank
}

// MarketItem is a catalog entry. Prices are in the smallest currency unit.
type MarketItem struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	DetailedDescription string `json:"detailedDescription,omitempty"`
	UsageInfo           string `json:"usageInfo,omitempty"`
	BasePrice           int64  `json:"price"`
	Category            string `json:"category"`
	Image               string `json:"image"`
}

// Category groups items for display. The first category is the default selection.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// MarketOwnership identifies the player owning a market. Zero value means unowned.
type MarketOwnership struct {
	OwnerID   string `json:"ownerId,omitempty"`
	OwnerName string `json:"ownerName,omitempty"`
}

// MarketConfig is one storefront: its categories, items and current owner.
type MarketConfig struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	OwnerID    string       `json:"ownerId,omitempty"`
	OwnerName  string       `json:"ownerName,omitempty"`
	Categories []Category   `json:"categories"`
	Items      []MarketItem `json:"items"`
}

// Ownership returns the owner fields of the config.
func (c MarketConfig) Ownership() MarketOwnership {
	return MarketOwnership{OwnerID: c.OwnerID, OwnerName: c.OwnerName}
}

// Item looks up an item by id.
func (c MarketConfig) Item(id string) (MarketItem, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return MarketItem{}, false
}

// HasCategory reports whether id names one of the config's categories.
func (c MarketConfig) HasCategory(id string) bool {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return true
		}
	}
	return false
}

// DefaultCategory returns the first category id, or "" for an empty config.
func (c MarketConfig) DefaultCategory() string {
	if len(c.Categories) == 0 {
		return ""
	}
	return c.Categories[0].ID
}

// Validate checks the load-time invariants: unique ids, non-negative prices and
// item categories that reference a declared category.
func (c MarketConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: market id is empty", ErrInvalidCatalog)
	}

	categories := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.ID == "" {
			return fmt.Errorf("%w: market %s has a category without id", ErrInvalidCatalog, c.ID)
		}
		if _, dup := categories[cat.ID]; dup {
			return fmt.Errorf("%w: duplicate category %q", ErrInvalidCatalog, cat.ID)
		}
		categories[cat.ID] = struct{}{}
	}

	items := make(map[string]struct{}, len(c.Items))
	for _, it := range c.Items {
		if it.ID == "" {
			return fmt.Errorf("%w: market %s has an item without id", ErrInvalidCatalog, c.ID)
		}
		if _, dup := items[it.ID]; dup {
			return fmt.Errorf("%w: duplicate item %q", ErrInvalidCatalog, it.ID)
		}
		if it.BasePrice < 0 {
			return fmt.Errorf("%w: item %q has negative price %d", ErrInvalidCatalog, it.ID, it.BasePrice)
		}
		if it.BasePrice > MaxItemPrice {
			return fmt.Errorf("%w: item %q price %d exceeds %d", ErrInvalidCatalog, it.ID, it.BasePrice, MaxItemPrice)
		}
		if _, ok := categories[it.Category]; !ok {
			return fmt.Errorf("%w: item %q references unknown category %q", ErrInvalidCatalog, it.ID, it.Category)
		}
		items[it.ID] = struct{}{}
	}
	return nil
}

// CartEntry is one line of the cart. Quantity is always >= 1.
type CartEntry struct {
	ItemID   string `json:"itemId"`
	Quantity int64  `json:"quantity"`
}

// PlayerBalance holds the two currencies and the loyalty points of the player.
// No field is ever mutated below zero.
type PlayerBalance struct {
	Cash             int64 `json:"cash"`
	Bank             int64 `json:"bank"`
	Points           int64 `json:"points"`
	MinPointWithdraw int64 `json:"minPointWithdraw"`
}

// PurchaseLine is one {itemId, quantity} pair of a purchase request.
type PurchaseLine struct {
	ItemID   string `json:"itemId"`
	Quantity int64  `json:"quantity"`
}

// PurchaseRequest is built from the cart and sent to the host. It is not retained after resolution.
type PurchaseRequest struct {
	Items         []PurchaseLine `json:"items"`
	PaymentMethod PaymentMethod  `json:"paymentMethod"`
	TotalPrice    int64          `json:"totalPrice"`
}

// PurchaseResult is the outcome reported to the presentation layer.
type PurchaseResult struct {
	ID           string `json:"id"`
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	TotalPrice   int64  `json:"totalPrice"`
	PointsEarned int64  `json:"pointsEarned"`
	Demo         bool   `json:"demo"`
}

// DailySales is the per-item unit histogram for one calendar day.
type DailySales struct {
	Date  string           `json:"date"`
	Items map[string]int64 `json:"items"`
	Total int64            `json:"total"`
}

// Day returns the bucket date parsed in loc.
func (d DailySales) Day(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, d.Date, loc)
}

// DateLayout is the calendar-day key of sales buckets.
const DateLayout = "2006-01-02"
