// Package cart holds the player's pending (item, quantity) selections.
package cart

import (
	"errors"
	"math"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/pricing"
)

// MaxQuantity bounds the quantity of a single entry.
const MaxQuantity int64 = 9999

var (
	// ErrInvalidQuantity is returned for non-positive quantities on add. The ledger is left unchanged.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrQuantityLimit   = errors.New("quantity exceeds the per-item limit")
	ErrTotalOverflow   = errors.New("cart total overflows")
)

// Ledger keeps at most one entry per item id, in insertion order.
// It has a single owner and is not safe for concurrent use.
type Ledger struct {
	order   []string
	entries map[string]int64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]int64)}
}

// AddItem increments the entry for itemID by quantity, inserting it if absent.
// An increment past MaxQuantity fails with ErrQuantityLimit and changes nothing.
func (l *Ledger) AddItem(itemID string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > MaxQuantity-l.entries[itemID] {
		return ErrQuantityLimit
	}
	if _, ok := l.entries[itemID]; !ok {
		l.order = append(l.order, itemID)
	}
	l.entries[itemID] += quantity
	return nil
}

// RemoveItem deletes the entry if present.
func (l *Ledger) RemoveItem(itemID string) {
	if _, ok := l.entries[itemID]; !ok {
		return
	}
	delete(l.entries, itemID)
	for i, id := range l.order {
		if id == itemID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// UpdateQuantity overwrites an existing entry. A quantity <= 0 removes it.
// It never creates an entry. Quantities above MaxQuantity are rejected.
func (l *Ledger) UpdateQuantity(itemID string, quantity int64) error {
	if quantity <= 0 {
		l.RemoveItem(itemID)
		return nil
	}
	if quantity > MaxQuantity {
		return ErrQuantityLimit
	}
	if _, ok := l.entries[itemID]; !ok {
		return nil
	}
	l.entries[itemID] = quantity
	return nil
}

// Subtract lowers each line's entry by its quantity, dropping entries that reach zero.
// Entries added after the lines were built are kept.
func (l *Ledger) Subtract(lines []domain.PurchaseLine) {
	for _, line := range lines {
		q, ok := l.entries[line.ItemID]
		if !ok {
			continue
		}
		if q <= line.Quantity {
			l.RemoveItem(line.ItemID)
			continue
		}
		l.entries[line.ItemID] = q - line.Quantity
	}
}

// Clear drops every entry.
func (l *Ledger) Clear() {
	l.order = nil
	l.entries = make(map[string]int64)
}

// IsEmpty reports whether the ledger has no entries.
func (l *Ledger) IsEmpty() bool {
	return len(l.entries) == 0
}

// Quantity returns the quantity held for itemID, 0 if none.
func (l *Ledger) Quantity(itemID string) int64 {
	return l.entries[itemID]
}

// Entries returns a copy of the entries in insertion order.
func (l *Ledger) Entries() []domain.CartEntry {
	out := make([]domain.CartEntry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, domain.CartEntry{ItemID: id, Quantity: l.entries[id]})
	}
	return out
}

// TotalItems is the sum of all quantities.
func (l *Ledger) TotalItems() int64 {
	var n int64
	for _, q := range l.entries {
		n += q
	}
	return n
}

// TotalPrice sums price*quantity. Entries the resolver does not know contribute zero.
// A total that does not fit in int64 is reported as math.MaxInt64.
func (l *Ledger) TotalPrice(resolve pricing.Resolver) int64 {
	_, total, err := l.Lines(resolve)
	if err != nil {
		return math.MaxInt64
	}
	return total
}

// Lines builds purchase lines for the entries the resolver knows, with their total.
func (l *Ledger) Lines(resolve pricing.Resolver) ([]domain.PurchaseLine, int64, error) {
	lines := make([]domain.PurchaseLine, 0, len(l.order))
	var total int64
	for _, id := range l.order {
		price, ok := resolve(id)
		if !ok {
			continue
		}
		q := l.entries[id]
		next, ok := addProduct(total, price, q)
		if !ok {
			return nil, 0, ErrTotalOverflow
		}
		lines = append(lines, domain.PurchaseLine{ItemID: id, Quantity: q})
		total = next
	}
	return lines, total, nil
}

// addProduct returns total + price*q for non-negative operands, ok false on overflow.
func addProduct(total, price, q int64) (int64, bool) {
	if price < 0 || q < 0 {
		return 0, false
	}
	if q != 0 && price > (math.MaxInt64-total)/q {
		return 0, false
	}
	return total + price*q, true
}
