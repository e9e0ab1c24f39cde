// Package sales records completed purchases into per-day unit histograms.
package sales

import (
	"sort"
	"time"

	"github.com/punchamoorthee/marketops/internal/domain"
)

// DefaultDays is the reporting window of History in calendar days.
const DefaultDays = 7

// Ledger accumulates daily buckets. Buckets are never pruned; the window is applied on read.
type Ledger struct {
	now     func() time.Time
	buckets map[string]*domain.DailySales
}

// New returns a ledger reading the current time from now. A nil now uses time.Now.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now, buckets: make(map[string]*domain.DailySales)}
}

// RecordSale adds quantity units of itemID to today's bucket.
func (l *Ledger) RecordSale(itemID string, quantity int64) {
	l.RecordSaleOn(itemID, quantity, l.now())
}

// RecordSaleOn adds quantity units of itemID to the bucket of date's calendar day.
func (l *Ledger) RecordSaleOn(itemID string, quantity int64, date time.Time) {
	if quantity <= 0 {
		return
	}
	key := date.Format(domain.DateLayout)
	b, ok := l.buckets[key]
	if !ok {
		b = &domain.DailySales{Date: key, Items: make(map[string]int64)}
		l.buckets[key] = b
	}
	b.Items[itemID] += quantity
	b.Total += quantity
}

// History returns copies of the buckets of the trailing days calendar days, today included,
// oldest first. A 7-day window covers today and the six days before it, whatever their length.
func (l *Ledger) History(days int) []domain.DailySales {
	if days < 1 {
		return []domain.DailySales{}
	}
	now := l.now()
	cutoff := startOfDay(now).AddDate(0, 0, -(days - 1))

	out := make([]domain.DailySales, 0, len(l.buckets))
	for _, b := range l.buckets {
		day, err := b.Day(now.Location())
		if err != nil || day.Before(cutoff) {
			continue
		}
		out = append(out, clone(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Len is the number of stored buckets, including those outside any window.
func (l *Ledger) Len() int {
	return len(l.buckets)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func clone(b *domain.DailySales) domain.DailySales {
	items := make(map[string]int64, len(b.Items))
	for k, v := range b.Items {
		items[k] = v
	}
	return domain.DailySales{Date: b.Date, Items: items, Total: b.Total}
}
