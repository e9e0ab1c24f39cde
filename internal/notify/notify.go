// Package notify collects transient user-facing notifications emitted by the engine.
package notify

import (
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Notification is one toast for the presentation layer.
type Notification struct {
	ID      int64     `json:"id"`
	Kind    Kind      `json:"type"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Feed is a bounded FIFO of notifications. It is safe for concurrent use because delayed
// notifications are appended from timer goroutines.
type Feed struct {
	mu      sync.Mutex
	seq     int64
	limit   int
	items   []Notification
	now     func() time.Time
	printer *message.Printer
}

// NewFeed returns a feed keeping at most limit pending notifications, formatting numbers for tag.
func NewFeed(limit int, tag language.Tag) *Feed {
	if limit <= 0 {
		limit = 64
	}
	return &Feed{limit: limit, now: time.Now, printer: message.NewPrinter(tag)}
}

func (f *Feed) Success(msg string) { f.push(KindSuccess, msg) }
func (f *Feed) Error(msg string)   { f.push(KindError, msg) }

// SuccessAfter emits msg after delay. A non-positive delay emits immediately.
func (f *Feed) SuccessAfter(delay time.Duration, msg string) {
	if delay <= 0 {
		f.Success(msg)
		return
	}
	time.AfterFunc(delay, func() { f.Success(msg) })
}

// Sprintf formats with the feed's locale (grouped thousands for %d).
func (f *Feed) Sprintf(format string, args ...any) string {
	return f.printer.Sprintf(format, args...)
}

func (f *Feed) push(kind Kind, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.items = append(f.items, Notification{ID: f.seq, Kind: kind, Message: msg, At: f.now()})
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append([]Notification(nil), f.items[over:]...)
	}
}

// Drain returns pending notifications, oldest first, and empties the feed.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.items
	f.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Pending returns a copy of pending notifications without draining them.
func (f *Feed) Pending() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification{}, f.items...)
}
