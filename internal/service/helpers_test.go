package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/punchamoorthee/marketops/internal/catalog"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/notify"
	"github.com/punchamoorthee/marketops/internal/pricing"
)

type sentRequest struct {
	Action  string
	Key     string
	Payload any
}

// fakeBridge records calls. When gate is set, Send blocks until it is closed or ctx ends.
type fakeBridge struct {
	mu      sync.Mutex
	present bool
	resp    models.HostResponse
	err     error
	gate    chan struct{}
	entered chan struct{}
	sent    []sentRequest
}

func (f *fakeBridge) Present() bool { return f.present }

func (f *fakeBridge) Send(ctx context.Context, action, key string, payload any) (models.HostResponse, error) {
	if !f.present {
		return models.HostResponse{Success: true}, nil
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentRequest{Action: action, Key: key, Payload: payload})
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.HostResponse{}, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeBridge) calls() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest{}, f.sent...)
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testMarket() domain.MarketConfig {
	return domain.MarketConfig{
		ID:   "market_247",
		Name: "24/7",
		Categories: []domain.Category{
			{ID: "food", Name: "Food"},
			{ID: "drinks", Name: "Drinks"},
		},
		Items: []domain.MarketItem{
			{ID: "burger", Name: "Burger", Description: "Grilled", BasePrice: 25, Category: "food"},
			{ID: "water", Name: "Water", Description: "Spring water", BasePrice: 5, Category: "drinks"},
			{ID: "cola", Name: "Cola", Description: "Cold", BasePrice: 8, Category: "drinks"},
		},
	}
}

func otherMarket() domain.MarketConfig {
	return domain.MarketConfig{
		ID:         "pharmacy",
		Name:       "Pharmacy",
		Categories: []domain.Category{{ID: "medicine"}},
		Items:      []domain.MarketItem{{ID: "aspirin", BasePrice: 25, Category: "medicine"}},
	}
}

type fixture struct {
	session *Session
	bridge  *fakeBridge
	feed    *notify.Feed
}

func newFixture(t *testing.T, present bool, bal domain.PlayerBalance) *fixture {
	t.Helper()
	reg, err := catalog.NewRegistry(testMarket(), otherMarket())
	require.NoError(t, err)

	fb := &fakeBridge{present: present, resp: models.HostResponse{Success: true}}
	feed := notify.NewFeed(32, language.English)
	seq := 0
	s, err := NewSession(Options{
		Bridge:   fb,
		Notifier: feed,
		Catalog:  reg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:     rand.New(rand.NewSource(1)),
		Now:      func() time.Time { return testNow },
		NewKey: func() string {
			seq++
			return fmt.Sprintf("key-%d", seq)
		},
		Balance: bal,
	})
	require.NoError(t, err)
	return &fixture{session: s, bridge: fb, feed: feed}
}

// activate activates cfg and pins the daily discount to discountID.
func (f *fixture) activate(t *testing.T, cfg domain.MarketConfig, discountID string) {
	t.Helper()
	require.NoError(t, f.session.Activate(cfg))
	f.session.mu.Lock()
	f.session.discountItemID = discountID
	f.session.resolver = pricing.NewResolver(cfg, discountID)
	f.session.mu.Unlock()
}
