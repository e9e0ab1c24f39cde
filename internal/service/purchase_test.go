package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/marketops/internal/bridge"
	"github.com/punchamoorthee/marketops/internal/cart"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/economy"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/notify"
)

func TestPurchaseDemoEndToEnd(t *testing.T) {
	f := newFixture(t, false, domain.PlayerBalance{Cash: 100, MinPointWithdraw: 500})
	f.activate(t, testMarket(), "")

	require.NoError(t, f.session.AddToCart("burger", 2))
	res, err := f.session.Purchase(context.Background(), PurchaseCommand{Method: domain.PaymentCash})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Demo)
	assert.Equal(t, int64(50), res.TotalPrice)
	assert.Equal(t, int64(2), res.PointsEarned)

	bal := f.session.Balance()
	assert.Equal(t, int64(50), bal.Cash)
	assert.Equal(t, int64(2), bal.Points)

	snap := f.session.Snapshot()
	assert.Empty(t, snap.Cart)
	assert.Equal(t, "idle", snap.PurchaseState)

	hist := f.session.SalesHistory(7)
	require.Len(t, hist, 1)
	assert.Equal(t, "2026-05-01", hist[0].Date)
	assert.Equal(t, map[string]int64{"burger": 2}, hist[0].Items)
	assert.Equal(t, int64(2), hist[0].Total)

	notes := f.feed.Drain()
	require.Len(t, notes, 2)
	assert.Equal(t, "Purchase complete! (-$50)", notes[0].Message)
	assert.Equal(t, "+2 points earned!", notes[1].Message)
	assert.Empty(t, f.bridge.calls())
}

func TestPurchaseAppliesDailyDiscount(t *testing.T) {
	f := newFixture(t, false, domain.PlayerBalance{Cash: 100})
	f.activate(t, testMarket(), "burger")

	require.NoError(t, f.session.AddToCart("burger", 1))
	assert.Equal(t, int64(23), f.session.Snapshot().TotalPrice)

	res, err := f.session.Purchase(context.Background(), PurchaseCommand{})
	require.NoError(t, err)
	assert.Equal(t, int64(23), res.TotalPrice)
	assert.Equal(t, int64(1), res.PointsEarned)
	assert.Equal(t, int64(77), f.session.Balance().Cash)
}

func TestPurchaseInsufficientFundsNeverContactsHost(t *testing.T) {
	for _, present := range []bool{false, true} {
		f := newFixture(t, present, domain.PlayerBalance{Cash: 10, Bank: 1000})
		f.activate(t, testMarket(), "")
		require.NoError(t, f.session.AddToCart("burger", 1))

		res, err := f.session.Purchase(context.Background(), PurchaseCommand{Method: domain.PaymentCash})
		assert.ErrorIs(t, err, economy.ErrInsufficientFunds)
		assert.False(t, res.Success)

		assert.Empty(t, f.bridge.calls())
		assert.Equal(t, int64(10), f.session.Balance().Cash)
		assert.Equal(t, int64(1), f.session.Snapshot().TotalItems)
		notes := f.feed.Drain()
		require.Len(t, notes, 1)
		assert.Equal(t, notify.KindError, notes[0].Kind)
	}
}

func TestPurchaseEmptyCart(t *testing.T) {
	f := newFixture(t, false, domain.PlayerBalance{Cash: 10})
	f.activate(t, testMarket(), "")
	_, err := f.session.Purchase(context.Background(), PurchaseCommand{})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestPurchaseLiveCommitsAfterHostConfirms(t *testing.T) {
	f := newFixture(t, true, domain.PlayerBalance{Cash: 0, Bank: 1000})
	f.activate(t, testMarket(), "")
	require.NoError(t, f.session.SetPaymentMethod(domain.PaymentBank))
	require.NoError(t, f.session.AddToCart("water", 4))
	require.NoError(t, f.session.AddToCart("cola", 1))

	pts := int64(999)
	f.bridge.resp = models.HostResponse{Success: true, Points: &pts}

	res, err := f.session.Purchase(context.Background(), PurchaseCommand{Key: "p-1"})
	require.NoError(t, err)
	assert.False(t, res.Demo)
	assert.Equal(t, int64(28), res.TotalPrice)
	// Host-echoed points are ignored.
	assert.Equal(t, int64(1), res.PointsEarned)
	assert.Equal(t, int64(972), f.session.Balance().Bank)

	calls := f.bridge.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.ActionPurchase, calls[0].Action)
	assert.Equal(t, "p-1", calls[0].Key)
	assert.Equal(t, models.PurchaseBody{
		Items: []domain.PurchaseLine{
			{ItemID: "water", Quantity: 4},
			{ItemID: "cola", Quantity: 1},
		},
		PaymentMethod: domain.PaymentBank,
		TotalPrice:    28,
	}, calls[0].Payload)
}

func TestPurchaseHostRejectionLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, true, domain.PlayerBalance{Cash: 100})
	f.activate(t, testMarket(), "")
	require.NoError(t, f.session.AddToCart("burger", 2))
	f.bridge.resp = models.HostResponse{Success: false, Message: "Inventory full"}

	res, err := f.session.Purchase(context.Background(), PurchaseCommand{})
	assert.ErrorIs(t, err, ErrHostRejected)
	assert.Equal(t, "Inventory full", res.Message)
	assert.Equal(t, int64(100), f.session.Balance().Cash)
	assert.Equal(t, int64(2), f.session.Snapshot().TotalItems)
	assert.Empty(t, f.session.SalesHistory(7))

	notes := f.feed.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "Inventory full", notes[0].Message)
}

func TestPurchaseHostUnavailable(t *testing.T) {
	f := newFixture(t, true, domain.PlayerBalance{Cash: 100})
	f.activate(t, testMarket(), "")
	require.NoError(t, f.session.AddToCart("burger", 1))
	f.bridge.err = bridge.ErrHostUnavailable

	_, err := f.session.Purchase(context.Background(), PurchaseCommand{Key: "p-9"})
	assert.ErrorIs(t, err, bridge.ErrHostUnavailable)
	assert.Equal(t, int64(100), f.session.Balance().Cash)

	// The key was released, so retrying it reaches the host again.
	f.bridge.err = nil
	res, err := f.session.Purchase(context.Background(), PurchaseCommand{Key: "p-9"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, f.bridge.calls(), 2)
}

func TestPurchaseReplayDoesNotChargeTwice(t *testing.T) {
	f := newFixture(t, true, domain.PlayerBalance{Cash: 100})
	f.activate(t, testMarket(), "")
	require.NoError(t, f.session.AddToCart("burger", 2))

	first, err := f.session.Purchase(context.Background(), PurchaseCommand{Key: "same", RequestHash: "h"})
	require.NoError(t, err)

	second, err := f.session.Purchase(context.Background(), PurchaseCommand{Key: "same", RequestHash: "h"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(50), f.session.Balance().Cash)
	assert.Len(t, f.bridge.calls(), 1)

	_, err = f.session.Purchase(context.Background(), PurchaseCommand{Key: "same", RequestHash: "other"})
	assert.ErrorIs(t, err, ErrIdempotencyMismatch)
}

func TestSecondPurchaseWhileAwaitingHostIsRejected(t *testing.T) {
	f := newFixture(t, true, domain.PlayerBalance{Cash: 1000})
	f.activate(t, testMarket(), "")
	require.NoError(t, f.session.AddToCart("burger", 1))

	f.bridge.gate = make(chan struct{})
	f.bridge.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Purchase(context.Background(), PurchaseCommand{Key: "first"})
		done <- err
	}()

	<-f.bridge.entered
	assert.Equal(t, StateAwaitingHost, f.session.PurchaseState())

	_, err := f.session.Purchase(context.Background(), PurchaseCommand{Key: "second"})
	assert.ErrorIs(t, err, ErrPurchaseInProgress)

	_, err = f.session.Purchase(context.Background(), PurchaseCommand{Key: "first"})
	assert.ErrorIs(t, err, ErrIdempotencyConflict)

	close(f.bridge.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, f.session.PurchaseState())
	assert.Equal(t, int64(975), f.session.Balance().Cash)
	assert.Len(t, f.bridge.calls(), 1)
}

func TestPurchaseSkipsItemsMissingFromActiveMarket(t *testing.T) {
	f := newFixture(t, false, domain.PlayerBalance{Cash: 100})
	f.activate(t, testMarket(), "")
	require.NoError(t, f.session.AddToCart("burger", 1))

	f.activate(t, otherMarket(), "")
	require.NoError(t, f.session.AddToCart("aspirin", 1))
	assert.Equal(t, int64(2), f.session.Snapshot().TotalItems)
	assert.Equal(t, int64(25), f.session.Snapshot().TotalPrice)

	res, err := f.session.Purchase(context.Background(), PurchaseCommand{})
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.TotalPrice)
	assert.Equal(t, map[string]int64{"aspirin": 1}, f.session.SalesHistory(7)[0].Items)
}

func TestHugeQuantitiesNeverReachPurchase(t *testing.T) {
	f := newFixture(t, false, domain.PlayerBalance{Cash: 100})
	f.activate(t, testMarket(), "")

	assert.ErrorIs(t, f.session.AddToCart("burger", 1<<62), cart.ErrQuantityLimit)
	require.NoError(t, f.session.AddToCart("burger", cart.MaxQuantity))
	assert.ErrorIs(t, f.session.AddToCart("burger", cart.MaxQuantity), cart.ErrQuantityLimit)
	assert.ErrorIs(t, f.session.UpdateCartQuantity("burger", 1<<62), cart.ErrQuantityLimit)

	snap := f.session.Snapshot()
	assert.Equal(t, cart.MaxQuantity, snap.TotalItems)
	assert.Equal(t, 25*cart.MaxQuantity, snap.TotalPrice)

	res, err := f.session.Purchase(context.Background(), PurchaseCommand{Method: domain.PaymentCash})
	assert.ErrorIs(t, err, economy.ErrInsufficientFunds)
	assert.False(t, res.Success)
	assert.Equal(t, int64(100), f.session.Balance().Cash)
	assert.Equal(t, cart.MaxQuantity, f.session.Snapshot().TotalItems)
}

func TestItemsAddedWhileAwaitingHostStayInCart(t *testing.T) {
	f := newFixture(t, true, domain.PlayerBalance{Cash: 1000})
	f.activate(t, testMarket(), "")
	require.NoError(t, f.session.AddToCart("burger", 1))

	f.bridge.gate = make(chan struct{})
	f.bridge.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Purchase(context.Background(), PurchaseCommand{Key: "gated"})
		done <- err
	}()

	<-f.bridge.entered
	require.NoError(t, f.session.AddToCart("water", 3))
	require.NoError(t, f.session.AddToCart("burger", 2))
	close(f.bridge.gate)
	require.NoError(t, <-done)

	assert.Equal(t, int64(975), f.session.Balance().Cash)
	snap := f.session.Snapshot()
	require.Len(t, snap.Cart, 2)
	assert.Equal(t, "burger", snap.Cart[0].ItemID)
	assert.Equal(t, int64(2), snap.Cart[0].Quantity)
	assert.Equal(t, "water", snap.Cart[1].ItemID)
	assert.Equal(t, int64(3), snap.Cart[1].Quantity)
	assert.Equal(t, map[string]int64{"burger": 1}, f.session.SalesHistory(7)[0].Items)
}

func TestStrictApplyLeavesStateOnFailedDebit(t *testing.T) {
	f := newFixture(t, false, domain.PlayerBalance{Cash: 10})
	f.activate(t, testMarket(), "")
	require.NoError(t, f.session.AddToCart("burger", 1))
	req := domain.PurchaseRequest{
		Items:         []domain.PurchaseLine{{ItemID: "burger", Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
		TotalPrice:    25,
	}

	f.session.mu.Lock()
	err := f.session.applyLocked("demo-1", req, true)
	f.session.mu.Unlock()
	assert.ErrorIs(t, err, economy.ErrInsufficientFunds)
	assert.Equal(t, int64(10), f.session.Balance().Cash)
	assert.Equal(t, int64(0), f.session.Balance().Points)
	assert.Equal(t, int64(1), f.session.Snapshot().TotalItems)
	assert.Empty(t, f.session.SalesHistory(7))

	// After host confirmation the commit goes through and the host balance wins later.
	f.session.mu.Lock()
	err = f.session.applyLocked("live-1", req, false)
	f.session.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.session.Balance().Cash)
	assert.Equal(t, int64(1), f.session.Balance().Points)
	assert.Equal(t, int64(0), f.session.Snapshot().TotalItems)
}

func TestReusedKeyWithDifferentCartIsMismatch(t *testing.T) {
	f := newFixture(t, false, domain.PlayerBalance{Cash: 100})
	f.activate(t, testMarket(), "")

	require.NoError(t, f.session.AddToCart("burger", 1))
	_, err := f.session.Purchase(context.Background(), PurchaseCommand{Key: "k"})
	require.NoError(t, err)

	require.NoError(t, f.session.AddToCart("water", 2))
	_, err = f.session.Purchase(context.Background(), PurchaseCommand{Key: "k"})
	assert.ErrorIs(t, err, ErrIdempotencyMismatch)
	assert.Equal(t, int64(75), f.session.Balance().Cash)
	assert.Equal(t, int64(2), f.session.Snapshot().TotalItems)
}
