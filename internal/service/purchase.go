package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/economy"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/pricing"
)

var (
	purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_purchases_total",
		Help: "Purchases resolved by the engine, labeled by outcome and mode",
	}, []string{"outcome", "mode"})

	pointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_points_awarded_total",
		Help: "Loyalty points credited by committed purchases",
	})
)

// PurchaseState is the stage of the in-flight purchase.
type PurchaseState int

const (
	StateIdle PurchaseState = iota
	StateValidating
	StateAwaitingHost
	StateCommitted
	StateRejected
)

func (s PurchaseState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateAwaitingHost:
		return "awaiting_host"
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("PurchaseState(%d)", int(s))
}

// PurchaseCommand asks for the current cart to be bought.
// An empty Method uses the session's selected payment method. An empty Key gets a fresh one.
type PurchaseCommand struct {
	Method      domain.PaymentMethod
	Key         string
	RequestHash string
}

// PurchaseState returns the stage of the purchase in flight, StateIdle if none.
func (s *Session) PurchaseState() PurchaseState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Purchase runs Validating -> AwaitingHost -> Committed | Rejected for the current cart.
//
// Affordability is checked locally before the host is contacted. Local state changes only after
// the host confirms, or right away in demo mode. A second purchase while one is in flight fails
// with ErrPurchaseInProgress. Replaying a completed key returns the stored result.
func (s *Session) Purchase(ctx context.Context, cmd PurchaseCommand) (domain.PurchaseResult, error) {
	if cmd.Key == "" {
		cmd.Key = s.newKey()
	}
	if cmd.RequestHash == "" {
		cmd.RequestHash = s.purchaseHash(cmd.Method)
	}

	res, replayed, err := idempotent(s.idem, models.ActionPurchase, cmd.Key, cmd.RequestHash, func() (domain.PurchaseResult, error) {
		return s.purchase(ctx, cmd)
	})
	if replayed {
		s.log.Info("purchase replayed", "purchase_id", cmd.Key)
	}
	return res, err
}

// purchaseHash fingerprints the payment method together with the current cart.
func (s *Session) purchaseHash(method domain.PaymentMethod) string {
	s.mu.Lock()
	if method == "" {
		method = s.paymentMethod
	}
	entries := s.cart.Entries()
	s.mu.Unlock()

	b, _ := json.Marshal(struct {
		Method domain.PaymentMethod `json:"paymentMethod"`
		Items  []domain.CartEntry   `json:"items"`
	}{method, entries})
	return HashRequest(b)
}

func (s *Session) purchase(ctx context.Context, cmd PurchaseCommand) (domain.PurchaseResult, error) {
	// 1. Single in-flight guard
	if !s.purchaseSlot.TryAcquire(1) {
		return domain.PurchaseResult{ID: cmd.Key}, ErrPurchaseInProgress
	}
	defer s.purchaseSlot.Release(1)

	mode := "live"
	if s.DemoMode() {
		mode = "demo"
	}

	// 2. Validating
	s.mu.Lock()
	s.setStateLocked(StateValidating, cmd.Key)
	method := cmd.Method
	if method == "" {
		method = s.paymentMethod
	}
	if !method.Valid() {
		s.setStateLocked(StateIdle, cmd.Key)
		s.mu.Unlock()
		return domain.PurchaseResult{ID: cmd.Key}, fmt.Errorf("%w: %q", economy.ErrInvalidPaymentMethod, method)
	}
	lines, total, err := s.cart.Lines(s.resolver)
	if err != nil {
		s.setStateLocked(StateIdle, cmd.Key)
		s.mu.Unlock()
		return domain.PurchaseResult{ID: cmd.Key}, err
	}
	if len(lines) == 0 {
		s.setStateLocked(StateIdle, cmd.Key)
		s.mu.Unlock()
		return domain.PurchaseResult{ID: cmd.Key}, ErrEmptyCart
	}
	if !s.account.CanAfford(total, method) {
		s.mu.Unlock()
		return s.reject(cmd.Key, mode, total, "Insufficient balance!", economy.ErrInsufficientFunds)
	}
	req := domain.PurchaseRequest{Items: lines, PaymentMethod: method, TotalPrice: total}
	s.log.Info("purchase validated",
		"purchase_id", cmd.Key, "total", total, "method", method, "lines", len(lines), "mode", mode)

	// Demo mode commits under the validation lock so nothing can move the balance in between.
	if mode == "demo" {
		err := s.applyLocked(cmd.Key, req, true)
		s.mu.Unlock()
		if err != nil {
			return s.reject(cmd.Key, mode, total, "Insufficient balance!", err)
		}
		return s.committed(cmd.Key, mode, req), nil
	}
	s.setStateLocked(StateAwaitingHost, cmd.Key)
	s.mu.Unlock()

	// 3. AwaitingHost
	resp, err := s.bridge.Send(ctx, models.ActionPurchase, cmd.Key, models.PurchaseBody{
		Items:         req.Items,
		PaymentMethod: req.PaymentMethod,
		TotalPrice:    req.TotalPrice,
	})
	if err != nil {
		return s.reject(cmd.Key, mode, total, "Purchase failed!", err)
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "Purchase failed!"
		}
		return s.reject(cmd.Key, mode, total, msg, fmt.Errorf("%w: %s", ErrHostRejected, msg))
	}

	// 4. Committed
	s.mu.Lock()
	_ = s.applyLocked(cmd.Key, req, false)
	s.mu.Unlock()
	return s.committed(cmd.Key, mode, req), nil
}

// applyLocked moves req into the account, the sales ledger and out of the cart.
// With strict set a failed debit aborts before anything changes. Otherwise the host has
// already charged, so the failure is logged and its next updateBalance carries the real figure.
// Only the purchased quantities leave the cart.
func (s *Session) applyLocked(key string, req domain.PurchaseRequest, strict bool) error {
	if err := s.account.Debit(req.TotalPrice, req.PaymentMethod); err != nil {
		if strict {
			return err
		}
		s.log.Warn("local debit skipped after host confirmation",
			"purchase_id", key, "total", req.TotalPrice, "method", req.PaymentMethod, "error", err)
	}
	_ = s.account.CreditPoints(pricing.PointsEarned(req.TotalPrice))
	for _, line := range req.Items {
		s.sales.RecordSale(line.ItemID, line.Quantity)
	}
	s.cart.Subtract(req.Items)
	s.setStateLocked(StateCommitted, key)
	s.setStateLocked(StateIdle, key)
	return nil
}

func (s *Session) committed(key, mode string, req domain.PurchaseRequest) domain.PurchaseResult {
	earned := pricing.PointsEarned(req.TotalPrice)

	purchasesTotal.WithLabelValues("committed", mode).Inc()
	pointsAwarded.Add(float64(earned))

	s.notes.Success(s.notes.Sprintf("Purchase complete! (-$%d)", req.TotalPrice))
	if earned > 0 {
		s.notes.SuccessAfter(s.delay, s.notes.Sprintf("+%d points earned!", earned))
	}

	return domain.PurchaseResult{
		ID:           key,
		Success:      true,
		TotalPrice:   req.TotalPrice,
		PointsEarned: earned,
		Demo:         mode == "demo",
	}
}

func (s *Session) reject(key, mode string, total int64, msg string, cause error) (domain.PurchaseResult, error) {
	s.mu.Lock()
	s.setStateLocked(StateRejected, key)
	s.setStateLocked(StateIdle, key)
	s.mu.Unlock()

	outcome := "rejected"
	if errors.Is(cause, economy.ErrInsufficientFunds) {
		outcome = "insufficient_funds"
	}
	purchasesTotal.WithLabelValues(outcome, mode).Inc()
	s.log.Warn("purchase rejected", "purchase_id", key, "total", total, "error", cause)

	s.notes.Error(msg)
	return domain.PurchaseResult{ID: key, Success: false, Message: msg, TotalPrice: total, Demo: mode == "demo"}, cause
}

func (s *Session) setStateLocked(next PurchaseState, key string) {
	if s.state == next {
		return
	}
	s.log.Debug("purchase state", "purchase_id", key, "from", s.state.String(), "to", next.String())
	s.state = next
}
