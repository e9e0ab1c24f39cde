// Package hostsim is a reference host for the market engine. It keeps authoritative wallets
// and market ownership in a store, answers the engine's bridge requests, and can push
// host-initiated messages (market open, wallet adjustments, close) back to the engine.
package hostsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/marketops/internal/catalog"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/store"
)

var ErrNegativeBalance = errors.New("balance fields must not be negative")

var opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hostsim_operations_total",
	Help: "Host operations handled, labeled by action and status",
}, []string{"action", "status"})

// Service answers bridge requests against a store.
type Service struct {
	store         store.Store
	catalog       *catalog.Registry
	push          *Pusher
	log           *slog.Logger
	defaultMarket string
	minWithdraw   int64

	mu     sync.Mutex
	active map[string]string // player id -> open market id
}

// NewService builds a host over st. minWithdraw is the points withdrawal threshold; non-positive uses the default.
func NewService(st store.Store, reg *catalog.Registry, push *Pusher, defaultMarket string, minWithdraw int64, logger *slog.Logger) *Service {
	if minWithdraw <= 0 {
		minWithdraw = domain.DefaultMinPointWithdraw
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         st,
		catalog:       reg,
		push:          push,
		log:           logger,
		defaultMarket: defaultMarket,
		minWithdraw:   minWithdraw,
		active:        make(map[string]string),
	}
}

// Outcome is a host answer plus the wallet after the operation.
type Outcome struct {
	Response models.HostResponse
	Wallet   models.Wallet
	Replayed bool
}

func (s *Service) Purchase(ctx context.Context, playerID, key, reqHash string, body models.PurchaseBody) (Outcome, error) {
	rec, replay, err := s.store.Purchase(ctx, playerID, body, key, reqHash)
	return s.finish(models.ActionPurchase, key, rec, replay, err)
}

func (s *Service) WithdrawPoints(ctx context.Context, playerID, key, reqHash string, body models.WithdrawBody) (Outcome, error) {
	rec, replay, err := s.store.WithdrawPoints(ctx, playerID, body.Amount, s.minWithdraw, key, reqHash)
	return s.finish(models.ActionWithdrawPoints, key, rec, replay, err)
}

func (s *Service) TransferMarket(ctx context.Context, playerID, key, reqHash string, body models.TransferBody) (Outcome, error) {
	rec, replay, err := s.store.TransferMarket(ctx, playerID, s.ActiveMarket(playerID), body, key, reqHash)
	return s.finish(models.ActionTransferMarket, key, rec, replay, err)
}

// CloseMarket forgets the player's open market.
func (s *Service) CloseMarket(playerID string) Outcome {
	s.mu.Lock()
	delete(s.active, playerID)
	s.mu.Unlock()
	opsTotal.WithLabelValues(models.ActionCloseMarket, "ok").Inc()
	return Outcome{Response: models.HostResponse{Success: true}}
}

func (s *Service) finish(action, key string, rec *store.Receipt, replay *models.IdempotencyRecord, err error) (Outcome, error) {
	if err != nil {
		opsTotal.WithLabelValues(action, "error").Inc()
		s.log.Warn("host operation failed", "action", action, "idempotency_key", key, "error", err)
		return Outcome{}, err
	}
	replayed := replay != nil
	if replayed {
		var stored store.Receipt
		if err := json.Unmarshal(replay.ResponseBody, &stored); err != nil {
			return Outcome{}, fmt.Errorf("decode stored response: %w", err)
		}
		rec = &stored
		opsTotal.WithLabelValues(action, "replayed").Inc()
	} else {
		opsTotal.WithLabelValues(action, "ok").Inc()
	}

	resp := models.HostResponse{Success: true}
	if action == models.ActionPurchase {
		pts := rec.Points
		resp.Points = &pts
	}
	s.log.Info("host operation committed",
		"action", action, "idempotency_key", key, "player_id", rec.Wallet.PlayerID, "replayed", replayed)
	return Outcome{Response: resp, Wallet: rec.Wallet, Replayed: replayed}, nil
}

// ActiveMarket is the market the player has open, or the default one.
func (s *Service) ActiveMarket(playerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.active[playerID]; ok {
		return id
	}
	return s.defaultMarket
}

// OpenMarket opens marketID for the player and pushes the catalog, owner and wallet to the engine.
func (s *Service) OpenMarket(ctx context.Context, playerID, marketID string) (models.OpenMarket, error) {
	cfg, err := s.catalog.Get(marketID)
	if err != nil {
		return models.OpenMarket{}, err
	}
	w, err := s.store.GetWallet(ctx, playerID)
	if err != nil {
		return models.OpenMarket{}, err
	}
	owner, err := s.store.GetOwner(ctx, marketID)
	if err != nil {
		return models.OpenMarket{}, err
	}

	msg := models.OpenMarket{
		MarketID:   cfg.ID,
		Name:       cfg.Name,
		Categories: cfg.Categories,
		Items:      cfg.Items,
		Balance:    s.balanceOf(w),
	}
	if owner != nil {
		msg.OwnerID, msg.OwnerName = &owner.OwnerID, &owner.OwnerName
	}

	s.mu.Lock()
	s.active[playerID] = marketID
	s.mu.Unlock()

	opsTotal.WithLabelValues("openMarket", "ok").Inc()
	if err := s.push.Push(ctx, msg); err != nil {
		s.log.Warn("openMarket push failed", "player_id", playerID, "market_id", marketID, "error", err)
	}
	return msg, nil
}

// AdjustWallet overwrites a wallet, creating it if needed, and pushes the new balance.
func (s *Service) AdjustWallet(ctx context.Context, w models.Wallet) (*models.Wallet, error) {
	if w.Cash < 0 || w.Bank < 0 || w.Points < 0 {
		return nil, ErrNegativeBalance
	}
	if err := s.store.EnsureWallet(ctx, w); err != nil {
		return nil, err
	}
	if err := s.store.SetWallet(ctx, w); err != nil {
		return nil, err
	}
	opsTotal.WithLabelValues("adjustWallet", "ok").Inc()
	if err := s.push.Push(ctx, models.UpdateBalance{BalanceUpdate: s.balanceOf(&w)}); err != nil {
		s.log.Warn("updateBalance push failed", "player_id", w.PlayerID, "error", err)
	}
	return &w, nil
}

// ForceClose closes the player's market from the host side.
func (s *Service) ForceClose(ctx context.Context, playerID string) {
	s.CloseMarket(playerID)
	if err := s.push.Push(ctx, models.CloseMarket{}); err != nil {
		s.log.Warn("closeMarket push failed", "player_id", playerID, "error", err)
	}
}

func (s *Service) Wallet(ctx context.Context, playerID string) (*models.Wallet, error) {
	return s.store.GetWallet(ctx, playerID)
}

// balanceOf carries the host's withdrawal threshold so the engine checks the same figure.
func (s *Service) balanceOf(w *models.Wallet) models.BalanceUpdate {
	cash, bank, points, minWithdraw := w.Cash, w.Bank, w.Points, s.minWithdraw
	return models.BalanceUpdate{Cash: &cash, Bank: &bank, Points: &points, MinPointWithdraw: &minWithdraw}
}
