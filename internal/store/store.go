// Package store persists the host simulator's authoritative wallets, market owners and
// idempotency keys. Postgres (pgx) and SQLite (sqlx) share one transactional core.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/pricing"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
	ErrConcurrentUpdate    = errors.New("concurrent update, retry")
)

// Receipt is the stored outcome of a committed host operation.
type Receipt struct {
	Action string              `json:"action"`
	Wallet models.Wallet       `json:"wallet"`
	Points int64               `json:"points,omitempty"`
	Owner  *models.MarketOwner `json:"owner,omitempty"`
}

// Store is the host-side persistence. Mutating calls return either a fresh receipt or,
// when the key was already completed, the stored idempotency record.
type Store interface {
	GetWallet(ctx context.Context, playerID string) (*models.Wallet, error)
	EnsureWallet(ctx context.Context, w models.Wallet) error
	SetWallet(ctx context.Context, w models.Wallet) error
	GetOwner(ctx context.Context, marketID string) (*models.MarketOwner, error)

	Purchase(ctx context.Context, playerID string, req models.PurchaseBody, key, reqHash string) (*Receipt, *models.IdempotencyRecord, error)
	// WithdrawPoints moves amount points to bank. A non-positive minAmount uses domain.DefaultMinPointWithdraw.
	WithdrawPoints(ctx context.Context, playerID string, amount, minAmount int64, key, reqHash string) (*Receipt, *models.IdempotencyRecord, error)
	TransferMarket(ctx context.Context, playerID, marketID string, req models.TransferBody, key, reqHash string) (*Receipt, *models.IdempotencyRecord, error)

	Close() error
}

// txn is the set of statements an operation runs inside one transaction.
type txn interface {
	findKey(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	reserveKey(ctx context.Context, key, reqHash string) error
	completeKey(ctx context.Context, key string, status int, body []byte) error
	lockWallet(ctx context.Context, playerID string) (*models.Wallet, error)
	saveWallet(ctx context.Context, w *models.Wallet) error
	insertPurchase(ctx context.Context, playerID string, req models.PurchaseBody, points int64) error
	upsertOwner(ctx context.Context, o models.MarketOwner) error
}

type runner interface {
	inTx(ctx context.Context, fn func(txn) error) error
}

type operation func(ctx context.Context, tx txn) (*Receipt, error)

// execute runs op under an idempotency key in a single transaction.
func execute(ctx context.Context, r runner, key, reqHash string, op operation) (*Receipt, *models.IdempotencyRecord, error) {
	var receipt *Receipt
	var replay *models.IdempotencyRecord

	err := r.inTx(ctx, func(tx txn) error {
		// 1. Idempotency Check
		rec, err := tx.findKey(ctx, key)
		if err != nil {
			return fmt.Errorf("idempotency query failed: %w", err)
		}
		if rec != nil {
			if rec.RequestHash != reqHash {
				return ErrIdempotencyMismatch
			}
			if rec.Status != models.IdempotencyCompleted {
				return ErrIdempotencyConflict
			}
			replay = rec
			return nil
		}

		// 2. Idempotency Reservation
		if err := tx.reserveKey(ctx, key, reqHash); err != nil {
			return err
		}

		// 3. Business Logic
		receipt, err = op(ctx, tx)
		if err != nil {
			return err
		}

		// 4. Finalize Idempotency
		body, err := json.Marshal(receipt)
		if err != nil {
			return err
		}
		if err := tx.completeKey(ctx, key, http.StatusOK, body); err != nil {
			return fmt.Errorf("idempotency update failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return receipt, replay, nil
}

func purchaseOp(playerID string, req models.PurchaseBody) operation {
	return func(ctx context.Context, tx txn) (*Receipt, error) {
		if req.TotalPrice < 0 || len(req.Items) == 0 || !req.PaymentMethod.Valid() {
			return nil, ErrInvalidRequest
		}
		w, err := tx.lockWallet(ctx, playerID)
		if err != nil {
			return nil, err
		}
		switch req.PaymentMethod {
		case domain.PaymentCash:
			if w.Cash < req.TotalPrice {
				return nil, ErrInsufficientFunds
			}
			w.Cash -= req.TotalPrice
		case domain.PaymentBank:
			if w.Bank < req.TotalPrice {
				return nil, ErrInsufficientFunds
			}
			w.Bank -= req.TotalPrice
		}
		points := pricing.PointsEarned(req.TotalPrice)
		w.Points += points

		if err := tx.saveWallet(ctx, w); err != nil {
			return nil, fmt.Errorf("wallet update failed: %w", err)
		}
		if err := tx.insertPurchase(ctx, playerID, req, points); err != nil {
			return nil, fmt.Errorf("purchase insert failed: %w", err)
		}
		return &Receipt{Action: models.ActionPurchase, Wallet: *w, Points: points}, nil
	}
}

func withdrawOp(playerID string, amount, minAmount int64) operation {
	if minAmount <= 0 {
		minAmount = domain.DefaultMinPointWithdraw
	}
	return func(ctx context.Context, tx txn) (*Receipt, error) {
		w, err := tx.lockWallet(ctx, playerID)
		if err != nil {
			return nil, err
		}
		if amount < minAmount || amount > w.Points {
			return nil, ErrInvalidRequest
		}
		w.Points -= amount
		w.Bank += amount
		if err := tx.saveWallet(ctx, w); err != nil {
			return nil, fmt.Errorf("wallet update failed: %w", err)
		}
		return &Receipt{Action: models.ActionWithdrawPoints, Wallet: *w}, nil
	}
}

func transferOp(playerID, marketID string, req models.TransferBody) operation {
	return func(ctx context.Context, tx txn) (*Receipt, error) {
		if marketID == "" || req.NewOwnerID == "" || req.NewOwnerName == "" {
			return nil, ErrInvalidRequest
		}
		w, err := tx.lockWallet(ctx, playerID)
		if err != nil {
			return nil, err
		}
		owner := models.MarketOwner{MarketID: marketID, OwnerID: req.NewOwnerID, OwnerName: req.NewOwnerName}
		if err := tx.upsertOwner(ctx, owner); err != nil {
			return nil, fmt.Errorf("owner update failed: %w", err)
		}
		return &Receipt{Action: models.ActionTransferMarket, Wallet: *w, Owner: &owner}, nil
	}
}

func linesJSON(lines []domain.PurchaseLine) ([]byte, error) {
	return json.Marshal(lines)
}
