package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/models"
)

// WithdrawResult reports a completed points withdrawal.
type WithdrawResult struct {
	ID      string               `json:"id"`
	Amount  int64                `json:"amount"`
	Balance domain.PlayerBalance `json:"balance"`
}

// WithdrawPoints moves amount points to the bank balance.
//
// Bounds are checked locally first; out-of-range amounts never reach the host. With a host the
// move is applied after it confirms.
func (s *Session) WithdrawPoints(ctx context.Context, key string, amount int64) (WithdrawResult, error) {
	if key == "" {
		key = s.newKey()
	}
	body, _ := json.Marshal(models.WithdrawBody{Amount: amount})

	res, _, err := idempotent(s.idem, models.ActionWithdrawPoints, key, HashRequest(body), func() (WithdrawResult, error) {
		return s.withdraw(ctx, key, amount)
	})
	return res, err
}

func (s *Session) withdraw(ctx context.Context, key string, amount int64) (WithdrawResult, error) {
	if !s.withdrawSlot.TryAcquire(1) {
		return WithdrawResult{ID: key}, ErrWithdrawInProgress
	}
	defer s.withdrawSlot.Release(1)

	s.mu.Lock()
	err := s.account.CheckWithdraw(amount)
	s.mu.Unlock()
	if err != nil {
		s.notes.Error("Invalid amount!")
		return WithdrawResult{ID: key}, err
	}

	if s.bridge.Present() {
		resp, err := s.bridge.Send(ctx, models.ActionWithdrawPoints, key, models.WithdrawBody{Amount: amount})
		if err != nil {
			s.notes.Error("Operation failed!")
			return WithdrawResult{ID: key}, err
		}
		if !resp.Success {
			msg := resp.Message
			if msg == "" {
				msg = "Operation failed!"
			}
			s.notes.Error(msg)
			return WithdrawResult{ID: key}, fmt.Errorf("%w: %s", ErrHostRejected, msg)
		}
	}

	s.mu.Lock()
	if err := s.account.WithdrawPoints(amount); err != nil {
		s.log.Warn("local withdraw skipped after host confirmation", "withdraw_id", key, "amount", amount, "error", err)
	}
	bal := s.account.Balance()
	s.mu.Unlock()

	s.log.Info("points withdrawn", "withdraw_id", key, "amount", amount)
	s.notes.Success(s.notes.Sprintf("%d points moved to bank!", amount))
	return WithdrawResult{ID: key, Amount: amount, Balance: bal}, nil
}
