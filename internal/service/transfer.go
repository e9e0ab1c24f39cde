package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/models"
)

// TransferResult reports a completed ownership transfer.
type TransferResult struct {
	ID       string                 `json:"id"`
	MarketID string                 `json:"marketId"`
	Owner    domain.MarketOwnership `json:"owner"`
}

// TransferMarket hands the active market to a new owner. The typed confirmation phrase is checked
// by the presentation layer before this is called.
func (s *Session) TransferMarket(ctx context.Context, key, newOwnerID, newOwnerName string) (TransferResult, error) {
	newOwnerID = strings.TrimSpace(newOwnerID)
	newOwnerName = strings.TrimSpace(newOwnerName)
	if newOwnerID == "" || newOwnerName == "" {
		return TransferResult{}, ErrInvalidOwner
	}
	if key == "" {
		key = s.newKey()
	}
	body, _ := json.Marshal(models.TransferBody{NewOwnerID: newOwnerID, NewOwnerName: newOwnerName})

	res, _, err := idempotent(s.idem, models.ActionTransferMarket, key, HashRequest(body), func() (TransferResult, error) {
		return s.transfer(ctx, key, newOwnerID, newOwnerName)
	})
	return res, err
}

func (s *Session) transfer(ctx context.Context, key, newOwnerID, newOwnerName string) (TransferResult, error) {
	if !s.transferSlot.TryAcquire(1) {
		return TransferResult{ID: key}, ErrTransferInProgress
	}
	defer s.transferSlot.Release(1)

	if s.bridge.Present() {
		resp, err := s.bridge.Send(ctx, models.ActionTransferMarket, key, models.TransferBody{
			NewOwnerID:   newOwnerID,
			NewOwnerName: newOwnerName,
		})
		if err != nil {
			s.notes.Error("Transfer failed!")
			return TransferResult{ID: key}, err
		}
		if !resp.Success {
			msg := resp.Message
			if msg == "" {
				msg = "Transfer failed!"
			}
			s.notes.Error(msg)
			return TransferResult{ID: key}, fmt.Errorf("%w: %s", ErrHostRejected, msg)
		}
	}

	s.TransferOwnership(newOwnerID, newOwnerName)

	s.mu.Lock()
	marketID := s.config.ID
	s.mu.Unlock()

	s.log.Info("market transferred", "transfer_id", key, "market_id", marketID, "owner_id", newOwnerID)
	s.notes.Success(s.notes.Sprintf("Market transferred to %s", newOwnerName))
	return TransferResult{
		ID:       key,
		MarketID: marketID,
		Owner:    domain.MarketOwnership{OwnerID: newOwnerID, OwnerName: newOwnerName},
	}, nil
}
