package models

import (
	"encoding/json"

	"github.com/punchamoorthee/marketops/internal/domain"
)

// Outbound actions understood by the host.
const (
	ActionPurchase       = "purchase"
	ActionWithdrawPoints = "withdrawPoints"
	ActionTransferMarket = "transferMarket"
	ActionCloseMarket    = "closeMarket"
)

// PurchaseBody is the outbound purchase payload.
type PurchaseBody struct {
	Items         []domain.PurchaseLine `json:"items"`
	PaymentMethod domain.PaymentMethod  `json:"paymentMethod"`
	TotalPrice    int64                 `json:"totalPrice"`
}

// WithdrawBody is the outbound points withdrawal payload.
type WithdrawBody struct {
	Amount int64 `json:"amount"`
}

// TransferBody is the outbound ownership transfer payload.
type TransferBody struct {
	NewOwnerID   string `json:"newOwnerId"`
	NewOwnerName string `json:"newOwnerName"`
}

// CloseBody is the (empty) outbound close notice.
type CloseBody struct{}

// HostResponse is the canonical host reply. Points may be echoed by the host on
// purchase but the engine recomputes it.
type HostResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Points  *int64 `json:"points,omitempty"`
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         string
	ResponseBody   json.RawMessage
	ResponseStatus int
}

// Idempotency record states.
const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

// Wallet is the host-side authoritative balance of one player.
type Wallet struct {
	PlayerID string `json:"playerId" db:"player_id"`
	Cash     int64  `json:"cash" db:"cash"`
	Bank     int64  `json:"bank" db:"bank"`
	Points   int64  `json:"points" db:"points"`
}

// MarketOwner is the host-side ownership row of a market.
type MarketOwner struct {
	MarketID  string `json:"marketId" db:"market_id"`
	OwnerID   string `json:"ownerId" db:"owner_id"`
	OwnerName string `json:"ownerName" db:"owner_name"`
}
