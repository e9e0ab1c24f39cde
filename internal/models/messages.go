package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/punchamoorthee/marketops/internal/domain"
)

var (
	ErrUnknownAction  = errors.New("unknown inbound action")
	ErrMalformedFrame = errors.New("malformed inbound message")
)

// Inbound actions sent by the host to the engine.
const (
	InboundOpenMarket    = "openMarket"
	InboundUpdateBalance = "updateBalance"
	InboundUpdateOwner   = "updateOwner"
	InboundCloseMarket   = "closeMarket"
)

// InboundMessage is one of OpenMarket, UpdateBalance, UpdateOwner or CloseMarket.
// The set is closed: only types in this package implement it.
type InboundMessage interface {
	Action() string
	inbound()
}

// BalanceUpdate carries optional balance fields. A nil field keeps the previous value.
type BalanceUpdate struct {
	Cash             *int64 `json:"cash,omitempty"`
	Bank             *int64 `json:"bank,omitempty"`
	Points           *int64 `json:"points,omitempty"`
	MinPointWithdraw *int64 `json:"minPointWithdraw,omitempty"`
}

// OpenMarket activates a market and seeds the balance.
type OpenMarket struct {
	MarketID   string              `json:"marketId"`
	Name       string              `json:"name"`
	OwnerID    *string             `json:"ownerId,omitempty"`
	OwnerName  *string             `json:"ownerName,omitempty"`
	Categories []domain.Category   `json:"categories"`
	Items      []domain.MarketItem `json:"items"`
	Balance    BalanceUpdate       `json:"balance"`
}

// Config converts the message into a market configuration.
func (m OpenMarket) Config() domain.MarketConfig {
	cfg := domain.MarketConfig{
		ID:         m.MarketID,
		Name:       m.Name,
		Categories: m.Categories,
		Items:      m.Items,
	}
	if cfg.Categories == nil {
		cfg.Categories = []domain.Category{}
	}
	if cfg.Items == nil {
		cfg.Items = []domain.MarketItem{}
	}
	if m.OwnerID != nil {
		cfg.OwnerID = *m.OwnerID
	}
	if m.OwnerName != nil {
		cfg.OwnerName = *m.OwnerName
	}
	return cfg
}

// UpdateBalance merges the present fields into the balance.
type UpdateBalance struct {
	BalanceUpdate
}

// UpdateOwner merges the present fields into the active market's ownership.
type UpdateOwner struct {
	OwnerID   *string `json:"ownerId,omitempty"`
	OwnerName *string `json:"ownerName,omitempty"`
}

// CloseMarket hides the storefront.
type CloseMarket struct{}

func (OpenMarket) Action() string    { return InboundOpenMarket }
func (UpdateBalance) Action() string { return InboundUpdateBalance }
func (UpdateOwner) Action() string   { return InboundUpdateOwner }
func (CloseMarket) Action() string   { return InboundCloseMarket }

func (OpenMarket) inbound()    {}
func (UpdateBalance) inbound() {}
func (UpdateOwner) inbound()   {}
func (CloseMarket) inbound()   {}

type envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// DecodeInbound parses a {action, data} frame into its typed message.
func DecodeInbound(raw []byte) (InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var msg InboundMessage
	switch env.Action {
	case InboundOpenMarket:
		msg = &OpenMarket{}
	case InboundUpdateBalance:
		msg = &UpdateBalance{}
	case InboundUpdateOwner:
		msg = &UpdateOwner{}
	case InboundCloseMarket:
		return CloseMarket{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing action", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, msg); err != nil {
			return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedFrame, env.Action, err)
		}
	}

	switch m := msg.(type) {
	case *OpenMarket:
		return *m, nil
	case *UpdateBalance:
		return *m, nil
	case *UpdateOwner:
		return *m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
}

// EncodeInbound builds the wire frame for msg. The host simulator uses it to push updates.
func EncodeInbound(msg InboundMessage) ([]byte, error) {
	var data json.RawMessage
	if _, isClose := msg.(CloseMarket); !isClose {
		b, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(envelope{Action: msg.Action(), Data: data})
}
