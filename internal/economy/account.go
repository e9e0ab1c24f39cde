// Package economy keeps the player's cash, bank and loyalty point balances.
package economy

import (
	"errors"
	"fmt"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/models"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidWithdrawAmount  = errors.New("invalid withdraw amount")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrNegativeAmount         = errors.New("amount must not be negative")
	ErrInvalidBalanceSnapshot = errors.New("balance fields must not be negative")
)

// Account owns the cash, bank and points balances of the session's player.
// Every operation either applies fully or leaves the balance unchanged.
type Account struct {
	bal domain.PlayerBalance
}

// NewAccount returns an account seeded with b. A non-positive MinPointWithdraw falls back to the default.
func NewAccount(b domain.PlayerBalance) (*Account, error) {
	if b.Cash < 0 || b.Bank < 0 || b.Points < 0 {
		return nil, ErrInvalidBalanceSnapshot
	}
	if b.MinPointWithdraw <= 0 {
		b.MinPointWithdraw = domain.DefaultMinPointWithdraw
	}
	return &Account{bal: b}, nil
}

// Balance returns a copy of the current balance.
func (a *Account) Balance() domain.PlayerBalance {
	return a.bal
}

// CanAfford reports whether amount <= the balance of method.
func (a *Account) CanAfford(amount int64, method domain.PaymentMethod) bool {
	switch method {
	case domain.PaymentCash:
		return amount <= a.bal.Cash
	case domain.PaymentBank:
		return amount <= a.bal.Bank
	}
	return false
}

// Debit subtracts amount from the method's balance.
func (a *Account) Debit(amount int64, method domain.PaymentMethod) error {
	if !method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, method)
	}
	if amount < 0 {
		return ErrNegativeAmount
	}
	if !a.CanAfford(amount, method) {
		return ErrInsufficientFunds
	}
	if method == domain.PaymentCash {
		a.bal.Cash -= amount
	} else {
		a.bal.Bank -= amount
	}
	return nil
}

// CreditPoints adds earned loyalty points.
func (a *Account) CreditPoints(amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	a.bal.Points += amount
	return nil
}

// CheckWithdraw validates a withdrawal without applying it.
func (a *Account) CheckWithdraw(amount int64) error {
	if amount < a.bal.MinPointWithdraw || amount > a.bal.Points {
		return fmt.Errorf("%w: %d (min %d, available %d)",
			ErrInvalidWithdrawAmount, amount, a.bal.MinPointWithdraw, a.bal.Points)
	}
	return nil
}

// WithdrawPoints moves amount from points to bank in one step.
func (a *Account) WithdrawPoints(amount int64) error {
	if err := a.CheckWithdraw(amount); err != nil {
		return err
	}
	next := a.bal
	next.Points -= amount
	next.Bank += amount
	a.bal = next
	return nil
}

// Merge applies the present fields of u. Negative values reject the whole update.
func (a *Account) Merge(u models.BalanceUpdate) error {
	next := a.bal
	if u.Cash != nil {
		next.Cash = *u.Cash
	}
	if u.Bank != nil {
		next.Bank = *u.Bank
	}
	if u.Points != nil {
		next.Points = *u.Points
	}
	if u.MinPointWithdraw != nil && *u.MinPointWithdraw > 0 {
		next.MinPointWithdraw = *u.MinPointWithdraw
	}
	if next.Cash < 0 || next.Bank < 0 || next.Points < 0 {
		return ErrInvalidBalanceSnapshot
	}
	a.bal = next
	return nil
}
