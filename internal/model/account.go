package model

import (
	"fmt"
	"time"
)

// CreditAccount is a member's time-credit balance.
//
// Available is spendable on new bookings; Reserved is earmarked for sessions
// that are booked but not yet settled. Both stay >= 0. Only the ledger engine
// mutates an account, always through the methods below so the invariants are
// checked before anything is written.
type CreditAccount struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Available int64     `gorm:"not null;default:0" json:"available"`
	Reserved  int64     `gorm:"not null;default:0" json:"reserved"`
	Version   int       `gorm:"not null;default:0" json:"-"` // optimistic lock
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditAccount) TableName() string {
	return "credit_account"
}

// Total is the credit held by the account in any form.
func (a *CreditAccount) Total() int64 {
	return a.Available + a.Reserved
}

// Reserve moves amount from available to reserved.
func (a *CreditAccount) Reserve(amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if a.Available < amount {
		return &InsufficientFundsError{UserID: a.UserID, Available: a.Available, Requested: amount}
	}
	a.Available -= amount
	a.Reserved += amount
	return nil
}

// Release returns a reservation to available.
func (a *CreditAccount) Release(amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if a.Reserved < amount {
		return fmt.Errorf("%w: release %d from account %s with %d reserved", ErrInvalidState, amount, a.UserID, a.Reserved)
	}
	a.Reserved -= amount
	a.Available += amount
	return nil
}

// SettleSpend consumes a reservation permanently.
func (a *CreditAccount) SettleSpend(amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if a.Reserved < amount {
		return fmt.Errorf("%w: settle %d from account %s with %d reserved", ErrInvalidState, amount, a.UserID, a.Reserved)
	}
	a.Reserved -= amount
	return nil
}

// SettleEarn credits the teacher side of a settlement.
func (a *CreditAccount) SettleEarn(amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	a.Available += amount
	return nil
}

// Grant is an administrative top-up. It is the only way credits enter circulation.
func (a *CreditAccount) Grant(amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	a.Available += amount
	return nil
}

func checkAmount(amount int64) error {
	if amount <= 0 {
		return NewValidationError("amount", "must be greater than 0")
	}
	return nil
}
