package model

import (
	"time"
)

// ============================================================================
// Transaction kinds
// ============================================================================

// TransactionKind is the reason a credit moved.
type TransactionKind string

const (
	TransactionKindReserve     TransactionKind = "reserve"      // learner available -> reserved
	TransactionKindRelease     TransactionKind = "release"      // learner reserved -> available
	TransactionKindSettleSpend TransactionKind = "settle-spend" // learner reserved consumed
	TransactionKindSettleEarn  TransactionKind = "settle-earn"  // teacher available credited
	TransactionKindGrant       TransactionKind = "grant"        // admin top-up
)

// ============================================================================
// Transaction log entry
// ============================================================================

// CreditTransaction is one immutable line of the transaction log.
//
// Design rules:
//  1. Append only. The repository exposes no update or delete.
//  2. Amount is always positive; direction comes from Kind and from/to.
//  3. A settlement writes exactly one settle-spend and one settle-earn sharing CreatedAt.
//
// Every account can be rebuilt from its entries:
//
//	available = grant + settle-earn + release - reserve
//	reserved  = reserve - release - settle-spend
type CreditTransaction struct {
	ID         string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	SessionID  string          `gorm:"type:varchar(64);index" json:"session_id,omitempty"`
	FromUserID string          `gorm:"type:varchar(64);index" json:"from_user_id,omitempty"`
	ToUserID   string          `gorm:"type:varchar(64);index" json:"to_user_id,omitempty"`
	Amount     int64           `gorm:"not null" json:"amount"`
	Kind       TransactionKind `gorm:"type:varchar(16);index;not null" json:"kind"`
	CreatedAt  time.Time       `gorm:"not null;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
