package repository

import (
	"context"

	"gorm.io/gorm"

	"timebank/internal/model"
)

// TransactionRepository is the append-only transaction log. It deliberately
// has no update or delete.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, entries ...*model.CreditTransaction) error {
	if len(entries) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entries).Error
}

func (r *TransactionRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.CreditTransaction, error) {
	var entries []*model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// ListByUser returns entries where userID is on either side, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var entries []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("from_user_id = ? OR to_user_id = ?", userID, userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// KindTotal is the sum of one kind of entry for one user.
type KindTotal struct {
	UserID string
	Kind   model.TransactionKind
	Total  int64
}

// TotalsByUser sums the log per (account, kind). Reserve and settle-spend are
// attributed to the from side; release, settle-earn and grant to the to side.
func (r *TransactionRepository) TotalsByUser(ctx context.Context, tx *gorm.DB) ([]KindTotal, error) {
	if tx == nil {
		tx = r.db
	}
	var from, to []KindTotal

	err := tx.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Select("from_user_id AS user_id, kind, SUM(amount) AS total").
		Where("kind IN ?", []model.TransactionKind{model.TransactionKindReserve, model.TransactionKindSettleSpend}).
		Group("from_user_id, kind").
		Scan(&from).Error
	if err != nil {
		return nil, err
	}

	err = tx.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Select("to_user_id AS user_id, kind, SUM(amount) AS total").
		Where("kind IN ?", []model.TransactionKind{model.TransactionKindRelease, model.TransactionKindSettleEarn, model.TransactionKindGrant}).
		Group("to_user_id, kind").
		Scan(&to).Error
	if err != nil {
		return nil, err
	}

	return append(from, to...), nil
}

// SettlementStat counts the settle-* entries of one kind for one session.
type SettlementStat struct {
	SessionID string
	Kind      model.TransactionKind
	Entries   int64
	Total     int64
}

func (r *TransactionRepository) SettlementStats(ctx context.Context, tx *gorm.DB) ([]SettlementStat, error) {
	if tx == nil {
		tx = r.db
	}
	var stats []SettlementStat
	err := tx.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Select("session_id, kind, COUNT(*) AS entries, SUM(amount) AS total").
		Where("kind IN ?", []model.TransactionKind{model.TransactionKindSettleSpend, model.TransactionKindSettleEarn}).
		Group("session_id, kind").
		Scan(&stats).Error
	return stats, err
}
