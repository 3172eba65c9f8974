package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"timebank/internal/model"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// GetByUserID returns model.ErrNotFound when the user has never held credits.
func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.CreditAccount, error) {
	var account model.CreditAccount
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s: %w", userID, model.ErrNotFound)
		}
		return nil, err
	}
	return &account, nil
}

// GetForUpdate row-locks the account (SELECT ... FOR UPDATE), creating an
// empty one first if the user has none. The row lock only lasts as long as
// tx; with a nil tx it is released at once.
func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.CreditAccount, error) {
	if err := r.ensure(ctx, tx, userID); err != nil {
		return nil, err
	}

	var account model.CreditAccount
	err := r.conn(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ensure(ctx context.Context, tx *gorm.DB, userID string) error {
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.CreditAccount{UserID: userID}).Error
}

// Save writes the balances of an account read earlier in the same tx.
// The write only lands if nobody bumped the version since; otherwise
// model.ErrConcurrentUpdate is returned and nothing changes.
func (r *AccountRepository) Save(ctx context.Context, tx *gorm.DB, account *model.CreditAccount) error {
	if account.Available < 0 || account.Reserved < 0 {
		return fmt.Errorf("%w: account %s would go negative", model.ErrInvalidState, account.UserID)
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"available": account.Available,
			"reserved":  account.Reserved,
			"version":   gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account %s: %w", account.UserID, model.ErrConcurrentUpdate)
	}
	account.Version++
	return nil
}

// ListAll returns every account ordered by user id.
func (r *AccountRepository) ListAll(ctx context.Context, tx *gorm.DB) ([]*model.CreditAccount, error) {
	var accounts []*model.CreditAccount
	err := r.conn(tx).WithContext(ctx).Order("user_id ASC").Find(&accounts).Error
	return accounts, err
}
