package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"timebank/internal/model"
	"timebank/internal/repository"
)

type AccountService struct {
	engine          *LedgerEngine
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewAccountService(db *gorm.DB, engine *LedgerEngine) *AccountService {
	return &AccountService{
		engine:          engine,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

type Balance struct {
	UserID    string `json:"user_id"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
	Total     int64  `json:"total"`
}

func balanceOf(a *model.CreditAccount) *Balance {
	return &Balance{UserID: a.UserID, Available: a.Available, Reserved: a.Reserved, Total: a.Total()}
}

// GetBalance reports zero balances for users without an account.
func (s *AccountService) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &Balance{UserID: userID}, nil
		}
		return nil, err
	}
	return balanceOf(account), nil
}

// Grant tops up userID. Authorising actorID is the caller's job.
func (s *AccountService) Grant(ctx context.Context, userID string, amount int64, actorID string) (*Balance, error) {
	account, err := s.engine.Grant(ctx, userID, amount, actorID)
	if err != nil {
		return nil, err
	}
	return balanceOf(account), nil
}

// ListAccounts returns every member's balance ordered by user id, for the
// admin overview.
func (s *AccountService) ListAccounts(ctx context.Context) ([]*Balance, error) {
	accounts, err := s.accountRepo.ListAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	balances := make([]*Balance, 0, len(accounts))
	for _, a := range accounts {
		balances = append(balances, balanceOf(a))
	}
	return balances, nil
}

type TransactionPage struct {
	List     []*model.CreditTransaction `json:"list"`
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
}

func (s *AccountService) ListTransactions(ctx context.Context, userID string, page, pageSize int) (*TransactionPage, error) {
	page, pageSize = normalizePage(page, pageSize)
	entries, total, err := s.transactionRepo.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{List: entries, Total: total, Page: page, PageSize: pageSize}, nil
}
