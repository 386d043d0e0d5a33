package services

import (
	"context"

	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/repository"
)

type WalletService struct {
	store    repository.Store
	currency string
}

func NewWalletService(store repository.Store, currency string) *WalletService {
	if currency == "" {
		currency = "INR"
	}
	return &WalletService{store: store, currency: currency}
}

// Get returns the wallet of userID, or an empty one if none was opened yet.
func (s *WalletService) Get(ctx context.Context, userID int64) (*models.Wallet, error) {
	wallet, err := s.store.Wallets().GetByUserID(ctx, userID)
	if repository.IsNotFound(err) {
		return &models.Wallet{UserID: userID, Currency: s.currency}, nil
	}
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *WalletService) Transactions(
	ctx context.Context,
	userID int64,
	page int,
	limit int,
) ([]models.LedgerEntry, int, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.Ledger().ListByUser(ctx, userID, limit, (page-1)*limit)
}
