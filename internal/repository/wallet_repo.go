package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ConsultBack/internal/models"
)

type WalletRepository struct {
	db DBTX
}

func NewWalletRepository(db DBTX) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*models.Wallet, error) {
	query := `
		SELECT user_id, balance, earnings, currency, version, updated_at
		FROM wallets
		WHERE user_id = $1
	`
	return scanWallet(r.db.QueryRow(ctx, query, userID))
}

func (r *WalletRepository) GetByUserIDForUpdate(ctx context.Context, userID int64) (*models.Wallet, error) {
	query := `
		SELECT user_id, balance, earnings, currency, version, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`
	return scanWallet(r.db.QueryRow(ctx, query, userID))
}

// EnsureForUpdate creates an empty wallet for userID when none exists and
// returns it locked.
func (r *WalletRepository) EnsureForUpdate(ctx context.Context, userID int64, currency string) (*models.Wallet, error) {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO wallets (user_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, currency); err != nil {
		return nil, err
	}
	return r.GetByUserIDForUpdate(ctx, userID)
}

func (r *WalletRepository) UpdateIfVersion(ctx context.Context, wallet *models.Wallet) (*models.Wallet, error) {
	query := `
		UPDATE wallets
		SET balance = $3,
		    earnings = $4,
		    version = version + 1,
		    updated_at = NOW()
		WHERE user_id = $1 AND version = $2
		RETURNING user_id, balance, earnings, currency, version, updated_at
	`
	updated, err := scanWallet(r.db.QueryRow(ctx, query, wallet.UserID, wallet.Version, wallet.Balance, wallet.Earnings))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVersionConflict
	}
	return updated, err
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var wallet models.Wallet
	err := row.Scan(
		&wallet.UserID,
		&wallet.Balance,
		&wallet.Earnings,
		&wallet.Currency,
		&wallet.Version,
		&wallet.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}
