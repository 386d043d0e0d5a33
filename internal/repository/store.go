package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgQueries struct {
	db DBTX
}

func (q pgQueries) Consultations() ConsultationQueries { return NewConsultationRepository(q.db) }
func (q pgQueries) Wallets() WalletQueries             { return NewWalletRepository(q.db) }
func (q pgQueries) Ledger() LedgerQueries              { return NewLedgerRepository(q.db) }
func (q pgQueries) Providers() ProviderQueries         { return NewProviderRepository(q.db) }
func (q pgQueries) Messages() MessageQueries           { return NewMessageRepository(q.db) }
func (q pgQueries) Notifications() NotificationQueries { return NewNotificationRepository(q.db) }

type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{db: pool}, pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(pgQueries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
