package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/saeid-a/ConsultBack/internal/models"
)

var (
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyRated    = errors.New("consultation already rated")
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

type CreateConsultationInput struct {
	Code        string
	RequesterID int64
	ProviderID  int64
	Modality    models.Modality
	Rate        models.Amount
}

type AppendMessageInput struct {
	ConsultationID int64
	SenderID       int64
	Body           string
	Kind           models.MessageKind
}

type ConsultationQueries interface {
	Create(ctx context.Context, input CreateConsultationInput) (*models.Consultation, error)
	GetByID(ctx context.Context, id int64) (*models.Consultation, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*models.Consultation, error)
	UpdateIfVersion(ctx context.Context, consultation *models.Consultation) (*models.Consultation, error)
	List(ctx context.Context, filter models.ConsultationListFilter) ([]models.Consultation, int, error)
	SetRating(ctx context.Context, consultationID int64, rating models.ConsultationRating) error
}

type WalletQueries interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, userID int64) (*models.Wallet, error)
	EnsureForUpdate(ctx context.Context, userID int64, currency string) (*models.Wallet, error)
	UpdateIfVersion(ctx context.Context, wallet *models.Wallet) (*models.Wallet, error)
}

type LedgerQueries interface {
	Append(ctx context.Context, entry models.LedgerEntry) (*models.LedgerEntry, bool, error)
	ListByUser(ctx context.Context, userID int64, limit int, offset int) ([]models.LedgerEntry, int, error)
	ListByConsultation(ctx context.Context, consultationID int64) ([]models.LedgerEntry, error)
}

type ProviderQueries interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Provider, error)
	ApplyRating(ctx context.Context, userID int64, stars int) (*models.Provider, error)
}

type MessageQueries interface {
	Create(ctx context.Context, input AppendMessageInput) (*models.ConsultationMessage, error)
	ListByConsultation(ctx context.Context, consultationID int64, limit int, offset int) ([]models.ConsultationMessage, int, error)
}

type NotificationQueries interface {
	Create(ctx context.Context, notification models.Notification) (*models.Notification, error)
}

// Queries groups every repository bound to the same connection or transaction.
type Queries interface {
	Consultations() ConsultationQueries
	Wallets() WalletQueries
	Ledger() LedgerQueries
	Providers() ProviderQueries
	Messages() MessageQueries
	Notifications() NotificationQueries
}

// Store is a Queries source that can also run a unit of work atomically.
// Inside fn every write goes through q; returning an error rolls all of it back.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}
