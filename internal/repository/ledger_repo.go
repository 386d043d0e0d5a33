package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ConsultBack/internal/models"
)

const ledgerColumns = `
	id, reference, user_id, direction, category, amount, balance_before,
	balance_after, status, consultation_id, description, created_at
`

type LedgerRepository struct {
	db DBTX
}

func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts entry unless an entry for the same consultation, owner and
// category already exists. The returned bool is false when the existing row
// was returned instead.
func (r *LedgerRepository) Append(
	ctx context.Context,
	entry models.LedgerEntry,
) (*models.LedgerEntry, bool, error) {
	if err := entry.Validate(); err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO ledger_entries (
			reference, user_id, direction, category, amount, balance_before,
			balance_after, status, consultation_id, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (consultation_id, user_id, category) WHERE consultation_id IS NOT NULL DO NOTHING
		RETURNING ` + ledgerColumns

	inserted, err := scanLedgerEntry(r.db.QueryRow(
		ctx,
		query,
		entry.Reference,
		entry.UserID,
		entry.Direction,
		entry.Category,
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.Status,
		entry.ConsultationID,
		entry.Description,
	))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || entry.ConsultationID == nil {
		return nil, false, err
	}

	existing, err := scanLedgerEntry(r.db.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE consultation_id = $1 AND user_id = $2 AND category = $3
	`, *entry.ConsultationID, entry.UserID, entry.Category))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *LedgerRepository) ListByUser(
	ctx context.Context,
	userID int64,
	limit int,
	offset int,
) ([]models.LedgerEntry, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	entries, err := r.list(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *LedgerRepository) ListByConsultation(ctx context.Context, consultationID int64) ([]models.LedgerEntry, error) {
	return r.list(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE consultation_id = $1
		ORDER BY id ASC
	`, consultationID)
}

func (r *LedgerRepository) list(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanLedgerEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := row.Scan(
		&entry.ID,
		&entry.Reference,
		&entry.UserID,
		&entry.Direction,
		&entry.Category,
		&entry.Amount,
		&entry.BalanceBefore,
		&entry.BalanceAfter,
		&entry.Status,
		&entry.ConsultationID,
		&entry.Description,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
