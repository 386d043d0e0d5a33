package repository

import (
	"context"

	"github.com/saeid-a/ConsultBack/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(
	ctx context.Context,
	input AppendMessageInput,
) (*models.ConsultationMessage, error) {
	query := `
		INSERT INTO consultation_messages (consultation_id, sender_id, body, kind)
		VALUES ($1, $2, $3, $4)
		RETURNING id, consultation_id, sender_id, body, kind, sent_at
	`

	var message models.ConsultationMessage
	err := r.db.QueryRow(ctx, query, input.ConsultationID, input.SenderID, input.Body, input.Kind).Scan(
		&message.ID,
		&message.ConsultationID,
		&message.SenderID,
		&message.Body,
		&message.Kind,
		&message.SentAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// ListByConsultation returns messages oldest first.
func (r *MessageRepository) ListByConsultation(
	ctx context.Context,
	consultationID int64,
	limit int,
	offset int,
) ([]models.ConsultationMessage, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM consultation_messages
		WHERE consultation_id = $1
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, consultationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, consultation_id, sender_id, body, kind, sent_at
		FROM consultation_messages
		WHERE consultation_id = $1
		ORDER BY sent_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, consultationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.ConsultationMessage, 0)
	for rows.Next() {
		var message models.ConsultationMessage
		if err := rows.Scan(
			&message.ID,
			&message.ConsultationID,
			&message.SenderID,
			&message.Body,
			&message.Kind,
			&message.SentAt,
		); err != nil {
			return nil, 0, err
		}

		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}
