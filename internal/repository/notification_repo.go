package repository

import (
	"context"

	"github.com/saeid-a/ConsultBack/internal/models"
)

type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(
	ctx context.Context,
	notification models.Notification,
) (*models.Notification, error) {
	data := notification.Data
	if data == nil {
		data = map[string]any{}
	}

	query := `
		INSERT INTO notifications (user_id, title, message, kind, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, title, message, kind, data, is_read, created_at
	`

	var created models.Notification
	err := r.db.QueryRow(
		ctx,
		query,
		notification.UserID,
		notification.Title,
		notification.Message,
		notification.Kind,
		data,
	).Scan(
		&created.ID,
		&created.UserID,
		&created.Title,
		&created.Message,
		&created.Kind,
		&created.Data,
		&created.IsRead,
		&created.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}
