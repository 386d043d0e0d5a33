package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ConsultBack/internal/models"
)

const providerColumns = `
	user_id, full_name, chat_enabled, audio_enabled, video_enabled,
	chat_rate, audio_rate, video_rate, rating_average, rating_count, service_categories
`

type ProviderRepository struct {
	db DBTX
}

func NewProviderRepository(db DBTX) *ProviderRepository {
	return &ProviderRepository{db: db}
}

func (r *ProviderRepository) GetByUserID(ctx context.Context, userID int64) (*models.Provider, error) {
	query := `
		SELECT ` + providerColumns + `
		FROM providers
		WHERE user_id = $1
	`
	return scanProvider(r.db.QueryRow(ctx, query, userID))
}

// ApplyRating folds one more rating into the provider's running average.
func (r *ProviderRepository) ApplyRating(ctx context.Context, userID int64, stars int) (*models.Provider, error) {
	query := `
		UPDATE providers
		SET rating_average = ROUND(((rating_average * rating_count + $2::int) / (rating_count + 1))::numeric, 2),
		    rating_count = rating_count + 1
		WHERE user_id = $1
		RETURNING ` + providerColumns
	return scanProvider(r.db.QueryRow(ctx, query, userID, stars))
}

func scanProvider(row pgx.Row) (*models.Provider, error) {
	var provider models.Provider
	err := row.Scan(
		&provider.UserID,
		&provider.FullName,
		&provider.Modes.Chat,
		&provider.Modes.Audio,
		&provider.Modes.Video,
		&provider.Rates.Chat,
		&provider.Rates.Audio,
		&provider.Rates.Video,
		&provider.RatingAverage,
		&provider.RatingCount,
		&provider.ServiceCategories,
	)
	if err != nil {
		return nil, err
	}
	if provider.ServiceCategories == nil {
		provider.ServiceCategories = []models.CategoryRef{}
	}
	return &provider, nil
}
