package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ConsultBack/internal/models"
)

const consultationColumns = `
	c.id, c.code, c.requester_id, c.provider_id, c.modality, c.status,
	c.start_time, c.end_time, c.end_requested_at, c.duration_minutes,
	c.rate, c.total_amount, c.version, c.created_at, c.updated_at,
	r.stars, r.review, r.tags, r.rated_at
`

type ConsultationRepository struct {
	db DBTX
}

func NewConsultationRepository(db DBTX) *ConsultationRepository {
	return &ConsultationRepository{db: db}
}

func (r *ConsultationRepository) Create(
	ctx context.Context,
	input CreateConsultationInput,
) (*models.Consultation, error) {
	query := `
		WITH c AS (
			INSERT INTO consultations (code, requester_id, provider_id, modality, status, rate)
			VALUES ($1, $2, $3, $4, 'pending', $5)
			RETURNING *
		)
		SELECT ` + consultationColumns + `
		FROM c
		LEFT JOIN consultation_ratings r ON r.consultation_id = c.id
	`

	return scanConsultation(r.db.QueryRow(
		ctx,
		query,
		input.Code,
		input.RequesterID,
		input.ProviderID,
		input.Modality,
		input.Rate,
	))
}

func (r *ConsultationRepository) GetByID(ctx context.Context, id int64) (*models.Consultation, error) {
	query := `
		SELECT ` + consultationColumns + `
		FROM consultations c
		LEFT JOIN consultation_ratings r ON r.consultation_id = c.id
		WHERE c.id = $1
	`
	return scanConsultation(r.db.QueryRow(ctx, query, id))
}

func (r *ConsultationRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.Consultation, error) {
	query := `
		SELECT ` + consultationColumns + `
		FROM consultations c
		LEFT JOIN consultation_ratings r ON r.consultation_id = c.id
		WHERE c.id = $1
		FOR UPDATE OF c
	`
	return scanConsultation(r.db.QueryRow(ctx, query, id))
}

// UpdateIfVersion writes the mutable fields of consultation when the stored
// version still equals consultation.Version, and bumps the version.
func (r *ConsultationRepository) UpdateIfVersion(
	ctx context.Context,
	consultation *models.Consultation,
) (*models.Consultation, error) {
	query := `
		WITH c AS (
			UPDATE consultations
			SET status = $3,
			    start_time = $4,
			    end_time = $5,
			    end_requested_at = $6,
			    duration_minutes = $7,
			    total_amount = $8,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1 AND version = $2
			RETURNING *
		)
		SELECT ` + consultationColumns + `
		FROM c
		LEFT JOIN consultation_ratings r ON r.consultation_id = c.id
	`

	updated, err := scanConsultation(r.db.QueryRow(
		ctx,
		query,
		consultation.ID,
		consultation.Version,
		consultation.Status,
		consultation.StartTime,
		consultation.EndTime,
		consultation.EndRequestedAt,
		consultation.DurationMinutes,
		consultation.TotalAmount,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVersionConflict
	}
	return updated, err
}

func (r *ConsultationRepository) List(
	ctx context.Context,
	filter models.ConsultationListFilter,
) ([]models.Consultation, int, error) {
	args := []any{filter.ParticipantID}
	whereParts := []string{"(c.requester_id = $1 OR c.provider_id = $1)"}

	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		args = append(args, status)
		whereParts = append(whereParts, fmt.Sprintf("c.status = $%d", len(args)))
	}
	where := strings.Join(whereParts, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM consultations c WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM consultations c
		LEFT JOIN consultation_ratings r ON r.consultation_id = c.id
		WHERE %s
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT $%d OFFSET $%d
	`, consultationColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	consultations := make([]models.Consultation, 0)
	for rows.Next() {
		consultation, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		consultations = append(consultations, *consultation)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return consultations, total, nil
}

func (r *ConsultationRepository) SetRating(
	ctx context.Context,
	consultationID int64,
	rating models.ConsultationRating,
) error {
	tags := rating.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO consultation_ratings (consultation_id, stars, review, tags, rated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (consultation_id) DO NOTHING
	`, consultationID, rating.Stars, rating.Review, tags, rating.RatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRated
	}
	return nil
}

func scanConsultation(row pgx.Row) (*models.Consultation, error) {
	var (
		consultation models.Consultation
		stars        *int
		review       *string
		tags         []string
		ratedAt      *time.Time
	)
	err := row.Scan(
		&consultation.ID,
		&consultation.Code,
		&consultation.RequesterID,
		&consultation.ProviderID,
		&consultation.Modality,
		&consultation.Status,
		&consultation.StartTime,
		&consultation.EndTime,
		&consultation.EndRequestedAt,
		&consultation.DurationMinutes,
		&consultation.Rate,
		&consultation.TotalAmount,
		&consultation.Version,
		&consultation.CreatedAt,
		&consultation.UpdatedAt,
		&stars,
		&review,
		&tags,
		&ratedAt,
	)
	if err != nil {
		return nil, err
	}
	if stars != nil && ratedAt != nil {
		if tags == nil {
			tags = []string{}
		}
		consultation.Rating = &models.ConsultationRating{
			Stars:   *stars,
			Review:  review,
			Tags:    tags,
			RatedAt: *ratedAt,
		}
	}
	return &consultation, nil
}
