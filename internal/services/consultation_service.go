package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/saeid-a/ConsultBack/internal/clock"
	"github.com/saeid-a/ConsultBack/internal/lock"
	"github.com/saeid-a/ConsultBack/internal/metrics"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/repository"
	"go.uber.org/zap"
)

const (
	maxSettleAttempts  = 3
	settleRetryBackoff = 25 * time.Millisecond
	detailMessageLimit = 500
	HistoryLimit       = 50
)

type ConsultationService struct {
	store    repository.Store
	locker   lock.Locker
	clock    clock.Clock
	settler  *Settler
	events   EventPublisher
	notifier NotificationSink
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewConsultationService(
	store repository.Store,
	locker lock.Locker,
	clk clock.Clock,
	settler *Settler,
	events EventPublisher,
	notifier NotificationSink,
	m *metrics.Metrics,
	log *zap.Logger,
) *ConsultationService {
	if clk == nil {
		clk = clock.Real{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	if notifier == nil {
		notifier = nopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if settler == nil {
		settler = NewSettler("", m, log)
	}
	return &ConsultationService{
		store:    store,
		locker:   locker,
		clock:    clk,
		settler:  settler,
		events:   events,
		notifier: notifier,
		metrics:  m,
		log:      log.Named("consultations"),
	}
}

// SetEventPublisher replaces the publisher. The realtime hub depends on this
// service, so it is attached after both are built.
func (s *ConsultationService) SetEventPublisher(events EventPublisher) {
	if events == nil {
		events = nopPublisher{}
	}
	s.events = events
}

type CreateConsultationInput struct {
	ProviderID int64
	Modality   models.Modality
}

type ListConsultationsInput struct {
	Status models.ConsultationStatus
	Page   int
	Limit  int
}

type RateConsultationInput struct {
	Stars  int
	Review *string
	Tags   []string
}

func (s *ConsultationService) Create(
	ctx context.Context,
	requesterID int64,
	input CreateConsultationInput,
) (*models.Consultation, error) {
	if !input.Modality.Valid() {
		return nil, validationf("unsupported modality %q", input.Modality)
	}
	if input.ProviderID <= 0 {
		return nil, validationf("provider_id is required")
	}
	if input.ProviderID == requesterID {
		return nil, validationf("cannot book a consultation with yourself")
	}

	provider, err := s.store.Providers().GetByUserID(ctx, input.ProviderID)
	if err != nil {
		return nil, translateStoreError(err, "provider")
	}
	if !provider.Modes.Offers(input.Modality) {
		return nil, validationf("%s consultation is not available for this provider", input.Modality)
	}
	rate := provider.Rates.For(input.Modality)

	balance := models.Amount(0)
	wallet, err := s.store.Wallets().GetByUserID(ctx, requesterID)
	switch {
	case err == nil:
		balance = wallet.Balance
	case !repository.IsNotFound(err):
		return nil, err
	}
	if balance < rate {
		return nil, validationf("insufficient wallet balance: %s is below the rate %s", balance, rate)
	}

	var created *models.Consultation
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		created, err = q.Consultations().Create(ctx, repository.CreateConsultationInput{
			Code:        newConsultationCode(),
			RequesterID: requesterID,
			ProviderID:  provider.UserID,
			Modality:    input.Modality,
			Rate:        rate,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(models.StatusPending))
	s.notifier.Notify(ctx, models.Notification{
		UserID:  provider.UserID,
		Title:   "New Consultation Request",
		Message: fmt.Sprintf("New %s consultation request", input.Modality),
		Kind:    NotificationKindRequest,
		Data:    map[string]any{"consultation_id": created.ID, "code": created.Code},
	})
	s.events.PublishToUsers([]int64{provider.UserID}, EventConsultationRequested, RequestedEvent{
		ConsultationID: created.ID,
		Code:           created.Code,
		RequesterID:    requesterID,
		Modality:       created.Modality,
		Rate:           created.Rate,
	})
	return created, nil
}

func (s *ConsultationService) Get(ctx context.Context, actorID int64, id int64) (*models.Consultation, error) {
	consultation, err := s.store.Consultations().GetByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "consultation")
	}
	if !consultation.IsParticipant(actorID) {
		return nil, ErrForbidden
	}

	messages, _, err := s.store.Messages().ListByConsultation(ctx, id, detailMessageLimit, 0)
	if err != nil {
		return nil, err
	}
	consultation.Messages = messages
	return consultation, nil
}

func (s *ConsultationService) List(
	ctx context.Context,
	actorID int64,
	input ListConsultationsInput,
) ([]models.Consultation, int, error) {
	if input.Status != "" && !input.Status.Valid() {
		return nil, 0, validationf("unknown status %q", input.Status)
	}
	if input.Page <= 0 {
		input.Page = 1
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}
	return s.store.Consultations().List(ctx, models.ConsultationListFilter{
		ParticipantID: actorID,
		Status:        input.Status,
		Limit:         input.Limit,
		Offset:        (input.Page - 1) * input.Limit,
	})
}

// History lists the most recent completed consultations of actorID.
func (s *ConsultationService) History(ctx context.Context, actorID int64) ([]models.Consultation, error) {
	consultations, _, err := s.store.Consultations().List(ctx, models.ConsultationListFilter{
		ParticipantID: actorID,
		Status:        models.StatusCompleted,
		Limit:         HistoryLimit,
	})
	return consultations, err
}

func (s *ConsultationService) Messages(
	ctx context.Context,
	actorID int64,
	id int64,
	page int,
	limit int,
) ([]models.ConsultationMessage, int, error) {
	consultation, err := s.store.Consultations().GetByID(ctx, id)
	if err != nil {
		return nil, 0, translateStoreError(err, "consultation")
	}
	if !consultation.IsParticipant(actorID) {
		return nil, 0, ErrForbidden
	}
	if page <= 0 {
		page = 1
	}
	return s.store.Messages().ListByConsultation(ctx, id, limit, (page-1)*limit)
}

func (s *ConsultationService) Start(ctx context.Context, actorID int64, id int64) (*models.Consultation, error) {
	var started *models.Consultation
	err := s.withSessionLock(ctx, id, func() error {
		return s.store.InTx(ctx, func(q repository.Queries) error {
			consultation, err := q.Consultations().GetByIDForUpdate(ctx, id)
			if err != nil {
				return translateStoreError(err, "consultation")
			}
			if consultation.ProviderID != actorID {
				return fmt.Errorf("%w: only the provider can start a consultation", ErrForbidden)
			}
			if !consultation.Status.CanTransition(models.StatusOngoing) {
				return fmt.Errorf("%w: cannot start a %s consultation", ErrInvalidStateTransition, consultation.Status)
			}

			now := s.clock.Now()
			consultation.Status = models.StatusOngoing
			consultation.StartTime = &now
			started, err = q.Consultations().UpdateIfVersion(ctx, consultation)
			return translateStoreError(err, "consultation")
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(models.StatusOngoing))
	s.events.PublishToUsers(participants(started), EventConsultationStarted, StartedEvent{
		ConsultationID: started.ID,
		StartTime:      *started.StartTime,
	})
	return started, nil
}

// End completes an ongoing consultation and settles it in the same
// transaction. Ending an already completed consultation returns the stored
// result without settling again or broadcasting.
func (s *ConsultationService) End(ctx context.Context, actorID int64, id int64) (*models.Consultation, error) {
	var (
		ended            *models.Consultation
		alreadyCompleted bool
		billedUntil      time.Time
	)

	err := s.withSessionLock(ctx, id, func() error {
		var err error
		for attempt := 1; ; attempt++ {
			err = s.store.InTx(ctx, func(q repository.Queries) error {
				consultation, err := q.Consultations().GetByIDForUpdate(ctx, id)
				if err != nil {
					return translateStoreError(err, "consultation")
				}
				if !consultation.IsParticipant(actorID) {
					return fmt.Errorf("%w: not a participant of this consultation", ErrForbidden)
				}
				switch consultation.Status {
				case models.StatusCompleted:
					ended, alreadyCompleted = consultation, true
					return nil
				case models.StatusOngoing:
				default:
					return fmt.Errorf("%w: cannot end a %s consultation", ErrInvalidStateTransition, consultation.Status)
				}

				billedUntil = s.clock.Now()
				if consultation.EndRequestedAt != nil {
					billedUntil = *consultation.EndRequestedAt
				}
				settlement, err := s.settler.Settle(ctx, q, consultation, billedUntil)
				if err != nil {
					return err
				}

				endTime := billedUntil
				consultation.Status = models.StatusCompleted
				consultation.EndTime = &endTime
				consultation.DurationMinutes = settlement.DurationMinutes
				consultation.TotalAmount = settlement.TotalAmount
				ended, err = q.Consultations().UpdateIfVersion(ctx, consultation)
				return translateStoreError(err, "consultation")
			})
			if !errors.Is(err, ErrConflict) || attempt >= maxSettleAttempts {
				return err
			}
			s.log.Warn("settlement conflict, retrying",
				zap.Int64("consultation_id", id),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(settleRetryBackoff * time.Duration(attempt)):
			}
		}
	})
	if errors.Is(err, ErrInsufficientFunds) {
		s.blockSettlement(ctx, id, billedUntil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if alreadyCompleted {
		return ended, nil
	}

	s.metrics.RecordTransition(string(models.StatusCompleted))
	s.events.PublishToUsers(participants(ended), EventConsultationEnded, EndedEvent{
		ConsultationID: ended.ID,
		EndTime:        *ended.EndTime,
		Duration:       ended.DurationMinutes,
		TotalAmount:    ended.TotalAmount,
	})
	s.notifier.Notify(ctx, models.Notification{
		UserID:  ended.ProviderID,
		Title:   "Consultation Completed",
		Message: fmt.Sprintf("Consultation %s completed, %d min, earned %s", ended.Code, ended.DurationMinutes, ended.TotalAmount),
		Kind:    NotificationKindCompleted,
		Data:    map[string]any{"consultation_id": ended.ID, "total_amount": ended.TotalAmount.String()},
	})
	return ended, nil
}

// blockSettlement freezes the meter of a consultation whose settlement failed
// for lack of funds: the first failed attempt records the instant billing
// stops, so a retry after a top-up charges the same amount. Both parties are
// told the session is still open.
func (s *ConsultationService) blockSettlement(ctx context.Context, id int64, billedUntil time.Time) {
	var frozen *models.Consultation
	err := s.withSessionLock(ctx, id, func() error {
		return s.store.InTx(ctx, func(q repository.Queries) error {
			consultation, err := q.Consultations().GetByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if consultation.Status != models.StatusOngoing {
				return nil
			}
			if consultation.EndRequestedAt == nil {
				consultation.EndRequestedAt = &billedUntil
				consultation, err = q.Consultations().UpdateIfVersion(ctx, consultation)
				if err != nil {
					return err
				}
			}
			frozen = consultation
			return nil
		})
	})
	if err != nil {
		s.log.Error("freeze consultation meter failed", zap.Int64("consultation_id", id), zap.Error(err))
		return
	}
	if frozen == nil {
		return
	}

	minutes := BillableMinutes(frozen.StartTime, *frozen.EndRequestedAt)
	total, _ := frozen.Rate.MulMinutes(minutes)
	s.events.PublishToUsers(participants(frozen), EventConsultationSettlementBlocked, SettlementBlockedEvent{
		ConsultationID: frozen.ID,
		BilledUntil:    *frozen.EndRequestedAt,
		Duration:       minutes,
		TotalAmount:    total,
	})
	for _, userID := range participants(frozen) {
		s.notifier.Notify(ctx, models.Notification{
			UserID:  userID,
			Title:   "Consultation Not Settled",
			Message: fmt.Sprintf("Consultation %s could not be settled: %s is due. Top up and end it again.", frozen.Code, total),
			Kind:    NotificationKindSettlementBlocked,
			Data:    map[string]any{"consultation_id": frozen.ID, "total_amount": total.String()},
		})
	}
	s.log.Warn("settlement blocked by insufficient funds",
		zap.Int64("consultation_id", frozen.ID),
		zap.String("due", total.String()),
	)
}

func (s *ConsultationService) Cancel(ctx context.Context, actorID int64, id int64) (*models.Consultation, error) {
	var cancelled *models.Consultation
	err := s.withSessionLock(ctx, id, func() error {
		return s.store.InTx(ctx, func(q repository.Queries) error {
			consultation, err := q.Consultations().GetByIDForUpdate(ctx, id)
			if err != nil {
				return translateStoreError(err, "consultation")
			}
			if consultation.RequesterID != actorID {
				return fmt.Errorf("%w: only the requester can cancel a consultation", ErrForbidden)
			}
			if !consultation.Status.CanTransition(models.StatusCancelled) {
				return fmt.Errorf("%w: cannot cancel a %s consultation", ErrInvalidStateTransition, consultation.Status)
			}

			now := s.clock.Now()
			consultation.Status = models.StatusCancelled
			consultation.EndTime = &now
			cancelled, err = q.Consultations().UpdateIfVersion(ctx, consultation)
			return translateStoreError(err, "consultation")
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(models.StatusCancelled))
	s.events.PublishToUsers(participants(cancelled), EventConsultationCancelled, CancelledEvent{
		ConsultationID: cancelled.ID,
		CancelledBy:    actorID,
	})
	s.notifier.Notify(ctx, models.Notification{
		UserID:  cancelled.ProviderID,
		Title:   "Consultation Cancelled",
		Message: fmt.Sprintf("Consultation %s was cancelled by the requester", cancelled.Code),
		Kind:    NotificationKindCancelled,
		Data:    map[string]any{"consultation_id": cancelled.ID},
	})
	return cancelled, nil
}

func (s *ConsultationService) Rate(
	ctx context.Context,
	actorID int64,
	id int64,
	input RateConsultationInput,
) (*models.Consultation, error) {
	if input.Stars < 1 || input.Stars > 5 {
		return nil, validationf("rating must be between 1 and 5")
	}
	if input.Review != nil {
		trimmed := strings.TrimSpace(*input.Review)
		if trimmed == "" {
			input.Review = nil
		} else {
			input.Review = &trimmed
		}
	}
	tags := make([]string, 0, len(input.Tags))
	for _, tag := range input.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	var rated *models.Consultation
	err := s.withSessionLock(ctx, id, func() error {
		return s.store.InTx(ctx, func(q repository.Queries) error {
			consultation, err := q.Consultations().GetByIDForUpdate(ctx, id)
			if err != nil {
				return translateStoreError(err, "consultation")
			}
			if consultation.RequesterID != actorID {
				return fmt.Errorf("%w: only the requester can rate a consultation", ErrForbidden)
			}
			if consultation.Status != models.StatusCompleted {
				return fmt.Errorf("%w: only completed consultations can be rated", ErrInvalidStateTransition)
			}

			err = q.Consultations().SetRating(ctx, id, models.ConsultationRating{
				Stars:   input.Stars,
				Review:  input.Review,
				Tags:    tags,
				RatedAt: s.clock.Now(),
			})
			if errors.Is(err, repository.ErrAlreadyRated) {
				return fmt.Errorf("%w: consultation already rated", ErrConflict)
			}
			if err != nil {
				return err
			}
			if _, err := q.Providers().ApplyRating(ctx, consultation.ProviderID, input.Stars); err != nil {
				return translateStoreError(err, "provider")
			}

			rated, err = q.Consultations().GetByID(ctx, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, models.Notification{
		UserID:  rated.ProviderID,
		Title:   "New Rating",
		Message: fmt.Sprintf("Consultation %s was rated %d/5", rated.Code, input.Stars),
		Kind:    NotificationKindRating,
		Data:    map[string]any{"consultation_id": rated.ID, "stars": input.Stars},
	})
	return rated, nil
}

func (s *ConsultationService) withSessionLock(ctx context.Context, id int64, fn func() error) error {
	release, err := s.locker.Lock(ctx, consultationLockKey(id))
	if err != nil {
		return fmt.Errorf("lock consultation %d: %w", id, err)
	}
	defer release()
	return fn()
}

func consultationLockKey(id int64) string {
	return "consultation:" + strconv.FormatInt(id, 10)
}

func participants(consultation *models.Consultation) []int64 {
	return []int64{consultation.RequesterID, consultation.ProviderID}
}
