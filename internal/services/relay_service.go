package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/repository"
)

const maxMessageLength = 4000

// RelayService is what the realtime channel needs from the domain: join
// checks, durable chat messages and the same Start/End path as REST.
type RelayService struct {
	store         repository.Store
	consultations *ConsultationService
}

func NewRelayService(store repository.Store, consultations *ConsultationService) *RelayService {
	return &RelayService{store: store, consultations: consultations}
}

type JoinResult struct {
	Consultation *models.Consultation
	PeerID       int64
	Messages     []models.ConsultationMessage
}

type MessageDelivery struct {
	Message     *models.ConsultationMessage
	RecipientID int64
}

func (s *RelayService) Join(ctx context.Context, actorID int64, consultationID int64) (*JoinResult, error) {
	consultation, err := s.store.Consultations().GetByID(ctx, consultationID)
	if err != nil {
		return nil, translateStoreError(err, "consultation")
	}
	peerID, ok := consultation.PeerOf(actorID)
	if !ok {
		return nil, fmt.Errorf("%w: not a participant of this consultation", ErrForbidden)
	}

	messages, _, err := s.store.Messages().ListByConsultation(ctx, consultationID, detailMessageLimit, 0)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Consultation: consultation, PeerID: peerID, Messages: messages}, nil
}

func (s *RelayService) SendMessage(
	ctx context.Context,
	actorID int64,
	consultationID int64,
	body string,
	kind models.MessageKind,
) (*MessageDelivery, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, validationf("message must not be empty")
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return nil, validationf("message exceeds %d characters", maxMessageLength)
	}
	if kind == "" {
		kind = models.MessageKindText
	}
	if !kind.Valid() {
		return nil, validationf("unsupported message kind %q", kind)
	}

	consultation, err := s.store.Consultations().GetByID(ctx, consultationID)
	if err != nil {
		return nil, translateStoreError(err, "consultation")
	}
	peerID, ok := consultation.PeerOf(actorID)
	if !ok {
		return nil, fmt.Errorf("%w: not a participant of this consultation", ErrForbidden)
	}
	if consultation.Status.Terminal() {
		return nil, fmt.Errorf("%w: consultation is %s", ErrInvalidStateTransition, consultation.Status)
	}

	message, err := s.store.Messages().Create(ctx, repository.AppendMessageInput{
		ConsultationID: consultationID,
		SenderID:       actorID,
		Body:           body,
		Kind:           kind,
	})
	if err != nil {
		return nil, err
	}
	return &MessageDelivery{Message: message, RecipientID: peerID}, nil
}

func (s *RelayService) Start(ctx context.Context, actorID int64, consultationID int64) (*models.Consultation, error) {
	return s.consultations.Start(ctx, actorID, consultationID)
}

func (s *RelayService) End(ctx context.Context, actorID int64, consultationID int64) (*models.Consultation, error) {
	return s.consultations.End(ctx, actorID, consultationID)
}
