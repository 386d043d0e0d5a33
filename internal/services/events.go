package services

import (
	"context"
	"time"

	"github.com/saeid-a/ConsultBack/internal/models"
)

const (
	EventConsultationRequested         = "consultation:requested"
	EventConsultationStarted           = "consultation:started"
	EventConsultationEnded             = "consultation:ended"
	EventConsultationCancelled         = "consultation:cancelled"
	EventConsultationSettlementBlocked = "consultation:settlement_blocked"
)

const (
	NotificationKindRequest           = "consultation_request"
	NotificationKindCompleted         = "consultation_completed"
	NotificationKindCancelled         = "consultation_cancelled"
	NotificationKindSettlementBlocked = "settlement_blocked"
	NotificationKindRating            = "consultation_rating"
)

// EventPublisher pushes a server event to every live connection of each user.
type EventPublisher interface {
	PublishToUsers(userIDs []int64, event string, data any)
}

// NotificationSink accepts fire-and-forget notifications.
type NotificationSink interface {
	Notify(ctx context.Context, notification models.Notification) bool
}

type nopPublisher struct{}

func (nopPublisher) PublishToUsers([]int64, string, any) {}

type nopSink struct{}

func (nopSink) Notify(context.Context, models.Notification) bool { return true }

type RequestedEvent struct {
	ConsultationID int64           `json:"consultation_id"`
	Code           string          `json:"code"`
	RequesterID    int64           `json:"requester_id"`
	Modality       models.Modality `json:"modality"`
	Rate           models.Amount   `json:"rate"`
}

type StartedEvent struct {
	ConsultationID int64     `json:"consultation_id"`
	StartTime      time.Time `json:"start_time"`
}

type EndedEvent struct {
	ConsultationID int64         `json:"consultation_id"`
	EndTime        time.Time     `json:"end_time"`
	Duration       int           `json:"duration"`
	TotalAmount    models.Amount `json:"total_amount"`
}

type CancelledEvent struct {
	ConsultationID int64 `json:"consultation_id"`
	CancelledBy    int64 `json:"cancelled_by"`
}

type SettlementBlockedEvent struct {
	ConsultationID int64         `json:"consultation_id"`
	BilledUntil    time.Time     `json:"billed_until"`
	Duration       int           `json:"duration"`
	TotalAmount    models.Amount `json:"total_amount"`
}
