package models

import "time"

type Modality string

const (
	ModalityChat  Modality = "chat"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

func (m Modality) Valid() bool {
	switch m {
	case ModalityChat, ModalityAudio, ModalityVideo:
		return true
	default:
		return false
	}
}

type ConsultationStatus string

const (
	StatusPending   ConsultationStatus = "pending"
	StatusOngoing   ConsultationStatus = "ongoing"
	StatusCompleted ConsultationStatus = "completed"
	StatusCancelled ConsultationStatus = "cancelled"
)

func (s ConsultationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s ConsultationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether next is a legal successor of s.
// ongoing -> cancelled is not an edge: time already spent is always settled.
func (s ConsultationStatus) CanTransition(next ConsultationStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusOngoing || next == StatusCancelled
	case StatusOngoing:
		return next == StatusCompleted
	default:
		return false
	}
}

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindFile:
		return true
	default:
		return false
	}
}

type Consultation struct {
	ID              int64                 `json:"id"`
	Code            string                `json:"code"`
	RequesterID     int64                 `json:"requester_id"`
	ProviderID      int64                 `json:"provider_id"`
	Modality        Modality              `json:"modality"`
	Status          ConsultationStatus    `json:"status"`
	StartTime       *time.Time            `json:"start_time,omitempty"`
	EndTime         *time.Time            `json:"end_time,omitempty"`
	EndRequestedAt  *time.Time            `json:"end_requested_at,omitempty"`
	DurationMinutes int                   `json:"duration_minutes"`
	Rate            Amount                `json:"rate"`
	TotalAmount     Amount                `json:"total_amount"`
	Messages        []ConsultationMessage `json:"messages,omitempty"`
	Rating          *ConsultationRating   `json:"rating,omitempty"`
	Version         int64                 `json:"-"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func (c *Consultation) IsParticipant(userID int64) bool {
	return c.RequesterID == userID || c.ProviderID == userID
}

// PeerOf returns the other participant of the consultation.
func (c *Consultation) PeerOf(userID int64) (int64, bool) {
	switch userID {
	case c.RequesterID:
		return c.ProviderID, true
	case c.ProviderID:
		return c.RequesterID, true
	default:
		return 0, false
	}
}

type ConsultationMessage struct {
	ID             int64       `json:"id"`
	ConsultationID int64       `json:"consultation_id"`
	SenderID       int64       `json:"sender_id"`
	Body           string      `json:"body"`
	Kind           MessageKind `json:"kind"`
	SentAt         time.Time   `json:"sent_at"`
}

type ConsultationRating struct {
	Stars   int       `json:"stars"`
	Review  *string   `json:"review,omitempty"`
	Tags    []string  `json:"tags"`
	RatedAt time.Time `json:"rated_at"`
}

type ConsultationListFilter struct {
	ParticipantID int64
	Status        ConsultationStatus
	Limit         int
	Offset        int
}
