package memory

import (
	"github.com/saeid-a/ConsultBack/internal/models"
)

type state struct {
	nextConsultationID int64
	nextMessageID      int64
	nextLedgerID       int64
	nextNotificationID int64

	consultations map[int64]models.Consultation
	ratings       map[int64]models.ConsultationRating
	messages      map[int64][]models.ConsultationMessage
	wallets       map[int64]models.Wallet
	providers     map[int64]models.Provider
	ledger        []models.LedgerEntry
	notifications []models.Notification
}

func newState() *state {
	return &state{
		consultations: make(map[int64]models.Consultation),
		ratings:       make(map[int64]models.ConsultationRating),
		messages:      make(map[int64][]models.ConsultationMessage),
		wallets:       make(map[int64]models.Wallet),
		providers:     make(map[int64]models.Provider),
	}
}

// clone copies every container. Stored values hold no shared mutable memory
// apart from the slices copied here, so a shallow copy per value is enough.
func (s *state) clone() *state {
	out := &state{
		nextConsultationID: s.nextConsultationID,
		nextMessageID:      s.nextMessageID,
		nextLedgerID:       s.nextLedgerID,
		nextNotificationID: s.nextNotificationID,
		consultations:      make(map[int64]models.Consultation, len(s.consultations)),
		ratings:            make(map[int64]models.ConsultationRating, len(s.ratings)),
		messages:           make(map[int64][]models.ConsultationMessage, len(s.messages)),
		wallets:            make(map[int64]models.Wallet, len(s.wallets)),
		providers:          make(map[int64]models.Provider, len(s.providers)),
		ledger:             append([]models.LedgerEntry(nil), s.ledger...),
		notifications:      append([]models.Notification(nil), s.notifications...),
	}
	for id, c := range s.consultations {
		out.consultations[id] = c
	}
	for id, r := range s.ratings {
		out.ratings[id] = r
	}
	for id, m := range s.messages {
		out.messages[id] = append([]models.ConsultationMessage(nil), m...)
	}
	for id, w := range s.wallets {
		out.wallets[id] = w
	}
	for id, p := range s.providers {
		out.providers[id] = p
	}
	return out
}
