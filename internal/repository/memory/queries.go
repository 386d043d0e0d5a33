package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/repository"
)

var errCheckViolation = errors.New("check constraint violated")

type queries struct {
	store *Store
	tx    *state
}

func (q *queries) Consultations() repository.ConsultationQueries { return consultationQueries{q} }
func (q *queries) Wallets() repository.WalletQueries             { return walletQueries{q} }
func (q *queries) Ledger() repository.LedgerQueries              { return ledgerQueries{q} }
func (q *queries) Providers() repository.ProviderQueries         { return providerQueries{q} }
func (q *queries) Messages() repository.MessageQueries           { return messageQueries{q} }
func (q *queries) Notifications() repository.NotificationQueries { return notificationQueries{q} }

func (q *queries) read() (*state, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.store.mu.RLock()
	return q.store.data, q.store.mu.RUnlock
}

func (q *queries) write() (*state, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.store.txMu.Lock()
	q.store.mu.Lock()
	return q.store.data, func() {
		q.store.mu.Unlock()
		q.store.txMu.Unlock()
	}
}

func (q *queries) now() time.Time {
	return q.store.clock.Now()
}

type consultationQueries struct{ q *queries }

func (c consultationQueries) Create(
	ctx context.Context,
	input repository.CreateConsultationInput,
) (*models.Consultation, error) {
	if input.RequesterID == input.ProviderID {
		return nil, fmt.Errorf("%w: requester and provider must differ", errCheckViolation)
	}
	st, done := c.q.write()
	defer done()

	for _, existing := range st.consultations {
		if existing.Code == input.Code {
			return nil, fmt.Errorf("duplicate consultation code %q", input.Code)
		}
	}

	now := c.q.now()
	st.nextConsultationID++
	consultation := models.Consultation{
		ID:          st.nextConsultationID,
		Code:        input.Code,
		RequesterID: input.RequesterID,
		ProviderID:  input.ProviderID,
		Modality:    input.Modality,
		Status:      models.StatusPending,
		Rate:        input.Rate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	st.consultations[consultation.ID] = consultation
	return withRating(st, consultation), nil
}

func (c consultationQueries) GetByID(_ context.Context, id int64) (*models.Consultation, error) {
	st, done := c.q.read()
	defer done()

	consultation, ok := st.consultations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return withRating(st, consultation), nil
}

func (c consultationQueries) GetByIDForUpdate(ctx context.Context, id int64) (*models.Consultation, error) {
	return c.GetByID(ctx, id)
}

func (c consultationQueries) UpdateIfVersion(
	_ context.Context,
	consultation *models.Consultation,
) (*models.Consultation, error) {
	st, done := c.q.write()
	defer done()

	stored, ok := st.consultations[consultation.ID]
	if !ok || stored.Version != consultation.Version {
		return nil, repository.ErrVersionConflict
	}
	if consultation.Status == models.StatusOngoing && consultation.StartTime == nil {
		return nil, fmt.Errorf("%w: ongoing consultation without start time", errCheckViolation)
	}
	if consultation.Status.Terminal() != (consultation.EndTime != nil) {
		return nil, fmt.Errorf("%w: end time must be set exactly when %s is terminal", errCheckViolation, consultation.Status)
	}
	if consultation.DurationMinutes < 0 || consultation.TotalAmount < 0 {
		return nil, fmt.Errorf("%w: negative duration or amount", errCheckViolation)
	}

	stored.Status = consultation.Status
	stored.StartTime = copyTime(consultation.StartTime)
	stored.EndTime = copyTime(consultation.EndTime)
	stored.EndRequestedAt = copyTime(consultation.EndRequestedAt)
	stored.DurationMinutes = consultation.DurationMinutes
	stored.TotalAmount = consultation.TotalAmount
	stored.Version++
	stored.UpdatedAt = c.q.now()
	st.consultations[stored.ID] = stored
	return withRating(st, stored), nil
}

func (c consultationQueries) List(
	_ context.Context,
	filter models.ConsultationListFilter,
) ([]models.Consultation, int, error) {
	st, done := c.q.read()
	defer done()

	matched := make([]models.Consultation, 0)
	for _, consultation := range st.consultations {
		if !consultation.IsParticipant(filter.ParticipantID) {
			continue
		}
		if filter.Status != "" && consultation.Status != filter.Status {
			continue
		}
		matched = append(matched, *withRating(st, consultation))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return paginate(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (c consultationQueries) SetRating(
	_ context.Context,
	consultationID int64,
	rating models.ConsultationRating,
) error {
	if rating.Stars < 1 || rating.Stars > 5 {
		return fmt.Errorf("%w: stars out of range", errCheckViolation)
	}
	st, done := c.q.write()
	defer done()

	if _, ok := st.consultations[consultationID]; !ok {
		return pgx.ErrNoRows
	}
	if _, exists := st.ratings[consultationID]; exists {
		return repository.ErrAlreadyRated
	}
	rating.Tags = append([]string{}, rating.Tags...)
	st.ratings[consultationID] = rating
	return nil
}

func withRating(st *state, consultation models.Consultation) *models.Consultation {
	consultation.StartTime = copyTime(consultation.StartTime)
	consultation.EndTime = copyTime(consultation.EndTime)
	consultation.EndRequestedAt = copyTime(consultation.EndRequestedAt)
	consultation.Rating = nil
	if rating, ok := st.ratings[consultation.ID]; ok {
		rating.Tags = append([]string{}, rating.Tags...)
		consultation.Rating = &rating
	}
	return &consultation
}

type walletQueries struct{ q *queries }

func (w walletQueries) GetByUserID(_ context.Context, userID int64) (*models.Wallet, error) {
	st, done := w.q.read()
	defer done()

	wallet, ok := st.wallets[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &wallet, nil
}

func (w walletQueries) GetByUserIDForUpdate(ctx context.Context, userID int64) (*models.Wallet, error) {
	return w.GetByUserID(ctx, userID)
}

func (w walletQueries) EnsureForUpdate(_ context.Context, userID int64, currency string) (*models.Wallet, error) {
	st, done := w.q.write()
	defer done()

	wallet, ok := st.wallets[userID]
	if !ok {
		wallet = models.Wallet{UserID: userID, Currency: currency, UpdatedAt: w.q.now()}
		st.wallets[userID] = wallet
	}
	return &wallet, nil
}

func (w walletQueries) UpdateIfVersion(_ context.Context, wallet *models.Wallet) (*models.Wallet, error) {
	if wallet.Balance < 0 || wallet.Earnings < 0 {
		return nil, fmt.Errorf("%w: wallet %d would go negative", errCheckViolation, wallet.UserID)
	}
	st, done := w.q.write()
	defer done()

	stored, ok := st.wallets[wallet.UserID]
	if !ok || stored.Version != wallet.Version {
		return nil, repository.ErrVersionConflict
	}
	stored.Balance = wallet.Balance
	stored.Earnings = wallet.Earnings
	stored.Version++
	stored.UpdatedAt = w.q.now()
	st.wallets[stored.UserID] = stored
	return &stored, nil
}

type ledgerQueries struct{ q *queries }

func (l ledgerQueries) Append(_ context.Context, entry models.LedgerEntry) (*models.LedgerEntry, bool, error) {
	if err := entry.Validate(); err != nil {
		return nil, false, err
	}
	st, done := l.q.write()
	defer done()

	for _, existing := range st.ledger {
		if entry.ConsultationID != nil && existing.ConsultationID != nil &&
			*existing.ConsultationID == *entry.ConsultationID &&
			existing.UserID == entry.UserID &&
			existing.Category == entry.Category {
			return copyEntry(existing), false, nil
		}
		if existing.Reference == entry.Reference {
			return nil, false, fmt.Errorf("duplicate ledger reference %q", entry.Reference)
		}
	}

	st.nextLedgerID++
	entry.ID = st.nextLedgerID
	entry.CreatedAt = l.q.now()
	if entry.ConsultationID != nil {
		id := *entry.ConsultationID
		entry.ConsultationID = &id
	}
	st.ledger = append(st.ledger, entry)
	return copyEntry(entry), true, nil
}

func (l ledgerQueries) ListByUser(
	_ context.Context,
	userID int64,
	limit int,
	offset int,
) ([]models.LedgerEntry, int, error) {
	st, done := l.q.read()
	defer done()

	matched := make([]models.LedgerEntry, 0)
	for i := len(st.ledger) - 1; i >= 0; i-- {
		if st.ledger[i].UserID == userID {
			matched = append(matched, *copyEntry(st.ledger[i]))
		}
	}
	return paginate(matched, limit, offset), len(matched), nil
}

func (l ledgerQueries) ListByConsultation(_ context.Context, consultationID int64) ([]models.LedgerEntry, error) {
	st, done := l.q.read()
	defer done()

	matched := make([]models.LedgerEntry, 0)
	for _, entry := range st.ledger {
		if entry.ConsultationID != nil && *entry.ConsultationID == consultationID {
			matched = append(matched, *copyEntry(entry))
		}
	}
	return matched, nil
}

func copyEntry(entry models.LedgerEntry) *models.LedgerEntry {
	if entry.ConsultationID != nil {
		id := *entry.ConsultationID
		entry.ConsultationID = &id
	}
	return &entry
}

type providerQueries struct{ q *queries }

func (p providerQueries) GetByUserID(_ context.Context, userID int64) (*models.Provider, error) {
	st, done := p.q.read()
	defer done()

	provider, ok := st.providers[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	provider.ServiceCategories = append([]models.CategoryRef{}, provider.ServiceCategories...)
	return &provider, nil
}

func (p providerQueries) ApplyRating(_ context.Context, userID int64, stars int) (*models.Provider, error) {
	st, done := p.q.write()
	defer done()

	provider, ok := st.providers[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	total := provider.RatingAverage*float64(provider.RatingCount) + float64(stars)
	provider.RatingCount++
	provider.RatingAverage = math.Round(total/float64(provider.RatingCount)*100) / 100
	st.providers[userID] = provider

	provider.ServiceCategories = append([]models.CategoryRef{}, provider.ServiceCategories...)
	return &provider, nil
}

type messageQueries struct{ q *queries }

func (m messageQueries) Create(
	_ context.Context,
	input repository.AppendMessageInput,
) (*models.ConsultationMessage, error) {
	st, done := m.q.write()
	defer done()

	if _, ok := st.consultations[input.ConsultationID]; !ok {
		return nil, fmt.Errorf("%w: unknown consultation %d", errCheckViolation, input.ConsultationID)
	}
	st.nextMessageID++
	message := models.ConsultationMessage{
		ID:             st.nextMessageID,
		ConsultationID: input.ConsultationID,
		SenderID:       input.SenderID,
		Body:           input.Body,
		Kind:           input.Kind,
		SentAt:         m.q.now(),
	}
	st.messages[input.ConsultationID] = append(st.messages[input.ConsultationID], message)
	return &message, nil
}

func (m messageQueries) ListByConsultation(
	_ context.Context,
	consultationID int64,
	limit int,
	offset int,
) ([]models.ConsultationMessage, int, error) {
	st, done := m.q.read()
	defer done()

	messages := append([]models.ConsultationMessage{}, st.messages[consultationID]...)
	return paginate(messages, limit, offset), len(messages), nil
}

type notificationQueries struct{ q *queries }

func (n notificationQueries) Create(
	_ context.Context,
	notification models.Notification,
) (*models.Notification, error) {
	st, done := n.q.write()
	defer done()

	st.nextNotificationID++
	notification.ID = st.nextNotificationID
	notification.CreatedAt = n.q.now()
	if notification.Data == nil {
		notification.Data = map[string]any{}
	}
	st.notifications = append(st.notifications, notification)
	return &notification, nil
}

func paginate[T any](items []T, limit int, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
