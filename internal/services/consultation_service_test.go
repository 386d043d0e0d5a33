package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/saeid-a/ConsultBack/internal/clock"
	"github.com/saeid-a/ConsultBack/internal/lock"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requesterID = int64(42)
	providerID  = int64(7)
	otherID     = int64(99)
)

type publishedEvent struct {
	userIDs []int64
	event   string
	data    any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishToUsers(userIDs []int64, event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{userIDs: userIDs, event: event, data: data})
}

func (p *recordingPublisher) named(event string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type recordingSink struct {
	mu            sync.Mutex
	notifications []models.Notification
}

func (s *recordingSink) Notify(_ context.Context, notification models.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, notification)
	return true
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	store     *memory.Store
	clock     *clock.FakeClock
	events    *recordingPublisher
	sink      *recordingSink
	service   *ConsultationService
	relay     *RelayService
	wallets   *WalletService
	ctx       context.Context
	startedAt time.Time
}

func newFixture(t *testing.T, requesterBalance models.Amount) *fixture {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	store := memory.NewStore(clk)
	store.PutProvider(models.Provider{
		UserID: providerID,
		Modes:  models.ConsultationModes{Chat: true, Video: true},
		Rates:  models.ConsultationRates{Chat: 1000, Video: 0},
	})
	store.PutWallet(models.Wallet{UserID: requesterID, Balance: requesterBalance, Currency: "INR"})

	events := &recordingPublisher{}
	sink := &recordingSink{}
	service := NewConsultationService(store, lock.NewKeyedMutex(), clk, NewSettler("INR", nil, nil), events, sink, nil, nil)
	return &fixture{
		store:   store,
		clock:   clk,
		events:  events,
		sink:    sink,
		service: service,
		relay:   NewRelayService(store, service),
		wallets: NewWalletService(store, "INR"),
		ctx:     context.Background(),
	}
}

func (f *fixture) ongoing(t *testing.T, modality models.Modality) *models.Consultation {
	t.Helper()
	created, err := f.service.Create(f.ctx, requesterID, CreateConsultationInput{ProviderID: providerID, Modality: modality})
	require.NoError(t, err)
	started, err := f.service.Start(f.ctx, providerID, created.ID)
	require.NoError(t, err)
	f.startedAt = *started.StartTime
	return started
}

// requireTimestamps checks that a start time exists once a session has been
// ongoing and that an end time exists exactly when the session is terminal.
func requireTimestamps(t *testing.T, consultation *models.Consultation, wasOngoing bool) {
	t.Helper()
	if wasOngoing {
		require.NotNil(t, consultation.StartTime, "start time for %s session", consultation.Status)
	} else {
		require.Nil(t, consultation.StartTime, "start time for %s session", consultation.Status)
	}
	if consultation.Status.Terminal() {
		require.NotNil(t, consultation.EndTime, "end time for %s session", consultation.Status)
	} else {
		require.Nil(t, consultation.EndTime, "end time for %s session", consultation.Status)
	}
}

func (f *fixture) wallet(t *testing.T, userID int64) *models.Wallet {
	t.Helper()
	wallet, err := f.wallets.Get(f.ctx, userID)
	require.NoError(t, err)
	return wallet
}

func TestFullLifecycleSettlesElapsedMinutes(t *testing.T) {
	f := newFixture(t, 10000)

	created, err := f.service.Create(f.ctx, requesterID, CreateConsultationInput{ProviderID: providerID, Modality: models.ModalityChat})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, models.Amount(1000), created.Rate)
	assert.Regexp(t, `^CON-[0-9A-F]{8}$`, created.Code)
	assert.Equal(t, []string{NotificationKindRequest}, f.sink.kinds())
	require.Len(t, f.events.named(EventConsultationRequested), 1)
	assert.Equal(t, []int64{providerID}, f.events.named(EventConsultationRequested)[0].userIDs)
	requireTimestamps(t, created, false)

	started, err := f.service.Start(f.ctx, providerID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOngoing, started.Status)
	requireTimestamps(t, started, true)

	f.clock.Advance(3 * time.Minute)
	ended, err := f.service.End(f.ctx, requesterID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, ended.Status)
	assert.Equal(t, 3, ended.DurationMinutes)
	assert.Equal(t, models.Amount(3000), ended.TotalAmount)
	requireTimestamps(t, ended, true)
	assert.True(t, ended.EndTime.Equal(started.StartTime.Add(3*time.Minute)))

	stored, err := f.store.Consultations().GetByID(f.ctx, created.ID)
	require.NoError(t, err)
	requireTimestamps(t, stored, true)

	assert.Equal(t, models.Amount(7000), f.wallet(t, requesterID).Balance)
	assert.Equal(t, models.Amount(3000), f.wallet(t, providerID).Earnings)

	entries, err := f.store.Ledger().ListByConsultation(f.ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.NoError(t, entry.Validate())
		assert.Regexp(t, `^TXN-[0-9A-F]{12}$`, entry.Reference)
	}
	assert.Equal(t, models.DirectionDebit, entries[0].Direction)
	assert.Equal(t, models.CategoryConsultation, entries[0].Category)
	assert.Equal(t, models.Amount(10000), entries[0].BalanceBefore)
	assert.Equal(t, models.Amount(7000), entries[0].BalanceAfter)
	assert.Equal(t, models.DirectionCredit, entries[1].Direction)
	assert.Equal(t, models.CategoryEarning, entries[1].Category)

	endedEvents := f.events.named(EventConsultationEnded)
	require.Len(t, endedEvents, 1)
	assert.ElementsMatch(t, []int64{requesterID, providerID}, endedEvents[0].userIDs)
	payload := endedEvents[0].data.(EndedEvent)
	assert.Equal(t, 3, payload.Duration)
	assert.Equal(t, models.Amount(3000), payload.TotalAmount)
}

func TestEndRoundsPartialMinutesUp(t *testing.T) {
	f := newFixture(t, 10000)
	consultation := f.ongoing(t, models.ModalityChat)

	f.clock.Advance(2*time.Minute + time.Second)
	ended, err := f.service.End(f.ctx, providerID, consultation.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, ended.DurationMinutes)
	assert.Equal(t, models.Amount(3000), ended.TotalAmount)
}

func TestCreateRejectsBalanceBelowRate(t *testing.T) {
	f := newFixture(t, 500)

	_, err := f.service.Create(f.ctx, requesterID, CreateConsultationInput{ProviderID: providerID, Modality: models.ModalityChat})
	require.ErrorIs(t, err, ErrValidation)

	list, total, err := f.service.List(f.ctx, requesterID, ListConsultationsInput{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
	assert.Empty(t, f.sink.kinds())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, 10000)

	cases := []struct {
		name  string
		input CreateConsultationInput
		want  error
	}{
		{"unknown modality", CreateConsultationInput{ProviderID: providerID, Modality: "smoke"}, ErrValidation},
		{"mode not offered", CreateConsultationInput{ProviderID: providerID, Modality: models.ModalityAudio}, ErrValidation},
		{"self booking", CreateConsultationInput{ProviderID: requesterID, Modality: models.ModalityChat}, ErrValidation},
		{"unknown provider", CreateConsultationInput{ProviderID: 404, Modality: models.ModalityChat}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Create(f.ctx, requesterID, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCancelOngoingIsInvalidState(t *testing.T) {
	f := newFixture(t, 10000)
	consultation := f.ongoing(t, models.ModalityChat)

	_, err := f.service.Cancel(f.ctx, requesterID, consultation.ID)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	stored, err := f.service.Get(f.ctx, requesterID, consultation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOngoing, stored.Status)
}

func TestCancelPendingByRequesterOnly(t *testing.T) {
	f := newFixture(t, 10000)
	created, err := f.service.Create(f.ctx, requesterID, CreateConsultationInput{ProviderID: providerID, Modality: models.ModalityChat})
	require.NoError(t, err)

	_, err = f.service.Cancel(f.ctx, providerID, created.ID)
	require.ErrorIs(t, err, ErrForbidden)

	f.clock.Advance(90 * time.Second)
	cancelled, err := f.service.Cancel(f.ctx, requesterID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	requireTimestamps(t, cancelled, false)
	assert.True(t, cancelled.EndTime.Equal(f.clock.Now()))

	stored, err := f.store.Consultations().GetByID(f.ctx, created.ID)
	require.NoError(t, err)
	requireTimestamps(t, stored, false)
	assert.Equal(t, models.Amount(10000), f.wallet(t, requesterID).Balance)
	require.Len(t, f.events.named(EventConsultationCancelled), 1)

	_, err = f.service.End(f.ctx, requesterID, created.ID)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestStartByRequesterIsForbidden(t *testing.T) {
	f := newFixture(t, 10000)
	created, err := f.service.Create(f.ctx, requesterID, CreateConsultationInput{ProviderID: providerID, Modality: models.ModalityChat})
	require.NoError(t, err)

	_, err = f.service.Start(f.ctx, requesterID, created.ID)
	require.ErrorIs(t, err, ErrForbidden)

	stored, err := f.service.Get(f.ctx, providerID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	_, err = f.service.Start(f.ctx, providerID, created.ID)
	require.NoError(t, err)
	_, err = f.service.Start(f.ctx, providerID, created.ID)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestEndPendingIsInvalidStateAndUnknownIsNotFound(t *testing.T) {
	f := newFixture(t, 10000)
	created, err := f.service.Create(f.ctx, requesterID, CreateConsultationInput{ProviderID: providerID, Modality: models.ModalityChat})
	require.NoError(t, err)

	_, err = f.service.End(f.ctx, providerID, created.ID)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = f.service.End(f.ctx, providerID, 404)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.service.End(f.ctx, otherID, created.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestEndTwiceSettlesOnce(t *testing.T) {
	f := newFixture(t, 10000)
	consultation := f.ongoing(t, models.ModalityChat)
	f.clock.Advance(3 * time.Minute)

	first, err := f.service.End(f.ctx, requesterID, consultation.ID)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	second, err := f.service.End(f.ctx, providerID, consultation.ID)
	require.NoError(t, err)

	assert.Equal(t, first.TotalAmount, second.TotalAmount)
	assert.Equal(t, first.EndTime, second.EndTime)
	assert.Equal(t, models.Amount(7000), f.wallet(t, requesterID).Balance)
	assert.Len(t, f.events.named(EventConsultationEnded), 1)

	entries, err := f.store.Ledger().ListByConsultation(f.ctx, consultation.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestConcurrentEndsFromBothParticipantsSettleOnce(t *testing.T) {
	f := newFixture(t, 10000)
	consultation := f.ongoing(t, models.ModalityChat)
	f.clock.Advance(4 * time.Minute)

	var wg sync.WaitGroup
	results := make([]*models.Consultation, 2)
	errs := make([]error, 2)
	for i, actor := range []int64{requesterID, providerID} {
		wg.Add(1)
		go func(i int, actor int64) {
			defer wg.Done()
			results[i], errs[i] = f.service.End(f.ctx, actor, consultation.ID)
		}(i, actor)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, models.StatusCompleted, results[i].Status)
		assert.Equal(t, models.Amount(4000), results[i].TotalAmount)
	}
	assert.Equal(t, models.Amount(6000), f.wallet(t, requesterID).Balance)
	assert.Equal(t, models.Amount(4000), f.wallet(t, providerID).Earnings)
	assert.Len(t, f.events.named(EventConsultationEnded), 1)

	entries, err := f.store.Ledger().ListByConsultation(f.ctx, consultation.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestConcurrentSettlementsNeverOverdrawRequester(t *testing.T) {
	f := newFixture(t, 3000)
	secondProvider := int64(8)
	f.store.PutProvider(models.Provider{
		UserID: secondProvider,
		Modes:  models.ConsultationModes{Chat: true},
		Rates:  models.ConsultationRates{Chat: 1000},
	})

	first := f.ongoing(t, models.ModalityChat)
	created, err := f.service.Create(f.ctx, requesterID, CreateConsultationInput{ProviderID: secondProvider, Modality: models.ModalityChat})
	require.NoError(t, err)
	second, err := f.service.Start(f.ctx, secondProvider, created.ID)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = f.service.End(f.ctx, requesterID, id)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrInsufficientFunds)
	}
	assert.Equal(t, 1, succeeded)
	balance := f.wallet(t, requesterID).Balance
	assert.Equal(t, models.Amount(0), balance)
	assert.GreaterOrEqual(t, int64(balance), int64(0))
}

func TestInsufficientFundsFreezesMeterUntilRetry(t *testing.T) {
	f := newFixture(t, 1000)
	consultation := f.ongoing(t, models.ModalityChat)
	f.clock.Advance(3 * time.Minute)
	frozenAt := f.clock.Now()

	_, err := f.service.End(f.ctx, requesterID, consultation.ID)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	stored, err := f.service.Get(f.ctx, requesterID, consultation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOngoing, stored.Status)
	assert.Nil(t, stored.EndTime)
	require.NotNil(t, stored.EndRequestedAt)
	requireTimestamps(t, stored, true)
	assert.True(t, frozenAt.Equal(*stored.EndRequestedAt))
	assert.Equal(t, models.Amount(1000), f.wallet(t, requesterID).Balance)
	assert.Empty(t, f.events.named(EventConsultationEnded))
	require.Len(t, f.events.named(EventConsultationSettlementBlocked), 1)
	assert.Contains(t, f.sink.kinds(), NotificationKindSettlementBlocked)

	f.clock.Advance(10 * time.Minute)
	_, err = f.service.End(f.ctx, providerID, consultation.ID)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Len(t, f.events.named(EventConsultationSettlementBlocked), 2)

	f.store.PutWallet(models.Wallet{UserID: requesterID, Balance: 5000, Currency: "INR"})
	ended, err := f.service.End(f.ctx, requesterID, consultation.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, ended.DurationMinutes)
	assert.Equal(t, models.Amount(3000), ended.TotalAmount)
	assert.True(t, frozenAt.Equal(*ended.EndTime))
	assert.Equal(t, models.Amount(2000), f.wallet(t, requesterID).Balance)
}

func TestZeroRateSessionCompletesWithoutLedgerEntries(t *testing.T) {
	f := newFixture(t, 0)
	consultation := f.ongoing(t, models.ModalityVideo)
	f.clock.Advance(5 * time.Minute)

	ended, err := f.service.End(f.ctx, requesterID, consultation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, ended.Status)
	assert.Equal(t, 5, ended.DurationMinutes)
	assert.Zero(t, ended.TotalAmount)

	entries, err := f.store.Ledger().ListByConsultation(f.ctx, consultation.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRateCompletedConsultationOnce(t *testing.T) {
	f := newFixture(t, 10000)
	consultation := f.ongoing(t, models.ModalityChat)

	_, err := f.service.Rate(f.ctx, requesterID, consultation.ID, RateConsultationInput{Stars: 5})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	f.clock.Advance(time.Minute)
	_, err = f.service.End(f.ctx, requesterID, consultation.ID)
	require.NoError(t, err)

	_, err = f.service.Rate(f.ctx, providerID, consultation.ID, RateConsultationInput{Stars: 5})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.service.Rate(f.ctx, requesterID, consultation.ID, RateConsultationInput{Stars: 6})
	require.ErrorIs(t, err, ErrValidation)

	review := "  very helpful "
	rated, err := f.service.Rate(f.ctx, requesterID, consultation.ID, RateConsultationInput{
		Stars:  4,
		Review: &review,
		Tags:   []string{"clear", " "},
	})
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 4, rated.Rating.Stars)
	assert.Equal(t, "very helpful", *rated.Rating.Review)
	assert.Equal(t, []string{"clear"}, rated.Rating.Tags)

	_, err = f.service.Rate(f.ctx, requesterID, consultation.ID, RateConsultationInput{Stars: 3})
	require.ErrorIs(t, err, ErrConflict)

	provider, err := f.store.Providers().GetByUserID(f.ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.RatingCount)
	assert.InDelta(t, 4.0, provider.RatingAverage, 0.001)
}

func TestGetRejectsNonParticipant(t *testing.T) {
	f := newFixture(t, 10000)
	created, err := f.service.Create(f.ctx, requesterID, CreateConsultationInput{ProviderID: providerID, Modality: models.ModalityChat})
	require.NoError(t, err)

	_, err = f.service.Get(f.ctx, otherID, created.ID)
	require.ErrorIs(t, err, ErrForbidden)
	_, _, err = f.service.Messages(f.ctx, otherID, created.ID, 1, 10)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestListAndHistory(t *testing.T) {
	f := newFixture(t, 10000)
	done := f.ongoing(t, models.ModalityChat)
	f.clock.Advance(time.Minute)
	_, err := f.service.End(f.ctx, requesterID, done.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.service.Create(f.ctx, requesterID, CreateConsultationInput{ProviderID: providerID, Modality: models.ModalityChat})
	require.NoError(t, err)

	all, total, err := f.service.List(f.ctx, providerID, ListConsultationsInput{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, models.StatusPending, all[0].Status)

	pending, total, err := f.service.List(f.ctx, requesterID, ListConsultationsInput{Status: models.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, pending, 1)

	history, err := f.service.History(f.ctx, requesterID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, done.ID, history[0].ID)

	_, _, err = f.service.List(f.ctx, requesterID, ListConsultationsInput{Status: "archived"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		ErrValidation:             CodeValidation,
		ErrForbidden:              CodeAuthorization,
		ErrNotFound:               CodeNotFound,
		ErrInvalidStateTransition: CodeInvalidState,
		ErrInsufficientFunds:      CodeInsufficientFunds,
		ErrConflict:               CodeConflict,
		errors.New("pq: boom"):    CodeInternal,
	}
	for err, want := range cases {
		assert.Equal(t, want, ErrorCode(err))
	}
	assert.Equal(t, "internal error", PublicMessage(errors.New("pq: connection refused")))
}

func TestBillableMinutes(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{time.Second, 1},
		{time.Minute, 1},
		{time.Minute + time.Millisecond, 2},
		{59*time.Minute + 59*time.Second, 60},
		{-time.Minute, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BillableMinutes(&start, start.Add(tc.elapsed)), tc.elapsed.String())
	}
	assert.Zero(t, BillableMinutes(nil, start))
}
