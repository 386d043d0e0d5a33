package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/saeid-a/ConsultBack/internal/metrics"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/repository"
	"go.uber.org/zap"
)

// BillableMinutes is the billing policy for elapsed time: every started
// minute is charged in full, so 61 seconds bill as 2 minutes. A missing or
// non-positive interval bills nothing.
func BillableMinutes(start *time.Time, end time.Time) int {
	if start == nil {
		return 0
	}
	elapsed := end.Sub(*start)
	if elapsed <= 0 {
		return 0
	}
	minutes := int(elapsed / time.Minute)
	if elapsed%time.Minute != 0 {
		minutes++
	}
	return minutes
}

type Settlement struct {
	DurationMinutes int
	TotalAmount     models.Amount
	RequesterEntry  *models.LedgerEntry
	ProviderEntry   *models.LedgerEntry
}

// Settler converts a finished consultation into balance movements. It never
// opens its own transaction; Settle runs inside the caller's.
type Settler struct {
	currency string
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewSettler(currency string, m *metrics.Metrics, log *zap.Logger) *Settler {
	if currency == "" {
		currency = "INR"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Settler{currency: currency, metrics: m, log: log.Named("settlement")}
}

func (s *Settler) Settle(
	ctx context.Context,
	q repository.Queries,
	consultation *models.Consultation,
	endTime time.Time,
) (*Settlement, error) {
	minutes := BillableMinutes(consultation.StartTime, endTime)
	total, err := consultation.Rate.MulMinutes(minutes)
	if err != nil {
		s.metrics.RecordSettlement(metrics.SettlementOutcomeError, 0)
		return nil, fmt.Errorf("compute total for consultation %d: %w", consultation.ID, err)
	}

	result := &Settlement{DurationMinutes: minutes, TotalAmount: total}
	if total == 0 {
		s.metrics.RecordSettlement(metrics.SettlementOutcomeZero, 0)
		return result, nil
	}

	wallets, err := s.lockWallets(ctx, q, consultation.RequesterID, consultation.ProviderID)
	if err != nil {
		s.metrics.RecordSettlement(metrics.SettlementOutcomeError, 0)
		return nil, err
	}
	requester := wallets[consultation.RequesterID]
	provider := wallets[consultation.ProviderID]

	if requester.Balance < total {
		s.metrics.RecordSettlement(metrics.SettlementOutcomeInsufficientFunds, 0)
		return nil, fmt.Errorf("%w: balance %s is below %s", ErrInsufficientFunds, requester.Balance, total)
	}

	balanceBefore := requester.Balance
	earningsBefore := provider.Earnings
	requester.Balance -= total
	provider.Earnings += total

	if _, err := q.Wallets().UpdateIfVersion(ctx, requester); err != nil {
		s.recordFailure(err)
		return nil, translateStoreError(err, "requester wallet")
	}
	if _, err := q.Wallets().UpdateIfVersion(ctx, provider); err != nil {
		s.recordFailure(err)
		return nil, translateStoreError(err, "provider wallet")
	}

	consultationID := consultation.ID
	description := fmt.Sprintf("%s consultation %s, %d min", consultation.Modality, consultation.Code, minutes)

	debit, inserted, err := q.Ledger().Append(ctx, models.LedgerEntry{
		Reference:      newLedgerReference(),
		UserID:         consultation.RequesterID,
		Direction:      models.DirectionDebit,
		Category:       models.CategoryConsultation,
		Amount:         total,
		BalanceBefore:  balanceBefore,
		BalanceAfter:   requester.Balance,
		Status:         models.LedgerStatusCompleted,
		ConsultationID: &consultationID,
		Description:    description,
	})
	if err == nil && !inserted {
		err = fmt.Errorf("%w: consultation %d already has a debit entry", ErrConflict, consultation.ID)
	}
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	credit, inserted, err := q.Ledger().Append(ctx, models.LedgerEntry{
		Reference:      newLedgerReference(),
		UserID:         consultation.ProviderID,
		Direction:      models.DirectionCredit,
		Category:       models.CategoryEarning,
		Amount:         total,
		BalanceBefore:  earningsBefore,
		BalanceAfter:   provider.Earnings,
		Status:         models.LedgerStatusCompleted,
		ConsultationID: &consultationID,
		Description:    description,
	})
	if err == nil && !inserted {
		err = fmt.Errorf("%w: consultation %d already has an earning entry", ErrConflict, consultation.ID)
	}
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	result.RequesterEntry = debit
	result.ProviderEntry = credit
	s.metrics.RecordSettlement(metrics.SettlementOutcomeSettled, total.Int64())
	s.log.Info("consultation settled",
		zap.Int64("consultation_id", consultation.ID),
		zap.Int("duration_minutes", minutes),
		zap.String("total", total.String()),
	)
	return result, nil
}

// lockWallets row-locks both wallets in ascending user id order so two
// settlements touching the same pair of parties cannot deadlock.
func (s *Settler) lockWallets(
	ctx context.Context,
	q repository.Queries,
	userIDs ...int64,
) (map[int64]*models.Wallet, error) {
	ordered := append([]int64(nil), userIDs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	wallets := make(map[int64]*models.Wallet, len(ordered))
	for _, userID := range ordered {
		if _, seen := wallets[userID]; seen {
			continue
		}
		wallet, err := q.Wallets().EnsureForUpdate(ctx, userID, s.currency)
		if err != nil {
			return nil, fmt.Errorf("lock wallet %d: %w", userID, err)
		}
		wallets[userID] = wallet
	}
	return wallets, nil
}

func (s *Settler) recordFailure(err error) {
	if errors.Is(err, ErrConflict) || errors.Is(err, repository.ErrVersionConflict) {
		s.metrics.RecordSettlement(metrics.SettlementOutcomeConflict, 0)
		return
	}
	s.metrics.RecordSettlement(metrics.SettlementOutcomeError, 0)
}
