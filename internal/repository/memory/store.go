package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/saeid-a/ConsultBack/internal/clock"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/repository"
)

// Store is an in-process repository.Store for development mode and tests.
// Transactions are serialized through one store-wide mutex and each works on a
// full copy of the data that replaces the shared copy on commit, so sessions
// never settle in parallel. Production deployments use PostgresStore, where
// only the rows a transaction touches are locked.
type Store struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	data  *state
	clock clock.Clock
}

func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{data: newState(), clock: clk}
}

func (s *Store) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&queries{store: s, tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Consultations() repository.ConsultationQueries { return (&queries{store: s}).Consultations() }
func (s *Store) Wallets() repository.WalletQueries             { return (&queries{store: s}).Wallets() }
func (s *Store) Ledger() repository.LedgerQueries              { return (&queries{store: s}).Ledger() }
func (s *Store) Providers() repository.ProviderQueries         { return (&queries{store: s}).Providers() }
func (s *Store) Messages() repository.MessageQueries           { return (&queries{store: s}).Messages() }
func (s *Store) Notifications() repository.NotificationQueries { return (&queries{store: s}).Notifications() }

func (s *Store) PutProvider(provider models.Provider) {
	s.write(func(st *state) {
		if provider.ServiceCategories == nil {
			provider.ServiceCategories = []models.CategoryRef{}
		}
		st.providers[provider.UserID] = provider
	})
}

func (s *Store) PutWallet(wallet models.Wallet) {
	s.write(func(st *state) {
		if wallet.UpdatedAt.IsZero() {
			wallet.UpdatedAt = s.clock.Now()
		}
		st.wallets[wallet.UserID] = wallet
	})
}

// NotificationsFor returns the stored notifications of userID, oldest first.
func (s *Store) NotificationsFor(userID int64) []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Notification, 0)
	for _, notification := range s.data.notifications {
		if notification.UserID == userID {
			result = append(result, notification)
		}
	}
	return result
}

type seedFile struct {
	Providers []models.Provider `json:"providers"`
	Wallets   []models.Wallet   `json:"wallets"`
}

// LoadSeed reads providers and wallets from a JSON document.
func (s *Store) LoadSeed(r io.Reader) error {
	var seed seedFile
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for _, provider := range seed.Providers {
		if provider.UserID <= 0 {
			return fmt.Errorf("seed provider without user_id")
		}
		s.PutProvider(provider)
	}
	for _, wallet := range seed.Wallets {
		if wallet.UserID <= 0 || wallet.Balance < 0 || wallet.Earnings < 0 {
			return fmt.Errorf("invalid seed wallet for user %d", wallet.UserID)
		}
		s.PutWallet(wallet)
	}
	return nil
}

func (s *Store) write(fn func(st *state)) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}
