package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/ports"
)

// MemoryStore is an in-memory AccountStore for tests and local development.
// All read-modify-write operations run under one mutex, which satisfies the
// per-account atomicity the guarded updates require.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]*core.Account // by id
	byAddress   map[string]string        // wallet address -> id
	refreshToks map[string]*core.RefreshTokenRecord
}

func NewMemoryStore() ports.AccountStore {
	return &MemoryStore{
		accounts:    make(map[string]*core.Account),
		byAddress:   make(map[string]string),
		refreshToks: make(map[string]*core.RefreshTokenRecord),
	}
}

func (s *MemoryStore) FindByWalletAddress(ctx context.Context, address string) (*core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, core.ErrAccountNotFound
	}
	return copyAccount(s.accounts[id]), nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, walletAddress, nonce string) (*core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byAddress[walletAddress]; ok {
		return copyAccount(s.accounts[id]), nil
	}

	now := time.Now()
	account := &core.Account{
		ID:                 uuid.New().String(),
		WalletAddress:      walletAddress,
		WalletSigningNonce: nonce,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.accounts[account.ID] = account
	s.byAddress[walletAddress] = account.ID

	return copyAccount(account), nil
}

func (s *MemoryStore) UpdateOnSuccess(ctx context.Context, accountID, expectedNonce string, now time.Time, freshNonce string) (*core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.guarded(accountID, expectedNonce)
	if err != nil {
		return nil, err
	}

	loggedIn := now
	account.WalletSigningNonce = freshNonce
	account.LoginAttempts = 0
	account.LockoutExpiryAt = nil
	account.LastLoggedInAt = &loggedIn
	account.UpdatedAt = now

	return copyAccount(account), nil
}

func (s *MemoryStore) UpdateOnFailure(ctx context.Context, accountID, expectedNonce string, next core.AttemptState, freshNonce string) (*core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.guarded(accountID, expectedNonce)
	if err != nil {
		return nil, err
	}

	account.WalletSigningNonce = freshNonce
	account.LoginAttempts = next.LoginAttempts
	account.LockoutExpiryAt = next.LockoutExpiryAt
	account.UpdatedAt = time.Now()

	return copyAccount(account), nil
}

func (s *MemoryStore) GetRefreshToken(ctx context.Context, accountID string) (*core.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.refreshToks[accountID]
	if !ok {
		return nil, core.ErrRefreshTokenNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) UpsertRefreshToken(ctx context.Context, accountID, token string, expiresAt time.Time) (*core.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := &core.RefreshTokenRecord{
		AccountID: accountID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	s.refreshToks[accountID] = record

	copied := *record
	return &copied, nil
}

func (s *MemoryStore) DeleteRefreshToken(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshToks, accountID)
	return nil
}

// guarded returns the live account if its nonce still matches expectedNonce.
func (s *MemoryStore) guarded(accountID, expectedNonce string) (*core.Account, error) {
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, core.ErrAccountNotFound
	}
	if account.WalletSigningNonce != expectedNonce {
		return nil, core.ErrConflict
	}
	return account, nil
}

func copyAccount(a *core.Account) *core.Account {
	copied := *a
	if a.LockoutExpiryAt != nil {
		t := *a.LockoutExpiryAt
		copied.LockoutExpiryAt = &t
	}
	if a.LastLoggedInAt != nil {
		t := *a.LastLoggedInAt
		copied.LastLoggedInAt = &t
	}
	if a.Username != nil {
		u := *a.Username
		copied.Username = &u
	}
	return &copied
}
