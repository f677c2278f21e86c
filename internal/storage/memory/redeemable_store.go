package memory

import (
	"context"
	"sort"
	"time"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

// RedeemableStore is an in-memory implementation of storage.RedeemableStore.
type RedeemableStore struct {
	db *db
}

var _ storage.RedeemableStore = (*RedeemableStore)(nil)

func (s *RedeemableStore) Upsert(_ context.Context, r *domain.Redeemable) error {
	if r == nil || r.GameID == 0 || r.Wallet == "" {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r.UpdatedAt = time.Now().UTC()
	c := *r
	s.db.st.redeemables[redeemableKey{r.GameID, r.Wallet}] = &c
	return nil
}

func (s *RedeemableStore) Get(_ context.Context, gameID int64, wallet string) (*domain.Redeemable, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	r, ok := s.db.st.redeemables[redeemableKey{gameID, wallet}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *RedeemableStore) ListByWallet(_ context.Context, wallet string) ([]*domain.Redeemable, error) {
	return s.filter(func(r *domain.Redeemable) bool { return r.Wallet == wallet && !r.ZeroBalanceLeft }), nil
}

func (s *RedeemableStore) ListByGame(_ context.Context, gameID int64) ([]*domain.Redeemable, error) {
	return s.filter(func(r *domain.Redeemable) bool { return r.GameID == gameID }), nil
}

func (s *RedeemableStore) filter(keep func(*domain.Redeemable) bool) []*domain.Redeemable {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var result []*domain.Redeemable
	for _, r := range s.db.st.redeemables {
		if keep(r) {
			c := *r
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].GameID != result[j].GameID {
			return result[i].GameID < result[j].GameID
		}
		return result[i].Wallet < result[j].Wallet
	})
	return result
}

// SecretStore is an in-memory implementation of storage.SecretStore.
type SecretStore struct {
	db *db
}

var _ storage.SecretStore = (*SecretStore)(nil)

func (s *SecretStore) Put(_ context.Context, k *domain.SealedKeys) error {
	if k == nil || k.GameID == 0 {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.st.secrets[k.GameID]; exists {
		return storage.ErrDuplicateKey
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	c := *k
	s.db.st.secrets[k.GameID] = &c
	return nil
}

func (s *SecretStore) Get(_ context.Context, gameID int64) (*domain.SealedKeys, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	k, ok := s.db.st.secrets[gameID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *k
	return &c, nil
}
