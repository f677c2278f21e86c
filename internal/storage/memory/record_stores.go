package memory

import (
	"context"
	"sort"
	"time"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

// BuyStore is an in-memory implementation of storage.BuyStore.
type BuyStore struct {
	db *db
}

var _ storage.BuyStore = (*BuyStore)(nil)

// Insert adds a buy. Returns ErrDuplicateKey if the signature exists.
func (s *BuyStore) Insert(_ context.Context, r *domain.BuyRecord) error {
	if r == nil || r.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.st.buys[r.Signature]; exists {
		return storage.ErrDuplicateKey
	}
	s.db.st.nextBuyID++
	r.ID = s.db.st.nextBuyID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	c := *r
	s.db.st.buys[r.Signature] = &c
	return nil
}

func (s *BuyStore) GetBySignature(_ context.Context, signature string) (*domain.BuyRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	r, ok := s.db.st.buys[signature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *BuyStore) Latest(_ context.Context, gameID int64, side domain.Side) (*domain.BuyRecord, error) {
	rs := s.filter(func(r *domain.BuyRecord) bool { return r.GameID == gameID && r.Side == side })
	if len(rs) == 0 {
		return nil, storage.ErrNotFound
	}
	return rs[len(rs)-1], nil
}

func (s *BuyStore) ListByGame(_ context.Context, gameID int64) ([]*domain.BuyRecord, error) {
	return s.filter(func(r *domain.BuyRecord) bool { return r.GameID == gameID }), nil
}

func (s *BuyStore) ListByWallet(_ context.Context, wallet string, gameIDs []int64) ([]*domain.BuyRecord, error) {
	ids := idSet(gameIDs)
	return s.filter(func(r *domain.BuyRecord) bool { return r.Wallet == wallet && ids[r.GameID] }), nil
}

func (s *BuyStore) CountByGame(ctx context.Context, gameID int64) (int, error) {
	rs, _ := s.ListByGame(ctx, gameID)
	return len(rs), nil
}

func (s *BuyStore) filter(keep func(*domain.BuyRecord) bool) []*domain.BuyRecord {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var result []*domain.BuyRecord
	for _, r := range s.db.st.buys {
		if keep(r) {
			c := *r
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// SellStore is an in-memory implementation of storage.SellStore.
type SellStore struct {
	db *db
}

var _ storage.SellStore = (*SellStore)(nil)

// Insert adds a sell. Returns ErrDuplicateKey if the burn signature exists.
func (s *SellStore) Insert(_ context.Context, r *domain.SellRecord) error {
	if r == nil || r.BurnTxSignature == "" {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.st.sells[r.BurnTxSignature]; exists {
		return storage.ErrDuplicateKey
	}
	s.db.st.nextSellID++
	r.ID = s.db.st.nextSellID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	c := *r
	s.db.st.sells[r.BurnTxSignature] = &c
	return nil
}

func (s *SellStore) GetBySignature(_ context.Context, burnSignature string) (*domain.SellRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	r, ok := s.db.st.sells[burnSignature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *SellStore) Latest(_ context.Context, gameID int64, side domain.Side) (*domain.SellRecord, error) {
	rs := s.filter(func(r *domain.SellRecord) bool { return r.GameID == gameID && r.Side == side })
	if len(rs) == 0 {
		return nil, storage.ErrNotFound
	}
	return rs[len(rs)-1], nil
}

func (s *SellStore) ListByGame(_ context.Context, gameID int64) ([]*domain.SellRecord, error) {
	return s.filter(func(r *domain.SellRecord) bool { return r.GameID == gameID }), nil
}

func (s *SellStore) ListByWallet(_ context.Context, wallet string, gameIDs []int64) ([]*domain.SellRecord, error) {
	ids := idSet(gameIDs)
	return s.filter(func(r *domain.SellRecord) bool { return r.Wallet == wallet && ids[r.GameID] }), nil
}

func (s *SellStore) filter(keep func(*domain.SellRecord) bool) []*domain.SellRecord {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var result []*domain.SellRecord
	for _, r := range s.db.st.sells {
		if keep(r) {
			c := *r
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ClaimStore is an in-memory implementation of storage.ClaimStore.
type ClaimStore struct {
	db *db
}

var _ storage.ClaimStore = (*ClaimStore)(nil)

// Insert adds a claim. Returns ErrDuplicateKey if the burn signature exists.
func (s *ClaimStore) Insert(_ context.Context, r *domain.ClaimRecord) error {
	if r == nil || r.BurnTxSignature == "" {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.st.claims[r.BurnTxSignature]; exists {
		return storage.ErrDuplicateKey
	}
	s.db.st.nextClaimID++
	r.ID = s.db.st.nextClaimID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	c := *r
	s.db.st.claims[r.BurnTxSignature] = &c
	return nil
}

func (s *ClaimStore) GetBySignature(_ context.Context, burnSignature string) (*domain.ClaimRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	r, ok := s.db.st.claims[burnSignature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *ClaimStore) Latest(_ context.Context, gameID int64, side domain.Side) (*domain.ClaimRecord, error) {
	rs := s.filter(func(r *domain.ClaimRecord) bool { return r.GameID == gameID && r.Side == side })
	if len(rs) == 0 {
		return nil, storage.ErrNotFound
	}
	return rs[len(rs)-1], nil
}

func (s *ClaimStore) ListByGame(_ context.Context, gameID int64) ([]*domain.ClaimRecord, error) {
	return s.filter(func(r *domain.ClaimRecord) bool { return r.GameID == gameID }), nil
}

func (s *ClaimStore) filter(keep func(*domain.ClaimRecord) bool) []*domain.ClaimRecord {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var result []*domain.ClaimRecord
	for _, r := range s.db.st.claims {
		if keep(r) {
			c := *r
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
