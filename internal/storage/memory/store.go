package memory

import (
	"context"
	"sync"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

type redeemableKey struct {
	gameID int64
	wallet string
}

// state is everything a Store holds. It is cloned at the start of InTx and
// restored when the transaction function fails.
type state struct {
	nextGameID  int64
	nextBuyID   int64
	nextSellID  int64
	nextClaimID int64

	games       map[int64]*domain.Game
	buys        map[string]*domain.BuyRecord   // keyed by incoming signature
	sells       map[string]*domain.SellRecord  // keyed by burn signature
	claims      map[string]*domain.ClaimRecord // keyed by burn signature
	redeemables map[redeemableKey]*domain.Redeemable
	secrets     map[int64]*domain.SealedKeys
}

func newState() *state {
	return &state{
		games:       make(map[int64]*domain.Game),
		buys:        make(map[string]*domain.BuyRecord),
		sells:       make(map[string]*domain.SellRecord),
		claims:      make(map[string]*domain.ClaimRecord),
		redeemables: make(map[redeemableKey]*domain.Redeemable),
		secrets:     make(map[int64]*domain.SealedKeys),
	}
}

func (st *state) clone() *state {
	c := newState()
	c.nextGameID, c.nextBuyID, c.nextSellID, c.nextClaimID = st.nextGameID, st.nextBuyID, st.nextSellID, st.nextClaimID
	for k, v := range st.games {
		c.games[k] = v.Clone()
	}
	for k, v := range st.buys {
		r := *v
		c.buys[k] = &r
	}
	for k, v := range st.sells {
		r := *v
		c.sells[k] = &r
	}
	for k, v := range st.claims {
		r := *v
		c.claims[k] = &r
	}
	for k, v := range st.redeemables {
		r := *v
		c.redeemables[k] = &r
	}
	for k, v := range st.secrets {
		r := *v
		c.secrets[k] = &r
	}
	return c
}

type db struct {
	mu   sync.RWMutex
	txMu sync.Mutex // serializes InTx; stands in for row locks
	st   *state
}

// Store is an in-memory implementation of storage.Store.
// Used by tests and single-node development runs.
type Store struct {
	db   *db
	inTx bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{db: &db{st: newState()}}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

func (s *Store) Games() storage.GameStore             { return &GameStore{db: s.db} }
func (s *Store) Buys() storage.BuyStore               { return &BuyStore{db: s.db} }
func (s *Store) Sells() storage.SellStore             { return &SellStore{db: s.db} }
func (s *Store) Claims() storage.ClaimStore           { return &ClaimStore{db: s.db} }
func (s *Store) Redeemables() storage.RedeemableStore { return &RedeemableStore{db: s.db} }
func (s *Store) Secrets() storage.SecretStore         { return &SecretStore{db: s.db} }

// InTx runs fn with transactions serialized. A failing fn restores the
// state as it was before the call. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	s.db.mu.RLock()
	backup := s.db.st.clone()
	s.db.mu.RUnlock()

	if err := fn(&Store{db: s.db, inTx: true}); err != nil {
		s.db.mu.Lock()
		s.db.st = backup
		s.db.mu.Unlock()
		return err
	}
	return nil
}
