package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"overunder/internal/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *Pool
	q    querier
	inTx bool
}

// NewStore creates a Store on pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool, q: pool.Pool}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

func (s *Store) Games() storage.GameStore             { return &GameStore{q: s.q} }
func (s *Store) Buys() storage.BuyStore               { return &BuyStore{q: s.q} }
func (s *Store) Sells() storage.SellStore             { return &SellStore{q: s.q} }
func (s *Store) Claims() storage.ClaimStore           { return &ClaimStore{q: s.q} }
func (s *Store) Redeemables() storage.RedeemableStore { return &RedeemableStore{q: s.q} }
func (s *Store) Secrets() storage.SecretStore         { return &SecretStore{q: s.q} }

// InTx runs fn in a read-committed transaction. Nested calls join the outer one.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&Store{pool: s.pool, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
