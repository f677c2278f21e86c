package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

// RedeemableStore implements storage.RedeemableStore using PostgreSQL.
type RedeemableStore struct {
	q querier
}

var _ storage.RedeemableStore = (*RedeemableStore)(nil)

const redeemableColumns = `
	game_id, solana_wallet_address, type, token_address, balance_left, zero_balance_left, updated_at`

func (s *RedeemableStore) Upsert(ctx context.Context, r *domain.Redeemable) error {
	query := `
		INSERT INTO redeemables (
			game_id, solana_wallet_address, type, token_address, balance_left, zero_balance_left
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (game_id, solana_wallet_address) DO UPDATE SET
			type = EXCLUDED.type,
			token_address = EXCLUDED.token_address,
			balance_left = EXCLUDED.balance_left,
			zero_balance_left = EXCLUDED.zero_balance_left,
			updated_at = now()
		RETURNING updated_at
	`

	err := s.q.QueryRow(ctx, query,
		r.GameID, r.Wallet, string(r.Side), r.TokenAddress, r.BalanceLeft, r.ZeroBalanceLeft,
	).Scan(&r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert redeemable: %w", err)
	}
	return nil
}

func (s *RedeemableStore) Get(ctx context.Context, gameID int64, wallet string) (*domain.Redeemable, error) {
	row := s.q.QueryRow(ctx, `SELECT `+redeemableColumns+` FROM redeemables
		WHERE game_id = $1 AND solana_wallet_address = $2`, gameID, wallet)
	r, err := scanRedeemable(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get redeemable: %w", err)
	}
	return r, nil
}

func (s *RedeemableStore) ListByWallet(ctx context.Context, wallet string) ([]*domain.Redeemable, error) {
	rows, err := s.q.Query(ctx, `SELECT `+redeemableColumns+` FROM redeemables
		WHERE solana_wallet_address = $1 AND NOT zero_balance_left
		ORDER BY game_id ASC`, wallet)
	if err != nil {
		return nil, fmt.Errorf("list redeemables by wallet: %w", err)
	}
	return collect(rows, scanRedeemable)
}

func (s *RedeemableStore) ListByGame(ctx context.Context, gameID int64) ([]*domain.Redeemable, error) {
	rows, err := s.q.Query(ctx, `SELECT `+redeemableColumns+` FROM redeemables
		WHERE game_id = $1 ORDER BY solana_wallet_address ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list redeemables by game: %w", err)
	}
	return collect(rows, scanRedeemable)
}

func scanRedeemable(row pgx.Row) (*domain.Redeemable, error) {
	var r domain.Redeemable
	var side string
	err := row.Scan(&r.GameID, &r.Wallet, &side, &r.TokenAddress, &r.BalanceLeft, &r.ZeroBalanceLeft, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Side = domain.Side(side)
	return &r, nil
}

// SecretStore implements storage.SecretStore using PostgreSQL.
type SecretStore struct {
	q querier
}

var _ storage.SecretStore = (*SecretStore)(nil)

func (s *SecretStore) Put(ctx context.Context, k *domain.SealedKeys) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO game_secrets (game_id, over_pot, under_pot, over_mint, under_mint)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, k.GameID, k.OverPot, k.UnderPot, k.OverMint, k.UnderMint).Scan(&k.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert game secrets: %w", err)
	}
	return nil
}

func (s *SecretStore) Get(ctx context.Context, gameID int64) (*domain.SealedKeys, error) {
	var k domain.SealedKeys
	err := s.q.QueryRow(ctx, `
		SELECT game_id, over_pot, under_pot, over_mint, under_mint, created_at
		FROM game_secrets WHERE game_id = $1
	`, gameID).Scan(&k.GameID, &k.OverPot, &k.UnderPot, &k.OverMint, &k.UnderMint, &k.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get game secrets: %w", err)
	}
	return &k, nil
}
