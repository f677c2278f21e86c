package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

// BuyStore implements storage.BuyStore using PostgreSQL.
type BuyStore struct {
	q querier
}

var _ storage.BuyStore = (*BuyStore)(nil)

const buyColumns = `
	id, game_id, solana_wallet_address, side, solana_tx_signature, mint_tx_signature,
	token_price, total_in_solana, tokens_received, fees, created_at`

// Insert adds a buy. Returns ErrDuplicateKey if the signature exists.
func (s *BuyStore) Insert(ctx context.Context, r *domain.BuyRecord) error {
	query := `
		INSERT INTO buy_transactions (
			game_id, solana_wallet_address, side, solana_tx_signature, mint_tx_signature,
			token_price, total_in_solana, tokens_received, fees
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := s.q.QueryRow(ctx, query,
		r.GameID, r.Wallet, string(r.Side), r.Signature, r.MintSignature,
		r.TokenPrice, r.TotalInSolana, r.TokensReceived, r.Fees,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert buy: %w", err)
	}
	return nil
}

func (s *BuyStore) GetBySignature(ctx context.Context, signature string) (*domain.BuyRecord, error) {
	row := s.q.QueryRow(ctx, `SELECT `+buyColumns+` FROM buy_transactions WHERE solana_tx_signature = $1`, signature)
	r, err := scanBuy(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get buy by signature: %w", err)
	}
	return r, nil
}

func (s *BuyStore) Latest(ctx context.Context, gameID int64, side domain.Side) (*domain.BuyRecord, error) {
	row := s.q.QueryRow(ctx, `SELECT `+buyColumns+` FROM buy_transactions
		WHERE game_id = $1 AND side = $2 ORDER BY id DESC LIMIT 1`, gameID, string(side))
	r, err := scanBuy(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest buy: %w", err)
	}
	return r, nil
}

func (s *BuyStore) ListByGame(ctx context.Context, gameID int64) ([]*domain.BuyRecord, error) {
	rows, err := s.q.Query(ctx, `SELECT `+buyColumns+` FROM buy_transactions WHERE game_id = $1 ORDER BY id ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list buys by game: %w", err)
	}
	return collect(rows, scanBuy)
}

func (s *BuyStore) ListByWallet(ctx context.Context, wallet string, gameIDs []int64) ([]*domain.BuyRecord, error) {
	rows, err := s.q.Query(ctx, `SELECT `+buyColumns+` FROM buy_transactions
		WHERE solana_wallet_address = $1 AND game_id = ANY($2) ORDER BY id ASC`, wallet, gameIDs)
	if err != nil {
		return nil, fmt.Errorf("list buys by wallet: %w", err)
	}
	return collect(rows, scanBuy)
}

func (s *BuyStore) CountByGame(ctx context.Context, gameID int64) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT count(*) FROM buy_transactions WHERE game_id = $1`, gameID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count buys: %w", err)
	}
	return n, nil
}

func scanBuy(row pgx.Row) (*domain.BuyRecord, error) {
	var r domain.BuyRecord
	var side string
	err := row.Scan(
		&r.ID, &r.GameID, &r.Wallet, &side, &r.Signature, &r.MintSignature,
		&r.TokenPrice, &r.TotalInSolana, &r.TokensReceived, &r.Fees, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Side = domain.Side(side)
	return &r, nil
}

// SellStore implements storage.SellStore using PostgreSQL.
type SellStore struct {
	q querier
}

var _ storage.SellStore = (*SellStore)(nil)

const sellColumns = `
	id, game_id, solana_wallet_address, side, token_price, sell_token_amount, sol_received,
	redistributed, fees, burn_tx_signature, solana_tx_signature, created_at`

// Insert adds a sell. Returns ErrDuplicateKey if the burn signature exists.
func (s *SellStore) Insert(ctx context.Context, r *domain.SellRecord) error {
	query := `
		INSERT INTO sell_transactions (
			game_id, solana_wallet_address, side, token_price, sell_token_amount, sol_received,
			redistributed, fees, burn_tx_signature, solana_tx_signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	err := s.q.QueryRow(ctx, query,
		r.GameID, r.Wallet, string(r.Side), r.TokenPrice, r.SellTokenAmount, r.SolReceived,
		r.Redistributed, r.Fees, r.BurnTxSignature, r.SolanaTxSignature,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert sell: %w", err)
	}
	return nil
}

func (s *SellStore) GetBySignature(ctx context.Context, burnSignature string) (*domain.SellRecord, error) {
	row := s.q.QueryRow(ctx, `SELECT `+sellColumns+` FROM sell_transactions WHERE burn_tx_signature = $1`, burnSignature)
	r, err := scanSell(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get sell by signature: %w", err)
	}
	return r, nil
}

func (s *SellStore) Latest(ctx context.Context, gameID int64, side domain.Side) (*domain.SellRecord, error) {
	row := s.q.QueryRow(ctx, `SELECT `+sellColumns+` FROM sell_transactions
		WHERE game_id = $1 AND side = $2 ORDER BY id DESC LIMIT 1`, gameID, string(side))
	r, err := scanSell(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest sell: %w", err)
	}
	return r, nil
}

func (s *SellStore) ListByGame(ctx context.Context, gameID int64) ([]*domain.SellRecord, error) {
	rows, err := s.q.Query(ctx, `SELECT `+sellColumns+` FROM sell_transactions WHERE game_id = $1 ORDER BY id ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list sells by game: %w", err)
	}
	return collect(rows, scanSell)
}

func (s *SellStore) ListByWallet(ctx context.Context, wallet string, gameIDs []int64) ([]*domain.SellRecord, error) {
	rows, err := s.q.Query(ctx, `SELECT `+sellColumns+` FROM sell_transactions
		WHERE solana_wallet_address = $1 AND game_id = ANY($2) ORDER BY id ASC`, wallet, gameIDs)
	if err != nil {
		return nil, fmt.Errorf("list sells by wallet: %w", err)
	}
	return collect(rows, scanSell)
}

func scanSell(row pgx.Row) (*domain.SellRecord, error) {
	var r domain.SellRecord
	var side string
	err := row.Scan(
		&r.ID, &r.GameID, &r.Wallet, &side, &r.TokenPrice, &r.SellTokenAmount, &r.SolReceived,
		&r.Redistributed, &r.Fees, &r.BurnTxSignature, &r.SolanaTxSignature, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Side = domain.Side(side)
	return &r, nil
}

// ClaimStore implements storage.ClaimStore using PostgreSQL.
type ClaimStore struct {
	q querier
}

var _ storage.ClaimStore = (*ClaimStore)(nil)

const claimColumns = `
	id, game_id, solana_wallet_address, target_solana_wallet_address, side, claim_token_amount,
	sol_received, fees, burn_tx_signature, solana_tx_signature, created_at`

// Insert adds a claim. Returns ErrDuplicateKey if the burn signature exists.
func (s *ClaimStore) Insert(ctx context.Context, r *domain.ClaimRecord) error {
	query := `
		INSERT INTO claim_transactions (
			game_id, solana_wallet_address, target_solana_wallet_address, side, claim_token_amount,
			sol_received, fees, burn_tx_signature, solana_tx_signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := s.q.QueryRow(ctx, query,
		r.GameID, r.Wallet, r.TargetWallet, string(r.Side), r.ClaimTokenAmount,
		r.SolReceived, r.Fees, r.BurnTxSignature, r.SolanaTxSignature,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (s *ClaimStore) GetBySignature(ctx context.Context, burnSignature string) (*domain.ClaimRecord, error) {
	row := s.q.QueryRow(ctx, `SELECT `+claimColumns+` FROM claim_transactions WHERE burn_tx_signature = $1`, burnSignature)
	r, err := scanClaim(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get claim by signature: %w", err)
	}
	return r, nil
}

func (s *ClaimStore) Latest(ctx context.Context, gameID int64, side domain.Side) (*domain.ClaimRecord, error) {
	row := s.q.QueryRow(ctx, `SELECT `+claimColumns+` FROM claim_transactions
		WHERE game_id = $1 AND side = $2 ORDER BY id DESC LIMIT 1`, gameID, string(side))
	r, err := scanClaim(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest claim: %w", err)
	}
	return r, nil
}

func (s *ClaimStore) ListByGame(ctx context.Context, gameID int64) ([]*domain.ClaimRecord, error) {
	rows, err := s.q.Query(ctx, `SELECT `+claimColumns+` FROM claim_transactions WHERE game_id = $1 ORDER BY id ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list claims by game: %w", err)
	}
	return collect(rows, scanClaim)
}

func scanClaim(row pgx.Row) (*domain.ClaimRecord, error) {
	var r domain.ClaimRecord
	var side string
	err := row.Scan(
		&r.ID, &r.GameID, &r.Wallet, &r.TargetWallet, &side, &r.ClaimTokenAmount,
		&r.SolReceived, &r.Fees, &r.BurnTxSignature, &r.SolanaTxSignature, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Side = domain.Side(side)
	return &r, nil
}

// collect scans every row with scan and closes rows.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()

	var result []*T
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
