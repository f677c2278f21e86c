package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

// GameStore implements storage.GameStore using PostgreSQL.
type GameStore struct {
	q querier
}

// Compile-time interface check.
var _ storage.GameStore = (*GameStore)(nil)

const gameColumns = `
	id, initiator, initiator_signature, contract_address, memecoin_name, memecoin_symbol,
	token_decimal, memecoin_price_start, memecoin_price_end, memecoin_usd_start, memecoin_usd_end,
	over_under_price_line, time_started, time_ended, merged_at, winner,
	over_pot, under_pot, total_pot,
	over_token_minted, over_token_burnt, under_token_minted, under_token_burnt,
	over_price, under_price, buy_fee, sell_fee, claimable_winning_pot_in_sol,
	over_pot_address, under_pot_address, over_token_address, under_token_address,
	over_pot_token_account, under_pot_token_account,
	created_at, updated_at`

// Create inserts a new game and assigns its ID.
func (s *GameStore) Create(ctx context.Context, g *domain.Game) error {
	if g == nil || g.ContractAddress == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO games (
			initiator, initiator_signature, contract_address, memecoin_name, memecoin_symbol,
			token_decimal, memecoin_price_start, memecoin_price_end, memecoin_usd_start, memecoin_usd_end,
			over_under_price_line, time_started, time_ended, merged_at, winner,
			over_pot, under_pot, total_pot,
			over_token_minted, over_token_burnt, under_token_minted, under_token_burnt,
			over_price, under_price, buy_fee, sell_fee, claimable_winning_pot_in_sol,
			over_pot_address, under_pot_address, over_token_address, under_token_address,
			over_pot_token_account, under_pot_token_account
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31,
			$32, $33
		)
		RETURNING id, created_at, updated_at
	`

	err := s.q.QueryRow(ctx, query,
		g.Initiator, g.InitiatorSignature, g.ContractAddress, g.MemecoinName, g.MemecoinSymbol,
		g.TokenDecimal, g.PriceStart, g.PriceEnd, g.UsdStart, g.UsdEnd,
		g.OverUnderPriceLine, g.TimeStarted, g.TimeEnded, g.MergedAt, string(g.Winner),
		g.OverPot, g.UnderPot, g.TotalPot,
		g.OverTokenMinted, g.OverTokenBurnt, g.UnderTokenMinted, g.UnderTokenBurnt,
		g.OverPrice, g.UnderPrice, g.BuyFee, g.SellFee, g.ClaimableWinningPotInSol,
		g.OverPotAddress, g.UnderPotAddress, g.OverTokenAddress, g.UnderTokenAddress,
		g.OverPotTokenAccount, g.UnderPotTokenAccount,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

// Get retrieves a game by ID.
func (s *GameStore) Get(ctx context.Context, id int64) (*domain.Game, error) {
	return s.one(ctx, "get game", `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
}

// GetForUpdate locks the game row until the enclosing transaction ends.
func (s *GameStore) GetForUpdate(ctx context.Context, id int64) (*domain.Game, error) {
	return s.one(ctx, "get game for update", `SELECT `+gameColumns+` FROM games WHERE id = $1 FOR UPDATE`, id)
}

// Update overwrites the mutable fields of a game.
func (s *GameStore) Update(ctx context.Context, g *domain.Game) error {
	query := `
		UPDATE games SET
			memecoin_price_end = $2, memecoin_usd_end = $3,
			time_ended = $4, merged_at = $5, winner = $6,
			over_pot = $7, under_pot = $8, total_pot = $9,
			over_token_minted = $10, over_token_burnt = $11,
			under_token_minted = $12, under_token_burnt = $13,
			over_price = $14, under_price = $15,
			buy_fee = $16, sell_fee = $17, claimable_winning_pot_in_sol = $18,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := s.q.QueryRow(ctx, query,
		g.ID, g.PriceEnd, g.UsdEnd,
		g.TimeEnded, g.MergedAt, string(g.Winner),
		g.OverPot, g.UnderPot, g.TotalPot,
		g.OverTokenMinted, g.OverTokenBurnt,
		g.UnderTokenMinted, g.UnderTokenBurnt,
		g.OverPrice, g.UnderPrice,
		g.BuyFee, g.SellFee, g.ClaimableWinningPotInSol,
	).Scan(&g.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("update game %d: %w", g.ID, err)
	}
	return nil
}

// Latest returns the most recently created game.
func (s *GameStore) Latest(ctx context.Context, activeOnly bool) (*domain.Game, error) {
	where := ""
	if activeOnly {
		where = "WHERE time_ended IS NULL"
	}
	return s.one(ctx, "get latest game",
		`SELECT `+gameColumns+` FROM games `+where+` ORDER BY created_at DESC, id DESC LIMIT 1`)
}

// ActiveByContract returns the active game on a contract.
func (s *GameStore) ActiveByContract(ctx context.Context, contract string) (*domain.Game, error) {
	return s.one(ctx, "get active game by contract",
		`SELECT `+gameColumns+` FROM games WHERE contract_address = $1 AND time_ended IS NULL`, contract)
}

// ByInitiatorSignature returns the game started by signature.
func (s *GameStore) ByInitiatorSignature(ctx context.Context, signature string) (*domain.Game, error) {
	return s.one(ctx, "get game by initiator signature",
		`SELECT `+gameColumns+` FROM games WHERE initiator_signature = $1`, signature)
}

// ListActive returns games without time_ended, oldest first.
func (s *GameStore) ListActive(ctx context.Context) ([]*domain.Game, error) {
	return s.many(ctx, "list active games",
		`SELECT `+gameColumns+` FROM games WHERE time_ended IS NULL ORDER BY created_at ASC, id ASC`)
}

// ListPendingMerge returns ended games whose merge has not completed.
func (s *GameStore) ListPendingMerge(ctx context.Context) ([]*domain.Game, error) {
	return s.many(ctx, "list pending merge games",
		`SELECT `+gameColumns+` FROM games WHERE time_ended IS NOT NULL AND merged_at IS NULL ORDER BY id ASC`)
}

// ListRedeemable returns merged games with claimable lamports left.
func (s *GameStore) ListRedeemable(ctx context.Context) ([]*domain.Game, error) {
	return s.many(ctx, "list redeemable games",
		`SELECT `+gameColumns+` FROM games
		 WHERE merged_at IS NOT NULL AND claimable_winning_pot_in_sol >= 1
		 ORDER BY id ASC`)
}

// List returns one page of games, newest first.
func (s *GameStore) List(ctx context.Context, q storage.GameQuery) (*storage.GamePage, error) {
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	var conds []string
	var args []any
	if q.Ended {
		conds = append(conds, "time_ended IS NOT NULL")
	} else {
		conds = append(conds, "time_ended IS NULL")
	}
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		conds = append(conds, fmt.Sprintf(
			"(memecoin_name ILIKE $%d OR memecoin_symbol ILIKE $%d OR contract_address ILIKE $%d)",
			len(args), len(args), len(args)))
	}
	where := "WHERE " + strings.Join(conds, " AND ")

	result := &storage.GamePage{Page: page, Limit: limit}
	if err := s.q.QueryRow(ctx, `SELECT count(*) FROM games `+where, args...).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("count games: %w", err)
	}

	args = append(args, limit, (page-1)*limit)
	games, err := s.many(ctx, "list games", fmt.Sprintf(
		`SELECT %s FROM games %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		gameColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	result.Games = games
	return result, nil
}

func (s *GameStore) one(ctx context.Context, op, query string, args ...any) (*domain.Game, error) {
	g, err := scanGame(s.q.QueryRow(ctx, query, args...))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}

func (s *GameStore) many(ctx context.Context, op, query string, args ...any) ([]*domain.Game, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return result, nil
}

// scanGame scans a single row into a Game.
func scanGame(row pgx.Row) (*domain.Game, error) {
	var g domain.Game
	var winner string

	err := row.Scan(
		&g.ID, &g.Initiator, &g.InitiatorSignature, &g.ContractAddress, &g.MemecoinName, &g.MemecoinSymbol,
		&g.TokenDecimal, &g.PriceStart, &g.PriceEnd, &g.UsdStart, &g.UsdEnd,
		&g.OverUnderPriceLine, &g.TimeStarted, &g.TimeEnded, &g.MergedAt, &winner,
		&g.OverPot, &g.UnderPot, &g.TotalPot,
		&g.OverTokenMinted, &g.OverTokenBurnt, &g.UnderTokenMinted, &g.UnderTokenBurnt,
		&g.OverPrice, &g.UnderPrice, &g.BuyFee, &g.SellFee, &g.ClaimableWinningPotInSol,
		&g.OverPotAddress, &g.UnderPotAddress, &g.OverTokenAddress, &g.UnderTokenAddress,
		&g.OverPotTokenAccount, &g.UnderPotTokenAccount,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.Winner = domain.Side(winner)
	return &g, nil
}
