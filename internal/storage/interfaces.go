package storage

import (
	"context"

	"overunder/internal/domain"
)

// GameQuery selects a page of games for the listing endpoints.
type GameQuery struct {
	Ended  bool   // true: games with time_ended set, false: active games
	Search string // case-insensitive match on name, symbol or contract address
	Page   int    // 1-based
	Limit  int
}

// GamePage is one page of a GameQuery, newest first.
type GamePage struct {
	Games []*domain.Game
	Total int
	Page  int
	Limit int
}

// GameStore provides access to games storage.
type GameStore interface {
	// Create inserts a new game and assigns its ID.
	Create(ctx context.Context, g *domain.Game) error

	// Get retrieves a game by ID. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id int64) (*domain.Game, error)

	// GetForUpdate is Get that locks the row until the enclosing transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Game, error)

	// Update overwrites the mutable fields of a game.
	Update(ctx context.Context, g *domain.Game) error

	// Latest returns the most recently created game, or ErrNotFound.
	Latest(ctx context.Context, activeOnly bool) (*domain.Game, error)

	// ActiveByContract returns the active game on a contract, or ErrNotFound.
	ActiveByContract(ctx context.Context, contract string) (*domain.Game, error)

	// ByInitiatorSignature returns the game started by a signature, or ErrNotFound.
	ByInitiatorSignature(ctx context.Context, signature string) (*domain.Game, error)

	// ListActive returns games without time_ended, oldest first.
	ListActive(ctx context.Context) ([]*domain.Game, error)

	// ListPendingMerge returns ended games whose merge has not completed.
	ListPendingMerge(ctx context.Context) ([]*domain.Game, error)

	// ListRedeemable returns merged games with claimable lamports left.
	ListRedeemable(ctx context.Context) ([]*domain.Game, error)

	// List returns one page of games.
	List(ctx context.Context, q GameQuery) (*GamePage, error)
}

// BuyStore provides access to buy_transactions storage.
type BuyStore interface {
	// Insert adds a buy and assigns its ID. Returns ErrDuplicateKey if the signature exists.
	Insert(ctx context.Context, r *domain.BuyRecord) error

	// GetBySignature returns the buy of an incoming transfer, or ErrNotFound.
	GetBySignature(ctx context.Context, signature string) (*domain.BuyRecord, error)

	// Latest returns the newest buy of a game side, or ErrNotFound.
	Latest(ctx context.Context, gameID int64, side domain.Side) (*domain.BuyRecord, error)

	// ListByGame returns the buys of a game, oldest first.
	ListByGame(ctx context.Context, gameID int64) ([]*domain.BuyRecord, error)

	// ListByWallet returns the buys of a wallet restricted to gameIDs, oldest first.
	ListByWallet(ctx context.Context, wallet string, gameIDs []int64) ([]*domain.BuyRecord, error)

	// CountByGame returns how many buys a game has.
	CountByGame(ctx context.Context, gameID int64) (int, error)
}

// SellStore provides access to sell_transactions storage.
type SellStore interface {
	// Insert adds a sell. Returns ErrDuplicateKey if the burn signature exists.
	Insert(ctx context.Context, r *domain.SellRecord) error
	GetBySignature(ctx context.Context, burnSignature string) (*domain.SellRecord, error)
	Latest(ctx context.Context, gameID int64, side domain.Side) (*domain.SellRecord, error)
	ListByGame(ctx context.Context, gameID int64) ([]*domain.SellRecord, error)
	ListByWallet(ctx context.Context, wallet string, gameIDs []int64) ([]*domain.SellRecord, error)
}

// ClaimStore provides access to claim_transactions storage.
type ClaimStore interface {
	// Insert adds a claim. Returns ErrDuplicateKey if the burn signature exists.
	Insert(ctx context.Context, r *domain.ClaimRecord) error
	GetBySignature(ctx context.Context, burnSignature string) (*domain.ClaimRecord, error)
	Latest(ctx context.Context, gameID int64, side domain.Side) (*domain.ClaimRecord, error)
	ListByGame(ctx context.Context, gameID int64) ([]*domain.ClaimRecord, error)
}

// RedeemableStore provides access to redeemables storage.
type RedeemableStore interface {
	// Upsert inserts or replaces the row of (game_id, wallet).
	Upsert(ctx context.Context, r *domain.Redeemable) error

	// Get returns the row of (game_id, wallet), or ErrNotFound.
	Get(ctx context.Context, gameID int64, wallet string) (*domain.Redeemable, error)

	// ListByWallet returns the rows of a wallet with a balance left, by game.
	ListByWallet(ctx context.Context, wallet string) ([]*domain.Redeemable, error)

	// ListByGame returns every row of a game.
	ListByGame(ctx context.Context, gameID int64) ([]*domain.Redeemable, error)
}

// SecretStore provides access to game_secrets storage.
type SecretStore interface {
	// Put stores the sealed keys of a game. Returns ErrDuplicateKey if present.
	Put(ctx context.Context, k *domain.SealedKeys) error

	// Get returns the sealed keys of a game, or ErrNotFound.
	Get(ctx context.Context, gameID int64) (*domain.SealedKeys, error)
}

// EventSink receives post-operation snapshots for analytics.
type EventSink interface {
	Record(ctx context.Context, ev domain.GameEvent) error
}

// Store groups the record stores of one backend.
type Store interface {
	Games() GameStore
	Buys() BuyStore
	Sells() SellStore
	Claims() ClaimStore
	Redeemables() RedeemableStore
	Secrets() SecretStore

	// InTx runs fn inside one transaction. fn's error rolls everything back.
	// Stores obtained from tx are bound to the transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
