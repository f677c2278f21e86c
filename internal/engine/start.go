package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"overunder/internal/domain"
	"overunder/internal/secrets"
	"overunder/internal/solana"
	"overunder/internal/storage"
)

// StartRequest opens a game on a reference token. Signature must be a
// confirmed transfer of at least InitiateLamports to the master wallet.
type StartRequest struct {
	Contract  string
	Signature string
}

// StartResult is the created game and the account creation signature.
type StartResult struct {
	Game      *domain.Game
	Signature string
}

// Start creates a game. The row is written only after the pot and mint
// accounts exist on the ledger.
func (e *Engine) Start(ctx context.Context, req StartRequest) (res *StartResult, err error) {
	started := e.now()
	defer func() { e.observe(OpStart, started, res != nil, err) }()

	if _, perr := solana.ParsePublicKey(req.Contract); perr != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidContractAddress, req.Contract)
	}

	release, err := e.claim(ctx, OpStart, e.starts, req.Signature)
	if err != nil {
		return nil, err
	}
	if release == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInitiationSignatureUsed, req.Signature)
	}
	defer release()

	err = e.retry(ctx, OpStart, func(ctx context.Context) error {
		r, err := e.start(ctx, req)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}

	ev := domain.NewGameEvent(res.Game, domain.EventStart, res.Game.TimeStarted)
	ev.Wallet = res.Game.Initiator
	ev.Signature = req.Signature
	e.emit(ctx, ev)
	return res, nil
}

func (e *Engine) start(ctx context.Context, req StartRequest) (*StartResult, error) {
	initiator, err := e.ledger.SourceOfTransfer(ctx, req.Signature, e.ledger.MasterAddress(), e.cfg.InitiateLamports)
	if err != nil {
		return nil, fmt.Errorf("start: resolve initiation %s: %w", req.Signature, err)
	}
	if initiator == nil {
		return nil, fmt.Errorf("%w: %s for %s", domain.ErrInvalidSignatureForInitiateGame, req.Signature, req.Contract)
	}

	if _, err := e.store.Games().ByInitiatorSignature(ctx, req.Signature); err == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInitiationSignatureUsed, req.Signature)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("start: check signature: %w", err)
	}
	if _, err := e.store.Games().ActiveByContract(ctx, req.Contract); err == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameAlreadyActive, req.Contract)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("start: check active game: %w", err)
	}

	meta, err := e.ledger.TokenMetadata(ctx, req.Contract)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("start: token %s (%s) decimals=%d", meta.Symbol, req.Contract, meta.Decimals)

	price, err := e.oracle.TokenPrice(ctx, req.Contract, meta.Decimals)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("start: %s price sol=%g usd=%g", meta.Symbol, price.Sol, price.Usd)

	overPot, err := solana.NewKeypair()
	if err != nil {
		return nil, fmt.Errorf("start: generate over pot: %w", err)
	}
	underPot, err := solana.NewKeypair()
	if err != nil {
		return nil, fmt.Errorf("start: generate under pot: %w", err)
	}

	accounts, err := e.ledger.CreateGameAccounts(ctx, overPot, underPot)
	if err != nil {
		return nil, fmt.Errorf("start: create game accounts: %w", err)
	}
	e.logger.Printf("start: created mints over=%s under=%s (%s)",
		accounts.OverMint.PublicKey(), accounts.UnderMint.PublicKey(), accounts.Signature)

	now := e.now().UTC()
	g := &domain.Game{
		Initiator:            initiator.Source,
		InitiatorSignature:   req.Signature,
		ContractAddress:      req.Contract,
		MemecoinName:         meta.Name,
		MemecoinSymbol:       meta.Symbol,
		TokenDecimal:         meta.Decimals,
		PriceStart:           price.Sol,
		PriceEnd:             price.Sol,
		UsdStart:             price.Usd,
		UsdEnd:               price.Usd,
		OverUnderPriceLine:   price.Sol,
		TimeStarted:          now,
		OverPrice:            e.cfg.StartingPrice,
		UnderPrice:           e.cfg.StartingPrice,
		OverPotAddress:       overPot.PublicKey().String(),
		UnderPotAddress:      underPot.PublicKey().String(),
		OverTokenAddress:     accounts.OverMint.PublicKey().String(),
		UnderTokenAddress:    accounts.UnderMint.PublicKey().String(),
		OverPotTokenAccount:  accounts.OverPotATA,
		UnderPotTokenAccount: accounts.UnderPotATA,
	}
	keys := &secrets.GameKeys{
		OverPot:   overPot,
		UnderPot:  underPot,
		OverMint:  accounts.OverMint,
		UnderMint: accounts.UnderMint,
	}

	err = e.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.Games().Create(ctx, g); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return fmt.Errorf("%w: %s", domain.ErrInitiationSignatureUsed, req.Signature)
			}
			return fmt.Errorf("create game: %w", err)
		}
		sealed, err := e.vault.Seal(g.ID, keys)
		if err != nil {
			return err
		}
		sealed.CreatedAt = now
		if err := tx.Secrets().Put(ctx, sealed); err != nil {
			return fmt.Errorf("store game keys: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	e.logger.Printf("start: game %d on %s over=%s under=%s", g.ID, req.Contract, g.OverPotAddress, g.UnderPotAddress)
	return &StartResult{Game: g, Signature: accounts.Signature}, nil
}

// Ends returns when g stops accepting buys and sells.
func (e *Engine) Ends(g *domain.Game) time.Time {
	return g.TimeStarted.Add(e.cfg.GameDuration)
}
