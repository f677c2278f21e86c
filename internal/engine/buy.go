package engine

import (
	"context"
	"errors"
	"fmt"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

// BuyRequest is an observed SOL transfer into a pot.
type BuyRequest struct {
	GameID    int64 // zero selects the latest active game
	Owner     string
	Side      domain.Side
	Signature string
	Lamports  int64
}

// BuyResult is an applied buy.
type BuyResult struct {
	Game      *domain.Game
	Record    *domain.BuyRecord
	Signature string // claim-token mint
}

// Buy mints claim-tokens for a deposit. It returns nil, nil when the
// transfer is internal or the signature is already being processed.
func (e *Engine) Buy(ctx context.Context, req BuyRequest) (res *BuyResult, err error) {
	started := e.now()
	defer func() { e.observe(OpBuy, started, res != nil, err) }()

	if !req.Side.IsValid() {
		return nil, fmt.Errorf("%w: side %q", domain.ErrInvalidTransaction, req.Side)
	}
	if req.Lamports <= 0 {
		return nil, fmt.Errorf("%w: %s carries no lamports", domain.ErrNoValidTransfer, req.Signature)
	}
	if req.Owner == e.ledger.MasterAddress() {
		return nil, nil
	}

	release, err := e.claim(ctx, OpBuy, e.buys, req.Signature)
	if err != nil || release == nil {
		return nil, err
	}
	defer release()

	err = e.retry(ctx, OpBuy, func(ctx context.Context) error {
		r, err := e.buy(ctx, req)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	ev := domain.NewGameEvent(res.Game, domain.EventBuy, res.Record.CreatedAt)
	ev.Side = req.Side
	ev.Wallet = req.Owner
	ev.Signature = req.Signature
	ev.Lamports = req.Lamports
	ev.Tokens = res.Record.TokensReceived
	e.emit(ctx, ev)
	return res, nil
}

func (e *Engine) buy(ctx context.Context, req BuyRequest) (*BuyResult, error) {
	var res *BuyResult
	err := e.store.InTx(ctx, func(tx storage.Store) error {
		if _, err := tx.Buys().GetBySignature(ctx, req.Signature); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrTransactionSignatureAlreadyExists, req.Signature)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("check buy %s: %w", req.Signature, err)
		}

		g, err := lockGame(ctx, tx, req.GameID)
		if err != nil {
			return err
		}
		if !g.IsActive() {
			return fmt.Errorf("%w: game %d ended", domain.ErrNoActiveGame, g.ID)
		}
		if e.internal(g, req.Owner) {
			return nil
		}

		price := g.Price(req.Side)
		minted := Calculate(req.Lamports, price, g.TokenDecimal)
		fee := Fee(req.Lamports, e.cfg.FeeBps)

		if req.Side == domain.SideOver {
			g.OverPot += req.Lamports
			g.OverTokenMinted += minted
		} else {
			g.UnderPot += req.Lamports
			g.UnderTokenMinted += minted
		}
		g.BuyFee += fee
		rebook(g)

		mint := g.MintAddress(req.Side)
		e.logger.Printf("buy %s: minting %d %s tokens to %s (game %d)", req.Signature, minted, req.Side, req.Owner, g.ID)
		mintSig, err := e.ledger.MintTo(ctx, req.Owner, mint, uint64(minted))
		if err != nil {
			return fmt.Errorf("buy %s: mint: %w", req.Signature, err)
		}

		rec := &domain.BuyRecord{
			GameID:         g.ID,
			Wallet:         req.Owner,
			Side:           req.Side,
			Signature:      req.Signature,
			MintSignature:  mintSig,
			TokenPrice:     price,
			TotalInSolana:  req.Lamports,
			TokensReceived: minted,
			Fees:           fee,
			CreatedAt:      e.now().UTC(),
		}
		if err := tx.Buys().Insert(ctx, rec); err != nil {
			return duplicate(fmt.Errorf("insert buy: %w", err), req.Signature)
		}
		if err := tx.Games().Update(ctx, g); err != nil {
			return fmt.Errorf("update game %d: %w", g.ID, err)
		}

		res = &BuyResult{Game: g, Record: rec, Signature: mintSig}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
