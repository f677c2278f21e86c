package engine

import (
	"context"
	"errors"
	"fmt"

	"overunder/internal/domain"
	"overunder/internal/ledger"
	"overunder/internal/storage"
)

// SellRequest is an observed claim-token transfer into a pot's token account.
type SellRequest struct {
	GameID    int64 // zero selects the latest active game
	Owner     string
	Side      domain.Side
	Signature string // incoming token transfer
	Amount    int64  // claim-token base units
}

// SellResult is an applied sell.
type SellResult struct {
	Game      *domain.Game
	Record    *domain.SellRecord
	Quote     SellQuote
	Signature string // payout
}

// Sell pays out claim-tokens returned before settlement, less the fee and
// the progressive tax. It returns nil, nil when the transfer is internal or
// the signature is already being processed.
func (e *Engine) Sell(ctx context.Context, req SellRequest) (res *SellResult, err error) {
	started := e.now()
	defer func() { e.observe(OpSell, started, res != nil, err) }()

	if !req.Side.IsValid() {
		return nil, fmt.Errorf("%w: side %q", domain.ErrInvalidTransaction, req.Side)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %s carries no tokens", domain.ErrNoValidTransfer, req.Signature)
	}
	if req.Owner == e.ledger.MasterAddress() {
		return nil, nil
	}

	release, err := e.claim(ctx, OpSell, e.sells, req.Signature)
	if err != nil || release == nil {
		return nil, err
	}
	defer release()

	err = e.retry(ctx, OpSell, func(ctx context.Context) error {
		r, err := e.sell(ctx, req)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	ev := domain.NewGameEvent(res.Game, domain.EventSell, res.Record.CreatedAt)
	ev.Side = req.Side
	ev.Wallet = req.Owner
	ev.Signature = req.Signature
	ev.Lamports = res.Record.SolReceived
	ev.Tokens = req.Amount
	e.emit(ctx, ev)
	return res, nil
}

func (e *Engine) sell(ctx context.Context, req SellRequest) (*SellResult, error) {
	var res *SellResult
	err := e.store.InTx(ctx, func(tx storage.Store) error {
		if _, err := tx.Sells().GetBySignature(ctx, req.Signature); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrTransactionSignatureAlreadyExists, req.Signature)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("check sell %s: %w", req.Signature, err)
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
		if req.Amount > g.Outstanding(req.Side) {
			return fmt.Errorf("%w: sells %d of %d outstanding %s tokens",
				domain.ErrInvalidTransaction, req.Amount, g.Outstanding(req.Side), req.Side)
		}

		now := e.now().UTC()
		price := g.Price(req.Side)
		q := QuoteSell(price, req.Amount, g.Elapsed(now), e.cfg)
		other := req.Side.Opposite()

		if req.Side == domain.SideOver {
			g.OverTokenBurnt += req.Amount
			g.OverPot -= q.Redistribution + e.cfg.NetworkFee
			g.UnderPot += q.Redistribution
		} else {
			g.UnderTokenBurnt += req.Amount
			g.UnderPot -= q.Redistribution + e.cfg.NetworkFee
			g.OverPot += q.Redistribution
		}
		g.SellFee += q.Fee
		rebook(g)
		reprice(g)

		keys, err := e.vault.Keys(ctx, g.ID)
		if err != nil {
			return err
		}

		var legs []ledger.Recipient
		if q.Redistribution > 0 {
			legs = append(legs, ledger.Recipient{Address: g.PotAddress(other), Lamports: uint64(q.Redistribution)})
		}
		if sent := q.Payout - e.cfg.NetworkFee; sent > 0 {
			legs = append(legs, ledger.Recipient{Address: req.Owner, Lamports: uint64(sent)})
		}

		var payoutSig string
		if len(legs) > 0 {
			memo := fmt.Sprintf("goatPotMoving_%d", g.ID)
			e.logger.Printf("sell %s: paying %d to %s and %d to %s pot, tax %.4f (game %d)",
				req.Signature, q.Payout-e.cfg.NetworkFee, req.Owner, q.Redistribution, other, q.Tax, g.ID)
			payoutSig, err = e.ledger.TransferMany(ctx, keys.Pot(req.Side), legs, memo)
			if err != nil {
				return fmt.Errorf("sell %s: transfer: %w", req.Signature, err)
			}
		}

		rec := &domain.SellRecord{
			GameID:            g.ID,
			Wallet:            req.Owner,
			Side:              req.Side,
			TokenPrice:        price,
			SellTokenAmount:   req.Amount,
			SolReceived:       q.Payout,
			Redistributed:     q.Redistribution,
			Fees:              q.Fee,
			BurnTxSignature:   req.Signature,
			SolanaTxSignature: payoutSig,
			CreatedAt:         now,
		}
		if err := tx.Sells().Insert(ctx, rec); err != nil {
			return duplicate(fmt.Errorf("insert sell: %w", err), req.Signature)
		}
		if err := tx.Games().Update(ctx, g); err != nil {
			return fmt.Errorf("update game %d: %w", g.ID, err)
		}

		res = &SellResult{Game: g, Record: rec, Quote: q, Signature: payoutSig}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
