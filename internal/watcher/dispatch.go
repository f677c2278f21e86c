package watcher

import (
	"context"
	"fmt"

	"overunder/internal/domain"
	"overunder/internal/engine"
)

// dispatch hands the transfer of sig into the watched address of side to
// the engine. A nil Applied with a nil error means nothing was applied.
func (w *Watcher) dispatch(ctx context.Context, g *domain.Game, side domain.Side, sig string) (*Applied, error) {
	address := w.pair(g).Address(side)

	if w.kind == KindBuy {
		transfers, err := w.ledger.SolTransfers(ctx, sig)
		if err != nil {
			return nil, fmt.Errorf("sol transfers: %w", err)
		}
		for _, t := range transfers {
			if t.Destination != address || t.Lamports == 0 {
				continue
			}
			res, err := w.engine.Buy(ctx, engine.BuyRequest{
				GameID:    g.ID,
				Owner:     t.Source,
				Side:      side,
				Signature: sig,
				Lamports:  int64(t.Lamports),
			})
			if err != nil || res == nil {
				return nil, err
			}
			w.applied()
			return &Applied{GameID: res.Game.ID, TransactionID: res.Record.ID, Signature: res.Signature}, nil
		}
		return nil, nil
	}

	transfers, err := w.ledger.TokenTransfers(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("token transfers: %w", err)
	}
	mint := g.MintAddress(side)
	for _, t := range transfers {
		if t.Destination != address || t.Mint != mint || t.Amount == 0 {
			continue
		}
		if w.kind == KindSell {
			res, err := w.engine.Sell(ctx, engine.SellRequest{
				GameID:    g.ID,
				Owner:     t.Owner,
				Side:      side,
				Signature: sig,
				Amount:    int64(t.Amount),
			})
			if err != nil || res == nil {
				return nil, err
			}
			w.applied()
			return &Applied{GameID: res.Game.ID, TransactionID: res.Record.ID, Signature: res.Signature}, nil
		}

		res, err := w.engine.Redeem(ctx, engine.RedeemRequest{
			GameID:    g.ID,
			Owner:     t.Owner,
			Amount:    int64(t.Amount),
			Signature: sig,
		})
		if err != nil || res == nil {
			return nil, err
		}
		w.applied()
		return &Applied{GameID: res.Game.ID, TransactionID: res.Record.ID, Signature: res.Signature}, nil
	}
	return nil, nil
}

// Apply resolves a client-reported signature against the watched addresses
// of every eligible game and applies the transfers it finds.
func (w *Watcher) Apply(ctx context.Context, sig string) ([]Applied, error) {
	games, err := w.eligible(ctx)
	if err != nil {
		return nil, err
	}

	var out []Applied
	matched := false
	for _, g := range games {
		for _, side := range domain.Sides {
			if !w.touches(ctx, g, side, sig) {
				continue
			}
			matched = true
			a, err := w.dispatch(ctx, g, side, sig)
			if err != nil {
				return out, err
			}
			if a != nil {
				out = append(out, *a)
			}
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoValidTransfer, sig)
	}
	return out, nil
}

// touches reports whether sig moves funds into the watched address of side.
func (w *Watcher) touches(ctx context.Context, g *domain.Game, side domain.Side, sig string) bool {
	address := w.pair(g).Address(side)
	if address == "" {
		return false
	}
	if w.kind == KindBuy {
		transfers, err := w.ledger.SolTransfers(ctx, sig)
		if err != nil {
			return false
		}
		for _, t := range transfers {
			if t.Destination == address {
				return true
			}
		}
		return false
	}
	transfers, err := w.ledger.TokenTransfers(ctx, sig)
	if err != nil {
		return false
	}
	for _, t := range transfers {
		if t.Destination == address {
			return true
		}
	}
	return false
}
