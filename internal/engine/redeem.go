package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"overunder/internal/domain"
	"overunder/internal/ledger"
	"overunder/internal/storage"
)

// RedeemRequest is an observed winning-side claim-token return after settlement.
type RedeemRequest struct {
	GameID    int64
	Owner     string
	Amount    int64
	Signature string // burn / token transfer
}

// RedeemResult is an applied redemption.
type RedeemResult struct {
	Game      *domain.Game
	Record    *domain.ClaimRecord
	Signature string // payout
}

// Redeem pays the holder's share of the claimable pot for winning-side
// claim-tokens. The winner is derived from the stored start and end prices.
func (e *Engine) Redeem(ctx context.Context, req RedeemRequest) (res *RedeemResult, err error) {
	started := e.now()
	defer func() { e.observe(OpRedeem, started, res != nil, err) }()

	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %s carries no tokens", domain.ErrNoValidTransfer, req.Signature)
	}
	if req.Owner == e.ledger.MasterAddress() {
		return nil, nil
	}

	release, err := e.claim(ctx, OpRedeem, e.redeems, req.Signature)
	if err != nil || release == nil {
		return nil, err
	}
	defer release()

	err = e.retry(ctx, OpRedeem, func(ctx context.Context) error {
		r, err := e.redeem(ctx, req)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	ev := domain.NewGameEvent(res.Game, domain.EventRedeem, res.Record.CreatedAt)
	ev.Side = res.Record.Side
	ev.Wallet = req.Owner
	ev.Signature = req.Signature
	ev.Lamports = res.Record.SolReceived
	ev.Tokens = req.Amount
	e.emit(ctx, ev)
	return res, nil
}

func (e *Engine) redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	var res *RedeemResult
	err := e.store.InTx(ctx, func(tx storage.Store) error {
		g, err := tx.Games().GetForUpdate(ctx, req.GameID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: game %d", domain.ErrNoActiveGame, req.GameID)
			}
			return fmt.Errorf("load game %d: %w", req.GameID, err)
		}
		if g.TimeEnded == nil {
			return fmt.Errorf("%w: game %d", domain.ErrGameIsNotEnded, g.ID)
		}
		if g.MergedAt == nil {
			return fmt.Errorf("%w: game %d settlement pending", domain.ErrGameIsNotEnded, g.ID)
		}
		if g.ClaimableWinningPotInSol < 1 {
			return fmt.Errorf("%w: game %d", domain.ErrNoClaimableSolInGame, g.ID)
		}
		if e.internal(g, req.Owner) {
			return nil
		}

		if _, err := tx.Claims().GetBySignature(ctx, req.Signature); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrTransactionSignatureAlreadyExists, req.Signature)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("check claim %s: %w", req.Signature, err)
		}

		side := domain.WinningSide(g.PriceStart, g.PriceEnd)
		supply := g.Outstanding(side)
		if supply <= 0 {
			return fmt.Errorf("%w: game %d %s", domain.ErrZeroGameTokenSupply, g.ID, side)
		}
		if req.Amount > supply {
			return fmt.Errorf("%w: redeems %d of %d outstanding", domain.ErrInvalidTransaction, req.Amount, supply)
		}

		mint := g.MintAddress(side)
		ok, err := e.ledger.ValidateBurn(ctx, req.Owner, mint, uint64(req.Amount), req.Signature)
		if err != nil {
			if ledger.IsTransient(err) {
				return err
			}
			return fmt.Errorf("%w: %s: %v", domain.ErrInvalidTransaction, req.Signature, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s does not move %d of %s from %s",
				domain.ErrInvalidTransaction, req.Signature, req.Amount, mint, req.Owner)
		}

		value := RedeemValue(req.Amount, supply, g.ClaimableWinningPotInSol)
		if side == domain.SideOver {
			g.OverTokenBurnt += req.Amount
		} else {
			g.UnderTokenBurnt += req.Amount
		}
		g.ClaimableWinningPotInSol -= value

		var payoutSig string
		// The network fee is only paid when a payout leg is sent.
		var fees int64
		if sent := value - e.cfg.NetworkFee; sent > 0 {
			fees = e.cfg.NetworkFee
			keys, err := e.vault.Keys(ctx, g.ID)
			if err != nil {
				return err
			}
			memo := fmt.Sprintf("goatClaim_%d", g.ID)
			e.logger.Printf("redeem %s: paying %d to %s (game %d)", req.Signature, sent, req.Owner, g.ID)
			payoutSig, err = e.ledger.TransferMany(ctx, keys.Pot(side),
				[]ledger.Recipient{{Address: req.Owner, Lamports: uint64(sent)}}, memo)
			if err != nil {
				return fmt.Errorf("redeem %s: transfer: %w", req.Signature, err)
			}
		}

		now := e.now().UTC()
		rec := &domain.ClaimRecord{
			GameID:            g.ID,
			Wallet:            req.Owner,
			TargetWallet:      req.Owner,
			Side:              side,
			ClaimTokenAmount:  req.Amount,
			SolReceived:       value,
			Fees:              fees,
			BurnTxSignature:   req.Signature,
			SolanaTxSignature: payoutSig,
			CreatedAt:         now,
		}
		if err := tx.Claims().Insert(ctx, rec); err != nil {
			return duplicate(fmt.Errorf("insert claim: %w", err), req.Signature)
		}
		if err := tx.Games().Update(ctx, g); err != nil {
			return fmt.Errorf("update game %d: %w", g.ID, err)
		}
		if err := spendRedeemable(ctx, tx, g.ID, req.Owner, req.Amount, now); err != nil {
			return err
		}

		res = &RedeemResult{Game: g, Record: rec, Signature: payoutSig}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// spendRedeemable lowers the tracked balance of wallet. Wallets that bought
// the tokens elsewhere have no row.
func spendRedeemable(ctx context.Context, tx storage.Store, gameID int64, wallet string, amount int64, now time.Time) error {
	r, err := tx.Redeemables().Get(ctx, gameID, wallet)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load redeemable: %w", err)
	}
	r.BalanceLeft -= amount
	if r.BalanceLeft < 0 {
		r.BalanceLeft = 0
	}
	r.ZeroBalanceLeft = r.BalanceLeft == 0
	r.UpdatedAt = now
	if err := tx.Redeemables().Upsert(ctx, r); err != nil {
		return fmt.Errorf("update redeemable: %w", err)
	}
	return nil
}
