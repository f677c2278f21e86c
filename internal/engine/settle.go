package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"overunder/internal/archive"
	"overunder/internal/domain"
	"overunder/internal/ledger"
	"overunder/internal/storage"
)

// SettleOutcome describes what a Settle call did.
type SettleOutcome string

const (
	SettleNotDue   SettleOutcome = "not_due"   // window still open
	SettleBusy     SettleOutcome = "busy"      // another settle of the game is running
	SettleNoBuys   SettleOutcome = "no_buys"   // ended without deposits, nothing to merge
	SettleMerged   SettleOutcome = "merged"    // pots merged in this call
	SettleComplete SettleOutcome = "completed" // merge was already done
)

// Settle ends a game whose window elapsed and merges the losing pot into
// the winning one. The end is persisted before any ledger work; the merge
// is recorded separately in MergedAt, so a failed attempt leaves the game
// in ListPendingMerge for the next sweep.
func (e *Engine) Settle(ctx context.Context, gameID int64) (outcome SettleOutcome, err error) {
	started := e.now()
	defer func() { e.observe(OpSettle, started, outcome == SettleMerged || outcome == SettleNoBuys, err) }()

	release, err := e.claim(ctx, OpSettle, e.settles, strconv.FormatInt(gameID, 10))
	if err != nil {
		return "", err
	}
	if release == nil {
		return SettleBusy, nil
	}
	defer release()

	g, err := e.markEnded(ctx, gameID)
	if err != nil || g == nil {
		if err == nil {
			return SettleNotDue, nil
		}
		return "", err
	}
	if g.MergedAt != nil {
		return SettleComplete, nil
	}

	buys, err := e.store.Buys().CountByGame(ctx, g.ID)
	if err != nil {
		return "", fmt.Errorf("settle game %d: count buys: %w", g.ID, err)
	}
	if buys == 0 {
		e.logger.Printf("settle game %d: no buys, nothing to merge", g.ID)
		if err := e.finishMerge(ctx, g.ID, false); err != nil {
			return "", err
		}
		return SettleNoBuys, nil
	}

	g, err = e.fixWinner(ctx, g)
	if err != nil {
		return "", err
	}

	winner, loser := g.Winner, g.Winner.Opposite()
	keys, err := e.vault.Keys(ctx, g.ID)
	if err != nil {
		return "", fmt.Errorf("settle game %d: %w", g.ID, err)
	}
	memo := fmt.Sprintf("goatSettle_%d", g.ID)
	e.logger.Printf("settle game %d: %s wins, moving %s pot %s into %s",
		g.ID, winner, loser, g.PotAddress(loser), g.PotAddress(winner))

	var signature string
	err = e.retry(ctx, OpSettle, func(ctx context.Context) error {
		sig, err := e.ledger.SettleGame(ctx, ledger.SettleParams{
			Winner:     keys.Pot(winner),
			Loser:      keys.Pot(loser),
			WinnerMint: g.MintAddress(winner),
			LoserMint:  g.MintAddress(loser),
			Memo:       memo,
		})
		signature = sig
		return err
	})
	if err != nil {
		return "", fmt.Errorf("settle game %d: merge: %w", g.ID, err)
	}
	e.logger.Printf("settle game %d: merged (%s)", g.ID, signature)

	if err := e.finishMerge(ctx, g.ID, true); err != nil {
		return "", err
	}
	e.afterSettle(ctx, g.ID, signature)
	return SettleMerged, nil
}

// markEnded sets TimeEnded once the window elapsed. It returns nil, nil
// while the game is still running.
func (e *Engine) markEnded(ctx context.Context, gameID int64) (*domain.Game, error) {
	var out *domain.Game
	err := e.store.InTx(ctx, func(tx storage.Store) error {
		g, err := tx.Games().GetForUpdate(ctx, gameID)
		if err != nil {
			return fmt.Errorf("settle game %d: load: %w", gameID, err)
		}
		if g.TimeEnded == nil {
			now := e.now().UTC()
			if g.Elapsed(now) < e.cfg.GameDuration {
				return nil
			}
			g.TimeEnded = &now
			if err := tx.Games().Update(ctx, g); err != nil {
				return fmt.Errorf("settle game %d: mark ended: %w", gameID, err)
			}
			e.logger.Printf("settle game %d: ended after %v", gameID, g.Elapsed(now).Round(time.Second))
		}
		out = g
		return nil
	})
	return out, err
}

// fixWinner prices the token and stores the winner, unless an earlier
// attempt already did. Later attempts reuse the stored result.
func (e *Engine) fixWinner(ctx context.Context, g *domain.Game) (*domain.Game, error) {
	if g.Winner.IsValid() {
		return g, nil
	}

	price, err := e.oracle.TokenPrice(ctx, g.ContractAddress, g.TokenDecimal)
	if err != nil {
		return nil, fmt.Errorf("settle game %d: price: %w", g.ID, err)
	}

	var out *domain.Game
	err = e.store.InTx(ctx, func(tx storage.Store) error {
		cur, err := tx.Games().GetForUpdate(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("settle game %d: reload: %w", g.ID, err)
		}
		if !cur.Winner.IsValid() {
			cur.PriceEnd = price.Sol
			cur.UsdEnd = price.Usd
			cur.Winner = domain.WinningSide(cur.PriceStart, price.Sol)
			if err := tx.Games().Update(ctx, cur); err != nil {
				return fmt.Errorf("settle game %d: store winner: %w", g.ID, err)
			}
		}
		out = cur
		return nil
	})
	return out, err
}

// finishMerge books the merged pots, sets MergedAt and, when merged, builds
// the redeemable balances of the winning side.
func (e *Engine) finishMerge(ctx context.Context, gameID int64, merged bool) error {
	return e.store.InTx(ctx, func(tx storage.Store) error {
		g, err := tx.Games().GetForUpdate(ctx, gameID)
		if err != nil {
			return fmt.Errorf("settle game %d: reload: %w", gameID, err)
		}
		if g.MergedAt != nil {
			return nil
		}

		now := e.now().UTC()
		if merged {
			if g.Winner == domain.SideOver {
				g.OverPot += g.UnderPot
				g.UnderPot = 0
			} else {
				g.UnderPot += g.OverPot
				g.OverPot = 0
			}
			rebook(g)
		}
		g.MergedAt = &now
		if err := tx.Games().Update(ctx, g); err != nil {
			return fmt.Errorf("settle game %d: store merge: %w", gameID, err)
		}
		if !merged {
			return nil
		}
		return buildRedeemables(ctx, tx, g, now)
	})
}

// buildRedeemables writes, per wallet, the winning-side tokens bought minus
// sold through the engine.
func buildRedeemables(ctx context.Context, tx storage.Store, g *domain.Game, now time.Time) error {
	buys, err := tx.Buys().ListByGame(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("list buys: %w", err)
	}
	sells, err := tx.Sells().ListByGame(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("list sells: %w", err)
	}

	balances := make(map[string]int64)
	for _, b := range buys {
		if b.Side == g.Winner {
			balances[b.Wallet] += b.TokensReceived
		}
	}
	for _, s := range sells {
		if s.Side == g.Winner {
			balances[s.Wallet] -= s.SellTokenAmount
		}
	}

	wallets := make([]string, 0, len(balances))
	for w, bal := range balances {
		if bal > 0 {
			wallets = append(wallets, w)
		}
	}
	sort.Strings(wallets)

	for _, w := range wallets {
		err := tx.Redeemables().Upsert(ctx, &domain.Redeemable{
			GameID:       g.ID,
			Wallet:       w,
			Side:         g.Winner,
			TokenAddress: g.MintAddress(g.Winner),
			BalanceLeft:  balances[w],
			UpdatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("upsert redeemable %s: %w", w, err)
		}
	}
	return nil
}

// afterSettle emits the settle event and archives the game. Both are best effort.
func (e *Engine) afterSettle(ctx context.Context, gameID int64, signature string) {
	snap, err := e.Snapshot(ctx, gameID)
	if err != nil {
		e.logger.Printf("settle game %d: snapshot: %v", gameID, err)
		return
	}

	ev := domain.NewGameEvent(snap.Game, domain.EventSettle, *snap.Game.MergedAt)
	ev.Side = snap.Game.Winner
	ev.Signature = signature
	ev.Lamports = snap.Game.TotalPot
	e.emit(ctx, ev)

	if err := e.archiver.ArchiveGame(ctx, snap); err != nil {
		e.logger.Printf("settle game %d: archive: %v", gameID, err)
	}
}

// Snapshot collects a game with all of its records.
func (e *Engine) Snapshot(ctx context.Context, gameID int64) (*archive.Snapshot, error) {
	g, err := e.store.Games().Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.MergedAt == nil {
		return nil, errors.New("game not merged")
	}
	snap := &archive.Snapshot{Game: g}
	if snap.Buys, err = e.store.Buys().ListByGame(ctx, gameID); err != nil {
		return nil, err
	}
	if snap.Sells, err = e.store.Sells().ListByGame(ctx, gameID); err != nil {
		return nil, err
	}
	if snap.Claims, err = e.store.Claims().ListByGame(ctx, gameID); err != nil {
		return nil, err
	}
	if snap.Redeemables, err = e.store.Redeemables().ListByGame(ctx, gameID); err != nil {
		return nil, err
	}
	return snap, nil
}
