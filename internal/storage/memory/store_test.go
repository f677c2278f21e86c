package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

func newGame(contract, sig string) *domain.Game {
	return &domain.Game{
		ContractAddress:    contract,
		InitiatorSignature: sig,
		MemecoinName:       "Goat " + contract,
		MemecoinSymbol:     "G" + contract,
		TimeStarted:        time.Now().UTC(),
	}
}

func TestGameStore_CreateAndGet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	g := newGame("mintA", "sigA")
	if err := store.Games().Create(ctx, g); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if g.ID != 1 {
		t.Fatalf("expected id 1, got %d", g.ID)
	}

	got, err := store.Games().Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ContractAddress != "mintA" {
		t.Errorf("ContractAddress mismatch: got %s", got.ContractAddress)
	}

	// Returned copies are detached.
	got.OverPot = 42
	again, _ := store.Games().Get(ctx, g.ID)
	if again.OverPot != 0 {
		t.Errorf("store mutated through returned copy")
	}

	if _, err := store.Games().Get(ctx, 99); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGameStore_DuplicateInitiatorSignature(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.Games().Create(ctx, newGame("mintA", "sig")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := store.Games().Create(ctx, newGame("mintB", "sig"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestGameStore_Lifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	games := store.Games()

	a := newGame("mintA", "sigA")
	b := newGame("mintB", "sigB")
	c := newGame("mintC", "sigC")
	for _, g := range []*domain.Game{a, b, c} {
		if err := games.Create(ctx, g); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	now := time.Now().UTC()
	b.TimeEnded = &now
	if err := games.Update(ctx, b); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	c.TimeEnded = &now
	c.MergedAt = &now
	c.ClaimableWinningPotInSol = 10
	if err := games.Update(ctx, c); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	active, _ := games.ListActive(ctx)
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("ListActive: got %d games", len(active))
	}
	pending, _ := games.ListPendingMerge(ctx)
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Errorf("ListPendingMerge: got %d games", len(pending))
	}
	redeemable, _ := games.ListRedeemable(ctx)
	if len(redeemable) != 1 || redeemable[0].ID != c.ID {
		t.Errorf("ListRedeemable: got %d games", len(redeemable))
	}

	if _, err := games.ActiveByContract(ctx, "mintB"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ended game must not be active by contract, got %v", err)
	}
	if g, err := games.ActiveByContract(ctx, "mintA"); err != nil || g.ID != a.ID {
		t.Errorf("ActiveByContract: %v", err)
	}
	if g, err := games.ByInitiatorSignature(ctx, "sigB"); err != nil || g.ID != b.ID {
		t.Errorf("ByInitiatorSignature: %v", err)
	}

	latest, err := games.Latest(ctx, false)
	if err != nil || latest.ID != c.ID {
		t.Errorf("Latest(all): got %v, %v", latest, err)
	}
	latest, err = games.Latest(ctx, true)
	if err != nil || latest.ID != a.ID {
		t.Errorf("Latest(active): got %v, %v", latest, err)
	}
}

func TestGameStore_ListPaginationAndSearch(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, contract := range []string{"alpha", "beta", "gamma", "delta"} {
		g := newGame(contract, contract)
		g.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		g.TimeEnded = &now
		if err := store.Games().Create(ctx, g); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	page, err := store.Games().List(ctx, storage.GameQuery{Ended: true, Page: 1, Limit: 3})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 4 || len(page.Games) != 3 {
		t.Fatalf("expected 3 of 4, got %d of %d", len(page.Games), page.Total)
	}
	if page.Games[0].ContractAddress != "delta" {
		t.Errorf("expected newest first, got %s", page.Games[0].ContractAddress)
	}

	page, _ = store.Games().List(ctx, storage.GameQuery{Ended: true, Page: 2, Limit: 3})
	if len(page.Games) != 1 || page.Games[0].ContractAddress != "alpha" {
		t.Errorf("second page mismatch: %+v", page.Games)
	}

	page, _ = store.Games().List(ctx, storage.GameQuery{Ended: true, Search: "GAM"})
	if page.Total != 1 || page.Games[0].ContractAddress != "gamma" {
		t.Errorf("search mismatch: total %d", page.Total)
	}

	page, _ = store.Games().List(ctx, storage.GameQuery{Ended: false})
	if page.Total != 0 {
		t.Errorf("expected no active games, got %d", page.Total)
	}
}

func TestBuyStore_UniqueSignatureAndLatest(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	r1 := &domain.BuyRecord{GameID: 1, Wallet: "w1", Side: domain.SideOver, Signature: "s1"}
	r2 := &domain.BuyRecord{GameID: 1, Wallet: "w2", Side: domain.SideOver, Signature: "s2"}
	r3 := &domain.BuyRecord{GameID: 1, Wallet: "w1", Side: domain.SideUnder, Signature: "s3"}
	for _, r := range []*domain.BuyRecord{r1, r2, r3} {
		if err := store.Buys().Insert(ctx, r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	dup := &domain.BuyRecord{GameID: 1, Side: domain.SideOver, Signature: "s1"}
	if err := store.Buys().Insert(ctx, dup); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	latest, err := store.Buys().Latest(ctx, 1, domain.SideOver)
	if err != nil || latest.Signature != "s2" {
		t.Errorf("Latest: got %v, %v", latest, err)
	}
	if _, err := store.Buys().Latest(ctx, 2, domain.SideOver); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	n, _ := store.Buys().CountByGame(ctx, 1)
	if n != 3 {
		t.Errorf("CountByGame: got %d", n)
	}

	mine, _ := store.Buys().ListByWallet(ctx, "w1", []int64{1})
	if len(mine) != 2 {
		t.Errorf("ListByWallet: got %d", len(mine))
	}
	mine, _ = store.Buys().ListByWallet(ctx, "w1", []int64{7})
	if len(mine) != 0 {
		t.Errorf("ListByWallet outside games: got %d", len(mine))
	}
}

func TestSellAndClaimStore_UniqueBurnSignature(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.Sells().Insert(ctx, &domain.SellRecord{GameID: 1, Side: domain.SideUnder, BurnTxSignature: "b1"}); err != nil {
		t.Fatalf("Insert sell failed: %v", err)
	}
	if err := store.Sells().Insert(ctx, &domain.SellRecord{GameID: 1, BurnTxSignature: "b1"}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for sell, got %v", err)
	}
	if err := store.Claims().Insert(ctx, &domain.ClaimRecord{GameID: 1, Side: domain.SideOver, BurnTxSignature: "c1"}); err != nil {
		t.Fatalf("Insert claim failed: %v", err)
	}
	if err := store.Claims().Insert(ctx, &domain.ClaimRecord{GameID: 1, BurnTxSignature: "c1"}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for claim, got %v", err)
	}

	if r, err := store.Sells().Latest(ctx, 1, domain.SideUnder); err != nil || r.BurnTxSignature != "b1" {
		t.Errorf("sell Latest: %v", err)
	}
	if r, err := store.Claims().GetBySignature(ctx, "c1"); err != nil || r.Side != domain.SideOver {
		t.Errorf("claim GetBySignature: %v", err)
	}
}

func TestRedeemableStore_UpsertAndList(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	r := &domain.Redeemable{GameID: 1, Wallet: "w1", Side: domain.SideOver, BalanceLeft: 100}
	if err := store.Redeemables().Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	r.BalanceLeft = 0
	r.ZeroBalanceLeft = true
	if err := store.Redeemables().Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Redeemables().Upsert(ctx, &domain.Redeemable{GameID: 2, Wallet: "w1", BalanceLeft: 5}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	list, _ := store.Redeemables().ListByWallet(ctx, "w1")
	if len(list) != 1 || list[0].GameID != 2 {
		t.Errorf("ListByWallet should skip zero balances, got %+v", list)
	}
	got, err := store.Redeemables().Get(ctx, 1, "w1")
	if err != nil || !got.ZeroBalanceLeft {
		t.Errorf("Get: %+v, %v", got, err)
	}
}

func TestSecretStore_PutOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	k := &domain.SealedKeys{GameID: 3, OverPot: []byte("a")}
	if err := store.Secrets().Put(ctx, k); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Secrets().Put(ctx, k); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	got, err := store.Secrets().Get(ctx, 3)
	if err != nil || string(got.OverPot) != "a" {
		t.Errorf("Get: %v", err)
	}
}

func TestStore_InTxRollback(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	g := newGame("mintA", "sigA")
	if err := store.Games().Create(ctx, g); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx storage.Store) error {
		got, err := tx.Games().GetForUpdate(ctx, g.ID)
		if err != nil {
			return err
		}
		got.OverPot = 500
		if err := tx.Games().Update(ctx, got); err != nil {
			return err
		}
		if err := tx.Buys().Insert(ctx, &domain.BuyRecord{GameID: g.ID, Side: domain.SideOver, Signature: "s1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := store.Games().Get(ctx, g.ID)
	if got.OverPot != 0 {
		t.Errorf("game update not rolled back: %d", got.OverPot)
	}
	if _, err := store.Buys().GetBySignature(ctx, "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("buy insert not rolled back: %v", err)
	}
}

func TestStore_InTxSerializes(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	g := newGame("mintA", "sigA")
	if err := store.Games().Create(ctx, g); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.InTx(ctx, func(tx storage.Store) error {
				got, err := tx.Games().GetForUpdate(ctx, g.ID)
				if err != nil {
					return err
				}
				got.OverPot++
				return tx.Games().Update(ctx, got)
			})
		}()
	}
	wg.Wait()

	got, _ := store.Games().Get(ctx, g.ID)
	if got.OverPot != 50 {
		t.Errorf("expected 50 serialized increments, got %d", got.OverPot)
	}
}
