package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"overunder/internal/domain"
	"overunder/internal/ledger"
	"overunder/internal/oracle"
	"overunder/internal/secrets"
	"overunder/internal/solana"
	"overunder/internal/storage/memory"
)

type mintCall struct {
	Owner, Mint string
	Amount      uint64
}

type transferCall struct {
	From       string
	Recipients []ledger.Recipient
	Memo       string
}

// fakeLedger records every call and fails according to the queued errors.
type fakeLedger struct {
	mu sync.Mutex

	master string
	source *ledger.SolTransfer
	meta   *ledger.TokenMetadata

	burnValid bool
	burnErr   error

	mintErrs     []error
	transferErrs []error
	settleErrs   []error

	mints     []mintCall
	transfers []transferCall
	settles   []ledger.SettleParams
	creates   int
	n         int
}

func newFakeLedger(t *testing.T) *fakeLedger {
	t.Helper()
	master, err := solana.NewKeypair()
	require.NoError(t, err)
	return &fakeLedger{
		master:    master.PublicKey().String(),
		source:    &ledger.SolTransfer{Source: "initiator", Destination: master.PublicKey().String(), Lamports: 100_000_000},
		meta:      &ledger.TokenMetadata{Name: "Goat", Symbol: "GOAT", Decimals: 9},
		burnValid: true,
	}
}

func (f *fakeLedger) sig(prefix string) string {
	f.n++
	return fmt.Sprintf("%s-%d", prefix, f.n)
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeLedger) MasterAddress() string { return f.master }

func (f *fakeLedger) CreateGameAccounts(_ context.Context, overPot, underPot *solana.Keypair) (*ledger.GameAccounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++

	overMint, err := solana.NewKeypair()
	if err != nil {
		return nil, err
	}
	underMint, err := solana.NewKeypair()
	if err != nil {
		return nil, err
	}
	overATA, err := solana.AssociatedTokenAddress(overPot.PublicKey(), overMint.PublicKey())
	if err != nil {
		return nil, err
	}
	underATA, err := solana.AssociatedTokenAddress(underPot.PublicKey(), underMint.PublicKey())
	if err != nil {
		return nil, err
	}
	return &ledger.GameAccounts{
		OverMint:    overMint,
		UnderMint:   underMint,
		OverPotATA:  overATA.String(),
		UnderPotATA: underATA.String(),
		Signature:   f.sig("create"),
	}, nil
}

func (f *fakeLedger) MintTo(_ context.Context, owner, mint string, amount uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mints = append(f.mints, mintCall{Owner: owner, Mint: mint, Amount: amount})
	if err := pop(&f.mintErrs); err != nil {
		return "", err
	}
	return f.sig("mint"), nil
}

func (f *fakeLedger) TransferMany(_ context.Context, from *solana.Keypair, recipients []ledger.Recipient, memo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, transferCall{From: from.PublicKey().String(), Recipients: recipients, Memo: memo})
	if err := pop(&f.transferErrs); err != nil {
		return "", err
	}
	return f.sig("transfer"), nil
}

func (f *fakeLedger) SettleGame(_ context.Context, p ledger.SettleParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settles = append(f.settles, p)
	if err := pop(&f.settleErrs); err != nil {
		return "", err
	}
	return f.sig("settle"), nil
}

func (f *fakeLedger) SolTransfers(context.Context, string) ([]ledger.SolTransfer, error) {
	return nil, nil
}

func (f *fakeLedger) TokenTransfers(context.Context, string) ([]ledger.TokenTransfer, error) {
	return nil, nil
}

func (f *fakeLedger) ValidateBurn(context.Context, string, string, uint64, string) (bool, error) {
	return f.burnValid, f.burnErr
}

func (f *fakeLedger) SourceOfTransfer(context.Context, string, string, uint64) (*ledger.SolTransfer, error) {
	return f.source, nil
}

func (f *fakeLedger) TransactionsSince(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (f *fakeLedger) Balance(context.Context, string) (uint64, error)      { return 0, nil }
func (f *fakeLedger) TokenBalance(context.Context, string) (uint64, error) { return 0, nil }

func (f *fakeLedger) TokenMetadata(_ context.Context, mint string) (*ledger.TokenMetadata, error) {
	if f.meta == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidContractAddress, mint)
	}
	m := *f.meta
	m.Mint = mint
	return &m, nil
}

func (f *fakeLedger) mintCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mints)
}

type fakeOracle struct {
	mu    sync.Mutex
	price oracle.Price
	err   error
	calls int
}

func (o *fakeOracle) TokenPrice(context.Context, string, int) (*oracle.Price, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	p := o.price
	return &p, nil
}

func (o *fakeOracle) set(sol float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = oracle.Price{Sol: sol, Usd: sol * 150}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	engine *Engine
	ledger *fakeLedger
	oracle *fakeOracle
	store  *memory.Store
	vault  *secrets.Vault
	clock  *clock
	events *recordingSink
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.GameEvent
}

func (s *recordingSink) Record(_ context.Context, ev domain.GameEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EventKind
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewStore()
	sealer, err := secrets.NewSealer("test passphrase", 1000)
	require.NoError(t, err)
	vault := secrets.NewVault(sealer, store.Secrets())

	h := &harness{
		ledger: newFakeLedger(t),
		oracle: &fakeOracle{price: oracle.Price{Sol: 0.0001, Usd: 0.015}},
		store:  store,
		vault:  vault,
		clock:  &clock{t: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)},
		events: &recordingSink{},
	}

	e, err := New(Options{
		Store:  store,
		Ledger: h.ledger,
		Oracle: h.oracle,
		Vault:  vault,
		Events: h.events,
		Config: DefaultConfig(),
		Logger: log.New(io.Discard, "", 0),
		Now:    h.clock.Now,
	})
	require.NoError(t, err)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	h.engine = e
	return h
}

func newAddress(t *testing.T) string {
	t.Helper()
	kp, err := solana.NewKeypair()
	require.NoError(t, err)
	return kp.PublicKey().String()
}

// startGame opens a game on a fresh contract.
func (h *harness) startGame(t *testing.T) *domain.Game {
	t.Helper()
	res, err := h.engine.Start(context.Background(), StartRequest{
		Contract:  newAddress(t),
		Signature: newAddress(t),
	})
	require.NoError(t, err)
	return res.Game
}

func (h *harness) game(t *testing.T, id int64) *domain.Game {
	t.Helper()
	g, err := h.store.Games().Get(context.Background(), id)
	require.NoError(t, err)
	return g
}

func (h *harness) buy(t *testing.T, g *domain.Game, owner string, side domain.Side, lamports int64) *BuyResult {
	t.Helper()
	res, err := h.engine.Buy(context.Background(), BuyRequest{
		GameID:    g.ID,
		Owner:     owner,
		Side:      side,
		Signature: newAddress(t),
		Lamports:  lamports,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}
