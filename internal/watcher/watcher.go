// Package watcher follows the pot accounts of games on the ledger and feeds
// incoming transfers to the engine as buys, sells and redemptions.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"overunder/internal/domain"
	"overunder/internal/engine"
	"overunder/internal/ledger"
	"overunder/internal/observability"
	"overunder/internal/solana"
	"overunder/internal/storage"
)

// Kind selects what a watcher observes.
type Kind string

const (
	// KindBuy watches SOL deposits into the pots of active games.
	KindBuy Kind = "buy"
	// KindSell watches claim-tokens returned to the pot token accounts of active games.
	KindSell Kind = "sell"
	// KindRedeem watches winning claim-tokens returned after settlement.
	KindRedeem Kind = "redeem"
)

// Engine is the part of the engine the watchers drive.
type Engine interface {
	Buy(ctx context.Context, req engine.BuyRequest) (*engine.BuyResult, error)
	Sell(ctx context.Context, req engine.SellRequest) (*engine.SellResult, error)
	Redeem(ctx context.Context, req engine.RedeemRequest) (*engine.RedeemResult, error)
}

// Ledger is the part of the ledger the watchers read.
type Ledger interface {
	TransactionsSince(ctx context.Context, address, until string) ([]string, error)
	SolTransfers(ctx context.Context, signature string) ([]ledger.SolTransfer, error)
	TokenTransfers(ctx context.Context, signature string) ([]ledger.TokenTransfer, error)
}

// Applied is one transfer the engine accepted.
type Applied struct {
	GameID        int64  `json:"gameId"`
	TransactionID int64  `json:"transactionId"`
	Signature     string `json:"signature"`
}

// Options for creating a Watcher.
type Options struct {
	Store  storage.Store
	Ledger Ledger
	Engine Engine
	WS     solana.WSClient // only needed by Run

	PollInterval time.Duration
	Logger       *log.Logger
}

// Watcher keeps one subscription pair per eligible game and processes the
// transactions landing on the watched addresses in chronological order.
type Watcher struct {
	kind     Kind
	store    storage.Store
	ledger   Ledger
	engine   Engine
	ws       solana.WSClient
	registry *Registry
	poll     time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	subs map[int64]*subscription
	wg   sync.WaitGroup
}

// subscription is the live state of one watched game.
type subscription struct {
	cancel context.CancelFunc
	chans  [2]<-chan solana.AccountNotification
}

// New creates a watcher of the given kind.
func New(kind Kind, opts Options) (*Watcher, error) {
	switch kind {
	case KindBuy, KindSell, KindRedeem:
	default:
		return nil, fmt.Errorf("watcher: unknown kind %q", kind)
	}
	if opts.Store == nil || opts.Ledger == nil || opts.Engine == nil {
		return nil, errors.New("watcher: store, ledger and engine are required")
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), fmt.Sprintf("[watcher:%s] ", kind), log.LstdFlags)
	}

	return &Watcher{
		kind:     kind,
		store:    opts.Store,
		ledger:   opts.Ledger,
		engine:   opts.Engine,
		ws:       opts.WS,
		registry: NewRegistry(),
		poll:     poll,
		logger:   logger,
		subs:     make(map[int64]*subscription),
	}, nil
}

// Kind returns what the watcher observes.
func (w *Watcher) Kind() Kind {
	return w.kind
}

// Registry returns the subscribed games.
func (w *Watcher) Registry() *Registry {
	return w.registry
}

// Run syncs subscriptions every poll interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if w.ws == nil {
		return errors.New("watcher: websocket client is required to run")
	}
	w.logger.Printf("started, poll interval %v", w.poll)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		if err := w.Sync(ctx); err != nil && ctx.Err() == nil {
			w.logger.Printf("sync: %v", err)
		}

		select {
		case <-ctx.Done():
			w.stopAll()
			w.logger.Println("stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sync subscribes to games that became eligible and drops games that no
// longer are.
func (w *Watcher) Sync(ctx context.Context) error {
	games, err := w.eligible(ctx)
	if err != nil {
		return err
	}

	want := make(map[int64]Pair, len(games))
	byID := make(map[int64]*domain.Game, len(games))
	for _, g := range games {
		want[g.ID] = w.pair(g)
		byID[g.ID] = g
	}

	add, remove := w.registry.Diff(want)
	for _, id := range remove {
		w.unwatch(ctx, id)
	}
	for id, p := range add {
		if err := w.watch(ctx, byID[id], p); err != nil {
			w.logger.Printf("watch game %d: %v", id, err)
		}
	}

	observability.SetSubscriptions(string(w.kind), 2*w.registry.Len())
	return nil
}

// watch subscribes to both addresses of g and catches up on transactions
// that landed while nobody was listening.
func (w *Watcher) watch(ctx context.Context, g *domain.Game, p Pair) error {
	if !w.registry.Add(g.ID, p) {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	var chans [2]<-chan solana.AccountNotification
	for i, side := range domain.Sides {
		ch, err := w.ws.SubscribeAccount(subCtx, p.Address(side))
		if err != nil {
			cancel()
			for j := 0; j < i; j++ {
				_ = w.ws.UnsubscribeAccount(ctx, p.Address(domain.Sides[j]), chans[j])
			}
			w.registry.Remove(g.ID)
			return fmt.Errorf("subscribe %s %s: %w", side, p.Address(side), err)
		}
		chans[i] = ch
	}

	w.mu.Lock()
	w.subs[g.ID] = &subscription{cancel: cancel, chans: chans}
	w.mu.Unlock()
	w.logger.Printf("watching game %d over=%s under=%s", g.ID, p[0], p[1])

	for i, side := range domain.Sides {
		w.wg.Add(1)
		go w.follow(subCtx, g, side, chans[i])
	}
	return nil
}

// follow processes the address of one side once on start and again on
// every account change. A channel closed while ctx is live means the
// subscription was lost; the game is dropped so the next Sync renews it.
func (w *Watcher) follow(ctx context.Context, g *domain.Game, side domain.Side, ch <-chan solana.AccountNotification) {
	defer w.wg.Done()

	if err := w.Process(ctx, g, side); err != nil && ctx.Err() == nil {
		w.logger.Printf("game %d %s: %v", g.ID, side, err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					w.logger.Printf("game %d %s: subscription lost, resubscribing on next sync", g.ID, side)
					w.unwatch(context.Background(), g.ID)
				}
				return
			}
			if err := w.Process(ctx, g, side); err != nil && ctx.Err() == nil {
				w.logger.Printf("game %d %s: %v", g.ID, side, err)
			}
		}
	}
}

func (w *Watcher) unwatch(ctx context.Context, gameID int64) {
	p, ok := w.registry.Remove(gameID)
	if !ok {
		return
	}
	w.mu.Lock()
	sub := w.subs[gameID]
	delete(w.subs, gameID)
	w.mu.Unlock()
	if sub == nil {
		return
	}
	sub.cancel()
	for i, side := range domain.Sides {
		if err := w.ws.UnsubscribeAccount(ctx, p.Address(side), sub.chans[i]); err != nil {
			w.logger.Printf("unsubscribe game %d %s: %v", gameID, side, err)
		}
	}
	w.logger.Printf("stopped watching game %d", gameID)
}

func (w *Watcher) stopAll() {
	for _, id := range w.registry.IDs() {
		w.unwatch(context.Background(), id)
	}
	w.wg.Wait()
}

// Process applies every transaction on the watched address of side newer
// than the cursor, oldest first. Engine errors are logged and skipped.
func (w *Watcher) Process(ctx context.Context, g *domain.Game, side domain.Side) error {
	address := w.pair(g).Address(side)
	cursor, err := w.cursor(ctx, g.ID, side)
	if err != nil {
		return err
	}

	sigs, err := w.ledger.TransactionsSince(ctx, address, cursor)
	if err != nil {
		return fmt.Errorf("transactions since %q: %w", cursor, err)
	}
	for _, sig := range sigs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.dispatch(ctx, g, side, sig); err != nil {
			w.report(g.ID, sig, err)
		}
	}
	return nil
}

func (w *Watcher) report(gameID int64, sig string, err error) {
	if errors.Is(err, domain.ErrTransactionSignatureAlreadyExists) {
		observability.RecordWatcherEvent(string(w.kind), observability.OutcomeSkipped)
		return
	}
	outcome := observability.OutcomeFailed
	if domain.IsClientError(err) {
		outcome = observability.OutcomeRejected
	}
	observability.RecordWatcherEvent(string(w.kind), outcome)
	w.logger.Printf("game %d: %s %s: %v", gameID, w.kind, sig, err)
}

// eligible lists the games this watcher should follow.
func (w *Watcher) eligible(ctx context.Context) ([]*domain.Game, error) {
	var (
		games []*domain.Game
		err   error
	)
	if w.kind == KindRedeem {
		games, err = w.store.Games().ListRedeemable(ctx)
	} else {
		games, err = w.store.Games().ListActive(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s games: %w", w.kind, err)
	}
	return games, nil
}

// pair returns the watched addresses of g: the pots for buys and the pot
// token accounts for sells and redemptions.
func (w *Watcher) pair(g *domain.Game) Pair {
	if w.kind == KindBuy {
		return Pair{g.OverPotAddress, g.UnderPotAddress}
	}
	return Pair{g.OverPotTokenAccount, g.UnderPotTokenAccount}
}

// cursor is the incoming signature of the latest record for (game, side).
func (w *Watcher) cursor(ctx context.Context, gameID int64, side domain.Side) (string, error) {
	var (
		sig string
		err error
	)
	switch w.kind {
	case KindBuy:
		var r *domain.BuyRecord
		if r, err = w.store.Buys().Latest(ctx, gameID, side); err == nil {
			sig = r.Signature
		}
	case KindSell:
		var r *domain.SellRecord
		if r, err = w.store.Sells().Latest(ctx, gameID, side); err == nil {
			sig = r.BurnTxSignature
		}
	case KindRedeem:
		var r *domain.ClaimRecord
		if r, err = w.store.Claims().Latest(ctx, gameID, side); err == nil {
			sig = r.BurnTxSignature
		}
	}
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load cursor: %w", err)
	}
	return sig, nil
}
