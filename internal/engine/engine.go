// Package engine owns the game state transitions: start, buy, sell, redeem
// and settle. It keeps pot balances, claim-token supply and prices in the
// record store consistent with the payouts it submits to the ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"overunder/internal/archive"
	"overunder/internal/domain"
	"overunder/internal/inflight"
	"overunder/internal/ledger"
	"overunder/internal/observability"
	"overunder/internal/oracle"
	"overunder/internal/secrets"
	"overunder/internal/storage"
)

// Operation names used for guards, retries and metrics.
const (
	OpStart  = "start"
	OpBuy    = "buy"
	OpSell   = "sell"
	OpRedeem = "redeem"
	OpSettle = "settle"
)

// PriceOracle prices the reference token of a game.
type PriceOracle interface {
	TokenPrice(ctx context.Context, mint string, decimals int) (*oracle.Price, error)
}

// Config holds the game economics and the retry policy.
type Config struct {
	// InitiateLamports is the minimum transfer to the master wallet that starts a game.
	InitiateLamports uint64
	GameDuration     time.Duration
	StartingPrice    int64
	NetworkFee       int64
	FeeBps           int64
	TaxCeiling       float64

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// LockTTL bounds how long a cross-process claim on a signature lives.
	LockTTL time.Duration
}

// DefaultConfig returns the production game parameters.
func DefaultConfig() Config {
	return Config{
		InitiateLamports: 100_000_000,
		GameDuration:     60 * time.Minute,
		StartingPrice:    1_000_000,
		NetworkFee:       5000,
		FeeBps:           100,
		TaxCeiling:       0.99,
		MaxAttempts:      5,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		LockTTL:          2 * time.Minute,
	}
}

// Options for creating an Engine.
type Options struct {
	// Required
	Store  storage.Store
	Ledger ledger.Ledger
	Oracle PriceOracle
	Vault  *secrets.Vault

	// Optional
	Events   storage.EventSink
	Archiver archive.Archiver
	Locker   inflight.Locker // shares in-flight claims with other processes

	Config Config
	Logger *log.Logger
	Now    func() time.Time
}

// Engine applies game operations. One Engine owns its in-flight guards;
// concurrent calls for the same signature collapse into one.
type Engine struct {
	store    storage.Store
	ledger   ledger.Ledger
	oracle   PriceOracle
	vault    *secrets.Vault
	events   storage.EventSink
	archiver archive.Archiver
	cfg      Config
	logger   *log.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	buys    *inflight.Guard
	sells   *inflight.Guard
	redeems *inflight.Guard
	starts  *inflight.Guard
	settles *inflight.Guard
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Ledger == nil || opts.Oracle == nil || opts.Vault == nil {
		return nil, errors.New("engine: store, ledger, oracle and vault are required")
	}

	cfg := opts.Config
	def := DefaultConfig()
	if cfg == (Config{}) {
		cfg = def
	}
	if cfg.GameDuration <= 0 {
		cfg.GameDuration = def.GameDuration
	}
	if cfg.StartingPrice <= 0 {
		cfg.StartingPrice = def.StartingPrice
	}
	if cfg.FeeBps < 0 {
		cfg.FeeBps = def.FeeBps
	}
	if cfg.TaxCeiling <= 0 || cfg.TaxCeiling > 1 {
		cfg.TaxCeiling = def.TaxCeiling
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	e := &Engine{
		store:    opts.Store,
		ledger:   opts.Ledger,
		oracle:   opts.Oracle,
		vault:    opts.Vault,
		events:   opts.Events,
		archiver: opts.Archiver,
		cfg:      cfg,
		logger:   opts.Logger,
		now:      opts.Now,
		sleep:    sleepCtx,
		buys:     inflight.NewGuard("overunder:"+OpBuy, opts.Locker, cfg.LockTTL),
		sells:    inflight.NewGuard("overunder:"+OpSell, opts.Locker, cfg.LockTTL),
		redeems:  inflight.NewGuard("overunder:"+OpRedeem, opts.Locker, cfg.LockTTL),
		starts:   inflight.NewGuard("overunder:"+OpStart, opts.Locker, cfg.LockTTL),
		settles:  inflight.NewGuard("overunder:"+OpSettle, opts.Locker, cfg.LockTTL),
	}
	if e.logger == nil {
		e.logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.archiver == nil {
		e.archiver = archive.Nop{}
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// GameDuration is how long a game accepts buys and sells.
func (e *Engine) GameDuration() time.Duration {
	return e.cfg.GameDuration
}

// internal reports whether owner is the master wallet or one of g's accounts.
func (e *Engine) internal(g *domain.Game, owner string) bool {
	return owner == e.ledger.MasterAddress() || g.Internal(owner)
}

// claim takes the in-flight guard of signature. A nil release with a nil
// error means another caller is already processing it.
func (e *Engine) claim(ctx context.Context, op string, guard *inflight.Guard, signature string) (func(), error) {
	release, ok, err := guard.TryAcquire(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("%s %s: claim: %w", op, signature, err)
	}
	if !ok {
		e.logger.Printf("%s %s already in flight, skipping", op, signature)
		return nil, nil
	}
	observability.SetInFlight(op, guard.Len())
	return func() {
		release()
		observability.SetInFlight(op, guard.Len())
	}, nil
}

// lockGame loads a game with its row locked for the enclosing transaction.
// A zero id selects the latest active game.
func lockGame(ctx context.Context, tx storage.Store, id int64) (*domain.Game, error) {
	if id == 0 {
		latest, err := tx.Games().Latest(ctx, true)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, domain.ErrNoActiveGame
			}
			return nil, fmt.Errorf("load latest game: %w", err)
		}
		id = latest.ID
	}

	g, err := tx.Games().GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.ErrNoActiveGame
		}
		return nil, fmt.Errorf("load game %d: %w", id, err)
	}
	return g, nil
}

// emit records ev in the analytics sink. Failures are logged only.
func (e *Engine) emit(ctx context.Context, ev domain.GameEvent) {
	observability.UpdatePots(ev.GameID, ev.OverPot, ev.UnderPot)
	if e.events == nil {
		return
	}
	if err := e.events.Record(ctx, ev); err != nil {
		e.logger.Printf("record %s event for game %d: %v", ev.Kind, ev.GameID, err)
	}
}

// observe records the outcome of one operation.
func (e *Engine) observe(op string, started time.Time, applied bool, err error) {
	outcome := observability.OutcomeApplied
	switch {
	case err != nil && domain.IsClientError(err):
		outcome = observability.OutcomeRejected
	case err != nil:
		outcome = observability.OutcomeFailed
	case !applied:
		outcome = observability.OutcomeSkipped
	}
	observability.RecordOperation(op, outcome, time.Since(started).Seconds())
}

// duplicate maps a unique-index violation on a governing signature.
func duplicate(err error, signature string) error {
	if errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("%w: %s", domain.ErrTransactionSignatureAlreadyExists, signature)
	}
	return err
}
